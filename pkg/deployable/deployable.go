// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package deployable builds declarative service specifications from
// resolved configuration, the buildables about to be produced, and the
// current image inventory.
package deployable

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shiphq/ship/pkg/model"
)

// MissingImageError is returned when no image tag can be resolved for an
// App that was neither built in this plan nor found in the inventory.
type MissingImageError struct{ Name string }

func (e *MissingImageError) Error() string {
	return fmt.Sprintf("no image for %s", e.Name)
}

// Build derives one Deployable per App and Service in p.
//
// buildables: the Buildable set chosen for this plan (keyed by short name).
// images: tags currently present in the image inventory.
func Build(p *model.Project, buildables map[string]model.Buildable, images []string) (map[string]model.Deployable, error) {
	out := make(map[string]model.Deployable, len(p.Apps)+len(p.Services))

	for name, a := range p.Apps {
		image, err := resolveImage(p.Name, name, buildables, images)
		if err != nil {
			return nil, err
		}
		out[name] = build(p.Name, name, a.Entity, image)
	}
	for name, s := range p.Services {
		out[name] = build(p.Name, name, s.Entity, s.Image)
	}
	return out, nil
}

func resolveImage(project, name string, buildables map[string]model.Buildable, images []string) (string, error) {
	if b, ok := buildables[name]; ok {
		return b.Tag, nil
	}
	prefix := fmt.Sprintf("%s-%s-image:", project, name)
	best := ""
	var bestKey string
	for _, tag := range images {
		if !strings.HasPrefix(tag, prefix) {
			continue
		}
		key := strings.TrimPrefix(tag, prefix)
		if best == "" || tagKeyLess(bestKey, key) {
			best, bestKey = tag, key
		}
	}
	if best == "" {
		return "", &MissingImageError{Name: name}
	}
	return best, nil
}

// tagKeyLess orders two tag suffixes by their leading numeric component,
// falling back to lexicographic comparison when the numbers are equal or
// either suffix has no leading number.
func tagKeyLess(a, b string) bool {
	an, aok := leadingNumber(a)
	bn, bok := leadingNumber(b)
	if aok && bok && an != bn {
		return an < bn
	}
	return a < b
}

func leadingNumber(s string) (int64, bool) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	return n, err == nil
}

func build(project, name string, e model.Entity, image string) model.Deployable {
	serviceName := model.ServiceName(project, name)

	replicas := e.Replicas
	if replicas == 0 {
		replicas = 2
	}
	cpu := e.CPU
	if cpu == 0 {
		cpu = 1.0
	}
	mem := e.MemoryMiB
	if mem == 0 {
		mem = 1024
	}
	restart := e.Restart
	if restart == "" {
		restart = "always"
	}

	d := model.Deployable{
		ShortName:   name,
		ProjectName: project,
		ServiceName: serviceName,
		Image:       image,
		Env:         e.Env,
		Mounts:      buildMounts(e.Volumes),
		Ports:       append([]int(nil), e.ExposedPorts...),
		Replicas:    replicas,
		CPU:         cpu,
		MemoryMiB:   mem,
		Restart:     restart,
		Healthcheck: e.Healthcheck,
		Command:     e.Command,
		Args:        e.Args,
		Placement:   e.Placement,
	}
	if e.Port != 0 {
		d.Ports = appendUnique(d.Ports, e.Port)
	}

	d.Proxies = buildProxyRules(e)
	d.Labels = buildLabels(serviceName, d.Proxies, e.Labels)
	return d
}

func appendUnique(ports []int, p int) []int {
	for _, existing := range ports {
		if existing == p {
			return ports
		}
	}
	return append(ports, p)
}

func buildMounts(volumes []model.Mount) []model.MountSpec {
	out := make([]model.MountSpec, 0, len(volumes))
	for _, v := range volumes {
		kind := v.Kind
		source := v.Name
		if kind == model.MountBind || (kind == "" && v.Source != "") {
			kind = model.MountBind
			source = v.Source
		} else if kind == "" {
			kind = model.MountVolume
		}
		out = append(out, model.MountSpec{
			Kind:     kind,
			Source:   source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}
	return out
}

// buildProxyRules is the union of the primary (domain, port, path_prefix)
// triple, when both domain and port are set, and any additional `proxy`
// entries, in that order (primary rule gets index 1).
func buildProxyRules(e model.Entity) []model.ProxyLabelRule {
	var rules []model.ProxyLabelRule
	https := e.HTTPSEnabled()
	if e.Domain != "" && e.Port != 0 {
		prefix := e.PathPrefix
		if prefix == "" {
			prefix = "/"
		}
		rules = append(rules, model.ProxyLabelRule{Domain: e.Domain, Port: e.Port, PathPrefix: prefix, HTTPS: https})
	}
	for _, p := range e.Proxy {
		prefix := p.PathPrefix
		if prefix == "" {
			prefix = "/"
		}
		rules = append(rules, model.ProxyLabelRule{Domain: p.Domain, Port: p.Port, PathPrefix: prefix, HTTPS: https})
	}
	for i := range rules {
		rules[i].Index = i + 1
	}
	return rules
}

// buildLabels emits Traefik routing labels for each proxy rule, then
// merges user-supplied labels last so they override generated ones.
func buildLabels(host string, rules []model.ProxyLabelRule, userLabels map[string]string) map[string]string {
	labels := map[string]string{}
	if len(rules) > 0 {
		labels["traefik.enable"] = "true"
	}
	for _, r := range rules {
		routerName := fmt.Sprintf("%s-%d", host, r.Index)
		rule := fmt.Sprintf("Host(`%s`)", r.Domain)
		if r.PathPrefix != "/" {
			rule += fmt.Sprintf(" && PathPrefix(`%s`)", r.PathPrefix)
		}
		labels[fmt.Sprintf("traefik.http.routers.%s.rule", routerName)] = rule
		labels[fmt.Sprintf("traefik.http.routers.%s.service", routerName)] = routerName
		labels[fmt.Sprintf("traefik.http.services.%s.loadbalancer.server.port", routerName)] = strconv.Itoa(r.Port)
		if r.HTTPS {
			labels[fmt.Sprintf("traefik.http.routers.%s.tls", routerName)] = "true"
			labels[fmt.Sprintf("traefik.http.routers.%s.tls.certresolver", routerName)] = "myresolver"
			labels[fmt.Sprintf("traefik.http.routers.%s.entrypoints", routerName)] = "websecure"
		} else {
			labels[fmt.Sprintf("traefik.http.routers.%s.entrypoints", routerName)] = "web"
		}
	}
	for k, v := range userLabels {
		labels[k] = v
	}
	return labels
}

// SortedNames returns deployable short names in sorted order, for
// deterministic plan construction.
func SortedNames(m map[string]model.Deployable) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
