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

// Package connect builds the Connectable graph: per-entity
// metadata describing how other entities can reach it.
package connect

import (
	"fmt"
	"sort"

	"github.com/shiphq/ship/pkg/model"
)

// Build derives one Connectable per App and Service in p, keyed by short
// name.
func Build(p *model.Project) map[string]model.Connectable {
	out := make(map[string]model.Connectable, len(p.Apps)+len(p.Services))
	for name, a := range p.Apps {
		out[name] = build(p.Name, name, a.Entity)
	}
	for name, s := range p.Services {
		out[name] = build(p.Name, name, s.Entity)
	}
	return out
}

func build(project, name string, e model.Entity) model.Connectable {
	serviceName := model.ServiceName(project, name)
	c := model.Connectable{
		ShortName: name,
		Project:   project,
		Host:      serviceName,
		Port:      e.Port,
	}
	if e.Port != 0 {
		c.InternalLink = fmt.Sprintf("%s:%d", serviceName, e.Port)
	}
	if e.Port != 0 && e.Domain != "" {
		scheme := "http"
		if e.HTTPSEnabled() {
			scheme = "https"
		}
		c.ExternalLink = fmt.Sprintf("%s://%s", scheme, e.Domain)
	}
	return c
}

// Names returns the connectable names in sorted order, useful for
// deterministic iteration in the planner and in tests.
func Names(cs map[string]model.Connectable) []string {
	names := make([]string, 0, len(cs))
	for n := range cs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
