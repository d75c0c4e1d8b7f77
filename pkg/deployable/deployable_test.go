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

package deployable

import (
	"errors"
	"testing"

	"github.com/shiphq/ship/pkg/model"
)

func testProject() *model.Project {
	return &model.Project{
		Name: "demo",
		Apps: map[string]*model.App{
			"web": {
				Entity: model.Entity{
					Name:   "web",
					Port:   8080,
					Domain: "web.example.com",
					Env:    map[string]string{"FOO": "bar"},
					Volumes: []model.Mount{
						{Name: "webdata", Target: "/data"},
						{Source: "/host/logs", Target: "/var/log", ReadOnly: true},
					},
					Proxy: []model.ProxyRoute{
						{Domain: "web-admin.example.com", Port: 9090, PathPrefix: "/admin"},
					},
				},
			},
		},
		Services: map[string]*model.Service{
			"db": {
				Entity: model.Entity{Name: "db", Port: 5432},
				Image:  "postgres:16",
			},
		},
	}
}

func TestBuild_UsesBuildableTagWhenPresent(t *testing.T) {
	p := testProject()
	buildables := map[string]model.Buildable{"web": {ShortName: "web", Tag: "demo-web-image:42"}}
	out, err := Build(p, buildables, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if out["web"].Image != "demo-web-image:42" {
		t.Errorf("Image = %q, want the freshly built tag", out["web"].Image)
	}
}

func TestBuild_FallsBackToNewestExistingImage(t *testing.T) {
	p := testProject()
	images := []string{
		"demo-web-image:100-0001",
		"demo-web-image:200-0003",
		"demo-web-image:150-0002",
		"demo-other-image:999-0001",
	}
	out, err := Build(p, nil, images)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if out["web"].Image != "demo-web-image:200-0003" {
		t.Errorf("Image = %q, want the tag with the highest leading numeric component", out["web"].Image)
	}
}

func TestBuild_MissingImageErrors(t *testing.T) {
	p := testProject()
	_, err := Build(p, nil, nil)
	var mie *MissingImageError
	if !errors.As(err, &mie) {
		t.Fatalf("err = %v, want *MissingImageError", err)
	}
	if mie.Name != "web" {
		t.Errorf("Name = %q, want web", mie.Name)
	}
}

func TestBuild_ServiceUsesItsFixedImage(t *testing.T) {
	p := testProject()
	buildables := map[string]model.Buildable{"web": {ShortName: "web", Tag: "demo-web-image:1"}}
	out, err := Build(p, buildables, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if out["db"].Image != "postgres:16" {
		t.Errorf("Image = %q, want postgres:16", out["db"].Image)
	}
	if out["db"].ServiceName != "demo-db-service" {
		t.Errorf("ServiceName = %q", out["db"].ServiceName)
	}
}

func TestBuild_DefaultsAppliedWhenUnset(t *testing.T) {
	p := testProject()
	buildables := map[string]model.Buildable{"web": {ShortName: "web", Tag: "demo-web-image:1"}}
	out, _ := Build(p, buildables, nil)
	web := out["web"]
	if web.Replicas != 2 {
		t.Errorf("Replicas = %d, want default 2", web.Replicas)
	}
	if web.CPU != 1.0 {
		t.Errorf("CPU = %v, want default 1.0", web.CPU)
	}
	if web.MemoryMiB != 1024 {
		t.Errorf("MemoryMiB = %d, want default 1024", web.MemoryMiB)
	}
	if web.Restart != "always" {
		t.Errorf("Restart = %q, want always", web.Restart)
	}
}

func TestBuild_PortIsAddedToExposedPortsOnce(t *testing.T) {
	p := testProject()
	p.Apps["web"].ExposedPorts = []int{8080, 9000}
	buildables := map[string]model.Buildable{"web": {ShortName: "web", Tag: "demo-web-image:1"}}
	out, _ := Build(p, buildables, nil)
	ports := out["web"].Ports
	count := 0
	for _, pt := range ports {
		if pt == 8080 {
			count++
		}
	}
	if count != 1 {
		t.Errorf("port 8080 appears %d times, want 1", count)
	}
	if len(ports) != 2 {
		t.Errorf("got %d ports, want 2 (8080, 9000)", len(ports))
	}
}

func TestBuild_MountKinds(t *testing.T) {
	p := testProject()
	buildables := map[string]model.Buildable{"web": {ShortName: "web", Tag: "demo-web-image:1"}}
	out, _ := Build(p, buildables, nil)
	mounts := out["web"].Mounts
	if len(mounts) != 2 {
		t.Fatalf("got %d mounts, want 2", len(mounts))
	}
	if mounts[0].Kind != model.MountVolume || mounts[0].Source != "webdata" {
		t.Errorf("mounts[0] = %+v, want a named volume", mounts[0])
	}
	if mounts[1].Kind != model.MountBind || mounts[1].Source != "/host/logs" || !mounts[1].ReadOnly {
		t.Errorf("mounts[1] = %+v, want a read-only bind mount", mounts[1])
	}
}

func TestBuild_ProxyRulesAndLabels(t *testing.T) {
	p := testProject()
	buildables := map[string]model.Buildable{"web": {ShortName: "web", Tag: "demo-web-image:1"}}
	out, _ := Build(p, buildables, nil)
	web := out["web"]
	if len(web.Proxies) != 2 {
		t.Fatalf("got %d proxy rules, want 2 (primary + explicit)", len(web.Proxies))
	}
	if web.Proxies[0].Domain != "web.example.com" || web.Proxies[0].PathPrefix != "/" {
		t.Errorf("primary rule = %+v", web.Proxies[0])
	}
	if web.Proxies[1].Domain != "web-admin.example.com" || web.Proxies[1].PathPrefix != "/admin" {
		t.Errorf("secondary rule = %+v", web.Proxies[1])
	}
	if web.Labels["traefik.enable"] != "true" {
		t.Error("expected traefik.enable label")
	}
	routerName := "demo-web-service-1"
	if web.Labels["traefik.http.routers."+routerName+".rule"] != "Host(`web.example.com`)" {
		t.Errorf("router rule label = %q", web.Labels["traefik.http.routers."+routerName+".rule"])
	}
	if web.Labels["traefik.http.routers."+routerName+".tls"] != "true" {
		t.Error("expected tls label since https defaults to enabled")
	}
}

func TestBuild_UserLabelsOverrideGenerated(t *testing.T) {
	p := testProject()
	p.Apps["web"].Labels = map[string]string{"traefik.enable": "false", "custom.label": "yes"}
	buildables := map[string]model.Buildable{"web": {ShortName: "web", Tag: "demo-web-image:1"}}
	out, _ := Build(p, buildables, nil)
	web := out["web"]
	if web.Labels["traefik.enable"] != "false" {
		t.Errorf("traefik.enable = %q, want user override to win", web.Labels["traefik.enable"])
	}
	if web.Labels["custom.label"] != "yes" {
		t.Error("expected custom.label to survive the merge")
	}
}

func TestSortedNames(t *testing.T) {
	m := map[string]model.Deployable{
		"worker": {},
		"api":    {},
		"db":     {},
	}
	names := SortedNames(m)
	want := []string{"api", "db", "worker"}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}
