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

package connect

import (
	"testing"

	"github.com/shiphq/ship/pkg/model"
)

func testProject() *model.Project {
	falsy := false
	return &model.Project{
		Name: "demo",
		Apps: map[string]*model.App{
			"web": {
				Entity: model.Entity{
					Name:   "web",
					Port:   8080,
					Domain: "web.example.com",
				},
			},
			"worker": {
				Entity: model.Entity{Name: "worker"},
			},
			"plain": {
				Entity: model.Entity{Name: "plain", Port: 9000, Domain: "plain.example.com", HTTPS: &falsy},
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

func TestBuild_InternalAndExternalLinks(t *testing.T) {
	cs := Build(testProject())

	web, ok := cs["web"]
	if !ok {
		t.Fatal("missing web connectable")
	}
	if web.Host != "demo-web-service" {
		t.Errorf("Host = %q, want demo-web-service", web.Host)
	}
	if web.InternalLink != "demo-web-service:8080" {
		t.Errorf("InternalLink = %q", web.InternalLink)
	}
	if web.ExternalLink != "https://web.example.com" {
		t.Errorf("ExternalLink = %q, want https scheme by default", web.ExternalLink)
	}
}

func TestBuild_NoPortMeansNoLinks(t *testing.T) {
	cs := Build(testProject())

	worker := cs["worker"]
	if worker.InternalLink != "" {
		t.Errorf("InternalLink = %q, want empty for portless entity", worker.InternalLink)
	}
	if worker.ExternalLink != "" {
		t.Errorf("ExternalLink = %q, want empty for portless entity", worker.ExternalLink)
	}
}

func TestBuild_PortWithoutDomainHasNoExternalLink(t *testing.T) {
	cs := Build(testProject())

	db := cs["db"]
	if db.InternalLink != "demo-db-service:5432" {
		t.Errorf("InternalLink = %q", db.InternalLink)
	}
	if db.ExternalLink != "" {
		t.Errorf("ExternalLink = %q, want empty without a domain", db.ExternalLink)
	}
}

func TestBuild_HTTPSDisabledUsesHTTPScheme(t *testing.T) {
	cs := Build(testProject())

	plain := cs["plain"]
	if plain.ExternalLink != "http://plain.example.com" {
		t.Errorf("ExternalLink = %q, want http scheme when https disabled", plain.ExternalLink)
	}
}

func TestNames_SortedAndComplete(t *testing.T) {
	cs := Build(testProject())
	names := Names(cs)
	want := []string{"db", "plain", "web", "worker"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("names[%d] = %q, want %q", i, names[i], n)
		}
	}
}
