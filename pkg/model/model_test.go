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

package model

import "testing"

func TestServiceName(t *testing.T) {
	got := ServiceName("demo", "web")
	if got != "demo-web-service" {
		t.Errorf("got %q, want demo-web-service", got)
	}
}

func TestEntity_HTTPSEnabled_DefaultsTrue(t *testing.T) {
	e := Entity{}
	if !e.HTTPSEnabled() {
		t.Error("expected https to default to enabled when unset")
	}
}

func TestEntity_HTTPSEnabled_RespectsExplicitFalse(t *testing.T) {
	f := false
	e := Entity{HTTPS: &f}
	if e.HTTPSEnabled() {
		t.Error("expected https disabled when explicitly set false")
	}
}

func TestEntity_HTTPSEnabled_RespectsExplicitTrue(t *testing.T) {
	tr := true
	e := Entity{HTTPS: &tr}
	if !e.HTTPSEnabled() {
		t.Error("expected https enabled when explicitly set true")
	}
}

func TestDeploy_Name(t *testing.T) {
	d := Deploy{Deployable: Deployable{ShortName: "web"}}
	if d.Name() != "web" {
		t.Errorf("Name() = %q, want web", d.Name())
	}
}
