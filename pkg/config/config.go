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

// Package config parses a project YAML document into a validated
// model.Project: strict field checking, every default
// value filled in, ready to hand to the template resolver.
package config

import (
	"fmt"
	"io"

	"github.com/shiphq/ship/pkg/model"
	"gopkg.in/yaml.v3"
)

// ParseError wraps a malformed-YAML or unknown-field failure, surfaced
// verbatim to the caller.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse config: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// Parse reads a project YAML document, rejecting any field not named in
// model.Project/App/Service, and returns the fully-defaulted value.
func Parse(r io.Reader) (*model.Project, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p model.Project
	if err := dec.Decode(&p); err != nil {
		if err == io.EOF {
			return &model.Project{}, nil
		}
		return nil, &ParseError{Err: err}
	}
	applyDefaults(&p)
	return &p, nil
}

// applyDefaults fills in every entity default: build mode, path prefix,
// replicas, cpu, memory, restart policy and https.
func applyDefaults(p *model.Project) {
	for name, app := range p.Apps {
		app.Name = name
		if app.Build == "" {
			app.Build = model.BuildAuto
		}
		applyEntityDefaults(&app.Entity, 2)
	}
	for name, svc := range p.Services {
		svc.Name = name
		applyEntityDefaults(&svc.Entity, 1)
	}
}

func applyEntityDefaults(e *model.Entity, defaultReplicas int) {
	if e.PathPrefix == "" {
		e.PathPrefix = "/"
	}
	if e.Replicas == 0 {
		e.Replicas = defaultReplicas
	}
	if e.CPU == 0 {
		e.CPU = 1.0
	}
	if e.MemoryMiB == 0 {
		e.MemoryMiB = 1024
	}
	if e.Restart == "" {
		e.Restart = "always"
	}
	// HTTPS defaults to true via model.Entity.HTTPSEnabled when HTTPS is
	// nil; nothing to fill in here.
}
