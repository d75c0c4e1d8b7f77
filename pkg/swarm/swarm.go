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

// Package swarm abstracts the container runtime the executor drives:
// service create/update/delete/list, image list/load/export/build, and
// task status, over a real Docker Engine in swarm mode.
package swarm

import (
	"context"
	"io"

	"github.com/shiphq/ship/pkg/model"
)

// TaskStatus is one task's convergence state, as reported by the runtime.
type TaskStatus struct {
	State        string
	DesiredState string
}

// ServiceSpec is the runtime-facing service specification the executor
// builds from a Deployable.
type ServiceSpec struct {
	Name        string
	Image       string
	Network     string
	Ports       []int // published container ports (ingress mode)
	Env         []string
	Labels      map[string]string
	Mounts      []model.MountSpec
	Command     []string
	Args        []string
	CPUNanos    int64
	MemoryBytes int64
	Replicas    uint64
	Restart     string // restart-policy condition
	Placement   []string
	Healthcheck *model.Healthcheck
}

// Adapter is the swarm adapter interface. The executor and the
// server depend on this, never on a concrete client, so tests can
// substitute a fake; the CLI's build driver wraps *DockerAdapter directly.
type Adapter interface {
	ListServices(ctx context.Context) ([]string, error)
	ListImages(ctx context.Context) ([]string, error)
	CreateService(ctx context.Context, spec ServiceSpec) error
	UpdateService(ctx context.Context, spec ServiceSpec) error
	DeleteService(ctx context.Context, name string) error
	LoadImage(ctx context.Context, r io.Reader) error
	ExportImage(ctx context.Context, name string) (io.ReadCloser, error)
	BuildImage(ctx context.Context, b model.Buildable, logLine func(string)) error
	ListTasks(ctx context.Context, serviceName string) ([]TaskStatus, error)
}
