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

// Package model holds the data types shared across every planning and
// reconciliation component: the user-authored Project and its Apps and
// Services, Secrets, persisted Deploy generations, and the entities derived
// from them during planning (Connectable, Buildable, Deployable, Deploy).
package model

import "fmt"

// BuildDriver names the build mechanism for an App.
type BuildDriver string

const (
	BuildDockerfile BuildDriver = "dockerfile"
	BuildNix        BuildDriver = "nix"
)

// BuildMode controls whether the buildable planner skips builds when an
// image already exists.
type BuildMode string

const (
	BuildAuto   BuildMode = "auto"
	BuildManual BuildMode = "manual"
)

// MountKind is a closed variant set: a named volume or a host bind.
type MountKind string

const (
	MountVolume MountKind = "volume"
	MountBind   MountKind = "bind"
)

// Mount describes one filesystem attachment for an App or Service.
type Mount struct {
	Kind   MountKind `yaml:"-"`
	Name   string    `yaml:"name,omitempty"`   // volume name, when Kind == MountVolume
	Source string    `yaml:"source,omitempty"` // host path, when Kind == MountBind
	Target string    `yaml:"target"`
	ReadOnly bool     `yaml:"read_only,omitempty"`
}

// Healthcheck mirrors the swarm container healthcheck shape.
type Healthcheck struct {
	Command     []string `yaml:"command,omitempty"`
	IntervalSec int      `yaml:"interval_sec,omitempty"`
	TimeoutSec  int      `yaml:"timeout_sec,omitempty"`
	Retries     int      `yaml:"retries,omitempty"`
	StartPeriod int      `yaml:"start_period_sec,omitempty"`
}

// ProxyRoute is one additional reverse-proxy rule beyond the primary
// domain/port/path_prefix triple.
type ProxyRoute struct {
	Domain     string `yaml:"domain"`
	Port       int    `yaml:"port"`
	PathPrefix string `yaml:"path_prefix,omitempty"`
}

// Entity is the shape shared by App and Service: everything needed to
// derive a Connectable and (with an image) a Deployable.
type Entity struct {
	Name             string
	Port             int               `yaml:"port,omitempty"`
	Domain           string            `yaml:"domain,omitempty"`
	PathPrefix       string            `yaml:"path_prefix,omitempty"`
	Proxy            []ProxyRoute      `yaml:"proxy,omitempty"`
	Env              map[string]string `yaml:"envs,omitempty"`
	Labels           map[string]string `yaml:"labels,omitempty"`
	Volumes          []Mount           `yaml:"volumes,omitempty"`
	Replicas         int               `yaml:"replicas,omitempty"`
	CPU              float64           `yaml:"cpu,omitempty"`
	MemoryMiB        int               `yaml:"memory,omitempty"`
	Restart          string            `yaml:"restart,omitempty"`
	Healthcheck      *Healthcheck      `yaml:"healthcheck,omitempty"`
	HTTPS            *bool             `yaml:"https,omitempty"`
	ExposedPorts     []int             `yaml:"expose,omitempty"`
	Command          []string          `yaml:"command,omitempty"`
	Args             []string          `yaml:"args,omitempty"`
	Placement        []string          `yaml:"placement,omitempty"`
}

// App is a buildable unit.
type App struct {
	Entity    `yaml:",inline"`
	Context   string    `yaml:"context,omitempty"`
	Build     BuildMode `yaml:"build,omitempty"`
	Driver    BuildDriver `yaml:"driver,omitempty"`
	Dockerfile string    `yaml:"dockerfile,omitempty"`
	NixCmds   []string  `yaml:"nix_cmds,omitempty"`
	BuildArgs map[string]string `yaml:"build_args,omitempty"`
}

// Service wraps Entity with a fixed third-party image instead of a build
// configuration.
type Service struct {
	Entity `yaml:",inline"`
	Image  string `yaml:"image"`
}

// Project is the top-level, user-authored configuration: a named
// collection of Apps and Services.
type Project struct {
	Name     string             `yaml:"project"`
	Apps     map[string]*App    `yaml:"apps,omitempty"`
	Services map[string]*Service `yaml:"services,omitempty"`
}

// HTTPSEnabled reports the effective https toggle for an entity, defaulting true.
func (e Entity) HTTPSEnabled() bool {
	if e.HTTPS == nil {
		return true
	}
	return *e.HTTPS
}

// Secret is a (key, value) pair scoped to a project's store.
type Secret struct {
	Key       string
	Value     string
	CreatedAt int64
}

// Connectable is connection metadata derived for one App or Service.
type Connectable struct {
	ShortName    string
	Project      string
	InternalLink string // "service-name:port", when Port is set
	ExternalLink string // "scheme://domain", when Port and Domain are set
	Host         string // service name
	Port         int
}

// Buildable is a pending image-build task, ephemeral within one plan.
type Buildable struct {
	ShortName  string
	Project    string
	Driver     BuildDriver
	Dockerfile string
	NixCmds    []string
	Context    string
	Tag        string
	Platform   string
	BuildArgs  map[string]string
}

// MountSpec is a resolved, deployable-ready mount (volume or bind).
type MountSpec struct {
	Kind     MountKind
	Source   string // volume name or host path
	Target   string
	ReadOnly bool
}

// ProxyLabelRule is one fully-resolved Traefik routing rule, the unit the
// deployable builder turns into `traefik.*` labels.
type ProxyLabelRule struct {
	Index      int
	Domain     string
	Port       int
	PathPrefix string
	HTTPS      bool
}

// Deployable is a declarative service specification ready to hand to the
// swarm adapter.
type Deployable struct {
	ShortName   string
	ProjectName string
	ServiceName string // "{project}-{name}-service"
	Image       string
	Env         map[string]string
	Labels      map[string]string
	Mounts      []MountSpec
	Ports       []int // published container ports (ingress mode)
	Proxies     []ProxyLabelRule
	Replicas    int
	CPU         float64
	MemoryMiB   int
	Restart     string
	Healthcheck *Healthcheck
	Command     []string
	Args        []string
	Placement   []string
}

// Action is the closed set of verbs a Deploy can carry.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionNothing Action = "nothing"
)

// Lifecycle describes how a Deploy's Deployable should be kept running.
// Always is the sole value defined today but is kept as a named type so
// additional lifecycles (e.g. one-shot jobs) have a home.
type Lifecycle string

const (
	LifecycleAlways Lifecycle = "always"
)

// ClientTaskKind is a closed variant set for pre-apply client-side work.
type ClientTaskKind string

const ClientTaskBuild ClientTaskKind = "build"

// ClientTask is work the CLI performs before the plan is applied.
type ClientTask struct {
	Kind      ClientTaskKind
	Buildable *Buildable
}

// AfterTaskKind is a closed variant set for post-apply gating work.
type AfterTaskKind string

const AfterTaskHealthCheck AfterTaskKind = "health_check"

// AfterTask is work the executor performs after applying one Deploy.
type AfterTask struct {
	Kind        AfterTaskKind
	ServiceName string
	WaitSec     int
}

// Deploy is the planner's unit of work: one Deployable plus lifecycle,
// client-side tasks, post-action tasks, and an action verb.
type Deploy struct {
	Deployable  Deployable
	Connectable Connectable
	Lifecycle   Lifecycle
	ClientTasks []ClientTask
	AfterTasks  []AfterTask
	Action      Action
}

// Name is the short entity name this deploy targets.
func (d Deploy) Name() string { return d.Deployable.ShortName }

// ServiceName formats the swarm service name every Deployable resolves to,
// the name the runtime namespaces lookups by.
func ServiceName(project, shortName string) string {
	return fmt.Sprintf("%s-%s-service", project, shortName)
}

// Generation is one persisted, immutable deploy plan for a project.
type Generation struct {
	Project   string
	Deploys   []Deploy
	CreatedAt int64
}
