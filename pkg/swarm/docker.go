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

package swarm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/client"
	"github.com/shiphq/ship/pkg/model"
	"github.com/shiphq/ship/pkg/targz"
)

// DockerAdapter implements Adapter over a live Docker Engine running in
// swarm mode, via the official client: create/update/delete/list calls go
// straight through github.com/docker/docker/client's swarm service API.
type DockerAdapter struct {
	cli     *client.Client
	network string
}

// NewDockerAdapter wraps an already-configured client. network is the
// overlay network every created service attaches to.
func NewDockerAdapter(cli *client.Client, network string) *DockerAdapter {
	return &DockerAdapter{cli: cli, network: network}
}

func (a *DockerAdapter) ListServices(ctx context.Context) ([]string, error) {
	services, err := a.cli.ServiceList(ctx, types.ServiceListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	names := make([]string, 0, len(services))
	for _, s := range services {
		names = append(names, s.Spec.Name)
	}
	return names, nil
}

func (a *DockerAdapter) ListImages(ctx context.Context) ([]string, error) {
	images, err := a.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	var tags []string
	for _, img := range images {
		tags = append(tags, img.RepoTags...)
	}
	return tags, nil
}

func (a *DockerAdapter) CreateService(ctx context.Context, spec ServiceSpec) error {
	_, err := a.cli.ServiceCreate(ctx, toSwarmSpec(spec, a.network), types.ServiceCreateOptions{})
	if err != nil {
		return fmt.Errorf("create service %s: %w", spec.Name, err)
	}
	return nil
}

func (a *DockerAdapter) UpdateService(ctx context.Context, spec ServiceSpec) error {
	current, _, err := a.cli.ServiceInspectWithRaw(ctx, spec.Name, types.ServiceInspectOptions{})
	if err != nil {
		return fmt.Errorf("inspect service %s: %w", spec.Name, err)
	}
	_, err = a.cli.ServiceUpdate(ctx, current.ID, current.Version, toSwarmSpec(spec, a.network), types.ServiceUpdateOptions{})
	if err != nil {
		return fmt.Errorf("update service %s: %w", spec.Name, err)
	}
	return nil
}

func (a *DockerAdapter) DeleteService(ctx context.Context, name string) error {
	if err := a.cli.ServiceRemove(ctx, name); err != nil {
		return fmt.Errorf("delete service %s: %w", name, err)
	}
	return nil
}

func (a *DockerAdapter) LoadImage(ctx context.Context, r io.Reader) error {
	resp, err := a.cli.ImageLoad(ctx, r, true)
	if err != nil {
		return fmt.Errorf("load image: %w", err)
	}
	defer resp.Body.Close()
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

func (a *DockerAdapter) ExportImage(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := a.cli.ImageSave(ctx, []string{name})
	if err != nil {
		return nil, fmt.Errorf("export image %s: %w", name, err)
	}
	return rc, nil
}

// BuildImage tars b.Context (adapting pkg/targz's reader into a matching
// writer side) and streams it to the daemon's build endpoint, forwarding
// each JSON build-log line to logLine as it arrives. b.Driver is not
// consulted: every build uses a Dockerfile (b.Dockerfile, default
// "Dockerfile"), including buildables with the nix driver.
func (a *DockerAdapter) BuildImage(ctx context.Context, b model.Buildable, logLine func(string)) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(targz.WriteDir(pw, b.Context))
	}()

	dockerfile := b.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	opts := types.ImageBuildOptions{
		Tags:       []string{b.Tag},
		Dockerfile: dockerfile,
		BuildArgs:  toBuildArgPtrs(b.BuildArgs),
		Platform:   b.Platform,
	}
	if auth, err := registryAuth(b.Tag); err == nil && auth != "" {
		opts.AuthConfigs = map[string]registry.AuthConfig{b.Tag: {Auth: auth}}
	}
	resp, err := a.cli.ImageBuild(ctx, pr, opts)
	if err != nil {
		return fmt.Errorf("build image %s: %w", b.Tag, err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var buildErr error
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		var msg struct {
			Stream      string `json:"stream"`
			ErrorDetail struct {
				Message string `json:"message"`
			} `json:"errorDetail"`
		}
		line := scanner.Bytes()
		if err := json.Unmarshal(line, &msg); err != nil {
			logLine(string(line))
			continue
		}
		if msg.Stream != "" {
			logLine(msg.Stream)
		}
		if msg.ErrorDetail.Message != "" {
			buildErr = fmt.Errorf("build image %s: %s", b.Tag, msg.ErrorDetail.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read build output for %s: %w", b.Tag, err)
	}
	return buildErr
}

func (a *DockerAdapter) ListTasks(ctx context.Context, serviceName string) ([]TaskStatus, error) {
	tasks, err := a.cli.TaskList(ctx, types.TaskListOptions{
		Filters: filters.NewArgs(filters.Arg("service", serviceName)),
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks for %s: %w", serviceName, err)
	}
	out := make([]TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, TaskStatus{
			State:        string(t.Status.State),
			DesiredState: string(t.DesiredState),
		})
	}
	return out, nil
}

// toSwarmSpec translates a runtime-agnostic ServiceSpec into the
// swarm.ServiceSpec shape, including the rolling-update policy
// (parallelism=1, start-first, continue on failure, 5s delay) fixed for
// every service this adapter manages.
func toSwarmSpec(spec ServiceSpec, network string) swarm.ServiceSpec {
	replicas := spec.Replicas
	var ports []swarm.PortConfig
	for _, p := range spec.Ports {
		ports = append(ports, swarm.PortConfig{
			Protocol:      swarm.PortConfigProtocolTCP,
			TargetPort:    uint32(p),
			PublishedPort: uint32(p),
			PublishMode:   swarm.PortConfigPublishModeIngress,
		})
	}

	var mounts []mount.Mount
	for _, m := range spec.Mounts {
		kind := mount.TypeVolume
		if m.Kind == model.MountBind {
			kind = mount.TypeBind
		}
		mounts = append(mounts, mount.Mount{
			Type:     kind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	restartCondition := swarm.RestartPolicyConditionAny
	switch spec.Restart {
	case "on-failure":
		restartCondition = swarm.RestartPolicyConditionOnFailure
	case "none":
		restartCondition = swarm.RestartPolicyConditionNone
	}

	var healthcheck *container.HealthConfig
	if h := spec.Healthcheck; h != nil {
		healthcheck = &container.HealthConfig{
			Test:        append([]string{"CMD"}, h.Command...),
			Interval:    time.Duration(h.IntervalSec) * time.Second,
			Timeout:     time.Duration(h.TimeoutSec) * time.Second,
			Retries:     h.Retries,
			StartPeriod: time.Duration(h.StartPeriod) * time.Second,
		}
	}

	var resources *swarm.ResourceRequirements
	if spec.CPUNanos > 0 || spec.MemoryBytes > 0 {
		resources = &swarm.ResourceRequirements{
			Limits: &swarm.Limit{
				NanoCPUs:    spec.CPUNanos,
				MemoryBytes: spec.MemoryBytes,
			},
		}
	}

	const updateDelay = 5 * time.Second
	return swarm.ServiceSpec{
		Annotations: swarm.Annotations{
			Name:   spec.Name,
			Labels: spec.Labels,
		},
		TaskTemplate: swarm.TaskSpec{
			ContainerSpec: &swarm.ContainerSpec{
				Image:       spec.Image,
				Env:         spec.Env,
				Labels:      spec.Labels,
				Command:     spec.Command,
				Args:        spec.Args,
				Mounts:      mounts,
				Healthcheck: healthcheck,
			},
			Resources: resources,
			RestartPolicy: &swarm.RestartPolicy{
				Condition: restartCondition,
			},
			Placement: &swarm.Placement{
				Constraints: spec.Placement,
			},
			Networks: []swarm.NetworkAttachmentConfig{{Target: network}},
		},
		Mode: swarm.ServiceMode{
			Replicated: &swarm.ReplicatedService{Replicas: &replicas},
		},
		EndpointSpec: &swarm.EndpointSpec{
			Mode:  swarm.ResolutionModeVIP,
			Ports: ports,
		},
		UpdateConfig: &swarm.UpdateConfig{
			Parallelism:   1,
			Order:         swarm.UpdateOrderStartFirst,
			FailureAction: swarm.UpdateFailureActionContinue,
			Delay:         updateDelay,
			Monitor:       updateDelay,
		},
	}
}

func toBuildArgPtrs(args map[string]string) map[string]*string {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]*string, len(args))
	for k, v := range args {
		v := v
		out[k] = &v
	}
	return out
}

// ExportToFile is a convenience the CLI's upload path uses to stage an
// exported image tarball on disk before compressing and streaming it to
// the server.
func ExportToFile(ctx context.Context, a *DockerAdapter, name, path string) error {
	rc, err := a.ExportImage(ctx, name)
	if err != nil {
		return err
	}
	defer rc.Close()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, rc)
	return err
}
