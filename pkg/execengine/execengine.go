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

// Package execengine runs a plan against the swarm adapter: deploys are
// applied strictly sequentially, gated on health after each non-no-op
// action, and a mid-plan failure stops the loop leaving prior deploys in
// place.
package execengine

import (
	"context"
	"fmt"
	"time"

	"github.com/shiphq/ship/pkg/model"
	"github.com/shiphq/ship/pkg/swarm"
)

// HealthTimeoutError is returned when a service's tasks never converge
// to their desired state within the health gate's deadline.
type HealthTimeoutError struct {
	ServiceName string
}

func (e *HealthTimeoutError) Error() string {
	return fmt.Sprintf("health check timed out waiting for %s to converge", e.ServiceName)
}

// FailureError names the last-attempted deploy and wraps the adapter
// error that stopped the run.
type FailureError struct {
	DeployName string
	Err        error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("deploy %s: %v", e.DeployName, e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

// pollInterval is the fixed delay between health-gate probes.
const pollInterval = 200 * time.Millisecond

// healthTimeout bounds how long the gate waits past wait_sec before
// giving up. Generous by default since slow-converging services are
// expected; a var, not a const, so tests can shrink it rather than wait
// out the real budget.
var healthTimeout = 2 * time.Minute

// Digester resolves an image reference to its pinned, digest-qualified
// form. The executor calls it best-effort immediately before handing a
// spec to the adapter; nil disables pinning.
type Digester interface {
	PinDigest(ctx context.Context, ref string) (string, error)
}

// Run applies deploys in order against adapter, using snapshot (the
// service names currently known to the runtime) to decide create vs.
// update. digester may be nil.
func Run(ctx context.Context, adapter swarm.Adapter, digester Digester, snapshot map[string]bool, deploys []model.Deploy) error {
	for _, d := range deploys {
		if err := apply(ctx, adapter, digester, snapshot, d); err != nil {
			return &FailureError{DeployName: d.Name(), Err: err}
		}
	}
	return nil
}

func apply(ctx context.Context, adapter swarm.Adapter, digester Digester, snapshot map[string]bool, d model.Deploy) error {
	name := d.Deployable.ServiceName
	switch d.Action {
	case model.ActionNothing:
		return nil

	case model.ActionDelete:
		if !snapshot[name] {
			return nil
		}
		if err := adapter.DeleteService(ctx, name); err != nil {
			return err
		}
		delete(snapshot, name)
		return nil

	case model.ActionCreate, model.ActionUpdate:
		spec, err := toServiceSpec(ctx, digester, d.Deployable)
		if err != nil {
			return err
		}
		if snapshot[name] {
			if err := adapter.UpdateService(ctx, spec); err != nil {
				return err
			}
		} else {
			if err := adapter.CreateService(ctx, spec); err != nil {
				return err
			}
		}
		snapshot[name] = true
		return runAfterTasks(ctx, adapter, d.AfterTasks)

	default:
		return fmt.Errorf("unknown action %q", d.Action)
	}
}

func toServiceSpec(ctx context.Context, digester Digester, d model.Deployable) (swarm.ServiceSpec, error) {
	image := d.Image
	if digester != nil {
		if pinned, err := digester.PinDigest(ctx, image); err == nil {
			image = pinned
		}
	}
	env := make([]string, 0, len(d.Env))
	for k, v := range d.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	var cpuNanos int64
	if d.CPU > 0 {
		cpuNanos = int64(d.CPU * 1e9)
	}
	var memBytes int64
	if d.MemoryMiB > 0 {
		memBytes = int64(d.MemoryMiB) * 1024 * 1024
	}
	return swarm.ServiceSpec{
		Name:        d.ServiceName,
		Image:       image,
		Ports:       d.Ports,
		Env:         env,
		Labels:      d.Labels,
		Mounts:      d.Mounts,
		Command:     d.Command,
		Args:        d.Args,
		CPUNanos:    cpuNanos,
		MemoryBytes: memBytes,
		Replicas:    uint64(d.Replicas),
		Restart:     d.Restart,
		Placement:   d.Placement,
		Healthcheck: d.Healthcheck,
	}, nil
}

// runAfterTasks executes a deploy's post-apply gates: the
// sole kind, HealthCheck, sleeps wait_sec then polls at ~200ms intervals
// until every task's state matches its desired state.
func runAfterTasks(ctx context.Context, adapter swarm.Adapter, tasks []model.AfterTask) error {
	for _, t := range tasks {
		if t.Kind != model.AfterTaskHealthCheck {
			continue
		}
		if err := healthCheck(ctx, adapter, t.ServiceName, time.Duration(t.WaitSec)*time.Second); err != nil {
			return err
		}
	}
	return nil
}

func healthCheck(ctx context.Context, adapter swarm.Adapter, serviceName string, waitSec time.Duration) error {
	select {
	case <-time.After(waitSec):
	case <-ctx.Done():
		return ctx.Err()
	}

	deadline := time.Now().Add(healthTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		tasks, err := adapter.ListTasks(ctx, serviceName)
		if err != nil {
			return err
		}
		if converged(tasks) {
			return nil
		}
		if time.Now().After(deadline) {
			return &HealthTimeoutError{ServiceName: serviceName}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func converged(tasks []swarm.TaskStatus) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, t := range tasks {
		if t.State != t.DesiredState {
			return false
		}
	}
	return true
}
