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

package execengine

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shiphq/ship/pkg/model"
	"github.com/shiphq/ship/pkg/swarm"
)

// fakeAdapter records calls and lets tests script failures and task
// states per service.
type fakeAdapter struct {
	created, updated, deleted []string
	failOn                    string
	tasksByService            map[string][]swarm.TaskStatus
}

func (f *fakeAdapter) ListServices(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeAdapter) ListImages(ctx context.Context) ([]string, error)   { return nil, nil }

func (f *fakeAdapter) CreateService(ctx context.Context, spec swarm.ServiceSpec) error {
	if spec.Name == f.failOn {
		return errors.New("boom")
	}
	f.created = append(f.created, spec.Name)
	return nil
}

func (f *fakeAdapter) UpdateService(ctx context.Context, spec swarm.ServiceSpec) error {
	if spec.Name == f.failOn {
		return errors.New("boom")
	}
	f.updated = append(f.updated, spec.Name)
	return nil
}

func (f *fakeAdapter) DeleteService(ctx context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeAdapter) LoadImage(ctx context.Context, r io.Reader) error { return nil }
func (f *fakeAdapter) ExportImage(ctx context.Context, name string) (io.ReadCloser, error) {
	return nil, nil
}
func (f *fakeAdapter) BuildImage(ctx context.Context, b model.Buildable, logLine func(string)) error {
	return nil
}

func (f *fakeAdapter) ListTasks(ctx context.Context, serviceName string) ([]swarm.TaskStatus, error) {
	return f.tasksByService[serviceName], nil
}

func converged3(serviceName string) []swarm.TaskStatus {
	return []swarm.TaskStatus{
		{State: "running", DesiredState: "running"},
		{State: "running", DesiredState: "running"},
	}
}

func TestRun_CreateThenHealthCheck(t *testing.T) {
	f := &fakeAdapter{tasksByService: map[string][]swarm.TaskStatus{
		"demo-web-service": converged3("demo-web-service"),
	}}
	deploys := []model.Deploy{
		{
			Deployable:  model.Deployable{ShortName: "web", ServiceName: "demo-web-service"},
			Action:      model.ActionCreate,
			AfterTasks:  []model.AfterTask{{Kind: model.AfterTaskHealthCheck, ServiceName: "demo-web-service", WaitSec: 0}},
		},
	}
	if err := Run(context.Background(), f, nil, map[string]bool{}, deploys); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.created) != 1 || f.created[0] != "demo-web-service" {
		t.Errorf("created = %v", f.created)
	}
}

func TestRun_UpdateWhenInSnapshot(t *testing.T) {
	f := &fakeAdapter{tasksByService: map[string][]swarm.TaskStatus{
		"demo-web-service": converged3("demo-web-service"),
	}}
	deploys := []model.Deploy{
		{Deployable: model.Deployable{ShortName: "web", ServiceName: "demo-web-service"}, Action: model.ActionUpdate},
	}
	snapshot := map[string]bool{"demo-web-service": true}
	if err := Run(context.Background(), f, nil, snapshot, deploys); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.updated) != 1 {
		t.Errorf("updated = %v, want 1 call", f.updated)
	}
	if len(f.created) != 0 {
		t.Errorf("created = %v, want none (runtime snapshot says it already exists)", f.created)
	}
}

func TestRun_DeleteNoopWhenAbsent(t *testing.T) {
	f := &fakeAdapter{}
	deploys := []model.Deploy{
		{Deployable: model.Deployable{ShortName: "web", ServiceName: "demo-web-service"}, Action: model.ActionDelete},
	}
	if err := Run(context.Background(), f, nil, map[string]bool{}, deploys); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.deleted) != 0 {
		t.Errorf("deleted = %v, want none", f.deleted)
	}
}

func TestRun_NothingIsNoop(t *testing.T) {
	f := &fakeAdapter{}
	deploys := []model.Deploy{
		{Deployable: model.Deployable{ShortName: "web", ServiceName: "demo-web-service"}, Action: model.ActionNothing},
	}
	if err := Run(context.Background(), f, nil, map[string]bool{}, deploys); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.created) != 0 || len(f.updated) != 0 || len(f.deleted) != 0 {
		t.Errorf("expected no adapter calls for Nothing")
	}
}

// A mid-plan failure stops the loop, leaving prior deploys applied, and
// names the failing deploy in the returned error.
func TestRun_PartialFailureStopsLoop(t *testing.T) {
	f := &fakeAdapter{
		failOn: "demo-bad-service",
		tasksByService: map[string][]swarm.TaskStatus{
			"demo-good-service": converged3("demo-good-service"),
		},
	}
	deploys := []model.Deploy{
		{
			Deployable: model.Deployable{ShortName: "good", ServiceName: "demo-good-service"},
			Action:     model.ActionCreate,
			AfterTasks: []model.AfterTask{{Kind: model.AfterTaskHealthCheck, ServiceName: "demo-good-service"}},
		},
		{Deployable: model.Deployable{ShortName: "bad", ServiceName: "demo-bad-service"}, Action: model.ActionCreate},
		{Deployable: model.Deployable{ShortName: "never", ServiceName: "demo-never-service"}, Action: model.ActionCreate},
	}
	err := Run(context.Background(), f, nil, map[string]bool{}, deploys)
	if err == nil {
		t.Fatal("want error, got nil")
	}
	fe, ok := err.(*FailureError)
	if !ok {
		t.Fatalf("err = %T, want *FailureError", err)
	}
	if fe.DeployName != "bad" {
		t.Errorf("DeployName = %q, want bad", fe.DeployName)
	}
	if len(f.created) != 1 || f.created[0] != "demo-good-service" {
		t.Errorf("created = %v, want only the good service applied before failure", f.created)
	}
}

func TestHealthCheck_TimesOut(t *testing.T) {
	f := &fakeAdapter{tasksByService: map[string][]swarm.TaskStatus{
		"demo-web-service": {{State: "starting", DesiredState: "running"}},
	}}
	orig := healthTimeout
	healthTimeout = time.Nanosecond // effectively zero budget so the test returns fast
	defer func() { healthTimeout = orig }()

	err := healthCheck(context.Background(), f, "demo-web-service", 0)
	var timeoutErr *HealthTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("err = %v, want *HealthTimeoutError", err)
	}
}
