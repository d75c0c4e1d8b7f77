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

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/shiphq/ship/pkg/auth"
	"github.com/shiphq/ship/pkg/model"
	"github.com/shiphq/ship/pkg/store"
	"github.com/shiphq/ship/pkg/swarm"
)

type fakeAdapter struct {
	images   []string
	services []string
	created  []string
}

func (f *fakeAdapter) ListServices(ctx context.Context) ([]string, error) { return f.services, nil }
func (f *fakeAdapter) ListImages(ctx context.Context) ([]string, error)   { return f.images, nil }
func (f *fakeAdapter) CreateService(ctx context.Context, spec swarm.ServiceSpec) error {
	f.created = append(f.created, spec.Name)
	return nil
}
func (f *fakeAdapter) UpdateService(ctx context.Context, spec swarm.ServiceSpec) error { return nil }
func (f *fakeAdapter) DeleteService(ctx context.Context, name string) error            { return nil }
func (f *fakeAdapter) LoadImage(ctx context.Context, r io.Reader) error                { return nil }
func (f *fakeAdapter) ExportImage(ctx context.Context, name string) (io.ReadCloser, error) {
	return nil, nil
}
func (f *fakeAdapter) BuildImage(ctx context.Context, b model.Buildable, logLine func(string)) error {
	return nil
}
func (f *fakeAdapter) ListTasks(ctx context.Context, serviceName string) ([]swarm.TaskStatus, error) {
	return []swarm.TaskStatus{{State: "running", DesiredState: "running"}}, nil
}

func newTestServer(t *testing.T) (*Server, *fakeAdapter) {
	t.Helper()
	auth.Init([]byte("test-signing-key"))
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	f := &fakeAdapter{images: []string{"demo-web-image:1"}}
	s := NewServer(Config{Store: st, Adapter: f, ImagesDir: t.TempDir()})
	return s, f
}

func doReq(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(requirePassHeader, passHeaderValue)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doReq(t, s.Handler(), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMissingPassHeaderRejected(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthSuper_NoneThenRegistered(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := doReq(t, h, http.MethodGet, "/auth/super", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 before registration", rec.Code)
	}

	rec = doReq(t, h, http.MethodPost, "/register/super", "", RegisterRequest{Username: "root", Password: "hunter2"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body.String())
	}
	var tok TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tok); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	if tok.Token == "" {
		t.Fatal("expected a non-empty token")
	}

	rec = doReq(t, h, http.MethodGet, "/auth/super", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 after registration", rec.Code)
	}

	rec = doReq(t, h, http.MethodPost, "/register/super", "", RegisterRequest{Username: "root2", Password: "x"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second register status = %d, want 409", rec.Code)
	}
}

func TestLoginSuper_WrongPasswordRejected(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	doReq(t, h, http.MethodPost, "/register/super", "", RegisterRequest{Username: "root", Password: "hunter2"})

	rec := doReq(t, h, http.MethodPost, "/login/super", "", RegisterRequest{Username: "root", Password: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	rec = doReq(t, h, http.MethodPost, "/login/super", "", RegisterRequest{Username: "root", Password: "hunter2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func registerSuper(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := doReq(t, h, http.MethodPost, "/register/super", "", RegisterRequest{Username: "root", Password: "hunter2"})
	var tok TokenResponse
	json.Unmarshal(rec.Body.Bytes(), &tok)
	return tok.Token
}

func TestUsers_RoleGated(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	superTok := registerSuper(t, h)

	rec := doReq(t, h, http.MethodGet, "/users", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rec.Code)
	}

	rec = doReq(t, h, http.MethodPost, "/users", superTok, CreateUserRequest{Username: "viewer", Password: "p", Role: "read_only"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user status = %d, body %s", rec.Code, rec.Body.String())
	}

	readTok, err := auth.Mint("viewer", auth.RoleReadOnly, 1_000_000_000_000)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	rec = doReq(t, h, http.MethodGet, "/users", readTok, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("read_only listing users: status = %d, want 403", rec.Code)
	}

	rec = doReq(t, h, http.MethodGet, "/users", superTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("super listing users: status = %d", rec.Code)
	}
	var users []UserResponse
	json.Unmarshal(rec.Body.Bytes(), &users)
	if len(users) != 2 {
		t.Fatalf("len(users) = %d, want 2", len(users))
	}
}

func TestSecret_CRUDRoleGated(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	superTok := registerSuper(t, h)

	rec := doReq(t, h, http.MethodPost, "/secret", superTok, SecretRequest{Key: "API_KEY", Value: "sk_123"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create secret: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doReq(t, h, http.MethodPost, "/secret", superTok, SecretRequest{Key: "API_KEY", Value: "again"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate secret: status = %d, want 409", rec.Code)
	}

	rec = doReq(t, h, http.MethodGet, "/secret?key=API_KEY", superTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get secret: status = %d", rec.Code)
	}
	var got SecretResponse
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Value != "sk_123" {
		t.Fatalf("value = %q, want sk_123", got.Value)
	}
}

func TestPlan_FirstDeployScenario(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	superTok := registerSuper(t, h)

	req := PlanRequest{Config: "project: demo\napps:\n  web:\n    port: 3000\n    domain: web.example.com\n"}
	rec := doReq(t, h, http.MethodGet, "/plan", superTok, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("plan status = %d, body %s", rec.Code, rec.Body.String())
	}
	var deploys []model.Deploy
	if err := json.Unmarshal(rec.Body.Bytes(), &deploys); err != nil {
		t.Fatalf("decode deploys: %v", err)
	}
	if len(deploys) != 1 {
		t.Fatalf("len(deploys) = %d, want 1", len(deploys))
	}
	if deploys[0].Deployable.ServiceName != "demo-web-service" {
		t.Errorf("ServiceName = %q", deploys[0].Deployable.ServiceName)
	}
	if deploys[0].Action != model.ActionCreate {
		t.Errorf("Action = %q, want create", deploys[0].Action)
	}
}

func TestPlan_ReadOnlyCanPreviewButNotDeploy(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	registerSuper(t, h)
	readTok, err := auth.Mint("viewer", auth.RoleReadOnly, 1_000_000_000_000)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	req := PlanRequest{Config: "project: demo\napps:\n  web:\n    port: 3000\n"}
	rec := doReq(t, h, http.MethodGet, "/plan", readTok, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("plan status = %d", rec.Code)
	}

	rec = doReq(t, h, http.MethodPost, "/new-deploy", readTok, []model.Deploy{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("deploy with read_only: status = %d, want 403", rec.Code)
	}
}

func TestNewDeploy_AppliesAndPersists(t *testing.T) {
	s, f := newTestServer(t)
	h := s.Handler()
	superTok := registerSuper(t, h)

	planReq := PlanRequest{Config: "project: demo\napps:\n  web:\n    port: 3000\n    domain: web.example.com\n"}
	rec := doReq(t, h, http.MethodGet, "/plan", superTok, planReq)
	var deploys []model.Deploy
	json.Unmarshal(rec.Body.Bytes(), &deploys)

	rec = doReq(t, h, http.MethodPost, "/new-deploy", superTok, deploys)
	if rec.Code != http.StatusOK {
		t.Fatalf("new-deploy status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(f.created) != 1 || f.created[0] != "demo-web-service" {
		t.Fatalf("created = %v", f.created)
	}

	gen, err := s.cfg.Store.LastDeploys("demo", 1)
	if err != nil {
		t.Fatalf("LastDeploys: %v", err)
	}
	if gen == nil || len(gen.Deploys) != 1 {
		t.Fatalf("gen = %+v, want one persisted deploy", gen)
	}
}

func TestNewDeploy_CrossProjectRejected(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	superTok := registerSuper(t, h)

	deploys := []model.Deploy{
		{Deployable: model.Deployable{ShortName: "a", ProjectName: "proj-a", ServiceName: "proj-a-a-service"}, Action: model.ActionCreate},
		{Deployable: model.Deployable{ShortName: "b", ProjectName: "proj-b", ServiceName: "proj-b-b-service"}, Action: model.ActionCreate},
	}
	rec := doReq(t, h, http.MethodPost, "/new-deploy", superTok, deploys)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}
