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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shiphq/ship/pkg/auth"
	"github.com/shiphq/ship/pkg/codecutil"
	"github.com/shiphq/ship/pkg/config"
	"github.com/shiphq/ship/pkg/execengine"
	"github.com/shiphq/ship/pkg/model"
	"github.com/shiphq/ship/pkg/plan"
	"github.com/shiphq/ship/pkg/store"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleAuthSuper(w http.ResponseWriter, r *http.Request) {
	exists, err := s.cfg.Store.AnyUserExists()
	if err != nil {
		httpError(w, err)
		return
	}
	if !exists {
		http.Error(w, "no super-user registered", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRegisterSuper(w http.ResponseWriter, r *http.Request) {
	exists, err := s.cfg.Store.AnyUserExists()
	if err != nil {
		httpError(w, err)
		return
	}
	if exists {
		http.Error(w, "a super-user already exists", http.StatusConflict)
		return
	}
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httpError(w, err)
		return
	}
	if _, err := s.cfg.Store.CreateUser(store.User{
		Username:     req.Username,
		PasswordHash: hash,
		Role:         string(auth.RoleSuperUser),
	}); err != nil {
		httpError(w, err)
		return
	}
	tok, err := auth.Mint(req.Username, auth.RoleSuperUser, s.cfg.TokenTTL)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, TokenResponse{Token: tok})
}

func (s *Server) handleLoginSuper(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	u, err := s.cfg.Store.UserByUsername(req.Username)
	if err != nil {
		httpError(w, err)
		return
	}
	if u == nil || !auth.CheckPassword(u.PasswordHash, req.Password) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	tok, err := auth.Mint(u.Username, auth.Role(u.Role), s.cfg.TokenTTL)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: tok})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.cfg.Store.ListUsers()
	if err != nil {
		httpError(w, err)
		return
	}
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, UserResponse{ID: u.ID, Username: u.Username, Role: u.Role})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if !auth.Role(req.Role).Valid() {
		http.Error(w, fmt.Sprintf("unknown role %q", req.Role), http.StatusBadRequest)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httpError(w, err)
		return
	}
	u, err := s.cfg.Store.CreateUser(store.User{Username: req.Username, PasswordHash: hash, Role: req.Role})
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, UserResponse{ID: u.ID, Username: u.Username, Role: u.Role})
}

func (s *Server) handleGetSecret(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "missing key parameter", http.StatusBadRequest)
		return
	}
	rec, err := s.cfg.Store.Secret(key)
	if err != nil {
		httpError(w, err)
		return
	}
	if rec == nil {
		http.Error(w, "secret not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, SecretResponse{Key: rec.Key, Value: rec.Value})
}

func (s *Server) handleCreateSecret(w http.ResponseWriter, r *http.Request) {
	var req SecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if err := s.cfg.Store.AddSecret(req.Key, req.Value); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleUpdateSecret(w http.ResponseWriter, r *http.Request) {
	var req SecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if err := s.cfg.Store.UpdateSecret(req.Key, req.Value); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		var req SecretRequest
		json.NewDecoder(r.Body).Decode(&req)
		key = req.Key
	}
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}
	if err := s.cfg.Store.DeleteSecret(key); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handlePlan computes a plan preview or, when Rollback is set, a rollback
// plan against the last two persisted generations. Rollback reuses this
// endpoint rather than adding a second route, since both are read_only-gated
// previews of the same underlying diff.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	proj, err := config.Parse(strings.NewReader(req.Config))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Rollback {
		current, err := s.cfg.Store.LastDeploys(proj.Name, 1)
		if err != nil {
			httpError(w, err)
			return
		}
		previous, err := s.cfg.Store.LastDeploys(proj.Name, 2)
		if err != nil {
			httpError(w, err)
			return
		}
		if current == nil {
			writeJSON(w, http.StatusOK, []model.Deploy{})
			return
		}
		deploys, err := plan.Rollback(current, previous)
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deploys)
		return
	}

	secrets, err := s.cfg.Store.Secrets()
	if err != nil {
		httpError(w, err)
		return
	}
	baseline, err := s.cfg.Store.LastDeploys(proj.Name, 1)
	if err != nil {
		httpError(w, err)
		return
	}
	images, err := s.cfg.Adapter.ListImages(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	deploys, err := plan.Plan(plan.Input{
		Project:  proj,
		Secrets:  secrets,
		Baseline: baseline,
		Images:   images,
		Filter:   req.Filter,
		ToBuild:  req.ToBuild,
	})
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deploys)
}

// handleNewDeploy applies a plan against the swarm adapter, serializing
// concurrent attempts against the same project and
// persisting the new generation only on full success (§7).
func (s *Server) handleNewDeploy(w http.ResponseWriter, r *http.Request) {
	var deploys []model.Deploy
	if err := json.NewDecoder(r.Body).Decode(&deploys); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if len(deploys) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}
	project := deploys[0].Deployable.ProjectName
	for _, d := range deploys {
		if d.Deployable.ProjectName != project {
			http.Error(w, "deploy list spans more than one project", http.StatusConflict)
			return
		}
	}

	lock := s.projectLock(project)
	lock.Lock()
	defer lock.Unlock()

	names, err := s.cfg.Adapter.ListServices(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	snapshot := make(map[string]bool, len(names))
	for _, n := range names {
		snapshot[n] = true
	}

	if err := execengine.Run(r.Context(), s.cfg.Adapter, s.cfg.Digester, snapshot, deploys); err != nil {
		s.PublishEvent(Event{Project: project, Type: EventTypeDeployFailed, Data: err.Error()})
		var fe *execengine.FailureError
		if errors.As(err, &fe) {
			http.Error(w, fe.Error(), http.StatusBadGateway)
			return
		}
		httpError(w, err)
		return
	}

	if err := s.cfg.Store.AppendDeploy(project, deploys); err != nil {
		httpError(w, err)
		return
	}
	s.PublishEvent(Event{Project: project, Type: EventTypeDeployApplied})
	w.WriteHeader(http.StatusOK)
}

// handleUploadImage receives a zstd-compressed image tarball, expands
// it to IMAGES_DIR and hands it to the adapter's image loader.
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	id := uuid.NewString()
	compressedPath := filepath.Join(s.cfg.ImagesDir, id+".tar.zst")
	tarPath := filepath.Join(s.cfg.ImagesDir, id+".tar")
	defer os.Remove(compressedPath)
	defer os.Remove(tarPath)

	dst, err := os.Create(compressedPath)
	if err != nil {
		httpError(w, err)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		httpError(w, err)
		return
	}
	dst.Close()

	if err := codecutil.ZstdDecompress(compressedPath, tarPath); err != nil {
		httpError(w, err)
		return
	}

	tarFile, err := os.Open(tarPath)
	if err != nil {
		httpError(w, err)
		return
	}
	defer tarFile.Close()

	if err := s.cfg.Adapter.LoadImage(r.Context(), tarFile); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

var upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}

// handleEvents streams the server's event bus (heartbeat, deploy
// lifecycle events) to a websocket client. Gated behind the same
// pass-header check as every other route, no bearer token required
// since it carries no secrets.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := make(chan Event, 16)
	id := s.AddEventListener(ch, nil)
	defer s.RemoveEventListener(id)

	for {
		select {
		case event := <-ch:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// httpError maps a domain error to a status code: conflicts are 409,
// everything else not otherwise classified is a 500.
func httpError(w http.ResponseWriter, err error) {
	var conflict *store.ConflictError
	var planConflict *plan.ConflictError
	var missingPrior *plan.MissingPriorError
	switch {
	case errors.As(err, &conflict), errors.As(err, &planConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &missingPrior):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
