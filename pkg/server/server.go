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

// Package server is the manager-node HTTP surface: auth,
// user and secret management, plan preview, deploy apply and image
// upload, backed by the state store and a swarm adapter.
package server

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/shiphq/ship/pkg/execengine"
	"github.com/shiphq/ship/pkg/store"
	"github.com/shiphq/ship/pkg/swarm"
)

// requirePassHeader is the constant header every request must carry.
// Kept as a fixed wire-protocol constant that both server and CLI
// agree on; the client sends it as a simple pre-auth liveness gate
// ahead of any bearer-token check.
const (
	requirePassHeader = "X-Ship-Pass"
	passHeaderValue   = "true"
)

// Config bundles everything request handlers need. It is read-only
// after Start; handlers take *Server by value-like shared pointer,
// never copy it.
type Config struct {
	Store       *store.Store
	Adapter     swarm.Adapter
	Digester    execengine.Digester // optional; nil disables digest pinning
	ImagesDir   string
	TokenTTL    time.Duration // defaults to 24h if zero
}

// Server holds the shared configuration plus the event bus and the
// per-project mutexes that serialize deploy applies (POST /new-deploy)
// against a single project; plan previews do not take them.
type Server struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	eventListeners struct {
		mu sync.Mutex
		ls map[int]*EventListener
		n  int
	}

	projectLocks struct {
		mu sync.Mutex
		m  map[string]*sync.Mutex
	}
}

// EventListener is a subscription handed back by AddEventListener.
type EventListener struct {
	id     int
	ch     chan<- Event
	filter func(Event) bool
}

// EventType is a closed set of event kinds the server publishes.
type EventType string

const (
	EventTypeHeartbeat     EventType = "heartbeat"
	EventTypeDeployApplied EventType = "deploy_applied"
	EventTypeDeployFailed  EventType = "deploy_failed"
)

// Event is one entry on the server's event bus, consumed over the
// websocket events stream.
type Event struct {
	Time    int64     `json:"time"`
	Project string    `json:"project"`
	Type    EventType `json:"type"`
	Data    any       `json:"data,omitempty"`
}

// NewServer wires a Config into a ready-to-start Server.
func NewServer(cfg Config) *Server {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	s := &Server{cfg: cfg}
	s.eventListeners.ls = map[int]*EventListener{}
	s.projectLocks.m = map[string]*sync.Mutex{}
	return s
}

// Start begins the background heartbeat publisher. It panics if called
// twice.
func (s *Server) Start() {
	if s.cancel != nil {
		panic("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.heartbeat()
}

// Shutdown stops the background heartbeat publisher.
func (s *Server) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Server) heartbeat() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.PublishEvent(Event{Type: EventTypeHeartbeat})
		}
	}
}

// PublishEvent stamps event with the current time and fans it out to
// every listener whose filter accepts it.
func (s *Server) PublishEvent(event Event) {
	event.Time = time.Now().UnixMilli()
	els := &s.eventListeners
	els.mu.Lock()
	defer els.mu.Unlock()
	for _, el := range els.ls {
		if el.filter != nil && !el.filter(event) {
			continue
		}
		select {
		case el.ch <- event:
		default:
			log.Printf("event listener channel full, dropping event %v", event.Type)
		}
	}
}

// AddEventListener registers ch to receive events matching filter (nil
// accepts everything), returning a handle for RemoveEventListener.
func (s *Server) AddEventListener(ch chan<- Event, filter func(Event) bool) int {
	els := &s.eventListeners
	els.mu.Lock()
	defer els.mu.Unlock()
	els.n++
	id := els.n
	els.ls[id] = &EventListener{id: id, ch: ch, filter: filter}
	return id
}

// RemoveEventListener unregisters a listener added by AddEventListener.
func (s *Server) RemoveEventListener(id int) {
	els := &s.eventListeners
	els.mu.Lock()
	defer els.mu.Unlock()
	delete(els.ls, id)
}

// projectLock returns the mutex serializing deploys for one project,
// creating it on first use.
func (s *Server) projectLock(project string) *sync.Mutex {
	pl := &s.projectLocks
	pl.mu.Lock()
	defer pl.mu.Unlock()
	m, ok := pl.m[project]
	if !ok {
		m = &sync.Mutex{}
		pl.m[project] = m
	}
	return m
}

// Handler returns the complete HTTP handler for the manager node,
// wrapping every route in the pass-header check.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /auth/super", s.handleAuthSuper)
	mux.HandleFunc("POST /register/super", s.handleRegisterSuper)
	mux.HandleFunc("POST /login/super", s.handleLoginSuper)
	mux.HandleFunc("GET /users", s.requireRole(roleMin("super_user"), s.handleListUsers))
	mux.HandleFunc("POST /users", s.requireRole(roleMin("super_user"), s.handleCreateUser))
	mux.HandleFunc("GET /secret", s.requireRole(roleMin("read_only"), s.handleGetSecret))
	mux.HandleFunc("POST /secret", s.requireRole(roleMin("full_access"), s.handleCreateSecret))
	mux.HandleFunc("PUT /secret", s.requireRole(roleMin("full_access"), s.handleUpdateSecret))
	mux.HandleFunc("DELETE /secret", s.requireRole(roleMin("full_access"), s.handleDeleteSecret))
	mux.HandleFunc("GET /plan", s.requireRole(roleMin("read_only"), s.handlePlan))
	mux.HandleFunc("POST /new-deploy", s.requireRole(roleMin("update_only"), s.handleNewDeploy))
	mux.HandleFunc("POST /upload_image", s.requireRole(roleMin("update_only"), s.handleUploadImage))
	mux.HandleFunc("GET /events", s.handleEvents)
	return requirePass(mux)
}

// requirePass enforces the X-Ship-Pass header on every request, ahead
// of any auth or role check.
func requirePass(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(requirePassHeader) != passHeaderValue {
			http.Error(w, "missing or invalid pass header", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}
