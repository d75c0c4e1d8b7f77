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
	"context"
	"net/http"
	"strings"

	"github.com/shiphq/ship/pkg/auth"
)

// roleMin parses a role name into auth.Role; it exists only so route
// registration in server.go can read as english rather than a bare cast.
func roleMin(name string) auth.Role { return auth.Role(name) }

type ctxKey int

const ctxKeyUsername ctxKey = iota

// requireRole wraps h with a bearer-token check requiring at least
// min's privilege.
func (s *Server) requireRole(min auth.Role, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok, ok := bearerToken(r)
		if !ok {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := auth.Verify(tok)
		if err != nil {
			http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
			return
		}
		if !claims.Role.AtLeast(min) {
			http.Error(w, "insufficient role", http.StatusForbidden)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUsername, claims.Subject)
		h(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

// RegisterRequest is the body of /register/super and /login/super.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned by /register/super and /login/super.
type TokenResponse struct {
	Token string `json:"token"`
}

// UserResponse is one entry of GET /users; the password hash is never
// serialized back to a client.
type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// CreateUserRequest is the body of POST /users.
type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// SecretRequest is the body of every /secret verb.
type SecretRequest struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// SecretResponse is returned by GET /secret. Note it carries the value:
// the endpoint is gated at read_only, the same floor the planner's own
// secret substitution implicitly requires.
type SecretResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PlanRequest is the body of GET /plan.
type PlanRequest struct {
	Config   string   `json:"config"`
	ToBuild  []string `json:"to_build,omitempty"`
	Filter   []string `json:"filter,omitempty"`
	Rollback bool     `json:"rollback,omitempty"`
}
