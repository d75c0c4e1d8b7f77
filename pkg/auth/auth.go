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

// Package auth mints and verifies bearer tokens and hashes passwords
// for the HTTP surface. Roles form a closed, ordered set;
// a handler gates on a minimum role rather than an exact match.
package auth

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Role is the closed set of access levels a token can carry.
type Role string

const (
	RoleSuperUser  Role = "super_user"
	RoleFullAccess Role = "full_access"
	RoleUpdateOnly Role = "update_only"
	RoleReadOnly   Role = "read_only"
)

// rank orders roles from least to most privileged so AtLeast can
// compare across the closed set without an explicit adjacency table.
var rank = map[Role]int{
	RoleReadOnly:   0,
	RoleUpdateOnly: 1,
	RoleFullAccess: 2,
	RoleSuperUser:  3,
}

// Valid reports whether r is one of the four defined roles.
func (r Role) Valid() bool {
	_, ok := rank[r]
	return ok
}

// AtLeast reports whether r grants at least the privilege of min.
// An unrecognized role grants nothing.
func (r Role) AtLeast(min Role) bool {
	have, ok := rank[r]
	if !ok {
		return false
	}
	want, ok := rank[min]
	if !ok {
		return false
	}
	return have >= want
}

// key is the process-wide signing secret. It is set once at startup by
// Init and otherwise treated as read-only; tests call Init directly with
// a fixed key to avoid depending on process startup order.
var (
	keyMu sync.RWMutex
	key   []byte
)

// Init installs the signing key the process will use for every token
// minted and verified afterward. Called once at startup with JWT_KEY's
// bytes, or with a randomly generated key if the environment variable
// is unset.
func Init(k []byte) {
	keyMu.Lock()
	defer keyMu.Unlock()
	key = k
}

// RandomKey returns 32 cryptographically random bytes, used when
// JWT_KEY is not configured.
func RandomKey() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return b, nil
}

func signingKey() ([]byte, error) {
	keyMu.RLock()
	defer keyMu.RUnlock()
	if len(key) == 0 {
		return nil, fmt.Errorf("signing key not initialized")
	}
	return key, nil
}

// Claims is the token payload: subject, expiry and role.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Mint signs a token for username carrying role, valid for ttl.
func Mint(username string, role Role, ttl time.Duration) (string, error) {
	k, err := signingKey()
	if err != nil {
		return "", err
	}
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(k)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token, returning its claims.
func Verify(tokenString string) (*Claims, error) {
	k, err := signingKey()
	if err != nil {
		return nil, err
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return k, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !tok.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("invalid token: unknown role %q", claims.Role)
	}
	return claims, nil
}

// HashPassword bcrypt-hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
