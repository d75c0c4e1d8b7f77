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

package auth

import (
	"testing"
	"time"
)

func TestMain(m *testing.M) {
	Init([]byte("test-signing-key-not-for-production"))
	m.Run()
}

func TestMintVerify_RoundTrip(t *testing.T) {
	tok, err := Mint("alice", RoleFullAccess, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	claims, err := Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "alice" || claims.Role != RoleFullAccess {
		t.Errorf("claims = %+v", claims)
	}
}

func TestVerify_ExpiredTokenRejected(t *testing.T) {
	tok, err := Mint("bob", RoleReadOnly, -time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := Verify(tok); err == nil {
		t.Fatal("expected an error verifying an expired token")
	}
}

func TestVerify_TamperedTokenRejected(t *testing.T) {
	tok, err := Mint("carol", RoleSuperUser, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := Verify(tok + "x"); err == nil {
		t.Fatal("expected an error verifying a tampered token")
	}
}

func TestRole_AtLeast(t *testing.T) {
	cases := []struct {
		have, min Role
		want      bool
	}{
		{RoleSuperUser, RoleReadOnly, true},
		{RoleSuperUser, RoleSuperUser, true},
		{RoleReadOnly, RoleUpdateOnly, false},
		{RoleUpdateOnly, RoleReadOnly, true},
		{RoleFullAccess, RoleSuperUser, false},
		{Role("bogus"), RoleReadOnly, false},
	}
	for _, c := range cases {
		if got := c.have.AtLeast(c.min); got != c.want {
			t.Errorf("%s.AtLeast(%s) = %v, want %v", c.have, c.min, got, c.want)
		}
	}
}

func TestRole_Valid(t *testing.T) {
	for _, r := range []Role{RoleSuperUser, RoleFullAccess, RoleUpdateOnly, RoleReadOnly} {
		if !r.Valid() {
			t.Errorf("%s should be valid", r)
		}
	}
	if Role("owner").Valid() {
		t.Error("unknown role should not be valid")
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "correct horse battery staple") {
		t.Error("CheckPassword should accept the original password")
	}
	if CheckPassword(hash, "wrong password") {
		t.Error("CheckPassword should reject an incorrect password")
	}
}
