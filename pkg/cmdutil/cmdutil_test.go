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

package cmdutil

import (
	"bytes"
	"strings"
	"testing"
)

func TestConfirm_YesAnswer(t *testing.T) {
	var out bytes.Buffer
	ok, err := Confirm(strings.NewReader("y\n"), &out, "apply this plan?")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !ok {
		t.Error("expected true for a 'y' answer")
	}
	if !strings.Contains(out.String(), "apply this plan?") {
		t.Errorf("prompt not written to w: %q", out.String())
	}
}

func TestConfirm_NoAnswer(t *testing.T) {
	var out bytes.Buffer
	ok, err := Confirm(strings.NewReader("n\n"), &out, "apply this plan?")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if ok {
		t.Error("expected false for an 'n' answer")
	}
}

func TestConfirm_EmptyAnswerDefaultsToNo(t *testing.T) {
	var out bytes.Buffer
	ok, err := Confirm(strings.NewReader("\n"), &out, "apply?")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if ok {
		t.Error("expected false for an empty answer")
	}
}

func TestNewStdCmd_WiresStandardStreams(t *testing.T) {
	cmd := NewStdCmd("true")
	if cmd.Stdin == nil || cmd.Stdout == nil || cmd.Stderr == nil {
		t.Fatal("expected NewStdCmd to wire stdin/stdout/stderr")
	}
}
