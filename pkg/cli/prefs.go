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

package cli

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// Prefs is the CLI's on-disk state: the server URL and the
// bearer token obtained from the last login.
type Prefs struct {
	path   string
	Server string `json:"server"`
	Token  string `json:"token"`
}

// LoadPrefs reads ~/.ship/prefs.json, returning a zero-value Prefs if it
// does not exist yet.
func LoadPrefs() (*Prefs, error) {
	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}
	p := &Prefs{path: filepath.Join(home, ".ship", "prefs.json")}
	b, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(b, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Save persists prefs to disk, creating ~/.ship if needed.
func (p *Prefs) Save() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.path, b, 0o600)
}
