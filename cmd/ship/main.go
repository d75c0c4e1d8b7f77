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

// Command ship is the operator CLI: it talks to a shipd
// manager node over HTTPS, and performs any client-side image builds a
// plan requires before applying it.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/shiphq/ship/pkg/cli"
)

const defaultServer = "http://localhost:8080"

func main() {
	prefs, err := cli.LoadPrefs()
	if err != nil {
		log.Fatalf("failed to load preferences: %v", err)
	}
	if prefs.Server == "" {
		if s := os.Getenv("SHIP_SERVER"); s != "" {
			prefs.Server = s
		} else {
			prefs.Server = defaultServer
		}
	}

	client := cli.NewClient(prefs.Server)
	h := cli.NewCommandHandler(client, prefs)
	root := h.RootCmd("ship")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
