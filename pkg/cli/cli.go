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
	"bufio"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CommandHandler builds the "ship" root command tree. Every leaf binds
// a real RunE against client/prefs rather than dispatching through a
// shared handler, since each endpoint has its own request/response shape.
type CommandHandler struct {
	client *Client
	prefs  *Prefs
}

// NewCommandHandler wires a Client and the loaded Prefs into a handler
// ready to build the root command.
func NewCommandHandler(client *Client, prefs *Prefs) *CommandHandler {
	return &CommandHandler{client: client, prefs: prefs}
}

// RootCmd assembles the full "ship" command tree.
func (h *CommandHandler) RootCmd(name string) *cobra.Command {
	cmd := &cobra.Command{
		Use: name,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	var server string
	cmd.PersistentFlags().StringVar(&server, "server", h.prefs.Server, "shipd server URL")
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if server != "" {
			h.client.BaseURL = server
		}
		h.client.Token = h.prefs.Token
		return nil
	}

	cmd.AddCommand(
		h.loginCmd(),
		h.logoutCmd(),
		h.whoamiCmd(),
		h.userCmd(),
		h.secretCmd(),
		h.planCmd(),
		h.deployCmd(),
		h.rollbackCmd(),
		h.newCmd(),
		h.versionCmd(),
	)
	return cmd
}

func (h *CommandHandler) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the ship CLI version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), VersionCommit())
			return nil
		},
	}
}

// promptPassword reads a line from stdin with a plain bufio.Scanner; no
// terminal-raw-mode library is used, so the terminal echoes what is
// typed.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return "", scanner.Err()
	}
	return strings.TrimSpace(scanner.Text()), nil
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (h *CommandHandler) loginCmd() *cobra.Command {
	var username, password string
	var register bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the shipd server and store a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return fmt.Errorf("--username is required")
			}
			if password == "" {
				p, err := promptPassword("password: ")
				if err != nil {
					return err
				}
				password = p
			}
			path := "/login/super"
			if register {
				path = "/register/super"
			}
			var resp tokenResponse
			body := map[string]string{"username": username, "password": password}
			if err := h.client.Post(cmd.Context(), path, body, &resp); err != nil {
				return err
			}
			h.prefs.Token = resp.Token
			if err := h.prefs.Save(); err != nil {
				return fmt.Errorf("saved token in memory but failed to persist prefs: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("logged in as %s", username))
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted if omitted)")
	cmd.Flags().BoolVar(&register, "register", false, "register the first super-user instead of logging in")
	return cmd
}

func (h *CommandHandler) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			h.prefs.Token = ""
			return h.prefs.Save()
		},
	}
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (h *CommandHandler) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current server and login state",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "server: %s\n", h.client.BaseURL)
			if h.prefs.Token == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "not logged in")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged in")
			return nil
		},
	}
}

func (h *CommandHandler) userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			var users []userResponse
			if err := h.client.Get(cmd.Context(), "/users", nil, &users); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USERNAME\tROLE")
			for _, u := range users {
				fmt.Fprintf(w, "%s\t%s\n", u.Username, u.Role)
			}
			return w.Flush()
		},
	})
	var username, password, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"username": username, "password": password, "role": role}
			var resp userResponse
			if err := h.client.Post(cmd.Context(), "/users", body, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", resp.Username, resp.Role)
			return nil
		},
	}
	create.Flags().StringVar(&username, "username", "", "username")
	create.Flags().StringVar(&password, "password", "", "password")
	create.Flags().StringVar(&role, "role", "read_only", "role: read_only, update_only, full_access, super_user")
	cmd.AddCommand(create)
	return cmd
}

type secretResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (h *CommandHandler) secretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets",
	}
	var key, value string

	add := &cobra.Command{
		Use:   "add",
		Short: "Add a secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			return h.client.Post(cmd.Context(), "/secret", secretResponse{Key: key, Value: value}, nil)
		},
	}
	update := &cobra.Command{
		Use:   "update",
		Short: "Update a secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			return h.client.Put(cmd.Context(), "/secret", secretResponse{Key: key, Value: value}, nil)
		},
	}
	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete a secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			return h.client.Delete(cmd.Context(), "/secret?key="+key, nil, nil)
		},
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Show a secret's value",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp secretResponse
			if err := h.client.Get(cmd.Context(), "/secret?key="+key, nil, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Value)
			return nil
		},
	}
	for _, c := range []*cobra.Command{add, update, del, show} {
		c.Flags().StringVar(&key, "key", "", "secret key")
	}
	for _, c := range []*cobra.Command{add, update} {
		c.Flags().StringVar(&value, "value", "", "secret value")
	}
	cmd.AddCommand(add, update, del, show)
	return cmd
}

func readConfig(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VersionCommit returns the commit hash embedded by the build.
func VersionCommit() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	var dirty bool
	var commit string
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if commit == "" {
		return "dev"
	}
	if len(commit) >= 9 {
		commit = commit[:9]
	}
	if dirty {
		commit += "+dirty"
	}
	return commit
}
