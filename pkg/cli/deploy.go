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
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shiphq/ship/pkg/buildplan"
	"github.com/shiphq/ship/pkg/cmdutil"
	"github.com/shiphq/ship/pkg/model"
	"github.com/shiphq/ship/pkg/swarm"
)

// planRequest mirrors pkg/server's PlanRequest DTO; duplicated here
// rather than imported since pkg/cli must not depend on pkg/server.
type planRequest struct {
	Config   string   `json:"config"`
	ToBuild  []string `json:"to_build,omitempty"`
	Filter   []string `json:"filter,omitempty"`
	Rollback bool     `json:"rollback,omitempty"`
}

func (h *CommandHandler) planCmd() *cobra.Command {
	var file string
	var toBuild, only []string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview the deploys a config would produce",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(file)
			if err != nil {
				return err
			}
			var deploys []model.Deploy
			req := planRequest{Config: cfg, ToBuild: toBuild, Filter: only}
			if err := h.client.Get(cmd.Context(), "/plan", req, &deploys); err != nil {
				return err
			}
			printPlan(cmd, deploys)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "deploy.yaml", "config file")
	cmd.Flags().StringSliceVarP(&toBuild, "build", "b", nil, "force a rebuild of these manual-build apps despite an existing image")
	cmd.Flags().StringSliceVar(&only, "only", nil, "restrict planning to these entities")
	return cmd
}

func printPlan(cmd *cobra.Command, deploys []model.Deploy) {
	if len(deploys) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no changes")
		return
	}
	for _, d := range deploys {
		line := fmt.Sprintf("%-8s %s", d.Action, d.Deployable.ShortName)
		switch d.Action {
		case model.ActionCreate:
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString(line))
		case model.ActionUpdate:
			fmt.Fprintln(cmd.OutOrStdout(), color.YellowString(line))
		case model.ActionDelete:
			fmt.Fprintln(cmd.OutOrStdout(), color.RedString(line))
		default:
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
	}
}

func confirm(prompt string) (bool, error) {
	return cmdutil.Confirm(os.Stdin, os.Stderr, prompt)
}

func (h *CommandHandler) deployCmd() *cobra.Command {
	var file, context, network string
	var toBuild, only []string
	var skipConfirm bool
	var timeoutSec int
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Plan, build and apply a deploy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd, timeoutSec)
			defer cancel()

			cfg, err := readConfig(file)
			if err != nil {
				return err
			}
			var deploys []model.Deploy
			req := planRequest{Config: cfg, ToBuild: toBuild, Filter: only}
			if err := h.client.Get(ctx, "/plan", req, &deploys); err != nil {
				return err
			}
			printPlan(cmd, deploys)
			if len(deploys) == 0 {
				return nil
			}
			if !skipConfirm {
				ok, err := confirm("apply this plan?")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
			}

			if err := h.runClientBuilds(ctx, cmd, network, context, deploys); err != nil {
				return err
			}

			if err := h.client.Post(ctx, "/new-deploy", deploys, nil); err != nil {
				return fmt.Errorf("apply failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("deploy applied"))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "deploy.yaml", "config file")
	cmd.Flags().StringVarP(&context, "context", "c", ".", "build context directory for apps that set no context of their own")
	cmd.Flags().StringVar(&network, "docker-network", "", "docker network name given to the local Docker adapter (the daemon always comes from the Docker environment variables; builds do not use this value)")
	cmd.Flags().StringSliceVarP(&toBuild, "build", "b", nil, "force a rebuild of these manual-build apps despite an existing image")
	cmd.Flags().StringSliceVar(&only, "only", nil, "restrict planning to these entities")
	cmd.Flags().BoolVarP(&skipConfirm, "yes", "s", false, "skip the confirmation prompt")
	cmd.Flags().IntVarP(&timeoutSec, "timeout", "t", 600, "overall deploy timeout, in seconds")
	return cmd
}

// runClientBuilds performs every ClientTaskBuild named in deploys against
// the operator's local Docker daemon, then uploads each resulting image
// to the manager node: builds happen on the operator's machine, never on
// the manager.
func (h *CommandHandler) runClientBuilds(ctx context.Context, cmd *cobra.Command, network, buildContext string, deploys []model.Deploy) error {
	var buildables []model.Buildable
	for _, d := range deploys {
		for _, t := range d.ClientTasks {
			if t.Kind == model.ClientTaskBuild && t.Buildable != nil {
				b := *t.Buildable
				if b.Context == "" {
					b.Context = buildContext
				}
				buildables = append(buildables, b)
			}
		}
	}
	if len(buildables) == 0 {
		return nil
	}

	adapter, err := swarm.Dial(network)
	if err != nil {
		return fmt.Errorf("dial local docker daemon: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "building %d image(s) locally...\n", len(buildables))
	results, err := buildplan.RunAll(ctx, localDriver{adapter: adapter}, buildables)
	if err != nil {
		for _, r := range results {
			if r.Err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "--- %s ---\n", r.Buildable.ShortName)
				for _, line := range r.Log {
					fmt.Fprintln(cmd.ErrOrStderr(), line)
				}
			}
		}
		return fmt.Errorf("build failed: %w", err)
	}

	for _, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "uploading %s...\n", r.Buildable.Tag)
		if err := uploadBuiltImage(ctx, h.client, adapter, r.Buildable.Tag); err != nil {
			return fmt.Errorf("upload %s: %w", r.Buildable.Tag, err)
		}
	}
	return nil
}

func withTimeout(cmd *cobra.Command, seconds int) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), time.Duration(seconds)*time.Second)
}

func (h *CommandHandler) rollbackCmd() *cobra.Command {
	var file string
	var skipConfirm bool
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Revert a project to its previous generation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(file)
			if err != nil {
				return err
			}
			var deploys []model.Deploy
			req := planRequest{Config: cfg, Rollback: true}
			if err := h.client.Get(cmd.Context(), "/plan", req, &deploys); err != nil {
				return err
			}
			printPlan(cmd, deploys)
			if len(deploys) == 0 {
				return nil
			}
			if !skipConfirm {
				ok, err := confirm("apply this rollback?")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
			}
			if err := h.client.Post(cmd.Context(), "/new-deploy", deploys, nil); err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("rollback applied"))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "deploy.yaml", "config file")
	cmd.Flags().BoolVarP(&skipConfirm, "yes", "s", false, "skip the confirmation prompt")
	return cmd
}

const newConfigTemplate = `project: myproject
apps:
  web:
    port: 8080
    domain: web.example.com
    replicas: 2
    dockerfile: Dockerfile
`

func (h *CommandHandler) newCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Scaffold a new deploy.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(file); err == nil {
				return fmt.Errorf("%s already exists", file)
			}
			if err := os.WriteFile(file, []byte(newConfigTemplate), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", file)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "deploy.yaml", "path to write")
	return cmd
}
