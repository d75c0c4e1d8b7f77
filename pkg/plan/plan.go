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

// Package plan implements the planner: it resolves a
// project's templates, derives its connectables, buildables and
// deployables, then diffs the result against the last deployed generation
// to produce an ordered, minimal set of Deploy actions.
package plan

import (
	"fmt"
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/shiphq/ship/pkg/buildplan"
	"github.com/shiphq/ship/pkg/connect"
	"github.com/shiphq/ship/pkg/deployable"
	"github.com/shiphq/ship/pkg/model"
	"github.com/shiphq/ship/pkg/template"
)

// ConflictError is returned when a batch of deploys spans more than one
// project; a plan is always scoped to a single project.
type ConflictError struct {
	Projects []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("deploys span multiple projects: %v", e.Projects)
}

// Input is everything the planner needs to produce one plan.
type Input struct {
	// Project is the user-authored configuration, unresolved. It is
	// mutated in place by template resolution.
	Project *model.Project
	Secrets map[string]string
	// Baseline is the project's last persisted generation, or nil if
	// this is the first plan ever produced for the project.
	Baseline *model.Generation
	// Images is the tag inventory currently reported by the swarm
	// adapter's image list.
	Images []string
	// Filter restricts planning to these entity names (CLI --only).
	Filter []string
	// ToBuild names manual-build apps to rebuild despite an existing
	// image (CLI -b/--build).
	ToBuild []string
}

// healthCheckWaitSec is the fixed post-deploy convergence wait assigned
// to every AfterTask.
const healthCheckWaitSec = 5

// Plan runs the full pipeline: resolve templates, derive connectables,
// buildables and deployables, build one candidate Deploy per entity, then
// classify each against the baseline generation.
func Plan(in Input) ([]model.Deploy, error) {
	if in.Project == nil {
		return nil, fmt.Errorf("plan: nil project")
	}
	if in.Baseline != nil && in.Baseline.Project != in.Project.Name {
		return nil, &ConflictError{Projects: []string{in.Project.Name, in.Baseline.Project}}
	}

	// Connectables are derived once from the raw project to resolve
	// `this.X.field` placeholders, then rebuilt from the resolved
	// project so deployable labels carry fully-resolved domains.
	rawConnectables := connect.Build(in.Project)
	resolver := template.New(in.Secrets, rawConnectables)
	if err := resolver.ResolveProject(in.Project); err != nil {
		return nil, err
	}
	connectables := connect.Build(in.Project)

	buildables := buildplan.Plan(in.Project, in.Filter, in.ToBuild, in.Images)
	buildableByName := make(map[string]model.Buildable, len(buildables))
	for _, b := range buildables {
		buildableByName[b.ShortName] = b
	}

	deployables, err := deployable.Build(in.Project, buildableByName, in.Images)
	if err != nil {
		return nil, err
	}

	candidates := make(map[string]model.Deploy, len(deployables))
	for _, name := range deployable.SortedNames(deployables) {
		candidates[name] = candidateDeploy(name, deployables[name], connectables[name], buildableByName)
	}

	baseline := baselineByName(in.Baseline)

	var out []model.Deploy
	filterSet := toSet(in.Filter)
	if len(filterSet) > 0 {
		out = classifyFiltered(candidates, baseline, filterSet)
	} else {
		out = classifyUnfiltered(candidates, baseline, in.Baseline != nil)
	}
	out = append(out, deletions(candidates, baseline)...)
	return out, nil
}

func candidateDeploy(name string, d model.Deployable, c model.Connectable, buildables map[string]model.Buildable) model.Deploy {
	var clientTasks []model.ClientTask
	if b, ok := buildables[name]; ok {
		b := b
		clientTasks = []model.ClientTask{{Kind: model.ClientTaskBuild, Buildable: &b}}
	}
	return model.Deploy{
		Deployable:  d,
		Connectable: c,
		Lifecycle:   model.LifecycleAlways,
		ClientTasks: clientTasks,
		AfterTasks: []model.AfterTask{
			{Kind: model.AfterTaskHealthCheck, ServiceName: d.ServiceName, WaitSec: healthCheckWaitSec},
		},
		Action: model.ActionNothing,
	}
}

// baselineByName indexes the last generation's deploys by short name,
// dropping prior deletions (they left no trace to carry forward) and
// resetting the rest to Nothing so a fresh plan starts from "unchanged".
func baselineByName(g *model.Generation) map[string]model.Deploy {
	if g == nil {
		return nil
	}
	out := make(map[string]model.Deploy, len(g.Deploys))
	for _, d := range g.Deploys {
		if d.Action == model.ActionDelete {
			continue
		}
		d.Action = model.ActionNothing
		out[d.Name()] = d
	}
	return out
}

// classifyFiltered handles the --only case: entities named by the filter
// are (re)planned as Create or Update; entities not named but present in
// the baseline are carried forward untouched; entities named by neither
// are dropped from the plan entirely.
func classifyFiltered(candidates map[string]model.Deploy, baseline map[string]model.Deploy, filterSet map[string]struct{}) []model.Deploy {
	var out []model.Deploy
	for _, name := range sortedKeys(candidates) {
		cand := candidates[name]
		base, inBaseline := baseline[name]
		if _, wanted := filterSet[name]; wanted {
			if inBaseline {
				cand.Action = model.ActionUpdate
			} else {
				cand.Action = model.ActionCreate
			}
			out = append(out, cand)
			continue
		}
		if inBaseline {
			out = append(out, base)
		}
	}
	return out
}

// classifyUnfiltered handles the no-filter case: every current entity is
// planned; hadBaseline distinguishes "no prior
// generation at all" (everything Create) from "prior generation exists"
// (per-entity Create/Update/Nothing by structural comparison).
func classifyUnfiltered(candidates map[string]model.Deploy, baseline map[string]model.Deploy, hadBaseline bool) []model.Deploy {
	var out []model.Deploy
	for _, name := range sortedKeys(candidates) {
		cand := candidates[name]
		base, inBaseline := baseline[name]
		switch {
		case !hadBaseline:
			cand.Action = model.ActionCreate
		case inBaseline && Equal(cand, base):
			cand.Action = model.ActionNothing
		case inBaseline:
			cand.Action = model.ActionUpdate
		default:
			cand.Action = model.ActionCreate
		}
		out = append(out, cand)
	}
	return out
}

// deletions returns one Delete Deploy for every baseline entity absent
// from the current candidate set.
func deletions(candidates map[string]model.Deploy, baseline map[string]model.Deploy) []model.Deploy {
	var out []model.Deploy
	for _, name := range sortedKeys(baseline) {
		if _, ok := candidates[name]; ok {
			continue
		}
		d := baseline[name]
		d.Action = model.ActionDelete
		d.ClientTasks = nil
		out = append(out, d)
	}
	return out
}

// Equal reports whether two Deploys agree structurally: their Deployable,
// Connectable, client tasks and lifecycle all agree. Action is
// deliberately excluded from the comparison.
func Equal(a, b model.Deploy) bool {
	return cmp.Equal(a.Deployable, b.Deployable) &&
		cmp.Equal(a.Connectable, b.Connectable) &&
		cmp.Equal(a.ClientTasks, b.ClientTasks) &&
		a.Lifecycle == b.Lifecycle
}

func toSet(ss []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		m[s] = struct{}{}
	}
	return m
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
