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

package buildplan

import (
	"context"

	"github.com/shiphq/ship/pkg/model"
	"golang.org/x/sync/errgroup"
)

// Driver is the client-side image build mechanism. The planner only needs
// to know a build happened and collect its log lines, never how the build
// is driven.
type Driver interface {
	// Build runs one Buildable to completion, streaming log lines to
	// logLine as they are produced. It must return promptly once ctx is
	// canceled, releasing any in-flight build stream.
	Build(ctx context.Context, b model.Buildable, logLine func(string)) error
}

// BuildResult is one buildable's outcome.
type BuildResult struct {
	Buildable model.Buildable
	Log       []string
	Err       error
}

// RunAll builds every buildable concurrently: one goroutine
// per build, sharing ctx as the broadcast abort signal. errgroup cancels
// the shared context on the first failure; every build's Driver.Build call
// is expected to select on ctx.Done() and return promptly, draining its
// stream rather than leaking it. The first failure's error is returned
// alongside the partial per-buildable logs collected before abort.
func RunAll(ctx context.Context, d Driver, buildables []model.Buildable) ([]BuildResult, error) {
	results := make([]BuildResult, len(buildables))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range buildables {
		i, b := i, b
		results[i].Buildable = b
		g.Go(func() error {
			err := d.Build(gctx, b, func(line string) {
				results[i].Log = append(results[i].Log, line)
			})
			results[i].Err = err
			return err
		})
	}
	err := g.Wait()
	return results, err
}
