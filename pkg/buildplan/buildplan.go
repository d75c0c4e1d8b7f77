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

// Package buildplan implements the buildable planner: the
// set of image-build tasks for a project, skipping entities whose image
// already exists when policy allows.
package buildplan

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/docker/distribution/reference"
	"github.com/shiphq/ship/pkg/model"
)

// tagCounter breaks ties between builds issued within the same
// nanosecond, without relying on wall-clock resolution alone.
var tagCounter uint32

// nextTag assigns the buildable's tag: a nanosecond timestamp plus a
// monotonic in-process counter, so two builds in the same plan never
// collide even when issued back to back.
func nextTag(project, name string) string {
	n := atomic.AddUint32(&tagCounter, 1)
	return fmt.Sprintf("%s-%s-image:%d-%04d", project, name, time.Now().UnixNano(), n%10000)
}

// Plan derives the Buildable set for a project's Apps.
//
// filter: CLI-supplied app name allowlist (empty means "no filter").
// toBuild: explicit -b/--build override names for manual-build apps.
// images: tags currently present in the image inventory (C10 list_images).
func Plan(p *model.Project, filter, toBuild, images []string) []model.Buildable {
	filterSet := toSet(filter)
	toBuildSet := toSet(toBuild)

	var out []model.Buildable
	for name, app := range p.Apps {
		prefix := fmt.Sprintf("%s-%s-image", p.Name, name)
		hasExisting := anyHasPrefix(images, prefix)
		mode := app.Build
		if mode != model.BuildManual {
			mode = model.BuildAuto
		}

		if hasExisting {
			if len(filterSet) > 0 {
				// An explicit --only selection is a rebuild request for
				// the apps it names; apps left out keep their image.
				if _, requested := filterSet[name]; !requested {
					continue
				}
			} else if mode != model.BuildManual {
				// No filter: an already-built auto app is reused rather
				// than rebuilt on every plan. Without this, re-planning a
				// converged project would always mint a fresh image tag
				// and the plan could never settle on "Nothing".
				continue
			}
		}
		if mode == model.BuildManual {
			if _, explicit := toBuildSet[name]; !explicit && hasExisting {
				continue
			}
		}

		driver := app.Driver
		if driver == "" {
			driver = model.BuildDockerfile
		}
		out = append(out, model.Buildable{
			ShortName:  name,
			Project:    p.Name,
			Driver:     driver,
			Dockerfile: app.Dockerfile,
			NixCmds:    app.NixCmds,
			Context:    app.Context,
			Tag:        nextTag(p.Name, name),
			BuildArgs:  app.BuildArgs,
		})
	}
	return out
}

// ValidateTag checks that a buildable's assigned tag parses as a valid
// image reference, using the same reference grammar the swarm adapter and
// registry use.
func ValidateTag(tag string) error {
	if _, err := reference.ParseNormalizedNamed(tag); err != nil {
		return fmt.Errorf("invalid image tag %q: %w", tag, err)
	}
	return nil
}

func toSet(ss []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		m[s] = struct{}{}
	}
	return m
}

func anyHasPrefix(tags []string, prefix string) bool {
	for _, t := range tags {
		if strings.HasPrefix(t, prefix+":") {
			return true
		}
	}
	return false
}
