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

package plan

import (
	"fmt"

	"github.com/shiphq/ship/pkg/model"
)

// MissingPriorError is returned when a rollback needs a matching entry in
// the previous generation that isn't there (an Update or a Delete with no
// prior record to fall back to).
type MissingPriorError struct {
	Name   string
	Action string
}

func (e *MissingPriorError) Error() string {
	return fmt.Sprintf("rollback: %s %q has no matching entry in the prior generation", e.Action, e.Name)
}

// Rollback inverts current against previous, producing the
// Deploy batch that takes the swarm from current's state back to
// previous's:
//
//   - Update: replaced by the matching previous entry (re-applied as an
//     Update); fatal if previous has no entry by that name.
//   - Create: the entity didn't exist before current, so it is deleted —
//     unless previous already had an equal entry, in which case nothing
//     changed and the action becomes Nothing.
//   - Delete: the entity existed before current removed it, so it is
//     recreated from the previous entry; fatal if previous has no entry
//     by that name.
//   - Nothing: carried forward unchanged.
func Rollback(current, previous *model.Generation) ([]model.Deploy, error) {
	if current == nil {
		return nil, fmt.Errorf("rollback: no current generation")
	}
	if previous != nil && current.Project != previous.Project {
		return nil, &ConflictError{Projects: []string{current.Project, previous.Project}}
	}

	prevByName := map[string]model.Deploy{}
	if previous != nil {
		for _, d := range previous.Deploys {
			prevByName[d.Name()] = d
		}
	}

	out := make([]model.Deploy, 0, len(current.Deploys))
	for _, d := range current.Deploys {
		switch d.Action {
		case model.ActionUpdate:
			prev, ok := prevByName[d.Name()]
			if !ok {
				return nil, &MissingPriorError{Name: d.Name(), Action: string(d.Action)}
			}
			prev.Action = model.ActionUpdate
			out = append(out, prev)

		case model.ActionCreate:
			prev, ok := prevByName[d.Name()]
			if ok && Equal(d, prev) {
				prev.Action = model.ActionNothing
				out = append(out, prev)
				continue
			}
			d.Action = model.ActionDelete
			d.ClientTasks = nil
			out = append(out, d)

		case model.ActionDelete:
			prev, ok := prevByName[d.Name()]
			if !ok {
				return nil, &MissingPriorError{Name: d.Name(), Action: string(d.Action)}
			}
			prev.Action = model.ActionCreate
			out = append(out, prev)

		default: // model.ActionNothing
			out = append(out, d)
		}
	}
	return out, nil
}
