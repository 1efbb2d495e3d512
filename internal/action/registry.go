package action

import (
	"fmt"
	"sort"
)

// Registry is the process-wide read-only map from action name to Action.
// It is built once at startup; lookups need no synchronization afterwards.
type Registry struct {
	actions map[string]Action
}

// Build unions the given action sets into a registry and verifies the
// cross-action invariants: unique names, every referenced sub-action and
// every tool-choice action resolving, stop actions contained in their
// available set.
func Build(sets ...[]Action) (*Registry, error) {
	actions := make(map[string]Action)
	for _, set := range sets {
		for _, a := range set {
			if err := a.check(); err != nil {
				return nil, err
			}
			if _, dup := actions[a.Name]; dup {
				return nil, fmt.Errorf("duplicate action %q", a.Name)
			}
			actions[a.Name] = a
		}
	}

	for _, a := range actions {
		for i, s := range a.Steps {
			switch s.Kind {
			case StepSubAction:
				if _, ok := actions[s.SubAction]; !ok {
					return nil, fmt.Errorf("action %q step %d references unknown action %q", a.Name, i, s.SubAction)
				}
			case StepLLM:
				if tc := s.LLM.ToolChoice; tc != nil {
					for _, name := range tc.AvailableActions {
						if _, ok := actions[name]; !ok {
							return nil, fmt.Errorf("action %q step %d offers unknown action %q", a.Name, i, name)
						}
					}
				}
			}
		}
	}

	return &Registry{actions: actions}, nil
}

// Get looks an action up by exact name.
func (r *Registry) Get(name string) (Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

// Names returns all registered action names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.actions))
	for n := range r.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int { return len(r.actions) }
