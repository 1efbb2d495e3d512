// Package action declares the immutable recipes the executor runs: a named
// action with an input schema and an ordered step list, registered once at
// startup in a read-only registry.
package action

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/acteon/acteon/internal/schema"
)

// Intelligence selects the cascade starting tier for an LLM step.
type Intelligence string

const (
	IntelligenceHigh   Intelligence = "HIGH"
	IntelligenceMedium Intelligence = "MEDIUM"
	IntelligenceLow    Intelligence = "LOW"
)

func (i Intelligence) Valid() bool {
	switch i {
	case IntelligenceHigh, IntelligenceMedium, IntelligenceLow:
		return true
	}
	return false
}

// ProcFunc is an opaque procedural step. It receives the action parameters
// and the previous step's result and must return a JSON-serializable value
// before the step deadline, or an error.
type ProcFunc func(ctx context.Context, params map[string]any, prev any) (any, error)

// ParamMapper derives a sub-action's parameters from the calling action's
// params and the previous step result.
type ParamMapper func(params map[string]any, prev any) map[string]any

// ToolChoice configures a multi-turn LLM step: which actions the model may
// call and which one terminates the loop.
type ToolChoice struct {
	AvailableActions []string `yaml:"available_actions"`
	StopAction       string   `yaml:"stop_action"`
	MaxIterations    int      `yaml:"max_iterations"`
}

// SystemPrompt is either a literal prompt string or a meta-prompt that
// generates one through a model call.
type SystemPrompt struct {
	Text string
	Meta *MetaPrompt
}

// MetaPrompt is a prompt generator: its own (possibly recursive) system
// prompt, a user message template, and an intelligence level.
type MetaPrompt struct {
	SystemPrompt SystemPrompt `yaml:"system_prompt"`
	Message      string       `yaml:"message"`
	Intelligence Intelligence `yaml:"intelligence"`
}

// UnmarshalYAML accepts either a plain string or a nested prompt generator.
func (p *SystemPrompt) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&p.Text)
	}
	var meta MetaPrompt
	if err := value.Decode(&meta); err != nil {
		return err
	}
	p.Meta = &meta
	return nil
}

// IsZero reports an unset prompt (no literal and no generator).
func (p SystemPrompt) IsZero() bool { return p.Text == "" && p.Meta == nil }

// LLMStep drives the model once (with an output schema) or in a multi-turn
// tool loop (with a tool choice). Exactly one of the two must be set.
type LLMStep struct {
	SystemPrompt SystemPrompt
	Message      string
	Intelligence Intelligence
	OutputSchema *schema.Schema
	ToolChoice   *ToolChoice
}

type StepKind int

const (
	StepProcedure StepKind = iota
	StepLLM
	StepSubAction
)

// Step is a tagged variant: a procedure, an LLM step, or a direct
// sub-action invocation with an optional parameter mapper.
type Step struct {
	Kind      StepKind
	Run       ProcFunc
	LLM       *LLMStep
	SubAction string
	MapParams ParamMapper
}

func Procedure(fn ProcFunc) Step { return Step{Kind: StepProcedure, Run: fn} }

func LLM(s LLMStep) Step { return Step{Kind: StepLLM, LLM: &s} }

func Invoke(name string, m ParamMapper) Step {
	return Step{Kind: StepSubAction, SubAction: name, MapParams: m}
}

// Action is an immutable declarative recipe. Examples feed the decision
// guide shown to the model when the action is offered as a tool.
type Action struct {
	Name        string
	Description string
	Examples    []string
	InputSchema schema.Schema
	Steps       []Step
}

func (a Action) check() error {
	if a.Name == "" {
		return fmt.Errorf("action without a name")
	}
	if len(a.Steps) == 0 {
		return fmt.Errorf("action %q has no steps", a.Name)
	}
	if err := a.InputSchema.Check(); err != nil {
		return fmt.Errorf("action %q input schema: %w", a.Name, err)
	}
	for i, s := range a.Steps {
		if err := checkStep(s); err != nil {
			return fmt.Errorf("action %q step %d: %w", a.Name, i, err)
		}
	}
	return nil
}

func checkStep(s Step) error {
	switch s.Kind {
	case StepProcedure:
		if s.Run == nil {
			return fmt.Errorf("procedure step without a function")
		}
	case StepSubAction:
		if s.SubAction == "" {
			return fmt.Errorf("sub-action step without a target")
		}
	case StepLLM:
		l := s.LLM
		if l == nil {
			return fmt.Errorf("llm step without a body")
		}
		if l.SystemPrompt.IsZero() {
			return fmt.Errorf("llm step without a system prompt")
		}
		if !l.Intelligence.Valid() {
			return fmt.Errorf("llm step with invalid intelligence %q", l.Intelligence)
		}
		if (l.OutputSchema == nil) == (l.ToolChoice == nil) {
			return fmt.Errorf("llm step must set exactly one of output_schema or tool_choice")
		}
		if l.OutputSchema != nil {
			if err := l.OutputSchema.Check(); err != nil {
				return fmt.Errorf("output schema: %w", err)
			}
		}
		if tc := l.ToolChoice; tc != nil {
			if tc.MaxIterations < 1 {
				return fmt.Errorf("tool choice max_iterations must be >= 1, got %d", tc.MaxIterations)
			}
			if len(tc.AvailableActions) == 0 {
				return fmt.Errorf("tool choice without available actions")
			}
			if !containsString(tc.AvailableActions, tc.StopAction) {
				return fmt.Errorf("stop action %q is not in available actions", tc.StopAction)
			}
		}
	default:
		return fmt.Errorf("unknown step kind %d", s.Kind)
	}
	return nil
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
