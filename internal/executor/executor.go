// Package executor runs one action to completion: it validates parameters,
// walks the step list, renders prompt templates, and drives the multi-turn
// tool loop against the model cascade.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/acteon/acteon/internal/action"
	"github.com/acteon/acteon/internal/cascade"
	"github.com/acteon/acteon/internal/fault"
	"github.com/acteon/acteon/internal/invocation"
	"github.com/acteon/acteon/internal/schema"
	"github.com/acteon/acteon/internal/template"
)

// DefaultStepTimeout bounds one step, procedural or LLM.
const DefaultStepTimeout = 20 * time.Second

// DefaultPruneThreshold is the conversation length beyond which
// intermediate messages are collapsed. A memory heuristic, not semantics.
const DefaultPruneThreshold = 12

// defaultMetaDepth caps meta-prompt recursion.
const defaultMetaDepth = 4

// LLMClient is the slice of the cascade the executor needs.
type LLMClient interface {
	Generate(ctx context.Context, messages []cascade.Message, tier cascade.Tier, tools []cascade.Tool) (*cascade.Message, error)
	GenerateWithSchema(ctx context.Context, messages []cascade.Message, tier cascade.Tier, s schema.Schema) (*cascade.Message, error)
}

// StateProvider supplies the external collaborator's current state as a
// text bundle. The executor never interprets the string.
type StateProvider interface {
	StateBundle(ctx context.Context) (string, error)
}

type Executor struct {
	registry *action.Registry
	llm      LLMClient
	state    StateProvider
	logger   *zap.Logger

	stepTimeout    time.Duration
	pruneThreshold int
	pruneTail      int
	metaDepth      int
}

type Option func(*Executor)

func WithStepTimeout(d time.Duration) Option { return func(e *Executor) { e.stepTimeout = d } }

func WithStateProvider(s StateProvider) Option { return func(e *Executor) { e.state = s } }

func WithPruneThreshold(n int) Option { return func(e *Executor) { e.pruneThreshold = n } }

func WithMetaDepth(n int) Option { return func(e *Executor) { e.metaDepth = n } }

func New(registry *action.Registry, llm LLMClient, logger *zap.Logger, opts ...Option) *Executor {
	e := &Executor{
		registry:       registry,
		llm:            llm,
		logger:         logger.Named("executor"),
		stepTimeout:    DefaultStepTimeout,
		pruneThreshold: DefaultPruneThreshold,
		pruneTail:      6,
		metaDepth:      defaultMetaDepth,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute validates params against the action's input schema, then runs
// its steps in order, feeding each step the previous step's result.
func (e *Executor) Execute(ctx context.Context, name string, params map[string]any) (any, error) {
	a, ok := e.registry.Get(name)
	if !ok {
		return nil, fault.NotFound("action %q not found", name)
	}
	e.logger.Debug("executing action",
		zap.String("action", name), zap.String("invocation", invocation.ID(ctx)))
	if err := schema.Validate(params, a.InputSchema); err != nil {
		return nil, err
	}

	var result any
	for i, step := range a.Steps {
		var err error
		result, err = e.runStep(ctx, step, params, result)
		if err != nil {
			return nil, fmt.Errorf("action %q step %d: %w", name, i, err)
		}
	}
	return result, nil
}

func (e *Executor) runStep(ctx context.Context, step action.Step, params map[string]any, prev any) (any, error) {
	switch step.Kind {
	case action.StepProcedure:
		return e.withDeadline(ctx, func(stepCtx context.Context) (any, error) {
			return step.Run(stepCtx, params, prev)
		})

	case action.StepSubAction:
		subParams := params
		if step.MapParams != nil {
			subParams = step.MapParams(params, prev)
		}
		return e.withDeadline(ctx, func(stepCtx context.Context) (any, error) {
			return e.Execute(stepCtx, step.SubAction, subParams)
		})

	case action.StepLLM:
		if step.LLM.ToolChoice != nil {
			// The loop is bounded by max_iterations times the model-call
			// timeout; sub-actions inside it each get the step deadline.
			return e.runLoop(ctx, step.LLM, params, prev)
		}
		return e.withDeadline(ctx, func(stepCtx context.Context) (any, error) {
			return e.singleShot(stepCtx, step.LLM, params, prev)
		})

	default:
		return nil, fmt.Errorf("unknown step kind %d", step.Kind)
	}
}

type stepOutcome struct {
	value any
	err   error
}

// withDeadline runs fn under the step timeout: the work runs in its own
// goroutine and a timeout surfaces as a Timeout fault without waiting for
// it to unwind.
func (e *Executor) withDeadline(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	done := make(chan stepOutcome, 1)
	go func() {
		v, err := fn(stepCtx)
		done <- stepOutcome{v, err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-stepCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fault.Timeout("step exceeded %s", e.stepTimeout)
	}
}

// singleShot drives one model round-trip whose answer must match the
// step's output schema.
func (e *Executor) singleShot(ctx context.Context, ls *action.LLMStep, params map[string]any, prev any) (any, error) {
	tmplCtx := mergeContext(params, prev)

	sys, err := e.resolveSystemPrompt(ctx, ls.SystemPrompt, tmplCtx, 0)
	if err != nil {
		return nil, err
	}

	messages := []cascade.Message{
		cascade.SystemMessage(sys),
		cascade.UserMessage(template.Render(ls.Message, tmplCtx)),
	}
	messages = e.withExternalState(ctx, messages)

	resp, err := e.llm.GenerateWithSchema(ctx, messages, tierFor(ls.Intelligence), *ls.OutputSchema)
	if err != nil {
		return nil, err
	}
	if len(resp.ToolCalls) == 0 {
		return nil, fault.Provider(nil, "model answered without the structured response call")
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(resp.ToolCalls[0].Function.Arguments), &out); err != nil {
		return nil, fault.Provider(err, "structured response is not valid JSON")
	}
	return out, nil
}

// resolveSystemPrompt unwinds meta-prompts: a generated prompt is produced
// by a model call whose own system prompt resolves first. A literal prompt
// is rendered against the template context. Depth is capped.
func (e *Executor) resolveSystemPrompt(ctx context.Context, sp action.SystemPrompt, tmplCtx map[string]any, depth int) (string, error) {
	if sp.Meta == nil {
		return template.Render(sp.Text, tmplCtx), nil
	}
	if depth >= e.metaDepth {
		return "", fmt.Errorf("meta-prompt recursion deeper than %d", e.metaDepth)
	}

	inner, err := e.resolveSystemPrompt(ctx, sp.Meta.SystemPrompt, tmplCtx, depth+1)
	if err != nil {
		return "", err
	}

	messages := []cascade.Message{
		cascade.SystemMessage(inner),
		cascade.UserMessage(template.Render(sp.Meta.Message, tmplCtx)),
	}
	resp, err := e.llm.GenerateWithSchema(ctx, messages, tierFor(sp.Meta.Intelligence), promptSchema)
	if err != nil {
		return "", fmt.Errorf("generating system prompt: %w", err)
	}
	if len(resp.ToolCalls) == 0 {
		return "", fault.Provider(nil, "prompt generator answered without the structured response call")
	}
	var out struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(resp.ToolCalls[0].Function.Arguments), &out); err != nil {
		return "", fault.Provider(err, "generated prompt is not valid JSON")
	}
	return out.Prompt, nil
}

var promptSchema = schema.Object(map[string]schema.Property{
	"prompt": {Type: schema.TypeString, Description: "The generated system prompt."},
}, "prompt")

// withExternalState returns a view of messages with a synthetic user
// message carrying the collaborator state, inserted directly before the
// last user message, or appended when there is none. The input slice is
// not mutated.
func (e *Executor) withExternalState(ctx context.Context, messages []cascade.Message) []cascade.Message {
	if e.state == nil {
		return messages
	}
	bundle, err := e.state.StateBundle(ctx)
	if err != nil {
		e.logger.Warn("state bundle unavailable", zap.Error(err))
		return messages
	}
	stateMsg := cascade.UserMessage("Current external state:\n" + bundle)

	lastUser := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == cascade.RoleUser {
			lastUser = i
			break
		}
	}

	view := make([]cascade.Message, 0, len(messages)+1)
	if lastUser < 0 {
		view = append(view, messages...)
		return append(view, stateMsg)
	}
	view = append(view, messages[:lastUser]...)
	view = append(view, stateMsg)
	return append(view, messages[lastUser:]...)
}

// mergeContext layers the previous step's result fields over the action
// parameters for template rendering.
func mergeContext(params map[string]any, prev any) map[string]any {
	out := make(map[string]any, len(params)+4)
	for k, v := range params {
		out[k] = v
	}
	if m, ok := prev.(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

func tierFor(i action.Intelligence) cascade.Tier {
	switch i {
	case action.IntelligenceHigh:
		return cascade.TierHigh
	case action.IntelligenceMedium:
		return cascade.TierMedium
	default:
		return cascade.TierLow
	}
}
