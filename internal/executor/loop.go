package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/acteon/acteon/internal/action"
	"github.com/acteon/acteon/internal/cascade"
	"github.com/acteon/acteon/internal/fault"
	"github.com/acteon/acteon/internal/schema"
	"github.com/acteon/acteon/internal/template"
)

const toolReminder = "Reply by calling one of the available tools."

const unableToComplete = "Unable to complete the task within the allotted number of steps."

// runLoop drives the multi-turn conversation for a tool-choice LLM step
// until the model selects the stop action or the iteration budget runs
// out.
func (e *Executor) runLoop(ctx context.Context, ls *action.LLMStep, params map[string]any, prev any) (any, error) {
	tc := ls.ToolChoice

	tools, err := e.compileTools(tc.AvailableActions)
	if err != nil {
		return nil, err
	}

	tmplCtx := mergeContext(params, prev)
	tmplCtx["available_tools"] = e.describeTools(tc)
	tmplCtx["decision_guide"] = e.decisionGuide(tc.AvailableActions)
	if e.state != nil {
		if bundle, err := e.state.StateBundle(ctx); err == nil {
			tmplCtx["browser_state"] = bundle
		}
	}

	sys, err := e.resolveSystemPrompt(ctx, ls.SystemPrompt, tmplCtx, 0)
	if err != nil {
		return nil, err
	}

	conversation := []cascade.Message{
		cascade.SystemMessage(sys),
		cascade.UserMessage(template.Render(ls.Message, tmplCtx)),
	}

	for iter := 0; iter < tc.MaxIterations; iter++ {
		view := e.withExternalState(ctx, conversation)

		resp, err := e.llm.Generate(ctx, view, tierFor(ls.Intelligence), tools)
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Content != "" {
				conversation = append(conversation, *resp)
			}
			conversation = append(conversation, cascade.UserMessage(toolReminder))
			conversation = e.prune(conversation)
			continue
		}

		conversation = append(conversation, *resp)

		for _, call := range resp.ToolCalls {
			outcome := e.dispatchToolCall(ctx, tc, call, conversation)
			if outcome.stopped {
				return outcome.result, nil
			}
			conversation = append(conversation, outcome.message)
			if outcome.failed {
				// Later calls in the burst may depend on this one; stop
				// here so the model sees the failure next turn.
				break
			}
		}

		conversation = e.prune(conversation)
	}

	return e.syntheticStop(ctx, tc, conversation)
}

type callOutcome struct {
	stopped bool
	result  any
	message cascade.Message
	failed  bool
}

// dispatchToolCall parses and executes one tool call. Recoverable failures
// become tool-response messages; the stop action terminates the loop with
// its unwrapped result.
func (e *Executor) dispatchToolCall(ctx context.Context, tc *action.ToolChoice, call cascade.ToolCall, conversation []cascade.Message) callOutcome {
	name := call.Function.Name

	var args map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return failedCall(call.ID, map[string]any{
			"error": "arguments are not valid JSON: " + err.Error(),
		})
	}

	if !containsString(tc.AvailableActions, name) {
		return failedCall(call.ID, map[string]any{
			"error": fmt.Sprintf("action %q is not available", name),
		})
	}
	target, ok := e.registry.Get(name)
	if !ok {
		return failedCall(call.ID, map[string]any{
			"error": fmt.Sprintf("action %q not found", name),
		})
	}

	subParams := target.InputSchema.Project(args)
	if name == tc.StopAction {
		subParams["messages"] = serializeConversation(conversation)
	}

	result, err := e.withDeadline(ctx, func(stepCtx context.Context) (any, error) {
		return e.Execute(stepCtx, name, subParams)
	})
	if err != nil {
		if fault.IsValidation(err) {
			return failedCall(call.ID, map[string]any{
				"error":   "Validation failed",
				"details": fault.DetailsOf(err),
			})
		}
		return failedCall(call.ID, map[string]any{"error": err.Error()})
	}

	if name == tc.StopAction {
		return callOutcome{stopped: true, result: unwrapStop(result)}
	}
	return callOutcome{message: cascade.ToolResponse(call.ID, stringify(result))}
}

func failedCall(callID string, payload map[string]any) callOutcome {
	return callOutcome{message: cascade.ToolResponse(callID, stringify(payload)), failed: true}
}

// syntheticStop runs the stop action once with a canned answer after the
// iteration budget is exhausted.
func (e *Executor) syntheticStop(ctx context.Context, tc *action.ToolChoice, conversation []cascade.Message) (any, error) {
	e.logger.Info("iteration budget exhausted, forcing stop action",
		zap.String("stop_action", tc.StopAction), zap.Int("max_iterations", tc.MaxIterations))

	params := map[string]any{
		"response": unableToComplete,
		"success":  false,
		"messages": serializeConversation(conversation),
	}
	result, err := e.withDeadline(ctx, func(stepCtx context.Context) (any, error) {
		return e.Execute(stepCtx, tc.StopAction, params)
	})
	if err != nil {
		return nil, fmt.Errorf("synthetic stop %q: %w", tc.StopAction, err)
	}
	return unwrapStop(result), nil
}

// unwrapStop extracts the user-visible value from a stop-action result: a
// string as-is, else the result's message field, else its response field,
// else the JSON serialization.
func unwrapStop(result any) any {
	switch v := result.(type) {
	case string:
		return v
	case map[string]any:
		if m, ok := v["message"]; ok && m != nil {
			return m
		}
		if r, ok := v["response"]; ok && r != nil {
			return r
		}
	}
	return stringify(result)
}

// compileTools turns each available action into a function tool whose
// parameters are its input schema plus the mandatory justification and
// instructions fields.
func (e *Executor) compileTools(names []string) ([]cascade.Tool, error) {
	tools := make([]cascade.Tool, 0, len(names))
	for _, name := range names {
		a, ok := e.registry.Get(name)
		if !ok {
			return nil, fault.NotFound("action %q not found", name)
		}
		params := a.InputSchema.WithExtra(map[string]schema.Property{
			"justification": {Type: schema.TypeString, Description: "Why this tool is the right choice now."},
			"instructions":  {Type: schema.TypeString, Description: "What exactly to do with it."},
		}, "justification", "instructions")
		tools = append(tools, cascade.NewTool(name, a.Description, params))
	}
	return tools, nil
}

// describeTools builds the numbered available_tools template variable.
func (e *Executor) describeTools(tc *action.ToolChoice) string {
	var sb strings.Builder
	for i, name := range tc.AvailableActions {
		a, _ := e.registry.Get(name)
		marker := ""
		if name == tc.StopAction {
			marker = " [STOP]"
		}
		fmt.Fprintf(&sb, "%d. %s%s: %s\n", i+1, name, marker, a.Description)
		if len(a.InputSchema.Required) > 0 {
			fmt.Fprintf(&sb, "   Requires: %s\n", strings.Join(a.InputSchema.Required, ", "))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// decisionGuide gathers example utterances into the decision_guide
// template variable.
func (e *Executor) decisionGuide(names []string) string {
	var sb strings.Builder
	for _, name := range names {
		a, _ := e.registry.Get(name)
		for _, ex := range a.Examples {
			fmt.Fprintf(&sb, "- %q → %s\n", ex, name)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// prune collapses long conversations, keeping the system message, the
// first user message, and the tail. The tail never starts on an orphaned
// tool response.
func (e *Executor) prune(conversation []cascade.Message) []cascade.Message {
	if len(conversation) <= e.pruneThreshold {
		return conversation
	}
	start := len(conversation) - e.pruneTail
	if start < 2 {
		return conversation
	}
	for start > 2 && conversation[start].Role == cascade.RoleTool {
		start--
	}
	pruned := make([]cascade.Message, 0, 2+len(conversation)-start)
	pruned = append(pruned, conversation[0], conversation[1])
	return append(pruned, conversation[start:]...)
}

func serializeConversation(conversation []cascade.Message) string {
	b, err := json.Marshal(conversation)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// stringify renders a tool result for the wire: strings pass through,
// everything else serializes as JSON.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
