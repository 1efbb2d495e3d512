package executor

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/acteon/acteon/internal/action"
	"github.com/acteon/acteon/internal/cascade"
	"github.com/acteon/acteon/internal/fault"
	"github.com/acteon/acteon/internal/schema"
)

func respondMsg(args string) *cascade.Message {
	return &cascade.Message{
		Role: cascade.RoleAssistant,
		ToolCalls: []cascade.ToolCall{{
			ID:       "call_respond",
			Type:     "function",
			Function: cascade.FunctionCall{Name: cascade.RespondTool, Arguments: args},
		}},
	}
}

func buildExec(t *testing.T, actions []action.Action, llm *stubLLM, opts ...Option) *Executor {
	t.Helper()
	reg, err := action.Build(actions)
	require.NoError(t, err)
	return New(reg, llm, zaptest.NewLogger(t), opts...)
}

func summarizeAction() action.Action {
	return action.Action{
		Name:        "summarize",
		Description: "Summarize text.",
		InputSchema: schema.Object(map[string]schema.Property{
			"text": {Type: schema.TypeString},
		}, "text"),
		Steps: []action.Step{action.LLM(action.LLMStep{
			SystemPrompt: action.SystemPrompt{Text: "You summarize."},
			Message:      "Summarize: {{text}}",
			Intelligence: action.IntelligenceMedium,
			OutputSchema: &schema.Schema{
				Type: schema.TypeObject,
				Properties: map[string]schema.Property{
					"summary": {Type: schema.TypeString},
				},
				Required: []string{"summary"},
			},
		})},
	}
}

func TestSingleShotOutputSchema(t *testing.T) {
	llm := &stubLLM{responses: []*cascade.Message{respondMsg(`{"summary":"short"}`)}}
	exec := buildExec(t, []action.Action{summarizeAction()}, llm)

	out, err := exec.Execute(context.Background(), "summarize", map[string]any{"text": "long text"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"summary": "short"}, out)

	view := llm.view(0)
	require.Len(t, view, 2)
	assert.Equal(t, "You summarize.", view[0].Content)
	assert.Equal(t, "Summarize: long text", view[1].Content)

	require.Len(t, llm.schemas, 1)
	assert.Contains(t, llm.schemas[0].Properties, "summary")
}

func TestSingleShotPrevResultInContext(t *testing.T) {
	fetch := action.Procedure(func(context.Context, map[string]any, any) (any, error) {
		return map[string]any{"text": "fetched body"}, nil
	})
	a := summarizeAction()
	a.InputSchema = schema.Object(map[string]schema.Property{
		"url": {Type: schema.TypeString},
	}, "url")
	a.Steps = append([]action.Step{fetch}, a.Steps...)

	llm := &stubLLM{responses: []*cascade.Message{respondMsg(`{"summary":"s"}`)}}
	exec := buildExec(t, []action.Action{a}, llm)

	_, err := exec.Execute(context.Background(), "summarize", map[string]any{"url": "http://x"})
	require.NoError(t, err)
	assert.Equal(t, "Summarize: fetched body", llm.view(0)[1].Content)
}

func TestMetaPromptResolution(t *testing.T) {
	a := summarizeAction()
	a.Steps[0].LLM.SystemPrompt = action.SystemPrompt{Meta: &action.MetaPrompt{
		SystemPrompt: action.SystemPrompt{Text: "You write system prompts."},
		Message:      "Prompt for summarizing {{text}}",
		Intelligence: action.IntelligenceLow,
	}}

	llm := &stubLLM{responses: []*cascade.Message{
		respondMsg(`{"prompt":"Be terse."}`),
		respondMsg(`{"summary":"ok"}`),
	}}
	exec := buildExec(t, []action.Action{a}, llm)

	out, err := exec.Execute(context.Background(), "summarize", map[string]any{"text": "war and peace"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"summary": "ok"}, out)
	require.Equal(t, 2, llm.calls())

	// First call generates the prompt; second uses it as the system prompt.
	genView := llm.view(0)
	assert.Equal(t, "You write system prompts.", genView[0].Content)
	assert.Equal(t, "Prompt for summarizing war and peace", genView[1].Content)
	assert.Equal(t, "Be terse.", llm.view(1)[0].Content)
}

func TestMetaPromptDepthCap(t *testing.T) {
	// A generator chain deeper than the cap fails instead of recursing.
	deep := action.SystemPrompt{Text: "base"}
	for i := 0; i < 6; i++ {
		deep = action.SystemPrompt{Meta: &action.MetaPrompt{
			SystemPrompt: deep,
			Message:      "m",
			Intelligence: action.IntelligenceLow,
		}}
	}
	a := summarizeAction()
	a.Steps[0].LLM.SystemPrompt = deep

	exec := buildExec(t, []action.Action{a}, &stubLLM{}, WithMetaDepth(3))
	_, err := exec.Execute(context.Background(), "summarize", map[string]any{"text": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recursion")
}

type staticState struct{ bundle string }

func (s staticState) StateBundle(context.Context) (string, error) { return s.bundle, nil }

func TestExternalStateInsertedBeforeLastUser(t *testing.T) {
	llm := &stubLLM{responses: []*cascade.Message{respondMsg(`{"summary":"s"}`)}}
	exec := buildExec(t, []action.Action{summarizeAction()}, llm,
		WithStateProvider(staticState{bundle: "tab 1: https://example.com"}))

	_, err := exec.Execute(context.Background(), "summarize", map[string]any{"text": "x"})
	require.NoError(t, err)

	view := llm.view(0)
	require.Len(t, view, 3)
	assert.Equal(t, cascade.RoleSystem, view[0].Role)
	assert.Equal(t, cascade.RoleUser, view[1].Role)
	assert.Contains(t, view[1].Content, "tab 1: https://example.com")
	assert.Equal(t, "Summarize: x", view[2].Content)
}

func TestExternalStateViewDoesNotPersist(t *testing.T) {
	w := newWorld(t, 5, WithStateProvider(staticState{bundle: "tab state"}))
	w.llm.responses = []*cascade.Message{
		toolCallMsg("ping", map[string]any{}),
		toolCallMsg("chat", map[string]any{"response": "ok"}),
	}

	_, err := w.exec.Execute(context.Background(), "router", map[string]any{"user_message": "x"})
	require.NoError(t, err)

	// Each turn's view has exactly one state message, freshly inserted;
	// the persisted conversation carries none forward.
	first, second := w.llm.view(0), w.llm.view(1)
	assert.Equal(t, 1, countStateMessages(first))
	assert.Equal(t, 1, countStateMessages(second))
}

func countStateMessages(view []cascade.Message) int {
	n := 0
	for _, m := range view {
		if m.Role == cascade.RoleUser && strings.HasPrefix(m.Content, "Current external state") {
			n++
		}
	}
	return n
}

func TestPruningKeepsAnchorsAndTail(t *testing.T) {
	w := newWorld(t, 10, WithPruneThreshold(6))
	var responses []*cascade.Message
	for i := 0; i < 9; i++ {
		responses = append(responses, toolCallMsg("ping", map[string]any{}))
	}
	responses = append(responses, toolCallMsg("chat", map[string]any{"response": "end"}))
	w.llm.responses = responses

	out, err := w.exec.Execute(context.Background(), "router", map[string]any{"user_message": "first ask"})
	require.NoError(t, err)
	assert.Equal(t, "end", out)

	last := w.llm.view(w.llm.calls() - 1)
	assert.LessOrEqual(t, len(last), 10, "conversation stays collapsed")
	assert.Equal(t, cascade.RoleSystem, last[0].Role)
	assert.Equal(t, "first ask", last[1].Content, "first user message survives pruning")
	for i, m := range last {
		if m.Role == cascade.RoleTool {
			require.Greater(t, i, 0)
			prevRole := last[i-1].Role
			assert.True(t, prevRole == cascade.RoleAssistant || prevRole == cascade.RoleTool,
				"tool responses stay attached to their assistant message")
		}
	}
}

func TestPruningBelowThresholdIsIdentity(t *testing.T) {
	w := newWorld(t, 5)
	conv := []cascade.Message{
		cascade.SystemMessage("s"),
		cascade.UserMessage("u"),
		*textMsg("a"),
	}
	assert.Equal(t, conv, w.exec.prune(conv))
}

func TestSubActionStepWithMapper(t *testing.T) {
	inner := action.Action{
		Name:        "shout",
		Description: "Upper-case a word.",
		InputSchema: schema.Object(map[string]schema.Property{
			"word": {Type: schema.TypeString},
		}, "word"),
		Steps: []action.Step{action.Procedure(func(_ context.Context, params map[string]any, _ any) (any, error) {
			return fmt.Sprintf("%v!", params["word"]), nil
		})},
	}
	outer := action.Action{
		Name:        "relay",
		Description: "Relay into shout.",
		InputSchema: schema.Object(map[string]schema.Property{
			"text": {Type: schema.TypeString},
		}, "text"),
		Steps: []action.Step{action.Invoke("shout", func(params map[string]any, _ any) map[string]any {
			return map[string]any{"word": params["text"]}
		})},
	}

	exec := buildExec(t, []action.Action{inner, outer}, &stubLLM{})
	out, err := exec.Execute(context.Background(), "relay", map[string]any{"text": "hey"})
	require.NoError(t, err)
	assert.Equal(t, "hey!", out)
}

func TestSubActionValidationPropagates(t *testing.T) {
	inner := action.Action{
		Name:        "strict",
		Description: "Requires a number.",
		InputSchema: schema.Object(map[string]schema.Property{
			"n": {Type: schema.TypeNumber},
		}, "n"),
		Steps: []action.Step{action.Procedure(func(context.Context, map[string]any, any) (any, error) {
			return nil, nil
		})},
	}
	outer := action.Action{
		Name:        "careless",
		Description: "Forwards bad params.",
		InputSchema: schema.Object(map[string]schema.Property{}),
		Steps: []action.Step{action.Invoke("strict", func(map[string]any, any) map[string]any {
			return map[string]any{"n": "not a number"}
		})},
	}

	exec := buildExec(t, []action.Action{inner, outer}, &stubLLM{})
	_, err := exec.Execute(context.Background(), "careless", nil)
	require.Error(t, err)
	assert.True(t, fault.KindOf(err) == fault.KindValidation)
}
