package cascade

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/acteon/acteon/internal/schema"
)

// VerifyResult reports whether a model answered a one-token probe, and
// whether it only did so once tool_choice was dropped from the request.
type VerifyResult struct {
	Valid        bool   `json:"valid"`
	Error        string `json:"error,omitempty"`
	NoToolChoice bool   `json:"no_tool_choice,omitempty"`
}

var probeTool = NewTool("test", "Probe tool.", schema.Object(map[string]schema.Property{
	"ok": {Type: schema.TypeBoolean},
}))

// Verify probes one model on one endpoint with a trivial tool. If the
// provider rejects the tool_choice field, the probe is retried without it;
// a successful retry reports NoToolChoice so the entry can be flagged.
func (c *Client) Verify(ctx context.Context, entry Entry) VerifyResult {
	probe := []Message{userMsg("ping")}

	_, err := c.call(ctx, entry, probe, []Tool{probeTool}, 1)
	if err == nil {
		return VerifyResult{Valid: true}
	}

	var ce *CallError
	if errors.As(err, &ce) && isToolChoiceRejection(ce.Detail) {
		retry := entry
		retry.NoToolChoice = true
		if _, retryErr := c.call(ctx, retry, probe, []Tool{probeTool}, 1); retryErr == nil {
			c.logger.Info("model requires tool_choice omission",
				zap.String("key", entry.Key()))
			return VerifyResult{Valid: true, NoToolChoice: true}
		}
	}

	return VerifyResult{Valid: false, Error: err.Error()}
}

// VerifyModel probes a model across the given provider hints (or with none
// when the list is empty) and returns the first valid result.
func (c *Client) VerifyModel(ctx context.Context, endpointID, modelID string, hints []string) VerifyResult {
	entries := []Entry{{Endpoint: endpointID, Model: modelID}}
	if len(hints) > 0 {
		entries = entries[:0]
		for _, h := range hints {
			entries = append(entries, Entry{Endpoint: endpointID, Model: modelID, ProviderHint: h})
		}
	}

	var last VerifyResult
	for _, e := range entries {
		last = c.Verify(ctx, e)
		if last.Valid {
			return last
		}
	}
	return last
}
