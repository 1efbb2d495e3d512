package cascade

import (
	"fmt"
	"strings"
)

// CallError is a failed attempt against one endpoint/model pair. Status is
// zero for transport-level failures.
type CallError struct {
	Endpoint string
	Model    string
	Status   int
	Detail   string
}

func (e *CallError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s/%s: status %d: %s", e.Endpoint, e.Model, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s/%s: %s", e.Endpoint, e.Model, e.Detail)
}

// isToolChoiceRejection matches provider errors complaining about the
// tool_choice field: "tool_choice", "tool choice", or both "tool" and
// "not supported", case-insensitive.
func isToolChoiceRejection(detail string) bool {
	d := strings.ToLower(detail)
	if strings.Contains(d, "tool_choice") || strings.Contains(d, "tool choice") {
		return true
	}
	return strings.Contains(d, "tool") && strings.Contains(d, "not supported")
}
