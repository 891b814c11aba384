// Package agent is the boundary to the LLM reply generator. Runners turn a
// conversation history and a tool set into a reply with a normalized tool
// trace and token usage.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zulandar/shoprelay/internal/models"
)

// ErrInvalidModel is returned by a Runner when the provider rejects the
// configured model identifier.
var ErrInvalidModel = errors.New("agent: invalid model")

// History roles understood by runners.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// HistoryMessage is one turn of conversation context.
type HistoryMessage struct {
	Role    string
	Content string
}

// Tool is a capability the model may call.
type Tool interface {
	Name() string
	Description() string
	// Schema is the JSON Schema of the tool's input object.
	Schema() json.RawMessage
	Call(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// ToolState tracks a tool call through its lifecycle.
type ToolState string

const (
	ToolRequested ToolState = "requested"
	ToolCompleted ToolState = "completed"
	ToolFailed    ToolState = "failed"
)

// ToolCall is one entry of the tool trace.
type ToolCall struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input"`
	Output json.RawMessage `json:"output,omitempty"`
	State  ToolState       `json:"state"`
	Error  string          `json:"error,omitempty"`
}

// Usage is token accounting for one run.
type Usage struct {
	InputTokens     int
	OutputTokens    int
	ReasoningTokens int
	TotalTokens     int
}

// Settings select the model for a run.
type Settings struct {
	Model           string
	ReasoningEffort string
	SystemPrompt    string
	MaxSteps        int
}

// Result is a finished run.
type Result struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
	Reasoning string
	Model     string
}

// Runner generates a reply.
type Runner interface {
	Run(ctx context.Context, history []HistoryMessage, tools []Tool, settings Settings) (*Result, error)
}

// RunWithFallback runs with settings and, if the model is rejected, retries
// once with fallbackModel. Other errors are returned as is.
func RunWithFallback(ctx context.Context, r Runner, history []HistoryMessage, tools []Tool, settings Settings, fallbackModel string) (*Result, error) {
	res, err := r.Run(ctx, history, tools, settings)
	if err == nil || !errors.Is(err, ErrInvalidModel) || fallbackModel == "" || fallbackModel == settings.Model {
		return res, err
	}

	retry := settings
	retry.Model = fallbackModel
	res, ferr := r.Run(ctx, history, tools, retry)
	if ferr != nil {
		return nil, fmt.Errorf("agent: model %q rejected and fallback %q failed: %w", settings.Model, fallbackModel, ferr)
	}
	return res, nil
}

// FromMessages converts stored messages into runner history. Human agent
// replies are presented to the model as assistant turns.
func FromMessages(msgs []models.Message) []HistoryMessage {
	out := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		role := RoleAssistant
		if m.Role == models.RoleUser {
			role = RoleUser
		}
		out = append(out, HistoryMessage{Role: role, Content: m.Content})
	}
	return out
}

// EncodeToolCalls serializes a trace for storage. An empty trace encodes as
// the empty string.
func EncodeToolCalls(calls []ToolCall) (string, error) {
	if len(calls) == 0 {
		return "", nil
	}
	b, err := json.Marshal(calls)
	if err != nil {
		return "", fmt.Errorf("agent: encode tool calls: %w", err)
	}
	return string(b), nil
}
