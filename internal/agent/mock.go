package agent

import (
	"context"
	"fmt"
	"sync"
)

// Call is one recorded Run invocation.
type Call struct {
	History  []HistoryMessage
	Tools    []string
	Settings Settings
}

// MockRunner implements Runner for testing. Responses are consumed in order;
// when exhausted the last one repeats.
type MockRunner struct {
	mu        sync.Mutex
	calls     []Call
	responses []mockResponse
	rejected  map[string]bool
}

type mockResponse struct {
	res *Result
	err error
}

// NewMockRunner creates a MockRunner that replies with text.
func NewMockRunner(text string) *MockRunner {
	m := &MockRunner{rejected: make(map[string]bool)}
	m.Reply(text, Usage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120})
	return m
}

// Reply queues a successful result.
func (m *MockRunner) Reply(text string, u Usage, calls ...ToolCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{res: &Result{Text: text, Usage: u, ToolCalls: calls}})
}

// Fail queues an error.
func (m *MockRunner) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{err: err})
}

// Reset drops queued responses.
func (m *MockRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = nil
}

// RejectModel makes runs with model fail with ErrInvalidModel.
func (m *MockRunner) RejectModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[model] = true
}

// Run records the call and returns the next queued response.
func (m *MockRunner) Run(ctx context.Context, history []HistoryMessage, tools []Tool, settings Settings) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	m.calls = append(m.calls, Call{History: append([]HistoryMessage(nil), history...), Tools: names, Settings: settings})

	if m.rejected[settings.Model] {
		return nil, fmt.Errorf("mock: model %q: %w", settings.Model, ErrInvalidModel)
	}
	if len(m.responses) == 0 {
		return nil, fmt.Errorf("mock: no response queued")
	}
	r := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	out := *r.res
	out.Model = settings.Model
	return &out, nil
}

// Calls returns a copy of the recorded calls.
func (m *MockRunner) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns the number of Run invocations.
func (m *MockRunner) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
