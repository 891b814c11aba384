package agent

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/zulandar/shoprelay/internal/models"
)

// Compile-time interface compliance check.
var _ Runner = (*MockRunner)(nil)

func TestRunWithFallback_InvalidModelFallsBackOnce(t *testing.T) {
	m := NewMockRunner("hi there")
	m.RejectModel("gpt-9")

	res, err := RunWithFallback(context.Background(), m, nil, nil, Settings{Model: "gpt-9"}, "gpt-5.2")
	if err != nil {
		t.Fatalf("RunWithFallback: %v", err)
	}
	if res.Model != "gpt-5.2" {
		t.Errorf("Model = %q, want %q", res.Model, "gpt-5.2")
	}
	calls := m.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	if calls[0].Settings.Model != "gpt-9" || calls[1].Settings.Model != "gpt-5.2" {
		t.Errorf("models tried = %q, %q", calls[0].Settings.Model, calls[1].Settings.Model)
	}
}

func TestRunWithFallback_FallbackAlsoFails(t *testing.T) {
	m := NewMockRunner("unused")
	m.RejectModel("gpt-9")
	m.RejectModel("gpt-5.2")

	_, err := RunWithFallback(context.Background(), m, nil, nil, Settings{Model: "gpt-9"}, "gpt-5.2")
	if err == nil {
		t.Fatal("expected error when fallback also fails")
	}
	if !strings.Contains(err.Error(), `model "gpt-9" rejected and fallback "gpt-5.2" failed`) {
		t.Errorf("error = %q", err)
	}
	if !errors.Is(err, ErrInvalidModel) {
		t.Error("error does not wrap ErrInvalidModel")
	}
	if m.CallCount() != 2 {
		t.Errorf("calls = %d, want 2", m.CallCount())
	}
}

func TestRunWithFallback_OtherErrorsNotRetried(t *testing.T) {
	m := &MockRunner{rejected: map[string]bool{}}
	m.Fail(errors.New("rate limited"))

	_, err := RunWithFallback(context.Background(), m, nil, nil, Settings{Model: "gpt-4o"}, "gpt-5.2")
	if err == nil || err.Error() != "rate limited" {
		t.Errorf("err = %v, want rate limited", err)
	}
	if m.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", m.CallCount())
	}
}

func TestFromMessages_HumanAgentIsAssistant(t *testing.T) {
	got := FromMessages([]models.Message{
		{Role: models.RoleUser, Content: "refund?"},
		{Role: models.RoleHumanAgent, Content: "checking with the team"},
		{Role: models.RoleAssistant, Content: "anything else?"},
	})
	want := []string{RoleUser, RoleAssistant, RoleAssistant}
	for i, w := range want {
		if got[i].Role != w {
			t.Errorf("history[%d].Role = %q, want %q", i, got[i].Role, w)
		}
	}
}

func TestEncodeToolCalls(t *testing.T) {
	s, err := EncodeToolCalls(nil)
	if err != nil || s != "" {
		t.Errorf("EncodeToolCalls(nil) = %q, %v; want empty", s, err)
	}

	s, err = EncodeToolCalls([]ToolCall{{
		ID: "call_1", Name: "getProductAvailability",
		Input: json.RawMessage(`{"search":"iphone 16"}`),
		State: ToolFailed, Error: "storefront down",
	}})
	if err != nil {
		t.Fatalf("EncodeToolCalls: %v", err)
	}
	for _, want := range []string{`"state":"failed"`, `"input":{"search":"iphone 16"}`, `"error":"storefront down"`} {
		if !strings.Contains(s, want) {
			t.Errorf("encoded = %s, missing %s", s, want)
		}
	}
	if strings.Contains(s, `"output"`) {
		t.Errorf("encoded = %s, want no output for failed call", s)
	}
}

func TestCost(t *testing.T) {
	tests := []struct {
		model string
		usage Usage
		want  float64
	}{
		{"gpt-5.2", Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 15.75},
		{"gpt-4o", Usage{InputTokens: 2_000, OutputTokens: 1_000}, 0.015},
		{"o3-mini", Usage{InputTokens: 1_000_000}, 1.1},
		{"mystery-model", Usage{InputTokens: 1_000_000, OutputTokens: 100_000}, 3},
	}
	for _, tt := range tests {
		got := Cost(tt.model, tt.usage)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Cost(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestMetadata(t *testing.T) {
	md := Metadata(&Result{Model: "gpt-5.1", Usage: Usage{InputTokens: 1000, OutputTokens: 100, ReasoningTokens: 40, TotalTokens: 1100}})
	if md.Model != "gpt-5.1" || md.TotalTokens != 1100 || md.ReasoningTokens != 40 {
		t.Errorf("Metadata = %+v", md)
	}
	if math.Abs(md.CostUSD-0.00225) > 1e-12 {
		t.Errorf("CostUSD = %v, want 0.00225", md.CostUSD)
	}
}
