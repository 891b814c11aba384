// Package openai runs the agent loop against the OpenAI chat completions
// API, executing tool calls until the model produces a final reply.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/zulandar/shoprelay/internal/agent"
	"go.uber.org/zap"
)

// Opts configures a Runner.
type Opts struct {
	APIKey     string
	BaseURL    string // optional; for proxies and tests
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Runner implements agent.Runner.
type Runner struct {
	client *goopenai.Client
	logger *zap.Logger
}

// New creates a Runner.
func New(opts Opts) (*Runner, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	cfg := goopenai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Runner{client: goopenai.NewClientWithConfig(cfg), logger: opts.Logger}, nil
}

const defaultMaxSteps = 10

// Run executes the tool loop. Every tool call the model requests is recorded
// in the trace; a tool error is reported back to the model as a failed call
// rather than aborting the run.
func (r *Runner) Run(ctx context.Context, history []agent.HistoryMessage, tools []agent.Tool, settings agent.Settings) (*agent.Result, error) {
	if settings.Model == "" {
		return nil, fmt.Errorf("openai: model is required: %w", agent.ErrInvalidModel)
	}
	maxSteps := settings.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	msgs := make([]goopenai.ChatCompletionMessage, 0, len(history)+1)
	if settings.SystemPrompt != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: settings.SystemPrompt})
	}
	for _, h := range history {
		role := goopenai.ChatMessageRoleUser
		if h.Role == agent.RoleAssistant {
			role = goopenai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: role, Content: h.Content})
	}

	byName := make(map[string]agent.Tool, len(tools))
	defs := make([]goopenai.Tool, 0, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
		defs = append(defs, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Schema(),
			},
		})
	}

	res := &agent.Result{Model: settings.Model}
	for step := 0; step < maxSteps; step++ {
		req := goopenai.ChatCompletionRequest{
			Model:           settings.Model,
			Messages:        msgs,
			ReasoningEffort: settings.ReasoningEffort,
		}
		// The final step withholds tools so the model must answer.
		if len(defs) > 0 && step < maxSteps-1 {
			req.Tools = defs
		}

		resp, err := r.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, classify(settings.Model, err)
		}
		addUsage(&res.Usage, resp.Usage)
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("openai: empty response from %s", settings.Model)
		}

		choice := resp.Choices[0].Message
		if len(choice.ToolCalls) == 0 {
			res.Text = choice.Content
			return res, nil
		}

		msgs = append(msgs, choice)
		for _, tc := range choice.ToolCalls {
			call := r.invoke(ctx, byName, tc)
			res.ToolCalls = append(res.ToolCalls, call)

			content := string(call.Output)
			if call.State == agent.ToolFailed {
				content = fmt.Sprintf(`{"error":%q}`, call.Error)
			}
			msgs = append(msgs, goopenai.ChatCompletionMessage{
				Role:       goopenai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: tc.ID,
			})
		}
	}
	return nil, fmt.Errorf("openai: no reply after %d steps", maxSteps)
}

func (r *Runner) invoke(ctx context.Context, tools map[string]agent.Tool, tc goopenai.ToolCall) agent.ToolCall {
	call := agent.ToolCall{
		ID:    tc.ID,
		Name:  tc.Function.Name,
		Input: json.RawMessage(tc.Function.Arguments),
		State: agent.ToolRequested,
	}
	if !json.Valid(call.Input) {
		call.Input = json.RawMessage("{}")
	}

	t, ok := tools[tc.Function.Name]
	if !ok {
		call.State = agent.ToolFailed
		call.Error = fmt.Sprintf("unknown tool %q", tc.Function.Name)
		return call
	}
	out, err := t.Call(ctx, call.Input)
	if err != nil {
		r.logger.Warn("tool call failed", zap.String("tool", call.Name), zap.Error(err))
		call.State = agent.ToolFailed
		call.Error = err.Error()
		return call
	}
	call.Output = out
	call.State = agent.ToolCompleted
	return call
}

func addUsage(u *agent.Usage, ou goopenai.Usage) {
	u.InputTokens += ou.PromptTokens
	u.OutputTokens += ou.CompletionTokens
	u.TotalTokens += ou.TotalTokens
	if ou.CompletionTokensDetails != nil {
		u.ReasoningTokens += ou.CompletionTokensDetails.ReasoningTokens
	}
}

// classify maps a rejected model to agent.ErrInvalidModel.
func classify(model string, err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		code := fmt.Sprint(apiErr.Code)
		if code == "model_not_found" || apiErr.HTTPStatusCode == http.StatusNotFound {
			return fmt.Errorf("openai: model %q: %s: %w", model, apiErr.Message, agent.ErrInvalidModel)
		}
	}
	return fmt.Errorf("openai: chat completion with %s: %w", model, err)
}
