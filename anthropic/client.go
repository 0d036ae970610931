// Package anthropic wraps the Anthropic Messages API for the reviewer: plain
// completions, a tool-using agent loop, concurrency gating and an input-token budget.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
)

const (
	// CallTimeout is the maximum time to wait for a single Messages API response.
	CallTimeout = 3 * time.Minute

	// DefaultMaxTokens is the response budget of one call.
	DefaultMaxTokens = 4096

	// DefaultMaxTurns bounds the tool-use round trips of one agent run.
	DefaultMaxTurns = 12
)

// ErrNoText is returned when the model ends a run without any text block.
var ErrNoText = errors.New("no text content in model response")

// Options configures a Client.
type Options struct {
	APIKey               string
	BaseURL              string
	MaxConcurrency       int
	InputTokensPerMinute int
	// Timeout bounds a whole agent run. Zero means CallTimeout.
	Timeout time.Duration
}

// Client issues Messages API calls under a shared concurrency gate and token budget.
type Client struct {
	sdk     *anthropic.Client
	gate    *semaphore.Weighted
	budget  *TokenBudget
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a Client.
func NewClient(opts Options, logger *slog.Logger) *Client {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	concurrency := opts.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = CallTimeout
	}
	return &Client{
		sdk:     anthropic.NewClient(reqOpts...),
		gate:    semaphore.NewWeighted(int64(concurrency)),
		budget:  NewTokenBudget(opts.InputTokensPerMinute),
		timeout: timeout,
		logger:  logger,
	}
}

// Tool is a function the agent may call. Properties and Required are the
// matching members of the tool's JSON input schema.
type Tool struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
	Call        func(ctx context.Context, input json.RawMessage) (string, error)
}

// Request describes one agent run.
type Request struct {
	Model     string
	System    string
	Prompt    string
	Tools     []Tool
	MaxTokens int64
	MaxTurns  int
}

// Usage totals the tokens of every call in a run.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Result is the final text of an agent run.
type Result struct {
	Text      string
	ToolCalls int
	Usage     Usage
}

// Complete runs a single prompt without tools.
func (c *Client) Complete(ctx context.Context, model, system, prompt string) (*Result, error) {
	return c.Run(ctx, Request{Model: model, System: system, Prompt: prompt, MaxTurns: 1})
}

// Run drives the model until it answers without requesting tools. Tool failures
// are reported back to the model as error results rather than ending the run.
func (c *Client) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	tools := make([]anthropic.ToolParam, 0, len(req.Tools))
	byName := make(map[string]Tool, len(req.Tools))
	for _, t := range req.Tools {
		byName[t.Name] = t
		schema := map[string]any{"type": "object", "properties": t.Properties}
		if len(t.Required) > 0 {
			schema["required"] = t.Required
		}
		tools = append(tools, anthropic.ToolParam{
			Name:        anthropic.F(t.Name),
			Description: anthropic.F(t.Description),
			InputSchema: anthropic.F[interface{}](schema),
		})
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
	}
	// Tool results re-send the whole conversation, so the budget tracks its size.
	conversationChars := len(req.System) + len(req.Prompt)

	result := &Result{}
	for turn := 0; turn < maxTurns; turn++ {
		params := anthropic.MessageNewParams{
			Model:     anthropic.F(anthropic.Model(req.Model)),
			MaxTokens: anthropic.F(maxTokens),
			Messages:  anthropic.F(messages),
		}
		if req.System != "" {
			params.System = anthropic.F([]anthropic.TextBlockParam{anthropic.NewTextBlock(req.System)})
		}
		if len(tools) > 0 {
			params.Tools = anthropic.F(tools)
		}

		message, err := c.send(ctx, params, conversationChars)
		if err != nil {
			return nil, err
		}
		result.Usage.InputTokens += message.Usage.InputTokens
		result.Usage.OutputTokens += message.Usage.OutputTokens

		var text strings.Builder
		var toolResults []anthropic.ContentBlockParamUnion
		for _, block := range message.Content {
			switch block := block.AsUnion().(type) {
			case anthropic.TextBlock:
				text.WriteString(block.Text)
			case anthropic.ToolUseBlock:
				result.ToolCalls++
				output, isError := c.callTool(ctx, byName, block.Name, block.Input)
				conversationChars += len(output) + len(block.Input)
				toolResults = append(toolResults, anthropic.NewToolResultBlock(block.ID, output, isError))
			}
		}

		if len(toolResults) == 0 {
			if text.Len() == 0 {
				return nil, ErrNoText
			}
			result.Text = text.String()
			c.logger.Debug("agent run finished",
				"model", req.Model,
				"turns", turn+1,
				"tool_calls", result.ToolCalls,
				"input_tokens", result.Usage.InputTokens,
				"output_tokens", result.Usage.OutputTokens,
			)
			return result, nil
		}

		conversationChars += text.Len()
		messages = append(messages, message.ToParam(), anthropic.NewUserMessage(toolResults...))
	}

	return nil, fmt.Errorf("agent exceeded %d turns without a final answer", maxTurns)
}

func (c *Client) send(ctx context.Context, params anthropic.MessageNewParams, chars int) (*anthropic.Message, error) {
	if err := c.budget.Wait(ctx, estimate(chars)); err != nil {
		return nil, err
	}
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for model slot: %w", err)
	}
	defer c.gate.Release(1)

	return retryWithBackoff(ctx, c.logger, "messages.new", func() (*anthropic.Message, error) {
		callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
		defer cancel()
		return c.sdk.Messages.New(callCtx, params)
	})
}

func (c *Client) callTool(ctx context.Context, tools map[string]Tool, name string, input json.RawMessage) (string, bool) {
	tool, ok := tools[name]
	if !ok {
		return fmt.Sprintf("unknown tool %q", name), true
	}
	output, err := tool.Call(ctx, input)
	if err != nil {
		c.logger.Warn("tool call failed", "tool", name, "error", err)
		return err.Error(), true
	}
	if output == "" {
		return "(empty result)", false
	}
	return output, false
}
