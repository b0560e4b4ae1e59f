/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package worker implements subtask execution against Claude. The worker
// renders the subtask's contract and plan into a prompt, forces a
// submit_result tool call, and maps the structured answer onto the engine's
// result type.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"chainguard.dev/taskdriver/agents/result"
	"chainguard.dev/taskdriver/agents/retry"
	"chainguard.dev/taskdriver/agents/schema"
	"chainguard.dev/taskdriver/backlog"
	"chainguard.dev/taskdriver/executor"
	"chainguard.dev/taskdriver/metrics"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/anthropics/anthropic-sdk-go/vertex"
	"github.com/chainguard-dev/clog"
)

const (
	defaultModel     = "claude-sonnet-4@20250514"
	defaultMaxTokens = 16384
	submitResultTool = "submit_result"
)

// PlanLookup resolves a previously generated plan for a subtask. A research
// queue's GetPRP satisfies it.
type PlanLookup func(subtaskID string) (*backlog.PRPDocument, bool)

// Config configures a worker.
type Config struct {
	// Model is the Claude model name. Empty picks the default.
	Model string
	// ProjectID and Region select Vertex AI authentication. With an empty
	// ProjectID the worker authenticates with ANTHROPIC_API_KEY.
	ProjectID string
	Region    string
	// MaxTokens bounds the response. Zero means 16384.
	MaxTokens int64
	// Retry governs backoff on rate-limited calls. The zero value means
	// retry.DefaultConfig.
	Retry retry.Config
}

// Option configures optional worker behavior.
type Option func(*worker) error

// WithPlanLookup wires a plan source; when a plan exists for the subtask it
// is rendered into the prompt.
func WithPlanLookup(lookup PlanLookup) Option {
	return func(w *worker) error {
		if lookup == nil {
			return errors.New("plan lookup cannot be nil")
		}
		w.plans = lookup
		return nil
	}
}

type worker struct {
	client       anthropic.Client
	model        string
	maxTokens    int64
	retryConfig  retry.Config
	plans        PlanLookup
	genaiMetrics *metrics.GenAI
	resultSchema map[string]any
}

// New creates a worker. The returned executor performs one Claude
// conversation per subtask.
func New(ctx context.Context, cfg Config, opts ...Option) (executor.SubtaskExecutor, error) {
	var client anthropic.Client
	if cfg.ProjectID != "" {
		client = anthropic.NewClient(vertex.WithGoogleAuth(ctx, cfg.Region, cfg.ProjectID))
	} else {
		// API key comes from ANTHROPIC_API_KEY.
		client = anthropic.NewClient()
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Retry == (retry.Config{}) {
		cfg.Retry = retry.DefaultConfig()
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}

	resultSchema, err := schemaToMap(schema.ReflectType[executor.Result]())
	if err != nil {
		return nil, fmt.Errorf("reflecting result schema: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	w := &worker{
		client:       client,
		model:        model,
		maxTokens:    cfg.MaxTokens,
		retryConfig:  cfg.Retry,
		genaiMetrics: metrics.NewGenAI("chainguard.taskdriver.agents"),
		resultSchema: resultSchema,
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return w, nil
}

// Execute implements executor.SubtaskExecutor.
func (w *worker) Execute(ctx context.Context, subtask *backlog.Subtask, b *backlog.Backlog) (*executor.Result, error) {
	log := clog.FromContext(ctx).With("subtask", subtask.ID).With("model", w.model)

	var plan *backlog.PRPDocument
	if w.plans != nil {
		if prp, ok := w.plans(subtask.ID); ok {
			plan = prp
		}
	}
	prompt, err := renderWorkPrompt(subtask, plan)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(w.model),
		MaxTokens:   w.maxTokens,
		Temperature: anthropic.Float(0.1),
		Messages: []anthropic.MessageParam{{
			Role: anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{
				anthropic.NewTextBlock(prompt),
			},
		}},
		Tools: []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        submitResultTool,
				Description: anthropic.String("Submit the final execution result for this subtask."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Type:       constant.Object("object"),
					Properties: w.resultSchema["properties"],
					Required:   requiredList(w.resultSchema),
				},
			},
		}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: submitResultTool},
		},
	}

	log.With("has_plan", plan != nil).Info("Starting subtask execution")
	message, err := retry.Do(ctx, w.retryConfig, "execute_subtask", isRetryableClaudeError, func() (*anthropic.Message, error) {
		return w.client.Messages.New(ctx, params)
	})
	if err != nil {
		return nil, fmt.Errorf("claude subtask execution: %w", err)
	}
	if message.Usage.InputTokens > 0 || message.Usage.OutputTokens > 0 {
		w.genaiMetrics.RecordTokens(ctx, w.model, message.Usage.InputTokens, message.Usage.OutputTokens)
	}

	res, err := resultFromMessage(message)
	if err != nil {
		log.With("error", err.Error()).Error("Failed to parse execution result")
		return nil, err
	}
	log.With("success", res.Success).
		With("fix_attempts", res.FixAttempts).
		Info("Subtask execution finished")
	return res, nil
}

// resultFromMessage extracts the submitted result from the response, falling
// back to JSON salvaged from a text block.
func resultFromMessage(message *anthropic.Message) (*executor.Result, error) {
	for _, content := range message.Content {
		if content.Type != "tool_use" || content.Name != submitResultTool {
			continue
		}
		var res executor.Result
		if err := json.Unmarshal(content.Input, &res); err != nil {
			return nil, fmt.Errorf("decoding %s input: %w", submitResultTool, err)
		}
		return &res, nil
	}
	for _, content := range message.Content {
		if content.Type != "text" || content.Text == "" {
			continue
		}
		res, err := result.Extract[executor.Result](content.Text)
		if err != nil {
			return nil, fmt.Errorf("parsing result from text response: %w", err)
		}
		return &res, nil
	}
	return nil, errors.New("no result in Claude's response")
}

// isRetryableClaudeError reports whether an error is a retryable Claude API
// error: rate limit, overloaded, and transient server errors.
func isRetryableClaudeError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 503, 504, 529:
			return true
		}
	}
	return false
}

func schemaToMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func requiredList(schemaMap map[string]any) []string {
	raw, ok := schemaMap["required"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
