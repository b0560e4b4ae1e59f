/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"chainguard.dev/taskdriver/agents/result"
	"chainguard.dev/taskdriver/agents/retry"
	"chainguard.dev/taskdriver/agents/schema"
	"chainguard.dev/taskdriver/backlog"
	"chainguard.dev/taskdriver/metrics"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/anthropics/anthropic-sdk-go/vertex"
	"github.com/chainguard-dev/clog"
)

const (
	defaultClaudeModel = "claude-sonnet-4@20250514"
	submitPlanTool     = "submit_plan"
)

// claude implements Interface using Claude with a forced submit_plan tool
// call, so the plan comes back as structured input rather than free text.
type claude struct {
	client       anthropic.Client
	model        string
	maxTokens    int64
	retryConfig  retry.Config
	prdContext   string
	genaiMetrics *metrics.GenAI
	planSchema   map[string]any
}

func newClaude(ctx context.Context, cfg Config) (Interface, error) {
	var client anthropic.Client
	if cfg.ProjectID != "" {
		client = anthropic.NewClient(vertex.WithGoogleAuth(ctx, cfg.Region, cfg.ProjectID))
	} else {
		// API key comes from ANTHROPIC_API_KEY.
		client = anthropic.NewClient()
	}

	planSchema, err := schemaToMap(schema.ReflectType[backlog.PRPDocument]())
	if err != nil {
		return nil, fmt.Errorf("reflecting plan schema: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultClaudeModel
	}
	return &claude{
		client:       client,
		model:        model,
		maxTokens:    cfg.MaxTokens,
		retryConfig:  cfg.Retry,
		prdContext:   cfg.PRDContext,
		genaiMetrics: metrics.NewGenAI("chainguard.taskdriver.agents"),
		planSchema:   planSchema,
	}, nil
}

// GeneratePRP implements Interface.
func (c *claude) GeneratePRP(ctx context.Context, subtask *backlog.Subtask) (*backlog.PRPDocument, error) {
	log := clog.FromContext(ctx).With("subtask", subtask.ID).With("model", c.model)

	prompt, err := renderPrompt(subtask, c.prdContext)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(0.1),
		Messages: []anthropic.MessageParam{{
			Role: anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{
				anthropic.NewTextBlock(prompt),
			},
		}},
		Tools: []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        submitPlanTool,
				Description: anthropic.String("Submit the finished PRP document for this subtask."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Type:       constant.Object("object"),
					Properties: c.planSchema["properties"],
					Required:   requiredList(c.planSchema),
				},
			},
		}},
		// Forcing the tool makes free-text answers impossible.
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: submitPlanTool},
		},
	}

	log.Info("Requesting execution plan")
	message, err := retry.Do(ctx, c.retryConfig, "generate_plan", isRetryableClaudeError, func() (*anthropic.Message, error) {
		return c.client.Messages.New(ctx, params)
	})
	if err != nil {
		return nil, fmt.Errorf("claude plan generation: %w", err)
	}
	if message.Usage.InputTokens > 0 || message.Usage.OutputTokens > 0 {
		c.genaiMetrics.RecordTokens(ctx, c.model, message.Usage.InputTokens, message.Usage.OutputTokens)
	}

	for _, content := range message.Content {
		if content.Type != "tool_use" || content.Name != submitPlanTool {
			continue
		}
		var prp backlog.PRPDocument
		if err := json.Unmarshal(content.Input, &prp); err != nil {
			return nil, fmt.Errorf("decoding %s input: %w", submitPlanTool, err)
		}
		if err := validatePlan(subtask, &prp); err != nil {
			return nil, err
		}
		log.With("steps", len(prp.ImplementationSteps)).Info("Plan generated")
		return &prp, nil
	}

	// A text-only answer despite the forced tool: salvage JSON from it.
	for _, content := range message.Content {
		if content.Type != "text" || content.Text == "" {
			continue
		}
		prp, err := result.Extract[backlog.PRPDocument](content.Text)
		if err != nil {
			return nil, fmt.Errorf("parsing plan from text response: %w", err)
		}
		if err := validatePlan(subtask, &prp); err != nil {
			return nil, err
		}
		return &prp, nil
	}
	return nil, errors.New("no plan in Claude's response")
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

// schemaToMap converts a reflected schema into the loose map the tool
// definition wants.
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
