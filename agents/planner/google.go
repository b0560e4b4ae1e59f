/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chainguard.dev/taskdriver/agents/result"
	"chainguard.dev/taskdriver/agents/retry"
	"chainguard.dev/taskdriver/backlog"
	"chainguard.dev/taskdriver/metrics"
	"github.com/chainguard-dev/clog"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-pro"

// google implements Interface using Gemini with a JSON response schema, the
// Vertex analogue of Claude's forced tool call.
type google struct {
	client       *genai.Client
	model        string
	maxTokens    int64
	retryConfig  retry.Config
	prdContext   string
	genaiMetrics *metrics.GenAI
}

func newGoogle(ctx context.Context, cfg Config) (Interface, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, errors.New("google planner requires a project ID and region")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  cfg.ProjectID,
		Location: cfg.Region,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Google AI client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &google{
		client:       client,
		model:        model,
		maxTokens:    cfg.MaxTokens,
		retryConfig:  cfg.Retry,
		prdContext:   cfg.PRDContext,
		genaiMetrics: metrics.NewGenAI("chainguard.taskdriver.agents"),
	}, nil
}

// planResponseSchema constrains Gemini's JSON output to the PRP shape.
var planResponseSchema = &genai.Schema{
	Type: "object",
	Properties: map[string]*genai.Schema{
		"task_id": {
			Type:        "string",
			Description: "ID of the subtask this plan belongs to",
		},
		"objective": {
			Type:        "string",
			Description: "What the subtask must accomplish",
		},
		"context": {
			Type:        "string",
			Description: "Background the implementer needs",
		},
		"implementation_steps": {
			Type:  "array",
			Items: &genai.Schema{Type: "string"},
		},
		"validation_gates": {
			Type: "array",
			Items: &genai.Schema{
				Type: "object",
				Properties: map[string]*genai.Schema{
					"level":       {Type: "integer", Description: "1 (syntax) through 4 (end-to-end)"},
					"description": {Type: "string"},
					"command":     {Type: "string", Nullable: genai.Ptr(true)},
					"manual":      {Type: "boolean"},
				},
				Required: []string{"level", "description"},
			},
		},
		"success_criteria": {
			Type: "array",
			Items: &genai.Schema{
				Type: "object",
				Properties: map[string]*genai.Schema{
					"description": {Type: "string"},
					"satisfied":   {Type: "boolean"},
				},
				Required: []string{"description"},
			},
		},
		"references": {
			Type:  "array",
			Items: &genai.Schema{Type: "string"},
		},
	},
	Required: []string{"task_id", "objective", "implementation_steps", "validation_gates", "success_criteria"},
}

// GeneratePRP implements Interface.
func (g *google) GeneratePRP(ctx context.Context, subtask *backlog.Subtask) (*backlog.PRPDocument, error) {
	log := clog.FromContext(ctx).With("subtask", subtask.ID).With("model", g.model)

	prompt, err := renderPrompt(subtask, g.prdContext)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.1),
		MaxOutputTokens:  int32(g.maxTokens),
		ResponseMIMEType: "application/json",
		ResponseSchema:   planResponseSchema,
	}
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}

	log.Info("Requesting execution plan")
	response, err := retry.Do(ctx, g.retryConfig, "generate_plan", isRetryableVertexError, func() (*genai.GenerateContentResponse, error) {
		return g.client.Models.GenerateContent(ctx, g.model, contents, config)
	})
	if err != nil {
		return nil, fmt.Errorf("gemini plan generation: %w", err)
	}
	if response.UsageMetadata != nil {
		g.genaiMetrics.RecordTokens(ctx, g.model,
			int64(response.UsageMetadata.PromptTokenCount),
			int64(response.UsageMetadata.CandidatesTokenCount))
	}

	text := response.Text()
	if text == "" {
		return nil, errors.New("no content in Gemini's response")
	}
	prp, err := result.Extract[backlog.PRPDocument](text)
	if err != nil {
		log.With("error", err.Error()).Error("Failed to parse Gemini response")
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	if err := validatePlan(subtask, &prp); err != nil {
		return nil, err
	}
	log.With("steps", len(prp.ImplementationSteps)).Info("Plan generated")
	return &prp, nil
}

// isRetryableVertexError reports whether an error is a retryable Vertex AI
// error: rate limit, quota exhaustion, and transient server errors.
func isRetryableVertexError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Resource exhausted") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "Overloaded") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "quota exceeded") ||
		strings.Contains(errStr, "Internal error") ||
		strings.Contains(errStr, "server error")
}
