/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package planner generates PRP documents for subtasks using a hosted model.
// Claude and Gemini backends sit side by side behind one Interface; both
// force structured output (a tool call on Claude, a response schema on
// Gemini) so the plan arrives as JSON rather than prose.
package planner

import (
	"context"
	"errors"
	"fmt"

	"chainguard.dev/taskdriver/agents/retry"
	"chainguard.dev/taskdriver/backlog"
)

// Provider selects the model backend.
type Provider string

const (
	// ProviderClaude uses Anthropic Claude, over Vertex AI when a project
	// is configured and the public API otherwise.
	ProviderClaude Provider = "claude"
	// ProviderGoogle uses Google Gemini via Vertex AI.
	ProviderGoogle Provider = "google"
)

// Config configures a planner.
type Config struct {
	// Provider selects the backend. Required.
	Provider Provider
	// Model is the provider-specific model name. Empty picks the backend
	// default.
	Model string
	// ProjectID and Region select Vertex AI authentication. Claude falls
	// back to API-key auth when ProjectID is empty; Gemini requires both.
	ProjectID string
	Region    string
	// MaxTokens bounds the generated plan. Zero means 8192.
	MaxTokens int64
	// Retry governs backoff on rate-limited calls. The zero value means
	// retry.DefaultConfig.
	Retry retry.Config
	// PRDContext is an optional excerpt of the PRD included in every
	// planning prompt.
	PRDContext string
}

// Interface is the contract for plan generation. It matches the research
// queue's PlanGenerator, so a planner drops straight into a Queue.
type Interface interface {
	// GeneratePRP produces the execution plan for one subtask.
	GeneratePRP(ctx context.Context, subtask *backlog.Subtask) (*backlog.PRPDocument, error)
}

// New creates a planner for the configured provider.
func New(ctx context.Context, cfg Config) (Interface, error) {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.Retry == (retry.Config{}) {
		cfg.Retry = retry.DefaultConfig()
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}

	switch cfg.Provider {
	case ProviderClaude:
		return newClaude(ctx, cfg)
	case ProviderGoogle:
		return newGoogle(ctx, cfg)
	case "":
		return nil, errors.New("planner provider is required")
	default:
		return nil, fmt.Errorf("unsupported planner provider: %q", cfg.Provider)
	}
}

// validatePlan applies the structural checks shared by both backends.
func validatePlan(subtask *backlog.Subtask, prp *backlog.PRPDocument) error {
	if prp == nil {
		return errors.New("model returned no plan")
	}
	if prp.TaskID == "" {
		prp.TaskID = subtask.ID
	}
	if prp.TaskID != subtask.ID {
		return fmt.Errorf("plan addresses %q, want %q", prp.TaskID, subtask.ID)
	}
	if prp.Objective == "" {
		return errors.New("plan has no objective")
	}
	return prp.Validate()
}
