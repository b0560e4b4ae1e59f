/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package executor

import (
	"context"

	"chainguard.dev/taskdriver/backlog"
)

// ValidationResult records the outcome of one validation gate from the
// subtask's plan.
type ValidationResult struct {
	Gate   backlog.ValidationGate `json:"gate"`
	Passed bool                   `json:"passed"`
	Output string                 `json:"output,omitempty"`
}

// Result is what a SubtaskExecutor reports for one subtask. Success false
// with a nil error still counts as a failure; the two are distinguished only
// in reporting.
type Result struct {
	Success           bool               `json:"success" jsonschema:"required,description=Whether the subtask completed successfully"`
	ValidationResults []ValidationResult `json:"validation_results,omitempty" jsonschema:"description=Per-gate validation outcomes"`
	Artifacts         []string           `json:"artifacts,omitempty" jsonschema:"description=Paths or identifiers of produced artifacts"`
	Error             string             `json:"error,omitempty" jsonschema:"description=Failure description when success is false"`
	FixAttempts       int                `json:"fix_attempts" jsonschema:"description=Number of fix iterations performed"`
}

// SubtaskExecutor performs the actual work of one subtask. Implementations
// are external agents; the engine only interprets the result. A returned
// error marks the subtask Failed, as does a Result with Success false.
type SubtaskExecutor interface {
	Execute(ctx context.Context, subtask *backlog.Subtask, b *backlog.Backlog) (*Result, error)
}
