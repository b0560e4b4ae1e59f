/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package backlog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidInput is the sentinel for schema and semantic validation
// failures. Typed errors in this package match it through errors.Is.
var ErrInvalidInput = errors.New("invalid input")

// InvalidInputError reports a validation failure on a specific item.
type InvalidInputError struct {
	ItemID string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.ItemID == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input at %s: %s", e.ItemID, e.Reason)
}

// Is matches ErrInvalidInput.
func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// CircularDependencyError reports a cycle in the subtask dependency graph.
// It is a subkind of invalid input: errors.Is(err, ErrInvalidInput) holds.
type CircularDependencyError struct {
	// CyclePath lists the subtask IDs along the cycle, ending where it
	// started (e.g. [S1 S2 S1]).
	CyclePath []string
	// CycleLength is the number of distinct nodes in the cycle. A
	// self-dependency has length 1.
	CycleLength int
	// TaskID is the subtask on which detection fired, when known.
	TaskID string
}

func (e *CircularDependencyError) Error() string {
	if len(e.CyclePath) > 0 {
		return fmt.Sprintf("circular dependency (length %d): %s", e.CycleLength, strings.Join(e.CyclePath, " -> "))
	}
	return fmt.Sprintf("circular dependency involving %s", e.TaskID)
}

// Is matches ErrInvalidInput.
func (e *CircularDependencyError) Is(target error) bool { return target == ErrInvalidInput }
