/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package scope parses user-supplied scope strings and resolves them against
// a backlog into the ordered item sequence the scheduler executes.
//
// A scope is either the literal "all" (every subtask leaf, registry order) or
// an item ID (that item followed by its descendants in DFS pre-order):
//
//	sc, err := scope.Parse("P1.M2")
//	if err != nil { ... }
//	items := scope.Resolve(b, sc)
//
// Resolution is read-only; the backlog is never mutated.
package scope

import (
	"fmt"
	"strings"

	"chainguard.dev/taskdriver/backlog"
)

// Kind tags what a scope selects.
type Kind string

const (
	KindAll       Kind = "all"
	KindPhase     Kind = "phase"
	KindMilestone Kind = "milestone"
	KindTask      Kind = "task"
	KindSubtask   Kind = "subtask"
)

// Scope is a parsed scope string. ID is empty for KindAll.
type Scope struct {
	Kind Kind
	ID   string
}

// ParseError reports an unparseable scope string. It carries the offending
// input and the format the parser expected.
type ParseError struct {
	InvalidInput   string
	ExpectedFormat string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse scope %q: expected %s", e.InvalidInput, e.ExpectedFormat)
}

// Parse converts a scope string into a Scope. The literal "all" (after
// trimming surrounding whitespace, case-sensitive) selects everything;
// otherwise the string must be a valid item ID and its depth selects the
// scope kind.
func Parse(s string) (Scope, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "all" {
		return Scope{Kind: KindAll}, nil
	}
	kind, err := backlog.KindForID(trimmed)
	if err != nil {
		return Scope{}, &ParseError{
			InvalidInput:   s,
			ExpectedFormat: `"all" or an item ID matching P<n>[.M<n>[.T<n>[.S<n>]]]`,
		}
	}
	switch kind {
	case backlog.KindPhase:
		return Scope{Kind: KindPhase, ID: trimmed}, nil
	case backlog.KindMilestone:
		return Scope{Kind: KindMilestone, ID: trimmed}, nil
	case backlog.KindTask:
		return Scope{Kind: KindTask, ID: trimmed}, nil
	default:
		return Scope{Kind: KindSubtask, ID: trimmed}, nil
	}
}

// Resolve expands a scope into the ordered item sequence to execute.
//
//   - KindAll yields every subtask leaf in registry order.
//   - Any other kind yields the DFS pre-order subtree rooted at the scope's
//     ID. A non-existent ID, or a non-all scope with an empty ID, yields an
//     empty sequence.
func Resolve(b *backlog.Backlog, sc Scope) []backlog.Item {
	if sc.Kind == KindAll {
		subtasks := b.Subtasks()
		items := make([]backlog.Item, 0, len(subtasks))
		for _, s := range subtasks {
			items = append(items, s)
		}
		return items
	}
	if sc.ID == "" {
		return nil
	}
	return b.Subtree(sc.ID)
}
