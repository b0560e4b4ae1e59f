/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package backlog

import (
	"fmt"
	"unicode/utf8"
)

const (
	titleMaxLen    = 200
	storyPointsMin = 1
	storyPointsMax = 21
)

// Validate checks every structural invariant of the plan: ID grammar and
// depth agreement, title and description bounds, story point range, context
// scope structure, status values, ID uniqueness, and that every subtask
// dependency references a subtask present in the same registry.
func (b *Backlog) Validate() error {
	seen := make(map[string]bool)
	subtaskIDs := make(map[string]bool)
	for _, s := range b.Subtasks() {
		subtaskIDs[s.ID] = true
	}

	var firstErr error
	b.Walk(func(it Item) bool {
		if err := validateItem(it, subtaskIDs); err != nil {
			firstErr = err
			return false
		}
		if seen[it.ItemID()] {
			firstErr = &InvalidInputError{ItemID: it.ItemID(), Reason: "duplicate id"}
			return false
		}
		seen[it.ItemID()] = true
		return true
	})
	return firstErr
}

func validateItem(it Item, subtaskIDs map[string]bool) error {
	id := it.ItemID()
	if err := ValidateID(it.ItemKind(), id); err != nil {
		return &InvalidInputError{ItemID: id, Reason: err.Error()}
	}
	if n := utf8.RuneCountInString(it.ItemTitle()); n < 1 || n > titleMaxLen {
		return &InvalidInputError{ItemID: id, Reason: fmt.Sprintf("title length %d outside 1..%d", n, titleMaxLen)}
	}
	if !it.ItemStatus().Valid() {
		return &InvalidInputError{ItemID: id, Reason: fmt.Sprintf("unknown status %q", it.ItemStatus())}
	}

	switch n := it.(type) {
	case *Phase:
		if n.Description == "" {
			return &InvalidInputError{ItemID: id, Reason: "description must not be empty"}
		}
	case *Milestone:
		if n.Description == "" {
			return &InvalidInputError{ItemID: id, Reason: "description must not be empty"}
		}
	case *Task:
		if n.Description == "" {
			return &InvalidInputError{ItemID: id, Reason: "description must not be empty"}
		}
	case *Subtask:
		if n.StoryPoints < storyPointsMin || n.StoryPoints > storyPointsMax {
			return &InvalidInputError{ItemID: id, Reason: fmt.Sprintf("story points %d outside %d..%d", n.StoryPoints, storyPointsMin, storyPointsMax)}
		}
		if err := ValidateContextScope(n.ContextScope); err != nil {
			return &InvalidInputError{ItemID: id, Reason: err.Error()}
		}
		for _, dep := range n.Dependencies {
			if !subtaskIDs[dep] {
				return &InvalidInputError{ItemID: id, Reason: fmt.Sprintf("dependency %q does not reference a subtask in this registry", dep)}
			}
		}
	}
	return nil
}
