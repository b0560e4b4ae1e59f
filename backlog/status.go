/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package backlog

import "fmt"

// Status is the lifecycle state of an item. Values are case-sensitive and
// serialize as their string form.
type Status string

const (
	// StatusPlanned marks work that has not started.
	StatusPlanned Status = "Planned"
	// StatusResearching marks a subtask whose execution plan is being generated.
	StatusResearching Status = "Researching"
	// StatusImplementing marks an item whose work (or whose children's work) is underway.
	StatusImplementing Status = "Implementing"
	// StatusComplete marks successfully finished work.
	StatusComplete Status = "Complete"
	// StatusFailed marks work that was attempted and did not succeed.
	StatusFailed Status = "Failed"
	// StatusObsolete marks work invalidated by a PRD change.
	StatusObsolete Status = "Obsolete"
)

// ParseStatus converts a string into a Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPlanned, StatusResearching, StatusImplementing, StatusComplete, StatusFailed, StatusObsolete:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Valid reports whether the status is one of the defined values.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Terminal reports whether the status is one a subtask reaches at most once
// per session: Complete, Failed, or Obsolete.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusObsolete:
		return true
	}
	return false
}
