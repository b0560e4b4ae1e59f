/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package backlog

import (
	"fmt"
	"regexp"
)

// Kind discriminates the four node types of the hierarchy.
type Kind string

const (
	KindPhase     Kind = "phase"
	KindMilestone Kind = "milestone"
	KindTask      Kind = "task"
	KindSubtask   Kind = "subtask"
)

// idPattern matches the ID grammar P<n>(.M<n>(.T<n>(.S<n>)?)?)?.
var idPattern = regexp.MustCompile(`^P([0-9]+)(?:\.M([0-9]+)(?:\.T([0-9]+)(?:\.S([0-9]+))?)?)?$`)

// KindForID returns the kind implied by the depth of the given ID, or an
// error if the ID does not match the grammar.
func KindForID(id string) (Kind, error) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return "", fmt.Errorf("id %q does not match P<n>[.M<n>[.T<n>[.S<n>]]]", id)
	}
	switch {
	case m[4] != "":
		return KindSubtask, nil
	case m[3] != "":
		return KindTask, nil
	case m[2] != "":
		return KindMilestone, nil
	default:
		return KindPhase, nil
	}
}

// ValidateID checks that id matches the grammar and that its depth agrees
// with the declared kind.
func ValidateID(kind Kind, id string) error {
	got, err := KindForID(id)
	if err != nil {
		return err
	}
	if got != kind {
		return fmt.Errorf("id %q has depth of a %s, item is declared %s", id, got, kind)
	}
	return nil
}
