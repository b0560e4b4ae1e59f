/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package backlog

import (
	"fmt"
	"strings"
)

// contextScopePrefix is the literal every contract must start with.
const contextScopePrefix = "CONTRACT DEFINITION:\n"

// contextScopeSections are the required numbered sections, in order.
// Section names are uppercase-sensitive; bodies may span multiple lines.
var contextScopeSections = []string{
	"1. RESEARCH NOTE:",
	"2. INPUT:",
	"3. LOGIC:",
	"4. OUTPUT:",
}

// ValidateContextScope checks the structured contract string attached to a
// subtask: the CONTRACT DEFINITION header followed by the four numbered
// sections in order.
func ValidateContextScope(s string) error {
	if !strings.HasPrefix(s, contextScopePrefix) {
		return fmt.Errorf("context scope must start with %q", strings.TrimSpace(contextScopePrefix))
	}
	rest := s[len(contextScopePrefix):]
	pos := 0
	for _, section := range contextScopeSections {
		i := strings.Index(rest[pos:], section)
		if i < 0 {
			return fmt.Errorf("context scope missing section %q (sections must appear in order)", section)
		}
		pos += i + len(section)
	}
	return nil
}
