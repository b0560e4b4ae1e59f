/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package executor

import (
	"fmt"
	"sort"
)

// DeadlockError is returned when Planned subtasks remain but none is
// runnable: every one of them waits on a dependency that will never reach
// Complete. Blocked maps each stuck subtask ID to the dependencies holding it
// back.
type DeadlockError struct {
	Blocked map[string][]string
}

func (e *DeadlockError) Error() string {
	ids := make([]string, 0, len(e.Blocked))
	for id := range e.Blocked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("deadlock: %d subtask(s) blocked with no runnable work: %v", len(ids), ids)
}
