/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"errors"
	"fmt"
)

// ErrNoSession indicates a mutation or query that requires an initialized
// session ran before Initialize (or after a failed one). This is a
// programming error in the caller, not an environmental condition.
var ErrNoSession = errors.New("no active session: call Initialize first")

// FileError reports a failed filesystem operation on session state. Code
// carries the OS error name (e.g. "ENOSPC") when one could be extracted.
type FileError struct {
	Path string
	Op   string
	Code string
	Err  error
}

func (e *FileError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("session file %s failed on %s (%s): %v", e.Op, e.Path, e.Code, e.Err)
	}
	return fmt.Sprintf("session file %s failed on %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }
