/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package executor runs subtasks concurrently in dependency order. Work is
// released in batches: every Planned subtask whose dependencies are Complete
// runs in the current batch under a bounded semaphore, and the next batch
// forms only after the whole batch has finished and its status changes have
// been flushed. A batch that cannot be formed while Planned subtasks remain
// is a deadlock and fails the run.
package executor
