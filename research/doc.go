/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package research runs plan generation ahead of execution. A Queue accepts
// subtasks, holds generation to a bounded number of concurrent requests, and
// caches finished plans so each subtask is researched at most once per
// session. Callers can block on a plan with WaitForPRP whether the subtask is
// still queued or already in flight.
package research
