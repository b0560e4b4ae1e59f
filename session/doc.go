/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package session owns the on-disk and in-memory state of a task session.
//
// A session is a hash-addressed workspace directory under the plan directory,
// named <NNN>_<12-hex> where NNN is the zero-padded sequence number and the
// hex suffix is the first 12 characters of the PRD content hash. The
// directory holds:
//
//	tasks.json          the serialized task registry (2-space indented JSON)
//	prd_snapshot.md     a verbatim copy of the PRD at session creation
//	parent_session.txt  present on delta sessions only; the parent session ID
//	tasks.json.failed   recovery artifact written when a flush exhausts retries
//
// The store is the single write path for task state. Status mutations are
// batched in memory (UpdateItemStatus) and persisted atomically on
// FlushUpdates via a temp-file + rename protocol, so readers of tasks.json
// never observe a partial write. Transient filesystem errors during a flush
// are retried with exponential backoff; a flush that exhausts its retries
// leaves a tasks.json.failed recovery file and surfaces the original error.
//
//	store, err := session.New(planDir, prdPath)
//	if err != nil { ... }
//	state, err := store.Initialize(ctx)
//	if err != nil { ... }
//	_ = store.UpdateItemStatus("P1.M1.T1.S1", backlog.StatusComplete)
//	if err := store.FlushUpdates(ctx); err != nil { ... }
//
// When the PRD changes, CreateDeltaSession starts a child session linked to
// its parent by ID, carrying the parent's registry forward so completed work
// can be reused.
package session
