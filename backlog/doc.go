/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package backlog defines the hierarchical task model driven by the task
// engine: Phases contain Milestones, Milestones contain Tasks, and Tasks
// contain Subtasks. Subtasks are the only executable leaves; everything above
// them exists for grouping and status promotion.
//
// The hierarchy is a tagged union, not class inheritance. Every node carries a
// "type" discriminator in its serialized form, and the discriminator must
// agree with the depth encoded in the node's ID (P1, P1.M2, P1.M2.T3,
// P1.M2.T3.S4). Dispatch is always by Kind; there is no open polymorphism.
//
// A Backlog is the whole plan for one session:
//
//	b, err := backlog.Decode(data)
//	if err != nil { ... }
//	if err := b.Validate(); err != nil { ... }
//	for _, st := range b.Subtasks() {
//	    fmt.Println(st.ID, st.StoryPoints)
//	}
//
// Statuses are mutated through UpdateStatus, which locates an item by ID and
// rewrites its status field in place. All other traversal is read-only.
package backlog
