/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package scheduler steps through a resolved scope one item at a time. The
// execution queue is materialized at construction from the scope resolver's
// output, so traversal order is a property of the queue and ProcessNext never
// recurses. Non-leaf items are only promoted to Implementing; subtasks go
// through research, implementation, and a terminal status.
//
// ProcessNext makes no attempt to reorder for dependencies; scopes that need
// dependency-respecting release belong on the concurrent executor.
package scheduler
