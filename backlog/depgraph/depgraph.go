/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package depgraph validates the directed dependency graph induced over a
// backlog's subtasks. Self-dependencies and cycles are fatal; long dependency
// chains are reported informationally but never fail validation. Dependencies
// that reference unknown IDs are treated as leaves so a partially authored
// plan still gets cycle detection over what exists.
package depgraph

import (
	"context"

	"chainguard.dev/taskdriver/backlog"
	"github.com/chainguard-dev/clog"
)

// DefaultMaxChainDepth is the chain length beyond which a dependency chain is
// reported as suspiciously deep.
const DefaultMaxChainDepth = 5

// Option configures validation.
type Option func(*validator)

// WithMaxChainDepth overrides the informational chain-depth threshold.
func WithMaxChainDepth(depth int) Option {
	return func(v *validator) {
		if depth > 0 {
			v.maxChainDepth = depth
		}
	}
}

type validator struct {
	maxChainDepth int
}

// color values for the iterative DFS.
const (
	unvisited = iota
	visiting
	visited
)

// Validate derives the dependency graph over subtask IDs and checks it, in
// order: self-dependencies, then cycles of length >= 2. The first hit fails
// with *backlog.CircularDependencyError. Chains deeper than the threshold are
// logged and do not fail.
func Validate(ctx context.Context, b *backlog.Backlog, opts ...Option) error {
	v := &validator{maxChainDepth: DefaultMaxChainDepth}
	for _, opt := range opts {
		opt(v)
	}

	subtasks := b.Subtasks()
	edges := make(map[string][]string, len(subtasks))
	known := make(map[string]bool, len(subtasks))
	order := make([]string, 0, len(subtasks))
	for _, s := range subtasks {
		known[s.ID] = true
		order = append(order, s.ID)
	}
	for _, s := range subtasks {
		// Self-dependencies fail before any graph traversal.
		for _, dep := range s.Dependencies {
			if dep == s.ID {
				return &backlog.CircularDependencyError{
					CyclePath:   []string{s.ID, s.ID},
					CycleLength: 1,
					TaskID:      s.ID,
				}
			}
			// Unknown dependency IDs become leaves: no outgoing edges.
			if known[dep] {
				edges[s.ID] = append(edges[s.ID], dep)
			}
		}
	}

	if err := detectCycles(order, edges); err != nil {
		return err
	}

	reportLongChains(ctx, v.maxChainDepth, order, edges)
	return nil
}

// detectCycles runs an iterative tri-color DFS over the graph. On a back
// edge it reconstructs the cycle path from the explicit stack, ending where
// the cycle started.
func detectCycles(order []string, edges map[string][]string) error {
	color := make(map[string]int, len(order))

	type frame struct {
		id   string
		next int
	}

	for _, start := range order {
		if color[start] != unvisited {
			continue
		}
		stack := []frame{{id: start}}
		color[start] = visiting
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := edges[top.id]
			if top.next >= len(deps) {
				color[top.id] = visited
				stack = stack[:len(stack)-1]
				continue
			}
			dep := deps[top.next]
			top.next++
			switch color[dep] {
			case unvisited:
				color[dep] = visiting
				stack = append(stack, frame{id: dep})
			case visiting:
				// Back edge: the cycle runs from dep along the stack back to dep.
				var path []string
				for i := range stack {
					if stack[i].id == dep || len(path) > 0 {
						path = append(path, stack[i].id)
					}
				}
				path = append(path, dep)
				return &backlog.CircularDependencyError{
					CyclePath:   path,
					CycleLength: len(path) - 1,
					TaskID:      dep,
				}
			}
		}
	}
	return nil
}

// reportLongChains logs every subtask whose longest dependency chain exceeds
// the threshold. The graph is known acyclic here, so memoized depth-first
// depth computation terminates.
func reportLongChains(ctx context.Context, threshold int, order []string, edges map[string][]string) {
	log := clog.FromContext(ctx)
	depth := make(map[string]int, len(order))

	var chainDepth func(id string) int
	chainDepth = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		d := 0
		for _, dep := range edges[id] {
			if cd := chainDepth(dep) + 1; cd > d {
				d = cd
			}
		}
		depth[id] = d
		return d
	}

	for _, id := range order {
		if d := chainDepth(id); d > threshold {
			log.With("subtask", id).
				With("chain_depth", d).
				With("threshold", threshold).
				Warn("Dependency chain exceeds recommended depth")
		}
	}
}
