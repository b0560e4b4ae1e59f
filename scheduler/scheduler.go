/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chainguard.dev/taskdriver/backlog"
	"chainguard.dev/taskdriver/backlog/depgraph"
	"chainguard.dev/taskdriver/executor"
	"chainguard.dev/taskdriver/research"
	"chainguard.dev/taskdriver/scope"
	"chainguard.dev/taskdriver/session"
	"github.com/chainguard-dev/clog"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithResearchQueue routes plan generation through a shared research queue,
// letting prefetched plans be reused. Without one the orchestrator calls the
// generator directly.
func WithResearchQueue(q *research.Queue) Option {
	return func(o *Orchestrator) error {
		o.research = q
		return nil
	}
}

// WithPlanGenerator sets the generator used when no research queue is
// configured.
func WithPlanGenerator(gen research.PlanGenerator) Option {
	return func(o *Orchestrator) error {
		o.generator = gen
		return nil
	}
}

// Orchestrator drives sequential execution over a scope. It owns an eagerly
// materialized queue of items; each ProcessNext consumes one.
type Orchestrator struct {
	store     *session.Store
	exec      executor.SubtaskExecutor
	research  *research.Queue
	generator research.PlanGenerator

	mu       sync.Mutex
	queue    []backlog.Item
	failures map[string]string
}

// New builds an Orchestrator for a scope. The subtask dependency graph is
// validated first; a cyclic registry never yields an orchestrator. The
// execution queue is resolved here, once, so later registry mutations do not
// change what gets traversed.
func New(ctx context.Context, store *session.Store, exec executor.SubtaskExecutor, sc scope.Scope, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if exec == nil {
		return nil, errors.New("subtask executor is required")
	}
	registry, err := store.Registry()
	if err != nil {
		return nil, err
	}
	if err := depgraph.Validate(ctx, registry); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		store:    store,
		exec:     exec,
		queue:    scope.Resolve(registry, sc),
		failures: make(map[string]string),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	clog.FromContext(ctx).With("scope", string(sc.Kind)).
		With("queued", len(o.queue)).
		Debug("Execution queue materialized")
	return o, nil
}

// Remaining returns how many items are still queued.
func (o *Orchestrator) Remaining() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Failures maps subtask IDs to the failure message captured when they were
// marked Failed during this orchestrator's run.
func (o *Orchestrator) Failures() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]string, len(o.failures))
	for k, v := range o.failures {
		out[k] = v
	}
	return out
}

// ProcessNext pops and processes the front of the queue, returning false when
// the queue is empty. Non-leaf items are promoted to Implementing and nothing
// more: their children are already behind them in the queue when the scope
// included them. Subtasks run the full research-implement cycle; a subtask
// failure is recorded as Failed status, not returned as an error.
func (o *Orchestrator) ProcessNext(ctx context.Context) (bool, error) {
	o.mu.Lock()
	if len(o.queue) == 0 {
		o.mu.Unlock()
		o.store.SetCurrentItem("")
		return false, nil
	}
	item := o.queue[0]
	o.queue = o.queue[1:]
	o.mu.Unlock()

	o.store.SetCurrentItem(item.ItemID())
	switch it := item.(type) {
	case *backlog.Subtask:
		if err := o.processSubtask(ctx, it); err != nil {
			return true, err
		}
	default:
		if err := o.store.UpdateItemStatus(item.ItemID(), backlog.StatusImplementing); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (o *Orchestrator) processSubtask(ctx context.Context, st *backlog.Subtask) error {
	log := clog.FromContext(ctx).With("subtask", st.ID)
	if status, ok := o.store.ItemStatus(st.ID); ok && status.Terminal() {
		log.With("status", string(status)).Debug("Skipping terminal subtask")
		return nil
	}

	registry, err := o.store.Registry()
	if err != nil {
		return err
	}

	if err := o.store.UpdateItemStatus(st.ID, backlog.StatusResearching); err != nil {
		return err
	}
	prp, err := o.obtainPlan(ctx, st)
	if err != nil {
		o.recordFailure(ctx, st.ID, fmt.Sprintf("plan generation: %v", err))
		return nil
	}
	if prp != nil {
		log.With("gates", len(prp.ValidationGates)).Debug("Execution plan ready")
	}

	if err := o.store.UpdateItemStatus(st.ID, backlog.StatusImplementing); err != nil {
		return err
	}
	res, err := o.exec.Execute(ctx, st, registry)
	if err != nil {
		o.recordFailure(ctx, st.ID, err.Error())
		return nil
	}
	if res == nil || !res.Success {
		msg := "executor reported failure"
		if res != nil && res.Error != "" {
			msg = res.Error
		}
		o.recordFailure(ctx, st.ID, msg)
		return nil
	}
	if err := o.store.UpdateItemStatus(st.ID, backlog.StatusComplete); err != nil {
		return err
	}
	log.With("reason", "Success").Info("Subtask complete")
	return nil
}

// obtainPlan resolves the subtask's execution plan: through the research
// queue when one is wired (reusing any prefetched plan), through the direct
// generator otherwise. With neither, execution proceeds planless and the
// subtask executor is on its own.
func (o *Orchestrator) obtainPlan(ctx context.Context, st *backlog.Subtask) (*backlog.PRPDocument, error) {
	if o.research != nil {
		if err := o.research.Enqueue(ctx, st); err != nil {
			return nil, err
		}
		return o.research.WaitForPRP(ctx, st.ID)
	}
	if o.generator != nil {
		return o.generator.GeneratePRP(ctx, st)
	}
	return nil, nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, id, msg string) {
	o.mu.Lock()
	o.failures[id] = msg
	o.mu.Unlock()
	if err := o.store.UpdateItemStatus(id, backlog.StatusFailed); err != nil {
		clog.FromContext(ctx).With("subtask", id).With("error", err.Error()).
			Error("Could not record subtask failure")
		return
	}
	clog.FromContext(ctx).With("subtask", id).With("error", msg).Warn("Subtask failed")
}

// BlockingDependencies reports which of a subtask's dependencies are not yet
// Complete.
func (o *Orchestrator) BlockingDependencies(st *backlog.Subtask) ([]string, error) {
	registry, err := o.store.Registry()
	if err != nil {
		return nil, err
	}
	return registry.BlockingDependencies(st), nil
}

// Run drains the queue and flushes the accumulated status changes once at
// the end.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		more, err := o.ProcessNext(ctx)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return o.store.FlushUpdates(ctx)
}
