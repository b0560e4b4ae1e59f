/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"context"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Execution provides OpenTelemetry metrics for the concurrent executor:
// per-subtask outcomes, batch latency, and detected deadlocks.
type Execution struct {
	subtasks      metric.Int64Counter
	batchDuration metric.Float64Histogram
	deadlocks     metric.Int64Counter
}

// NewExecution creates the executor's metric instruments under the given
// meter name. Instruments that fail to build are replaced with no-ops.
func NewExecution(meterName string) *Execution {
	meter := otel.Meter(meterName, metric.WithInstrumentationVersion("1.0.0"))
	log := clog.FromContext(context.Background()).With("meter", meterName)

	subtasks, err := meter.Int64Counter("taskdriver.subtasks.executed",
		metric.WithDescription("Subtask executions by outcome"),
		metric.WithUnit("{subtasks}"))
	if err != nil {
		log.With("error", err.Error()).Warn("Failed to create subtask counter, metric disabled")
		subtasks = noop.Int64Counter{}
	}

	batchDuration, err := meter.Float64Histogram("taskdriver.batch.duration",
		metric.WithDescription("Wall-clock duration of executor batches"),
		metric.WithUnit("s"))
	if err != nil {
		log.With("error", err.Error()).Warn("Failed to create batch histogram, metric disabled")
		batchDuration = noop.Float64Histogram{}
	}

	deadlocks, err := meter.Int64Counter("taskdriver.deadlocks",
		metric.WithDescription("Executor runs that failed with a dependency deadlock"),
		metric.WithUnit("{runs}"))
	if err != nil {
		log.With("error", err.Error()).Warn("Failed to create deadlock counter, metric disabled")
		deadlocks = noop.Int64Counter{}
	}

	return &Execution{
		subtasks:      subtasks,
		batchDuration: batchDuration,
		deadlocks:     deadlocks,
	}
}

// RecordSubtask records one finished subtask with its outcome.
func (m *Execution) RecordSubtask(ctx context.Context, subtaskID string, success bool) {
	outcome := "complete"
	if !success {
		outcome = "failed"
	}
	m.subtasks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("subtask", subtaskID),
	))
}

// RecordBatch records a completed batch.
func (m *Execution) RecordBatch(ctx context.Context, size int, d time.Duration) {
	m.batchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.Int("size", size),
	))
}

// RecordDeadlock records a run aborted by the deadlock gate.
func (m *Execution) RecordDeadlock(ctx context.Context, blocked int) {
	m.deadlocks.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("blocked", blocked),
	))
}
