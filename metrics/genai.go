/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"context"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// GenAI provides OpenTelemetry metrics for the model-backed agents: token
// usage for plan generation and subtask execution. The model name is a
// dimension, so one instance serves every provider.
type GenAI struct {
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
}

// NewGenAI creates the agent metric instruments under the given meter name.
// Instruments that fail to build are replaced with no-ops.
func NewGenAI(meterName string) *GenAI {
	meter := otel.Meter(meterName, metric.WithInstrumentationVersion("1.0.0"))
	log := clog.FromContext(context.Background()).With("meter", meterName)

	promptTokens, err := meter.Int64Counter("genai.token.prompt",
		metric.WithDescription("The number of prompt tokens used"),
		metric.WithUnit("{tokens}"))
	if err != nil {
		log.With("error", err.Error()).Warn("Failed to create prompt token counter, metric disabled")
		promptTokens = noop.Int64Counter{}
	}

	completionTokens, err := meter.Int64Counter("genai.token.completion",
		metric.WithDescription("The number of completion tokens used"),
		metric.WithUnit("{tokens}"))
	if err != nil {
		log.With("error", err.Error()).Warn("Failed to create completion token counter, metric disabled")
		completionTokens = noop.Int64Counter{}
	}

	return &GenAI{
		promptTokens:     promptTokens,
		completionTokens: completionTokens,
	}
}

// RecordTokens records prompt and completion token usage for one model call.
func (m *GenAI) RecordTokens(ctx context.Context, model string, prompt, completion int64, attrs ...attribute.KeyValue) {
	base := append([]attribute.KeyValue{attribute.String("model", model)}, attrs...)
	m.promptTokens.Add(ctx, prompt, metric.WithAttributes(base...))
	m.completionTokens.Add(ctx, completion, metric.WithAttributes(base...))
}
