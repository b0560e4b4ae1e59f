/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package metrics holds the OpenTelemetry instruments for task execution and
// plan generation. Instrument creation degrades gracefully: a meter that
// cannot build a counter yields a no-op instrument rather than an error, so
// callers record unconditionally.
package metrics
