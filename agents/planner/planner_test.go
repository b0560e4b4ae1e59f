/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"chainguard.dev/taskdriver/agents/schema"
	"chainguard.dev/taskdriver/backlog"
	"github.com/anthropics/anthropic-sdk-go"
)

func testSubtask() *backlog.Subtask {
	return &backlog.Subtask{
		ID:           "P1.M1.T1.S1",
		Title:        "Implement the session store",
		Status:       backlog.StatusPlanned,
		StoryPoints:  3,
		Dependencies: []string{"P1.M1.T1.S0"},
		ContextScope: "CONTRACT DEFINITION:\n1. RESEARCH NOTE: none\n2. INPUT: a PRD path\n3. LOGIC: hash and persist\n4. OUTPUT: a session directory",
	}
}

func TestRenderPrompt(t *testing.T) {
	t.Parallel()

	prompt, err := renderPrompt(testSubtask(), "The product ships a payments service.")
	if err != nil {
		t.Fatalf("renderPrompt() = %v", err)
	}
	for _, want := range []string{
		`<subtask id="P1.M1.T1.S1">`,
		"Implement the session store",
		"CONTRACT DEFINITION:",
		"P1.M1.T1.S0",
		"The product ships a payments service.",
		"levels 1 (syntax) through 4 (end-to-end)",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestRenderPromptOmitsEmptySections(t *testing.T) {
	t.Parallel()

	st := testSubtask()
	st.Dependencies = nil
	prompt, err := renderPrompt(st, "")
	if err != nil {
		t.Fatalf("renderPrompt() = %v", err)
	}
	if strings.Contains(prompt, "<dependencies>") {
		t.Error("prompt should omit the dependencies section when there are none")
	}
	if strings.Contains(prompt, "<background>") {
		t.Error("prompt should omit the background section without PRD context")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	if _, err := New(ctx, Config{}); err == nil {
		t.Error("New() with no provider should fail")
	}
	if _, err := New(ctx, Config{Provider: "openai"}); err == nil || !strings.Contains(err.Error(), "unsupported planner provider") {
		t.Errorf("New() with unknown provider = %v, want unsupported provider error", err)
	}
	if _, err := New(ctx, Config{Provider: ProviderGoogle}); err == nil {
		t.Error("New() google without project should fail")
	}
}

func TestValidatePlan(t *testing.T) {
	t.Parallel()

	st := testSubtask()
	cmd := "go test ./..."
	for _, tc := range []struct {
		name    string
		prp     *backlog.PRPDocument
		wantErr bool
	}{{
		name: "valid",
		prp: &backlog.PRPDocument{
			TaskID:    st.ID,
			Objective: "Persist sessions atomically",
			ValidationGates: []backlog.ValidationGate{
				{Level: 2, Description: "unit tests", Command: &cmd},
			},
		},
	}, {
		name: "task ID defaulted",
		prp: &backlog.PRPDocument{
			Objective: "Persist sessions atomically",
		},
	}, {
		name: "wrong subtask",
		prp: &backlog.PRPDocument{
			TaskID:    "P9.M9.T9.S9",
			Objective: "Persist sessions atomically",
		},
		wantErr: true,
	}, {
		name:    "missing objective",
		prp:     &backlog.PRPDocument{TaskID: st.ID},
		wantErr: true,
	}, {
		name:    "nil plan",
		prp:     nil,
		wantErr: true,
	}, {
		name: "manual gate with command",
		prp: &backlog.PRPDocument{
			TaskID:    st.ID,
			Objective: "Persist sessions atomically",
			ValidationGates: []backlog.ValidationGate{
				{Level: 3, Description: "review", Manual: true, Command: &cmd},
			},
		},
		wantErr: true,
	}} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := validatePlan(st, tc.prp)
			if (err != nil) != tc.wantErr {
				t.Errorf("validatePlan() = %v, wantErr %t", err, tc.wantErr)
			}
			if !tc.wantErr && tc.prp.TaskID != st.ID {
				t.Errorf("TaskID = %q, want %q", tc.prp.TaskID, st.ID)
			}
		})
	}
}

func TestIsRetryableClaudeError(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &anthropic.Error{StatusCode: 429}, true},
		{"unavailable", &anthropic.Error{StatusCode: 503}, true},
		{"overloaded", &anthropic.Error{StatusCode: 529}, true},
		{"bad request", &anthropic.Error{StatusCode: 400}, false},
		{"wrapped", fmt.Errorf("calling model: %w", &anthropic.Error{StatusCode: 504}), true},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := isRetryableClaudeError(tc.err); got != tc.want {
				t.Errorf("isRetryableClaudeError(%v) = %t, want %t", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsRetryableVertexError(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		err  error
		want bool
	}{
		{"resource exhausted", errors.New("rpc error: code = 8 desc = Resource exhausted"), true},
		{"status code", errors.New("googleapi: Error 429: quota"), true},
		{"overloaded", errors.New("model is Overloaded, try again"), true},
		{"internal", errors.New("Internal error encountered"), true},
		{"invalid argument", errors.New("rpc error: code = 3 desc = invalid argument"), false},
		{"nil", nil, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := isRetryableVertexError(tc.err); got != tc.want {
				t.Errorf("isRetryableVertexError(%v) = %t, want %t", tc.err, got, tc.want)
			}
		})
	}
}

func TestPlanSchemaToolShape(t *testing.T) {
	t.Parallel()

	m, err := schemaToMap(schema.ReflectType[backlog.PRPDocument]())
	if err != nil {
		t.Fatalf("schemaToMap() = %v", err)
	}
	props, ok := m["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties = %T, want map", m["properties"])
	}
	for _, want := range []string{"task_id", "objective", "validation_gates", "success_criteria"} {
		if _, ok := props[want]; !ok {
			t.Errorf("tool schema missing property %q", want)
		}
	}

	required := requiredList(m)
	got := make(map[string]bool, len(required))
	for _, r := range required {
		got[r] = true
	}
	if !got["task_id"] || !got["objective"] {
		t.Errorf("required = %v, want task_id and objective", required)
	}
}
