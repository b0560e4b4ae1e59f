/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package result

import (
	"testing"

	"chainguard.dev/taskdriver/backlog"
	"github.com/google/go-cmp/cmp"
)

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{{
		name:  "fenced block",
		input: "Here is the plan:\n```json\n{\"task_id\": \"P1.M1.T1.S1\"}\n```",
		want:  `{"task_id": "P1.M1.T1.S1"}`,
	}, {
		name: "multi-line fenced block",
		input: "```json\n{\n  \"task_id\": \"P1.M1.T1.S1\",\n  \"objective\": \"wire the parser\"\n}\n```",
		want:  "{\n  \"task_id\": \"P1.M1.T1.S1\",\n  \"objective\": \"wire the parser\"\n}",
	}, {
		name:  "prose before and after",
		input: "Let me plan this.\n\n```json\n{\"objective\": \"x\"}\n```\n\nDone.",
		want:  `{"objective": "x"}`,
	}, {
		name:  "empty fenced block",
		input: "```json\n```",
		want:  "",
	}, {
		name:  "bare fences without language",
		input: "```\n{\"a\": 1}\n```",
		want:  `{"a": 1}`,
	}, {
		name:  "no fences at all",
		input: "  {\"a\": 1}  ",
		want:  `{"a": 1}`,
	}, {
		name:  "inline json fence",
		input: "```json{\"a\": 1}```",
		want:  `{"a": 1}`,
	}, {
		name:  "only first block wins",
		input: "```json\n{\"a\": 1}\n```\n```json\n{\"b\": 2}\n```",
		want:  `{"a": 1}`,
	}}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ExtractJSON(tc.input); got != tc.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractTyped(t *testing.T) {
	t.Parallel()

	input := "Plan follows.\n```json\n" +
		`{"task_id": "P1.M1.T1.S1", "objective": "add retries", "implementation_steps": ["a", "b"]}` +
		"\n```"
	got, err := Extract[backlog.PRPDocument](input)
	if err != nil {
		t.Fatalf("Extract() = %v", err)
	}
	want := backlog.PRPDocument{
		TaskID:              "P1.M1.T1.S1",
		Objective:           "add retries",
		ImplementationSteps: []string{"a", "b"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractMalformed(t *testing.T) {
	t.Parallel()

	if _, err := Extract[backlog.PRPDocument]("not json at all"); err == nil {
		t.Error("Extract() accepted non-JSON input")
	}
	if _, err := Extract[backlog.PRPDocument]("```json\n```"); err == nil {
		t.Error("Extract() accepted an empty block")
	}
}
