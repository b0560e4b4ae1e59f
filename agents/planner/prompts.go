/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package planner

import (
	"fmt"
	"strings"
	"text/template"

	"chainguard.dev/taskdriver/backlog"
)

// planPrompt is the prompt both backends use. The contract (context_scope)
// is the authoritative statement of what the subtask must do; the PRD
// excerpt is background only.
var planPrompt = template.Must(template.New("plan").Parse(`<task>
You are planning the implementation of one subtask from a larger product
requirements document. Produce a PRP (Product Requirement Prompt) document:
a concrete, ordered execution plan an engineer-agent can follow without
further clarification.
</task>

<subtask id="{{.ID}}">
{{.Title}}
</subtask>

<contract>
{{.ContextScope}}
</contract>
{{if .Dependencies}}
<dependencies>
This subtask may rely on the completed work of: {{.Dependencies}}
</dependencies>
{{end}}{{if .PRDContext}}
<background>
{{.PRDContext}}
</background>
{{end}}
<instructions>
1. Restate the objective in one sentence.
2. List the implementation steps in execution order; each step must be
   independently checkable.
3. Define validation gates with levels 1 (syntax) through 4 (end-to-end).
   Automated gates carry the exact command to run; manual gates carry none.
4. Define observable success criteria.
</instructions>`))

type promptData struct {
	ID           string
	Title        string
	ContextScope string
	Dependencies string
	PRDContext   string
}

// renderPrompt binds a subtask to the planning prompt.
func renderPrompt(subtask *backlog.Subtask, prdContext string) (string, error) {
	var b strings.Builder
	err := planPrompt.Execute(&b, promptData{
		ID:           subtask.ID,
		Title:        subtask.Title,
		ContextScope: subtask.ContextScope,
		Dependencies: strings.Join(subtask.Dependencies, ", "),
		PRDContext:   prdContext,
	})
	if err != nil {
		return "", fmt.Errorf("rendering plan prompt: %w", err)
	}
	return b.String(), nil
}
