/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package worker

import (
	"fmt"
	"strings"
	"text/template"

	"chainguard.dev/taskdriver/backlog"
)

// workPrompt drives one subtask execution. The contract is authoritative;
// the plan, when present, tells the agent how to satisfy it.
var workPrompt = template.Must(template.New("work").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`<task>
You are implementing one subtask of a larger plan. Do the work the contract
describes, run its validation gates, and report the outcome through the
submit_result tool. Report success only when every automated gate passed.
</task>

<subtask id="{{.ID}}">
{{.Title}}
</subtask>

<contract>
{{.ContextScope}}
</contract>
{{if .Plan}}
<plan objective="{{.Plan.Objective}}">
{{range $i, $step := .Plan.ImplementationSteps}}{{inc $i}}. {{$step}}
{{end}}</plan>

<validation>
{{range .Plan.ValidationGates}}- Level {{.Level}}: {{.Description}}{{if .Command}} ({{.Command}}){{end}}{{if .Manual}} [manual]{{end}}
{{end}}</validation>
{{end}}
<instructions>
1. Implement the subtask exactly as the contract's LOGIC section describes.
2. Run every automated validation gate and record each outcome.
3. Skip manual gates; report them as not passed with an explanatory note.
4. On failure, set success to false and describe the failure in error.
</instructions>`))

type workPromptData struct {
	ID           string
	Title        string
	ContextScope string
	Plan         *backlog.PRPDocument
}

// renderWorkPrompt binds a subtask and its optional plan to the execution
// prompt.
func renderWorkPrompt(subtask *backlog.Subtask, plan *backlog.PRPDocument) (string, error) {
	var b strings.Builder
	err := workPrompt.Execute(&b, workPromptData{
		ID:           subtask.ID,
		Title:        subtask.Title,
		ContextScope: subtask.ContextScope,
		Plan:         plan,
	})
	if err != nil {
		return "", fmt.Errorf("rendering work prompt: %w", err)
	}
	return b.String(), nil
}
