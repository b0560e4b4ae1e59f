/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package backlog

import "fmt"

// PRPDocument is the plan artifact produced for a single subtask. The engine
// treats its payload as opaque; it is generated by a plan-generator agent and
// consumed by the subtask executor.
type PRPDocument struct {
	TaskID              string             `json:"task_id" jsonschema:"required,description=ID of the subtask this plan belongs to"`
	Objective           string             `json:"objective" jsonschema:"required,description=What the subtask must accomplish"`
	Context             string             `json:"context" jsonschema:"description=Background the implementer needs"`
	ImplementationSteps []string           `json:"implementation_steps" jsonschema:"description=Ordered concrete steps"`
	ValidationGates     []ValidationGate   `json:"validation_gates" jsonschema:"description=Checks that must pass"`
	SuccessCriteria     []SuccessCriterion `json:"success_criteria" jsonschema:"description=Observable completion criteria"`
	References          []string           `json:"references" jsonschema:"description=Supporting documents or URLs"`
}

// ValidationGate is a single check within a plan. Manual gates carry no
// command; automated gates carry the command that realizes them.
type ValidationGate struct {
	Level       int     `json:"level" jsonschema:"required,minimum=1,maximum=4"`
	Description string  `json:"description" jsonschema:"required"`
	Command     *string `json:"command"`
	Manual      bool    `json:"manual"`
}

// SuccessCriterion is one observable condition for subtask completion.
type SuccessCriterion struct {
	Description string `json:"description" jsonschema:"required"`
	Satisfied   bool   `json:"satisfied"`
}

// Validate checks the structural invariants of the gate: level within 1..4,
// and manual gates carrying a null command.
func (g ValidationGate) Validate() error {
	if g.Level < 1 || g.Level > 4 {
		return fmt.Errorf("validation gate level %d out of range 1..4", g.Level)
	}
	if g.Manual && g.Command != nil {
		return fmt.Errorf("manual validation gate must not carry a command")
	}
	return nil
}

// Validate checks the document's gates.
func (d *PRPDocument) Validate() error {
	for i, g := range d.ValidationGates {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("validation gate %d: %w", i, err)
		}
	}
	return nil
}
