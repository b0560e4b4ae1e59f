/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package backlog

import (
	"encoding/json"
	"fmt"
)

// Item is implemented by all four node kinds. Status mutation happens only
// through UpdateStatus, so the interface is read-only.
type Item interface {
	ItemKind() Kind
	ItemID() string
	ItemTitle() string
	ItemStatus() Status
}

// Phase is the top level of the plan.
type Phase struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      Status       `json:"status"`
	Milestones  []*Milestone `json:"milestones"`
}

// Milestone groups tasks within a phase.
type Milestone struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      Status  `json:"status"`
	Tasks       []*Task `json:"tasks"`
}

// Task groups subtasks within a milestone.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Subtasks    []*Subtask `json:"subtasks"`
}

// Subtask is the atomic execution unit. Dependencies name other subtask IDs
// within the same registry, and ContextScope carries the structured contract
// handed to the executing agent.
type Subtask struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Status       Status   `json:"status"`
	StoryPoints  int      `json:"story_points"`
	Dependencies []string `json:"dependencies"`
	ContextScope string   `json:"context_scope"`
}

// Backlog is the entire hierarchical plan for one session.
type Backlog struct {
	Backlog []*Phase `json:"backlog"`
}

func (p *Phase) ItemKind() Kind       { return KindPhase }
func (p *Phase) ItemID() string       { return p.ID }
func (p *Phase) ItemTitle() string    { return p.Title }
func (p *Phase) ItemStatus() Status   { return p.Status }
func (m *Milestone) ItemKind() Kind   { return KindMilestone }
func (m *Milestone) ItemID() string   { return m.ID }
func (m *Milestone) ItemTitle() string { return m.Title }
func (m *Milestone) ItemStatus() Status { return m.Status }
func (t *Task) ItemKind() Kind        { return KindTask }
func (t *Task) ItemID() string        { return t.ID }
func (t *Task) ItemTitle() string     { return t.Title }
func (t *Task) ItemStatus() Status    { return t.Status }
func (s *Subtask) ItemKind() Kind     { return KindSubtask }
func (s *Subtask) ItemID() string     { return s.ID }
func (s *Subtask) ItemTitle() string  { return s.Title }
func (s *Subtask) ItemStatus() Status { return s.Status }

// MarshalJSON emits the node with its "type" discriminator.
func (p *Phase) MarshalJSON() ([]byte, error) {
	type alias Phase
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{Type: KindPhase, alias: (*alias)(p)})
}

// MarshalJSON emits the node with its "type" discriminator.
func (m *Milestone) MarshalJSON() ([]byte, error) {
	type alias Milestone
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{Type: KindMilestone, alias: (*alias)(m)})
}

// MarshalJSON emits the node with its "type" discriminator.
func (t *Task) MarshalJSON() ([]byte, error) {
	type alias Task
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{Type: KindTask, alias: (*alias)(t)})
}

// MarshalJSON emits the node with its "type" discriminator.
func (s *Subtask) MarshalJSON() ([]byte, error) {
	type alias Subtask
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{Type: KindSubtask, alias: (*alias)(s)})
}

// checkDiscriminator rejects a serialized node whose "type" field is present
// but disagrees with the kind implied by its position in the tree.
func checkDiscriminator(data []byte, want Kind) error {
	var probe struct {
		Type Kind   `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Type != "" && probe.Type != want {
		return fmt.Errorf("item %q: type discriminator %q does not agree with %s position", probe.ID, probe.Type, want)
	}
	return nil
}

// UnmarshalJSON verifies the discriminator before decoding the node.
func (p *Phase) UnmarshalJSON(data []byte) error {
	if err := checkDiscriminator(data, KindPhase); err != nil {
		return err
	}
	type alias Phase
	return json.Unmarshal(data, (*alias)(p))
}

// UnmarshalJSON verifies the discriminator before decoding the node.
func (m *Milestone) UnmarshalJSON(data []byte) error {
	if err := checkDiscriminator(data, KindMilestone); err != nil {
		return err
	}
	type alias Milestone
	return json.Unmarshal(data, (*alias)(m))
}

// UnmarshalJSON verifies the discriminator before decoding the node.
func (t *Task) UnmarshalJSON(data []byte) error {
	if err := checkDiscriminator(data, KindTask); err != nil {
		return err
	}
	type alias Task
	return json.Unmarshal(data, (*alias)(t))
}

// UnmarshalJSON verifies the discriminator before decoding the node.
func (s *Subtask) UnmarshalJSON(data []byte) error {
	if err := checkDiscriminator(data, KindSubtask); err != nil {
		return err
	}
	type alias Subtask
	return json.Unmarshal(data, (*alias)(s))
}

// Decode parses a serialized Backlog without validating it. Callers that
// accept untrusted input should follow up with Validate.
func Decode(data []byte) (*Backlog, error) {
	var b Backlog
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decoding backlog: %w", err)
	}
	return &b, nil
}

// Encode serializes the Backlog with 2-space indentation, the canonical
// on-disk form.
func (b *Backlog) Encode() ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}
