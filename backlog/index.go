/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package backlog

// Walk visits every item in DFS pre-order (each node before its children,
// children left to right). The visitor returns false to stop early.
func (b *Backlog) Walk(visit func(Item) bool) {
	for _, p := range b.Backlog {
		if !walkPhase(p, visit) {
			return
		}
	}
}

func walkPhase(p *Phase, visit func(Item) bool) bool {
	if !visit(p) {
		return false
	}
	for _, m := range p.Milestones {
		if !visit(m) {
			return false
		}
		for _, t := range m.Tasks {
			if !visit(t) {
				return false
			}
			for _, s := range t.Subtasks {
				if !visit(s) {
					return false
				}
			}
		}
	}
	return true
}

// Subtasks returns every subtask leaf in registry order.
func (b *Backlog) Subtasks() []*Subtask {
	var out []*Subtask
	b.Walk(func(it Item) bool {
		if s, ok := it.(*Subtask); ok {
			out = append(out, s)
		}
		return true
	})
	return out
}

// Find returns the item with the given ID, or nil.
func (b *Backlog) Find(id string) Item {
	var found Item
	b.Walk(func(it Item) bool {
		if it.ItemID() == id {
			found = it
			return false
		}
		return true
	})
	return found
}

// Subtree returns the item with the given ID followed by all of its
// descendants in DFS pre-order. An unknown ID yields nil.
func (b *Backlog) Subtree(id string) []Item {
	root := b.Find(id)
	if root == nil {
		return nil
	}
	out := []Item{root}
	switch n := root.(type) {
	case *Phase:
		for _, m := range n.Milestones {
			out = append(out, subtreeMilestone(m)...)
		}
	case *Milestone:
		out = append(out[:0], subtreeMilestone(n)...)
	case *Task:
		out = append(out[:0], subtreeTask(n)...)
	case *Subtask:
	}
	return out
}

func subtreeMilestone(m *Milestone) []Item {
	out := []Item{m}
	for _, t := range m.Tasks {
		out = append(out, subtreeTask(t)...)
	}
	return out
}

func subtreeTask(t *Task) []Item {
	out := []Item{t}
	for _, s := range t.Subtasks {
		out = append(out, s)
	}
	return out
}

// UpdateStatus sets the status of the item with the given ID, returning
// whether the ID was found. This is the only mutation path over a Backlog.
func (b *Backlog) UpdateStatus(id string, status Status) bool {
	found := false
	b.Walk(func(it Item) bool {
		if it.ItemID() != id {
			return true
		}
		found = true
		switch n := it.(type) {
		case *Phase:
			n.Status = status
		case *Milestone:
			n.Status = status
		case *Task:
			n.Status = status
		case *Subtask:
			n.Status = status
		}
		return false
	})
	return found
}

// BlockingDependencies returns the dependency IDs of the subtask that are not
// yet Complete, in declaration order. Unknown dependency IDs are reported as
// blocking; they can never complete.
func (b *Backlog) BlockingDependencies(s *Subtask) []string {
	byID := make(map[string]*Subtask)
	for _, st := range b.Subtasks() {
		byID[st.ID] = st
	}
	var blocked []string
	for _, dep := range s.Dependencies {
		d, ok := byID[dep]
		if !ok || d.Status != StatusComplete {
			blocked = append(blocked, dep)
		}
	}
	return blocked
}

// StoryPointTotals sums subtask story points per phase ID, with the grand
// total under the empty key.
func (b *Backlog) StoryPointTotals() map[string]int {
	totals := make(map[string]int)
	for _, p := range b.Backlog {
		for _, m := range p.Milestones {
			for _, t := range m.Tasks {
				for _, s := range t.Subtasks {
					totals[p.ID] += s.StoryPoints
					totals[""] += s.StoryPoints
				}
			}
		}
	}
	return totals
}
