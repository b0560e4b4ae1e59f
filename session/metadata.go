/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"chainguard.dev/taskdriver/backlog"
)

// hashPrefixLen is how much of the full PRD hash appears in session IDs.
const hashPrefixLen = 12

// sessionDirPattern matches session directory names: a sequence number of at
// least three digits, an underscore, and the 12-hex hash prefix. Listing
// ignores anything else in the plan directory.
var sessionDirPattern = regexp.MustCompile(`^([0-9]{3,})_([0-9a-f]{12})$`)

// Metadata identifies a session on disk.
type Metadata struct {
	// ID is "<NNN>_<12-hex>": the sequence zero-padded to at least three
	// digits plus the hash prefix.
	ID string `json:"id"`
	// Hash is the first 12 hex characters of the full PRD content hash.
	Hash string `json:"hash"`
	// Path is the absolute session directory.
	Path string `json:"path"`
	// CreatedAt is when the session directory appeared.
	CreatedAt time.Time `json:"createdAt"`
	// ParentSession is the parent session ID for delta sessions, empty
	// otherwise.
	ParentSession string `json:"parentSession,omitempty"`
	// PRDTitle and PRDVersion come from optional YAML front matter in the
	// PRD; both are empty when the PRD carries none.
	PRDTitle   string `json:"prdTitle,omitempty"`
	PRDVersion string `json:"prdVersion,omitempty"`
}

// DeltaInfo carries the extra state of a delta session.
type DeltaInfo struct {
	OldPRD      string `json:"oldPRD"`
	NewPRD      string `json:"newPRD"`
	DiffSummary string `json:"diffSummary"`
}

// State is the live session: its identity, the PRD snapshot it was created
// from, and the task registry being executed.
type State struct {
	Metadata      Metadata
	PRDSnapshot   string
	TaskRegistry  *backlog.Backlog
	CurrentItemID string
	// Delta is non-nil for delta sessions.
	Delta *DeltaInfo
}

// formatSessionID renders the directory name for a sequence and full hash.
// %03d grows naturally to four and more digits past 999.
func formatSessionID(seq int, hash string) string {
	return fmt.Sprintf("%03d_%s", seq, hash[:hashPrefixLen])
}

// parseSessionDir splits a directory name into its sequence and hash prefix,
// reporting whether the name is a session directory at all.
func parseSessionDir(name string) (seq int, hash string, ok bool) {
	m := sessionDirPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, "", false
	}
	seq, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return seq, m[2], true
}
