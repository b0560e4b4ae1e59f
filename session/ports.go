/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// Severity grades a PRD validation issue.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Issue is a single finding from PRD validation.
type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Section  string   `json:"section,omitempty"`
}

// ValidationReport is the outcome of validating a PRD. A report with one or
// more critical issues fails session initialization.
type ValidationReport struct {
	Valid   bool    `json:"valid"`
	Issues  []Issue `json:"issues"`
	Summary string  `json:"summary"`
}

// CriticalIssues returns only the critical findings.
func (r *ValidationReport) CriticalIssues() []Issue {
	var out []Issue
	for _, iss := range r.Issues {
		if iss.Severity == SeverityCritical {
			out = append(out, iss)
		}
	}
	return out
}

// PRDValidator checks a PRD document before a session is created for it. The
// store treats it as an opaque collaborator; semantic validation lives
// elsewhere.
type PRDValidator interface {
	Validate(ctx context.Context, path string) (*ValidationReport, error)
}

// Hasher derives the stable content hash that addresses a session. The
// returned string is 64 lowercase hex characters, deterministic over file
// contents.
type Hasher interface {
	HashPRD(path string) (string, error)
}

// SHA256Hasher is the default Hasher: hex-encoded SHA-256 of the file bytes.
type SHA256Hasher struct{}

// HashPRD implements Hasher.
func (SHA256Hasher) HashPRD(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading PRD for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
