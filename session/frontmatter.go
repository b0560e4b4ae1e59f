/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// frontMatter is the optional YAML block fenced by "---" lines at the top of
// a PRD. Absence, or an unparseable block, is not an error: the PRD body is
// what the engine actually executes against.
type frontMatter struct {
	Title   string `yaml:"title"`
	Version string `yaml:"version"`
}

// parseFrontMatter extracts the front matter from PRD content. It returns
// the zero value when the document has no front matter.
func parseFrontMatter(content string) frontMatter {
	var fm frontMatter
	rest, ok := strings.CutPrefix(content, "---\n")
	if !ok {
		return fm
	}
	body, _, ok := strings.Cut(rest, "\n---")
	if !ok {
		return fm
	}
	// Best effort: malformed YAML leaves the fields empty.
	_ = yaml.Unmarshal([]byte(body), &fm)
	return fm
}
