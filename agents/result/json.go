/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package result extracts structured JSON payloads from model responses.
// Plan-generation and execution agents return PRP documents and subtask
// results as JSON, but models like wrapping those in markdown fences and
// prose; this package strips all of that before unmarshaling.
package result

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ExtractJSON extracts JSON content from a model response that may contain
// markdown code blocks. It looks for the first ```json fence on its own line
// and collects content until the closing fence; without one it falls back to
// trimming fence markers and whitespace off the whole response.
func ExtractJSON(responseText string) string {
	lines := strings.Split(responseText, "\n")
	var jsonBuffer bytes.Buffer
	inJSONBlock := false
	foundJSON := false

	for _, line := range lines {
		if !inJSONBlock && line == "```json" {
			inJSONBlock = true
			foundJSON = true
			continue
		}
		if inJSONBlock && line == "```" {
			break
		}
		if inJSONBlock {
			if jsonBuffer.Len() > 0 {
				jsonBuffer.WriteString("\n")
			}
			jsonBuffer.WriteString(line)
		}
	}

	if foundJSON {
		// An empty ```json block yields ""; the caller's unmarshal will
		// report it.
		return strings.TrimSpace(jsonBuffer.String())
	}

	responseText = strings.TrimSpace(responseText)
	if strings.HasPrefix(responseText, "```json") && strings.HasSuffix(responseText, "```") {
		responseText = strings.TrimPrefix(responseText, "```json")
		responseText = strings.TrimSuffix(responseText, "```")
		return strings.TrimSpace(responseText)
	}
	// These do nothing if the markers aren't there, so always do it.
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	return strings.TrimSpace(responseText)
}

// Extract pulls the JSON payload out of a model response and unmarshals it
// into T.
func Extract[T any](responseText string) (T, error) {
	var result T
	if err := json.Unmarshal([]byte(ExtractJSON(responseText)), &result); err != nil {
		return result, err
	}
	return result, nil
}
