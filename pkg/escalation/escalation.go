// Copyright 2025 Pipelex Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package escalation implements the Escalation Detector (spec §4.3): it
// locates the _escalation JSON signal embedded in an LLM response,
// decides whether human review is required, and strips the signal from
// the content returned to later processing.
package escalation

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Signal is the parsed _escalation block (spec §3 "EscalationSignal").
type Signal struct {
	RequiresEscalation bool     `json:"requires_escalation"`
	Confidence         int      `json:"confidence"`
	RiskLevel          string   `json:"risk_level"`
	TriggeredCriteria  []string `json:"triggered_criteria"`
	Reasoning          string   `json:"reasoning"`
	ProposedAction     string   `json:"proposed_action"`
}

var escalationKey = regexp.MustCompile(`"_escalation"\s*:\s*`)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?.*?\\n?```")

const defaultConfidenceThreshold = 75

// Detect locates and parses the _escalation block in content, returning
// the cleaned content (with the block removed) and the parsed signal.
// Malformed signals are non-fatal: the original content is returned
// unchanged with a nil signal and a non-nil parseError.
func Detect(content string, confidenceThreshold int) (cleaned string, signal *Signal, parseError error) {
	if confidenceThreshold <= 0 {
		confidenceThreshold = defaultConfidenceThreshold
	}

	raw, span, ok := findEscalationBlock(content)
	if !ok {
		return content, nil, nil
	}

	sig := &Signal{Confidence: 50, RiskLevel: "medium"}
	if err := json.Unmarshal([]byte(raw), sig); err != nil {
		return content, nil, err
	}
	if sig.Confidence == 0 {
		sig.Confidence = 50
	}
	if sig.RiskLevel == "" {
		sig.RiskLevel = "medium"
	}

	cleaned = strings.TrimSpace(content[:span[0]] + content[span[1]:])
	return cleaned, sig, nil
}

// findEscalationBlock locates the "_escalation" key (preferring one
// inside a fenced code block, falling back to a trailing raw occurrence),
// then balanced-brace-scans forward from its value to extract the object
// text. span covers the surrounding fenced block (if any) or the bare
// object, so the whole thing can be stripped from content.
func findEscalationBlock(content string) (raw string, span [2]int, ok bool) {
	searchIn := content
	offset := 0
	inFence := false
	if loc := fencedBlock.FindStringIndex(content); loc != nil {
		if escalationKey.MatchString(content[loc[0]:loc[1]]) {
			searchIn = content[loc[0]:loc[1]]
			offset = loc[0]
			inFence = true
		}
	}

	keyLoc := escalationKey.FindStringIndex(searchIn)
	if keyLoc == nil {
		return "", [2]int{}, false
	}

	valueStart := keyLoc[1]
	objEnd := scanBalancedObject(searchIn, valueStart)
	if objEnd == -1 {
		return "", [2]int{}, false
	}

	raw = searchIn[valueStart:objEnd]
	if inFence {
		// The whole fenced block is removed from the surrounding content.
		if loc := fencedBlock.FindStringIndex(content); loc != nil {
			return raw, [2]int{loc[0], loc[1]}, true
		}
	}
	return raw, [2]int{offset + keyLoc[0], offset + objEnd}, true
}

// scanBalancedObject returns the index just past the matching closing
// brace for the JSON object starting at or after start, or -1.
func scanBalancedObject(s string, start int) int {
	i := start
	for i < len(s) && s[i] != '{' {
		i++
	}
	if i >= len(s) {
		return -1
	}
	depth := 0
	inString := false
	escaped := false
	for ; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// RequiresEscalation decides whether a signal triggers escalation: any of
// requires_escalation=true, confidence below threshold, risk_level in
// {high, critical}, or a non-empty triggered_criteria list.
func RequiresEscalation(sig *Signal, confidenceThreshold int) bool {
	if sig == nil {
		return false
	}
	if confidenceThreshold <= 0 {
		confidenceThreshold = defaultConfidenceThreshold
	}
	if sig.RequiresEscalation {
		return true
	}
	if sig.Confidence < confidenceThreshold {
		return true
	}
	if sig.RiskLevel == "high" || sig.RiskLevel == "critical" {
		return true
	}
	if len(sig.TriggeredCriteria) > 0 {
		return true
	}
	return false
}
