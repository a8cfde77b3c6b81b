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

// Package outputparser implements the Output Parser (spec §4.2): it
// extracts declared output fields from free-form LLM text via a ladder of
// increasingly permissive strategies (fenced JSON, lenient JSON repair,
// sibling-block scan, key-by-key regex extraction) and fills any field
// still missing from applyDefaultValues.
package outputparser

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var (
	ansiEscape  = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)
	ctrlMarker  = regexp.MustCompile(`\[CTRL\][^\[]*\[/CTRL\]`)
	c0Control   = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)
	fencedJSON  = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n```")
	fencedJSON2 = regexp.MustCompile("(?s)```json(.*?)```")
	fencedAny   = regexp.MustCompile("(?s)```(?:\\w*)\\s*\\n?(.*?)```")
	fencedOpen  = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*)$")
	trailingCom = regexp.MustCompile(`,(\s*[}\]])`)
	dupComma    = regexp.MustCompile(`,\s*,+`)
	missingCom1 = regexp.MustCompile(`\]\s*\n\s*\[`)
	missingCom2 = regexp.MustCompile(`\}\s*\n\s*\{`)

	maxStringScan = 500 * 1024 // 500 KiB cap on key-by-key string extraction
)

// ParseStageOutputs extracts expectedOutputs from content. The returned
// mapping's keys are always a subset of expectedOutputs; any still
// missing after extraction are filled via ApplyDefaultValues.
func ParseStageOutputs(content string, expectedOutputs []string) map[string]any {
	cleaned := stripControlChars(content)

	result := map[string]any{}
	if obj, ok := extractJSONObject(cleaned); ok {
		for _, key := range expectedOutputs {
			if v, ok := obj[key]; ok {
				result[key] = v
			}
		}
	}

	// Sibling fenced-block scan + nested object scan for any still-missing
	// keys (step 5 of the parse pipeline).
	missing := missingKeys(result, expectedOutputs)
	if len(missing) > 0 {
		scanSiblingBlocks(cleaned, missing, result)
	}

	// Fall back to key-by-key regex extraction for anything still missing.
	missing = missingKeys(result, expectedOutputs)
	if len(missing) > 0 {
		extractKeyByKey(cleaned, missing, result)
	}

	ApplyDefaultValues(result, expectedOutputs)

	out := make(map[string]any, len(expectedOutputs))
	for _, k := range expectedOutputs {
		if v, ok := result[k]; ok {
			out[k] = v
		}
	}
	return out
}

func missingKeys(have map[string]any, expected []string) []string {
	var missing []string
	for _, k := range expected {
		if _, ok := have[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

func stripControlChars(s string) string {
	s = ansiEscape.ReplaceAllString(s, "")
	s = ctrlMarker.ReplaceAllString(s, "")
	s = c0Control.ReplaceAllString(s, "")
	return s
}

// extractJSONObject implements the fenced-block preference ladder (step
// 2), normalization/lenient-fix (step 3), and JSON parse (step 4).
func extractJSONObject(content string) (map[string]any, bool) {
	candidates := fencedCandidates(content)
	candidates = append(candidates, content) // (whole content, last resort)

	for _, candidate := range candidates {
		candidate = normalize(candidate)
		if candidate == "" {
			continue
		}
		candidate = extractBalancedValue(candidate)
		candidate = lenientFix(candidate)

		var obj map[string]any
		if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
			return obj, true
		}
		// Also accept a top-level array containing a single object.
		var arr []map[string]any
		if err := json.Unmarshal([]byte(candidate), &arr); err == nil && len(arr) > 0 {
			return arr[0], true
		}
	}
	return nil, false
}

// fencedCandidates returns fenced-block contents in preference order:
// (a) ```json block with real newlines, (b) ```json with none, (c)
// untagged block starting with { or [, (d) any fenced content, (e) an
// unclosed trailing fence.
func fencedCandidates(content string) []string {
	var out []string
	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		out = append(out, m[1])
	}
	if m := fencedJSON2.FindAllStringSubmatch(content, -1); m != nil {
		for _, match := range m {
			out = append(out, match[1])
		}
	}
	for _, m := range fencedAny.FindAllStringSubmatch(content, -1) {
		trimmed := strings.TrimSpace(m[1])
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			out = append(out, m[1])
		}
	}
	for _, m := range fencedAny.FindAllStringSubmatch(content, -1) {
		out = append(out, m[1])
	}
	if m := fencedOpen.FindStringSubmatch(content); m != nil {
		out = append(out, m[1])
	}
	return out
}

func normalize(s string) string {
	return strings.TrimSpace(s)
}

// extractBalancedValue clips leading/trailing prose around the first
// balanced JSON value ({...} or [...]) in s.
func extractBalancedValue(s string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			open = s[i]
			if open == '{' {
				close = '}'
			} else {
				close = ']'
			}
			break
		}
	}
	if start == -1 {
		return s
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
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
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}

// lenientFix strips trailing commas, collapses duplicate commas, and
// inserts missing commas between adjacent ]...[ or }...{ at line breaks.
func lenientFix(s string) string {
	s = trailingCom.ReplaceAllString(s, "$1")
	s = dupComma.ReplaceAllString(s, ",")
	s = missingCom1.ReplaceAllString(s, "],\n[")
	s = missingCom2.ReplaceAllString(s, "},\n{")
	return s
}

// scanSiblingBlocks looks for additional fenced JSON blocks or nested
// objects that carry any still-missing key.
func scanSiblingBlocks(content string, missing []string, result map[string]any) {
	for _, m := range fencedAny.FindAllStringSubmatch(content, -1) {
		candidate := lenientFix(extractBalancedValue(normalize(m[1])))
		var obj map[string]any
		if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
			continue
		}
		fillFromObject(obj, missing, result)
	}
}

func fillFromObject(obj map[string]any, missing []string, result map[string]any) {
	for _, key := range missing {
		if _, ok := result[key]; ok {
			continue
		}
		if v, ok := obj[key]; ok {
			result[key] = v
			continue
		}
		for _, v := range obj {
			if nested, ok := v.(map[string]any); ok {
				if nv, ok := nested[key]; ok {
					result[key] = nv
				}
			}
		}
	}
}

// extractKeyByKey searches raw content for "KEY": ... and dispatches on
// the leading sigil to a balanced-string/object/array/primitive scanner
// (step 6, the fallback of last resort).
func extractKeyByKey(content string, missing []string, result map[string]any) {
	for _, key := range missing {
		re := regexp.MustCompile(`"` + regexp.QuoteMeta(key) + `"\s*:\s*`)
		loc := re.FindStringIndex(content)
		if loc == nil {
			continue
		}
		rest := content[loc[1]:]
		if len(rest) > maxStringScan {
			rest = rest[:maxStringScan]
		}
		if v, ok := scanValue(rest); ok {
			result[key] = v
		}
	}
}

func scanValue(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	switch s[0] {
	case '"':
		return scanString(s)
	case '{':
		return scanDelimited(s, '{', '}')
	case '[':
		return scanDelimited(s, '[', ']')
	default:
		return scanPrimitive(s)
	}
}

func scanString(s string) (string, bool) {
	var b strings.Builder
	escaped := false
	for i := 1; i < len(s); i++ {
		c := s[i]
		if escaped {
			switch c {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '"', '\\', '/':
				b.WriteByte(c)
			default:
				b.WriteByte(c)
			}
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			return b.String(), true
		}
		b.WriteByte(c)
	}
	return "", false
}

func scanDelimited(s string, open, close byte) (any, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
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
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				raw := s[:i+1]
				var v any
				if err := json.Unmarshal([]byte(lenientFix(raw)), &v); err == nil {
					return v, true
				}
				return nil, false
			}
		}
	}
	return nil, false
}

var primitiveRe = regexp.MustCompile(`^\s*(true|false|null|-?\d+(?:\.\d+)?|"[^"]{0,200}")`)

func scanPrimitive(s string) (any, bool) {
	m := primitiveRe.FindString(s)
	if m == "" {
		return nil, false
	}
	m = strings.TrimSpace(m)
	switch m {
	case "true":
		return true, true
	case "false":
		return false, true
	case "null":
		return nil, true
	}
	if strings.HasPrefix(m, `"`) {
		return strings.Trim(m, `"`), true
	}
	if n, err := strconv.ParseFloat(m, 64); err == nil {
		return n, true
	}
	return nil, false
}
