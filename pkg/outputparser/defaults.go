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

package outputparser

import "strings"

var listMarkers = []string{
	"_list", "items", "issues", "steps", "questions", "recommendations",
	"blockers", "risks", "gaps", "ambiguities", "_missing", "files_",
}

var objectMarkers = []string{
	"_changes", "_notes", "_config", "_context", "_metadata", "_settings",
	"_results", "implementation", "code_changes", "files_modified",
	"breaking_changes", "migration_steps",
}

// ApplyDefaultValues fills any key in expected that is not already present
// in result, inferring a type-appropriate default from the field name
// (spec §4.2). Names that match nothing receive no default and remain
// absent.
func ApplyDefaultValues(result map[string]any, expected []string) {
	for _, key := range expected {
		if _, ok := result[key]; ok {
			continue
		}
		if v, ok := defaultFor(key); ok {
			result[key] = v
		}
	}
}

func defaultFor(key string) (any, bool) {
	lower := strings.ToLower(key)

	switch {
	case strings.Contains(lower, "score"):
		return 0.5, true
	case strings.Contains(lower, "confidence"):
		return "medium", true
	case strings.HasPrefix(lower, "is_"), strings.HasPrefix(lower, "has_"), strings.HasSuffix(lower, "_ready"):
		return false, true
	}

	for _, marker := range listMarkers {
		if strings.Contains(lower, marker) {
			return []any{}, true
		}
	}

	if lower == "status" {
		return "unknown", true
	}
	if strings.Contains(lower, "count") || strings.HasSuffix(lower, "_num") {
		return 0, true
	}

	for _, marker := range objectMarkers {
		if strings.Contains(lower, marker) {
			return map[string]any{}, true
		}
	}

	return nil, false
}
