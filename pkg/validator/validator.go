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

// Package validator implements the Pipeline Validator (spec §4.5): a
// pure structural check over a pipeline's stage list that never panics
// and always returns the full set of problems it found.
package validator

import (
	"fmt"

	"github.com/pipelex/pipelex/pkg/document"
)

// Validate checks a pipeline's structural invariants: non-empty, every
// stage has a non-empty stage name and prompt id, and stage names are
// unique across the pipeline. It returns every violation found; a nil
// slice means the pipeline is valid.
func Validate(stages []document.PipelineStage) []string {
	var messages []string

	if len(stages) == 0 {
		messages = append(messages, "pipeline must contain at least one stage")
		return messages
	}

	seen := make(map[string]int, len(stages))
	for i, s := range stages {
		if s.Stage == "" {
			messages = append(messages, fmt.Sprintf("stage %d: missing required field \"stage\"", i))
		} else {
			seen[s.Stage]++
		}
		if s.Prompt == "" {
			messages = append(messages, fmt.Sprintf("stage %d (%s): missing required field \"prompt\"", i, s.Stage))
		}
	}

	for name, count := range seen {
		if count > 1 {
			messages = append(messages, fmt.Sprintf("duplicate stage name %q appears %d times", name, count))
		}
	}

	return messages
}
