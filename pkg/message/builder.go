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

// Package message assembles the system and user chat messages a Stage
// Executor hands to a Provider (spec §4.11).
package message

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pipelex/pipelex/pkg/document"
	"github.com/pipelex/pipelex/pkg/llm"
)

const separator = "\n\n---\n\n"

// Input is one resolved stage input. FileContent is set when the key
// names a `_file` / `_file_arg` / `_path` input whose file was read.
type Input struct {
	Key         string
	Value       any
	FilePath    string
	FileContent string
	IsFile      bool
}

// Request holds everything the Builder needs to assemble both messages.
type Request struct {
	ProjectGuidance   string
	Agent             *document.AgentDefinition
	Prompt            *document.PromptDefinition
	ProjectKnowledge  []string
	ExpectedOutputs   []string
	EscalationEnabled bool
	Inputs            []Input
}

// Build assembles the system message and the user message (spec §4.11).
func Build(req Request) (system llm.Message, user llm.Message) {
	var sb strings.Builder

	if req.ProjectGuidance != "" {
		sb.WriteString(req.ProjectGuidance)
		sb.WriteString(separator)
	}

	if req.Agent != nil && req.Agent.Content != "" {
		sb.WriteString(req.Agent.Content)
		sb.WriteString(separator)
	}

	if req.Prompt != nil {
		sb.WriteString(req.Prompt.Body)
	}

	for _, k := range req.ProjectKnowledge {
		if k == "" {
			continue
		}
		sb.WriteString("\n\n")
		sb.WriteString(k)
	}

	if len(req.ExpectedOutputs) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(outputFormatDirective(req.ExpectedOutputs))
	}

	if req.EscalationEnabled {
		sb.WriteString("\n\n")
		sb.WriteString(escalationDirective)
	}

	system = llm.Message{Role: llm.RoleSystem, Content: sb.String()}
	user = llm.Message{Role: llm.RoleUser, Content: buildUserContent(req.Inputs)}
	return system, user
}

// outputFormatDirective enumerates the required JSON keys with an
// example skeleton, mirroring how the teacher's providers instruct
// structured JSON output (grounded on the teacher's
// buildSystemPromptWithSchema pattern).
func outputFormatDirective(outputs []string) string {
	sorted := append([]string(nil), outputs...)
	sort.Strings(sorted)

	skeleton := make(map[string]any, len(sorted))
	for _, k := range sorted {
		skeleton[k] = exampleValueFor(k)
	}
	example, _ := json.MarshalIndent(skeleton, "", "  ")

	var sb strings.Builder
	sb.WriteString("Respond with a single JSON object containing exactly these keys:\n")
	for _, k := range sorted {
		sb.WriteString("- " + k + "\n")
	}
	sb.WriteString("\nExample shape:\n")
	sb.WriteString(string(example))
	return sb.String()
}

func exampleValueFor(key string) any {
	switch {
	case strings.Contains(key, "score"):
		return 0.5
	case strings.Contains(key, "confidence"):
		return "medium"
	case strings.HasPrefix(key, "is_"), strings.HasPrefix(key, "has_"), strings.HasSuffix(key, "_ready"):
		return false
	case key == "status":
		return "unknown"
	case key == "count", strings.HasSuffix(key, "_num"):
		return 0
	default:
		return "..."
	}
}

const escalationDirective = `If you encounter a situation matching this agent's escalation criteria, add an "_escalation" object to your JSON response with these fields:
- "requires_escalation": true
- "confidence": 0-100
- "risk_level": one of "low", "medium", "high", "critical"
- "triggered_criteria": list of matched criteria
- "reasoning": why escalation is warranted
- "proposed_action": what you recommend`

// buildUserContent lists every resolved input and renders each file
// input's content as a dedicated "--- File: <path> ---" block.
func buildUserContent(inputs []Input) string {
	var sb strings.Builder
	sb.WriteString("Inputs:\n")
	for _, in := range inputs {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", in.Key, renderValue(in.Value)))
	}
	for _, in := range inputs {
		if !in.IsFile || in.FileContent == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n--- File: %s ---\n%s\n", in.FilePath, in.FileContent))
	}
	return sb.String()
}

func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}
