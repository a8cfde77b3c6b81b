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

// Package document holds the data types returned by the DocumentLoader
// collaborator (spec §6 "Command file format. Not defined here"), plus a
// minimal YAML-frontmatter loader good enough to drive example pipelines
// and tests, and a project-knowledge file reader that dispatches on file
// extension to format-specific parsers.
//
// The on-disk command format itself is explicitly out of scope for the
// pipeline engine; this package exists only so the rest of the engine has
// something concrete to depend on.
package document

// PipelineStage is one step of a CommandDefinition's pipeline (spec §3).
type PipelineStage struct {
	Stage       string         `yaml:"stage"`
	Prompt      string         `yaml:"prompt"`
	Inputs      map[string]any `yaml:"inputs"`
	Outputs     []string       `yaml:"outputs"`
	Required    *bool          `yaml:"required"`
	Parallel    bool           `yaml:"parallel"`
	Conditional string         `yaml:"conditional"`
	Cache       *CacheConfig   `yaml:"cache"`
}

// IsRequired returns the effective required flag (default true).
func (s *PipelineStage) IsRequired() bool {
	return s.Required == nil || *s.Required
}

// CacheConfig is a stage's optional §4.6 cache declaration.
type CacheConfig struct {
	Enabled        bool     `yaml:"enabled"`
	TTLMillis      int64    `yaml:"ttl_ms"`
	CacheKeyInputs []string `yaml:"cache_key_inputs"`
	FileDeps       []string `yaml:"file_dependencies"`
}

// CommandDefinition is the validated, already-loaded definition of a
// command (spec §3).
type CommandDefinition struct {
	Name           string          `yaml:"name"`
	Description    string          `yaml:"description"`
	AgentRole      string          `yaml:"agent_role"`
	FallbackAgent  string          `yaml:"fallback_agent"`
	Model          string          `yaml:"model"`
	AllowedTools   []string        `yaml:"allowed_tools"`
	KnowledgeFiles []string        `yaml:"knowledge_files"`
	Pipeline       []PipelineStage `yaml:"pipeline"`
}

// Validate enforces the one structural rule spec §3 calls out for
// CommandDefinition: a dynamic agent-role selection requires a fallback.
func (c *CommandDefinition) Validate() error {
	if c.AgentRole == "" && c.FallbackAgent == "" {
		return errAgentRoleOrFallbackRequired
	}
	return nil
}

// AgentDefinition is a persona prepended to every system message in a run
// (spec §6, Glossary "Agent").
type AgentDefinition struct {
	Name             string   `yaml:"name"`
	Content          string   `yaml:"content"`
	DecisionMaking   DecisionMaking `yaml:"decision_making"`
}

// DecisionMaking carries the escalation criteria named by spec §6.
type DecisionMaking struct {
	EscalationCriteria []string `yaml:"escalation_criteria"`
}

// PromptDefinition is a parameterized instruction body identified as
// "category.name" (Glossary "Prompt").
type PromptDefinition struct {
	Category string `yaml:"category"`
	Name     string `yaml:"name"`
	Body     string `yaml:"body"`
}

// ID returns "category.name".
func (p *PromptDefinition) ID() string {
	return p.Category + "." + p.Name
}
