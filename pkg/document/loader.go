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

package document

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterDelim = "---"

// Loader reads CommandDefinition / AgentDefinition / PromptDefinition
// values from YAML-frontmatter Markdown files under a root directory.
// This is a stand-in for the real DocumentLoader collaborator named (but
// not specified) by spec.md §6 — enough to exercise the rest of the
// engine in tests and the demonstration CLI.
type Loader struct {
	Root string
}

// NewLoader constructs a Loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{Root: dir}
}

// LoadCommand reads "<root>/commands/<name>.md".
func (l *Loader) LoadCommand(name string) (*CommandDefinition, error) {
	var cmd CommandDefinition
	if err := loadFrontmatter(l.path("commands", name), &cmd); err != nil {
		return nil, fmt.Errorf("document: load command %q: %w", name, err)
	}
	if cmd.Name == "" {
		cmd.Name = name
	}
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("document: command %q: %w", name, err)
	}
	return &cmd, nil
}

// LoadAgent reads "<root>/agents/<name>.md".
func (l *Loader) LoadAgent(name string) (*AgentDefinition, error) {
	var agent AgentDefinition
	if err := loadFrontmatter(l.path("agents", name), &agent); err != nil {
		return nil, fmt.Errorf("document: load agent %q: %w", name, err)
	}
	if agent.Name == "" {
		agent.Name = name
	}
	return &agent, nil
}

// LoadPrompt reads "<root>/prompts/<category>/<name>.md" for an id of the
// form "category.name".
func (l *Loader) LoadPrompt(id string) (*PromptDefinition, error) {
	category, name, ok := strings.Cut(id, ".")
	if !ok {
		return nil, fmt.Errorf("document: prompt id %q must be category.name", id)
	}
	var prompt PromptDefinition
	if err := loadFrontmatter(l.path("prompts", category, name), &prompt); err != nil {
		return nil, fmt.Errorf("document: load prompt %q: %w", id, err)
	}
	prompt.Category, prompt.Name = category, name
	return &prompt, nil
}

// LoadGuidance reads the optional "<root>/guidance.md" project-wide
// instructions file prepended to every system message (spec §4.11
// "optional project guidance"). A missing file is not an error: it
// returns an empty string.
func (l *Loader) LoadGuidance() (string, error) {
	data, err := os.ReadFile(l.Root + "/guidance.md")
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("document: load guidance: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (l *Loader) path(parts ...string) string {
	p := l.Root
	for _, part := range parts {
		p += "/" + part
	}
	return p + ".md"
}

// loadFrontmatter decodes a "---\n<yaml>\n---\n<body>" document into out,
// setting out's Content/Body field (if present, via a type switch) to the
// text after the closing delimiter.
func loadFrontmatter(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	text := string(data)
	if !strings.HasPrefix(strings.TrimSpace(text), frontmatterDelim) {
		return fmt.Errorf("missing frontmatter delimiter")
	}

	rest := strings.TrimPrefix(strings.TrimSpace(text), frontmatterDelim)
	idx := strings.Index(rest, "\n"+frontmatterDelim)
	if idx == -1 {
		return fmt.Errorf("unterminated frontmatter")
	}
	yamlPart := rest[:idx]
	body := strings.TrimSpace(rest[idx+len(frontmatterDelim)+1:])

	dec := yaml.NewDecoder(bytes.NewReader([]byte(yamlPart)))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("parse frontmatter: %w", err)
	}

	switch v := out.(type) {
	case *AgentDefinition:
		if v.Content == "" {
			v.Content = body
		}
	case *PromptDefinition:
		if v.Body == "" {
			v.Body = body
		}
	}
	return nil
}
