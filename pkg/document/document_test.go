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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoaderLoadCommand(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "commands", "deploy.md"), `---
description: Deploys the service
agent_role: deployer
pipeline:
  - stage: plan
    prompt: prompts/deploy.plan
    outputs: [summary]
---
Deploy runbook body.
`)

	l := NewLoader(root)
	cmd, err := l.LoadCommand("deploy")
	require.NoError(t, err)
	assert.Equal(t, "deploy", cmd.Name)
	assert.Equal(t, "deployer", cmd.AgentRole)
	require.Len(t, cmd.Pipeline, 1)
	assert.Equal(t, "plan", cmd.Pipeline[0].Stage)
	assert.True(t, cmd.Pipeline[0].IsRequired())
}

func TestLoaderLoadCommandMissingAgentRoleFails(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "commands", "bad.md"), `---
description: no agent
---
body
`)

	l := NewLoader(root)
	_, err := l.LoadCommand("bad")
	assert.Error(t, err)
}

func TestLoaderLoadAgentUsesBodyAsContentFallback(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "agents", "reviewer.md"), `---
decision_making:
  escalation_criteria:
    - "touches payments"
---
You are a careful reviewer.
`)

	l := NewLoader(root)
	agent, err := l.LoadAgent("reviewer")
	require.NoError(t, err)
	assert.Equal(t, "reviewer", agent.Name)
	assert.Contains(t, agent.Content, "careful reviewer")
	assert.Equal(t, []string{"touches payments"}, agent.DecisionMaking.EscalationCriteria)
}

func TestLoaderLoadPromptSplitsCategoryAndName(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "prompts", "deploy", "plan.md"), `---
{}
---
Plan the deployment for $ARG_service.
`)

	l := NewLoader(root)
	prompt, err := l.LoadPrompt("deploy.plan")
	require.NoError(t, err)
	assert.Equal(t, "deploy", prompt.Category)
	assert.Equal(t, "plan", prompt.Name)
	assert.Equal(t, "deploy.plan", prompt.ID())
	assert.Contains(t, prompt.Body, "$ARG_service")
}

func TestLoaderMissingFileErrors(t *testing.T) {
	l := NewLoader(t.TempDir())
	_, err := l.LoadCommand("nope")
	assert.Error(t, err)
}

func TestLoadKnowledgeFilePlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	writeFile(t, path, "project conventions go here")

	content, err := LoadKnowledgeFile(path)
	require.NoError(t, err)
	assert.Equal(t, "project conventions go here", content)
}

func TestPipelineStageIsRequiredDefaultsTrue(t *testing.T) {
	s := PipelineStage{}
	assert.True(t, s.IsRequired())

	f := false
	s.Required = &f
	assert.False(t, s.IsRequired())
}
