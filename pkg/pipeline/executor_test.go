package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelex/pipelex/pkg/document"
	"github.com/pipelex/pipelex/pkg/execctx"
	"github.com/pipelex/pipelex/pkg/llm"
	"github.com/pipelex/pipelex/pkg/stage"
)

type fakeLoader struct{}

func (fakeLoader) LoadAgent(string) (*document.AgentDefinition, error) {
	return &document.AgentDefinition{Name: "reviewer"}, nil
}
func (fakeLoader) LoadPrompt(id string) (*document.PromptDefinition, error) {
	return &document.PromptDefinition{Body: "do " + id}, nil
}
func (fakeLoader) LoadGuidance() (string, error) { return "", nil }

func runOpts(provider llm.Provider) Options {
	return Options{
		StageOptionsFor: func(string) stage.Options {
			return stage.Options{Loader: fakeLoader{}, Provider: provider}
		},
	}
}

func TestRunAbortsOnInvalidPipeline(t *testing.T) {
	cmd := &document.CommandDefinition{Name: "demo", AgentRole: "reviewer"}
	ec := execctx.New("demo", nil)
	res := Run(context.Background(), cmd, ec, Options{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "validation error")
}

func TestRunSequentialStagesShareOutputs(t *testing.T) {
	cmd := &document.CommandDefinition{
		Name:      "demo",
		AgentRole: "reviewer",
		Pipeline: []document.PipelineStage{
			{Stage: "plan", Prompt: "p.plan", Outputs: []string{"summary"}},
			{Stage: "review", Prompt: "p.review", Outputs: []string{"verdict"}, Inputs: map[string]any{"prior": "$STAGE_plan.summary"}},
		},
	}
	ec := execctx.New("demo", nil)
	provider := &llm.FakeProvider{Responses: []llm.CompletionResponse{
		{Content: `{"summary": "plan complete"}`},
		{Content: `{"verdict": "approved"}`},
	}}

	res := Run(context.Background(), cmd, ec, runOpts(provider))

	require.True(t, res.Success)
	assert.Equal(t, "plan complete", res.Outputs["summary"])
	assert.Equal(t, "approved", res.Outputs["verdict"])
	require.Len(t, provider.Requests, 2)
}

func TestRunFailedRequiredStageAbortsPipeline(t *testing.T) {
	required := true
	cmd := &document.CommandDefinition{
		Name:      "demo",
		AgentRole: "reviewer",
		Pipeline: []document.PipelineStage{
			{Stage: "plan", Prompt: "p.plan", Outputs: []string{"summary"}, Required: &required},
			{Stage: "review", Prompt: "p.review", Outputs: []string{"verdict"}},
		},
	}
	ec := execctx.New("demo", nil)
	provider := &llm.FakeProvider{} // exhausted immediately -> plan fails

	res := Run(context.Background(), cmd, ec, runOpts(provider))

	assert.False(t, res.Success)
	assert.Len(t, res.Stages, 1)
}

type failingPromptLoader struct {
	failPrompt string
}

func (failingPromptLoader) LoadAgent(string) (*document.AgentDefinition, error) {
	return &document.AgentDefinition{Name: "reviewer"}, nil
}
func (f failingPromptLoader) LoadPrompt(id string) (*document.PromptDefinition, error) {
	if id == f.failPrompt {
		return nil, errPromptNotFound
	}
	return &document.PromptDefinition{Body: "do " + id}, nil
}
func (failingPromptLoader) LoadGuidance() (string, error) { return "", nil }

var errPromptNotFound = errors.New("prompt not found")

func TestRunOptionalStageFailureDoesNotAbort(t *testing.T) {
	optional := false
	cmd := &document.CommandDefinition{
		Name:      "demo",
		AgentRole: "reviewer",
		Pipeline: []document.PipelineStage{
			{Stage: "plan", Prompt: "p.plan", Outputs: []string{"summary"}, Required: &optional},
			{Stage: "review", Prompt: "p.review", Outputs: []string{"verdict"}},
		},
	}
	ec := execctx.New("demo", nil)
	provider := &llm.FakeProvider{Responses: []llm.CompletionResponse{
		{Content: `{"verdict": "approved"}`},
	}}
	loader := failingPromptLoader{failPrompt: "p.plan"}

	res := Run(context.Background(), cmd, ec, Options{
		StageOptionsFor: func(string) stage.Options {
			return stage.Options{Loader: loader, Provider: provider}
		},
	})

	require.True(t, res.Success)
	assert.Equal(t, "approved", res.Outputs["verdict"])
	require.Len(t, res.Stages, 2)
	assert.False(t, res.Stages[0].Success)
	assert.True(t, res.Stages[1].Success)
}

func TestRunSkipsStageWithFalseConditional(t *testing.T) {
	cmd := &document.CommandDefinition{
		Name:      "demo",
		AgentRole: "reviewer",
		Pipeline: []document.PipelineStage{
			{Stage: "maybe", Prompt: "p.maybe", Outputs: []string{"x"}, Conditional: "false"},
		},
	}
	ec := execctx.New("demo", nil)
	provider := &llm.FakeProvider{}

	res := Run(context.Background(), cmd, ec, runOpts(provider))

	require.True(t, res.Success)
	assert.Empty(t, res.Stages)
	assert.Empty(t, provider.Requests)
}

func TestRunParallelGroupRecordsAllCompletions(t *testing.T) {
	cmd := &document.CommandDefinition{
		Name:      "demo",
		AgentRole: "reviewer",
		Pipeline: []document.PipelineStage{
			{Stage: "a", Prompt: "p.a", Outputs: []string{"x"}, Parallel: true},
			{Stage: "b", Prompt: "p.b", Outputs: []string{"y"}, Parallel: true},
		},
	}
	ec := execctx.New("demo", nil)
	// Both queued responses carry both keys so the assertions don't depend
	// on which concurrent stage happens to consume which queue slot.
	provider := &llm.FakeProvider{Responses: []llm.CompletionResponse{
		{Content: `{"x": "1", "y": "2"}`},
		{Content: `{"x": "1", "y": "2"}`},
	}}

	res := Run(context.Background(), cmd, ec, runOpts(provider))

	require.True(t, res.Success)
	require.Len(t, res.Stages, 2)
	assert.Equal(t, "1", res.Outputs["x"])
	assert.Equal(t, "2", res.Outputs["y"])
}
