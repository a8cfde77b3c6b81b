package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelex/pipelex/pkg/document"
	"github.com/pipelex/pipelex/pkg/execctx"
	"github.com/pipelex/pipelex/pkg/llm"
	"github.com/pipelex/pipelex/pkg/tool"
)

type fakeLoader struct {
	agent    *document.AgentDefinition
	prompt   *document.PromptDefinition
	guidance string
}

func (f *fakeLoader) LoadAgent(string) (*document.AgentDefinition, error)   { return f.agent, nil }
func (f *fakeLoader) LoadPrompt(string) (*document.PromptDefinition, error) { return f.prompt, nil }
func (f *fakeLoader) LoadGuidance() (string, error)                        { return f.guidance, nil }

func newLoader() *fakeLoader {
	return &fakeLoader{
		agent:  &document.AgentDefinition{Name: "reviewer", Content: "You are a careful reviewer."},
		prompt: &document.PromptDefinition{Body: "Summarize the input."},
	}
}

func TestExecuteReturnsParsedOutputsOnSuccess(t *testing.T) {
	ec := execctx.New("demo", nil)
	provider := &llm.FakeProvider{Responses: []llm.CompletionResponse{
		{Content: "```json\n{\"summary\": \"all good\"}\n```"},
	}}

	s := document.PipelineStage{Stage: "analyze", Prompt: "p.summarize", Outputs: []string{"summary"}}
	out := Execute(context.Background(), s, ec, 0, Options{
		Loader:   newLoader(),
		Provider: provider,
	})

	require.True(t, out.Success)
	assert.Equal(t, "all good", out.Outputs["summary"])
	assert.Contains(t, out.Outputs, "result")
	assert.Contains(t, out.Outputs, "usage")
}

func TestExecuteRunsToolLoopUntilNoToolCalls(t *testing.T) {
	ec := execctx.New("demo", nil)
	provider := &llm.FakeProvider{Responses: []llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{{ID: "1", Name: "read_file", Arguments: map[string]any{"path": "x.txt"}}}},
		{Content: "{\"summary\": \"done after tool use\"}"},
	}}

	s := document.PipelineStage{Stage: "analyze", Prompt: "p.summarize", Outputs: []string{"summary"}}
	out := Execute(context.Background(), s, ec, 0, Options{
		Loader:   newLoader(),
		Provider: provider,
		Router:   tool.NewRouter(nil, nil, nil, t.TempDir(), "sess-1"),
	})

	require.True(t, out.Success)
	assert.Equal(t, "done after tool use", out.Outputs["summary"])
}

func TestExecuteGuidedCompletionSetsStopPipeline(t *testing.T) {
	ec := execctx.New("demo", nil)
	provider := &llm.FakeProvider{Responses: []llm.CompletionResponse{
		{GuidedCompletion: true},
	}}

	s := document.PipelineStage{Stage: "analyze", Prompt: "p.summarize", Outputs: []string{"summary"}}
	out := Execute(context.Background(), s, ec, 0, Options{
		Loader:   newLoader(),
		Provider: provider,
	})

	require.True(t, out.Success)
	assert.True(t, out.StopPipeline())
}

func TestExecuteProviderErrorFailsStage(t *testing.T) {
	ec := execctx.New("demo", nil)
	provider := &llm.FakeProvider{}

	s := document.PipelineStage{Stage: "analyze", Prompt: "p.summarize", Outputs: []string{"summary"}}
	out := Execute(context.Background(), s, ec, 0, Options{
		Loader:   newLoader(),
		Provider: provider,
	})

	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Error)
}

func TestExecuteValidatorCriticalFailureStopsPipeline(t *testing.T) {
	ec := execctx.New("demo", nil)
	provider := &llm.FakeProvider{Responses: []llm.CompletionResponse{
		{Content: "{\"summary\": \"bad\"}"},
	}}

	s := document.PipelineStage{Stage: "analyze", Prompt: "p.summarize", Outputs: []string{"summary"}}
	out := Execute(context.Background(), s, ec, 0, Options{
		Loader:   newLoader(),
		Provider: provider,
		Validators: map[string]Validator{
			"analyze": func(outputs map[string]any) (bool, bool, string) {
				return false, true, "summary too short"
			},
		},
	})

	assert.False(t, out.Success)
	assert.True(t, out.StopPipeline())
	assert.Equal(t, "summary too short", out.Error)
}

func TestExecuteDefaultsMissingOutputFields(t *testing.T) {
	ec := execctx.New("demo", nil)
	provider := &llm.FakeProvider{Responses: []llm.CompletionResponse{
		{Content: "{}"},
	}}

	s := document.PipelineStage{Stage: "analyze", Prompt: "p.summarize", Outputs: []string{"confidence", "is_ready"}}
	out := Execute(context.Background(), s, ec, 0, Options{
		Loader:   newLoader(),
		Provider: provider,
	})

	require.True(t, out.Success)
	assert.Equal(t, "medium", out.Outputs["confidence"])
	assert.Equal(t, false, out.Outputs["is_ready"])
}
