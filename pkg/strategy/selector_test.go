package strategy

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelex/pipelex/pkg/document"
	"github.com/pipelex/pipelex/pkg/dryrun"
	"github.com/pipelex/pipelex/pkg/execctx"
	"github.com/pipelex/pipelex/pkg/llm"
	"github.com/pipelex/pipelex/pkg/pipeline"
	"github.com/pipelex/pipelex/pkg/stage"
)

type fakeLoader struct {
	prompts map[string]string
	loads   int
}

func (f *fakeLoader) LoadAgent(name string) (*document.AgentDefinition, error) {
	return &document.AgentDefinition{Name: name, Content: "you are " + name}, nil
}
func (f *fakeLoader) LoadPrompt(id string) (*document.PromptDefinition, error) {
	f.loads++
	body := f.prompts[id]
	if body == "" {
		body = "do " + id
	}
	return &document.PromptDefinition{Body: body}, nil
}
func (f *fakeLoader) LoadGuidance() (string, error) { return "", nil }

func baseOpts(provider llm.Provider, loader stage.Loader) pipeline.Options {
	return pipeline.Options{
		StageOptionsFor: func(string) stage.Options {
			return stage.Options{Loader: loader, Provider: provider}
		},
	}
}

func TestRunDefaultRunsPipelineNormallyOnCacheMiss(t *testing.T) {
	cmd := &document.CommandDefinition{
		Name:      "demo",
		AgentRole: "reviewer",
		Pipeline: []document.PipelineStage{
			{Stage: "plan", Prompt: "p.plan", Outputs: []string{"summary"}},
		},
	}
	ec := execctx.New("demo", nil)
	provider := &llm.FakeProvider{Responses: []llm.CompletionResponse{
		{Content: `{"summary": "ok"}`},
	}}
	loader := &fakeLoader{}

	res := Run(context.Background(), cmd, ec, Flags{}, Options{
		Pipeline: baseOpts(provider, loader),
		Cache:    dryrun.New(),
	})

	require.True(t, res.Success)
	assert.Equal(t, "ok", res.Outputs["summary"])
}

func TestRunDryRunWritesCacheEntryAndRendersPlan(t *testing.T) {
	cmd := &document.CommandDefinition{
		Name:      "demo",
		AgentRole: "reviewer",
		Pipeline: []document.PipelineStage{
			{Stage: "plan", Prompt: "p.plan", Outputs: []string{"summary"}},
		},
	}
	ec := execctx.New("demo", nil)
	ec.AgentRole = cmd.AgentRole
	ec.Args = []string{"x"}
	provider := &llm.FakeProvider{Responses: []llm.CompletionResponse{
		{Content: `{"summary": "planned"}`},
	}}
	loader := &fakeLoader{}
	cache := dryrun.New()
	var plan bytes.Buffer

	res := Run(context.Background(), cmd, ec, Flags{DryRun: true}, Options{
		Pipeline: baseOpts(provider, loader),
		Cache:    cache,
		Loader:   loader,
		Plan:     &plan,
	})

	require.True(t, res.Success)
	assert.Equal(t, 1, cache.Len())
	assert.Contains(t, plan.String(), "stage=plan")
	assert.Contains(t, plan.String(), "status=ok")
}

func TestRunDefaultConsumesDryRunCacheEntry(t *testing.T) {
	cmd := &document.CommandDefinition{
		Name:      "demo",
		AgentRole: "reviewer",
		Pipeline: []document.PipelineStage{
			{Stage: "plan", Prompt: "p.plan", Outputs: []string{"summary"}},
			{Stage: "review", Prompt: "p.review", Outputs: []string{"verdict"}},
		},
	}
	cache := dryrun.New()
	hash := dryrun.CommandHash(cmd.Name, "", "reviewer", cmd.Pipeline)
	key := dryrun.Key(cmd.Name, nil, nil)
	cache.Put(key, dryrun.Entry{
		CommandName: cmd.Name,
		CommandHash: hash,
		PrecomputedOutputs: map[string]map[string]any{
			"plan": {"summary": "from cache"},
		},
		AnalysisOutputs: map[string]any{"planTokens": 42},
	})

	ec := execctx.New("demo", nil)
	ec.AgentRole = cmd.AgentRole
	provider := &llm.FakeProvider{Responses: []llm.CompletionResponse{
		{Content: `{"verdict": "approved"}`},
	}}
	loader := &fakeLoader{}

	res := Run(context.Background(), cmd, ec, Flags{}, Options{
		Pipeline: baseOpts(provider, loader),
		Cache:    cache,
	})

	require.True(t, res.Success)
	assert.Equal(t, "from cache", res.Outputs["summary"])
	assert.Equal(t, "approved", res.Outputs["verdict"])
	// Only the non-precomputed stage ("review") should have hit the provider.
	assert.Len(t, provider.Requests, 1)
	// The synthetic dry_run_cache stage and the precomputed "plan" stage
	// both got recorded without running, alongside the freshly run "review".
	assert.Len(t, res.Stages, 3)
	assert.Equal(t, 0, cache.Len(), "entry must be one-shot consumed")
}

func TestRunIsolationRunsOnlyNamedStages(t *testing.T) {
	cmd := &document.CommandDefinition{
		Name:      "demo",
		AgentRole: "reviewer",
		Pipeline: []document.PipelineStage{
			{Stage: "plan", Prompt: "p.plan", Outputs: []string{"summary"}},
			{Stage: "review", Prompt: "p.review", Outputs: []string{"verdict"}},
		},
	}
	ec := execctx.New("demo", nil)
	ec.Isolation = &execctx.Isolation{Stages: []string{"review"}}
	provider := &llm.FakeProvider{Responses: []llm.CompletionResponse{
		{Content: `{"verdict": "approved"}`},
	}}
	loader := &fakeLoader{}

	res := Run(context.Background(), cmd, ec, Flags{}, Options{
		Pipeline: baseOpts(provider, loader),
	})

	require.True(t, res.Success)
	require.Len(t, res.Stages, 1)
	assert.Equal(t, "review", res.Stages[0].Stage)
}

func TestRunIsolationMocksInputsAndForcesOptional(t *testing.T) {
	cmd := &document.CommandDefinition{
		Name:      "demo",
		AgentRole: "reviewer",
		Pipeline: []document.PipelineStage{
			{Stage: "review", Prompt: "p.review", Outputs: []string{"verdict"}, Inputs: map[string]any{"prior": "$STAGE_plan.summary"}},
		},
	}
	ec := execctx.New("demo", nil)
	ec.Isolation = &execctx.Isolation{
		Stages:        []string{"review"},
		MockInputs:    map[string]map[string]any{"review": {"prior": "mocked summary"}},
		ForceOptional: true,
	}
	provider := &llm.FakeProvider{}
	loader := &fakeLoader{}

	res := Run(context.Background(), cmd, ec, Flags{}, Options{
		Pipeline: baseOpts(provider, loader),
	})

	// The stage fails (provider exhausted) but was demoted to optional,
	// so the overall isolated run still reports success.
	require.True(t, res.Success)
	require.Len(t, res.Stages, 1)
	assert.False(t, res.Stages[0].Success)
}

func TestRunInteractiveFlagEnablesClarifyingQuestionHandling(t *testing.T) {
	cmd := &document.CommandDefinition{
		Name:      "demo",
		AgentRole: "reviewer",
		Pipeline: []document.PipelineStage{
			{Stage: "plan", Prompt: "p.plan", Outputs: []string{"summary"}},
		},
	}
	ec := execctx.New("demo", nil)
	provider := &llm.FakeProvider{Responses: []llm.CompletionResponse{
		{Content: `{"summary": "ok"}`},
	}}
	loader := &fakeLoader{}

	Run(context.Background(), cmd, ec, Flags{Interactive: true}, Options{
		Pipeline: baseOpts(provider, loader),
	})

	assert.True(t, ec.Interactive)
}
