package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pipelex/pipelex/pkg/document"
)

func TestValidateEmptyPipeline(t *testing.T) {
	msgs := Validate(nil)
	assert.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "at least one stage")
}

func TestValidateValidPipeline(t *testing.T) {
	msgs := Validate([]document.PipelineStage{
		{Stage: "plan", Prompt: "deploy.plan"},
		{Stage: "apply", Prompt: "deploy.apply"},
	})
	assert.Empty(t, msgs)
}

func TestValidateMissingStageName(t *testing.T) {
	msgs := Validate([]document.PipelineStage{{Prompt: "deploy.plan"}})
	assert.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "missing required field \"stage\"")
}

func TestValidateMissingPrompt(t *testing.T) {
	msgs := Validate([]document.PipelineStage{{Stage: "plan"}})
	assert.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "missing required field \"prompt\"")
}

func TestValidateDuplicateStageNames(t *testing.T) {
	msgs := Validate([]document.PipelineStage{
		{Stage: "plan", Prompt: "a.b"},
		{Stage: "plan", Prompt: "c.d"},
	})
	assert.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "duplicate stage name")
}

func TestValidateReportsAllProblems(t *testing.T) {
	msgs := Validate([]document.PipelineStage{
		{Stage: "", Prompt: ""},
		{Stage: "plan", Prompt: "a.b"},
		{Stage: "plan", Prompt: "c.d"},
	})
	assert.GreaterOrEqual(t, len(msgs), 3)
}
