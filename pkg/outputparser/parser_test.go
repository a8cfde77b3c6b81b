package outputparser

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStageOutputsFencedJSON(t *testing.T) {
	content := "Here is the result:\n```json\n{\"y\": \"HELLO\"}\n```\nDone."
	out := ParseStageOutputs(content, []string{"y"})
	assert.Equal(t, "HELLO", out["y"])
}

func TestParseStageOutputsTrailingCommaFixup(t *testing.T) {
	content := "```json\n{\"items\": [\"a\", \"b\",], \"count\": 2,}\n```"
	out := ParseStageOutputs(content, []string{"items", "count"})
	assert.Equal(t, []any{"a", "b"}, out["items"])
	assert.Equal(t, float64(2), out["count"])
}

func TestParseStageOutputsUntaggedBlock(t *testing.T) {
	content := "result:\n```\n{\"w\": \"HELLO-world\"}\n```"
	out := ParseStageOutputs(content, []string{"w"})
	assert.Equal(t, "HELLO-world", out["w"])
}

func TestParseStageOutputsKeyByKeyFallback(t *testing.T) {
	content := `not valid json at all but contains "summary": "partial text", "score": 0.9 somewhere`
	out := ParseStageOutputs(content, []string{"summary", "score"})
	assert.Equal(t, "partial text", out["summary"])
	assert.Equal(t, 0.9, out["score"])
}

func TestParseStageOutputsMissingFieldGetsDefault(t *testing.T) {
	content := "```json\n{\"summary\": \"ok\"}\n```"
	out := ParseStageOutputs(content, []string{"summary", "confidence_score", "is_ready", "blockers", "status", "retry_count", "code_changes", "unknown_field"})
	assert.Equal(t, "ok", out["summary"])
	assert.Equal(t, 0.5, out["confidence_score"])
	assert.Equal(t, false, out["is_ready"])
	assert.Equal(t, []any{}, out["blockers"])
	assert.Equal(t, "unknown", out["status"])
	assert.Equal(t, 0, out["retry_count"])
	assert.Equal(t, map[string]any{}, out["code_changes"])
	_, present := out["unknown_field"]
	assert.False(t, present)
}

func TestParseStageOutputsKeysSubsetOfExpected(t *testing.T) {
	content := "```json\n{\"a\": 1, \"b\": 2, \"extra\": 3}\n```"
	out := ParseStageOutputs(content, []string{"a", "b"})
	assert.Len(t, out, 2)
	_, hasExtra := out["extra"]
	assert.False(t, hasExtra)
}

func TestParseStageOutputsRoundTripLaw(t *testing.T) {
	values := map[string]any{"k1": "v1", "k2": float64(2), "k3": true}
	b, err := json.Marshal(values)
	assert.NoError(t, err)
	out := ParseStageOutputs(string(b), []string{"k1", "k2", "k3"})
	assert.Equal(t, values, out)
}

func TestParseStageOutputsNestedSiblingScan(t *testing.T) {
	content := "```json\n{\"outer\": {\"inner_field\": \"nested-value\"}}\n```"
	out := ParseStageOutputs(content, []string{"inner_field"})
	assert.Equal(t, "nested-value", out["inner_field"])
}

func TestApplyDefaultValuesSkipsExisting(t *testing.T) {
	result := map[string]any{"status": "done"}
	ApplyDefaultValues(result, []string{"status"})
	assert.Equal(t, "done", result["status"])
}
