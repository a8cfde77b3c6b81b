package variables

import (
	"testing"

	"github.com/pipelex/pipelex/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver() (*Resolver, *Context) {
	ctx := NewContext(map[string]string{"HOME": "/home/u"})
	ctx.SetPositionalArgs([]string{"hello"})
	ctx.SetNamedArg("user-name", "ada")
	ctx.AddStageOutputs("a", map[string]any{"y": "HELLO"})
	ctx.SetContext("project", "demo")
	return New(ctx), ctx
}

func TestResolveSimpleSubstitution(t *testing.T) {
	r, _ := newTestResolver()
	out, err := r.Resolve("value is $ARG_1 and $STAGE_a.y")
	require.NoError(t, err)
	assert.Equal(t, "value is hello and HELLO", out)
}

func TestResolveArgCasingVariants(t *testing.T) {
	r, _ := newTestResolver()
	for _, ref := range []string{"$ARG_user-name", "$ARG_user_name"} {
		out, err := r.Resolve(ref)
		require.NoError(t, err)
		assert.Equal(t, "ada", out)
	}
}

func TestResolveMissingArgIsNotSpecified(t *testing.T) {
	r, _ := newTestResolver()
	out, err := r.Resolve("$ARG_missing")
	require.NoError(t, err)
	assert.Equal(t, notSpecified, out)
}

func TestResolveMissingContextIsNotSpecified(t *testing.T) {
	r, _ := newTestResolver()
	out, err := r.Resolve("$CONTEXT_missing")
	require.NoError(t, err)
	assert.Equal(t, notSpecified, out)
}

func TestResolveUnknownStageIsNull(t *testing.T) {
	r, _ := newTestResolver()
	out, err := r.Resolve("$STAGE_unknown.field")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestResolveMissingStagePropertyErrors(t *testing.T) {
	r, _ := newTestResolver()
	_, err := r.Resolve("$STAGE_a.missing")
	require.Error(t, err)
	var vnf *errs.VariableNotFoundError
	require.ErrorAs(t, err, &vnf)
	assert.Equal(t, "STAGE", vnf.Scope)
	assert.Contains(t, vnf.AvailableKeys, "y")
}

func TestResolveEnvMissingIsFatal(t *testing.T) {
	r, _ := newTestResolver()
	_, err := r.Resolve("$ENV_DOES_NOT_EXIST")
	require.Error(t, err)
	var vnf *errs.VariableNotFoundError
	require.ErrorAs(t, err, &vnf)
	assert.Equal(t, "ENV", vnf.Scope)
}

func TestResolveEnvPresent(t *testing.T) {
	r, _ := newTestResolver()
	out, err := r.Resolve("$ENV_HOME")
	require.NoError(t, err)
	assert.Equal(t, "/home/u", out)
}

func TestResolveRecursiveArrayAndMap(t *testing.T) {
	r, _ := newTestResolver()
	value := map[string]any{
		"list": []any{"$ARG_1", "$STAGE_a.y"},
		"nested": map[string]any{
			"x": "$ENV_HOME",
		},
		"literal": 42,
	}
	out, err := r.Resolve(value)
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, []any{"hello", "HELLO"}, m["list"])
	assert.Equal(t, "/home/u", m["nested"].(map[string]any)["x"])
	assert.Equal(t, 42, m["literal"])
}

func TestResolveObjectCoercion(t *testing.T) {
	ctx := NewContext(nil)
	ctx.AddStageOutputs("a", map[string]any{"obj": map[string]any{"k": "v"}})
	r := New(ctx)
	out, err := r.Resolve("value: $STAGE_a.obj")
	require.NoError(t, err)
	assert.Equal(t, `value: {"k":"v"}`, out)
}

func TestResolveBoolAndNullCoercion(t *testing.T) {
	ctx := NewContext(nil)
	ctx.AddStageOutputs("a", map[string]any{"flag": true, "nothing": nil})
	r := New(ctx)
	out, err := r.Resolve("$STAGE_a.flag|$STAGE_a.nothing|end")
	require.NoError(t, err)
	assert.Equal(t, "true||end", out)
}

func TestNonStrictLeavesLiteral(t *testing.T) {
	ctx := NewContext(nil)
	ctx.AddStageOutputs("a", map[string]any{"y": "HELLO"})
	r := New(ctx, NonStrict())
	out, err := r.Resolve("$STAGE_a.missing")
	require.NoError(t, err)
	assert.Equal(t, "$STAGE_a.missing", out)
}

func TestEnvAlwaysFatalEvenNonStrict(t *testing.T) {
	ctx := NewContext(nil)
	r := New(ctx, NonStrict())
	_, err := r.Resolve("$ENV_MISSING_VALUE")
	require.Error(t, err, "$ENV_* is the only scope that is always fatal, even non-strict")
}

func TestAppendOnlyStageOutputs(t *testing.T) {
	ctx := NewContext(nil)
	ctx.AddStageOutputs("a", map[string]any{"y": "first"})
	ctx.AddStageOutputs("a", map[string]any{"y": "second", "z": "new"})
	r := New(ctx)
	y, err := r.Resolve("$STAGE_a.y")
	require.NoError(t, err)
	assert.Equal(t, "first", y, "existing stage keys must not be rewritten")
	z, err := r.Resolve("$STAGE_a.z")
	require.NoError(t, err)
	assert.Equal(t, "new", z)
}

func TestExtractVariablesNonLossyPositionally(t *testing.T) {
	s := "a $ARG_1 b $STAGE_a.y c"
	refs := ExtractVariables(s)
	require.Len(t, refs, 2)
	assert.Equal(t, "$ARG_1", refs[0].Full)
	assert.Equal(t, "$STAGE_a.y", refs[1].Full)
}

func TestHasVariables(t *testing.T) {
	assert.True(t, HasVariables("$ARG_1"))
	assert.False(t, HasVariables("no refs here"))
}

func TestValidateVariablesReportsWithoutMutating(t *testing.T) {
	r, ctx := newTestResolver()
	before := len(ctx.stages)
	msgs := r.ValidateVariables(map[string]any{"x": "$STAGE_a.missing", "y": "$ARG_1"})
	assert.Len(t, msgs, 1)
	assert.Equal(t, before, len(ctx.stages))
}
