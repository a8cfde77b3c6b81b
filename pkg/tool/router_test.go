package tool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelex/pipelex/pkg/config"
)

func newTestRouter(t *testing.T) (*Router, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.StateDir = filepath.Join(dir, ".orchestrator-state")
	cfg.ProtectedFiles = []string{"go.sum"}
	cfg.ConfirmAtEndDirs = []string{"docs"}
	r := NewRouter(cfg, nil, nil, dir, "sess-1")
	return r, dir
}

func TestRouterWriteThenReadFile(t *testing.T) {
	r, dir := newTestRouter(t)
	ctx := context.Background()

	results := r.ExecuteTools(ctx, []Call{
		{ID: "1", Name: "write", Arguments: map[string]any{"path": "notes.txt", "content": "hello"}},
	})
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Output, "Wrote")

	data, err := os.ReadFile(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestRouterProtectedFileRequiresReadFirst(t *testing.T) {
	r, dir := newTestRouter(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.sum"), []byte("locked"), 0o644))
	ctx := context.Background()

	results := r.ExecuteTools(ctx, []Call{
		{ID: "1", Name: "write", Arguments: map[string]any{"path": "go.sum", "content": "new"}},
	})
	assert.Contains(t, results[0].Output, "Error")
	assert.Contains(t, results[0].Output, "protected")
}

func TestRouterProtectedFileAllowedAfterRead(t *testing.T) {
	r, dir := newTestRouter(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.sum"), []byte("locked"), 0o644))
	ctx := context.Background()

	r.ExecuteTools(ctx, []Call{{ID: "1", Name: "read_file", Arguments: map[string]any{"path": "go.sum"}}})
	results := r.ExecuteTools(ctx, []Call{{ID: "2", Name: "write", Arguments: map[string]any{"path": "go.sum", "content": "new"}}})
	assert.NotContains(t, results[0].Output, "Error")
}

func TestRouterRejectsWriteIntoStateDir(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	results := r.ExecuteTools(ctx, []Call{
		{ID: "1", Name: "write", Arguments: map[string]any{"path": ".orchestrator-state/sneaky.json", "content": "x"}},
	})
	assert.Contains(t, results[0].Output, "state directory")
}

func TestRouterQueuesConfirmAtEndWrites(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	results := r.ExecuteTools(ctx, []Call{
		{ID: "1", Name: "write", Arguments: map[string]any{"path": "docs/readme.md", "content": "hi"}},
	})
	assert.Contains(t, results[0].Output, "Queued")
	assert.Len(t, r.runtime.PendingWrites, 1)
}

func TestRouterDryRunSimulatesWrite(t *testing.T) {
	r, dir := newTestRouter(t)
	r.SetDryRun(true)
	ctx := context.Background()

	results := r.ExecuteTools(ctx, []Call{
		{ID: "1", Name: "write", Arguments: map[string]any{"path": "notes.txt", "content": "hello"}},
	})
	assert.Contains(t, results[0].Output, "[dry-run]")
	_, err := os.Stat(filepath.Join(dir, "notes.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestRouterDryRunDoesNotSimulateReadOnlyTools(t *testing.T) {
	r, dir := newTestRouter(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("real"), 0o644))
	r.SetDryRun(true)
	ctx := context.Background()

	results := r.ExecuteTools(ctx, []Call{
		{ID: "1", Name: "read_file", Arguments: map[string]any{"path": "a.txt"}},
	})
	assert.Equal(t, "real", results[0].Output)
}

func TestRouterUnknownToolWithoutGatewayErrors(t *testing.T) {
	r, _ := newTestRouter(t)
	results := r.ExecuteTools(context.Background(), []Call{{ID: "1", Name: "nonexistent"}})
	assert.Contains(t, results[0].Output, "unknown tool")
}

func TestRouterFlushPendingWritesCommitsApproved(t *testing.T) {
	r, dir := newTestRouter(t)
	ctx := context.Background()
	r.ExecuteTools(ctx, []Call{{ID: "1", Name: "write", Arguments: map[string]any{"path": "docs/a.md", "content": "x"}}})

	require.NoError(t, r.FlushPendingWrites(ctx, approveAll{}))
	data, err := os.ReadFile(filepath.Join(dir, "docs", "a.md"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
	assert.Empty(t, r.runtime.PendingWrites)
}

type approveAll struct{}

func (approveAll) Approve(context.Context, PendingWrite) bool { return true }
