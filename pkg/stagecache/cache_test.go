package stagecache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheMissNoEntry(t *testing.T) {
	c := New(NewMemoryStore())
	res := c.Get("plan", map[string]any{"x": 1}, nil, nil)
	assert.False(t, res.Hit)
	assert.Equal(t, ReasonNoEntry, res.Reason)
}

func TestCachePutThenGetHits(t *testing.T) {
	c := New(NewMemoryStore())
	inputs := map[string]any{"service": "api"}
	require.NoError(t, c.Put("plan", inputs, nil, nil, map[string]any{"summary": "ok"}, 1200, 0))

	res := c.Get("plan", inputs, nil, nil)
	require.True(t, res.Hit)
	assert.Equal(t, int64(1200), res.SavedTimeMs)
	assert.Equal(t, "ok", res.Entry.Outputs["summary"])
}

func TestCacheMissOnInputsChanged(t *testing.T) {
	c := New(NewMemoryStore())
	require.NoError(t, c.Put("plan", map[string]any{"service": "api"}, nil, nil, map[string]any{}, 0, 0))

	res := c.Get("plan", map[string]any{"service": "other"}, nil, nil)
	assert.False(t, res.Hit)
	assert.Equal(t, ReasonInputsChanged, res.Reason)
}

func TestCacheMissOnFileDepChanged(t *testing.T) {
	c := New(NewMemoryStore())
	require.NoError(t, c.Put("plan", map[string]any{}, nil, []string{"abc"}, map[string]any{}, 0, 0))

	res := c.Get("plan", map[string]any{}, nil, []string{"def"})
	assert.False(t, res.Hit)
	assert.Equal(t, ReasonFileDepChanged, res.Reason)
}

func TestCacheExpiresByTTL(t *testing.T) {
	c := New(NewMemoryStore())
	c.now = func() time.Time { return time.Unix(0, 0) }
	require.NoError(t, c.Put("plan", map[string]any{}, nil, nil, map[string]any{}, 0, 1000))

	c.now = func() time.Time { return time.Unix(10, 0) }
	res := c.Get("plan", map[string]any{}, nil, nil)
	assert.False(t, res.Hit)
	assert.Equal(t, ReasonExpired, res.Reason)
}

func TestCacheKeyInputsRestrictsHash(t *testing.T) {
	c := New(NewMemoryStore())
	require.NoError(t, c.Put("plan", map[string]any{"service": "api", "verbose": true}, []string{"service"}, nil, map[string]any{}, 0, 0))

	res := c.Get("plan", map[string]any{"service": "api", "verbose": false}, []string{"service"}, nil)
	assert.True(t, res.Hit)
}
