package dryrun

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutThenGetConsumesOnce(t *testing.T) {
	c := New()
	key := Key("deploy", []string{"prod"}, map[string]any{"model": "gpt"})
	c.Put(key, Entry{CommandName: "deploy", CommandHash: "h1"})

	entry, ok := c.Get(key, "h1")
	require.True(t, ok)
	assert.Equal(t, "deploy", entry.CommandName)

	_, ok = c.Get(key, "h1")
	assert.False(t, ok, "entry must be one-shot consumed")
}

func TestGetMissesOnCommandHashMismatch(t *testing.T) {
	c := New()
	key := Key("deploy", nil, nil)
	c.Put(key, Entry{CommandHash: "h1"})

	_, ok := c.Get(key, "h2")
	assert.False(t, ok)
}

func TestGetMissesOnExpiry(t *testing.T) {
	c := New()
	c.now = func() time.Time { return time.Unix(0, 0) }
	key := Key("deploy", nil, nil)
	c.Put(key, Entry{CommandHash: "h1", TTL: time.Second})

	c.now = func() time.Time { return time.Unix(10, 0) }
	_, ok := c.Get(key, "h1")
	assert.False(t, ok)
}

func TestKeyIgnoresTransientFlags(t *testing.T) {
	k1 := Key("deploy", []string{"prod"}, map[string]any{"dryRun": true, "model": "gpt"})
	k2 := Key("deploy", []string{"prod"}, map[string]any{"dryRun": false, "model": "gpt"})
	assert.Equal(t, k1, k2)
}

func TestKeyOrderIndependentOfArgOrder(t *testing.T) {
	k1 := Key("deploy", []string{"a", "b"}, nil)
	k2 := Key("deploy", []string{"b", "a"}, nil)
	assert.Equal(t, k1, k2)
}

func TestEvictsOldestWhenAtCapacity(t *testing.T) {
	c := New()
	base := time.Unix(0, 0)
	for i := 0; i < maxEntries; i++ {
		t2 := base.Add(time.Duration(i) * time.Second)
		c.now = func() time.Time { return t2 }
		c.Put(Key("cmd", []string{string(rune('a' + i))}, nil), Entry{CommandHash: "h"})
	}
	require.Equal(t, maxEntries, c.Len())

	c.now = func() time.Time { return base.Add(100 * time.Second) }
	c.Put(Key("cmd", []string{"overflow"}, nil), Entry{CommandHash: "h"})
	assert.Less(t, c.Len(), maxEntries+1)
}
