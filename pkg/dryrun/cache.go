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

// Package dryrun implements the Dry-Run Cache (spec §4.7): a
// process-lifetime, mutex-guarded cache of pre-computed plans and
// resources, one-shot-consumed by the next non-dry run of the same
// command.
package dryrun

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultTTL is the default entry lifetime (spec §4.7).
	DefaultTTL = 5 * time.Minute

	maxEntries  = 50
	evictShare  = 0.10
)

// transientFlags are stripped before hashing flags into the cache key:
// they don't change what the dry run would have planned.
var transientFlags = map[string]bool{
	"dryRun":   true,
	"dry-run":  true,
	"verbose":  true,
	"quiet":    true,
	"progress": true,
}

// Entry is a DryRunCacheEntry (spec §3).
type Entry struct {
	CommandName         string
	CommandHash         string
	CreatedAt           time.Time
	TTL                 time.Duration
	PlannedStages       []string
	AnalysisOutputs     map[string]any
	PrecomputedOutputs  map[string]map[string]any
	PreloadedPrompts    map[string]string
	PreloadedAgent      string
	PreresolvedInputs   map[string]map[string]any
	ResolvedArgs        []string
	PipelineValidated   bool
}

// Key derives the 64-bit cache key for a command invocation:
// SHA-256(commandName, sorted args, sorted flags with transient flags
// removed).
func Key(commandName string, args []string, flags map[string]any) string {
	sortedArgs := append([]string(nil), args...)
	sort.Strings(sortedArgs)

	filtered := make(map[string]any, len(flags))
	for k, v := range flags {
		if transientFlags[k] {
			continue
		}
		filtered[k] = v
	}
	flagKeys := make([]string, 0, len(filtered))
	for k := range filtered {
		flagKeys = append(flagKeys, k)
	}
	sort.Strings(flagKeys)

	h := sha256.New()
	h.Write([]byte(commandName))
	for _, a := range sortedArgs {
		h.Write([]byte{0})
		h.Write([]byte(a))
	}
	for _, k := range flagKeys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		b, _ := json.Marshal(filtered[k])
		h.Write(b)
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}

// CommandHash derives the digest used to detect that a command
// definition changed underneath a cached entry.
func CommandHash(name, model, agent string, pipeline any) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(agent))
	h.Write([]byte{0})
	b, _ := json.Marshal(pipeline)
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// Cache is the process-global, mutex-guarded Dry-Run Cache.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

// New constructs an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]Entry), now: time.Now}
}

// Put stores entry under key, evicting the oldest ~10% of entries first
// if the cache is at capacity.
func (c *Cache) Put(key string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= maxEntries {
		c.evictOldestLocked()
	}
	if entry.TTL == 0 {
		entry.TTL = DefaultTTL
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now()
	}
	c.entries[key] = entry
}

// Get looks up and, on a valid hit, one-shot consumes (removes) the
// entry. currentCommandHash is compared against the stored
// CommandHash: a mismatch invalidates the entry as if it were absent.
func (c *Cache) Get(key string, currentCommandHash string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}

	expired := c.now().After(entry.CreatedAt.Add(entry.TTL))
	hashMismatch := entry.CommandHash != currentCommandHash
	delete(c.entries, key) // one-shot consumption regardless of outcome

	if expired || hashMismatch {
		return Entry{}, false
	}
	return entry, true
}

// Len reports the current number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evictOldestLocked() {
	type keyed struct {
		key     string
		created time.Time
	}
	all := make([]keyed, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, keyed{k, e.CreatedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].created.Before(all[j].created) })

	n := int(float64(len(all)) * evictShare)
	if n < 1 {
		n = 1
	}
	for i := 0; i < n && i < len(all); i++ {
		delete(c.entries, all[i].key)
	}
}
