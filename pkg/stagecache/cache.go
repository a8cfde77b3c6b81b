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

package stagecache

import "time"

// MissReason explains why a Get missed, per spec §4.6.
type MissReason string

const (
	ReasonNoEntry        MissReason = "no_entry"
	ReasonExpired        MissReason = "expired"
	ReasonInputsChanged  MissReason = "inputs_changed"
	ReasonFileDepChanged MissReason = "file_dep_changed"
)

// Entry is the persisted record for one stage (spec §3 "CacheEntry").
type Entry struct {
	StageID             string
	InputsHash          string
	FileFingerprintHash string
	Outputs             map[string]any
	OriginalDurationMs  int64
	CreatedAt           time.Time
	TTLMillis           int64
}

func (e Entry) expired(now time.Time) bool {
	if e.TTLMillis <= 0 {
		return false
	}
	return now.After(e.CreatedAt.Add(time.Duration(e.TTLMillis) * time.Millisecond))
}

// Result is the outcome of a Get call.
type Result struct {
	Hit         bool
	Entry       *Entry
	Reason      MissReason
	SavedTimeMs int64
}

// Store is the persistence contract a Cache delegates to. Implementations
// must be safe for concurrent use (spec §5 "shared-resource policy").
type Store interface {
	Load(stageID string) (Entry, bool, error)
	Save(entry Entry) error
}

// Cache is the Stage Output Cache (spec §4.6).
type Cache struct {
	store Store
	now   func() time.Time
}

// New constructs a Cache backed by store.
func New(store Store) *Cache {
	return &Cache{store: store, now: time.Now}
}

// Get looks up a stage's cached outputs. cacheKeyInputs and
// fileFingerprints are the stage's cache configuration and the current
// file-dependency fingerprints (e.g. content hashes), respectively.
func (c *Cache) Get(stageID string, resolvedInputs map[string]any, cacheKeyInputs []string, fileFingerprints []string) Result {
	entry, ok, err := c.store.Load(stageID)
	if err != nil || !ok {
		return Result{Reason: ReasonNoEntry}
	}

	if entry.expired(c.now()) {
		return Result{Reason: ReasonExpired}
	}

	if entry.InputsHash != HashInputs(resolvedInputs, cacheKeyInputs) {
		return Result{Reason: ReasonInputsChanged}
	}

	if entry.FileFingerprintHash != HashFileFingerprints(fileFingerprints) {
		return Result{Reason: ReasonFileDepChanged}
	}

	return Result{Hit: true, Entry: &entry, SavedTimeMs: entry.OriginalDurationMs}
}

// Put stores a successful stage run. ttlMillis is the stage's
// cache.ttl_ms; 0 means no expiry.
func (c *Cache) Put(stageID string, resolvedInputs map[string]any, cacheKeyInputs []string, fileFingerprints []string, outputs map[string]any, originalDurationMs int64, ttlMillis int64) error {
	return c.store.Save(Entry{
		StageID:             stageID,
		InputsHash:          HashInputs(resolvedInputs, cacheKeyInputs),
		FileFingerprintHash: HashFileFingerprints(fileFingerprints),
		Outputs:             outputs,
		OriginalDurationMs:  originalDurationMs,
		CreatedAt:           c.now(),
		TTLMillis:           ttlMillis,
	})
}
