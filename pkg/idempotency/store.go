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

// Package idempotency implements the Idempotency Store (spec §4.8): an
// on-disk, file-lock-guarded record of side-effecting tool results so a
// replayed call with unchanged args returns the prior result instead of
// re-running the tool.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"github.com/pipelex/pipelex/pkg/logger"
)

const (
	// DefaultTTL is how long a record remains valid before lazy pruning
	// removes it.
	DefaultTTL = 24 * time.Hour

	// MaxRecords triggers oldest-first eviction once exceeded.
	MaxRecords = 10000

	lockSuffix = ".lock"
)

// Record is a persisted IdempotencyRecord (spec §3).
type Record struct {
	Key       string `json:"key"`
	ArgsHash  string `json:"args_hash"`
	ToolName  string `json:"tool_name"`
	Result    any    `json:"result"`
	SessionID string `json:"session_id,omitempty"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// Store persists Records as one JSON document per key under Dir, each
// write guarded by a sidecar lock file.
type Store struct {
	Dir string
	log *slog.Logger
}

// New constructs a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("idempotency: create state dir: %w", err)
	}
	return &Store{Dir: dir, log: logger.Component("idempotency")}, nil
}

// Key derives the store key for a tool call: the tool name, "-", and
// ArgsHash(args, sessionID). The tool name is a prefix for readability on
// disk; it is not itself part of the digest.
func Key(toolName string, args map[string]any, sessionID string) string {
	return toolName + "-" + ArgsHash(args, sessionID)
}

// ArgsHash is the collision-guard digest stored alongside a record and
// the digest part of Key: SHA-256 over sorted-JSON(args), a zero byte and
// sessionID, truncated to 128 bits.
func ArgsHash(args map[string]any, sessionID string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type pair struct {
		K string `json:"k"`
		V any    `json:"v"`
	}
	ordered := make([]pair, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, pair{k, args[k]})
	}
	b, _ := json.Marshal(ordered)

	h := sha256.New()
	h.Write(b)
	h.Write([]byte{0})
	h.Write([]byte(sessionID))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// Lookup returns the live record for key if one exists, is unexpired,
// and its stored args_hash matches expectedArgsHash. A hash mismatch
// (collision) or expiry is treated as a miss; an expired record found on
// lookup is pruned immediately.
func (s *Store) Lookup(key, expectedArgsHash string) (Record, bool) {
	rec, ok := s.read(key)
	if !ok {
		return Record{}, false
	}

	if rec.ExpiresAt > 0 && time.Now().UnixMilli() > rec.ExpiresAt {
		_ = s.delete(key)
		return Record{}, false
	}

	if rec.ArgsHash != expectedArgsHash {
		return Record{}, false
	}

	return rec, true
}

// Save persists rec, evicting the oldest record first if the store is at
// capacity. Failures are logged, not returned as fatal: callers should
// treat a save failure as "not cached this time", not a tool failure.
func (s *Store) Save(rec Record) {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixMilli()
	}
	if rec.ExpiresAt == 0 {
		rec.ExpiresAt = rec.CreatedAt + DefaultTTL.Milliseconds()
	}

	s.enforceCapacity()

	if err := s.write(rec); err != nil {
		s.log.Warn("idempotency: failed to persist record", "key", rec.Key, "error", err)
	}
}

// InvalidateByTool removes every record whose tool_name matches.
func (s *Store) InvalidateByTool(toolName string) error {
	return s.filterDelete(func(r Record) bool { return r.ToolName == toolName })
}

// InvalidateBySession removes every record for a session.
func (s *Store) InvalidateBySession(sessionID string) error {
	return s.filterDelete(func(r Record) bool { return r.SessionID == sessionID })
}

// Clear removes every record in the store.
func (s *Store) Clear() error {
	return s.filterDelete(func(Record) bool { return true })
}

func (s *Store) filterDelete(match func(Record) bool) error {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return fmt.Errorf("idempotency: list store: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		key := e.Name()[:len(e.Name())-len(".json")]
		rec, ok := s.read(key)
		if !ok {
			continue
		}
		if match(rec) {
			_ = s.delete(key)
		}
	}
	return nil
}

func (s *Store) enforceCapacity() {
	entries, err := os.ReadDir(s.Dir)
	if err != nil || len(entries) < MaxRecords {
		return
	}

	type aged struct {
		key     string
		created int64
	}
	var all []aged
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		key := e.Name()[:len(e.Name())-len(".json")]
		rec, ok := s.read(key)
		if !ok {
			continue
		}
		all = append(all, aged{key, rec.CreatedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].created < all[j].created })

	overflow := len(all) - MaxRecords + 1
	for i := 0; i < overflow && i < len(all); i++ {
		_ = s.delete(all[i].key)
	}
}

func (s *Store) path(key string) string {
	return filepath.Join(s.Dir, key+".json")
}

func (s *Store) lockPath(key string) string {
	return filepath.Join(s.Dir, key+lockSuffix)
}

func (s *Store) read(key string) (Record, bool) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false
	}
	return rec, true
}

func (s *Store) write(rec Record) error {
	lock := flock.New(s.lockPath(rec.Key))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer lock.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return os.WriteFile(s.path(rec.Key), data, 0o644)
}

func (s *Store) delete(key string) error {
	lock := flock.New(s.lockPath(key))
	if err := lock.Lock(); err == nil {
		defer lock.Unlock()
	}
	_ = os.Remove(s.lockPath(key))
	return os.Remove(s.path(key))
}
