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

// Package stagecache implements the Stage Output Cache (spec §4.6): a
// deterministic cache of stage outputs keyed by stage id, resolved
// inputs, and file-dependency fingerprints, with a pluggable SQL-backed
// store behind an in-memory default.
package stagecache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// HashInputs derives the stable, sorted-key digest of resolvedInputs
// restricted to cacheKeyInputs (or all of resolvedInputs if
// cacheKeyInputs is empty).
func HashInputs(resolvedInputs map[string]any, cacheKeyInputs []string) string {
	restricted := resolvedInputs
	if len(cacheKeyInputs) > 0 {
		restricted = make(map[string]any, len(cacheKeyInputs))
		for _, k := range cacheKeyInputs {
			if v, ok := resolvedInputs[k]; ok {
				restricted[k] = v
			}
		}
	}
	return hashHex(sortedJSON(restricted))
}

// HashFileFingerprints derives a stable digest of a sorted fingerprint
// list (e.g. content hashes or mtimes of declared file_dependencies).
func HashFileFingerprints(fingerprints []string) string {
	fps := append([]string(nil), fingerprints...)
	sort.Strings(fps)
	h := sha256.New()
	for _, fp := range fps {
		h.Write([]byte(fp))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Key derives the full 128-bit cache key for a stage run:
// SHA-256(stage-id || inputs-hash || file-fingerprints-hash), truncated
// to 128 bits. The stores do not use it: they keep entries under the stage
// id and Cache.Get compares InputsHash and FileFingerprintHash.
func Key(stageID string, resolvedInputs map[string]any, cacheKeyInputs []string, fileFingerprints []string) string {
	h := sha256.New()
	h.Write([]byte(stageID))
	h.Write([]byte{0})
	h.Write([]byte(HashInputs(resolvedInputs, cacheKeyInputs)))
	h.Write([]byte{0})
	h.Write([]byte(HashFileFingerprints(fileFingerprints)))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16])
}

// sortedJSON marshals m with keys in sorted order so the digest is
// stable regardless of map iteration order.
func sortedJSON(m map[string]any) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]orderedEntry, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, orderedEntry{Key: k, Value: m[k]})
	}
	b, err := json.Marshal(ordered)
	if err != nil {
		return nil
	}
	return b
}

type orderedEntry struct {
	Key   string `json:"k"`
	Value any    `json:"v"`
}
