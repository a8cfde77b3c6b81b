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

package hooks

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pipelex/pipelex/pkg/logger"
)

// Loader lazily loads and merges the primary and (optional) secondary
// hooks configuration files, caching the parsed result against the
// primary file's mtime. A fsnotify watcher, when started, invalidates
// the cache proactively instead of waiting for the next stat.
type Loader struct {
	PrimaryPath   string
	SecondaryPath string

	mu        sync.Mutex
	cached    Config
	cachedAt  time.Time
	primaryMt time.Time
	watcher   *fsnotify.Watcher
	dirty     bool
}

// NewLoader constructs a Loader for the given configuration file paths.
// Either may not exist on disk; a missing file contributes no matchers.
func NewLoader(primaryPath, secondaryPath string) *Loader {
	return &Loader{PrimaryPath: primaryPath, SecondaryPath: secondaryPath}
}

// Watch starts an fsnotify watch on the primary config file's directory
// so edits are picked up without waiting for the next stat-based check.
// Best-effort: a failure to start the watcher just means the loader
// falls back to mtime polling on every Load call.
func (l *Loader) Watch() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Component("hooks").Warn("failed to start hooks config watcher", "error", err)
		return
	}
	l.mu.Lock()
	l.watcher = w
	l.mu.Unlock()

	if l.PrimaryPath == "" {
		return
	}
	dir := filepath.Dir(l.PrimaryPath)
	if err := w.Add(dir); err != nil {
		logger.Component("hooks").Warn("failed to watch hooks config dir", "dir", dir, "error", err)
		return
	}

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Name == l.PrimaryPath || event.Name == l.SecondaryPath {
					l.mu.Lock()
					l.dirty = true
					l.mu.Unlock()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Close stops the fsnotify watcher, if one was started.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}

// Load returns the merged hooks configuration, reusing the cached value
// unless the primary file's mtime changed or a watch event marked it
// dirty.
func (l *Loader) Load() Config {
	l.mu.Lock()
	defer l.mu.Unlock()

	mt := statMtime(l.PrimaryPath)
	if !l.cachedAt.IsZero() && !l.dirty && mt.Equal(l.primaryMt) {
		return l.cached
	}

	primary := readConfig(l.PrimaryPath)
	secondary := readConfig(l.SecondaryPath)
	merged := mergeConfigs(primary, secondary)

	l.cached = merged
	l.cachedAt = time.Now()
	l.primaryMt = mt
	l.dirty = false
	return merged
}

func readConfig(path string) Config {
	var cfg Config
	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.Component("hooks").Warn("failed to parse hooks config", "path", path, "error", err)
		return Config{}
	}
	return cfg
}

// mergeConfigs merges a secondary source into the primary: primary
// matchers win on duplicate pattern, secondary matchers not present in
// primary are appended.
func mergeConfigs(primary, secondary Config) Config {
	merged := primary
	merged.Hooks.PreToolUse = mergeMatchers(primary.Hooks.PreToolUse, secondary.Hooks.PreToolUse)
	merged.Hooks.PostToolUse = mergeMatchers(primary.Hooks.PostToolUse, secondary.Hooks.PostToolUse)
	return merged
}

func mergeMatchers(primary, secondary []Matcher) []Matcher {
	seen := make(map[string]bool, len(primary))
	for _, m := range primary {
		seen[m.Pattern] = true
	}
	merged := append([]Matcher(nil), primary...)
	for _, m := range secondary {
		if !seen[m.Pattern] {
			merged = append(merged, m)
		}
	}
	return merged
}

func statMtime(path string) time.Time {
	if path == "" {
		return time.Time{}
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

