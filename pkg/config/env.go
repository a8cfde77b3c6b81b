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

package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

var (
	envWithDefault = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`)
	envBraced      = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)
	envSimple      = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)
)

// LoadDotEnv loads a .env file (if present) into the process environment
// before the $ENV_* scope snapshot is taken by the Variable Resolver.
// A missing file is not an error — it is the common case in CI.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// ExpandEnv expands ${VAR}, ${VAR:-default}, and $VAR references against
// the process environment. Used for config values (e.g. state directory
// paths) — distinct from, and the direct ancestor of, the $ENV_* scope the
// Variable Resolver exposes to pipeline stage inputs.
func ExpandEnv(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	s = envWithDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envWithDefault.FindStringSubmatch(match)
		if len(parts) != 3 {
			return match
		}
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})

	s = envBraced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envBraced.FindStringSubmatch(match)
		if len(parts) != 2 {
			return match
		}
		return os.Getenv(parts[1])
	})

	s = envSimple.ReplaceAllStringFunc(s, func(match string) string {
		parts := envSimple.FindStringSubmatch(match)
		if len(parts) != 2 {
			return match
		}
		return os.Getenv(parts[1])
	})

	return s
}

// Snapshot returns an immutable copy of the process environment as a
// str->str mapping, the backing store for the Variable Resolver's $ENV_*
// scope (see pkg/variables). Taken once at resolver construction time.
func Snapshot() map[string]string {
	env := os.Environ()
	out := make(map[string]string, len(env))
	for _, kv := range env {
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			out[kv[:idx]] = kv[idx+1:]
		}
	}
	return out
}
