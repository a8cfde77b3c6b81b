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

// Package variables implements the Variable Resolver (spec §4.1): the
// L0 component that expands $ARG_*, $STAGE_*, $CONTEXT_*, and $ENV_*
// references recursively across strings, arrays, and mappings.
package variables

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pipelex/pipelex/pkg/errs"
)

// refPattern matches one $SCOPE_path reference. Scope is one of the four
// uppercase names; path segments are [A-Za-z0-9_-]+ joined by '.'.
var refPattern = regexp.MustCompile(`\$(ARG|STAGE|CONTEXT|ENV)_([A-Za-z0-9_-]+(?:\.[A-Za-z0-9_-]+)*)`)

// notSpecified is returned for missing optional $ARG_*/$CONTEXT_* paths so
// templates can reference optional arguments without surrounding
// conditionals.
const notSpecified = "Not specified"

// Context holds the four disjoint scopes a Resolver reads from. Stage
// records are append-only per stage: existing keys must never be
// rewritten, enforced by AddStageOutputs.
type Context struct {
	args    map[string]any
	stages  map[string]map[string]any
	context map[string]any
	env     map[string]string
}

// NewContext builds an empty VariableContext. env is typically
// config.Snapshot().
func NewContext(env map[string]string) *Context {
	if env == nil {
		env = map[string]string{}
	}
	return &Context{
		args:    map[string]any{},
		stages:  map[string]map[string]any{},
		context: map[string]any{},
		env:     env,
	}
}

// SetPositionalArgs stores args[0], args[1], ... under numeric string
// keys ("1", "2", ...), matching $ARG_1 being the first positional arg.
func (c *Context) SetPositionalArgs(args []string) {
	for i, v := range args {
		c.args[strconv.Itoa(i+1)] = v
	}
}

// SetNamedArg stores a flag under its original key plus kebab-case and
// snake_case variants, absorbing CLI convention drift (spec §3, §9).
func (c *Context) SetNamedArg(key string, value any) {
	c.args[key] = value
	c.args[toKebabCase(key)] = value
	c.args[toSnakeCase(key)] = value
}

// SetContext sets a $CONTEXT_* value.
func (c *Context) SetContext(key string, value any) {
	c.context[key] = value
}

// AddStageOutputs records a completed stage's outputs. It is the only
// permitted mutator of c.stages; existing keys in an existing stage
// record are left untouched (append-only per stage).
func (c *Context) AddStageOutputs(stage string, outputs map[string]any) {
	existing, ok := c.stages[stage]
	if !ok {
		existing = map[string]any{}
		c.stages[stage] = existing
	}
	for k, v := range outputs {
		if _, already := existing[k]; already {
			continue
		}
		existing[k] = v
	}
}

// HasStage reports whether a stage has recorded outputs (i.e. it ran and
// was not skipped).
func (c *Context) HasStage(stage string) bool {
	_, ok := c.stages[stage]
	return ok
}

func toKebabCase(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "_", "-"), " ", "-")
}

func toSnakeCase(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "-", "_"), " ", "_")
}

// Resolver expands variable references against a Context. The zero value
// is not usable — construct with New.
type Resolver struct {
	ctx    *Context
	strict bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// NonStrict leaves unresolved references as the literal "$SCOPE_PATH" in
// the output string instead of raising VariableNotFoundError. Used only
// by diagnostic paths (spec §4.1 "Strictness").
func NonStrict() Option {
	return func(r *Resolver) { r.strict = false }
}

// New constructs a Resolver in strict mode by default.
func New(ctx *Context, opts ...Option) *Resolver {
	r := &Resolver{ctx: ctx, strict: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve expands all variable references in value, walking arrays and
// maps recursively. Non-string leaves are returned unchanged.
func (r *Resolver) Resolve(value any) (any, error) {
	switch v := value.(type) {
	case string:
		// A string that is exactly one $STAGE_* reference resolving to null
		// (unknown or skipped stage, or a null output) yields nil, not "".
		if m := refPattern.FindStringSubmatch(v); m != nil && m[0] == v && m[1] == "STAGE" {
			if val, err := r.resolveStage(m[2]); err == nil && val == nil {
				return nil, nil
			}
		}
		return r.resolveString(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := r.Resolve(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := r.Resolve(item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// ValidateVariables returns a message for every unresolvable reference in
// value without mutating anything.
func (r *Resolver) ValidateVariables(value any) []string {
	var messages []string
	switch v := value.(type) {
	case string:
		for _, ref := range extractRefs(v) {
			if _, err := r.resolveOne(ref.scope, ref.path); err != nil {
				messages = append(messages, err.Error())
			}
		}
	case []any:
		for _, item := range v {
			messages = append(messages, r.ValidateVariables(item)...)
		}
	case map[string]any:
		for _, item := range v {
			messages = append(messages, r.ValidateVariables(item)...)
		}
	}
	return messages
}

// resolveString substitutes every reference in s via one left-to-right
// regex pass, greedily.
func (r *Resolver) resolveString(s string) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}

	var firstErr error
	result := refPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		parts := refPattern.FindStringSubmatch(match)
		scope, path := parts[1], parts[2]
		val, err := r.resolveOne(scope, path)
		if err != nil {
			// $ENV_* is the only scope where a missing value is always
			// fatal, even in non-strict mode (spec §4.1 "Strictness").
			if r.strict || scope == "ENV" {
				firstErr = err
				return match
			}
			return match
		}
		return coerceToString(val)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// resolveOne resolves a single $SCOPE_path reference.
func (r *Resolver) resolveOne(scope, path string) (any, error) {
	switch scope {
	case "ARG":
		return r.resolveArg(path), nil
	case "STAGE":
		return r.resolveStage(path)
	case "CONTEXT":
		return r.resolveContext(path), nil
	case "ENV":
		return r.resolveEnv(path)
	default:
		return nil, &errs.VariableNotFoundError{Scope: scope, Path: path, Hint: "unknown scope"}
	}
}

func (r *Resolver) resolveArg(path string) any {
	segments := strings.SplitN(path, ".", 2)
	head := segments[0]
	val, ok := r.ctx.args[head]
	if !ok {
		return notSpecified
	}
	if len(segments) == 1 {
		return val
	}
	return traverse(val, segments[1], notSpecified)
}

func (r *Resolver) resolveStage(path string) (any, error) {
	segments := strings.SplitN(path, ".", 2)
	stageName := segments[0]
	record, ok := r.ctx.stages[stageName]
	if !ok {
		// Unknown/skipped stage resolves to null so downstream stages
		// gracefully handle conditionally-skipped upstreams.
		return nil, nil
	}
	if len(segments) == 1 {
		return record, nil
	}
	val, found := lookupPath(record, segments[1])
	if !found {
		keys := make([]string, 0, len(record))
		for k := range record {
			keys = append(keys, k)
		}
		return nil, &errs.VariableNotFoundError{
			Scope:         "STAGE",
			Path:          path,
			AvailableKeys: keys,
			Hint:          "the LLM may have returned incomplete output for stage " + stageName,
		}
	}
	return val, nil
}

func (r *Resolver) resolveContext(path string) any {
	val, found := lookupPath(r.ctx.context, path)
	if !found {
		return notSpecified
	}
	return val
}

func (r *Resolver) resolveEnv(path string) (any, error) {
	val, ok := r.ctx.env[path]
	if !ok {
		return nil, &errs.VariableNotFoundError{Scope: "ENV", Path: path, Hint: "environment variable is not set"}
	}
	return val, nil
}

// traverse walks a dotted path into val (which may be a map[string]any or
// similar), returning fallback if any segment is missing or val is not a
// traversable container. Used for $ARG_*, which never hard-fails.
func traverse(val any, path string, fallback any) any {
	if path == "" {
		return val
	}
	found, ok := lookupPath(val, path)
	if !ok {
		return fallback
	}
	return found
}

// lookupPath walks a dotted path into a nested map[string]any structure.
func lookupPath(val any, path string) (any, bool) {
	cur := val
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// coerceToString renders a resolved value for string substitution:
// booleans/numbers render canonically, nil renders empty, objects render
// as compact JSON.
func coerceToString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

type extractedRef struct {
	Full  string
	scope string
	path  string
}

// ExtractVariables returns every $SCOPE_path reference found in str,
// positionally, without resolving them.
func ExtractVariables(str string) []extractedRef {
	return extractRefs(str)
}

func extractRefs(str string) []extractedRef {
	matches := refPattern.FindAllStringSubmatch(str, -1)
	out := make([]extractedRef, 0, len(matches))
	for _, m := range matches {
		out = append(out, extractedRef{Full: m[0], scope: m[1], path: m[2]})
	}
	return out
}

// Scope returns the reference's scope (ARG, STAGE, CONTEXT, or ENV).
func (e extractedRef) Scope() string { return e.scope }

// Path returns the reference's dotted path.
func (e extractedRef) Path() string { return e.path }

// HasVariables reports whether str contains at least one reference.
func HasVariables(str string) bool {
	return refPattern.MatchString(str)
}
