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

// Command pipelex is a thin demonstration shell around the pipeline
// execution engine. It does not implement an LLM provider, a command-file
// format, or an interactive UI (spec.md's Non-goals); it wires the
// engine's collaborators together from YAML frontmatter files on disk
// and drives one command through the Execution Strategy Selector.
//
// Usage:
//
//	pipelex run greet --commands-dir ./examples --arg hello
//	pipelex run greet --commands-dir ./examples --dry-run
//	pipelex validate greet --commands-dir ./examples
//	pipelex version
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/pipelex/pipelex/pkg/logger"
)

// CLI is the top-level kong command tree.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Run a command's pipeline."`
	Validate ValidateCmd `cmd:"" help:"Validate a command's pipeline structure."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (text or json)." default:"text"`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		version = info.Main.Version
	}
	fmt.Printf("pipelex version %s\n", version)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("pipelex"),
		kong.Description("Local orchestrator for declarative, multi-stage LLM pipelines."),
		kong.UsageOnError(),
	)

	level, _ := logger.ParseLevel(cli.LogLevel)
	logger.Init(level, os.Stderr, cli.LogFormat)

	if err := ctx.Run(); err != nil {
		logger.Get().Error("command failed", "error", err)
		os.Exit(1)
	}
}
