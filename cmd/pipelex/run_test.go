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

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCmdAgainstExampleCommand(t *testing.T) {
	root, err := filepath.Abs("../../examples")
	require.NoError(t, err)

	stateDir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("state_dir: "+stateDir+"\n"), 0o644))

	cmd := RunCmd{
		Command:     "greet",
		Arg:         []string{"World"},
		CommandsDir: root,
		Config:      cfgPath,
	}
	assert.NoError(t, cmd.Run())
}

func TestValidateCmdAgainstExampleCommand(t *testing.T) {
	root, err := filepath.Abs("../../examples")
	require.NoError(t, err)

	cmd := ValidateCmd{Command: "greet", CommandsDir: root}
	assert.NoError(t, cmd.Run())
}
