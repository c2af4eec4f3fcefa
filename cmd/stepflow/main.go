// Copyright 2025 Casey Haldane
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
	"github.com/haldane/stepflow/internal/cli"
	"github.com/haldane/stepflow/internal/commands/run"
	stepscmd "github.com/haldane/stepflow/internal/commands/steps"
	"github.com/haldane/stepflow/internal/commands/validate"
	versioncmd "github.com/haldane/stepflow/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Set version information from build-time ldflags
	cli.SetVersion(version, commit, buildDate)

	// Create root command and add subcommands
	rootCmd := cli.NewRootCommand()

	rootCmd.AddCommand(run.NewCommand())
	rootCmd.AddCommand(validate.NewCommand())
	rootCmd.AddCommand(stepscmd.NewCommand())
	rootCmd.AddCommand(versioncmd.NewCommand())

	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
