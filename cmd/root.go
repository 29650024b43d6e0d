// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd holds the respmux command-line tool's subcommands: ping and
// exec drive a single connection through the runner for manual probing,
// serve keeps one running with an admin HTTP surface attached.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/packetd/respmux/common"
)

var rootCmd = &cobra.Command{
	Use:   common.App,
	Short: "A multiplexed RESP3 client for Redis-compatible servers",
	Version: func() string {
		info := common.GetBuildInfo()
		if info.Version == "" {
			info.Version = "dev"
		}
		if info.GitHash == "" {
			info.GitHash = "unknown"
		}
		return fmt.Sprintf("%s (%s, built %s)", info.Version, info.GitHash, info.Time)
	}(),
}

func init() {
	rootCmd.AddCommand(newPingCmd(), newExecCmd(), newServeCmd())
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
