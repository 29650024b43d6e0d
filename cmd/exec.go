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

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/packetd/respmux/request"
	"github.com/packetd/respmux/resp3"
	"github.com/packetd/respmux/runner"
)

func newExecCmd() *cobra.Command {
	f := &connFlags{}
	cmd := &cobra.Command{
		Use:   "exec -- COMMAND [ARG...]",
		Short: "Connect and run a single arbitrary command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd.Context(), f, args)
		},
	}
	addConnFlags(cmd, f)
	return cmd
}

func runExec(ctx context.Context, f *connFlags, args []string) error {
	cfg, err := buildConfig(f)
	if err != nil {
		return err
	}

	r := runner.New(cfg, runner.NewDialer(nil))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wait, err := connectAndWait(runCtx, r, f)
	if err != nil {
		return err
	}
	defer func() {
		_ = r.CancelOperation(runner.OpAll)
		_ = wait()
	}()

	req := request.New(request.Config{})
	if err := req.AddCommand(args...); err != nil {
		return err
	}

	adapter := resp3.NewTreeAdapter()
	if _, err := r.AsyncExec(ctx, req, adapter); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	fmt.Println(renderTree(adapter.Root()))
	return nil
}
