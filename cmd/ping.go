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
	"time"

	"github.com/spf13/cobra"

	"github.com/packetd/respmux/request"
	"github.com/packetd/respmux/resp3"
	"github.com/packetd/respmux/runner"
)

func newPingCmd() *cobra.Command {
	f := &connFlags{}
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Connect, complete the handshake, and PING the server once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPing(cmd.Context(), f)
		},
	}
	addConnFlags(cmd, f)
	return cmd
}

func runPing(ctx context.Context, f *connFlags) error {
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

	hello := resp3.NewTreeAdapter()
	req := request.New(request.Config{})
	if err := req.AddCommand("HELLO", "3"); err != nil {
		return err
	}
	execCtx, execCancel := context.WithTimeout(ctx, cfg.HelloTimeout)
	defer execCancel()
	if _, err := r.AsyncExec(execCtx, req, hello); err != nil {
		return fmt.Errorf("HELLO: %w", err)
	}
	if info, err := decodeHello(hello.Root()); err == nil {
		fmt.Printf("server=%s version=%s proto=%d\n", info.Server, info.Version, info.Proto)
	}

	start := time.Now()
	pingAdapter := resp3.NewTreeAdapter()
	pingReq := request.New(request.Config{})
	if err := pingReq.AddCommand("PING"); err != nil {
		return err
	}
	pingCtx, pingCancel := context.WithTimeout(ctx, cfg.HealthCheckTimeout)
	defer pingCancel()
	if _, err := r.AsyncExec(pingCtx, pingReq, pingAdapter); err != nil {
		return fmt.Errorf("PING: %w", err)
	}
	fmt.Printf("PING %s (%s)\n", renderTree(pingAdapter.Root()), time.Since(start))
	return nil
}
