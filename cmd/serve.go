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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/packetd/respmux/common"
	"github.com/packetd/respmux/internal/metrics"
	"github.com/packetd/respmux/runner"
)

// terminate returns a channel delivering the process's first SIGINT or
// SIGTERM, for runServe's shutdown select.
func terminate() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch
}

func newServeCmd() *cobra.Command {
	f := &connFlags{}
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep one connection running with a /metrics and /healthz admin surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), f, addr)
		},
	}
	addConnFlags(cmd, f)
	cmd.Flags().StringVar(&addr, "listen", ":9121", "Admin HTTP listen address")
	return cmd
}

func runServe(ctx context.Context, f *connFlags, addr string) error {
	cfg, err := buildConfig(f)
	if err != nil {
		return err
	}

	r := runner.New(cfg, runner.NewDialer(nil))
	usage := metrics.NewUsage(cfg.Addr.String())

	runCtx, cancelRun := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- r.AsyncRun(runCtx) }()

	stopUsageLoop := make(chan struct{})
	go observeUsageLoop(r, usage, stopUsageLoop)

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/healthz", healthzHandler(r))

	srv := &http.Server{Addr: addr, Handler: router}
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.ListenAndServe() }()
	fmt.Printf("admin surface listening on %s\n", addr)

	select {
	case <-terminate():
	case err := <-runDone:
		close(stopUsageLoop)
		_ = srv.Close()
		return fmt.Errorf("connection exited: %w", err)
	case err := <-srvErr:
		cancelRun()
		close(stopUsageLoop)
		return fmt.Errorf("admin server exited: %w", err)
	}

	close(stopUsageLoop)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Shutdown has three independent failure sources (admin server, the
	// cancel(all) call, the connection's own exit) that can all fire at once;
	// collect every non-nil one instead of reporting only the last.
	var result *multierror.Error
	result = multierror.Append(result, srv.Shutdown(shutdownCtx))
	result = multierror.Append(result, r.CancelOperation(runner.OpAll))
	cancelRun()
	if err := <-runDone; err != nil && !errors.Is(err, runner.ErrRunCancelled) {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// observeUsageLoop periodically refreshes usage's gauges from r's live
// counters until stop is closed.
func observeUsageLoop(r *runner.Runner, usage *metrics.Usage, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			usage.Observe(r.Usage())
		case <-stop:
			return
		}
	}
}

func healthzHandler(r *runner.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		state := r.State()
		w.Header().Set("Content-Type", "application/json")
		if !state.IsUsable() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"state":       state.String(),
			"uptime_secs": time.Now().Unix() - common.Started(),
		})
	}
}
