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

	"github.com/elastic/go-ucfg"
	"github.com/elastic/go-ucfg/yaml"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/packetd/respmux/runner"
)

// fileConfig is the subset of runner.Config a YAML file may override,
// decoded with go-ucfg's own struct-tag convention.
type fileConfig struct {
	Host       string `config:"host"`
	Port       string `config:"port"`
	Username   string `config:"username"`
	Password   string `config:"password"`
	Database   int    `config:"database"`
	ClientName string `config:"clientName"`
	UseSSL     bool   `config:"ssl"`
}

// connFlags are the flags every subcommand that opens a connection shares.
type connFlags struct {
	configPath string
	host       string
	port       string
	username   string
	password   string
	database   int
	clientName string
	useSSL     bool
	timeout    string
}

func addConnFlags(cmd *cobra.Command, f *connFlags) {
	cmd.Flags().StringVar(&f.configPath, "config", "", "YAML file overriding the flags below")
	cmd.Flags().StringVar(&f.host, "host", "127.0.0.1", "Server host")
	cmd.Flags().StringVar(&f.port, "port", "6379", "Server port")
	cmd.Flags().StringVar(&f.username, "username", "", "AUTH username")
	cmd.Flags().StringVar(&f.password, "password", "", "AUTH password")
	cmd.Flags().IntVar(&f.database, "database", 0, "Database index selected via SELECT")
	cmd.Flags().StringVar(&f.clientName, "client-name", "", "Name announced via CLIENT SETNAME")
	cmd.Flags().BoolVar(&f.useSSL, "ssl", false, "Negotiate TLS before the handshake")
	cmd.Flags().StringVar(&f.timeout, "ready-timeout", "5s", "How long to wait for the connection to become ready")
}

// buildConfig starts from runner.DefaultConfig, applies f's flags, then lets
// a --config file override any of them — the same flag-then-file precedence
// the teacher's agent/log commands use via its go-ucfg config layer.
func buildConfig(f *connFlags) (runner.Config, error) {
	cfg := runner.DefaultConfig()
	cfg.Addr = runner.Addr{Host: f.host, Port: f.port}
	cfg.Username = f.username
	cfg.Password = f.password
	cfg.DatabaseIndex = f.database
	cfg.ClientName = f.clientName
	cfg.UseSSL = f.useSSL

	if f.configPath == "" {
		return cfg, nil
	}

	conf, err := yaml.NewConfigWithFile(f.configPath, ucfg.PathSep("."))
	if err != nil {
		return cfg, fmt.Errorf("loading %s: %w", f.configPath, err)
	}
	var fc fileConfig
	if err := conf.Unpack(&fc); err != nil {
		return cfg, fmt.Errorf("decoding %s: %w", f.configPath, err)
	}
	if fc.Host != "" {
		cfg.Addr.Host = fc.Host
	}
	if fc.Port != "" {
		cfg.Addr.Port = fc.Port
	}
	if fc.Username != "" {
		cfg.Username = fc.Username
	}
	if fc.Password != "" {
		cfg.Password = fc.Password
	}
	if fc.Database != 0 {
		cfg.DatabaseIndex = fc.Database
	}
	if fc.ClientName != "" {
		cfg.ClientName = fc.ClientName
	}
	if fc.UseSSL {
		cfg.UseSSL = true
	}
	return cfg, nil
}

// connectAndWait starts r.AsyncRun in the background and blocks until it
// reports Ready or f.timeout elapses.
func connectAndWait(ctx context.Context, r *runner.Runner, f *connFlags) (func() error, error) {
	runDone := make(chan error, 1)
	go func() { runDone <- r.AsyncRun(ctx) }()

	timeout := cast.ToDuration(f.timeout)
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	select {
	case <-r.Ready():
		return func() error { return <-runDone }, nil
	case err := <-runDone:
		return func() error { return err }, fmt.Errorf("connection exited before becoming ready: %w", err)
	case <-time.After(timeout):
		return nil, fmt.Errorf("timed out waiting for the connection to become ready")
	}
}
