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

// Package runner owns the connection lifecycle: resolve, connect, optional
// TLS handshake, HELLO/AUTH, the ready loop's writer/reader/health-check
// activities, and reconnection with backoff. It is the only package that
// touches a transport.
package runner

import (
	"time"

	"github.com/packetd/respmux/logger"
	"github.com/packetd/respmux/resp3"
)

// Addr is the network location of a Redis-compatible server.
//
// Grounded on boost.redis's address.hpp: a bare host/port pair, resolution
// itself is the Dialer's concern, not the config's.
type Addr struct {
	Host string
	Port string
}

func (a Addr) String() string {
	if a.Host == "" && a.Port == "" {
		return "127.0.0.1:6379"
	}
	return a.Host + ":" + a.Port
}

// Config carries every knob enumerated in the connection's external
// interface: endpoint, auth, TLS, health check, reconnect, parser bound,
// timeouts, and log level.
type Config struct {
	Addr Addr

	Username      string
	Password      string
	DatabaseIndex int
	ClientName    string

	UseSSL bool

	HealthCheckID       string
	HealthCheckInterval time.Duration // 0 disables health checks

	ReconnectWaitInterval time.Duration // 0 disables reconnect
	ReconnectJitter       time.Duration

	MaxReadSize    int
	MaxNestedDepth int

	ResolveTimeout      time.Duration
	ConnectTimeout      time.Duration
	SSLHandshakeTimeout time.Duration
	HelloTimeout        time.Duration
	HealthCheckTimeout  time.Duration
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	IdleTimeout         time.Duration

	LogLevel logger.Level
}

// DefaultConfig returns a Config with the same conservative defaults a
// freshly constructed boost.redis::config carries: loopback address, RESP3
// parser bound of 5, a 3s health check on no particular id, and a 1s
// reconnect wait.
func DefaultConfig() Config {
	return Config{
		Addr:                  Addr{Host: "127.0.0.1", Port: "6379"},
		DatabaseIndex:         0,
		MaxReadSize:           1 << 20,
		MaxNestedDepth:        resp3.DefaultMaxNestedDepth,
		HealthCheckInterval:   3 * time.Second,
		HealthCheckTimeout:    3 * time.Second,
		ReconnectWaitInterval: time.Second,
		ReconnectJitter:       100 * time.Millisecond,
		ResolveTimeout:        5 * time.Second,
		ConnectTimeout:        5 * time.Second,
		SSLHandshakeTimeout:   5 * time.Second,
		HelloTimeout:          5 * time.Second,
		ReadTimeout:           0,
		WriteTimeout:          5 * time.Second,
		IdleTimeout:           0,
		LogLevel:              logger.LevelInfo,
	}
}
