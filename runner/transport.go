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

package runner

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"
)

// Conn is the transport contract the runner drives: a byte stream with
// deadline support. Resolution, TLS, and the socket itself are external
// collaborators named only by this contract — the runner never imports a
// concrete transport beyond the default Dialer below.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Dialer resolves and connects to addr, optionally negotiating TLS, within
// the lifetime of ctx.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Conn, error)
}

// netDialer is the default Dialer, backed by net.Dialer and crypto/tls.
type netDialer struct {
	tlsConfig *tls.Config
}

// NewDialer returns the default Dialer. tlsConfig is used verbatim for
// connections with Config.UseSSL set; a nil value uses the package default
// (system root CAs, SNI from Config.Addr.Host).
func NewDialer(tlsConfig *tls.Config) Dialer {
	return &netDialer{tlsConfig: tlsConfig}
}

func (d *netDialer) Dial(ctx context.Context, cfg Config) (Conn, error) {
	resolveCtx := ctx
	if cfg.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		resolveCtx, cancel = context.WithTimeout(ctx, cfg.ResolveTimeout+cfg.ConnectTimeout)
		defer cancel()
	}

	var dialer net.Dialer
	if cfg.ConnectTimeout > 0 {
		dialer.Timeout = cfg.ConnectTimeout
	}

	raw, err := dialer.DialContext(resolveCtx, "tcp", cfg.Addr.String())
	if err != nil {
		return nil, err
	}

	if !cfg.UseSSL {
		return raw, nil
	}

	tlsCfg := d.tlsConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: cfg.Addr.Host}
	} else if tlsCfg.ServerName == "" {
		clone := tlsCfg.Clone()
		clone.ServerName = cfg.Addr.Host
		tlsCfg = clone
	}

	tlsConn := tls.Client(raw, tlsCfg)
	if cfg.SSLHandshakeTimeout > 0 {
		if err := tlsConn.SetDeadline(time.Now().Add(cfg.SSLHandshakeTimeout)); err != nil {
			_ = raw.Close()
			return nil, err
		}
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	_ = tlsConn.SetDeadline(time.Time{})
	return tlsConn, nil
}
