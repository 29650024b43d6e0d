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
	"strconv"

	"github.com/packetd/respmux/request"
	"github.com/packetd/respmux/resp3"
)

// buildHandshakeRequest composes HELLO 3 [AUTH user pass], followed
// optionally by CLIENT SETNAME and SELECT as separate pipelined commands —
// grounded on boost.redis's detail/hello_utils.hpp setup_hello_request,
// generalized to also cover the client-name and database-select steps §4.6
// calls out as part of the same handshake round trip.
func buildHandshakeRequest(cfg Config) *request.Request {
	req := request.New(request.Config{})

	hello := []string{"HELLO", "3"}
	if cfg.Username != "" || cfg.Password != "" {
		hello = append(hello, "AUTH", cfg.Username, cfg.Password)
	}
	_ = req.AddCommand(hello...)

	if cfg.ClientName != "" {
		_ = req.AddCommand("CLIENT", "SETNAME", cfg.ClientName)
	}
	if cfg.DatabaseIndex != 0 {
		_ = req.AddCommand("SELECT", strconv.Itoa(cfg.DatabaseIndex))
	}
	return req
}

// handshakeAdapter walks the handshake response(s) for a RESP3-level error
// at depth 0 (HELLO, CLIENT SETNAME, and SELECT all reply with either a
// simple_string/map or a simple/blob error) and records the failure reason.
//
// Grounded on boost.redis's detail/hello_utils.hpp check_hello_response:
// the handshake only needs to know ok-vs-error, not the HELLO map's
// contents — callers that want the negotiated server version read it from
// the adapter fed to a subsequent command instead.
type handshakeAdapter struct {
	failReason string
}

func (a *handshakeAdapter) OnNode(n resp3.Node) error {
	if n.Depth != 0 {
		return nil
	}
	switch n.Type {
	case resp3.TypeSimpleError, resp3.TypeBlobError:
		if a.failReason == "" {
			a.failReason = string(n.Value)
		}
	}
	return nil
}

func (a *handshakeAdapter) ok() bool {
	return a.failReason == ""
}
