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
	"github.com/packetd/respmux/request"
	"github.com/packetd/respmux/resp3"
)

// buildPingRequest composes the internal health-check PING. Passing an id
// argument, grounded on boost.redis's detail/ping_request_utils.hpp
// compose_ping_request, lets a deployment with several runners disambiguate
// their pings in a server-side MONITOR stream.
func buildPingRequest(cfg Config) *request.Request {
	req := request.New(request.Config{})
	if cfg.HealthCheckID != "" {
		_ = req.AddCommand("PING", cfg.HealthCheckID)
	} else {
		_ = req.AddCommand("PING")
	}
	return req
}

// pingAdapter marks the health check failed when the PING reply is a simple
// or blob error; any other reply (ordinarily "PONG", or the echoed
// health_check_id) counts as a pong.
//
// Grounded on boost.redis's detail/ping_request_utils.hpp
// check_ping_response.
type pingAdapter struct {
	failed bool
}

func (a *pingAdapter) OnNode(n resp3.Node) error {
	if n.Depth != 0 {
		return nil
	}
	if n.Type == resp3.TypeSimpleError || n.Type == resp3.TypeBlobError {
		a.failed = true
	}
	return nil
}
