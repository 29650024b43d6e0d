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

// Package metrics exposes a Runner's mux.Usage counters as prometheus
// collectors, following the same promauto registration style as
// internal/rescue's panic counter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/packetd/respmux/common"
	"github.com/packetd/respmux/mux"
)

// Usage mirrors mux.Usage as a set of gauges, refreshed by Observe. Gauges
// rather than counters: a reconnect resets the underlying Multiplexer's
// counters to zero, which a monotonic counter cannot represent without a
// spurious rate-reset every reconnect.
type Usage struct {
	commandsSent          prometheus.Gauge
	bytesSent             prometheus.Gauge
	responsesReceived     prometheus.Gauge
	pushesReceived        prometheus.Gauge
	responseBytesReceived prometheus.Gauge
	pushBytesReceived     prometheus.Gauge
}

// NewUsage registers a Usage collector set under common.App's namespace.
// Callers name the connection (e.g. its configured address) so multiple
// Runners in one process don't collide on label-less series.
func NewUsage(connection string) *Usage {
	labels := prometheus.Labels{"connection": connection}
	return &Usage{
		commandsSent: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   common.App,
			Subsystem:   "connection",
			Name:        "commands_sent",
			Help:        "commands written to the wire",
			ConstLabels: labels,
		}),
		bytesSent: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   common.App,
			Subsystem:   "connection",
			Name:        "bytes_sent",
			Help:        "bytes written to the wire",
			ConstLabels: labels,
		}),
		responsesReceived: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   common.App,
			Subsystem:   "connection",
			Name:        "responses_received",
			Help:        "ordinary top-level responses received",
			ConstLabels: labels,
		}),
		pushesReceived: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   common.App,
			Subsystem:   "connection",
			Name:        "pushes_received",
			Help:        "out-of-band pushes received",
			ConstLabels: labels,
		}),
		responseBytesReceived: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   common.App,
			Subsystem:   "connection",
			Name:        "response_bytes_received",
			Help:        "ordinary response bytes received",
			ConstLabels: labels,
		}),
		pushBytesReceived: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   common.App,
			Subsystem:   "connection",
			Name:        "push_bytes_received",
			Help:        "push bytes received",
			ConstLabels: labels,
		}),
	}
}

// Observe refreshes every gauge from a Usage snapshot.
func (u *Usage) Observe(snap mux.Usage) {
	u.commandsSent.Set(float64(snap.CommandsSent))
	u.bytesSent.Set(float64(snap.BytesSent))
	u.responsesReceived.Set(float64(snap.ResponsesReceived))
	u.pushesReceived.Set(float64(snap.PushesReceived))
	u.responseBytesReceived.Set(float64(snap.ResponseBytesReceived))
	u.pushBytesReceived.Set(float64(snap.PushBytesReceived))
}
