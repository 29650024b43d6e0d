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

package mux

// Usage holds the connection's read-only wire counters. The runner exposes
// a snapshot of this to callers and to internal/metrics.
type Usage struct {
	CommandsSent         uint64
	BytesSent            uint64
	ResponsesReceived    uint64
	PushesReceived       uint64
	ResponseBytesReceived uint64
	PushBytesReceived     uint64
}
