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
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/packetd/respmux/resp3"
)

// renderTree flattens a materialized response into a single human-readable
// line, good enough for a CLI echo without pulling in a full pretty-printer.
func renderTree(n *resp3.TreeNode) string {
	if n == nil {
		return "(nil)"
	}
	var b strings.Builder
	writeTree(&b, n)
	return b.String()
}

func writeTree(b *strings.Builder, n *resp3.TreeNode) {
	if n.Type.IsAggregate() {
		open, close := "[", "]"
		if n.Type == resp3.TypeMap || n.Type == resp3.TypeAttribute {
			open, close = "{", "}"
		}
		b.WriteString(open)
		for i := range n.Children {
			if i > 0 {
				b.WriteString(", ")
			}
			writeTree(b, &n.Children[i])
		}
		b.WriteString(close)
		return
	}
	switch n.Type {
	case resp3.TypeNull:
		b.WriteString("nil")
	case resp3.TypeBoolean:
		b.WriteString(string(n.Value))
	default:
		b.WriteString(strconv.Quote(string(n.Value)))
	}
}

// helloInfo is the subset of a HELLO reply's map worth surfacing to an
// operator running the ping subcommand.
type helloInfo struct {
	Server  string `mapstructure:"server"`
	Version string `mapstructure:"version"`
	Proto   int64  `mapstructure:"proto"`
	ID      int64  `mapstructure:"id"`
	Mode    string `mapstructure:"mode"`
	Role    string `mapstructure:"role"`
}

// decodeHello turns a HELLO map reply into a typed struct via mapstructure,
// the same tag-decode approach buildConfig uses for file-backed config.
func decodeHello(n *resp3.TreeNode) (helloInfo, error) {
	var info helloInfo
	if n == nil || n.Type != resp3.TypeMap {
		return info, fmt.Errorf("render: HELLO reply was not a map")
	}
	raw := make(map[string]any, len(n.Children)/2)
	for i := 0; i+1 < len(n.Children); i += 2 {
		raw[string(n.Children[i].Value)] = string(n.Children[i+1].Value)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &info,
	})
	if err != nil {
		return info, err
	}
	if err := dec.Decode(raw); err != nil {
		return info, err
	}
	return info, nil
}
