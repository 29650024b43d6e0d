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

package resp3

import "github.com/pkg/errors"

// ErrorKind is the closed taxonomy of parser failures. All parser errors are
// terminal for the current stream: the caller must tear down the connection.
type ErrorKind uint8

const (
	ErrKindNone ErrorKind = iota
	ErrKindInvalidType
	ErrKindNotANumber
	ErrKindUnexpectedBoolValue
	ErrKindExceedsMaxNestedDepth
	ErrKindUnexpectedReadSize
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindInvalidType:
		return "invalid_type"
	case ErrKindNotANumber:
		return "not_a_number"
	case ErrKindUnexpectedBoolValue:
		return "unexpected_bool_value"
	case ErrKindExceedsMaxNestedDepth:
		return "exceeds_max_nested_depth"
	case ErrKindUnexpectedReadSize:
		return "unexpected_read_size"
	default:
		return "none"
	}
}

// Error wraps a parser ErrorKind with context. Use errors.As to recover the
// Kind from an error returned by Parser.Parse.
type Error struct {
	Kind ErrorKind
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

func newError(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, msg: errors.Errorf("resp3/parser: "+format, args...).Error()}
}

var (
	errInvalidType          = func(b byte) error { return newError(ErrKindInvalidType, "invalid type prefix %q", b) }
	errNotANumber           = func(b []byte) error { return newError(ErrKindNotANumber, "not a number: %q", b) }
	errUnexpectedBoolValue  = func(b []byte) error { return newError(ErrKindUnexpectedBoolValue, "unexpected bool value: %q", b) }
	errExceedsMaxNestedDepth = func(depth, max int) error {
		return newError(ErrKindExceedsMaxNestedDepth, "depth %d exceeds max nested depth %d", depth, max)
	}
	errUnexpectedReadSize = func(n int) error {
		return newError(ErrKindUnexpectedReadSize, "unexpected read size %d", n)
	}
)
