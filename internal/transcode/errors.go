// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"errors"

	"github.com/ManuGH/streamcache/internal/keycodec"
)

// Error kinds. Match them with errors.Is.
var (
	ErrIO           = errors.New("io error")
	ErrDecode       = keycodec.ErrDecode
	ErrCodec        = errors.New("codec error")
	ErrProcessSpawn = errors.New("process spawn error")
	ErrProvider     = errors.New("provider error")

	ErrInvalidSource = errors.New("invalid source path")
)

// Error carries an error kind, the failing operation and its cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

// NewError wraps err with kind and op.
func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the kind name of err for metrics and API responses.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidSource):
		return "invalid_source"
	case errors.Is(err, ErrProcessSpawn):
		return "process_spawn"
	case errors.Is(err, ErrCodec):
		return "codec"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrProvider):
		return "provider"
	case errors.Is(err, ErrIO):
		return "io"
	default:
		return "internal"
	}
}
