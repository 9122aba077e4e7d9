// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !astiav

package framepipe

import "github.com/ManuGH/streamcache/internal/transcode"

// DefaultBackend returns the libav backend when compiled in.
func DefaultBackend() (Backend, error) {
	return nil, transcode.NewError(transcode.ErrCodec, "open frame backend", ErrBackendUnavailable)
}
