// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/streamcache/internal/captions"
	"github.com/ManuGH/streamcache/internal/transcode"
)

// errBadRequest marks request decoding failures.
var errBadRequest = errors.New("bad request")

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, transcode.ErrInvalidSource):
		return http.StatusBadRequest
	case errors.Is(err, captions.ErrNotCached):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, transcode.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, transcode.ErrCodec):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage is the text shown to the caller. Provider messages are passed
// through verbatim.
func errorMessage(err error) string {
	var pe *captions.ProviderError
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	if errors.Is(err, context.Canceled) {
		return "job was canceled"
	}
	return err.Error()
}
