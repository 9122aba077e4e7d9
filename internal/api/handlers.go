// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xglog "github.com/ManuGH/streamcache/internal/log"
	"github.com/ManuGH/streamcache/internal/transcode"
)

const maxBodyBytes = 64 << 10

type sourceRequest struct {
	InputPath string `json:"input_path"`
}

// TranscodeResponse answers POST /api/v1/hls.
type TranscodeResponse struct {
	Success     bool    `json:"success"`
	Message     string  `json:"message"`
	PlaylistURL string  `json:"playlist_url"`
	Duration    float64 `json:"duration"`
	Cached      bool    `json:"cached"`
}

// SubtitleResponse answers POST /api/v1/subtitle.
type SubtitleResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	SubtitleURL string `json:"subtitle_url"`
}

// CacheEntry is one row of GET /api/v1/cache.
type CacheEntry struct {
	SourcePath    string  `json:"source_path"`
	ArtifactDirID string  `json:"artifact_dir_id"`
	Duration      float64 `json:"duration"`
	PlaylistURL   string  `json:"playlist_url"`
}

type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func decodeSource(r *http.Request) (string, error) {
	var req sourceRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		return "", fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	if strings.TrimSpace(req.InputPath) == "" {
		return "", fmt.Errorf("%w: input_path is required", errBadRequest)
	}
	return req.InputPath, nil
}

// handleTranscode implements POST /api/v1/hls. The request blocks until the
// playlist exists; a client that goes away stops waiting without stopping
// the job.
func (s *Server) handleTranscode(w http.ResponseWriter, r *http.Request) {
	logger := xglog.WithContext(r.Context(), s.log)

	src, err := decodeSource(r)
	if err != nil {
		writeJSON(w, statusFor(err), TranscodeResponse{Message: errorMessage(err)})
		return
	}

	res, err := s.deps.Transcodes.Ensure(r.Context(), src)
	if err != nil {
		if r.Context().Err() != nil {
			logger.Debug().Str(xglog.FieldSourcePath, src).Msg("client left before the playlist was ready")
			return
		}
		logger.Warn().Err(err).
			Str(xglog.FieldSourcePath, src).
			Str("kind", transcode.KindOf(err)).
			Msg("transcode request failed")
		writeJSON(w, statusFor(err), TranscodeResponse{Message: errorMessage(err)})
		return
	}

	writeJSON(w, http.StatusOK, TranscodeResponse{
		Success:     true,
		Message:     "HLS stream generated successfully",
		PlaylistURL: res.PlaylistURL,
		Duration:    res.DurationSeconds,
		Cached:      res.Cached,
	})
}

// handleCancel implements DELETE /api/v1/hls?input_path=...
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	src := r.URL.Query().Get("input_path")
	if strings.TrimSpace(src) == "" {
		writeJSON(w, http.StatusBadRequest, statusResponse{Message: "input_path is required"})
		return
	}
	if !s.deps.Transcodes.Cancel(src) {
		writeJSON(w, http.StatusNotFound, statusResponse{Message: "no transcode in progress for this source"})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: "transcode canceled"})
}

// handleSubtitle implements POST /api/v1/subtitle.
func (s *Server) handleSubtitle(w http.ResponseWriter, r *http.Request) {
	logger := xglog.WithContext(r.Context(), s.log)

	if s.deps.Captions == nil {
		writeJSON(w, http.StatusServiceUnavailable, SubtitleResponse{Message: "captioning provider is not configured"})
		return
	}

	src, err := decodeSource(r)
	if err != nil {
		writeJSON(w, statusFor(err), SubtitleResponse{Message: errorMessage(err)})
		return
	}

	res, err := s.deps.Captions.Generate(r.Context(), src)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		logger.Warn().Err(err).
			Str(xglog.FieldSourcePath, src).
			Str("kind", transcode.KindOf(err)).
			Msg("subtitle request failed")
		writeJSON(w, statusFor(err), SubtitleResponse{Message: errorMessage(err)})
		return
	}

	writeJSON(w, http.StatusOK, SubtitleResponse{
		Success:     true,
		Message:     "Subtitle generated successfully.",
		SubtitleURL: res.SubtitleURL,
	})
}

// handleCache implements GET /api/v1/cache.
func (s *Server) handleCache(w http.ResponseWriter, _ *http.Request) {
	entries := s.deps.Cache.Entries()
	out := make([]CacheEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, CacheEntry{
			SourcePath:    e.SourceID,
			ArtifactDirID: e.ArtifactDirID,
			Duration:      e.DurationSeconds,
			PlaylistURL:   s.deps.Transcodes.PlaylistURL(e.ArtifactDirID),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"entries": out,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.cfg.Version,
		"strategy": s.deps.Transcodes.Strategy(),
		"entries":  s.deps.Cache.Len(),
		"captions": s.deps.Captions != nil,
		"uptime_s": int64(time.Since(s.startTime).Seconds()),
	})
}
