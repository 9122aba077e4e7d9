// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package artifacts serves the files of the artifact root to the player.
package artifacts

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	xglog "github.com/ManuGH/streamcache/internal/log"
	"github.com/ManuGH/streamcache/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
)

// Content types of the files a rendition is made of.
var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/MP2T",
	".vtt":  "text/vtt; charset=utf-8",
	".aac":  "audio/aac",
}

// ContentType returns the content type served for name, or "" when it is
// left to sniffing.
func ContentType(name string) string {
	return contentTypes[strings.ToLower(path.Ext(name))]
}

type server struct {
	root string
	log  zerolog.Logger
}

// Handler serves GET and HEAD requests for urlPrefix/<dir>/<file> from root.
// Paths escaping root, directories and symlinks leaving root are refused.
func Handler(root, urlPrefix string, logger zerolog.Logger) http.Handler {
	s := &server{
		root: root,
		log:  logger.With().Str(xglog.FieldComponent, "artifacts").Logger(),
	}
	prefix := strings.TrimRight(urlPrefix, "/") + "/"
	return http.StripPrefix(prefix, s)
}

func (s *server) deny(w http.ResponseWriter, r *http.Request, status int, reason string) {
	s.log.Warn().
		Str(xglog.FieldEvent, "artifact.denied").
		Str(xglog.FieldPath, r.URL.Path).
		Str("reason", reason).
		Msg("artifact request refused")
	metrics.IncArtifactRequest("denied")
	http.Error(w, http.StatusText(status), status)
}

func (s *server) fail(w http.ResponseWriter, err error, msg string) {
	s.log.Error().Err(err).Str(xglog.FieldEvent, "artifact.error").Msg(msg)
	metrics.IncArtifactRequest("error")
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		s.deny(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}

	rel := r.URL.Path
	if isPathTraversal(rel) || isPathTraversal(r.URL.RawPath) {
		s.deny(w, r, http.StatusForbidden, "path_escape")
		return
	}
	if rel == "" || strings.HasSuffix(rel, "/") {
		s.deny(w, r, http.StatusForbidden, "directory_listing")
		return
	}

	absRoot, err := filepath.Abs(s.root)
	if err != nil {
		s.fail(w, err, "could not resolve artifact root")
		return
	}
	fullPath := filepath.Join(absRoot, filepath.FromSlash(rel))

	realPath, err := filepath.EvalSymlinks(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			metrics.IncArtifactRequest("not_found")
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		s.fail(w, err, "could not evaluate symlinks")
		return
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		s.fail(w, err, "could not evaluate symlinks on artifact root")
		return
	}
	if within, err := filepath.Rel(realRoot, realPath); err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) || filepath.IsAbs(within) {
		s.deny(w, r, http.StatusForbidden, "symlink_escape")
		return
	}

	// #nosec G304 -- realPath is confined to the artifact root above
	f, err := os.Open(realPath)
	if err != nil {
		if os.IsNotExist(err) {
			metrics.IncArtifactRequest("not_found")
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		s.fail(w, err, "could not open artifact")
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		s.fail(w, err, "could not stat artifact")
		return
	}
	if info.IsDir() {
		s.deny(w, r, http.StatusForbidden, "directory_listing")
		return
	}

	if ct := ContentType(info.Name()); ct != "" {
		w.Header().Set("Content-Type", ct)
	}

	// The playlist grows while the encoder is still muxing.
	if strings.EqualFold(path.Ext(info.Name()), ".m3u8") {
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		etag := fmt.Sprintf(`W/"%x-%x"`, info.ModTime().UnixNano(), info.Size())
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		if r.Header.Get("If-None-Match") == etag {
			metrics.IncArtifactRequest("not_modified")
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	metrics.IncArtifactRequest("served")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// isPathTraversal decodes p up to three times, normalises it and looks for
// parent references, NUL bytes and overlong encodings of '.'.
func isPathTraversal(p string) bool {
	decoded := p
	for i := 0; i < 3; i++ {
		prev := decoded
		if d, err := url.PathUnescape(decoded); err == nil {
			decoded = d
		} else if d2, err2 := url.QueryUnescape(decoded); err2 == nil {
			decoded = d2
		}
		if decoded == prev {
			break
		}
	}

	lower := strings.ToLower(decoded)
	for _, pat := range []string{"..", "%00", "%c0%ae", "%e0%80%ae"} {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	if strings.IndexByte(decoded, 0x00) >= 0 {
		return true
	}
	if strings.Contains(norm.NFC.String(decoded), "..") {
		return true
	}
	return filepath.IsAbs(decoded) || strings.HasPrefix(decoded, `\`)
}
