// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package captions

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeProvider mimics the captioning provider's submit and query endpoints.
type fakeProvider struct {
	t *testing.T

	mu          sync.Mutex
	submits     int32
	queries     atomic.Int32
	lastAudio   []byte
	lastHeaders http.Header
	lastQuery   map[string]string

	submitStatus int
	submitCode   int
	submitMsg    string
	pendingPolls int32 // queries answered with 2000 before the result
	queryCode    int
	queryMsg     string
	utterances   []Utterance
	submitGate   chan struct{}
}

func (p *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /vc/submit", func(w http.ResponseWriter, r *http.Request) {
		if p.submitGate != nil {
			<-p.submitGate
		}
		body, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.submits++
		p.lastAudio = body
		p.lastHeaders = r.Header.Clone()
		p.lastQuery = map[string]string{"appid": r.URL.Query().Get("appid"), "max_lines": r.URL.Query().Get("max_lines")}
		p.mu.Unlock()

		if p.submitStatus != 0 {
			http.Error(w, "upstream unavailable", p.submitStatus)
			return
		}
		writeJSON(w, map[string]any{"code": p.submitCode, "message": p.submitMsg, "id": "job-42"})
	})
	mux.HandleFunc("GET /vc/query", func(w http.ResponseWriter, r *http.Request) {
		n := p.queries.Add(1)
		if got := r.URL.Query().Get("id"); got != "job-42" {
			p.t.Errorf("query id = %q", got)
		}
		if n <= p.pendingPolls {
			writeJSON(w, map[string]any{"code": 2000, "message": "processing"})
			return
		}
		if p.queryCode != 0 {
			writeJSON(w, map[string]any{"code": p.queryCode, "message": p.queryMsg})
			return
		}
		writeJSON(w, map[string]any{"code": 0, "message": "success", "utterances": p.utterances, "extra": true})
	})
	return mux
}

func (p *fakeProvider) submitCount() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newProvider(t *testing.T) (*fakeProvider, *Client) {
	t.Helper()
	p := &fakeProvider{t: t, utterances: []Utterance{
		{Text: "hi", StartTime: 0, EndTime: 1500},
		{Text: "there", StartTime: 1500, EndTime: 3000},
	}}
	srv := httptest.NewServer(p.handler())
	t.Cleanup(srv.Close)

	c := NewClient(ClientConfig{
		Endpoint:     srv.URL + "/vc/",
		AppID:        "app-1",
		AccessToken:  "secret",
		PollInterval: 5 * time.Millisecond,
		HTTPClient:   srv.Client(),
	}, zerolog.Nop())
	return p, c
}
