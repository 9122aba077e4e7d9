// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package captions turns the extracted audio rendition of a cached source
// into a WebVTT caption track using a remote speech-recognition provider.
package captions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xglog "github.com/ManuGH/streamcache/internal/log"
	"github.com/ManuGH/streamcache/internal/metrics"
	"github.com/ManuGH/streamcache/internal/platform/httpx"
	"github.com/ManuGH/streamcache/internal/transcode"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Provider codes meaning the job is accepted but not finished.
const (
	codeProcessing = 2000
	codeQueued     = 2001
)

const maxErrorBody = 4 << 10

// ClientConfig configures the provider client.
type ClientConfig struct {
	Endpoint     string // base URL, submit and query are appended
	AppID        string
	AccessToken  string
	MaxLines     int
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// Utterance is one recognized phrase with millisecond offsets.
type Utterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
}

// QueryResult is the state of a provider job.
type QueryResult struct {
	Done       bool
	Utterances []Utterance
}

// ProviderError is a failed provider call. Message is the provider's own
// text when it answered with a non-zero code.
type ProviderError struct {
	Op      string
	Status  int
	Code    int
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("captions %s: %v", e.Op, e.Err)
	case e.Code != 0:
		return fmt.Sprintf("captions %s: provider code %d: %s", e.Op, e.Code, e.Message)
	default:
		return fmt.Sprintf("captions %s: http status %d: %s", e.Op, e.Status, e.Message)
	}
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{transcode.ErrProvider}
	}
	return []error{transcode.ErrProvider, e.Err}
}

type submitResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

type queryResponse struct {
	Code       int         `json:"code"`
	Message    string      `json:"message"`
	Utterances []Utterance `json:"utterances"`
}

// Client talks to the captioning provider.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	log  zerolog.Logger
}

// NewClient returns a provider client. A nil HTTPClient selects a traced
// httpx client sized for audio uploads.
func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpx.NewClient(httpx.Config{Timeout: 5 * time.Minute, Traced: true})
	}
	return &Client{
		cfg:  cfg,
		http: hc,
		log:  logger.With().Str(xglog.FieldComponent, "captions.client").Logger(),
	}
}

// Submit uploads an AAC audio rendition and returns the provider job id.
func (c *Client) Submit(ctx context.Context, audio []byte) (string, error) {
	q := url.Values{}
	q.Set("appid", c.cfg.AppID)
	q.Set("max_lines", strconv.Itoa(c.cfg.MaxLines))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/submit?"+q.Encode(), bytes.NewReader(audio))
	if err != nil {
		return "", &ProviderError{Op: "submit", Err: err}
	}
	req.Header.Set("Content-Type", "audio/aac")

	var out submitResponse
	if err := c.do(req, "submit", &out); err != nil {
		return "", err
	}
	if out.Code != 0 {
		metrics.IncProviderCall("submit", "rejected")
		return "", &ProviderError{Op: "submit", Status: http.StatusOK, Code: out.Code, Message: out.Message}
	}
	if out.ID == "" {
		metrics.IncProviderCall("submit", "rejected")
		return "", &ProviderError{Op: "submit", Status: http.StatusOK, Message: "response carried no job id"}
	}
	metrics.IncProviderCall("submit", "ok")
	c.log.Debug().Str(xglog.FieldJobID, out.ID).Int("bytes", len(audio)).Msg("audio submitted")
	return out.ID, nil
}

// Query fetches the current state of job id.
func (c *Client) Query(ctx context.Context, id string) (QueryResult, error) {
	q := url.Values{}
	q.Set("appid", c.cfg.AppID)
	q.Set("id", id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"/query?"+q.Encode(), nil)
	if err != nil {
		return QueryResult{}, &ProviderError{Op: "query", Err: err}
	}

	var out queryResponse
	if err := c.do(req, "query", &out); err != nil {
		return QueryResult{}, err
	}
	switch out.Code {
	case 0:
		metrics.IncProviderCall("query", "ok")
		return QueryResult{Done: true, Utterances: out.Utterances}, nil
	case codeProcessing, codeQueued:
		metrics.IncProviderCall("query", "pending")
		return QueryResult{}, nil
	default:
		metrics.IncProviderCall("query", "rejected")
		return QueryResult{}, &ProviderError{Op: "query", Status: http.StatusOK, Code: out.Code, Message: out.Message}
	}
}

// Await polls job id every PollInterval until it is done or ctx ends.
func (c *Client) Await(ctx context.Context, id string) ([]Utterance, error) {
	limiter := rate.NewLimiter(rate.Every(c.cfg.PollInterval), 1)
	for polls := 1; ; polls++ {
		if err := limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			// Wait refuses to sleep past the deadline.
			return nil, context.DeadlineExceeded
		}
		res, err := c.Query(ctx, id)
		if err != nil {
			return nil, err
		}
		if res.Done {
			c.log.Debug().Str(xglog.FieldJobID, id).Int("polls", polls).Int("utterances", len(res.Utterances)).Msg("captions ready")
			return res.Utterances, nil
		}
	}
}

func (c *Client) do(req *http.Request, op string, out any) error {
	req.Header.Set("Authorization", "Bearer; "+c.cfg.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncProviderCall(op, "transport_error")
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return &ProviderError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.IncProviderCall(op, "http_error")
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ProviderError{Op: op, Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.IncProviderCall(op, "decode_error")
		return &ProviderError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
