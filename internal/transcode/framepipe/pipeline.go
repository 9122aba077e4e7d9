// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package framepipe transcodes in-process: demux, decode and re-encode the
// video stream, copy audio and subtitles, and remux into one output.
package framepipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	xglog "github.com/ManuGH/streamcache/internal/log"
	"github.com/ManuGH/streamcache/internal/metrics"
	"github.com/ManuGH/streamcache/internal/transcode"
	"github.com/rs/zerolog"
)

// State is a pipeline stage.
type State int

const (
	StateIdle State = iota
	StateStreamsMapped
	StateHeaderWritten
	StateStreaming
	StateFlushing
	StateTrailerWritten
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreamsMapped:
		return "streams_mapped"
	case StateHeaderWritten:
		return "header_written"
	case StateStreaming:
		return "streaming"
	case StateFlushing:
		return "flushing"
	case StateTrailerWritten:
		return "trailer_written"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Mode is how an input stream is handled.
type Mode int

const (
	ModeDrop Mode = iota
	ModeCopy
	ModeTranscode
)

func (m Mode) String() string {
	switch m {
	case ModeCopy:
		return "copy"
	case ModeTranscode:
		return "transcode"
	default:
		return "drop"
	}
}

const (
	progressFrames   = 100
	progressInterval = time.Second
)

// Config configures one pipeline run.
type Config struct {
	VideoEncoder  string
	Options       map[string]string
	OutputFormat  string
	MuxerOptions  map[string]string
	ProgressEvery int           // frames between progress logs, default 100
	ProgressWait  time.Duration // minimum time between progress logs, default 1s
}

// streamTranscoder owns the codec state of one transcoded stream.
type streamTranscoder struct {
	dec Decoder
	enc Encoder

	frames         int64
	framesSinceLog int64
	started        time.Time
	lastLog        time.Time
	lastPTS        int64
}

type mapping struct {
	mode Mode
	in   InputStream
	out  OutputStream
	tc   *streamTranscoder
}

// Pipeline runs the demux/decode/encode/remux state machine once.
type Pipeline struct {
	backend Backend
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	state State

	demux    Demuxer
	mux      Muxer
	mappings map[int]*mapping
	duration float64
}

// NewPipeline returns an idle pipeline.
func NewPipeline(backend Backend, cfg Config, logger zerolog.Logger) *Pipeline {
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "hls"
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = progressFrames
	}
	if cfg.ProgressWait <= 0 {
		cfg.ProgressWait = progressInterval
	}
	return &Pipeline{
		backend:  backend,
		cfg:      cfg,
		log:      logger.With().Str(xglog.FieldComponent, "framepipe").Logger(),
		now:      time.Now,
		mappings: make(map[int]*mapping),
	}
}

// State returns the current stage.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// DurationSeconds is the input container duration once streams are mapped.
func (p *Pipeline) DurationSeconds() float64 {
	return p.duration
}

// Mapping reports how input stream idx was handled.
func (p *Pipeline) Mapping(idx int) (Mode, bool) {
	m, ok := p.mappings[idx]
	if !ok {
		return ModeDrop, false
	}
	return m.mode, true
}

func (p *Pipeline) transition(to State) {
	p.mu.Lock()
	from := p.state
	p.state = to
	p.mu.Unlock()
	p.log.Debug().Str("from", from.String()).Str(xglog.FieldState, to.String()).Msg("pipeline state")
}

// Run transcodes input into output. Any failure leaves the pipeline in
// StateError; partial output is left for the caller to clean up.
func (p *Pipeline) Run(ctx context.Context, input, output string) (err error) {
	if s := p.State(); s != StateIdle {
		return fmt.Errorf("framepipe: run in state %s", s)
	}
	defer p.close()
	defer func() {
		if err != nil {
			p.transition(StateError)
		}
	}()

	if err := p.mapStreams(ctx, input, output); err != nil {
		return err
	}
	p.transition(StateStreamsMapped)

	if err := p.writeHeader(); err != nil {
		return err
	}
	p.transition(StateHeaderWritten)

	p.transition(StateStreaming)
	if err := p.stream(ctx); err != nil {
		return err
	}

	p.transition(StateFlushing)
	if err := p.flush(); err != nil {
		return err
	}

	if err := p.mux.WriteTrailer(); err != nil {
		return transcode.NewError(transcode.ErrIO, "write trailer", err)
	}
	p.transition(StateTrailerWritten)
	p.transition(StateDone)
	return nil
}

func (p *Pipeline) mapStreams(ctx context.Context, input, output string) error {
	demux, err := p.backend.OpenInput(ctx, input)
	if err != nil {
		return transcode.NewError(transcode.ErrIO, "open input", err)
	}
	p.demux = demux
	p.duration = demux.DurationSeconds()

	mux, err := p.backend.OpenOutput(output, p.cfg.OutputFormat, p.cfg.MuxerOptions)
	if err != nil {
		return transcode.NewError(transcode.ErrIO, "open output", err)
	}
	p.mux = mux

	for _, in := range demux.Streams() {
		info := in.Info()
		m := &mapping{in: in}
		p.mappings[info.Index] = m
		switch info.Type {
		case MediaVideo:
			tc, err := p.newTranscoder(in)
			if err != nil {
				return err
			}
			m.mode, m.tc = ModeTranscode, tc
			if m.out, err = mux.AddEncodedStream(tc.enc); err != nil {
				return transcode.NewError(transcode.ErrIO, "add encoded stream", err)
			}
		case MediaAudio, MediaSubtitle:
			m.mode = ModeCopy
			if m.out, err = mux.AddCopyStream(in); err != nil {
				return transcode.NewError(transcode.ErrIO, "add copy stream", err)
			}
		default:
			m.mode = ModeDrop
		}

		ev := p.log.Debug().
			Int(xglog.FieldStreamIndex, info.Index).
			Str("media", info.Type.String()).
			Str(xglog.FieldCodec, info.Codec).
			Str("mode", m.mode.String())
		if m.out != nil {
			ev = ev.Int("out_index", m.out.Index())
		}
		ev.Msg("stream mapped")
	}
	return nil
}

func (p *Pipeline) newTranscoder(in InputStream) (*streamTranscoder, error) {
	info := in.Info()
	dec, err := p.backend.NewDecoder(in)
	if err != nil {
		return nil, transcode.NewError(transcode.ErrCodec, fmt.Sprintf("open decoder for stream %d", info.Index), err)
	}

	tb := info.FrameRate.Invert()
	if !info.FrameRate.Valid() {
		tb = info.TimeBase
	}
	enc, err := p.backend.NewEncoder(EncoderConfig{
		Codec:             p.cfg.VideoEncoder,
		Width:             info.Width,
		Height:            info.Height,
		SampleAspectRatio: info.SampleAspectRatio,
		PixelFormat:       info.PixelFormat,
		FrameRate:         info.FrameRate,
		TimeBase:          tb,
		GlobalHeader:      p.mux.NeedsGlobalHeader(),
		Options:           p.cfg.Options,
	})
	if err != nil {
		_ = dec.Close()
		return nil, transcode.NewError(transcode.ErrCodec, fmt.Sprintf("open encoder %s", p.cfg.VideoEncoder), err)
	}

	now := p.now()
	return &streamTranscoder{dec: dec, enc: enc, started: now, lastLog: now, lastPTS: -1}, nil
}

func (p *Pipeline) writeHeader() error {
	p.mux.SetMetadata(p.demux.Metadata())
	if err := p.mux.WriteHeader(); err != nil {
		return transcode.NewError(transcode.ErrIO, "write header", err)
	}
	for idx, m := range p.mappings {
		if m.out != nil {
			p.log.Debug().
				Int(xglog.FieldStreamIndex, idx).
				Str("out_time_base", m.out.TimeBase().String()).
				Msg("output stream time base")
		}
	}
	return nil
}

func (p *Pipeline) stream(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pkt, err := p.demux.ReadPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return transcode.NewError(transcode.ErrIO, "read packet", err)
		}
		err = p.handlePacket(pkt)
		pkt.Free()
		if err != nil {
			return err
		}
	}
}

func (p *Pipeline) handlePacket(pkt *Packet) error {
	m, ok := p.mappings[pkt.StreamIndex]
	if !ok || m.mode == ModeDrop {
		metrics.FramePipelinePackets.WithLabelValues("drop").Inc()
		return nil
	}

	inTB := m.in.Info().TimeBase
	switch m.mode {
	case ModeCopy:
		metrics.FramePipelinePackets.WithLabelValues("copy").Inc()
		outTB := m.out.TimeBase()
		pkt.PTS = Rescale(pkt.PTS, inTB, outTB)
		pkt.DTS = Rescale(pkt.DTS, inTB, outTB)
		pkt.Duration = Rescale(pkt.Duration, inTB, outTB)
		pkt.Pos = -1
		pkt.StreamIndex = m.out.Index()
		if err := p.mux.WriteInterleaved(pkt); err != nil {
			return transcode.NewError(transcode.ErrIO, "write copied packet", err)
		}
		return nil

	default:
		metrics.FramePipelinePackets.WithLabelValues("transcode").Inc()
		decTB := m.tc.dec.TimeBase()
		pkt.PTS = Rescale(pkt.PTS, inTB, decTB)
		pkt.DTS = Rescale(pkt.DTS, inTB, decTB)
		pkt.Duration = Rescale(pkt.Duration, inTB, decTB)
		if err := m.tc.dec.SendPacket(pkt); err != nil {
			return transcode.NewError(transcode.ErrCodec, "send packet to decoder", err)
		}
		return p.drainFrames(m)
	}
}

// drainFrames moves every frame the decoder has ready through the encoder.
func (p *Pipeline) drainFrames(m *mapping) error {
	tc := m.tc
	for {
		frame, err := tc.dec.ReceiveFrame()
		if errors.Is(err, ErrAgain) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return transcode.NewError(transcode.ErrCodec, "receive frame", err)
		}

		tc.frames++
		tc.framesSinceLog++
		p.logProgress(m)

		frame.PictureType = 0
		frame.PTS = Rescale(frame.PTS, tc.dec.TimeBase(), tc.enc.TimeBase())
		err = tc.enc.SendFrame(frame)
		frame.Free()
		if err != nil {
			return transcode.NewError(transcode.ErrCodec, "send frame to encoder", err)
		}
		if err := p.drainPackets(m); err != nil {
			return err
		}
	}
}

// drainPackets writes every packet the encoder has ready.
func (p *Pipeline) drainPackets(m *mapping) error {
	tc := m.tc
	for {
		pkt, err := tc.enc.ReceivePacket()
		if errors.Is(err, ErrAgain) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return transcode.NewError(transcode.ErrCodec, "receive packet", err)
		}

		pkt.StreamIndex = m.out.Index()
		if pkt.PTS == NoPTS {
			pkt.PTS = tc.lastPTS + 1
		}
		tc.lastPTS = pkt.PTS

		encTB, outTB := tc.enc.TimeBase(), m.out.TimeBase()
		pkt.PTS = Rescale(pkt.PTS, encTB, outTB)
		pkt.DTS = Rescale(pkt.DTS, encTB, outTB)
		pkt.Duration = Rescale(pkt.Duration, encTB, outTB)

		err = p.mux.WriteInterleaved(pkt)
		pkt.Free()
		if err != nil {
			return transcode.NewError(transcode.ErrIO, "write encoded packet", err)
		}
	}
}

func (p *Pipeline) logProgress(m *mapping) {
	tc := m.tc
	now := p.now()
	if tc.framesSinceLog < int64(p.cfg.ProgressEvery) || now.Sub(tc.lastLog) < p.cfg.ProgressWait {
		return
	}
	elapsed := now.Sub(tc.started).Seconds()
	fps := 0.0
	if elapsed > 0 {
		fps = float64(tc.frames) / elapsed
	}
	p.log.Info().
		Int(xglog.FieldStreamIndex, m.in.Info().Index).
		Int64("frames", tc.frames).
		Float64("fps", fps).
		Msg("transcode progress")
	tc.framesSinceLog = 0
	tc.lastLog = now
}

// flush drains decoders then encoders, in input stream order.
func (p *Pipeline) flush() error {
	idxs := make([]int, 0, len(p.mappings))
	for idx, m := range p.mappings {
		if m.mode == ModeTranscode {
			idxs = append(idxs, idx)
		}
	}
	sort.Ints(idxs)

	for _, idx := range idxs {
		m := p.mappings[idx]
		if err := m.tc.dec.SendPacket(nil); err != nil {
			return transcode.NewError(transcode.ErrCodec, "flush decoder", err)
		}
		if err := p.drainFrames(m); err != nil {
			return err
		}
		if err := m.tc.enc.SendFrame(nil); err != nil {
			return transcode.NewError(transcode.ErrCodec, "flush encoder", err)
		}
		if err := p.drainPackets(m); err != nil {
			return err
		}
		p.log.Debug().
			Int(xglog.FieldStreamIndex, idx).
			Int64("frames", m.tc.frames).
			Msg("stream flushed")
	}
	return nil
}

func (p *Pipeline) close() {
	for _, m := range p.mappings {
		if m.tc != nil {
			_ = m.tc.dec.Close()
			_ = m.tc.enc.Close()
		}
	}
	if p.mux != nil {
		_ = p.mux.Close()
	}
	if p.demux != nil {
		_ = p.demux.Close()
	}
}
