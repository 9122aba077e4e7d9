// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package framepipe

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
)

// allocs counts backend objects handed out and released.
type allocs struct {
	mu             sync.Mutex
	alloc, release int
}

func (a *allocs) track() func() {
	a.mu.Lock()
	a.alloc++
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		a.release++
		a.mu.Unlock()
	}
}

func (a *allocs) outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alloc - a.release
}

type fakeStream struct{ info StreamInfo }

func (s fakeStream) Info() StreamInfo { return s.info }

type fakeOutStream struct {
	idx int
	tb  Rational
}

func (s *fakeOutStream) Index() int         { return s.idx }
func (s *fakeOutStream) TimeBase() Rational { return s.tb }

// fakeBackend serves a scripted input and records everything muxed.
type fakeBackend struct {
	streams  []StreamInfo
	packets  []Packet
	metadata map[string]string
	duration float64

	outTB        Rational
	decoderDelay int
	noPTSEvery   int // encoder drops the pts of every nth packet

	openInputErr error
	encoderErr   error
	decodeErr    error
	writeErr     error
	onRead       func(n int)

	allocs allocs
	demux  *fakeDemuxer
	mux    *fakeMuxer
	decs   []*fakeDecoder
	encs   []*fakeEncoder

	openedInput, openedOutput string
	outputFormat              string
	muxerOptions              map[string]string
}

func (b *fakeBackend) OpenInput(_ context.Context, path string) (Demuxer, error) {
	if b.openInputErr != nil {
		return nil, b.openInputErr
	}
	b.openedInput = path
	b.demux = &fakeDemuxer{b: b}
	return b.demux, nil
}

func (b *fakeBackend) OpenOutput(path, format string, options map[string]string) (Muxer, error) {
	b.openedOutput, b.outputFormat, b.muxerOptions = path, format, options
	tb := b.outTB
	if !tb.Valid() {
		tb = R(1, 90000)
	}
	b.mux = &fakeMuxer{b: b, tb: tb}
	return b.mux, nil
}

func (b *fakeBackend) NewDecoder(in InputStream) (Decoder, error) {
	d := &fakeDecoder{b: b, tb: in.Info().TimeBase}
	b.decs = append(b.decs, d)
	return d, nil
}

func (b *fakeBackend) NewEncoder(cfg EncoderConfig) (Encoder, error) {
	if b.encoderErr != nil {
		return nil, b.encoderErr
	}
	e := &fakeEncoder{b: b, cfg: cfg}
	b.encs = append(b.encs, e)
	return e, nil
}

type fakeDemuxer struct {
	b      *fakeBackend
	next   int
	closed bool
}

func (d *fakeDemuxer) Streams() []InputStream {
	out := make([]InputStream, 0, len(d.b.streams))
	for _, s := range d.b.streams {
		out = append(out, fakeStream{info: s})
	}
	return out
}

func (d *fakeDemuxer) Metadata() map[string]string { return d.b.metadata }
func (d *fakeDemuxer) DurationSeconds() float64    { return d.b.duration }

func (d *fakeDemuxer) ReadPacket() (*Packet, error) {
	if d.b.onRead != nil {
		d.b.onRead(d.next)
	}
	if d.next >= len(d.b.packets) {
		return nil, io.EOF
	}
	p := d.b.packets[d.next]
	d.next++
	p.Data = append([]byte(nil), p.Data...)
	p.release = d.b.allocs.track()
	return &p, nil
}

func (d *fakeDemuxer) Close() error {
	d.closed = true
	return nil
}

type fakeMuxer struct {
	b  *fakeBackend
	tb Rational

	streams  []*fakeOutStream
	metadata map[string]string
	written  []Packet
	header   bool
	trailer  bool
	closed   bool
}

func (m *fakeMuxer) NeedsGlobalHeader() bool { return true }

func (m *fakeMuxer) add() *fakeOutStream {
	s := &fakeOutStream{idx: len(m.streams), tb: m.tb}
	m.streams = append(m.streams, s)
	return s
}

func (m *fakeMuxer) AddCopyStream(InputStream) (OutputStream, error) { return m.add(), nil }
func (m *fakeMuxer) AddEncodedStream(Encoder) (OutputStream, error)  { return m.add(), nil }
func (m *fakeMuxer) SetMetadata(md map[string]string)                { m.metadata = md }
func (m *fakeMuxer) WriteHeader() error                              { m.header = true; return nil }
func (m *fakeMuxer) WriteTrailer() error                             { m.trailer = true; return nil }
func (m *fakeMuxer) Close() error                                    { m.closed = true; return nil }

func (m *fakeMuxer) WriteInterleaved(p *Packet) error {
	if m.b.writeErr != nil {
		return m.b.writeErr
	}
	cp := *p
	cp.release = nil
	m.written = append(m.written, cp)
	return nil
}

func (m *fakeMuxer) packetsFor(idx int) []Packet {
	var out []Packet
	for _, p := range m.written {
		if p.StreamIndex == idx {
			out = append(out, p)
		}
	}
	return out
}

// fakeDecoder reorders frames by pts, holding back decoderDelay frames
// the way a decoder with B-frame reordering does.
type fakeDecoder struct {
	b        *fakeBackend
	tb       Rational
	pending  []int64
	ready    []int64
	draining bool
	closed   bool
}

func (d *fakeDecoder) TimeBase() Rational { return d.tb }

func (d *fakeDecoder) SendPacket(p *Packet) error {
	if p == nil {
		d.draining = true
		d.release(0)
		return nil
	}
	if d.b.decodeErr != nil {
		return d.b.decodeErr
	}
	d.pending = append(d.pending, p.PTS)
	d.release(d.b.decoderDelay)
	return nil
}

func (d *fakeDecoder) release(keep int) {
	sort.Slice(d.pending, func(i, j int) bool { return d.pending[i] < d.pending[j] })
	for len(d.pending) > keep {
		d.ready = append(d.ready, d.pending[0])
		d.pending = d.pending[1:]
	}
}

func (d *fakeDecoder) ReceiveFrame() (*Frame, error) {
	if len(d.ready) == 0 {
		if d.draining {
			return nil, io.EOF
		}
		return nil, ErrAgain
	}
	pts := d.ready[0]
	d.ready = d.ready[1:]
	return &Frame{PTS: pts, PictureType: 1, release: d.b.allocs.track()}, nil
}

func (d *fakeDecoder) Close() error {
	d.closed = true
	return nil
}

type fakeEncoder struct {
	b        *fakeBackend
	cfg      EncoderConfig
	queue    []int64
	sent     int
	draining bool
	closed   bool

	pictureTypes []int
}

func (e *fakeEncoder) TimeBase() Rational { return e.cfg.TimeBase }

func (e *fakeEncoder) SendFrame(f *Frame) error {
	if f == nil {
		e.draining = true
		return nil
	}
	if e.draining {
		return errors.New("frame after flush")
	}
	e.pictureTypes = append(e.pictureTypes, f.PictureType)
	e.queue = append(e.queue, f.PTS)
	return nil
}

func (e *fakeEncoder) ReceivePacket() (*Packet, error) {
	if len(e.queue) == 0 {
		if e.draining {
			return nil, io.EOF
		}
		return nil, ErrAgain
	}
	pts := e.queue[0]
	e.queue = e.queue[1:]
	e.sent++
	p := &Packet{PTS: pts, DTS: pts, Duration: 1, Data: []byte{0x65}, release: e.b.allocs.track()}
	if e.b.noPTSEvery > 0 && e.sent%e.b.noPTSEvery == 0 {
		p.PTS = NoPTS
	}
	return p, nil
}

func (e *fakeEncoder) Close() error {
	e.closed = true
	return nil
}
