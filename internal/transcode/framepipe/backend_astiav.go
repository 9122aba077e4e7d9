// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build astiav

package framepipe

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astiav"
)

// DefaultBackend returns the libav backend.
func DefaultBackend() (Backend, error) {
	return libavBackend{}, nil
}

type libavBackend struct{}

func toRational(r astiav.Rational) Rational { return Rational{Num: r.Num(), Den: r.Den()} }
func fromRational(r Rational) astiav.Rational { return astiav.NewRational(r.Num, r.Den) }

func mediaType(t astiav.MediaType) MediaType {
	switch t {
	case astiav.MediaTypeVideo:
		return MediaVideo
	case astiav.MediaTypeAudio:
		return MediaAudio
	case astiav.MediaTypeSubtitle:
		return MediaSubtitle
	case astiav.MediaTypeData:
		return MediaData
	default:
		return MediaUnknown
	}
}

func dictionary(m map[string]string) (*astiav.Dictionary, error) {
	d := astiav.NewDictionary()
	for k, v := range m {
		if err := d.Set(k, v, astiav.NewDictionaryFlags()); err != nil {
			d.Free()
			return nil, fmt.Errorf("set option %s: %w", k, err)
		}
	}
	return d, nil
}

// packet/frame bridging between the pipeline structs and libav objects.

func wrapPacket(pkt *astiav.Packet) *Packet {
	return &Packet{
		StreamIndex: pkt.StreamIndex(),
		PTS:         pkt.Pts(),
		DTS:         pkt.Dts(),
		Duration:    pkt.Duration(),
		Pos:         pkt.Pos(),
		native:      pkt,
		release:     pkt.Free,
	}
}

func syncPacket(p *Packet) *astiav.Packet {
	pkt := p.native.(*astiav.Packet)
	pkt.SetStreamIndex(p.StreamIndex)
	pkt.SetPts(p.PTS)
	pkt.SetDts(p.DTS)
	pkt.SetDuration(p.Duration)
	pkt.SetPos(p.Pos)
	return pkt
}

// demuxer

type libavInput struct {
	fc      *astiav.FormatContext
	ii      *astiav.IOInterrupter
	stop    func() bool
	streams []InputStream
}

type libavInputStream struct {
	st   *astiav.Stream
	info StreamInfo
}

func (s *libavInputStream) Info() StreamInfo { return s.info }

func (libavBackend) OpenInput(ctx context.Context, path string) (Demuxer, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, errors.New("alloc input format context")
	}
	ii := astiav.NewIOInterrupter()
	fc.SetIOInterrupter(ii)
	stop := context.AfterFunc(ctx, ii.Interrupt)

	if err := fc.OpenInput(path, nil, nil); err != nil {
		stop()
		fc.Free()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		stop()
		fc.CloseInput()
		fc.Free()
		return nil, fmt.Errorf("find stream info: %w", err)
	}

	in := &libavInput{fc: fc, ii: ii, stop: stop}
	for _, st := range fc.Streams() {
		cp := st.CodecParameters()
		in.streams = append(in.streams, &libavInputStream{
			st: st,
			info: StreamInfo{
				Index:             st.Index(),
				Type:              mediaType(cp.MediaType()),
				Codec:             cp.CodecID().String(),
				TimeBase:          toRational(st.TimeBase()),
				Width:             cp.Width(),
				Height:            cp.Height(),
				SampleAspectRatio: toRational(cp.SampleAspectRatio()),
				PixelFormat:       cp.PixelFormat().String(),
				FrameRate:         toRational(fc.GuessFrameRate(st, nil)),
			},
		})
	}
	return in, nil
}

func (in *libavInput) Streams() []InputStream { return in.streams }

func (in *libavInput) DurationSeconds() float64 {
	d := in.fc.Duration()
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(astiav.TimeBase)
}

func (in *libavInput) Metadata() map[string]string {
	out := map[string]string{}
	md := in.fc.Metadata()
	if md == nil {
		return out
	}
	var prev *astiav.DictionaryEntry
	for {
		e := md.Get("", prev, astiav.NewDictionaryFlags(astiav.DictionaryFlagIgnoreSuffix))
		if e == nil {
			return out
		}
		out[e.Key()] = e.Value()
		prev = e
	}
}

func (in *libavInput) ReadPacket() (*Packet, error) {
	pkt := astiav.AllocPacket()
	if err := in.fc.ReadFrame(pkt); err != nil {
		pkt.Free()
		if errors.Is(err, astiav.ErrEof) {
			return nil, io.EOF
		}
		return nil, err
	}
	return wrapPacket(pkt), nil
}

func (in *libavInput) Close() error {
	in.stop()
	in.fc.CloseInput()
	in.fc.Free()
	return nil
}

// muxer

type libavOutput struct {
	fc      *astiav.FormatContext
	pb      *astiav.IOContext
	path    string
	options map[string]string
	streams []*libavOutputStream
}

type libavOutputStream struct {
	st *astiav.Stream
}

func (s *libavOutputStream) Index() int         { return s.st.Index() }
func (s *libavOutputStream) TimeBase() Rational { return toRational(s.st.TimeBase()) }

func (libavBackend) OpenOutput(path, format string, options map[string]string) (Muxer, error) {
	fc, err := astiav.AllocOutputFormatContext(nil, format, path)
	if err != nil {
		return nil, fmt.Errorf("alloc output format context: %w", err)
	}
	return &libavOutput{fc: fc, path: path, options: options}, nil
}

func (o *libavOutput) NeedsGlobalHeader() bool {
	return o.fc.OutputFormat().Flags().Has(astiav.IOFormatFlagGlobalheader)
}

func (o *libavOutput) AddCopyStream(in InputStream) (OutputStream, error) {
	src := in.(*libavInputStream)
	st := o.fc.NewStream(nil)
	if st == nil {
		return nil, errors.New("new output stream")
	}
	if err := src.st.CodecParameters().Copy(st.CodecParameters()); err != nil {
		return nil, fmt.Errorf("copy codec parameters: %w", err)
	}
	st.CodecParameters().SetCodecTag(0)
	st.SetTimeBase(src.st.TimeBase())
	out := &libavOutputStream{st: st}
	o.streams = append(o.streams, out)
	return out, nil
}

func (o *libavOutput) AddEncodedStream(enc Encoder) (OutputStream, error) {
	e := enc.(*libavEncoder)
	st := o.fc.NewStream(nil)
	if st == nil {
		return nil, errors.New("new output stream")
	}
	if err := st.CodecParameters().FromCodecContext(e.cc); err != nil {
		return nil, fmt.Errorf("codec parameters from encoder: %w", err)
	}
	st.SetTimeBase(e.cc.TimeBase())
	out := &libavOutputStream{st: st}
	o.streams = append(o.streams, out)
	return out, nil
}

func (o *libavOutput) SetMetadata(md map[string]string) {
	if len(md) == 0 {
		return
	}
	d, err := dictionary(md)
	if err != nil {
		return
	}
	o.fc.SetMetadata(d)
}

func (o *libavOutput) WriteHeader() error {
	if !o.fc.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		pb, err := astiav.OpenIOContext(o.path, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
		if err != nil {
			return fmt.Errorf("open %s: %w", o.path, err)
		}
		o.pb = pb
		o.fc.SetPb(pb)
	}
	d, err := dictionary(o.options)
	if err != nil {
		return err
	}
	defer d.Free()
	return o.fc.WriteHeader(d)
}

func (o *libavOutput) WriteInterleaved(p *Packet) error {
	return o.fc.WriteInterleavedFrame(syncPacket(p))
}

func (o *libavOutput) WriteTrailer() error {
	return o.fc.WriteTrailer()
}

func (o *libavOutput) Close() error {
	var err error
	if o.pb != nil {
		err = o.pb.Close()
	}
	o.fc.Free()
	return err
}

// codecs

type libavDecoder struct {
	cc *astiav.CodecContext
}

func (libavBackend) NewDecoder(in InputStream) (Decoder, error) {
	src := in.(*libavInputStream)
	cp := src.st.CodecParameters()
	codec := astiav.FindDecoder(cp.CodecID())
	if codec == nil {
		return nil, fmt.Errorf("no decoder for %s", cp.CodecID())
	}
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, errors.New("alloc decoder context")
	}
	if err := cp.ToCodecContext(cc); err != nil {
		cc.Free()
		return nil, fmt.Errorf("decoder parameters: %w", err)
	}
	cc.SetTimeBase(src.st.TimeBase())
	cc.SetFramerate(fromRational(src.info.FrameRate))
	if err := cc.Open(codec, nil); err != nil {
		cc.Free()
		return nil, fmt.Errorf("open decoder: %w", err)
	}
	return &libavDecoder{cc: cc}, nil
}

func (d *libavDecoder) TimeBase() Rational { return toRational(d.cc.TimeBase()) }

func (d *libavDecoder) SendPacket(p *Packet) error {
	if p == nil {
		return d.cc.SendPacket(nil)
	}
	return d.cc.SendPacket(syncPacket(p))
}

func (d *libavDecoder) ReceiveFrame() (*Frame, error) {
	f := astiav.AllocFrame()
	if err := d.cc.ReceiveFrame(f); err != nil {
		f.Free()
		return nil, codecErr(err)
	}
	return &Frame{PTS: f.Pts(), native: f, release: f.Free}, nil
}

func (d *libavDecoder) Close() error {
	d.cc.Free()
	return nil
}

type libavEncoder struct {
	cc *astiav.CodecContext
}

func (libavBackend) NewEncoder(cfg EncoderConfig) (Encoder, error) {
	codec := astiav.FindEncoderByName(cfg.Codec)
	if codec == nil {
		return nil, fmt.Errorf("no encoder named %s", cfg.Codec)
	}
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, errors.New("alloc encoder context")
	}
	cc.SetWidth(cfg.Width)
	cc.SetHeight(cfg.Height)
	cc.SetSampleAspectRatio(fromRational(cfg.SampleAspectRatio))
	cc.SetPixelFormat(astiav.FindPixelFormatByName(cfg.PixelFormat))
	cc.SetFramerate(fromRational(cfg.FrameRate))
	cc.SetTimeBase(fromRational(cfg.TimeBase))
	if cfg.GlobalHeader {
		cc.SetFlags(cc.Flags().Add(astiav.CodecContextFlagGlobalHeader))
	}

	opts, err := dictionary(cfg.Options)
	if err != nil {
		cc.Free()
		return nil, err
	}
	defer opts.Free()
	if err := cc.Open(codec, opts); err != nil {
		cc.Free()
		return nil, fmt.Errorf("open encoder: %w", err)
	}
	return &libavEncoder{cc: cc}, nil
}

func (e *libavEncoder) TimeBase() Rational { return toRational(e.cc.TimeBase()) }

func (e *libavEncoder) SendFrame(f *Frame) error {
	if f == nil {
		return e.cc.SendFrame(nil)
	}
	nf := f.native.(*astiav.Frame)
	nf.SetPts(f.PTS)
	nf.SetPictureType(astiav.PictureTypeNone)
	return e.cc.SendFrame(nf)
}

func (e *libavEncoder) ReceivePacket() (*Packet, error) {
	pkt := astiav.AllocPacket()
	if err := e.cc.ReceivePacket(pkt); err != nil {
		pkt.Free()
		return nil, codecErr(err)
	}
	p := wrapPacket(pkt)
	if pkt.Pts() == astiav.NoPtsValue {
		p.PTS = NoPTS
	}
	return p, nil
}

func (e *libavEncoder) Close() error {
	e.cc.Free()
	return nil
}

func codecErr(err error) error {
	switch {
	case errors.Is(err, astiav.ErrEagain):
		return ErrAgain
	case errors.Is(err, astiav.ErrEof):
		return io.EOF
	default:
		return err
	}
}
