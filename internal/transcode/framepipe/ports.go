// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package framepipe

import (
	"context"
	"errors"
)

// ErrAgain is returned by Decoder.ReceiveFrame and Encoder.ReceivePacket
// when more input is needed before output is ready.
var ErrAgain = errors.New("framepipe: output not ready")

// MediaType classifies an elementary stream.
type MediaType int

const (
	MediaUnknown MediaType = iota
	MediaVideo
	MediaAudio
	MediaSubtitle
	MediaData
)

func (m MediaType) String() string {
	switch m {
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	case MediaSubtitle:
		return "subtitle"
	case MediaData:
		return "data"
	default:
		return "unknown"
	}
}

// StreamInfo describes an input stream.
type StreamInfo struct {
	Index             int
	Type              MediaType
	Codec             string
	TimeBase          Rational
	Width, Height     int
	SampleAspectRatio Rational
	PixelFormat       string
	FrameRate         Rational
}

// Packet is one compressed unit. Timestamps are in the time base of
// whichever stream or codec currently owns it.
type Packet struct {
	StreamIndex int
	PTS, DTS    int64
	Duration    int64
	Pos         int64 // byte position in the source, -1 when unknown
	Data        []byte

	native  any
	release func()
}

// Free returns backend resources held by the packet.
func (p *Packet) Free() {
	if p != nil && p.release != nil {
		p.release()
		p.release = nil
	}
}

// Frame is one decoded picture.
type Frame struct {
	PTS         int64
	PictureType int // 0 lets the encoder choose

	native  any
	release func()
}

// Free returns backend resources held by the frame.
func (f *Frame) Free() {
	if f != nil && f.release != nil {
		f.release()
		f.release = nil
	}
}

// InputStream is a demuxed stream.
type InputStream interface {
	Info() StreamInfo
}

// OutputStream is a stream of the output container. TimeBase is only final
// once the header has been written.
type OutputStream interface {
	Index() int
	TimeBase() Rational
}

// Demuxer reads packets from a container in container order.
type Demuxer interface {
	Streams() []InputStream
	Metadata() map[string]string
	// DurationSeconds is the container duration, 0 when unknown.
	DurationSeconds() float64
	// ReadPacket returns io.EOF at the end of input.
	ReadPacket() (*Packet, error)
	Close() error
}

// Muxer writes a single interleaved output container.
type Muxer interface {
	NeedsGlobalHeader() bool
	// AddCopyStream mirrors in's codec parameters with the codec tag cleared.
	AddCopyStream(in InputStream) (OutputStream, error)
	AddEncodedStream(enc Encoder) (OutputStream, error)
	SetMetadata(map[string]string)
	WriteHeader() error
	WriteInterleaved(*Packet) error
	WriteTrailer() error
	Close() error
}

// Decoder turns packets into frames. A nil packet signals end of stream.
type Decoder interface {
	TimeBase() Rational
	SendPacket(*Packet) error
	// ReceiveFrame returns ErrAgain when it needs input and io.EOF once flushed.
	ReceiveFrame() (*Frame, error)
	Close() error
}

// Encoder turns frames into packets. A nil frame signals end of stream.
type Encoder interface {
	TimeBase() Rational
	SendFrame(*Frame) error
	// ReceivePacket returns ErrAgain when it needs input and io.EOF once flushed.
	ReceivePacket() (*Packet, error)
	Close() error
}

// EncoderConfig configures a video encoder from its input stream.
type EncoderConfig struct {
	Codec             string
	Width, Height     int
	SampleAspectRatio Rational
	PixelFormat       string
	FrameRate         Rational
	TimeBase          Rational
	GlobalHeader      bool
	Options           map[string]string
}

// Backend opens containers and codecs.
type Backend interface {
	OpenInput(ctx context.Context, path string) (Demuxer, error)
	// OpenOutput creates a muxer for format ("hls") writing to path.
	OpenOutput(path, format string, options map[string]string) (Muxer, error)
	// NewDecoder opens a decoder for in, using in's time base.
	NewDecoder(in InputStream) (Decoder, error)
	NewEncoder(cfg EncoderConfig) (Encoder, error)
}
