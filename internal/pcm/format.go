// Package pcm describes packed linear PCM stream formats and the codec
// identifiers the surrounding pipeline uses for them.
package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedSampleFormat is returned for any sample format other than
// 16-bit signed, 32-bit signed or 32-bit float.
var ErrUnsupportedSampleFormat = errors.New("unsupported sample format")

// SampleFormat is the encoding of a single sample.
type SampleFormat int

const (
	FormatUnknown SampleFormat = iota
	S16
	S32
	F32
)

// ParseSampleFormat accepts the config spellings "s16", "s32" and "f32".
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "s16", "s16le", "int16":
		return S16, nil
	case "s32", "s32le", "int32":
		return S32, nil
	case "f32", "f32le", "float32":
		return F32, nil
	}
	return FormatUnknown, fmt.Errorf("%w: %q", ErrUnsupportedSampleFormat, s)
}

func (f SampleFormat) String() string {
	switch f {
	case S16:
		return "s16"
	case S32:
		return "s32"
	case F32:
		return "f32"
	}
	return fmt.Sprintf("SampleFormat(%d)", int(f))
}

// Valid reports whether f is one of the supported formats.
func (f SampleFormat) Valid() bool {
	return f == S16 || f == S32 || f == F32
}

// BitsPerSample returns 0 for unsupported formats.
func (f SampleFormat) BitsPerSample() int {
	switch f {
	case S16:
		return 16
	case S32, F32:
		return 32
	}
	return 0
}

func (f SampleFormat) IsFloat() bool { return f == F32 }

// Endianness of multi-byte samples in a buffer.
type Endianness int

const (
	LittleEndian Endianness = iota
	BigEndian
)

func (e Endianness) String() string {
	if e == BigEndian {
		return "be"
	}
	return "le"
}

// ByteOrder returns the encoding/binary order for e.
func (e Endianness) ByteOrder() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// StreamFormat is a fully resolved packed linear PCM description.
type StreamFormat struct {
	SampleRate    float64
	Channels      int
	BitsPerSample int
	Float         bool
	Endianness    Endianness
}

// NewStreamFormat derives a packed format for the given sample encoding.
func NewStreamFormat(rate float64, channels int, format SampleFormat, endian Endianness) (StreamFormat, error) {
	if !format.Valid() {
		return StreamFormat{}, fmt.Errorf("%w: %v", ErrUnsupportedSampleFormat, format)
	}
	sf := StreamFormat{
		SampleRate:    rate,
		Channels:      channels,
		BitsPerSample: format.BitsPerSample(),
		Float:         format.IsFloat(),
		Endianness:    endian,
	}
	if err := sf.Validate(); err != nil {
		return StreamFormat{}, err
	}
	return sf, nil
}

// Validate checks that every field is resolved.
func (f StreamFormat) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %v", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("invalid channel count %d", f.Channels)
	}
	if !f.SampleFormat().Valid() {
		return fmt.Errorf("%w: %d-bit float=%t", ErrUnsupportedSampleFormat, f.BitsPerSample, f.Float)
	}
	return nil
}

// SampleFormat maps the bit depth and float flag back to a SampleFormat.
func (f StreamFormat) SampleFormat() SampleFormat {
	switch {
	case f.BitsPerSample == 16 && !f.Float:
		return S16
	case f.BitsPerSample == 32 && !f.Float:
		return S32
	case f.BitsPerSample == 32 && f.Float:
		return F32
	}
	return FormatUnknown
}

// Signed is true for every supported integer format.
func (f StreamFormat) Signed() bool { return !f.Float }

func (f StreamFormat) BytesPerSample() int { return f.BitsPerSample / 8 }

// BytesPerFrame is channels × bytes per sample; samples are packed.
func (f StreamFormat) BytesPerFrame() int { return f.Channels * f.BytesPerSample() }

// Codec returns the raw PCM codec identifier for the format.
func (f StreamFormat) Codec() CodecID {
	return CodecFor(f.SampleFormat(), f.Endianness)
}

func (f StreamFormat) String() string {
	return fmt.Sprintf("%s %gHz %dch", f.Codec(), f.SampleRate, f.Channels)
}
