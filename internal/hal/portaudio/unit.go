package portaudio

import (
	"encoding/binary"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/petems/pcmcap/internal/hal"
	"github.com/petems/pcmcap/internal/pcm"
)

// unit drives an input-only PortAudio stream. Properties are recorded and
// applied when the stream is opened in Initialize.
type unit struct {
	log zerolog.Logger

	mu        sync.Mutex
	input     bool
	output    bool
	dev       *device
	formats   [2]*pcm.StreamFormat
	frames    int
	render    hal.RenderFunc
	stream    *pa.Stream
	started   bool
	disposed  bool
	order     binary.ByteOrder
	channels  int
	sampleFmt pcm.SampleFormat

	// Set for the duration of a stream callback only.
	in16 []int16
	in32 []int32
	inF  []float32
}

func (u *unit) EnableIO(scope hal.Scope, enable bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if scope == hal.ScopeOutput {
		u.output = enable
	} else {
		u.input = enable
	}
	return nil
}

func (u *unit) SetDevice(d hal.Device) error {
	pd, ok := d.(*device)
	if !ok {
		return fmt.Errorf("device %q does not belong to the portaudio backend", d.UID())
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.dev = pd
	return nil
}

func (u *unit) SetStreamFormat(scope hal.Scope, f pcm.StreamFormat) error {
	if err := f.Validate(); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.formats[scope] = &f
	return nil
}

func (u *unit) SetBufferFrameSize(frames int) error {
	if frames <= 0 {
		return fmt.Errorf("invalid buffer frame size %d", frames)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.frames = frames
	return nil
}

func (u *unit) SetRenderCallback(fn hal.RenderFunc) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.render = fn
	return nil
}

// validate checks the recorded properties and returns the stream format.
func (u *unit) validate() (pcm.StreamFormat, error) {
	switch {
	case !u.input:
		return pcm.StreamFormat{}, fmt.Errorf("%w: input disabled", hal.ErrNotConfigured)
	case u.output:
		return pcm.StreamFormat{}, fmt.Errorf("output is not supported on a capture unit")
	case u.dev == nil:
		return pcm.StreamFormat{}, fmt.Errorf("%w: no device", hal.ErrNotConfigured)
	case u.formats[hal.ScopeInput] == nil || u.formats[hal.ScopeOutput] == nil:
		return pcm.StreamFormat{}, fmt.Errorf("%w: stream format", hal.ErrNotConfigured)
	case *u.formats[hal.ScopeInput] != *u.formats[hal.ScopeOutput]:
		return pcm.StreamFormat{}, fmt.Errorf("input and output scope formats differ")
	case u.render == nil:
		return pcm.StreamFormat{}, fmt.Errorf("%w: render callback", hal.ErrNotConfigured)
	case u.frames <= 0:
		return pcm.StreamFormat{}, fmt.Errorf("%w: buffer frame size", hal.ErrNotConfigured)
	}
	return *u.formats[hal.ScopeInput], nil
}

func (u *unit) Initialize() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.disposed {
		return fmt.Errorf("unit disposed")
	}
	f, err := u.validate()
	if err != nil {
		return err
	}
	u.order = f.Endianness.ByteOrder()
	u.channels = f.Channels
	u.sampleFmt = f.SampleFormat()

	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   u.dev.info,
			Channels: f.Channels,
			Latency:  u.dev.info.DefaultLowInputLatency,
		},
		SampleRate:      f.SampleRate,
		FramesPerBuffer: u.frames,
	}

	stream, err := pa.OpenStream(params, u.callback())
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}
	u.stream = stream
	u.log.Debug().
		Str("device", u.dev.info.Name).
		Int("channels", f.Channels).
		Float64("rate", f.SampleRate).
		Int("frames", u.frames).
		Msg("PortAudio stream opened")
	return nil
}

// callback returns a stream callback typed for the configured sample
// format. PortAudio callbacks carry no status, so render errors end here.
func (u *unit) callback() interface{} {
	render := u.render
	ch := u.channels
	switch u.sampleFmt {
	case pcm.S32:
		return func(in []int32) {
			u.in32 = in
			_ = render(len(in) / ch)
			u.in32 = nil
		}
	case pcm.F32:
		return func(in []float32) {
			u.inF = in
			_ = render(len(in) / ch)
			u.inF = nil
		}
	default:
		return func(in []int16) {
			u.in16 = in
			_ = render(len(in) / ch)
			u.in16 = nil
		}
	}
}

// Render encodes the pending callback input into dst.
func (u *unit) Render(dst []byte, frames int) error {
	n := frames * u.channels
	switch u.sampleFmt {
	case pcm.S16:
		if len(u.in16) < n {
			return hal.ErrNoInput
		}
		if len(dst) < n*2 {
			return fmt.Errorf("render buffer too small")
		}
		pcm.PutInt16s(dst, u.in16[:n], u.order)
	case pcm.S32:
		if len(u.in32) < n {
			return hal.ErrNoInput
		}
		if len(dst) < n*4 {
			return fmt.Errorf("render buffer too small")
		}
		pcm.PutInt32s(dst, u.in32[:n], u.order)
	case pcm.F32:
		if len(u.inF) < n {
			return hal.ErrNoInput
		}
		if len(dst) < n*4 {
			return fmt.Errorf("render buffer too small")
		}
		pcm.PutFloat32s(dst, u.inF[:n], u.order)
	default:
		return hal.ErrNotConfigured
	}
	return nil
}

func (u *unit) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stream == nil {
		return fmt.Errorf("%w: stream not open", hal.ErrNotConfigured)
	}
	if u.started {
		return nil
	}
	if err := u.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	u.started = true
	return nil
}

// Stop waits for the callback in flight, per Pa_StopStream.
func (u *unit) Stop() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stream == nil || !u.started {
		return nil
	}
	u.started = false
	return u.stream.Stop()
}

func (u *unit) Dispose() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.disposed = true
	if u.stream == nil {
		return nil
	}
	stream := u.stream
	u.stream = nil
	if u.started {
		u.started = false
		_ = stream.Stop()
	}
	return stream.Close()
}
