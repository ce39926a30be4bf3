package malgo

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/petems/pcmcap/internal/hal"
	"github.com/petems/pcmcap/internal/pcm"
)

var formatTypes = map[pcm.SampleFormat]malgo.FormatType{
	pcm.S16: malgo.FormatS16,
	pcm.S32: malgo.FormatS32,
	pcm.F32: malgo.FormatF32,
}

// unit wraps a miniaudio capture device. miniaudio delivers native-endian
// samples; big-endian output is produced by swapping in Render.
type unit struct {
	ctx *malgo.AllocatedContext
	log zerolog.Logger

	mu       sync.Mutex
	input    bool
	output   bool
	dev      *device
	formats  [2]*pcm.StreamFormat
	frames   int
	render   hal.RenderFunc
	device   *malgo.Device
	started  bool
	disposed bool
	format   pcm.StreamFormat

	// Set for the duration of a data callback only.
	pending []byte
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
	md, ok := d.(*device)
	if !ok {
		return fmt.Errorf("device %q does not belong to the malgo backend", d.UID())
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.dev = md
	return nil
}

func (u *unit) SetStreamFormat(scope hal.Scope, f pcm.StreamFormat) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if _, ok := formatTypes[f.SampleFormat()]; !ok {
		return fmt.Errorf("%w: %v", pcm.ErrUnsupportedSampleFormat, f.SampleFormat())
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

func (u *unit) deviceConfig() (malgo.DeviceConfig, error) {
	switch {
	case !u.input:
		return malgo.DeviceConfig{}, fmt.Errorf("%w: input disabled", hal.ErrNotConfigured)
	case u.output:
		return malgo.DeviceConfig{}, fmt.Errorf("output is not supported on a capture unit")
	case u.dev == nil:
		return malgo.DeviceConfig{}, fmt.Errorf("%w: no device", hal.ErrNotConfigured)
	case u.formats[hal.ScopeInput] == nil || u.formats[hal.ScopeOutput] == nil:
		return malgo.DeviceConfig{}, fmt.Errorf("%w: stream format", hal.ErrNotConfigured)
	case *u.formats[hal.ScopeInput] != *u.formats[hal.ScopeOutput]:
		return malgo.DeviceConfig{}, fmt.Errorf("input and output scope formats differ")
	case u.render == nil:
		return malgo.DeviceConfig{}, fmt.Errorf("%w: render callback", hal.ErrNotConfigured)
	case u.frames <= 0:
		return malgo.DeviceConfig{}, fmt.Errorf("%w: buffer frame size", hal.ErrNotConfigured)
	}

	u.format = *u.formats[hal.ScopeInput]
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = formatTypes[u.format.SampleFormat()]
	cfg.Capture.Channels = uint32(u.format.Channels)
	cfg.SampleRate = uint32(u.format.SampleRate)
	cfg.PeriodSizeInFrames = uint32(u.frames)
	if u.dev.id != nil {
		cfg.Capture.DeviceID = u.dev.id.Pointer()
	}
	return cfg, nil
}

func (u *unit) Initialize() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.disposed {
		return fmt.Errorf("unit disposed")
	}
	cfg, err := u.deviceConfig()
	if err != nil {
		return err
	}

	render := u.render
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			u.pending = input
			_ = render(int(frameCount))
			u.pending = nil
		},
	}

	dev, err := malgo.InitDevice(u.ctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}
	u.device = dev
	u.log.Debug().
		Str("device", u.dev.name).
		Uint32("rate", dev.SampleRate()).
		Uint32("channels", dev.CaptureChannels()).
		Msg("miniaudio capture device initialized")
	return nil
}

// Render copies the pending callback bytes into dst.
func (u *unit) Render(dst []byte, frames int) error {
	n := frames * u.format.BytesPerFrame()
	if n == 0 || len(u.pending) < n {
		return hal.ErrNoInput
	}
	if len(dst) < n {
		return fmt.Errorf("render buffer too small")
	}
	copy(dst, u.pending[:n])
	if u.format.Endianness == pcm.BigEndian {
		pcm.Swap(dst[:n], u.format.BytesPerSample())
	}
	return nil
}

func (u *unit) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.device == nil {
		return fmt.Errorf("%w: device not initialized", hal.ErrNotConfigured)
	}
	if u.started {
		return nil
	}
	if err := u.device.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	u.started = true
	return nil
}

// Stop blocks until miniaudio's worker has left the data callback.
func (u *unit) Stop() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.device == nil || !u.started {
		return nil
	}
	u.started = false
	return u.device.Stop()
}

func (u *unit) Dispose() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.disposed = true
	if u.device == nil {
		return nil
	}
	u.device.Uninit()
	u.device = nil
	u.started = false
	return nil
}
