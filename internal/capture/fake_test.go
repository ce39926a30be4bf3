package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/petems/pcmcap/internal/hal"
	"github.com/petems/pcmcap/internal/pcm"
)

// Mock implementations for testing

type fakeDevice struct {
	uid         string
	rate        float64
	channels    int
	rateErr     error
	channelsErr error
}

func (d *fakeDevice) UID() string  { return d.uid }
func (d *fakeDevice) Name() string { return "Fake " + d.uid }

func (d *fakeDevice) NominalSampleRate() (float64, error) {
	return d.rate, d.rateErr
}

func (d *fakeDevice) PreferredChannels() (int, error) {
	return d.channels, d.channelsErr
}

type fakeBackend struct {
	devices  map[string]*fakeDevice
	resolves int
	unit     *fakeUnit
	unitErr  error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		devices: map[string]*fakeDevice{
			hal.DefaultDeviceID: {uid: "builtin-mic", rate: 48000, channels: 2},
			"usb-1":             {uid: "usb-1", rate: 44100, channels: 1},
		},
		unit: &fakeUnit{},
	}
}

func (b *fakeBackend) Resolve(id string) (hal.Device, error) {
	b.resolves++
	d, ok := b.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", hal.ErrNotFound, id)
	}
	return d, nil
}

func (b *fakeBackend) Enumerate() ([]hal.DeviceDescriptor, error) {
	return hal.WithDefault(nil), nil
}

func (b *fakeBackend) NewUnit() (hal.Unit, error) {
	if b.unitErr != nil {
		return nil, b.unitErr
	}
	return b.unit, nil
}

// fakeUnit records configuration calls and lets tests drive the render
// callback synchronously via produce.
type fakeUnit struct {
	mu        sync.Mutex
	calls     []string
	failStep  string
	format    pcm.StreamFormat
	frames    int
	render    hal.RenderFunc
	started   bool
	stops     int
	disposes  int
	renderErr error
	seq       byte
}

var errFakeStep = errors.New("fake step failed")

func (u *fakeUnit) record(step string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, step)
	if step == u.failStep {
		return errFakeStep
	}
	return nil
}

func (u *fakeUnit) EnableIO(scope hal.Scope, enable bool) error {
	return u.record(fmt.Sprintf("io:%s:%t", scope, enable))
}

func (u *fakeUnit) SetDevice(d hal.Device) error {
	return u.record("device")
}

func (u *fakeUnit) SetStreamFormat(scope hal.Scope, f pcm.StreamFormat) error {
	u.format = f
	return u.record("format:" + scope.String())
}

func (u *fakeUnit) SetBufferFrameSize(frames int) error {
	u.frames = frames
	return u.record("frames")
}

func (u *fakeUnit) SetRenderCallback(fn hal.RenderFunc) error {
	u.render = fn
	return u.record("callback")
}

func (u *fakeUnit) Initialize() error { return u.record("initialize") }

func (u *fakeUnit) Start() error {
	if err := u.record("start"); err != nil {
		return err
	}
	u.started = true
	return nil
}

func (u *fakeUnit) Stop() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stops++
	u.started = false
	return nil
}

func (u *fakeUnit) Dispose() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.disposes++
	return nil
}

// Render fills dst with the sequence number of the invocation.
func (u *fakeUnit) Render(dst []byte, frames int) error {
	if u.renderErr != nil {
		return u.renderErr
	}
	for i := range dst {
		dst[i] = u.seq
	}
	return nil
}

// produce simulates one hardware period.
func (u *fakeUnit) produce(frames int) error {
	err := u.render(frames)
	u.seq++
	return err
}
