// Package malgo implements the hal backend on miniaudio via malgo.
package malgo

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/petems/pcmcap/internal/hal"
)

type Backend struct {
	ctx *malgo.AllocatedContext
	log zerolog.Logger
}

// New initializes a miniaudio context with the platform's default backends.
func New(log zerolog.Logger) (*Backend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Str("source", "miniaudio").Msg(strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("init malgo context: %w", err)
	}
	return &Backend{ctx: ctx, log: log}, nil
}

func (b *Backend) Name() string { return "malgo" }

// Resolve maps "default" to miniaudio's default capture device and any
// other string to the device whose hex-encoded ID matches. The device is
// probed here so an unusable device is reported as not found.
func (b *Backend) Resolve(id string) (hal.Device, error) {
	infos, err := b.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	d, err := lookup(infos, id)
	if err != nil {
		return nil, err
	}
	d.backend = b
	d.once.Do(d.probe)
	if d.err != nil {
		return nil, fmt.Errorf("%w: %v", hal.ErrNotFound, d.err)
	}
	return d, nil
}

// lookup matches id against the enumerated capture devices. The default
// device keeps a nil ID so miniaudio picks it.
func lookup(infos []malgo.DeviceInfo, id string) (*device, error) {
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: no capture devices", hal.ErrNotFound)
	}
	if id == "" || id == hal.DefaultDeviceID {
		name := hal.DefaultDeviceID
		for i := range infos {
			if infos[i].IsDefault != 0 {
				name = infos[i].Name()
				break
			}
		}
		return &device{name: name}, nil
	}
	for i := range infos {
		if encodeID(infos[i].ID) != id {
			continue
		}
		devID := infos[i].ID
		return &device{id: &devID, name: infos[i].Name()}, nil
	}
	return nil, fmt.Errorf("%w: %s", hal.ErrNotFound, id)
}

func (b *Backend) Enumerate() ([]hal.DeviceDescriptor, error) {
	infos, err := b.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}

	result := make([]hal.DeviceDescriptor, 0, len(infos))
	for _, info := range infos {
		desc := "capture device"
		if info.IsDefault != 0 {
			desc = "capture device (system default)"
		}
		result = append(result, hal.DeviceDescriptor{
			ID:          encodeID(info.ID),
			Name:        info.Name(),
			Description: desc,
			MediaTypes:  []string{"audio"},
		})
	}
	return hal.WithDefault(result), nil
}

func (b *Backend) NewUnit() (hal.Unit, error) {
	return &unit{ctx: b.ctx, log: b.log}, nil
}

func (b *Backend) Close() error {
	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}

func encodeID(id malgo.DeviceID) string {
	return hex.EncodeToString(id[:])
}

// device probes its native rate and channel count once, by initializing
// an unstarted capture device with both left at zero.
type device struct {
	backend *Backend
	id      *malgo.DeviceID // nil selects the default device
	name    string

	once     sync.Once
	rate     float64
	channels int
	err      error
}

func (d *device) UID() string {
	if d.id == nil {
		return hal.DefaultDeviceID
	}
	return encodeID(*d.id)
}

func (d *device) Name() string { return d.name }

func (d *device) probe() {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 0
	cfg.SampleRate = 0
	if d.id != nil {
		cfg.Capture.DeviceID = d.id.Pointer()
	}

	dev, err := malgo.InitDevice(d.backend.ctx.Context, cfg, malgo.DeviceCallbacks{})
	if err != nil {
		d.err = fmt.Errorf("probe device %q: %w", d.name, err)
		return
	}
	defer dev.Uninit()

	d.rate = float64(dev.SampleRate())
	d.channels = int(dev.CaptureChannels())
}

func (d *device) NominalSampleRate() (float64, error) {
	d.once.Do(d.probe)
	if d.err != nil {
		return 0, d.err
	}
	if d.rate <= 0 {
		return 0, fmt.Errorf("device %q reports no sample rate", d.name)
	}
	return d.rate, nil
}

func (d *device) PreferredChannels() (int, error) {
	d.once.Do(d.probe)
	if d.err != nil {
		return 0, d.err
	}
	if d.channels <= 0 {
		return 0, fmt.Errorf("device %q reports no channels", d.name)
	}
	return d.channels, nil
}
