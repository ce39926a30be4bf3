// Package portaudio implements the hal backend on PortAudio.
package portaudio

import (
	"fmt"

	pa "github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/petems/pcmcap/internal/hal"
)

// maxPreferredChannels caps the layout derived from MaxInputChannels.
// PortAudio exposes no preferred layout, only a maximum.
const maxPreferredChannels = 2

type Backend struct {
	log zerolog.Logger
}

// New initializes PortAudio. Close must be called to terminate it.
func New(log zerolog.Logger) (*Backend, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	log.Debug().Str("version", pa.VersionText()).Msg("PortAudio initialized")
	return &Backend{log: log}, nil
}

func (b *Backend) Name() string { return "portaudio" }

// Resolve maps "default" to the default input device and anything else to
// the input device with that name.
func (b *Backend) Resolve(id string) (hal.Device, error) {
	if id == "" || id == hal.DefaultDeviceID {
		info, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: default input: %v", hal.ErrNotFound, err)
		}
		return &device{info: info}, nil
	}

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == id && d.MaxInputChannels > 0 {
			return &device{info: d}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", hal.ErrNotFound, id)
}

func (b *Backend) Enumerate() ([]hal.DeviceDescriptor, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]hal.DeviceDescriptor, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		result = append(result, describe(d))
	}
	return hal.WithDefault(result), nil
}

func (b *Backend) NewUnit() (hal.Unit, error) {
	return &unit{log: b.log}, nil
}

func (b *Backend) Close() error {
	return pa.Terminate()
}

func describe(d *pa.DeviceInfo) hal.DeviceDescriptor {
	desc := fmt.Sprintf("%d in, %.0f Hz", d.MaxInputChannels, d.DefaultSampleRate)
	if d.HostApi != nil {
		desc = d.HostApi.Name + ", " + desc
	}
	return hal.DeviceDescriptor{
		ID:          d.Name,
		Name:        d.Name,
		Description: desc,
		MediaTypes:  []string{"audio"},
	}
}

type device struct {
	info *pa.DeviceInfo
}

func (d *device) UID() string  { return d.info.Name }
func (d *device) Name() string { return d.info.Name }

func (d *device) NominalSampleRate() (float64, error) {
	if d.info.DefaultSampleRate <= 0 {
		return 0, fmt.Errorf("device %q reports no sample rate", d.info.Name)
	}
	return d.info.DefaultSampleRate, nil
}

func (d *device) PreferredChannels() (int, error) {
	return preferredChannels(d.info.MaxInputChannels)
}

func preferredChannels(maxInput int) (int, error) {
	if maxInput <= 0 {
		return 0, fmt.Errorf("device has no input channels")
	}
	return min(maxInput, maxPreferredChannels), nil
}
