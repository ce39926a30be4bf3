package capture

import (
	"fmt"

	"github.com/petems/pcmcap/internal/hal"
	"github.com/petems/pcmcap/internal/pcm"
)

// Request is the caller's half of format negotiation. The sample rate is
// never requested; the device's nominal rate is authoritative.
type Request struct {
	SampleFormat pcm.SampleFormat
	Endianness   pcm.Endianness
	// Channels of 0 selects the device's preferred layout.
	Channels int
}

// Negotiator resolves a device and derives the stream format to capture
// with.
type Negotiator struct {
	registry hal.Registry
}

func NewNegotiator(r hal.Registry) *Negotiator {
	return &Negotiator{registry: r}
}

// Negotiate validates the request before touching the registry, so an
// unsupported format never reaches the device.
func (n *Negotiator) Negotiate(id string, req Request) (hal.Device, pcm.StreamFormat, error) {
	if !req.SampleFormat.Valid() {
		return nil, pcm.StreamFormat{}, fmt.Errorf("%w: %v", ErrUnsupportedSampleFormat, req.SampleFormat)
	}
	if req.Channels < 0 {
		return nil, pcm.StreamFormat{}, fmt.Errorf("%w: channel count %d", ErrInvalidOptions, req.Channels)
	}
	if id == "" {
		id = hal.DefaultDeviceID
	}

	dev, err := n.registry.Resolve(id)
	if err != nil {
		return nil, pcm.StreamFormat{}, fmt.Errorf("%w: %s: %w", ErrDeviceNotFound, id, err)
	}

	rate, err := dev.NominalSampleRate()
	if err != nil {
		return nil, pcm.StreamFormat{}, hwStep("query nominal sample rate", err)
	}

	channels := req.Channels
	if channels == 0 {
		channels, err = dev.PreferredChannels()
		if err != nil {
			return nil, pcm.StreamFormat{}, fmt.Errorf("%w: %s: %w", ErrChannelLayoutResolutionFailed, dev.UID(), err)
		}
		if channels <= 0 {
			return nil, pcm.StreamFormat{}, fmt.Errorf("%w: %s: %d channels", ErrChannelLayoutResolutionFailed, dev.UID(), channels)
		}
	}

	format, err := pcm.NewStreamFormat(rate, channels, req.SampleFormat, req.Endianness)
	if err != nil {
		return nil, pcm.StreamFormat{}, hwStep("derive stream format", err)
	}
	return dev, format, nil
}
