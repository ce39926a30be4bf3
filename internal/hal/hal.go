// Package hal is the boundary between the capture core and a platform
// audio subsystem. Backends implement Registry for device lookup and Unit
// for the hardware capture unit.
package hal

import (
	"errors"

	"github.com/petems/pcmcap/internal/pcm"
)

// DefaultDeviceID selects the system default input device.
const DefaultDeviceID = "default"

var (
	// ErrNotFound is returned by Registry.Resolve for unknown identifiers.
	ErrNotFound = errors.New("device not found")
	// ErrNoInput is returned by Unit.Render outside of a render callback.
	ErrNoInput = errors.New("no input pending")
	// ErrNotConfigured is returned by Unit.Initialize when a required
	// property was never set.
	ErrNotConfigured = errors.New("unit not configured")
)

// Device is a resolved input device. It is borrowed from the backend for
// the duration of an open and must not outlive the backend.
type Device interface {
	UID() string
	Name() string
	// NominalSampleRate is the device's authoritative rate in Hz.
	NominalSampleRate() (float64, error)
	// PreferredChannels is the channel count of the device's preferred
	// layout.
	PreferredChannels() (int, error)
}

// DeviceDescriptor is read-only enumeration data.
type DeviceDescriptor struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	MediaTypes  []string `json:"media_types"`
}

// Registry resolves and lists input devices.
type Registry interface {
	Resolve(id string) (Device, error)
	Enumerate() ([]DeviceDescriptor, error)
}

// Scope selects the side of a unit a property applies to.
type Scope int

const (
	ScopeInput Scope = iota
	ScopeOutput
)

func (s Scope) String() string {
	if s == ScopeOutput {
		return "output"
	}
	return "input"
}

// RenderFunc is invoked on the backend's real-time thread once per hardware
// period with the number of frames available. It must not block.
type RenderFunc func(frames int) error

// Unit is a hardware capture unit. Configuration methods are called from a
// single goroutine during open; Render is only valid from inside the
// installed RenderFunc.
type Unit interface {
	EnableIO(scope Scope, enable bool) error
	SetDevice(d Device) error
	SetStreamFormat(scope Scope, f pcm.StreamFormat) error
	SetBufferFrameSize(frames int) error
	SetRenderCallback(fn RenderFunc) error
	Initialize() error
	Start() error
	// Stop halts the stream. No RenderFunc invocation is in flight or will
	// begin after Stop returns. Safe to call repeatedly.
	Stop() error
	// Dispose releases the unit. Safe to call repeatedly.
	Dispose() error
	// Render copies frames of captured audio into dst, encoded in the
	// configured stream format.
	Render(dst []byte, frames int) error
}

// Backend is a platform audio subsystem.
type Backend interface {
	Registry
	Name() string
	NewUnit() (Unit, error)
	Close() error
}

// WithDefault prepends the synthetic default entry to a device list.
func WithDefault(devices []DeviceDescriptor) []DeviceDescriptor {
	out := make([]DeviceDescriptor, 0, len(devices)+1)
	out = append(out, DeviceDescriptor{
		ID:          DefaultDeviceID,
		Name:        "Default",
		Description: "System default input device",
		MediaTypes:  []string{"audio"},
	})
	return append(out, devices...)
}
