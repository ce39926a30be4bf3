package capture

import (
	"errors"
	"fmt"

	"github.com/petems/pcmcap/internal/pcm"
)

var (
	ErrDeviceNotFound                = errors.New("device not found")
	ErrUnsupportedSampleFormat       = pcm.ErrUnsupportedSampleFormat
	ErrChannelLayoutResolutionFailed = errors.New("channel layout resolution failed")
	ErrHardwareConfigurationFailed   = errors.New("hardware configuration failed")
	ErrRenderFailed                  = errors.New("render failed")
	// ErrQueueFull never leaves the engine; full queues are handled by
	// dropping the newest buffer.
	ErrQueueFull = errors.New("frame queue full")
	// ErrWouldBlock means no packet is ready yet. It is not a failure.
	ErrWouldBlock = errors.New("no packet available")
	// ErrMalformedBuffer is returned when a captured buffer cannot be
	// wrapped as a packet.
	ErrMalformedBuffer = errors.New("malformed capture buffer")
	ErrClosed          = errors.New("session closed")
	ErrInvalidOptions  = errors.New("invalid capture options")
)

// HardwareError is a failed native property get/set during open. It
// matches both ErrHardwareConfigurationFailed and the backend's error.
type HardwareError struct {
	Step string
	Err  error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("hardware configuration failed: %s: %v", e.Step, e.Err)
}

func (e *HardwareError) Unwrap() []error {
	return []error{ErrHardwareConfigurationFailed, e.Err}
}

func hwStep(step string, err error) error {
	if err == nil {
		return nil
	}
	return &HardwareError{Step: step, Err: err}
}
