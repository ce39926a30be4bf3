// Package capture bridges a real-time hardware capture callback to a
// pull-based packet reader.
//
// The render callback fills pooled buffers and pushes them into a
// lock-free FrameQueue; ReadPacket pops them on the consumer's schedule.
// Nothing in the package blocks the caller.
package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/petems/pcmcap/internal/hal"
	"github.com/petems/pcmcap/internal/pcm"
)

const (
	DefaultQueueCapacity     = 10
	DefaultBufferFrameSize   = 1024
	DefaultMaxRenderFailures = 16

	// poolSlack covers the buffer held by the callback and the one held by
	// the consumer on top of a full queue.
	poolSlack = 2
	// bufferHeadroom lets a callback ask for more frames than requested
	// without dropping.
	bufferHeadroom = 2
)

// Backend is what Open needs from a platform audio subsystem.
type Backend interface {
	hal.Registry
	NewUnit() (hal.Unit, error)
}

type Options struct {
	// Channels of 0 selects the device's preferred layout.
	Channels          int
	QueueCapacity     int
	BufferFrameSize   int
	BigEndian         bool
	SampleFormat      pcm.SampleFormat
	MaxRenderFailures int
	Logger            zerolog.Logger
}

func DefaultOptions() Options {
	return Options{
		QueueCapacity:     DefaultQueueCapacity,
		BufferFrameSize:   DefaultBufferFrameSize,
		SampleFormat:      pcm.S16,
		MaxRenderFailures: DefaultMaxRenderFailures,
		Logger:            zerolog.Nop(),
	}
}

func (o Options) validate() error {
	if o.Channels < 0 {
		return fmt.Errorf("%w: channels %d", ErrInvalidOptions, o.Channels)
	}
	if o.QueueCapacity < 1 {
		return fmt.Errorf("%w: queue capacity %d", ErrInvalidOptions, o.QueueCapacity)
	}
	if o.BufferFrameSize < 1 {
		return fmt.Errorf("%w: buffer frame size %d", ErrInvalidOptions, o.BufferFrameSize)
	}
	if o.MaxRenderFailures < 0 {
		return fmt.Errorf("%w: max render failures %d", ErrInvalidOptions, o.MaxRenderFailures)
	}
	return nil
}

func (o Options) endianness() pcm.Endianness {
	if o.BigEndian {
		return pcm.BigEndian
	}
	return pcm.LittleEndian
}

// Stats is a snapshot of a running session.
type Stats struct {
	EngineStats
	Packets  uint64
	Position int64
	Queued   int
}

// Session is one open capture device.
type Session struct {
	log    zerolog.Logger
	device hal.Device
	format pcm.StreamFormat

	engine *Engine
	queue  *FrameQueue
	pool   *BufferPool
	reader *PacketReader

	closeOnce      sync.Once
	closed         atomic.Bool
	oversizeWarned atomic.Bool
}

// Open negotiates the format, builds the queue and pool, and starts the
// capture unit. On error nothing is left running.
func Open(b Backend, deviceID string, opts Options) (*Session, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	dev, format, err := NewNegotiator(b).Negotiate(deviceID, Request{
		SampleFormat: opts.SampleFormat,
		Endianness:   opts.endianness(),
		Channels:     opts.Channels,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		log:    opts.Logger.With().Str("device", dev.UID()).Logger(),
		device: dev,
		format: format,
	}

	bufSize := bufferHeadroom * opts.BufferFrameSize * format.BytesPerFrame()
	s.pool = NewBufferPool(opts.QueueCapacity+poolSlack, bufSize)
	s.queue = NewFrameQueue(opts.QueueCapacity)

	unit, err := b.NewUnit()
	if err != nil {
		s.teardown()
		return nil, hwStep("create unit", err)
	}
	s.engine = NewEngine(unit, s.queue, s.pool, opts.MaxRenderFailures, s.log)
	if err := s.engine.Open(dev, format, opts.BufferFrameSize); err != nil {
		s.teardown()
		return nil, err
	}

	s.reader = NewPacketReader(s.queue, format.BytesPerFrame(), s.engine.Fault)
	s.log.Info().
		Str("name", dev.Name()).
		Str("codec", string(format.Codec())).
		Float64("sample_rate", format.SampleRate).
		Int("channels", format.Channels).
		Int("queue_capacity", opts.QueueCapacity).
		Int("buffer_frames", opts.BufferFrameSize).
		Msg("Capture session opened")
	return s, nil
}

// ReadPacket returns the next packet, ErrWouldBlock when none is queued,
// or ErrRenderFailed once the device has stopped delivering.
func (s *Session) ReadPacket() (*Packet, error) {
	if s.closed.Load() || s.reader == nil {
		return nil, ErrClosed
	}
	pkt, err := s.reader.ReadPacket()
	if errors.Is(err, ErrWouldBlock) {
		s.warnOversized()
	}
	return pkt, err
}

// warnOversized logs once when the device delivers periods larger than a
// pooled buffer, which are dropped whole.
func (s *Session) warnOversized() {
	n := s.engine.Stats().Oversized
	if n == 0 || !s.oversizeWarned.CompareAndSwap(false, true) {
		return
	}
	s.log.Warn().
		Uint64("oversized", n).
		Int("buffer_bytes", s.pool.BufferSize()).
		Msg("Device periods exceed the capture buffer; raise buffer_frame_size")
}

// Format is immutable for the life of the session.
func (s *Session) Format() pcm.StreamFormat { return s.format }

// Info is the stream metadata for the surrounding pipeline.
func (s *Session) Info() pcm.StreamInfo { return s.format.Info() }

func (s *Session) Stats() Stats {
	var st Stats
	if s.engine != nil {
		st.EngineStats = s.engine.Stats()
	}
	if s.reader != nil {
		st.Packets = s.reader.Packets()
		st.Position = s.reader.Position()
	}
	if q := s.queue; q != nil {
		st.Queued = q.Count()
	}
	return st
}

// Close stops the hardware, then drains and releases the queue. It is
// idempotent and always succeeds; stop and dispose failures are logged.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.teardown()
	})
	return nil
}

// teardown tolerates any partially built session. The unit is stopped
// before the queue is drained so the callback cannot refill it.
func (s *Session) teardown() {
	if s.engine != nil {
		if err := s.engine.Stop(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to stop capture unit")
		}
		if err := s.engine.Dispose(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to dispose capture unit")
		}
	}
	if s.queue != nil {
		if n := s.queue.DrainAndDiscard(); n > 0 {
			s.log.Debug().Int("buffers", n).Msg("Discarded queued buffers")
		}
	}
}
