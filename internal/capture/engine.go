package capture

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/petems/pcmcap/internal/hal"
	"github.com/petems/pcmcap/internal/pcm"
)

// EngineStats are counters maintained by the render callback.
type EngineStats struct {
	Callbacks      uint64
	Enqueued       uint64
	Dropped        uint64 // queue full, newest buffer discarded
	PoolExhausted  uint64
	Oversized      uint64 // request larger than a pooled buffer
	RenderFailures uint64
}

type engineCounters struct {
	callbacks      atomic.Uint64
	enqueued       atomic.Uint64
	dropped        atomic.Uint64
	poolExhausted  atomic.Uint64
	oversized      atomic.Uint64
	renderFailures atomic.Uint64
}

type renderFault struct {
	err error
}

// Engine owns one hardware capture unit and its render callback.
//
// On a full queue the engine drops the newest buffer: the buffer stays
// with the callback as its spare and is reused on the next invocation, so
// the callback neither allocates nor frees.
type Engine struct {
	log         zerolog.Logger
	unit        hal.Unit
	queue       *FrameQueue
	pool        *BufferPool
	maxFailures int64

	format pcm.StreamFormat
	bpf    int

	// Owned by the callback while the unit runs.
	spare *Buffer

	consecutive atomic.Int64
	fault       atomic.Pointer[renderFault]
	stats       engineCounters

	mu       sync.Mutex
	running  bool
	disposed bool
}

// NewEngine wires a unit to a queue and pool. maxFailures of 0 never
// latches a fault.
func NewEngine(unit hal.Unit, queue *FrameQueue, pool *BufferPool, maxFailures int, log zerolog.Logger) *Engine {
	return &Engine{
		log:         log,
		unit:        unit,
		queue:       queue,
		pool:        pool,
		maxFailures: int64(maxFailures),
	}
}

// Open configures and starts the unit. Any failure names the step; the
// caller unwinds with Stop and Dispose.
func (e *Engine) Open(dev hal.Device, f pcm.StreamFormat, bufferFrames int) error {
	if err := f.Validate(); err != nil {
		return hwStep("validate stream format", err)
	}
	e.format = f
	e.bpf = f.BytesPerFrame()

	steps := []struct {
		name string
		fn   func() error
	}{
		{"enable input", func() error { return e.unit.EnableIO(hal.ScopeInput, true) }},
		{"disable output", func() error { return e.unit.EnableIO(hal.ScopeOutput, false) }},
		{"set device", func() error { return e.unit.SetDevice(dev) }},
		{"set input stream format", func() error { return e.unit.SetStreamFormat(hal.ScopeInput, f) }},
		{"set output stream format", func() error { return e.unit.SetStreamFormat(hal.ScopeOutput, f) }},
		{"set buffer frame size", func() error { return e.unit.SetBufferFrameSize(bufferFrames) }},
		{"set render callback", func() error { return e.unit.SetRenderCallback(e.render) }},
		{"initialize", e.unit.Initialize},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return hwStep(s.name, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.unit.Start(); err != nil {
		return hwStep("start", err)
	}
	e.running = true
	e.log.Debug().
		Str("device", dev.UID()).
		Str("format", f.String()).
		Int("buffer_frames", bufferFrames).
		Msg("Capture unit started")
	return nil
}

// render runs on the backend's real-time thread.
func (e *Engine) render(frames int) error {
	e.stats.callbacks.Add(1)
	if frames <= 0 {
		return nil
	}
	if e.fault.Load() != nil {
		return ErrRenderFailed
	}

	buf := e.spare
	e.spare = nil
	if buf == nil {
		if buf = e.pool.Get(); buf == nil {
			e.stats.poolExhausted.Add(1)
			return nil
		}
	}

	need := frames * e.bpf
	if need > buf.Cap() {
		e.spare = buf
		e.stats.oversized.Add(1)
		return nil
	}

	dst := buf.data[:need]
	clear(dst)
	if err := e.unit.Render(dst, frames); err != nil {
		e.spare = buf
		e.stats.renderFailures.Add(1)
		if n := e.consecutive.Add(1); e.maxFailures > 0 && n >= e.maxFailures {
			e.fault.CompareAndSwap(nil, &renderFault{err: err})
		}
		return ErrRenderFailed
	}
	e.consecutive.Store(0)
	buf.n = need

	if !e.queue.TryEnqueue(buf) {
		e.spare = buf
		e.stats.dropped.Add(1)
		return nil
	}
	e.stats.enqueued.Add(1)
	return nil
}

// Fault reports a latched render failure, meaning the device is gone.
func (e *Engine) Fault() error {
	f := e.fault.Load()
	if f == nil {
		return nil
	}
	return fmt.Errorf("%w: %d consecutive failures: %w", ErrRenderFailed, e.maxFailures, f.err)
}

// Stop halts the unit. Once it returns the callback no longer runs.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	e.running = false
	return e.unit.Stop()
}

// Dispose stops and releases the unit and hands the callback's spare back
// to the pool.
func (e *Engine) Dispose() error {
	stopErr := e.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return stopErr
	}
	e.disposed = true
	if e.spare != nil {
		e.spare.Release()
		e.spare = nil
	}
	if err := e.unit.Dispose(); err != nil {
		return err
	}
	return stopErr
}

func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Callbacks:      e.stats.callbacks.Load(),
		Enqueued:       e.stats.enqueued.Load(),
		Dropped:        e.stats.dropped.Load(),
		PoolExhausted:  e.stats.poolExhausted.Load(),
		Oversized:      e.stats.oversized.Load(),
		RenderFailures: e.stats.renderFailures.Load(),
	}
}
