package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/pcmcap/internal/capture"
	"github.com/petems/pcmcap/internal/sink"
)

// maxBackoffFactor bounds the idle delay at this multiple of the poll
// interval.
const maxBackoffFactor = 8

// nextIdle doubles the delay between empty reads up to limit.
func nextIdle(d, limit time.Duration) time.Duration {
	return min(2*d, limit)
}

// Source is a pull-based packet reader such as *capture.Session.
type Source interface {
	ReadPacket() (*capture.Packet, error)
	Stats() capture.Stats
	Close() error
}

type Config struct {
	Source        Source
	Sink          sink.Sink
	PollInterval  time.Duration
	StatsInterval time.Duration // 0 disables periodic stats
	Logger        zerolog.Logger
}

// App pulls packets from a Source on its own cadence and hands them to a
// Sink.
type App struct {
	src   Source
	sink  sink.Sink
	poll  time.Duration
	every time.Duration
	log   zerolog.Logger

	mu       sync.Mutex
	running  bool
	shutdown bool
}

func New(cfg Config) *App {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Millisecond
	}
	return &App{
		src:   cfg.Source,
		sink:  cfg.Sink,
		poll:  poll,
		every: cfg.StatsInterval,
		log:   cfg.Logger,
	}
}

// Run reads until ctx is cancelled, the sink fails, or the source reports
// a fatal error. Cancellation is not an error.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running || a.shutdown {
		a.mu.Unlock()
		return fmt.Errorf("app already running or shut down")
	}
	a.running = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	a.log.Info().Msg("Capture started")

	idle := a.poll
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	lastStats := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		pkt, err := a.src.ReadPacket()
		switch {
		case errors.Is(err, capture.ErrWouldBlock):
			timer.Reset(idle)
			idle = nextIdle(idle, a.poll*maxBackoffFactor)
			select {
			case <-ctx.Done():
				return nil
			case <-timer.C:
			}
			continue
		case err != nil:
			a.log.Error().Err(err).Msg("Capture failed")
			return err
		}
		idle = a.poll

		werr := a.sink.WritePacket(pkt)
		pkt.Release()
		if werr != nil {
			a.log.Error().Err(werr).Msg("Sink write failed")
			return fmt.Errorf("write packet: %w", werr)
		}

		if a.every > 0 && time.Since(lastStats) >= a.every {
			lastStats = time.Now()
			a.logStats()
		}
	}
}

func (a *App) logStats() {
	st := a.src.Stats()
	a.log.Info().
		Uint64("packets", st.Packets).
		Int64("position", st.Position).
		Int("queued", st.Queued).
		Uint64("dropped", st.Dropped).
		Uint64("pool_exhausted", st.PoolExhausted).
		Uint64("oversized", st.Oversized).
		Uint64("render_failures", st.RenderFailures).
		Msg("Capture stats")
}

// Shutdown closes the source, then the sink. Call it after Run returns.
func (a *App) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.shutdown {
		return nil
	}
	a.shutdown = true

	a.src.Close()
	a.logStats()
	if err := a.sink.Close(); err != nil {
		return fmt.Errorf("close sink: %w", err)
	}
	return nil
}

func (a *App) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
