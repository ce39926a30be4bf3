package capture

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/petems/pcmcap/internal/pcm"
)

func newTestEngine(t *testing.T, capacity, maxFailures int) (*Engine, *fakeUnit, *FrameQueue, *BufferPool) {
	t.Helper()
	f, err := pcm.NewStreamFormat(48000, 2, pcm.S16, pcm.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	u := &fakeUnit{}
	q := NewFrameQueue(capacity)
	p := NewBufferPool(capacity+poolSlack, 2*256*f.BytesPerFrame())
	e := NewEngine(u, q, p, maxFailures, zerolog.Nop())
	if err := e.Open(&fakeDevice{uid: "dev"}, f, 256); err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	return e, u, q, p
}

func TestEngineOpenStepOrder(t *testing.T) {
	_, u, _, _ := newTestEngine(t, 4, 0)

	want := []string{
		"io:input:true",
		"io:output:false",
		"device",
		"format:input",
		"format:output",
		"frames",
		"callback",
		"initialize",
		"start",
	}
	if len(u.calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), u.calls)
	}
	for i := range want {
		if u.calls[i] != want[i] {
			t.Errorf("call %d: expected %s, got %s", i, want[i], u.calls[i])
		}
	}
	if u.frames != 256 || !u.started {
		t.Errorf("expected 256 frames and started unit, got %d/%t", u.frames, u.started)
	}
}

func TestEngineOpenFailureNamesStep(t *testing.T) {
	tests := []struct {
		failStep string
		wantStep string
	}{
		{"io:input:true", "enable input"},
		{"io:output:false", "disable output"},
		{"device", "set device"},
		{"format:input", "set input stream format"},
		{"format:output", "set output stream format"},
		{"frames", "set buffer frame size"},
		{"callback", "set render callback"},
		{"initialize", "initialize"},
		{"start", "start"},
	}

	f, _ := pcm.NewStreamFormat(48000, 1, pcm.S16, pcm.LittleEndian)
	for _, tt := range tests {
		t.Run(tt.wantStep, func(t *testing.T) {
			u := &fakeUnit{failStep: tt.failStep}
			e := NewEngine(u, NewFrameQueue(1), NewBufferPool(3, 64), 0, zerolog.Nop())

			err := e.Open(&fakeDevice{uid: "dev"}, f, 16)
			if !errors.Is(err, ErrHardwareConfigurationFailed) || !errors.Is(err, errFakeStep) {
				t.Fatalf("expected wrapped hardware error, got %v", err)
			}
			var hw *HardwareError
			if !errors.As(err, &hw) || hw.Step != tt.wantStep {
				t.Fatalf("expected step %q, got %v", tt.wantStep, err)
			}

			if err := e.Dispose(); err != nil {
				t.Fatalf("unexpected dispose error: %v", err)
			}
			if u.stops != 0 {
				t.Errorf("expected no stop on a unit that never started, got %d", u.stops)
			}
			if u.disposes != 1 {
				t.Errorf("expected one dispose, got %d", u.disposes)
			}
		})
	}
}

func TestEngineDropsNewestWhenFull(t *testing.T) {
	e, u, q, p := newTestEngine(t, 1, 0)

	if err := u.produce(256); err != nil {
		t.Fatal(err)
	}
	if err := u.produce(256); err != nil {
		t.Fatal(err)
	}

	st := e.Stats()
	if st.Enqueued != 1 || st.Dropped != 1 {
		t.Fatalf("expected 1 enqueued and 1 dropped, got %+v", st)
	}

	b, ok := q.TryDequeue()
	if !ok {
		t.Fatal("expected survivor buffer")
	}
	if b.Bytes()[0] != 0 {
		t.Fatalf("expected oldest buffer to survive, got seq %d", b.Bytes()[0])
	}
	if _, ok := q.TryDequeue(); ok {
		t.Fatal("expected exactly one surviving buffer")
	}

	// The dropped buffer is the callback's spare, then back in the pool.
	if e.spare == nil {
		t.Fatal("expected dropped buffer to be kept as spare")
	}
	b.Release()
	e.Stop()
	e.Dispose()
	if p.Available() != p.Size() {
		t.Fatalf("expected %d buffers in pool, got %d", p.Size(), p.Available())
	}
}

func TestEngineReusesSpareWithoutGrowing(t *testing.T) {
	e, u, q, p := newTestEngine(t, 2, 0)

	for i := 0; i < 50; i++ {
		u.produce(256)
	}
	if q.Count() != 2 {
		t.Fatalf("expected queue at capacity 2, got %d", q.Count())
	}
	// Two queued plus the spare; nothing beyond the pool is ever used.
	if p.Available() != p.Size()-3 {
		t.Fatalf("expected %d buffers in pool, got %d", p.Size()-3, p.Available())
	}
	if e.Stats().Dropped != 48 {
		t.Fatalf("expected 48 drops, got %d", e.Stats().Dropped)
	}
}

func TestEngineRenderFailureReleasesBuffer(t *testing.T) {
	e, u, q, _ := newTestEngine(t, 4, 0)
	u.renderErr = errors.New("device gone")

	if err := u.produce(256); !errors.Is(err, ErrRenderFailed) {
		t.Fatalf("expected ErrRenderFailed from callback, got %v", err)
	}
	if q.Count() != 0 {
		t.Fatal("failed render must not enqueue")
	}
	if e.Stats().RenderFailures != 1 {
		t.Fatalf("expected 1 render failure, got %d", e.Stats().RenderFailures)
	}
	if e.Fault() != nil {
		t.Fatal("expected no latched fault without a limit")
	}

	u.renderErr = nil
	if err := u.produce(256); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if q.Count() != 1 {
		t.Fatalf("expected 1 queued after recovery, got %d", q.Count())
	}
}

func TestEngineLatchesFaultAfterConsecutiveFailures(t *testing.T) {
	e, u, _, _ := newTestEngine(t, 4, 3)
	u.renderErr = errors.New("device gone")

	u.produce(256)
	u.produce(256)
	if e.Fault() != nil {
		t.Fatal("fault latched too early")
	}
	u.produce(256)

	err := e.Fault()
	if !errors.Is(err, ErrRenderFailed) {
		t.Fatalf("expected latched ErrRenderFailed, got %v", err)
	}

	// Once latched the callback stops rendering.
	u.renderErr = nil
	if err := u.produce(256); !errors.Is(err, ErrRenderFailed) {
		t.Fatalf("expected callback to refuse after fault, got %v", err)
	}
}

func TestEngineOversizedRequestIsDropped(t *testing.T) {
	e, u, q, _ := newTestEngine(t, 4, 0)

	// Pool buffers hold 512 frames.
	u.produce(513)
	if q.Count() != 0 || e.Stats().Oversized != 1 {
		t.Fatalf("expected oversized drop, got %+v", e.Stats())
	}
	u.produce(0)
	if q.Count() != 0 {
		t.Fatal("zero-frame callback must not enqueue")
	}
}

func TestEnginePoolExhausted(t *testing.T) {
	e, u, q, p := newTestEngine(t, 8, 0)

	held := []*Buffer{}
	for b := p.Get(); b != nil; b = p.Get() {
		held = append(held, b)
	}
	u.produce(256)
	if q.Count() != 0 || e.Stats().PoolExhausted != 1 {
		t.Fatalf("expected pool exhaustion, got %+v", e.Stats())
	}
	for _, b := range held {
		b.Release()
	}
}

func TestEngineStopIdempotent(t *testing.T) {
	e, u, _, _ := newTestEngine(t, 1, 0)
	for i := 0; i < 3; i++ {
		if err := e.Stop(); err != nil {
			t.Fatal(err)
		}
	}
	if u.stops != 1 {
		t.Fatalf("expected unit stopped once, got %d", u.stops)
	}
	e.Dispose()
	e.Dispose()
	if u.disposes != 1 {
		t.Fatalf("expected unit disposed once, got %d", u.disposes)
	}
}
