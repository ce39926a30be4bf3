package capture

import (
	"sync/atomic"

	"github.com/petems/pcmcap/internal/ring"
)

// Buffer is one callback's worth of captured audio. It has exactly one
// owner at a time: the pool, the engine, the queue or a packet.
type Buffer struct {
	data   []byte
	n      int
	pool   *BufferPool
	pooled atomic.Bool
}

// Bytes returns the valid captured bytes.
func (b *Buffer) Bytes() []byte { return b.data[:b.n] }

func (b *Buffer) Len() int { return b.n }

func (b *Buffer) Cap() int { return len(b.data) }

// Release returns the buffer to its pool. Releasing twice is a no-op.
func (b *Buffer) Release() {
	if b == nil || b.pool == nil {
		return
	}
	b.pool.put(b)
}

// BufferPool is a fixed set of equally sized buffers, allocated up front.
// Get belongs to the real-time producer and Release to the consumer side,
// which keeps the free list single-producer/single-consumer.
type BufferPool struct {
	free  *ring.SPSC[*Buffer]
	size  int
	count int
}

func NewBufferPool(count, size int) *BufferPool {
	p := &BufferPool{
		free:  ring.New[*Buffer](count),
		size:  size,
		count: count,
	}
	for i := 0; i < count; i++ {
		b := &Buffer{data: make([]byte, size), pool: p}
		b.pooled.Store(true)
		p.free.TryPush(b)
	}
	return p
}

// Get returns nil when every buffer is in use.
func (p *BufferPool) Get() *Buffer {
	b, ok := p.free.TryPop()
	if !ok {
		return nil
	}
	b.pooled.Store(false)
	b.n = 0
	return b
}

func (p *BufferPool) put(b *Buffer) {
	if !b.pooled.CompareAndSwap(false, true) {
		return
	}
	p.free.TryPush(b)
}

// Available is the number of buffers currently in the pool.
func (p *BufferPool) Available() int { return p.free.Len() }

func (p *BufferPool) Size() int { return p.count }

// BufferSize is the byte capacity of each buffer.
func (p *BufferPool) BufferSize() int { return p.size }
