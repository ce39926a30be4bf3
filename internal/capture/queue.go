package capture

import "github.com/petems/pcmcap/internal/ring"

// FrameQueue hands captured buffers from the real-time callback to the
// packet reader. Enqueue belongs to the callback, dequeue to the reader.
type FrameQueue struct {
	r *ring.SPSC[*Buffer]
}

func NewFrameQueue(capacity int) *FrameQueue {
	return &FrameQueue{r: ring.New[*Buffer](capacity)}
}

// TryEnqueue transfers ownership of b to the queue. It returns false
// immediately if the queue is full, and the caller keeps b.
func (q *FrameQueue) TryEnqueue(b *Buffer) bool {
	return q.r.TryPush(b)
}

// TryDequeue transfers ownership of the oldest buffer to the caller.
func (q *FrameQueue) TryDequeue() (*Buffer, bool) {
	return q.r.TryPop()
}

// Count is approximate under concurrent use but never exceeds what the
// consumer can dequeue nor the capacity.
func (q *FrameQueue) Count() int { return q.r.Len() }

func (q *FrameQueue) Capacity() int { return q.r.Cap() }

// DrainAndDiscard releases every queued buffer and returns how many there
// were. The producer must already be stopped.
func (q *FrameQueue) DrainAndDiscard() int {
	n := 0
	for {
		b, ok := q.r.TryPop()
		if !ok {
			return n
		}
		b.Release()
		n++
	}
}
