package capture

import (
	"fmt"
	"sync/atomic"
)

// Packet is one captured buffer presented to the pipeline. Data aliases
// the pooled buffer; call Release when done with it.
type Packet struct {
	Data []byte
	// PTS is the sample-frame position of the first frame, in units of
	// 1/sample rate.
	PTS int64
	// Frames is len(Data) / bytes per frame.
	Frames   int64
	Keyframe bool

	buf *Buffer
}

// Release returns the packet's buffer to the capture pool. Data must not
// be used afterwards.
func (p *Packet) Release() {
	if p == nil || p.buf == nil {
		return
	}
	p.buf.Release()
	p.buf = nil
	p.Data = nil
}

// PacketReader converts queued buffers into timestamped packets. It is
// used from a single consumer goroutine.
type PacketReader struct {
	queue *FrameQueue
	bpf   int
	fault func() error

	position atomic.Int64
	packets  atomic.Uint64
}

// NewPacketReader reads from q. fault, when non-nil, is consulted once the
// queue is empty so a dead device surfaces instead of endless WouldBlock.
func NewPacketReader(q *FrameQueue, bytesPerFrame int, fault func() error) *PacketReader {
	return &PacketReader{queue: q, bpf: bytesPerFrame, fault: fault}
}

// ReadPacket never blocks. It returns ErrWouldBlock when no buffer is
// queued.
func (r *PacketReader) ReadPacket() (*Packet, error) {
	buf, ok := r.queue.TryDequeue()
	if !ok {
		if r.fault != nil {
			if err := r.fault(); err != nil {
				return nil, err
			}
		}
		return nil, ErrWouldBlock
	}

	pts := r.position.Load()
	pkt, err := r.wrap(buf, pts)
	if err != nil {
		buf.Release()
		return nil, err
	}
	r.position.Store(pts + pkt.Frames)
	r.packets.Add(1)
	return pkt, nil
}

func (r *PacketReader) wrap(buf *Buffer, pts int64) (*Packet, error) {
	n := buf.Len()
	if n == 0 || r.bpf <= 0 || n%r.bpf != 0 {
		return nil, fmt.Errorf("%w: %d bytes with %d bytes per frame", ErrMalformedBuffer, n, r.bpf)
	}
	return &Packet{
		Data:     buf.Bytes(),
		PTS:      pts,
		Frames:   int64(n / r.bpf),
		Keyframe: true,
		buf:      buf,
	}, nil
}

// Position is the capture position in sample frames.
func (r *PacketReader) Position() int64 { return r.position.Load() }

func (r *PacketReader) Packets() uint64 { return r.packets.Load() }
