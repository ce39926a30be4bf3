// Package sink consumes captured packets on the pipeline side.
package sink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/petems/pcmcap/internal/capture"
)

// Sink receives packets in capture order. The packet is released by the
// caller after WritePacket returns, so implementations must copy what
// they keep.
type Sink interface {
	WritePacket(pkt *capture.Packet) error
	Close() error
}

// Writer streams raw PCM bytes to an io.Writer.
type Writer struct {
	w      *bufio.Writer
	closer io.Closer
	bytes  int64
}

// NewWriter wraps w. If w is an io.Closer it is closed by Close.
func NewWriter(w io.Writer) *Writer {
	s := &Writer{w: bufio.NewWriterSize(w, 64*1024)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenFile opens path for raw PCM output; "-" writes to stdout, which is
// flushed but never closed.
func OpenFile(path string) (*Writer, error) {
	if path == "-" {
		return &Writer{w: bufio.NewWriterSize(os.Stdout, 64*1024)}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return NewWriter(f), nil
}

func (s *Writer) WritePacket(pkt *capture.Packet) error {
	n, err := s.w.Write(pkt.Data)
	s.bytes += int64(n)
	return err
}

// Written is the number of PCM bytes accepted so far.
func (s *Writer) Written() int64 { return s.bytes }

func (s *Writer) Close() error {
	err := s.w.Flush()
	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
	}
	return err
}

// Multi fans packets out to every sink in order and stops at the first
// error.
type Multi []Sink

func (m Multi) WritePacket(pkt *capture.Packet) error {
	for _, s := range m {
		if err := s.WritePacket(pkt); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
