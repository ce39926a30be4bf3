package pcm

import (
	"encoding/binary"
	"math"
)

// PutInt16s encodes src into dst and returns the number of bytes written.
// dst must hold 2*len(src) bytes.
func PutInt16s(dst []byte, src []int16, order binary.ByteOrder) int {
	for i, s := range src {
		order.PutUint16(dst[i*2:], uint16(s))
	}
	return len(src) * 2
}

// PutInt32s encodes src into dst; dst must hold 4*len(src) bytes.
func PutInt32s(dst []byte, src []int32, order binary.ByteOrder) int {
	for i, s := range src {
		order.PutUint32(dst[i*4:], uint32(s))
	}
	return len(src) * 4
}

// PutFloat32s encodes src into dst; dst must hold 4*len(src) bytes.
func PutFloat32s(dst []byte, src []float32, order binary.ByteOrder) int {
	for i, s := range src {
		order.PutUint32(dst[i*4:], math.Float32bits(s))
	}
	return len(src) * 4
}

// Swap reverses the byte order of every width-byte sample in b.
func Swap(b []byte, width int) {
	switch width {
	case 2:
		for i := 0; i+1 < len(b); i += 2 {
			b[i], b[i+1] = b[i+1], b[i]
		}
	case 4:
		for i := 0; i+3 < len(b); i += 4 {
			b[i], b[i+1], b[i+2], b[i+3] = b[i+3], b[i+2], b[i+1], b[i]
		}
	}
}
