package alloc

import (
	"math/bits"

	"github.com/weberc2/vdisk/pkg/math"
)

const bitsPerByte = 8

// Bitmap is a packed bit-vector: bit i set means slot i is in use.
type Bitmap struct {
	bytes []byte
	size  uint64
}

func New(size uint64) Bitmap {
	return Bitmap{
		bytes: make([]byte, math.DivRoundUp(size, bitsPerByte)),
		size:  size,
	}
}

// Load adopts previously-persisted bitmap bytes. The slice may be longer
// than strictly needed (block padding); the tail must be zero.
func Load(size uint64, bytes []byte) Bitmap {
	return Bitmap{bytes: bytes[:math.DivRoundUp(size, bitsPerByte)], size: size}
}

func (bm Bitmap) Size() uint64 { return bm.size }

func (bm Bitmap) Bytes() []byte { return bm.bytes }

func (bm Bitmap) Test(i uint64) bool {
	return bm.bytes[i/bitsPerByte]&(1<<(i%bitsPerByte)) != 0
}

func (bm Bitmap) Set(i uint64) {
	bm.bytes[i/bitsPerByte] |= 1 << (i % bitsPerByte)
}

func (bm Bitmap) Clear(i uint64) {
	bm.bytes[i/bitsPerByte] &^= 1 << (i % bitsPerByte)
}

// CountSet counts the in-use slots. Bits beyond Size() are never set, so a
// plain popcount over the backing bytes suffices.
func (bm Bitmap) CountSet() uint64 {
	var count uint64
	for _, b := range bm.bytes {
		count += uint64(bits.OnesCount8(b))
	}
	return count
}
