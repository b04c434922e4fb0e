package device

import (
	"fmt"

	. "github.com/weberc2/vdisk/pkg/types"
)

var _ HeaderDevice = (*Mem)(nil)

// Mem backs the block space with a vector of in-memory buffers. It exists
// for ephemeral filesystems and for tests; Flush is a no-op.
type Mem struct {
	blockSize Byte
	blocks    [][]byte
	header    []byte
	closed    bool
}

func NewMem(blockSize Byte, numBlocks Block) *Mem {
	return NewMemWithHeader(blockSize, numBlocks, 0)
}

func NewMemWithHeader(blockSize Byte, numBlocks Block, headerSize Byte) *Mem {
	blocks := make([][]byte, numBlocks)
	for i := range blocks {
		blocks[i] = make([]byte, blockSize)
	}
	return &Mem{
		blockSize: blockSize,
		blocks:    blocks,
		header:    make([]byte, headerSize),
	}
}

func (mem *Mem) check(n Block, p []byte) error {
	if mem.closed {
		return fmt.Errorf("block `%d`: device closed: %w", n, IOErr)
	}
	if n >= Block(len(mem.blocks)) {
		return fmt.Errorf(
			"block `%d` beyond device size `%d`: %w",
			n,
			len(mem.blocks),
			OutOfRangeErr,
		)
	}
	if Byte(len(p)) != mem.blockSize {
		return fmt.Errorf(
			"block `%d`: buffer is `%d` bytes; block size is `%d`: %w",
			n,
			len(p),
			mem.blockSize,
			BadSizeErr,
		)
	}
	return nil
}

func (mem *Mem) ReadBlock(n Block, p []byte) error {
	if err := mem.check(n, p); err != nil {
		return fmt.Errorf("reading block: %w", err)
	}
	copy(p, mem.blocks[n])
	return nil
}

func (mem *Mem) WriteBlock(n Block, p []byte) error {
	if err := mem.check(n, p); err != nil {
		return fmt.Errorf("writing block: %w", err)
	}
	copy(mem.blocks[n], p)
	return nil
}

func (mem *Mem) Flush() error { return nil }

func (mem *Mem) Close() error {
	mem.closed = true
	return nil
}

func (mem *Mem) NumBlocks() Block { return Block(len(mem.blocks)) }
func (mem *Mem) BlockSize() Byte  { return mem.blockSize }
func (mem *Mem) HeaderSize() Byte { return Byte(len(mem.header)) }

func (mem *Mem) ReadHeader(p []byte) error {
	if Byte(len(p)) != Byte(len(mem.header)) {
		return fmt.Errorf(
			"reading header: buffer is `%d` bytes; header is `%d`: %w",
			len(p),
			len(mem.header),
			BadSizeErr,
		)
	}
	copy(p, mem.header)
	return nil
}

func (mem *Mem) WriteHeader(p []byte) error {
	if Byte(len(p)) != Byte(len(mem.header)) {
		return fmt.Errorf(
			"writing header: buffer is `%d` bytes; header is `%d`: %w",
			len(p),
			len(mem.header),
			BadSizeErr,
		)
	}
	copy(mem.header, p)
	return nil
}
