package alloc

import . "github.com/weberc2/vdisk/pkg/types"

// BlockAllocator wraps an Allocator with Block typing. Slot 0 is the nil
// sentinel; the underlying allocator is constructed with one reserved slot
// so BlockNil is never handed out.
type BlockAllocator struct {
	*Allocator
}

func NewBlockAllocator(bitmap Bitmap) BlockAllocator {
	return BlockAllocator{NewAllocator(bitmap, 1)}
}

func (ba BlockAllocator) Alloc() (Block, bool) {
	if b, ok := ba.Allocator.Alloc(); ok {
		return Block(b), true
	}
	return BlockNil, false
}

func (ba BlockAllocator) Free(b Block) error {
	return ba.Allocator.Free(uint64(b))
}

func (ba BlockAllocator) Test(b Block) bool {
	return ba.Allocator.Bitmap().Test(uint64(b))
}
