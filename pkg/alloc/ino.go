package alloc

import . "github.com/weberc2/vdisk/pkg/types"

// InoAllocator wraps an Allocator with Ino typing. Ino 0 is reserved.
type InoAllocator struct {
	*Allocator
}

func NewInoAllocator(bitmap Bitmap) InoAllocator {
	return InoAllocator{NewAllocator(bitmap, 1)}
}

func (ia InoAllocator) Alloc() (Ino, bool) {
	if ino, ok := ia.Allocator.Alloc(); ok {
		return Ino(ino), true
	}
	return InoNil, false
}

func (ia InoAllocator) Free(ino Ino) error {
	return ia.Allocator.Free(uint64(ino))
}

func (ia InoAllocator) Test(ino Ino) bool {
	return ia.Allocator.Bitmap().Test(uint64(ino))
}
