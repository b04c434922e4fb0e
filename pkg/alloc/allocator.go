package alloc

import (
	"fmt"

	. "github.com/weberc2/vdisk/pkg/types"
)

// Allocator hands out free slots from a bitmap. Allocation is first-fit
// scanning from a rotating hint so freshly-freed low slots don't pin every
// allocation to the low end of the disk; ties go to the lowest index at or
// after the hint. Slots below `reserved` (the zero-sentinel slots) are
// never handed out.
type Allocator struct {
	bitmap   Bitmap
	reserved uint64
	next     uint64
	dirty    bool
}

func NewAllocator(bitmap Bitmap, reserved uint64) *Allocator {
	return &Allocator{bitmap: bitmap, reserved: reserved, next: reserved}
}

func (alloc *Allocator) Bitmap() Bitmap { return alloc.bitmap }

// Alloc returns a free slot, or false if the bitmap is exhausted.
func (alloc *Allocator) Alloc() (uint64, bool) {
	size := alloc.bitmap.Size()
	if alloc.next < alloc.reserved || alloc.next >= size {
		alloc.next = alloc.reserved
	}
	for scanned := uint64(0); scanned < size-alloc.reserved; scanned++ {
		i := alloc.next
		alloc.next++
		if alloc.next >= size {
			alloc.next = alloc.reserved
		}
		if !alloc.bitmap.Test(i) {
			alloc.bitmap.Set(i)
			alloc.dirty = true
			return i, true
		}
	}
	return 0, false
}

// Reserve marks a specific slot in use (format-time bookkeeping for the
// root inode).
func (alloc *Allocator) Reserve(i uint64) {
	alloc.bitmap.Set(i)
	alloc.dirty = true
}

// Free releases slot i. Freeing a slot that isn't allocated indicates
// corruption and fails with DoubleFreeErr.
func (alloc *Allocator) Free(i uint64) error {
	if i >= alloc.bitmap.Size() || !alloc.bitmap.Test(i) {
		return fmt.Errorf("freeing slot `%d`: %w", i, DoubleFreeErr)
	}
	alloc.bitmap.Clear(i)
	alloc.dirty = true
	return nil
}

func (alloc *Allocator) CountSet() uint64 { return alloc.bitmap.CountSet() }

// Dirty reports whether the bitmap changed since the last ClearDirty.
func (alloc *Allocator) Dirty() bool { return alloc.dirty }

func (alloc *Allocator) ClearDirty() { alloc.dirty = false }
