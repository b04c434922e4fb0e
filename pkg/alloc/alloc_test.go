package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/weberc2/vdisk/pkg/types"
)

func TestBitmap(t *testing.T) {
	bm := New(20)
	assert.Equal(t, uint64(0), bm.CountSet())

	bm.Set(0)
	bm.Set(9)
	bm.Set(19)
	assert.True(t, bm.Test(0))
	assert.True(t, bm.Test(9))
	assert.True(t, bm.Test(19))
	assert.False(t, bm.Test(1))
	assert.Equal(t, uint64(3), bm.CountSet())

	bm.Clear(9)
	assert.False(t, bm.Test(9))
	assert.Equal(t, uint64(2), bm.CountSet())
}

func TestBitmapLoadRoundTrip(t *testing.T) {
	bm := New(100)
	bm.Set(3)
	bm.Set(64)
	bm.Set(99)

	loaded := Load(100, append([]byte(nil), bm.Bytes()...))
	assert.Equal(t, bm.CountSet(), loaded.CountSet())
	assert.True(t, loaded.Test(3))
	assert.True(t, loaded.Test(64))
	assert.True(t, loaded.Test(99))
}

func TestAllocatorReservesSentinel(t *testing.T) {
	ba := NewBlockAllocator(New(8))
	seen := map[Block]bool{}
	for {
		b, ok := ba.Alloc()
		if !ok {
			break
		}
		require.NotEqual(t, BlockNil, b, "allocator handed out the sentinel")
		require.False(t, seen[b], "block `%d` allocated twice", b)
		seen[b] = true
	}
	// slot 0 is reserved, so a size-8 bitmap yields 7 blocks
	assert.Len(t, seen, 7)
}

func TestAllocatorRotatingHint(t *testing.T) {
	ba := NewBlockAllocator(New(16))

	first, ok := ba.Alloc()
	require.True(t, ok)
	second, ok := ba.Alloc()
	require.True(t, ok)

	// freeing the first block must not drag the next allocation back to
	// the low end; the scan picks up after the last allocation
	require.NoError(t, ba.Free(first))
	third, ok := ba.Alloc()
	require.True(t, ok)
	assert.Greater(t, third, second)

	// once the high end is exhausted the scan wraps around to the freed
	// low block
	for {
		if _, ok := ba.Alloc(); !ok {
			break
		}
	}
	require.NoError(t, ba.Free(first))
	again, ok := ba.Alloc()
	require.True(t, ok)
	assert.Equal(t, first, again)
}

func TestDoubleFree(t *testing.T) {
	ba := NewBlockAllocator(New(8))
	b, ok := ba.Alloc()
	require.True(t, ok)
	require.NoError(t, ba.Free(b))
	assert.ErrorIs(t, ba.Free(b), DoubleFreeErr)
	assert.ErrorIs(t, ba.Free(BlockNil), DoubleFreeErr)
}

func TestInoAllocator(t *testing.T) {
	ia := NewInoAllocator(New(4))
	ia.Reserve(uint64(InoRoot))

	ino, ok := ia.Alloc()
	require.True(t, ok)
	assert.Equal(t, Ino(2), ino, "first allocation after the root")
	assert.True(t, ia.Test(InoRoot))
	assert.Equal(t, uint64(2), ia.CountSet())
}

func TestDirtyTracking(t *testing.T) {
	ba := NewBlockAllocator(New(8))
	assert.False(t, ba.Dirty())

	b, ok := ba.Alloc()
	require.True(t, ok)
	assert.True(t, ba.Dirty())

	ba.ClearDirty()
	assert.False(t, ba.Dirty())

	require.NoError(t, ba.Free(b))
	assert.True(t, ba.Dirty())
}
