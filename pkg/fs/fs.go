package fs

import (
	"fmt"
	"time"

	"github.com/weberc2/vdisk/pkg/alloc"
	"github.com/weberc2/vdisk/pkg/device"
	"github.com/weberc2/vdisk/pkg/math"

	. "github.com/weberc2/vdisk/pkg/types"
)

// FileSystem owns the mounted structures: the backing device, the
// superblock, both allocation bitmaps, and the geometry derived from the
// superblock's config. Directories and file handles borrow it by pointer
// and resolve everything else by index.
//
// A DoubleFreeErr poisons the mount: the allocator state can no longer be
// trusted, so every further operation fails with the original error.
type FileSystem struct {
	Device device.Device
	Super  Superblock
	Layout Layout
	Blocks alloc.BlockAllocator
	Inos   alloc.InoAllocator

	// Clock returns seconds for inode timestamps. Defaults to wall clock.
	Clock func() uint64

	poisoned error
}

func wallClock() uint64 { return uint64(time.Now().Unix()) }

func (fs *FileSystem) guard() error { return fs.poisoned }

func (fs *FileSystem) poison(err error) error {
	if fs.poisoned == nil {
		fs.poisoned = err
	}
	return err
}

func (fs *FileSystem) now() uint64 { return fs.Clock() }

// touchMTime advances the modification stamp without ever letting it move
// backwards; downstream sync tooling depends on monotonicity.
func touchMTime(fs *FileSystem, inode *Inode) {
	inode.MTime = math.Max(fs.now(), inode.MTime)
}

func touchATime(fs *FileSystem, inode *Inode) {
	inode.ATime = math.Max(fs.now(), inode.ATime)
}

// readRange reads p from the device's byte space (block-aligned or not).
func readRange(fs *FileSystem, offset Byte, p []byte) error {
	blockSize := fs.Super.Config.BlockSize
	scratch := make([]byte, blockSize)
	var done Byte
	for done < Byte(len(p)) {
		b := Block((offset + done) / blockSize)
		chunkOffset := (offset + done) % blockSize
		chunkLength := math.Min(Byte(len(p))-done, blockSize-chunkOffset)
		if err := fs.Device.ReadBlock(b, scratch); err != nil {
			return fmt.Errorf(
				"reading `%d` bytes at device offset `%d`: %w",
				len(p),
				offset,
				err,
			)
		}
		copy(p[done:done+chunkLength], scratch[chunkOffset:])
		done += chunkLength
	}
	return nil
}

// writeRange writes p into the device's byte space, read-modify-writing
// partially-covered blocks.
func writeRange(fs *FileSystem, offset Byte, p []byte) error {
	blockSize := fs.Super.Config.BlockSize
	scratch := make([]byte, blockSize)
	var done Byte
	for done < Byte(len(p)) {
		b := Block((offset + done) / blockSize)
		chunkOffset := (offset + done) % blockSize
		chunkLength := math.Min(Byte(len(p))-done, blockSize-chunkOffset)
		if chunkOffset != 0 || chunkLength != blockSize {
			if err := fs.Device.ReadBlock(b, scratch); err != nil {
				return fmt.Errorf(
					"writing `%d` bytes at device offset `%d`: %w",
					len(p),
					offset,
					err,
				)
			}
		}
		copy(scratch[chunkOffset:chunkOffset+chunkLength], p[done:done+chunkLength])
		if err := fs.Device.WriteBlock(b, scratch); err != nil {
			return fmt.Errorf(
				"writing `%d` bytes at device offset `%d`: %w",
				len(p),
				offset,
				err,
			)
		}
		done += chunkLength
	}
	return nil
}

// readDataBlock reads data block b (data-region numbering) into p.
func readDataBlock(fs *FileSystem, b Block, p []byte) error {
	return fs.Device.ReadBlock(fs.Layout.DataStart+b, p)
}

func writeDataBlock(fs *FileSystem, b Block, p []byte) error {
	return fs.Device.WriteBlock(fs.Layout.DataStart+b, p)
}

// Flush persists dirty bitmaps and flushes the backing device.
func Flush(fs *FileSystem) error {
	if err := fs.guard(); err != nil {
		return err
	}
	if fs.Inos.Dirty() {
		if err := storeBitmap(
			fs,
			fs.Layout.InoBitmapStart,
			fs.Inos.Bitmap(),
		); err != nil {
			return fmt.Errorf("flushing inode bitmap: %w", err)
		}
		fs.Inos.ClearDirty()
	}
	if fs.Blocks.Dirty() {
		if err := storeBitmap(
			fs,
			fs.Layout.BlockBitmapStart,
			fs.Blocks.Bitmap(),
		); err != nil {
			return fmt.Errorf("flushing block bitmap: %w", err)
		}
		fs.Blocks.ClearDirty()
	}
	if err := fs.Device.Flush(); err != nil {
		return fmt.Errorf("flushing device: %w", err)
	}
	return nil
}

// Close flushes and releases the device. It runs the release even when the
// flush fails so the device lock is dropped on every exit path.
func Close(fs *FileSystem) error {
	flushErr := Flush(fs)
	closeErr := fs.Device.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func storeBitmap(fs *FileSystem, start Block, bitmap alloc.Bitmap) error {
	blockSize := fs.Super.Config.BlockSize
	bytes := bitmap.Bytes()
	buf := make([]byte, blockSize)
	blocks := Block(math.DivRoundUp(Byte(len(bytes)), blockSize))
	for i := Block(0); i < blocks; i++ {
		for j := range buf {
			buf[j] = 0
		}
		begin := Byte(i) * blockSize
		end := math.Min(begin+blockSize, Byte(len(bytes)))
		copy(buf, bytes[begin:end])
		if err := fs.Device.WriteBlock(start+i, buf); err != nil {
			return fmt.Errorf("storing bitmap block `%d`: %w", i, err)
		}
	}
	return nil
}

func loadBitmap(
	fs *FileSystem,
	start Block,
	blocks Block,
	size uint64,
) (alloc.Bitmap, error) {
	blockSize := fs.Super.Config.BlockSize
	bytes := make([]byte, Byte(blocks)*blockSize)
	for i := Block(0); i < blocks; i++ {
		begin := Byte(i) * blockSize
		if err := fs.Device.ReadBlock(
			start+i,
			bytes[begin:begin+blockSize],
		); err != nil {
			return alloc.Bitmap{}, fmt.Errorf(
				"loading bitmap block `%d`: %w",
				i,
				err,
			)
		}
	}
	return alloc.Load(size, bytes), nil
}
