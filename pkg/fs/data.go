package fs

import (
	"fmt"

	"github.com/weberc2/vdisk/pkg/math"

	. "github.com/weberc2/vdisk/pkg/types"
)

// ReadInodeData reads up to len(p) bytes at offset out of inode's body,
// returning fewer only at EOF. Holes read as zeroes. The inode's atime is
// advanced and persisted.
func ReadInodeData(
	fs *FileSystem,
	inode *Inode,
	offset Byte,
	p []byte,
) (Byte, error) {
	if err := fs.guard(); err != nil {
		return 0, err
	}
	if offset >= inode.Size {
		return 0, nil
	}
	blockSize := fs.Super.Config.BlockSize
	maxLength := math.Min(Byte(len(p)), inode.Size-offset)
	scratch := make([]byte, blockSize)

	var done Byte
	for done < maxLength {
		logical := uint64((offset + done) / blockSize)
		chunkOffset := (offset + done) % blockSize
		chunkLength := math.Min(maxLength-done, blockSize-chunkOffset)
		chunk := p[done : done+chunkLength]

		b, err := BlockForRead(fs, inode, logical)
		if err != nil {
			return done, fmt.Errorf(
				"reading `%d` bytes from inode `%d` at offset `%d`: %w",
				len(p),
				inode.Ino,
				offset,
				err,
			)
		}
		if b == BlockNil {
			for i := range chunk {
				chunk[i] = 0
			}
		} else {
			if err := readDataBlock(fs, b, scratch); err != nil {
				return done, fmt.Errorf(
					"reading `%d` bytes from inode `%d` at offset `%d`: %w",
					len(p),
					inode.Ino,
					offset,
					err,
				)
			}
			copy(chunk, scratch[chunkOffset:])
		}
		done += chunkLength
	}

	touchATime(fs, inode)
	if err := StoreInode(fs, inode); err != nil {
		return done, fmt.Errorf(
			"reading from inode `%d`: updating atime: %w",
			inode.Ino,
			err,
		)
	}
	return done, nil
}

// WriteInodeData writes all of p at offset, allocating blocks on the way.
// Writing past EOF first materializes the hole as zero-filled leaves (no
// sparse representation). Extends size and advances mtime; the inode is
// persisted.
func WriteInodeData(
	fs *FileSystem,
	inode *Inode,
	offset Byte,
	p []byte,
) (Byte, error) {
	if err := fs.guard(); err != nil {
		return 0, err
	}
	if offset > inode.Size {
		if err := materializeHole(fs, inode, offset); err != nil {
			return 0, fmt.Errorf(
				"writing `%d` bytes to inode `%d` at offset `%d`: %w",
				len(p),
				inode.Ino,
				offset,
				err,
			)
		}
	}

	blockSize := fs.Super.Config.BlockSize
	scratch := make([]byte, blockSize)

	var done Byte
	for done < Byte(len(p)) {
		logical := uint64((offset + done) / blockSize)
		chunkOffset := (offset + done) % blockSize
		chunkLength := math.Min(Byte(len(p))-done, blockSize-chunkOffset)

		b, err := BlockForWrite(fs, inode, logical)
		if err != nil {
			// pointer fields may have moved even on failure; keep the
			// persisted inode in sync with the tree before surfacing
			StoreInode(fs, inode)
			return done, fmt.Errorf(
				"writing `%d` bytes to inode `%d` at offset `%d`: %w",
				len(p),
				inode.Ino,
				offset,
				err,
			)
		}

		chunk := p[done : done+chunkLength]
		if chunkLength == blockSize {
			copy(scratch, chunk)
		} else {
			if err := readDataBlock(fs, b, scratch); err != nil {
				return done, fmt.Errorf(
					"writing to inode `%d`: %w",
					inode.Ino,
					err,
				)
			}
			copy(scratch[chunkOffset:chunkOffset+chunkLength], chunk)
		}
		if err := writeDataBlock(fs, b, scratch); err != nil {
			return done, fmt.Errorf(
				"writing to inode `%d`: %w",
				inode.Ino,
				err,
			)
		}
		done += chunkLength
	}

	if inode.Size < offset+done {
		inode.Size = offset + done
	}
	touchMTime(fs, inode)
	if err := StoreInode(fs, inode); err != nil {
		return done, fmt.Errorf(
			"writing to inode `%d`: storing inode: %w",
			inode.Ino,
			err,
		)
	}
	return done, nil
}

// materializeHole allocates zero-filled leaves covering [size, offset) so
// a later read of the gap finds real zeroed blocks. Fresh blocks are
// zeroed at allocation and truncation scrubs surviving tail bytes, so no
// explicit zero writes are needed here.
func materializeHole(fs *FileSystem, inode *Inode, offset Byte) error {
	blockSize := fs.Super.Config.BlockSize
	first := uint64(inode.Size / blockSize)
	last := uint64((offset - 1) / blockSize)
	for logical := first; logical <= last; logical++ {
		if _, err := BlockForWrite(fs, inode, logical); err != nil {
			StoreInode(fs, inode)
			return fmt.Errorf(
				"materializing hole through block `%d`: %w",
				logical,
				err,
			)
		}
	}
	inode.Size = offset
	return nil
}

// TruncateInode sets the inode's size. Shrinking frees every block beyond
// the new tail and scrubs the surviving tail block's slack so a later
// extension reads zeroes; growing only moves the size (reads of the new
// range see zeroes).
func TruncateInode(fs *FileSystem, inode *Inode, size Byte) error {
	if err := fs.guard(); err != nil {
		return err
	}
	if size < inode.Size {
		blockSize := fs.Super.Config.BlockSize
		keep := uint64(math.DivRoundUp(size, blockSize))
		if err := TruncateBlocks(fs, inode, keep); err != nil {
			return fmt.Errorf(
				"truncating inode `%d` to `%d` bytes: %w",
				inode.Ino,
				size,
				err,
			)
		}
		if tail := size % blockSize; tail != 0 {
			if err := scrubTail(fs, inode, size, tail); err != nil {
				return fmt.Errorf(
					"truncating inode `%d` to `%d` bytes: %w",
					inode.Ino,
					size,
					err,
				)
			}
		}
	}
	inode.Size = size
	touchMTime(fs, inode)
	if err := StoreInode(fs, inode); err != nil {
		return fmt.Errorf(
			"truncating inode `%d` to `%d` bytes: %w",
			inode.Ino,
			size,
			err,
		)
	}
	return nil
}

func scrubTail(fs *FileSystem, inode *Inode, size, tail Byte) error {
	blockSize := fs.Super.Config.BlockSize
	b, err := BlockForRead(fs, inode, uint64(size/blockSize))
	if err != nil || b == BlockNil {
		return err
	}
	scratch := make([]byte, blockSize)
	if err := readDataBlock(fs, b, scratch); err != nil {
		return err
	}
	for i := tail; i < blockSize; i++ {
		scratch[i] = 0
	}
	return writeDataBlock(fs, b, scratch)
}
