package fs

import (
	"fmt"

	"github.com/weberc2/vdisk/pkg/encode"

	. "github.com/weberc2/vdisk/pkg/types"
)

// TruncateBlocks frees every data leaf at logical index >= keep, then any
// interior block left with no children, walking post-order so an
// interrupted walk can only leave blocks allocated (reachable), never
// leaked. The inode's pointer fields are updated and persisted.
func TruncateBlocks(fs *FileSystem, inode *Inode, keep uint64) error {
	if err := fs.guard(); err != nil {
		return err
	}
	if err := truncateBlocks(fs, inode, keep); err != nil {
		return fmt.Errorf(
			"truncating inode `%d` to `%d` blocks: %w",
			inode.Ino,
			keep,
			err,
		)
	}
	if err := StoreInode(fs, inode); err != nil {
		return fmt.Errorf(
			"truncating inode `%d` to `%d` blocks: %w",
			inode.Ino,
			keep,
			err,
		)
	}
	return nil
}

func truncateBlocks(fs *FileSystem, inode *Inode, keep uint64) error {
	for i := uint64(0); i < DirectBlocksCount; i++ {
		if i < keep || inode.DirectBlocks[i] == BlockNil {
			continue
		}
		if err := freeBlock(fs, inode.DirectBlocks[i]); err != nil {
			return err
		}
		inode.DirectBlocks[i] = BlockNil
	}

	n := uint64(fs.Super.Config.PointersPerBlock())
	roots := []struct {
		ptr   *Block
		depth int
		base  uint64
	}{
		{&inode.SinglyIndirectBlock, 1, DirectBlocksCount},
		{&inode.DoublyIndirectBlock, 2, DirectBlocksCount + n},
		{&inode.TriplyIndirectBlock, 3, DirectBlocksCount + n + n*n},
	}
	for _, root := range roots {
		if *root.ptr == BlockNil {
			continue
		}
		empty, err := truncateIndirect(fs, *root.ptr, root.depth, root.base, keep)
		if err != nil {
			return err
		}
		if empty {
			if err := freeBlock(fs, *root.ptr); err != nil {
				return err
			}
			*root.ptr = BlockNil
		}
	}
	return nil
}

// truncateIndirect prunes the subtree rooted at indirect block b, which
// sits depth levels above the leaves and covers logical blocks starting at
// base. Reports whether the subtree is now childless.
func truncateIndirect(
	fs *FileSystem,
	b Block,
	depth int,
	base uint64,
	keep uint64,
) (bool, error) {
	config := &fs.Super.Config
	n := uint64(config.PointersPerBlock())
	leavesPerChild := uint64(1)
	for i := 1; i < depth; i++ {
		leavesPerChild *= n
	}

	buf := make([]byte, config.BlockSize)
	if err := readDataBlock(fs, b, buf); err != nil {
		return false, fmt.Errorf("pruning indirect block `%d`: %w", b, err)
	}

	empty := true
	modified := false
	for i := uint64(0); i < n; i++ {
		start := Byte(i) * BlockPointerSize
		slot := (*[BlockPointerSize]byte)(buf[start : start+BlockPointerSize])
		child := encode.DecodeBlock(slot)
		if child == BlockNil {
			continue
		}
		childBase := base + i*leavesPerChild

		switch {
		case childBase >= keep:
			// the whole child subtree is beyond the new tail
			if err := freeSubtree(fs, child, depth-1); err != nil {
				return false, err
			}
			encode.EncodeBlock(BlockNil, slot)
			modified = true
		case depth == 1:
			// a surviving leaf
			empty = false
		default:
			childEmpty, err := truncateIndirect(
				fs,
				child,
				depth-1,
				childBase,
				keep,
			)
			if err != nil {
				return false, err
			}
			if childEmpty {
				if err := freeBlock(fs, child); err != nil {
					return false, err
				}
				encode.EncodeBlock(BlockNil, slot)
				modified = true
			} else {
				empty = false
			}
		}
	}

	// a childless block is about to be freed by the caller; only a
	// surviving block needs its cleared slots persisted
	if modified && !empty {
		if err := writeDataBlock(fs, b, buf); err != nil {
			return false, fmt.Errorf("pruning indirect block `%d`: %w", b, err)
		}
	}
	return empty, nil
}

// freeSubtree releases the subtree rooted at b: children first, then b.
// depth 0 means b is a data leaf.
func freeSubtree(fs *FileSystem, b Block, depth int) error {
	if depth > 0 {
		config := &fs.Super.Config
		buf := make([]byte, config.BlockSize)
		if err := readDataBlock(fs, b, buf); err != nil {
			return fmt.Errorf("freeing indirect block `%d`: %w", b, err)
		}
		for i := Block(0); i < config.PointersPerBlock(); i++ {
			start := Byte(i) * BlockPointerSize
			child := encode.DecodeBlock(
				(*[BlockPointerSize]byte)(buf[start : start+BlockPointerSize]),
			)
			if child == BlockNil {
				continue
			}
			if err := freeSubtree(fs, child, depth-1); err != nil {
				return err
			}
		}
	}
	return freeBlock(fs, b)
}
