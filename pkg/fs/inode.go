package fs

import (
	"fmt"

	"github.com/weberc2/vdisk/pkg/encode"

	. "github.com/weberc2/vdisk/pkg/types"
)

// LoadInode reads ino's slot out of the inode table.
func LoadInode(fs *FileSystem, ino Ino, output *Inode) error {
	if err := fs.guard(); err != nil {
		return err
	}
	if ino == InoNil || ino >= fs.Super.Config.NumInodes {
		return fmt.Errorf("loading inode `%d`: %w", ino, OutOfRangeErr)
	}
	b := make([]byte, fs.Super.Config.InodeSize)
	if err := readRange(
		fs,
		fs.Layout.InodeOffset(&fs.Super.Config, ino),
		b,
	); err != nil {
		return fmt.Errorf("loading inode `%d`: %w", ino, err)
	}
	if err := encode.DecodeInode(output, b); err != nil {
		return fmt.Errorf("loading inode `%d`: %w", ino, err)
	}
	output.Ino = ino
	return nil
}

// StoreInode writes inode back to its slot.
func StoreInode(fs *FileSystem, inode *Inode) error {
	if err := fs.guard(); err != nil {
		return err
	}
	if inode.Ino == InoNil || inode.Ino >= fs.Super.Config.NumInodes {
		return fmt.Errorf("storing inode `%d`: %w", inode.Ino, OutOfRangeErr)
	}
	b := make([]byte, fs.Super.Config.InodeSize)
	encode.EncodeInode(inode, b)
	if err := writeRange(
		fs,
		fs.Layout.InodeOffset(&fs.Super.Config, inode.Ino),
		b,
	); err != nil {
		return fmt.Errorf("storing inode `%d`: %w", inode.Ino, err)
	}
	return nil
}

// AllocInode claims a free ino and installs a zeroed inode of the given
// mode with fresh timestamps.
func AllocInode(fs *FileSystem, mode Mode, output *Inode) error {
	if err := fs.guard(); err != nil {
		return err
	}
	ino, ok := fs.Inos.Alloc()
	if !ok {
		return fmt.Errorf("allocating inode: %w", NoSpaceErr)
	}
	now := fs.now()
	*output = Inode{
		Ino:   ino,
		Mode:  mode,
		CTime: now,
		MTime: now,
		ATime: now,
	}
	if err := StoreInode(fs, output); err != nil {
		fs.Inos.Free(ino)
		return fmt.Errorf("allocating inode `%d`: %w", ino, err)
	}
	return nil
}

// FreeInode releases the inode's whole pointer tree (post-order, so no
// block is orphaned by a partial failure) and then its ino.
func FreeInode(fs *FileSystem, inode *Inode) error {
	if err := fs.guard(); err != nil {
		return err
	}
	if err := TruncateBlocks(fs, inode, 0); err != nil {
		return fmt.Errorf("freeing inode `%d`: %w", inode.Ino, err)
	}
	if err := fs.Inos.Free(inode.Ino); err != nil {
		return fs.poison(fmt.Errorf("freeing inode `%d`: %w", inode.Ino, err))
	}
	return nil
}
