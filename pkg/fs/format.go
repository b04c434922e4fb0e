package fs

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/weberc2/vdisk/pkg/alloc"
	"github.com/weberc2/vdisk/pkg/device"
	"github.com/weberc2/vdisk/pkg/util"

	. "github.com/weberc2/vdisk/pkg/types"
)

func checkGeometry(
	dev device.Device,
	config *Config,
	layout *Layout,
) error {
	if dev.BlockSize() != config.BlockSize {
		return fmt.Errorf(
			"device block size `%d` does not match config block size "+
				"`%d`: %w",
			dev.BlockSize(),
			config.BlockSize,
			FormatErr,
		)
	}
	if dev.NumBlocks() != layout.TotalBlocks(config) {
		return fmt.Errorf(
			"device has `%d` blocks; layout needs `%d`: %w",
			dev.NumBlocks(),
			layout.TotalBlocks(config),
			FormatErr,
		)
	}
	return nil
}

// Format writes a fresh filesystem onto dev: superblock, zeroed bitmaps,
// and the root directory at InoRoot with an empty body. It returns the
// mounted filesystem. On failure the device is closed so the caller never
// holds a half-formatted mount.
func Format(dev device.Device, config *Config) (*FileSystem, error) {
	fsys, err := format(dev, config)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("formatting filesystem: %w", err)
	}
	return fsys, nil
}

func format(dev device.Device, config *Config) (*FileSystem, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	layout := NewLayout(config)
	if err := checkGeometry(dev, config, &layout); err != nil {
		return nil, err
	}

	fsys := &FileSystem{
		Device: dev,
		Super: Superblock{
			Version: Version,
			Config:  *config,
			UUID:    uuid.New(),
		},
		Layout: layout,
		Blocks: alloc.NewBlockAllocator(alloc.New(uint64(config.NumBlocks))),
		Inos:   alloc.NewInoAllocator(alloc.New(uint64(config.NumInodes))),
		Clock:  wallClock,
	}

	b := make([]byte, config.BlockSize)
	EncodeSuperblock(&fsys.Super, b)
	if err := dev.WriteBlock(0, b); err != nil {
		return nil, fmt.Errorf("writing superblock: %w", err)
	}

	// root directory: reserved ino, directory mode, empty body
	fsys.Inos.Reserve(uint64(InoRoot))
	now := fsys.now()
	root := Inode{
		Ino:   InoRoot,
		Mode:  ModeDir,
		CTime: now,
		MTime: now,
		ATime: now,
	}
	if err := StoreInode(fsys, &root); err != nil {
		return nil, fmt.Errorf("installing root inode: %w", err)
	}

	// Both bitmap runs are written unconditionally: backends are not
	// obligated to hand back zeroes for never-written blocks (the encrypted
	// wrapper doesn't).
	if err := storeBitmap(
		fsys,
		layout.InoBitmapStart,
		fsys.Inos.Bitmap(),
	); err != nil {
		return nil, fmt.Errorf("writing inode bitmap: %w", err)
	}
	fsys.Inos.ClearDirty()
	if err := storeBitmap(
		fsys,
		layout.BlockBitmapStart,
		fsys.Blocks.Bitmap(),
	); err != nil {
		return nil, fmt.Errorf("writing block bitmap: %w", err)
	}
	fsys.Blocks.ClearDirty()

	if err := Flush(fsys); err != nil {
		return nil, err
	}
	util.DPrintf(1, "fs: formatted volume %s", fsys.Super.UUID)
	return fsys, nil
}

// Mount validates the superblock on dev and loads both bitmaps eagerly.
func Mount(dev device.Device) (*FileSystem, error) {
	fsys, err := mount(dev)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("mounting filesystem: %w", err)
	}
	return fsys, nil
}

func mount(dev device.Device) (*FileSystem, error) {
	b := make([]byte, dev.BlockSize())
	if err := dev.ReadBlock(0, b); err != nil {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}
	var super Superblock
	if err := DecodeSuperblock(&super, b); err != nil {
		return nil, err
	}
	layout := NewLayout(&super.Config)
	if err := checkGeometry(dev, &super.Config, &layout); err != nil {
		return nil, err
	}

	fsys := &FileSystem{
		Device: dev,
		Super:  super,
		Layout: layout,
		Clock:  wallClock,
	}

	inoBitmap, err := loadBitmap(
		fsys,
		layout.InoBitmapStart,
		layout.InoBitmapBlocks,
		uint64(super.Config.NumInodes),
	)
	if err != nil {
		return nil, fmt.Errorf("loading inode bitmap: %w", err)
	}
	blockBitmap, err := loadBitmap(
		fsys,
		layout.BlockBitmapStart,
		layout.BlockBitmapBlocks,
		uint64(super.Config.NumBlocks),
	)
	if err != nil {
		return nil, fmt.Errorf("loading block bitmap: %w", err)
	}
	fsys.Inos = alloc.NewInoAllocator(inoBitmap)
	fsys.Blocks = alloc.NewBlockAllocator(blockBitmap)

	if !fsys.Inos.Test(InoRoot) {
		return nil, fmt.Errorf(
			"root inode `%d` is not allocated: %w",
			InoRoot,
			FormatErr,
		)
	}
	util.DPrintf(1, "fs: mounted volume %s", fsys.Super.UUID)
	return fsys, nil
}
