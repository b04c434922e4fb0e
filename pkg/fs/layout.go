package fs

import (
	"github.com/weberc2/vdisk/pkg/math"

	. "github.com/weberc2/vdisk/pkg/types"
)

// Layout is the on-disk placement, in device blocks:
//
//	[ superblock | inode bitmap | data bitmap | inode table | data blocks ]
//
// Every run starts at a block boundary; bitmaps and the inode table are
// padded out to whole blocks. Data block n lives at device block
// DataStart + n; slot 0 of the data region is never used (block 0 is the
// nil sentinel).
type Layout struct {
	InoBitmapStart    Block
	InoBitmapBlocks   Block
	BlockBitmapStart  Block
	BlockBitmapBlocks Block
	InodeTableStart   Block
	InodeTableBlocks  Block
	DataStart         Block
}

func NewLayout(config *Config) Layout {
	bitmapBlocks := func(slots uint64) Block {
		bytes := Byte(math.DivRoundUp(slots, 8))
		return Block(math.DivRoundUp(bytes, config.BlockSize))
	}

	var layout Layout
	layout.InoBitmapStart = 1 // block 0 is the superblock
	layout.InoBitmapBlocks = bitmapBlocks(uint64(config.NumInodes))
	layout.BlockBitmapStart = layout.InoBitmapStart + layout.InoBitmapBlocks
	layout.BlockBitmapBlocks = bitmapBlocks(uint64(config.NumBlocks))
	layout.InodeTableStart = layout.BlockBitmapStart + layout.BlockBitmapBlocks
	layout.InodeTableBlocks = Block(math.DivRoundUp(
		Byte(config.NumInodes)*config.InodeSize,
		config.BlockSize,
	))
	layout.DataStart = layout.InodeTableStart + layout.InodeTableBlocks
	return layout
}

// TotalBlocks is the device footprint: metadata plus the data region.
func (layout *Layout) TotalBlocks(config *Config) Block {
	return layout.DataStart + config.NumBlocks
}

// InodeOffset is the byte offset of ino's slot in the device byte space.
func (layout *Layout) InodeOffset(config *Config, ino Ino) Byte {
	return Byte(layout.InodeTableStart)*config.BlockSize +
		Byte(ino)*config.InodeSize
}
