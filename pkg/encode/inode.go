package encode

import (
	"fmt"

	. "github.com/weberc2/vdisk/pkg/types"
)

// EncodeInode serializes inode into b, which must be at least
// InodeRecordSize bytes (the slot's trailing padding is untouched and must
// arrive zeroed).
func EncodeInode(inode *Inode, b []byte) {
	putU16(b, inodeModeStart, uint16(inode.Mode))
	putU16(b, inodeFlagsStart, inode.Flags)
	putU64(b, inodeSizeStart, uint64(inode.Size))
	putU64(b, inodeCTimeStart, inode.CTime)
	putU64(b, inodeMTimeStart, inode.MTime)
	putU64(b, inodeATimeStart, inode.ATime)

	for i := Byte(0); i < DirectBlocksCount; i++ {
		putU32(b, inodePointersStart+i*BlockPointerSize,
			uint32(inode.DirectBlocks[i]))
	}
	putU32(b, inodeSinglyIndStart, uint32(inode.SinglyIndirectBlock))
	putU32(b, inodeDoublyIndStart, uint32(inode.DoublyIndirectBlock))
	putU32(b, inodeTriplyIndStart, uint32(inode.TriplyIndirectBlock))
}

// DecodeInode deserializes b into inode. The pointee is only mutated once
// the record validates.
func DecodeInode(inode *Inode, b []byte) error {
	mode := Mode(getU16(b, inodeModeStart))
	if err := mode.Validate(); err != nil {
		return fmt.Errorf("decoding inode: %w", err)
	}

	inode.Mode = mode
	inode.Flags = getU16(b, inodeFlagsStart)
	inode.Size = Byte(getU64(b, inodeSizeStart))
	inode.CTime = getU64(b, inodeCTimeStart)
	inode.MTime = getU64(b, inodeMTimeStart)
	inode.ATime = getU64(b, inodeATimeStart)

	for i := Byte(0); i < DirectBlocksCount; i++ {
		inode.DirectBlocks[i] = Block(
			getU32(b, inodePointersStart+i*BlockPointerSize),
		)
	}
	inode.SinglyIndirectBlock = Block(getU32(b, inodeSinglyIndStart))
	inode.DoublyIndirectBlock = Block(getU32(b, inodeDoublyIndStart))
	inode.TriplyIndirectBlock = Block(getU32(b, inodeTriplyIndStart))
	return nil
}

const (
	inodeModeStart = 0
	inodeModeSize  = 2
	inodeModeEnd   = inodeModeStart + inodeModeSize

	inodeFlagsStart = inodeModeEnd
	inodeFlagsSize  = 2
	inodeFlagsEnd   = inodeFlagsStart + inodeFlagsSize

	inodeSizeStart = inodeFlagsEnd
	inodeSizeSize  = 8
	inodeSizeEnd   = inodeSizeStart + inodeSizeSize

	inodeCTimeStart = inodeSizeEnd
	inodeCTimeSize  = 8
	inodeCTimeEnd   = inodeCTimeStart + inodeCTimeSize

	inodeMTimeStart = inodeCTimeEnd
	inodeMTimeSize  = 8
	inodeMTimeEnd   = inodeMTimeStart + inodeMTimeSize

	inodeATimeStart = inodeMTimeEnd
	inodeATimeSize  = 8
	inodeATimeEnd   = inodeATimeStart + inodeATimeSize

	inodePointersStart = inodeATimeEnd
	inodePointersSize  = DirectBlocksCount * BlockPointerSize
	inodePointersEnd   = inodePointersStart + inodePointersSize

	inodeSinglyIndStart = inodePointersEnd
	inodeSinglyIndEnd   = inodeSinglyIndStart + BlockPointerSize

	inodeDoublyIndStart = inodeSinglyIndEnd
	inodeDoublyIndEnd   = inodeDoublyIndStart + BlockPointerSize

	inodeTriplyIndStart = inodeDoublyIndEnd
	inodeTriplyIndEnd   = inodeTriplyIndStart + BlockPointerSize
)
