package types

// Block is a block number. The zero value is the nil sentinel: block 0 is
// reserved and never handed out by the allocator, so a zeroed pointer slot
// always reads as "unallocated".
type Block uint32

// Ino is an inode number. Ino 0 is reserved the same way block 0 is; the
// root directory lives at InoRoot.
type Ino uint32

// Byte is a count of bytes (a size or an offset).
type Byte uint64

const (
	BlockNil Block = 0
	InoNil   Ino   = 0
	InoRoot  Ino   = 1

	// DirectBlocksCount is the number of direct block pointers carried by
	// an inode ahead of the singly/doubly/triply indirect pointers.
	DirectBlocksCount = 12

	// BlockPointerSize is the width of an on-disk block pointer.
	BlockPointerSize Byte = 4
)
