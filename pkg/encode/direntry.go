package encode

import (
	. "github.com/weberc2/vdisk/pkg/types"
)

// Directory entries are serialized back to back in the directory's body:
// name_len:u16 | inode:u32 | name:bytes[name_len]. An entry whose inode is
// the nil sentinel is a tombstone.

func DirEntrySize(nameLen int) Byte {
	return DirEntryHeaderSize + Byte(nameLen)
}

func EncodeDirEntry(entry *DirEntry, b []byte) {
	putU16(b, dirEntryNameLenStart, uint16(len(entry.Name)))
	putIno(b, dirEntryInoStart, entry.Ino)
	copy(b[DirEntryHeaderSize:], entry.Name)
}

// DecodeDirEntryHeader decodes the fixed-width prefix of the entry at the
// start of b and returns its name length; the name bytes follow.
func DecodeDirEntryHeader(entry *DirEntry, b []byte) int {
	entry.Ino = getIno(b, dirEntryInoStart)
	return int(getU16(b, dirEntryNameLenStart))
}

const (
	dirEntryNameLenStart = 0
	dirEntryNameLenSize  = 2
	dirEntryNameLenEnd   = dirEntryNameLenStart + dirEntryNameLenSize

	dirEntryInoStart = dirEntryNameLenEnd
	dirEntryInoSize  = 4
	dirEntryInoEnd   = dirEntryInoStart + dirEntryInoSize

	DirEntryHeaderSize = dirEntryInoEnd
)
