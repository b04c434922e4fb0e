package device

import (
	. "github.com/weberc2/vdisk/pkg/types"
)

// Device is the capability set every backend provides: fixed-size block
// reads and writes, durability, and release. Implementations are not safe
// for concurrent use; a single mount owns the device.
type Device interface {
	// ReadBlock fills p (which must be exactly BlockSize() bytes) with the
	// contents of block n.
	ReadBlock(n Block, p []byte) error

	// WriteBlock replaces block n with p (exactly BlockSize() bytes).
	WriteBlock(n Block, p []byte) error

	// Flush pushes buffered writes to the backing store.
	Flush() error

	// Close releases the device. The device is unusable afterwards.
	Close() error

	NumBlocks() Block
	BlockSize() Byte
}

// HeaderDevice is a Device with an out-of-band header region preceding the
// block space, used by backends that carry their own metadata (the
// encrypted wrapper stores its key material there).
type HeaderDevice interface {
	Device

	ReadHeader(p []byte) error
	WriteHeader(p []byte) error
	HeaderSize() Byte
}
