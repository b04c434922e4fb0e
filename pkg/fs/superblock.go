package fs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	. "github.com/weberc2/vdisk/pkg/types"
)

const (
	Magic   = "VDISKFS\x00"
	Version = 1

	superblockMagicStart    = 0
	superblockMagicEnd      = superblockMagicStart + 8
	superblockVersionStart  = superblockMagicEnd
	superblockVersionEnd    = superblockVersionStart + 2
	superblockBlockSzStart  = superblockVersionEnd
	superblockBlockSzEnd    = superblockBlockSzStart + 4
	superblockInodeSzStart  = superblockBlockSzEnd
	superblockInodeSzEnd    = superblockInodeSzStart + 4
	superblockNumBlksStart  = superblockInodeSzEnd
	superblockNumBlksEnd    = superblockNumBlksStart + 4
	superblockNumInosStart  = superblockNumBlksEnd
	superblockNumInosEnd    = superblockNumInosStart + 4
	superblockUUIDStart     = superblockNumInosEnd
	superblockUUIDEnd       = superblockUUIDStart + 16
	superblockChecksumStart = superblockUUIDEnd
	superblockChecksumEnd   = superblockChecksumStart + 8

	// SuperblockSize fits within MinBlockSize so the superblock always
	// occupies exactly block 0 regardless of geometry.
	SuperblockSize Byte = superblockChecksumEnd
)

// Superblock is the persisted geometry and identity of a volume, stored in
// block 0. Mount validates it before touching any other structure.
type Superblock struct {
	Version uint16
	Config  Config
	UUID    uuid.UUID
}

func checksum(b []byte) uint64 {
	sum := blake3.Sum256(b)
	return binary.LittleEndian.Uint64(sum[:8])
}

// EncodeSuperblock serializes the superblock into b (at least
// SuperblockSize bytes; callers pass a whole zeroed block).
func EncodeSuperblock(super *Superblock, b []byte) {
	copy(b[superblockMagicStart:superblockMagicEnd], Magic)
	binary.LittleEndian.PutUint16(
		b[superblockVersionStart:superblockVersionEnd],
		super.Version,
	)
	binary.LittleEndian.PutUint32(
		b[superblockBlockSzStart:superblockBlockSzEnd],
		uint32(super.Config.BlockSize),
	)
	binary.LittleEndian.PutUint32(
		b[superblockInodeSzStart:superblockInodeSzEnd],
		uint32(super.Config.InodeSize),
	)
	binary.LittleEndian.PutUint32(
		b[superblockNumBlksStart:superblockNumBlksEnd],
		uint32(super.Config.NumBlocks),
	)
	binary.LittleEndian.PutUint32(
		b[superblockNumInosStart:superblockNumInosEnd],
		uint32(super.Config.NumInodes),
	)
	copy(b[superblockUUIDStart:superblockUUIDEnd], super.UUID[:])
	binary.LittleEndian.PutUint64(
		b[superblockChecksumStart:superblockChecksumEnd],
		checksum(b[:superblockChecksumStart]),
	)
}

// DecodeSuperblock deserializes and validates b. A bad magic or checksum
// is FormatErr; an unsupported version is VersionErr.
func DecodeSuperblock(super *Superblock, b []byte) error {
	if !bytes.Equal([]byte(Magic), b[superblockMagicStart:superblockMagicEnd]) {
		return fmt.Errorf("decoding superblock: bad magic: %w", FormatErr)
	}
	if sum := binary.LittleEndian.Uint64(
		b[superblockChecksumStart:superblockChecksumEnd],
	); sum != checksum(b[:superblockChecksumStart]) {
		return fmt.Errorf(
			"decoding superblock: checksum mismatch: %w",
			FormatErr,
		)
	}
	super.Version = binary.LittleEndian.Uint16(
		b[superblockVersionStart:superblockVersionEnd],
	)
	if super.Version != Version {
		return fmt.Errorf(
			"decoding superblock: version `%d`; supported `%d`: %w",
			super.Version,
			Version,
			VersionErr,
		)
	}
	super.Config = Config{
		BlockSize: Byte(binary.LittleEndian.Uint32(
			b[superblockBlockSzStart:superblockBlockSzEnd],
		)),
		InodeSize: Byte(binary.LittleEndian.Uint32(
			b[superblockInodeSzStart:superblockInodeSzEnd],
		)),
		NumBlocks: Block(binary.LittleEndian.Uint32(
			b[superblockNumBlksStart:superblockNumBlksEnd],
		)),
		NumInodes: Ino(binary.LittleEndian.Uint32(
			b[superblockNumInosStart:superblockNumInosEnd],
		)),
	}
	copy(super.UUID[:], b[superblockUUIDStart:superblockUUIDEnd])
	if err := super.Config.Validate(); err != nil {
		return fmt.Errorf("decoding superblock: %w", err)
	}
	return nil
}
