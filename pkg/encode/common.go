package encode

import (
	"encoding/binary"

	. "github.com/weberc2/vdisk/pkg/types"
)

func putIno(b []byte, start Byte, u Ino) {
	putU32(b, start, uint32(u))
}

func getIno(b []byte, start Byte) Ino {
	return Ino(getU32(b, start))
}

func putU64(b []byte, start Byte, u uint64) {
	binary.LittleEndian.PutUint64(b[start:start+8], u)
}

func getU64(b []byte, start Byte) uint64 {
	return binary.LittleEndian.Uint64(b[start : start+8])
}

func putU32(b []byte, start Byte, u uint32) {
	binary.LittleEndian.PutUint32(b[start:start+4], u)
}

func getU32(b []byte, start Byte) uint32 {
	return binary.LittleEndian.Uint32(b[start : start+4])
}

func putU16(b []byte, start Byte, u uint16) {
	binary.LittleEndian.PutUint16(b[start:start+2], u)
}

func getU16(b []byte, start Byte) uint16 {
	return binary.LittleEndian.Uint16(b[start : start+2])
}
