package encode

import (
	"encoding/binary"

	. "github.com/weberc2/vdisk/pkg/types"
)

func EncodeBlock(b Block, p *[BlockPointerSize]byte) {
	binary.LittleEndian.PutUint32((*p)[:], uint32(b))
}

func DecodeBlock(p *[BlockPointerSize]byte) Block {
	return Block(binary.LittleEndian.Uint32((*p)[:]))
}
