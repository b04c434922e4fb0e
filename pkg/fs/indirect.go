package fs

import (
	"fmt"

	"github.com/weberc2/vdisk/pkg/encode"

	. "github.com/weberc2/vdisk/pkg/types"
)

// The pointer tree maps a file's logical block index L to a data block:
//
//	L <  12          -> direct[L]
//	L <  12+N        -> singly[L-12]
//	L <  12+N+N^2    -> doubly[.../N][... mod N]
//	L <  12+N+N^2+N^3 -> triply[...]
//	else             -> FileTooLargeErr
//
// where N is the number of pointer slots per block. Reads never allocate;
// writes allocate and zero missing interior and leaf blocks on the way
// down; truncation frees leaves first and then any interior block whose
// children are all nil (post-order).

type level int

const (
	levelDirect level = iota
	levelSingly
	levelDoubly
	levelTriply
)

// indirection is the resolved path for one logical block: the inode slot
// it hangs off of plus the per-level indices from outermost to innermost.
type indirection struct {
	level   level
	direct  Byte    // slot in DirectBlocks, for levelDirect
	indices []Block // outer -> inner, len == int(level)
}

func resolve(config *Config, logical uint64) (indirection, error) {
	n := uint64(config.PointersPerBlock())

	if logical < DirectBlocksCount {
		return indirection{level: levelDirect, direct: Byte(logical)}, nil
	}
	logical -= DirectBlocksCount
	if logical < n {
		return indirection{
			level:   levelSingly,
			indices: []Block{Block(logical)},
		}, nil
	}
	logical -= n
	if logical < n*n {
		return indirection{
			level:   levelDoubly,
			indices: []Block{Block(logical / n), Block(logical % n)},
		}, nil
	}
	logical -= n * n
	if logical < n*n*n {
		return indirection{
			level: levelTriply,
			indices: []Block{
				Block(logical / (n * n)),
				Block(logical % (n * n) / n),
				Block(logical % n),
			},
		}, nil
	}
	return indirection{}, FileTooLargeErr
}

// rootPtr returns the inode field an indirection hangs off of.
func (ind *indirection) rootPtr(inode *Inode) *Block {
	switch ind.level {
	case levelDirect:
		return &inode.DirectBlocks[ind.direct]
	case levelSingly:
		return &inode.SinglyIndirectBlock
	case levelDoubly:
		return &inode.DoublyIndirectBlock
	case levelTriply:
		return &inode.TriplyIndirectBlock
	default:
		panic(fmt.Sprintf("invalid indirection level: %d", ind.level))
	}
}

func readPointer(fs *FileSystem, b Block, index Block) (Block, error) {
	buf := make([]byte, fs.Super.Config.BlockSize)
	if err := readDataBlock(fs, b, buf); err != nil {
		return BlockNil, fmt.Errorf(
			"reading pointer `%d` of block `%d`: %w",
			index,
			b,
			err,
		)
	}
	start := Byte(index) * BlockPointerSize
	return encode.DecodeBlock(
		(*[BlockPointerSize]byte)(buf[start : start+BlockPointerSize]),
	), nil
}

func writePointer(fs *FileSystem, b Block, index Block, target Block) error {
	buf := make([]byte, fs.Super.Config.BlockSize)
	if err := readDataBlock(fs, b, buf); err != nil {
		return fmt.Errorf(
			"writing pointer `%d` of block `%d`: %w",
			index,
			b,
			err,
		)
	}
	start := Byte(index) * BlockPointerSize
	encode.EncodeBlock(
		target,
		(*[BlockPointerSize]byte)(buf[start:start+BlockPointerSize]),
	)
	if err := writeDataBlock(fs, b, buf); err != nil {
		return fmt.Errorf(
			"writing pointer `%d` of block `%d`: %w",
			index,
			b,
			err,
		)
	}
	return nil
}

// allocZeroedBlock claims a data block and zero-fills it. Zeroing at
// allocation time keeps two invariants cheap: freshly-materialized holes
// read as zeroes, and interior pointer blocks start with every slot nil.
func allocZeroedBlock(fs *FileSystem) (Block, error) {
	b, ok := fs.Blocks.Alloc()
	if !ok {
		return BlockNil, NoSpaceErr
	}
	if err := writeDataBlock(
		fs,
		b,
		make([]byte, fs.Super.Config.BlockSize),
	); err != nil {
		fs.Blocks.Free(b)
		return BlockNil, fmt.Errorf("zeroing fresh block `%d`: %w", b, err)
	}
	return b, nil
}

func freeBlock(fs *FileSystem, b Block) error {
	if err := fs.Blocks.Free(b); err != nil {
		return fs.poison(err)
	}
	return nil
}

// BlockForRead maps a logical block to its data block without allocating.
// A nil result means the range is a hole and reads as zeroes.
func BlockForRead(fs *FileSystem, inode *Inode, logical uint64) (Block, error) {
	ind, err := resolve(&fs.Super.Config, logical)
	if err != nil {
		return BlockNil, fmt.Errorf(
			"mapping block `%d` of inode `%d`: %w",
			logical,
			inode.Ino,
			err,
		)
	}

	b := *ind.rootPtr(inode)
	for _, index := range ind.indices {
		if b == BlockNil {
			return BlockNil, nil
		}
		if b, err = readPointer(fs, b, index); err != nil {
			return BlockNil, fmt.Errorf(
				"mapping block `%d` of inode `%d`: %w",
				logical,
				inode.Ino,
				err,
			)
		}
	}
	return b, nil
}

// BlockForWrite maps a logical block to its data block, allocating and
// installing any missing interior blocks and the leaf itself. The caller
// owns persisting the inode afterwards (the inode is only mutated through
// its pointer fields).
func BlockForWrite(
	fs *FileSystem,
	inode *Inode,
	logical uint64,
) (Block, error) {
	ind, err := resolve(&fs.Super.Config, logical)
	if err != nil {
		return BlockNil, fmt.Errorf(
			"materializing block `%d` of inode `%d`: %w",
			logical,
			inode.Ino,
			err,
		)
	}

	root := ind.rootPtr(inode)
	if *root == BlockNil {
		b, err := allocZeroedBlock(fs)
		if err != nil {
			return BlockNil, fmt.Errorf(
				"materializing block `%d` of inode `%d`: allocating %s "+
					"block: %w",
				logical,
				inode.Ino,
				ind.level,
				err,
			)
		}
		*root = b
	}

	// NB: interior blocks are allocated and linked into their parent ahead
	// of descending so a failure below never leaves an unreferenced block.
	b := *root
	for _, index := range ind.indices {
		child, err := readPointer(fs, b, index)
		if err != nil {
			return BlockNil, fmt.Errorf(
				"materializing block `%d` of inode `%d`: %w",
				logical,
				inode.Ino,
				err,
			)
		}
		if child == BlockNil {
			if child, err = allocZeroedBlock(fs); err != nil {
				return BlockNil, fmt.Errorf(
					"materializing block `%d` of inode `%d`: %w",
					logical,
					inode.Ino,
					err,
				)
			}
			if err := writePointer(fs, b, index, child); err != nil {
				freeBlock(fs, child)
				return BlockNil, fmt.Errorf(
					"materializing block `%d` of inode `%d`: %w",
					logical,
					inode.Ino,
					err,
				)
			}
		}
		b = child
	}
	return b, nil
}

func (level level) String() string {
	switch level {
	case levelDirect:
		return "direct"
	case levelSingly:
		return "singly indirect"
	case levelDoubly:
		return "doubly indirect"
	case levelTriply:
		return "triply indirect"
	default:
		return "invalid"
	}
}
