package device

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	. "github.com/weberc2/vdisk/pkg/types"
)

var _ HeaderDevice = (*File)(nil)

// File stores blocks in a host file at byte offset
// header_size + n * block_size. The file is held under an exclusive
// advisory lock for the lifetime of the device so that a second mount of
// the same path fails with AlreadyMountedErr instead of corrupting state.
type File struct {
	fd         int
	path       string
	blockSize  Byte
	numBlocks  Block
	headerSize Byte
	closed     bool
}

// CreateFile creates path (which must not already exist), sizes it to hold
// the header region plus numBlocks blocks, and locks it.
func CreateFile(
	path string,
	blockSize Byte,
	numBlocks Block,
	headerSize Byte,
) (*File, error) {
	fd, err := unix.Open(
		path,
		unix.O_RDWR|unix.O_CREAT|unix.O_EXCL,
		0o644,
	)
	if err != nil {
		if errors.Is(err, unix.EEXIST) {
			return nil, fmt.Errorf(
				"creating device file `%s`: %w",
				path,
				ExistsErr,
			)
		}
		return nil, fmt.Errorf(
			"creating device file `%s`: %v: %w",
			path,
			err,
			IOErr,
		)
	}

	file := &File{
		fd:         fd,
		path:       path,
		blockSize:  blockSize,
		numBlocks:  numBlocks,
		headerSize: headerSize,
	}

	if err := file.lock(); err != nil {
		unix.Close(fd)
		os.Remove(path)
		return nil, err
	}

	size := int64(headerSize) + int64(numBlocks)*int64(blockSize)
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		os.Remove(path)
		return nil, fmt.Errorf(
			"sizing device file `%s` to `%d` bytes: %v: %w",
			path,
			size,
			err,
			IOErr,
		)
	}

	return file, nil
}

// OpenFile opens an existing device file and locks it. The caller supplies
// the geometry (typically read back out of the superblock or the encrypted
// header before block I/O starts); OpenFile only checks that the host file
// is large enough.
func OpenFile(
	path string,
	blockSize Byte,
	numBlocks Block,
	headerSize Byte,
) (*File, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf(
				"opening device file `%s`: %w",
				path,
				NotFoundErr,
			)
		}
		return nil, fmt.Errorf(
			"opening device file `%s`: %v: %w",
			path,
			err,
			IOErr,
		)
	}

	file := &File{
		fd:         fd,
		path:       path,
		blockSize:  blockSize,
		numBlocks:  numBlocks,
		headerSize: headerSize,
	}

	if err := file.lock(); err != nil {
		unix.Close(fd)
		return nil, err
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf(
			"opening device file `%s`: %v: %w",
			path,
			err,
			IOErr,
		)
	}
	want := int64(headerSize) + int64(numBlocks)*int64(blockSize)
	if stat.Size < want {
		unix.Close(fd)
		return nil, fmt.Errorf(
			"opening device file `%s`: file is `%d` bytes; geometry needs "+
				"`%d`: %w",
			path,
			stat.Size,
			want,
			FormatErr,
		)
	}

	return file, nil
}

func (file *File) lock() error {
	if err := unix.Flock(file.fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf(
				"locking device file `%s`: %w",
				file.path,
				AlreadyMountedErr,
			)
		}
		return fmt.Errorf(
			"locking device file `%s`: %v: %w",
			file.path,
			err,
			IOErr,
		)
	}
	return nil
}

func (file *File) check(n Block, p []byte) error {
	if file.closed {
		return fmt.Errorf("block `%d`: device closed: %w", n, IOErr)
	}
	if n >= file.numBlocks {
		return fmt.Errorf(
			"block `%d` beyond device size `%d`: %w",
			n,
			file.numBlocks,
			OutOfRangeErr,
		)
	}
	if Byte(len(p)) != file.blockSize {
		return fmt.Errorf(
			"block `%d`: buffer is `%d` bytes; block size is `%d`: %w",
			n,
			len(p),
			file.blockSize,
			BadSizeErr,
		)
	}
	return nil
}

func (file *File) offset(n Block) int64 {
	return int64(file.headerSize) + int64(n)*int64(file.blockSize)
}

func (file *File) ReadBlock(n Block, p []byte) error {
	if err := file.check(n, p); err != nil {
		return fmt.Errorf("reading block: %w", err)
	}
	if _, err := unix.Pread(file.fd, p, file.offset(n)); err != nil {
		return fmt.Errorf(
			"reading block `%d` from `%s`: %v: %w",
			n,
			file.path,
			err,
			IOErr,
		)
	}
	return nil
}

func (file *File) WriteBlock(n Block, p []byte) error {
	if err := file.check(n, p); err != nil {
		return fmt.Errorf("writing block: %w", err)
	}
	if _, err := unix.Pwrite(file.fd, p, file.offset(n)); err != nil {
		return fmt.Errorf(
			"writing block `%d` to `%s`: %v: %w",
			n,
			file.path,
			err,
			IOErr,
		)
	}
	return nil
}

func (file *File) Flush() error {
	if file.closed {
		return fmt.Errorf("flushing `%s`: device closed: %w", file.path, IOErr)
	}
	if err := unix.Fsync(file.fd); err != nil {
		return fmt.Errorf("flushing `%s`: %v: %w", file.path, err, IOErr)
	}
	return nil
}

func (file *File) Close() error {
	if file.closed {
		return nil
	}
	file.closed = true
	if err := unix.Close(file.fd); err != nil {
		return fmt.Errorf("closing `%s`: %v: %w", file.path, err, IOErr)
	}
	return nil
}

func (file *File) NumBlocks() Block { return file.numBlocks }
func (file *File) BlockSize() Byte  { return file.blockSize }
func (file *File) HeaderSize() Byte { return file.headerSize }

func (file *File) ReadHeader(p []byte) error {
	if Byte(len(p)) != file.headerSize {
		return fmt.Errorf(
			"reading header of `%s`: buffer is `%d` bytes; header is "+
				"`%d`: %w",
			file.path,
			len(p),
			file.headerSize,
			BadSizeErr,
		)
	}
	if _, err := unix.Pread(file.fd, p, 0); err != nil {
		return fmt.Errorf(
			"reading header of `%s`: %v: %w",
			file.path,
			err,
			IOErr,
		)
	}
	return nil
}

func (file *File) WriteHeader(p []byte) error {
	if Byte(len(p)) != file.headerSize {
		return fmt.Errorf(
			"writing header of `%s`: buffer is `%d` bytes; header is "+
				"`%d`: %w",
			file.path,
			len(p),
			file.headerSize,
			BadSizeErr,
		)
	}
	if _, err := unix.Pwrite(file.fd, p, 0); err != nil {
		return fmt.Errorf(
			"writing header of `%s`: %v: %w",
			file.path,
			err,
			IOErr,
		)
	}
	return nil
}
