package device

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	. "github.com/weberc2/vdisk/pkg/types"
)

// PeekFile reads len(p) bytes at the given offset of path without taking
// the device lock. Mount uses it to bootstrap: the geometry lives inside
// the superblock (or past the encrypted header), so it has to be read
// before a properly-sized device can be constructed.
func PeekFile(path string, offset Byte, p []byte) error {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return fmt.Errorf("peeking at `%s`: %w", path, NotFoundErr)
		}
		return fmt.Errorf("peeking at `%s`: %v: %w", path, err, IOErr)
	}
	defer unix.Close(fd)

	n, err := unix.Pread(fd, p, int64(offset))
	if err != nil {
		return fmt.Errorf("peeking at `%s`: %v: %w", path, err, IOErr)
	}
	if n != len(p) {
		return fmt.Errorf(
			"peeking at `%s`: wanted `%d` bytes at offset `%d`; found "+
				"`%d`: %w",
			path,
			len(p),
			offset,
			n,
			FormatErr,
		)
	}
	return nil
}
