package dir

import (
	"fmt"
	"io"

	"github.com/weberc2/vdisk/pkg/fs"

	. "github.com/weberc2/vdisk/pkg/types"
)

// OpenMode is the flag set accepted by Directory.OpenFile.
type OpenMode uint8

const (
	Read OpenMode = 1 << iota
	Write
	Append
	Create
	Exclusive
	Truncate

	ReadWrite = Read | Write
)

func (mode OpenMode) readable() bool { return mode&Read != 0 }
func (mode OpenMode) writable() bool { return mode&(Write|Append) != 0 }

// File is a cursor over a regular file's inode: a cached copy of the inode,
// an offset, and the open mode. Two handles on the same inode are permitted but
// unsynchronized; last writer wins.
type File struct {
	fsys   *fs.FileSystem
	inode  Inode
	pos    Byte
	mode   OpenMode
	closed bool
}

// OpenFile opens name under dir per the mode flags. Create materializes a
// missing file when a writable flag is present; Create|Exclusive refuses
// an existing name; Truncate drops existing content; Append forces every
// write to land at EOF. Opening a directory fails IsDirErr.
func (dir *Directory) OpenFile(name string, mode OpenMode) (*File, error) {
	file, err := dir.openFile(name, mode)
	if err != nil {
		return nil, fmt.Errorf(
			"opening `%s` in directory `%d`: %w",
			name,
			dir.ino,
			err,
		)
	}
	return file, nil
}

func (dir *Directory) openFile(name string, mode OpenMode) (*File, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if !mode.readable() && !mode.writable() {
		return nil, fmt.Errorf("no read or write flag: %w", BadModeErr)
	}

	var dirInode Inode
	if err := dir.load(&dirInode); err != nil {
		return nil, err
	}

	var inode Inode
	ino, err := dir.lookup(&dirInode, name)
	switch {
	case err == nil:
		if mode&Create != 0 && mode&Exclusive != 0 {
			return nil, ExistsErr
		}
		if err := fs.LoadInode(dir.fsys, ino, &inode); err != nil {
			return nil, err
		}
		if inode.IsDir() {
			return nil, IsDirErr
		}
	case mode&Create != 0 && mode.writable():
		if err := fs.AllocInode(dir.fsys, ModeRegular, &inode); err != nil {
			return nil, err
		}
		if err := dir.addEntry(&dirInode, name, inode.Ino); err != nil {
			fs.FreeInode(dir.fsys, &inode)
			return nil, err
		}
	default:
		return nil, err
	}

	file := &File{fsys: dir.fsys, inode: inode, mode: mode}
	if mode&Truncate != 0 && mode.writable() && inode.Size > 0 {
		if err := fs.TruncateInode(dir.fsys, &file.inode, 0); err != nil {
			return nil, err
		}
	}
	if mode&Append != 0 {
		file.pos = file.inode.Size
	}
	return file, nil
}

func (file *File) guard() error {
	if file.closed {
		return fmt.Errorf("file `%d` is closed: %w", file.inode.Ino, BadModeErr)
	}
	return nil
}

func (file *File) Ino() Ino   { return file.inode.Ino }
func (file *File) Size() Byte { return file.inode.Size }
func (file *File) Tell() Byte { return file.pos }

// Read reads up to len(p) bytes at the cursor, returning io.EOF once the
// cursor is at or past the end.
func (file *File) Read(p []byte) (int, error) {
	if err := file.guard(); err != nil {
		return 0, err
	}
	if !file.mode.readable() {
		return 0, fmt.Errorf(
			"reading file `%d`: %w",
			file.inode.Ino,
			BadModeErr,
		)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if file.pos >= file.inode.Size {
		return 0, io.EOF
	}
	n, err := fs.ReadInodeData(file.fsys, &file.inode, file.pos, p)
	file.pos += n
	if err != nil {
		return int(n), fmt.Errorf("reading file `%d`: %w", file.inode.Ino, err)
	}
	return int(n), nil
}

// Write writes all of p at the cursor (at EOF regardless of the cursor in
// append mode), extending the file as needed.
func (file *File) Write(p []byte) (int, error) {
	if err := file.guard(); err != nil {
		return 0, err
	}
	if !file.mode.writable() {
		return 0, fmt.Errorf(
			"writing file `%d`: %w",
			file.inode.Ino,
			BadModeErr,
		)
	}
	if file.mode&Append != 0 {
		file.pos = file.inode.Size
	}
	n, err := fs.WriteInodeData(file.fsys, &file.inode, file.pos, p)
	file.pos += n
	if err != nil {
		return int(n), fmt.Errorf("writing file `%d`: %w", file.inode.Ino, err)
	}
	return int(n), nil
}

// Seek repositions the cursor; seeking past EOF is allowed (a later write
// materializes the hole). Negative targets fail BadOffsetErr.
func (file *File) Seek(offset int64, whence int) (int64, error) {
	if err := file.guard(); err != nil {
		return 0, err
	}
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(file.pos) + offset
	case io.SeekEnd:
		pos = int64(file.inode.Size) + offset
	default:
		return 0, fmt.Errorf(
			"seeking file `%d`: whence `%d`: %w",
			file.inode.Ino,
			whence,
			BadOffsetErr,
		)
	}
	if pos < 0 {
		return 0, fmt.Errorf(
			"seeking file `%d` to `%d`: %w",
			file.inode.Ino,
			pos,
			BadOffsetErr,
		)
	}
	file.pos = Byte(pos)
	return pos, nil
}

// Truncate resizes the file. Shrinking frees unreachable blocks; growing
// only moves the size. A cursor past the new end is pulled back to it.
func (file *File) Truncate(size Byte) error {
	if err := file.guard(); err != nil {
		return err
	}
	if !file.mode.writable() {
		return fmt.Errorf(
			"truncating file `%d`: %w",
			file.inode.Ino,
			BadModeErr,
		)
	}
	if err := fs.TruncateInode(file.fsys, &file.inode, size); err != nil {
		return fmt.Errorf("truncating file `%d`: %w", file.inode.Ino, err)
	}
	if file.pos > size {
		file.pos = size
	}
	return nil
}

// Flush persists the cursor's inode image and pushes device buffers.
func (file *File) Flush() error {
	if err := file.guard(); err != nil {
		return err
	}
	if err := fs.StoreInode(file.fsys, &file.inode); err != nil {
		return fmt.Errorf("flushing file `%d`: %w", file.inode.Ino, err)
	}
	if err := fs.Flush(file.fsys); err != nil {
		return fmt.Errorf("flushing file `%d`: %w", file.inode.Ino, err)
	}
	return nil
}

// Close flushes and invalidates the handle. Closing twice is a no-op.
func (file *File) Close() error {
	if file.closed {
		return nil
	}
	err := file.Flush()
	file.closed = true
	return err
}
