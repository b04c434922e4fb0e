package dir

import (
	"bytes"
	"fmt"

	"github.com/weberc2/vdisk/pkg/encode"
	"github.com/weberc2/vdisk/pkg/fs"

	. "github.com/weberc2/vdisk/pkg/types"
)

// Directory is a handle on a directory inode. It holds an index, not the
// inode itself: the inode table is the single owner and every operation
// reloads through it.
type Directory struct {
	fsys *fs.FileSystem
	ino  Ino
}

// Root returns the root directory of a mounted filesystem.
func Root(fsys *fs.FileSystem) *Directory {
	return &Directory{fsys: fsys, ino: InoRoot}
}

// Open opens the directory at ino; opening a regular file fails NotDirErr.
func Open(fsys *fs.FileSystem, ino Ino) (*Directory, error) {
	var inode Inode
	if err := fs.LoadInode(fsys, ino, &inode); err != nil {
		return nil, fmt.Errorf("opening directory `%d`: %w", ino, err)
	}
	if !inode.IsDir() {
		return nil, fmt.Errorf("opening directory `%d`: %w", ino, NotDirErr)
	}
	return &Directory{fsys: fsys, ino: ino}, nil
}

func (dir *Directory) Ino() Ino { return dir.ino }

// ValidateName enforces the uniform naming rule: non-empty, no path
// separator, no NUL, and short enough for the u16 length prefix.
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > MaxNameLen ||
		bytes.ContainsAny([]byte(name), "/\x00") {
		return fmt.Errorf("validating name `%q`: %w", name, InvalidNameErr)
	}
	return nil
}

func (dir *Directory) load(inode *Inode) error {
	if err := fs.LoadInode(dir.fsys, dir.ino, inode); err != nil {
		return err
	}
	if !inode.IsDir() {
		return fmt.Errorf("inode `%d`: %w", dir.ino, NotDirErr)
	}
	return nil
}

// entries decodes the directory body. Tombstones (entries with a nil ino)
// are skipped; stored order is preserved. Directory bodies are small, so
// one full read beats per-entry I/O.
func (dir *Directory) entries(inode *Inode) ([]DirEntry, error) {
	body := make([]byte, inode.Size)
	n, err := fs.ReadInodeData(dir.fsys, inode, 0, body)
	if err != nil {
		return nil, fmt.Errorf(
			"reading entries of directory `%d`: %w",
			dir.ino,
			err,
		)
	}
	body = body[:n]

	var entries []DirEntry
	var offset Byte
	for offset < Byte(len(body)) {
		if Byte(len(body))-offset < encode.DirEntryHeaderSize {
			return nil, fmt.Errorf(
				"reading entries of directory `%d`: truncated entry header "+
					"at offset `%d`: %w",
				dir.ino,
				offset,
				FormatErr,
			)
		}
		var entry DirEntry
		nameLen := encode.DecodeDirEntryHeader(&entry, body[offset:])
		offset += encode.DirEntryHeaderSize
		if Byte(len(body))-offset < Byte(nameLen) {
			return nil, fmt.Errorf(
				"reading entries of directory `%d`: truncated entry name "+
					"at offset `%d`: %w",
				dir.ino,
				offset,
				FormatErr,
			)
		}
		entry.Name = append([]byte(nil), body[offset:offset+Byte(nameLen)]...)
		offset += Byte(nameLen)
		if entry.Ino == InoNil {
			continue // tombstone
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// List returns the entry names in stored order, tombstones excluded.
func (dir *Directory) List() ([]string, error) {
	var inode Inode
	if err := dir.load(&inode); err != nil {
		return nil, fmt.Errorf("listing directory `%d`: %w", dir.ino, err)
	}
	entries, err := dir.entries(&inode)
	if err != nil {
		return nil, fmt.Errorf("listing directory `%d`: %w", dir.ino, err)
	}
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = string(entry.Name)
	}
	return names, nil
}

// Lookup resolves name to its ino.
func (dir *Directory) Lookup(name string) (Ino, error) {
	if err := ValidateName(name); err != nil {
		return InoNil, fmt.Errorf(
			"looking up `%s` in directory `%d`: %w",
			name,
			dir.ino,
			err,
		)
	}
	var inode Inode
	if err := dir.load(&inode); err != nil {
		return InoNil, fmt.Errorf(
			"looking up `%s` in directory `%d`: %w",
			name,
			dir.ino,
			err,
		)
	}
	ino, err := dir.lookup(&inode, name)
	if err != nil {
		return InoNil, fmt.Errorf(
			"looking up `%s` in directory `%d`: %w",
			name,
			dir.ino,
			err,
		)
	}
	return ino, nil
}

func (dir *Directory) lookup(inode *Inode, name string) (Ino, error) {
	entries, err := dir.entries(inode)
	if err != nil {
		return InoNil, err
	}
	for i := range entries {
		if string(entries[i].Name) == name {
			return entries[i].Ino, nil
		}
	}
	return InoNil, NotFoundErr
}

// addEntry appends a live entry at the end of the body.
func (dir *Directory) addEntry(inode *Inode, name string, ino Ino) error {
	entry := DirEntry{Ino: ino, Name: []byte(name)}
	b := make([]byte, encode.DirEntrySize(len(name)))
	encode.EncodeDirEntry(&entry, b)
	if _, err := fs.WriteInodeData(dir.fsys, inode, inode.Size, b); err != nil {
		return fmt.Errorf(
			"adding entry `%s` -> `%d` to directory `%d`: %w",
			name,
			ino,
			dir.ino,
			err,
		)
	}
	return nil
}

// removeEntry drops name from the entry table and compacts the body (the
// tail shrinks; no tombstone is left behind). Returns the removed ino.
func (dir *Directory) removeEntry(inode *Inode, name string) (Ino, error) {
	entries, err := dir.entries(inode)
	if err != nil {
		return InoNil, err
	}

	removed := InoNil
	var body []byte
	for i := range entries {
		if removed == InoNil && string(entries[i].Name) == name {
			removed = entries[i].Ino
			continue
		}
		b := make([]byte, encode.DirEntrySize(len(entries[i].Name)))
		encode.EncodeDirEntry(&entries[i], b)
		body = append(body, b...)
	}
	if removed == InoNil {
		return InoNil, fmt.Errorf(
			"removing entry `%s` from directory `%d`: %w",
			name,
			dir.ino,
			NotFoundErr,
		)
	}

	if len(body) > 0 {
		if _, err := fs.WriteInodeData(dir.fsys, inode, 0, body); err != nil {
			return InoNil, fmt.Errorf(
				"removing entry `%s` from directory `%d`: %w",
				name,
				dir.ino,
				err,
			)
		}
	}
	if err := fs.TruncateInode(dir.fsys, inode, Byte(len(body))); err != nil {
		return InoNil, fmt.Errorf(
			"removing entry `%s` from directory `%d`: %w",
			name,
			dir.ino,
			err,
		)
	}
	return removed, nil
}
