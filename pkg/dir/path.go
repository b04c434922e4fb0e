package dir

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/weberc2/vdisk/pkg/fs"

	. "github.com/weberc2/vdisk/pkg/types"
)

// splitPath breaks a relative, /-separated path into segments. Empty
// segments and "." are dropped, so "a//b/./c" resolves like "a/b/c".
func splitPath(path string) []string {
	var segments []string
	for _, segment := range strings.Split(path, "/") {
		if segment == "" || segment == "." {
			continue
		}
		segments = append(segments, segment)
	}
	return segments
}

// Walk resolves path to a subdirectory. A segment that names a regular
// file fails NotDirErr; a missing one fails NotFoundErr.
func (dir *Directory) Walk(path string) (*Directory, error) {
	current := dir
	for _, segment := range splitPath(path) {
		ino, err := current.Lookup(segment)
		if err != nil {
			return nil, fmt.Errorf("walking `%s`: %w", path, err)
		}
		child, err := Open(dir.fsys, ino)
		if err != nil {
			return nil, fmt.Errorf("walking `%s`: %w", path, err)
		}
		current = child
	}
	return current, nil
}

// Stat resolves path (relative to dir) to a copy of its inode.
func (dir *Directory) Stat(path string) (Inode, error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		var inode Inode
		if err := dir.load(&inode); err != nil {
			return Inode{}, fmt.Errorf("statting `%s`: %w", path, err)
		}
		return inode, nil
	}

	parent, err := dir.Walk(strings.Join(segments[:len(segments)-1], "/"))
	if err != nil {
		return Inode{}, fmt.Errorf("statting `%s`: %w", path, err)
	}
	ino, err := parent.Lookup(segments[len(segments)-1])
	if err != nil {
		return Inode{}, fmt.Errorf("statting `%s`: %w", path, err)
	}
	var inode Inode
	if err := fs.LoadInode(dir.fsys, ino, &inode); err != nil {
		return Inode{}, fmt.Errorf("statting `%s`: %w", path, err)
	}
	return inode, nil
}

// MkdirAll creates every missing directory along path and returns the
// final one; existing directories along the way are reused.
func (dir *Directory) MkdirAll(path string) (*Directory, error) {
	current := dir
	for _, segment := range splitPath(path) {
		child, err := current.Mkdir(segment)
		if err == nil {
			current = child
			continue
		}
		ino, lookupErr := current.Lookup(segment)
		if lookupErr != nil {
			return nil, fmt.Errorf("making directories `%s`: %w", path, err)
		}
		if current, err = Open(dir.fsys, ino); err != nil {
			return nil, fmt.Errorf("making directories `%s`: %w", path, err)
		}
	}
	return current, nil
}

// RemoveAll removes name whatever it is: files are unlinked, directories
// are emptied recursively and then removed.
func (dir *Directory) RemoveAll(name string) error {
	ino, err := dir.Lookup(name)
	if err != nil {
		return fmt.Errorf("removing tree `%s`: %w", name, err)
	}
	var inode Inode
	if err := fs.LoadInode(dir.fsys, ino, &inode); err != nil {
		return fmt.Errorf("removing tree `%s`: %w", name, err)
	}
	if !inode.IsDir() {
		return dir.Unlink(name)
	}

	child := Directory{fsys: dir.fsys, ino: ino}
	entries, err := child.entries(&inode)
	if err != nil {
		return fmt.Errorf("removing tree `%s`: %w", name, err)
	}
	for i := range entries {
		if err := child.RemoveAll(string(entries[i].Name)); err != nil {
			return fmt.Errorf("removing tree `%s`: %w", name, err)
		}
	}
	return dir.Rmdir(name)
}

// TreeNode is one entry in a recursive listing.
type TreeNode struct {
	Name     string
	Ino      Ino
	IsDir    bool
	Size     Byte
	Children []TreeNode
}

// Tree lists the directory recursively, in stored order at every level.
func (dir *Directory) Tree() ([]TreeNode, error) {
	var inode Inode
	if err := dir.load(&inode); err != nil {
		return nil, fmt.Errorf("listing tree of `%d`: %w", dir.ino, err)
	}
	entries, err := dir.entries(&inode)
	if err != nil {
		return nil, fmt.Errorf("listing tree of `%d`: %w", dir.ino, err)
	}

	nodes := make([]TreeNode, 0, len(entries))
	for i := range entries {
		var child Inode
		if err := fs.LoadInode(dir.fsys, entries[i].Ino, &child); err != nil {
			return nil, fmt.Errorf("listing tree of `%d`: %w", dir.ino, err)
		}
		node := TreeNode{
			Name:  string(entries[i].Name),
			Ino:   entries[i].Ino,
			IsDir: child.IsDir(),
			Size:  child.Size,
		}
		if child.IsDir() {
			childDir := Directory{fsys: dir.fsys, ino: entries[i].Ino}
			if node.Children, err = childDir.Tree(); err != nil {
				return nil, fmt.Errorf(
					"listing tree of `%d`: %w",
					dir.ino,
					err,
				)
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// CopyFile copies srcName under srcDir to dstName under dstDir through a
// pair of cursors, one block-sized chunk at a time. The destination must
// not already exist.
func CopyFile(srcDir *Directory, srcName string, dstDir *Directory, dstName string) error {
	src, err := srcDir.OpenFile(srcName, Read)
	if err != nil {
		return fmt.Errorf("copying `%s` to `%s`: %w", srcName, dstName, err)
	}
	defer src.Close()

	dst, err := dstDir.OpenFile(dstName, Create|Write|Exclusive)
	if err != nil {
		return fmt.Errorf("copying `%s` to `%s`: %w", srcName, dstName, err)
	}
	defer dst.Close()

	buf := make([]byte, srcDir.fsys.Super.Config.BlockSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf(
					"copying `%s` to `%s`: %w",
					srcName,
					dstName,
					err,
				)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("copying `%s` to `%s`: %w", srcName, dstName, err)
		}
	}
}
