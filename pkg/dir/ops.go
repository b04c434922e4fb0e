package dir

import (
	"fmt"

	"github.com/weberc2/vdisk/pkg/fs"

	. "github.com/weberc2/vdisk/pkg/types"
)

// Mkdir creates an empty subdirectory and links it into dir.
func (dir *Directory) Mkdir(name string) (*Directory, error) {
	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf(
			"making directory `%s` in `%d`: %w",
			name,
			dir.ino,
			err,
		)
	}
	var inode Inode
	if err := dir.load(&inode); err != nil {
		return nil, fmt.Errorf(
			"making directory `%s` in `%d`: %w",
			name,
			dir.ino,
			err,
		)
	}
	if _, err := dir.lookup(&inode, name); err == nil {
		return nil, fmt.Errorf(
			"making directory `%s` in `%d`: %w",
			name,
			dir.ino,
			ExistsErr,
		)
	}

	var child Inode
	if err := fs.AllocInode(dir.fsys, ModeDir, &child); err != nil {
		return nil, fmt.Errorf(
			"making directory `%s` in `%d`: %w",
			name,
			dir.ino,
			err,
		)
	}
	if err := dir.addEntry(&inode, name, child.Ino); err != nil {
		fs.FreeInode(dir.fsys, &child)
		return nil, fmt.Errorf(
			"making directory `%s` in `%d`: %w",
			name,
			dir.ino,
			err,
		)
	}
	return &Directory{fsys: dir.fsys, ino: child.Ino}, nil
}

// Rmdir removes an empty subdirectory and frees its inode. The root
// directory cannot be removed (it is never an entry of any directory, so
// lookup alone enforces this).
func (dir *Directory) Rmdir(name string) error {
	if err := dir.removeChild(name, true); err != nil {
		return fmt.Errorf(
			"removing directory `%s` from `%d`: %w",
			name,
			dir.ino,
			err,
		)
	}
	return nil
}

// Unlink removes a regular file and frees its inode.
func (dir *Directory) Unlink(name string) error {
	if err := dir.removeChild(name, false); err != nil {
		return fmt.Errorf(
			"unlinking `%s` from `%d`: %w",
			name,
			dir.ino,
			err,
		)
	}
	return nil
}

func (dir *Directory) removeChild(name string, wantDir bool) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	var inode Inode
	if err := dir.load(&inode); err != nil {
		return err
	}
	ino, err := dir.lookup(&inode, name)
	if err != nil {
		return err
	}

	var child Inode
	if err := fs.LoadInode(dir.fsys, ino, &child); err != nil {
		return err
	}
	if wantDir {
		if !child.IsDir() {
			return NotDirErr
		}
		childDir := Directory{fsys: dir.fsys, ino: ino}
		entries, err := childDir.entries(&child)
		if err != nil {
			return err
		}
		if len(entries) != 0 {
			return NotEmptyErr
		}
	} else if child.IsDir() {
		return IsDirErr
	}

	if _, err := dir.removeEntry(&inode, name); err != nil {
		return err
	}
	return fs.FreeInode(dir.fsys, &child)
}

// Rename moves old to newParent (dir itself when nil) under the name new.
// An existing destination file, or empty directory, is replaced and its
// inode freed; a non-empty destination directory fails NotEmptyErr; moving
// a directory underneath itself fails LoopErr. Either both directories
// reflect the move or neither does.
func (dir *Directory) Rename(old, new string, newParent *Directory) error {
	if newParent == nil {
		newParent = dir
	}
	if err := dir.rename(old, new, newParent); err != nil {
		return fmt.Errorf(
			"renaming `%s` in `%d` to `%s` in `%d`: %w",
			old,
			dir.ino,
			new,
			newParent.ino,
			err,
		)
	}
	return nil
}

func (dir *Directory) rename(old, new string, newParent *Directory) error {
	if err := ValidateName(old); err != nil {
		return err
	}
	if err := ValidateName(new); err != nil {
		return err
	}

	var srcInode Inode
	if err := dir.load(&srcInode); err != nil {
		return err
	}
	ino, err := dir.lookup(&srcInode, old)
	if err != nil {
		return err
	}
	if dir.ino == newParent.ino && old == new {
		return nil
	}

	var moved Inode
	if err := fs.LoadInode(dir.fsys, ino, &moved); err != nil {
		return err
	}
	if moved.IsDir() {
		if err := dir.checkLoop(ino, newParent.ino); err != nil {
			return err
		}
	}

	var dstInode Inode
	if err := newParent.load(&dstInode); err != nil {
		return err
	}
	if existing, err := newParent.lookup(&dstInode, new); err == nil {
		if err := newParent.replaceTarget(&dstInode, new, existing); err != nil {
			return err
		}
	}

	// Every step below reloads its directory inode: removal and insertion
	// both persist through the inode table, and same-directory moves must
	// not act on a stale image.
	if err := dir.load(&srcInode); err != nil {
		return err
	}
	if _, err := dir.removeEntry(&srcInode, old); err != nil {
		return err
	}
	if err := newParent.load(&dstInode); err != nil {
		return err
	}
	if err := newParent.addEntry(&dstInode, new, ino); err != nil {
		// restore the source link so neither directory reflects the move
		if err := dir.load(&srcInode); err != nil {
			return err
		}
		if addErr := dir.addEntry(&srcInode, old, ino); addErr != nil {
			return fmt.Errorf(
				"restoring source entry after failed insert (%v): %w",
				addErr,
				err,
			)
		}
		return err
	}
	return nil
}

// replaceTarget frees the inode currently linked at name, enforcing the
// overwrite rules.
func (newParent *Directory) replaceTarget(
	dstInode *Inode,
	name string,
	existing Ino,
) error {
	var target Inode
	if err := fs.LoadInode(newParent.fsys, existing, &target); err != nil {
		return err
	}
	if target.IsDir() {
		targetDir := Directory{fsys: newParent.fsys, ino: existing}
		entries, err := targetDir.entries(&target)
		if err != nil {
			return err
		}
		if len(entries) != 0 {
			return NotEmptyErr
		}
	}
	if _, err := newParent.removeEntry(dstInode, name); err != nil {
		return err
	}
	return fs.FreeInode(newParent.fsys, &target)
}

// checkLoop rejects moving the directory `moved` into itself or any of its
// descendants. There are no parent links on disk, so it walks downward
// from the moved directory looking for the destination.
func (dir *Directory) checkLoop(moved, destination Ino) error {
	if moved == destination {
		return LoopErr
	}
	movedDir := Directory{fsys: dir.fsys, ino: moved}
	var inode Inode
	if err := movedDir.load(&inode); err != nil {
		return err
	}
	entries, err := movedDir.entries(&inode)
	if err != nil {
		return err
	}
	for i := range entries {
		var child Inode
		if err := fs.LoadInode(dir.fsys, entries[i].Ino, &child); err != nil {
			return err
		}
		if !child.IsDir() {
			continue
		}
		if err := dir.checkLoop(entries[i].Ino, destination); err != nil {
			return err
		}
	}
	return nil
}
