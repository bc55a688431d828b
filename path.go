package tinyfs

import (
	"fmt"
	posixpath "path"
)

// Resolve walks an absolute '/'-separated path from the root inode and
// returns the inode it names. Intermediate components must be directories.
func (fs *Filesystem) Resolve(path string) (Inode, error) {
	if len(path) > MaxPathLen {
		return Inode{}, ErrNameTooLong.WithMessage(
			fmt.Sprintf("path is %d bytes, limit is %d", len(path), MaxPathLen))
	}
	if path == "" || path[0] != '/' {
		return Inode{}, ErrNotFound.WithMessage(
			fmt.Sprintf("path %q is not absolute", path))
	}

	current, err := fs.ReadInode(fs.rootIno)
	if err != nil {
		return Inode{}, err
	}

	start := 1
	for start <= len(path) {
		end := start
		for end < len(path) && path[end] != '/' {
			end++
		}
		component := path[start:end]
		start = end + 1
		if component == "" {
			continue
		}
		if len(component) > MaxNameLen {
			return Inode{}, ErrNameTooLong.WithMessage(
				fmt.Sprintf("%.32q...", component))
		}
		if current.Type != TypeDirectory {
			return Inode{}, ErrNotADirectory.WithMessage(
				fmt.Sprintf("inode %d in %q is not a directory", current.Ino, path))
		}

		entry, err := fs.DirFind(current.Ino, component)
		if err != nil {
			return Inode{}, err
		}
		current, err = fs.ReadInode(entry.Ino)
		if err != nil {
			return Inode{}, err
		}
	}
	return current, nil
}

// splitPath separates a path into its parent directory path and base name.
func splitPath(path string) (parent string, base string) {
	parent, base = posixpath.Split(posixpath.Clean(path))
	if parent == "" {
		parent = "/"
	}
	return parent, base
}
