package tinyfs

import (
	"fmt"
	"time"
)

// The methods in this file make up the dispatch contract: each one is a thin
// orchestration layer over the path resolver, the inode store, the directory
// engine, and the block map. All of them are stateless with respect to open
// files; every call resolves its path from scratch.

// GetAttr resolves `path` and reports the object's stat information.
func (fs *Filesystem) GetAttr(path string) (FileStat, error) {
	node, err := fs.Resolve(path)
	if err != nil {
		return FileStat{}, err
	}
	return node.FileStat(), nil
}

// Open checks that `path` resolves. No open-file state is kept.
func (fs *Filesystem) Open(path string) error {
	_, err := fs.Resolve(path)
	return err
}

// OpenDir checks that `path` resolves to a directory.
func (fs *Filesystem) OpenDir(path string) error {
	node, err := fs.Resolve(path)
	if err != nil {
		return err
	}
	if node.Type != TypeDirectory {
		return ErrNotADirectory.WithMessage(path)
	}
	return nil
}

// ReadDir returns every entry of the directory at `path`, "." and ".."
// included, in traversal order.
func (fs *Filesystem) ReadDir(path string) ([]Dirent, error) {
	node, err := fs.Resolve(path)
	if err != nil {
		return nil, err
	}
	if node.Type != TypeDirectory {
		return nil, ErrNotADirectory.WithMessage(path)
	}
	return fs.readDirEntries(&node)
}

// newChild allocates and persists a fresh inode registered under `base` in
// `parent`.
func (fs *Filesystem) newChild(
	parent *Inode, base string, fileType FileType, links uint32, mode uint32,
) (Inode, error) {
	ino, err := fs.inodeAlloc.Allocate()
	if err != nil {
		return Inode{}, err
	}

	node := Inode{
		Ino:   uint16(ino),
		Valid: 1,
		Type:  fileType,
		Link:  links,
	}
	node.initStat(fs.uid, fs.gid, time.Now())
	if mode&0o7777 != 0 {
		node.Stat.Mode = node.Stat.Mode&S_IFMT | mode&0o7777
	}
	if err := fs.WriteInode(node.Ino, &node); err != nil {
		return Inode{}, err
	}
	if err := fs.DirAdd(parent, node.Ino, base); err != nil {
		return Inode{}, err
	}
	return node, nil
}

// Mkdir creates a directory at `path`. The new directory's link count starts
// at 2 ("." plus its entry in the parent) and the parent gains a link for the
// new ".." reference.
func (fs *Filesystem) Mkdir(path string, mode uint32) error {
	parentPath, base := splitPath(path)
	if base == "" {
		return ErrExists.WithMessage(path)
	}
	parent, err := fs.Resolve(parentPath)
	if err != nil {
		return err
	}
	if parent.Type != TypeDirectory {
		return ErrNotADirectory.WithMessage(parentPath)
	}

	node, err := fs.newChild(&parent, base, TypeDirectory, 2, mode)
	if err != nil {
		return err
	}

	parent.Link++
	parent.Stat.Nlink = parent.Link
	if err := fs.WriteInode(parent.Ino, &parent); err != nil {
		return err
	}

	if err := fs.DirAdd(&node, node.Ino, "."); err != nil {
		return err
	}
	return fs.DirAdd(&node, parent.Ino, "..")
}

// Create makes an empty regular file at `path`.
func (fs *Filesystem) Create(path string, mode uint32) error {
	parentPath, base := splitPath(path)
	if base == "" {
		return ErrExists.WithMessage(path)
	}
	parent, err := fs.Resolve(parentPath)
	if err != nil {
		return err
	}
	if parent.Type != TypeDirectory {
		return ErrNotADirectory.WithMessage(parentPath)
	}

	_, err = fs.newChild(&parent, base, TypeFile, 1, mode)
	return err
}

// destroyInode releases everything an inode owns: its data blocks, its
// bitmap bit, and finally the record's valid flag.
func (fs *Filesystem) destroyInode(node *Inode) error {
	if err := fs.freeInodeBlocks(node); err != nil {
		return err
	}
	if err := fs.inodeAlloc.Free(uint32(node.Ino)); err != nil {
		return err
	}
	node.Valid = 0
	node.Size = 0
	node.Stat.Size = 0
	return fs.WriteInode(node.Ino, node)
}

// Rmdir removes the empty directory at `path`.
func (fs *Filesystem) Rmdir(path string) error {
	parentPath, base := splitPath(path)
	node, err := fs.Resolve(path)
	if err != nil {
		return err
	}
	if node.Type != TypeDirectory {
		return ErrNotADirectory.WithMessage(path)
	}
	if node.Ino == fs.rootIno {
		return ErrDirectoryNotEmpty.WithMessage("cannot remove the root directory")
	}

	entries, err := fs.readDirEntries(&node)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Name != "." && entry.Name != ".." {
			return ErrDirectoryNotEmpty.WithMessage(
				fmt.Sprintf("%s still contains %q", path, entry.Name))
		}
	}

	if err := fs.destroyInode(&node); err != nil {
		return err
	}

	parent, err := fs.Resolve(parentPath)
	if err != nil {
		return err
	}
	if err := fs.DirRemove(&parent, base); err != nil {
		return err
	}
	parent.Link--
	parent.Stat.Nlink = parent.Link
	return fs.WriteInode(parent.Ino, &parent)
}

// Unlink removes the regular file at `path`.
func (fs *Filesystem) Unlink(path string) error {
	parentPath, base := splitPath(path)
	node, err := fs.Resolve(path)
	if err != nil {
		return err
	}
	if node.Type == TypeDirectory {
		return ErrIsADirectory.WithMessage(path)
	}

	if err := fs.destroyInode(&node); err != nil {
		return err
	}

	parent, err := fs.Resolve(parentPath)
	if err != nil {
		return err
	}
	return fs.DirRemove(&parent, base)
}

// Read copies up to len(buffer) bytes of the file at `path` starting at byte
// `offset` and returns the number of bytes copied. Reading past end of file
// returns 0; a hole in the block map ends the read early.
func (fs *Filesystem) Read(path string, buffer []byte, offset int64) (int, error) {
	node, err := fs.Resolve(path)
	if err != nil {
		return 0, err
	}
	if node.Type == TypeDirectory {
		return 0, ErrIsADirectory.WithMessage(path)
	}
	if offset < 0 || uint64(offset) >= node.Stat.Size {
		return 0, nil
	}

	remaining := len(buffer)
	if tail := node.Stat.Size - uint64(offset); uint64(remaining) > tail {
		remaining = int(tail)
	}

	var cache indirectCache
	block := make([]byte, BlockSize)
	lb := uint32(offset / BlockSize)
	inBlock := int(offset % BlockSize)
	copied := 0

	for remaining > 0 {
		physical, err := fs.lookupBlock(&node, lb, &cache)
		if err != nil {
			return copied, err
		}
		if physical == 0 {
			break
		}
		if err := fs.dev.ReadBlock(uint(physical), block); err != nil {
			return copied, ErrIOFailed.Wrap(err)
		}

		chunk := BlockSize - inBlock
		if chunk > remaining {
			chunk = remaining
		}
		copy(buffer[copied:], block[inBlock:inBlock+chunk])
		copied += chunk
		remaining -= chunk
		inBlock = 0
		lb++
	}
	return copied, nil
}

// Write stores len(data) bytes into the file at `path` starting at byte
// `offset`, allocating data blocks on demand, and returns the number of
// bytes written. The file's size grows to cover the written range.
func (fs *Filesystem) Write(path string, data []byte, offset int64) (int, error) {
	node, err := fs.Resolve(path)
	if err != nil {
		return 0, err
	}
	if node.Type == TypeDirectory {
		return 0, ErrIsADirectory.WithMessage(path)
	}
	if offset < 0 {
		return 0, ErrIOFailed.WithMessage("negative write offset")
	}
	if len(data) > 0 && uint64(offset)+uint64(len(data)) > MaxFileSize {
		return 0, ErrFileTooLarge.WithMessage(fmt.Sprintf(
			"write of %d bytes at offset %d exceeds the %d byte limit",
			len(data), offset, MaxFileSize))
	}

	var cache indirectCache
	block := make([]byte, BlockSize)
	lb := uint32(offset / BlockSize)
	inBlock := int(offset % BlockSize)
	written := 0

	for written < len(data) {
		physical, err := fs.ensureBlock(&node, lb, &cache)
		if err != nil {
			return written, err
		}

		chunk := BlockSize - inBlock
		if chunk > len(data)-written {
			chunk = len(data) - written
		}
		if chunk < BlockSize {
			if err := fs.dev.ReadBlock(uint(physical), block); err != nil {
				return written, ErrIOFailed.Wrap(err)
			}
		}
		copy(block[inBlock:], data[written:written+chunk])
		if err := fs.dev.WriteBlock(uint(physical), block); err != nil {
			return written, ErrIOFailed.Wrap(err)
		}

		written += chunk
		inBlock = 0
		lb++
	}

	if end := uint64(offset) + uint64(written); end > node.Stat.Size {
		node.Stat.Size = end
		node.Size = uint32(end)
	}
	node.Stat.Mtime = time.Now().Unix()
	if err := fs.WriteInode(node.Ino, &node); err != nil {
		return written, err
	}
	return written, nil
}

// Truncate resizes the file at `path`. Shrinking frees the data blocks past
// the new end; growing leaves a hole, which reads back as end of file until
// written.
func (fs *Filesystem) Truncate(path string, size int64) error {
	node, err := fs.Resolve(path)
	if err != nil {
		return err
	}
	if node.Type == TypeDirectory {
		return ErrIsADirectory.WithMessage(path)
	}
	if size < 0 || size > MaxFileSize {
		return ErrFileTooLarge.WithMessage(fmt.Sprintf("truncate to %d bytes", size))
	}

	if uint64(size) < node.Stat.Size {
		keepBlocks := uint32((size + BlockSize - 1) / BlockSize)
		if err := fs.truncateBlocks(&node, keepBlocks); err != nil {
			return err
		}
		if err := fs.zeroTail(&node, size); err != nil {
			return err
		}
	}

	node.Stat.Size = uint64(size)
	node.Size = uint32(size)
	node.Stat.Mtime = time.Now().Unix()
	return fs.WriteInode(node.Ino, &node)
}

// zeroTail clears the bytes of the last kept block that lie past `size`, so
// a later grow doesn't resurrect stale data.
func (fs *Filesystem) zeroTail(node *Inode, size int64) error {
	inBlock := int(size % BlockSize)
	if inBlock == 0 {
		return nil
	}

	var cache indirectCache
	physical, err := fs.lookupBlock(node, uint32(size/BlockSize), &cache)
	if err != nil || physical == 0 {
		return err
	}

	block := make([]byte, BlockSize)
	if err := fs.dev.ReadBlock(uint(physical), block); err != nil {
		return ErrIOFailed.Wrap(err)
	}
	for i := inBlock; i < BlockSize; i++ {
		block[i] = 0
	}
	if err := fs.dev.WriteBlock(uint(physical), block); err != nil {
		return ErrIOFailed.Wrap(err)
	}
	return nil
}

// Utimens updates the access and modification timestamps of the object at
// `path`. Nil pointers leave the corresponding timestamp unchanged.
func (fs *Filesystem) Utimens(path string, atime, mtime *time.Time) error {
	node, err := fs.Resolve(path)
	if err != nil {
		return err
	}
	if atime != nil {
		node.Stat.Atime = atime.Unix()
	}
	if mtime != nil {
		node.Stat.Mtime = mtime.Unix()
	}
	return fs.WriteInode(node.Ino, &node)
}
