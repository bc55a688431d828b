package tinyfs

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/noxer/bytewriter"
)

// FileType is the object type stored in an inode. Hard link and symlink
// values are reserved in the on-disk format; link traversal is not
// implemented.
type FileType uint32

const (
	TypeFile FileType = iota
	TypeDirectory
	TypeHardLink
	TypeSymlink
)

// InodeSize is the fixed on-disk footprint of one inode record. The record's
// live fields occupy 152 bytes; the rest is reserved padding so the size
// stays a power of two and sixteen records pack exactly into a block.
const InodeSize = 256

// InodesPerBlock is how many inode records fit in one block of the inode
// region.
const InodesPerBlock = BlockSize / InodeSize

// Stat is the POSIX stat information embedded in every inode. Timestamps are
// Unix seconds.
type Stat struct {
	Mode  uint32
	Uid   uint32
	Gid   uint32
	Nlink uint32
	Size  uint64
	Atime int64
	Mtime int64
}

// Inode describes one file system object. Direct and Indirect hold absolute
// block numbers; zero means the slot is unallocated.
type Inode struct {
	Ino      uint16
	Valid    uint16
	Size     uint32
	Type     FileType
	Link     uint32
	Direct   [NumDirectPointers]uint32
	Indirect [NumIndirectPointers]uint32
	Stat     Stat
}

// rawInode is the frozen on-disk layout of an inode record, little-endian.
// Field order matters; do not reorder.
type rawInode struct {
	Ino      uint16
	Valid    uint16
	Size     uint32
	Type     uint32
	Link     uint32
	Direct   [NumDirectPointers]uint32
	Indirect [NumIndirectPointers]uint32
	Mode     uint32
	Uid      uint32
	Gid      uint32
	Nlink    uint32
	StatSize uint64
	Atime    int64
	Mtime    int64
	_        [104]byte
}

func inodeToRaw(node *Inode) rawInode {
	return rawInode{
		Ino:      node.Ino,
		Valid:    node.Valid,
		Size:     node.Size,
		Type:     uint32(node.Type),
		Link:     node.Link,
		Direct:   node.Direct,
		Indirect: node.Indirect,
		Mode:     node.Stat.Mode,
		Uid:      node.Stat.Uid,
		Gid:      node.Stat.Gid,
		Nlink:    node.Stat.Nlink,
		StatSize: node.Stat.Size,
		Atime:    node.Stat.Atime,
		Mtime:    node.Stat.Mtime,
	}
}

func rawToInode(raw rawInode) Inode {
	return Inode{
		Ino:      raw.Ino,
		Valid:    raw.Valid,
		Size:     raw.Size,
		Type:     FileType(raw.Type),
		Link:     raw.Link,
		Direct:   raw.Direct,
		Indirect: raw.Indirect,
		Stat: Stat{
			Mode:  raw.Mode,
			Uid:   raw.Uid,
			Gid:   raw.Gid,
			Nlink: raw.Nlink,
			Size:  raw.StatSize,
			Atime: raw.Atime,
			Mtime: raw.Mtime,
		},
	}
}

// FileStat converts the embedded stat into its reporting form.
func (node *Inode) FileStat() FileStat {
	return FileStat{
		InodeNumber:  uint64(node.Ino),
		Nlinks:       uint64(node.Stat.Nlink),
		Mode:         node.Stat.Mode,
		Uid:          node.Stat.Uid,
		Gid:          node.Stat.Gid,
		Size:         int64(node.Stat.Size),
		BlockSize:    BlockSize,
		LastAccessed: time.Unix(node.Stat.Atime, 0),
		LastModified: time.Unix(node.Stat.Mtime, 0),
	}
}

// initStat fills the embedded stat from the inode's type and link count,
// stamping both timestamps with `now`.
func (node *Inode) initStat(uid, gid uint32, now time.Time) {
	switch node.Type {
	case TypeDirectory:
		node.Stat.Mode = DefaultDirectoryPermissions
	case TypeSymlink:
		node.Stat.Mode = S_IFLNK | 0o755
	default:
		node.Stat.Mode = DefaultFilePermissions
	}
	node.Stat.Uid = uid
	node.Stat.Gid = gid
	node.Stat.Nlink = node.Link
	node.Stat.Size = uint64(node.Size)
	node.Stat.Atime = now.Unix()
	node.Stat.Mtime = now.Unix()
}

// inodeBlock gives the block of the inode region that holds record `ino`.
func (fs *Filesystem) inodeBlock(ino uint16) uint {
	return uint(fs.super.IStartBlk) + uint(ino)/InodesPerBlock
}

// ReadInode reads inode record `ino` from the inode region and returns a
// copy. The allocation bitmap is not consulted; callers that care whether the
// inode is live must check Valid themselves.
func (fs *Filesystem) ReadInode(ino uint16) (Inode, error) {
	buffer := make([]byte, BlockSize)
	if err := fs.dev.ReadBlock(fs.inodeBlock(ino), buffer); err != nil {
		return Inode{}, ErrIOFailed.Wrap(err)
	}

	offset := (uint(ino) % InodesPerBlock) * InodeSize
	var raw rawInode
	reader := bytes.NewReader(buffer[offset : offset+InodeSize])
	if err := binary.Read(reader, binary.LittleEndian, &raw); err != nil {
		return Inode{}, ErrIOFailed.Wrap(err)
	}
	return rawToInode(raw), nil
}

// WriteInode stores `node` into inode record `ino` with a read-modify-write
// of the containing block.
func (fs *Filesystem) WriteInode(ino uint16, node *Inode) error {
	blockNum := fs.inodeBlock(ino)
	buffer := make([]byte, BlockSize)
	if err := fs.dev.ReadBlock(blockNum, buffer); err != nil {
		return ErrIOFailed.Wrap(err)
	}

	offset := (uint(ino) % InodesPerBlock) * InodeSize
	raw := inodeToRaw(node)
	writer := bytewriter.New(buffer[offset : offset+InodeSize])
	if err := binary.Write(writer, binary.LittleEndian, &raw); err != nil {
		return ErrIOFailed.Wrap(err)
	}

	if err := fs.dev.WriteBlock(blockNum, buffer); err != nil {
		return ErrIOFailed.Wrap(err)
	}
	return nil
}
