package tinyfs

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"

	"github.com/dargueta/tinyfs/blockdev"
)

// RootInodeNumber is the inode number of the root directory. Format always
// allocates the root first, so under the lowest-free policy it receives
// inode zero.
const RootInodeNumber = 0

// Filesystem owns one mounted diskfile: the open block device, the in-memory
// superblock, and the two allocation bitmaps. It is not safe for concurrent
// use; multiplexing callers must serialize every operation behind a single
// lock.
type Filesystem struct {
	dev        *blockdev.Device
	super      Superblock
	inodeAlloc *Allocator
	dataAlloc  *Allocator
	rootIno    uint16
	uid        uint32
	gid        uint32
}

// Mount loads the superblock from an already-formatted device and brings
// both allocation bitmaps into memory.
func Mount(dev *blockdev.Device) (*Filesystem, error) {
	buffer := make([]byte, BlockSize)
	if err := dev.ReadBlock(SuperblockBlock, buffer); err != nil {
		return nil, ErrIOFailed.Wrap(err)
	}
	super, err := DeserializeSuperblock(buffer)
	if err != nil {
		return nil, err
	}

	fs := &Filesystem{
		dev:     dev,
		super:   super,
		rootIno: RootInodeNumber,
		uid:     uint32(os.Getuid()),
		gid:     uint32(os.Getgid()),
	}
	fs.inodeAlloc = NewAllocator(
		dev, uint(super.IBitmapBlk), uint(super.MaxInum), 0)
	fs.dataAlloc = NewAllocator(
		dev, uint(super.DBitmapBlk), uint(super.MaxDnum), super.DStartBlk)

	if err := fs.inodeAlloc.Load(); err != nil {
		return nil, err
	}
	if err := fs.dataAlloc.Load(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Init opens the diskfile at `path` and mounts it, taking the image's
// geometry from its own superblock so non-default images mount unchanged. A
// fresh image with default options is formatted only when the file is
// genuinely absent; an existing file that doesn't carry a valid superblock
// is an error, never reformatted.
func Init(path string) (*Filesystem, error) {
	handle, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, ErrIOFailed.Wrap(err)
		}
		dev, err := blockdev.CreateFile(path, BlockSize, MaxBlocks)
		if err != nil {
			return nil, ErrIOFailed.Wrap(err)
		}
		if err := Format(dev, FormatOptions{}); err != nil {
			dev.Close()
			return nil, err
		}
		return Mount(dev)
	}

	buffer := make([]byte, BlockSize)
	if _, err := io.ReadFull(handle, buffer); err != nil {
		handle.Close()
		return nil, ErrCorruptSuperblock.Wrap(err)
	}
	super, err := DeserializeSuperblock(buffer)
	if err != nil {
		handle.Close()
		return nil, err
	}

	info, err := handle.Stat()
	if err != nil {
		handle.Close()
		return nil, ErrIOFailed.Wrap(err)
	}
	if info.Size() < int64(super.TotalBlocks())*BlockSize {
		handle.Close()
		return nil, ErrCorruptSuperblock.WithMessage(fmt.Sprintf(
			"image is %d bytes but its superblock describes %d blocks",
			info.Size(), super.TotalBlocks()))
	}

	return Mount(blockdev.New(handle, BlockSize, super.TotalBlocks()))
}

// Superblock returns a copy of the mounted superblock.
func (fs *Filesystem) Superblock() Superblock {
	return fs.super
}

// InodeAllocator exposes the inode bitmap, mainly for consistency checks.
func (fs *Filesystem) InodeAllocator() *Allocator {
	return fs.inodeAlloc
}

// DataAllocator exposes the data block bitmap, mainly for consistency checks.
func (fs *Filesystem) DataAllocator() *Allocator {
	return fs.dataAlloc
}

// Flush writes both bitmaps through to the device and syncs it.
func (fs *Filesystem) Flush() error {
	var result *multierror.Error
	result = multierror.Append(result, fs.inodeAlloc.Flush())
	result = multierror.Append(result, fs.dataAlloc.Flush())
	result = multierror.Append(result, fs.dev.Sync())
	return result.ErrorOrNil()
}

// Close flushes in-memory state and releases the device. The Filesystem must
// not be used afterwards.
func (fs *Filesystem) Close() error {
	var result *multierror.Error
	result = multierror.Append(result, fs.Flush())
	result = multierror.Append(result, fs.dev.Close())
	return result.ErrorOrNil()
}

// StatFS summarizes the volume from the superblock and the live bitmaps.
func (fs *Filesystem) StatFS() FSStat {
	return FSStat{
		BlockSize:     BlockSize,
		TotalBlocks:   uint64(fs.super.MaxDnum),
		BlocksFree:    uint64(fs.super.MaxDnum) - uint64(fs.dataAlloc.InUse()),
		Files:         uint64(fs.inodeAlloc.InUse()),
		FilesFree:     uint64(fs.super.MaxInum) - uint64(fs.inodeAlloc.InUse()),
		MaxNameLength: MaxNameLen,
	}
}
