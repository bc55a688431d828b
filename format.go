package tinyfs

import (
	"fmt"
	"os"
	"time"

	"github.com/dargueta/tinyfs/blockdev"
)

// FormatOptions controls the geometry of a freshly formatted image. Zero
// values fall back to the package defaults, which match the fixed DiskSize
// image the CLI creates.
type FormatOptions struct {
	// MaxInodes is the number of inode records, at most BlockSize*8 so the
	// allocation bitmap fits in one block.
	MaxInodes uint32
	// MaxDataBlocks is the number of blocks in the data region, at most
	// BlockSize*8.
	MaxDataBlocks uint32
}

func (opts *FormatOptions) withDefaults() FormatOptions {
	filled := *opts
	if filled.MaxInodes == 0 {
		filled.MaxInodes = MaxInum
	}
	if filled.MaxDataBlocks == 0 {
		filled.MaxDataBlocks = MaxDnum
	}
	return filled
}

// Format initializes a blank device as an empty file system: it writes the
// superblock, zeroes both bitmap blocks, allocates the root inode, and plants
// the root's "." and ".." entries. The device is left ready for Mount.
func Format(dev *blockdev.Device, opts FormatOptions) error {
	opts = opts.withDefaults()
	if opts.MaxInodes > BlockSize*8 || opts.MaxDataBlocks > BlockSize*8 {
		return ErrNoSpace.WithMessage(fmt.Sprintf(
			"bitmaps for %d inodes / %d data blocks don't fit in one block each",
			opts.MaxInodes, opts.MaxDataBlocks))
	}

	super := NewSuperblock(opts.MaxInodes, opts.MaxDataBlocks)
	if super.TotalBlocks() > dev.TotalBlocks() {
		return ErrNoSpace.WithMessage(fmt.Sprintf(
			"device has %d blocks, geometry needs %d",
			dev.TotalBlocks(), super.TotalBlocks()))
	}

	buffer := make([]byte, BlockSize)
	if err := super.SerializeInto(buffer); err != nil {
		return ErrIOFailed.Wrap(err)
	}
	if err := dev.WriteBlock(SuperblockBlock, buffer); err != nil {
		return ErrIOFailed.Wrap(err)
	}

	zeroes := make([]byte, BlockSize)
	if err := dev.WriteBlock(uint(super.IBitmapBlk), zeroes); err != nil {
		return ErrIOFailed.Wrap(err)
	}
	if err := dev.WriteBlock(uint(super.DBitmapBlk), zeroes); err != nil {
		return ErrIOFailed.Wrap(err)
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

	ino, err := fs.inodeAlloc.Allocate()
	if err != nil {
		return err
	}
	if ino != RootInodeNumber {
		return ErrCorruptSuperblock.WithMessage(fmt.Sprintf(
			"root inode landed on %d, expected %d", ino, RootInodeNumber))
	}

	root := Inode{
		Ino:   RootInodeNumber,
		Valid: 1,
		Type:  TypeDirectory,
		// "." and the root's own ".." both point back here.
		Link: 2,
	}
	root.initStat(fs.uid, fs.gid, time.Now())
	if err := fs.WriteInode(root.Ino, &root); err != nil {
		return err
	}

	if err := fs.DirAdd(&root, root.Ino, "."); err != nil {
		return err
	}
	if err := fs.DirAdd(&root, root.Ino, ".."); err != nil {
		return err
	}

	if err := fs.inodeAlloc.Flush(); err != nil {
		return err
	}
	return fs.dataAlloc.Flush()
}
