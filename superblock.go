package tinyfs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"
)

// Superblock holds the global layout constants of a formatted diskfile. It is
// written once by Format and read once at mount; afterwards it is only ever
// consulted in memory.
type Superblock struct {
	Magic      uint32
	MaxInum    uint32
	MaxDnum    uint32
	IBitmapBlk uint32
	DBitmapBlk uint32
	IStartBlk  uint32
	DStartBlk  uint32
}

// NewSuperblock builds the superblock for a fresh image holding `maxInum`
// inodes and `maxDnum` data blocks. The data region starts on the first block
// past the packed inode region.
func NewSuperblock(maxInum, maxDnum uint32) Superblock {
	inodeRegionBlocks := (maxInum + InodesPerBlock - 1) / InodesPerBlock
	return Superblock{
		Magic:      MagicNum,
		MaxInum:    maxInum,
		MaxDnum:    maxDnum,
		IBitmapBlk: InodeBitmapBlock,
		DBitmapBlk: DataBitmapBlock,
		IStartBlk:  InodeRegionBlock,
		DStartBlk:  InodeRegionBlock + inodeRegionBlocks,
	}
}

// TotalBlocks gives the size of the image this superblock describes: every
// block up to and including the data region.
func (sb *Superblock) TotalBlocks() uint {
	return uint(sb.DStartBlk) + uint(sb.MaxDnum)
}

// SerializeInto writes the superblock at the start of `buffer`, which must be
// a full block. The remainder of the buffer is left untouched.
func (sb *Superblock) SerializeInto(buffer []byte) error {
	writer := bytewriter.New(buffer)
	return binary.Write(writer, binary.LittleEndian, sb)
}

// DeserializeSuperblock reinterprets the leading bytes of `buffer` as a
// superblock and validates the magic number.
func DeserializeSuperblock(buffer []byte) (Superblock, error) {
	var sb Superblock

	reader := bytes.NewReader(buffer)
	if err := binary.Read(reader, binary.LittleEndian, &sb); err != nil {
		return Superblock{}, ErrIOFailed.Wrap(err)
	}
	if sb.Magic != MagicNum {
		return Superblock{}, ErrCorruptSuperblock.WithMessage(
			fmt.Sprintf("bad magic number 0x%04X, expected 0x%04X", sb.Magic, MagicNum))
	}
	return sb, nil
}
