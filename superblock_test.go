package tinyfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/tinyfs"
)

func TestSuperblockRoundTrip(t *testing.T) {
	original := tinyfs.NewSuperblock(tinyfs.MaxInum, tinyfs.MaxDnum)

	buffer := make([]byte, tinyfs.BlockSize)
	require.NoError(t, original.SerializeInto(buffer))

	decoded, err := tinyfs.DeserializeSuperblock(buffer)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestSuperblockLayout(t *testing.T) {
	sb := tinyfs.NewSuperblock(tinyfs.MaxInum, tinyfs.MaxDnum)

	assert.EqualValues(t, tinyfs.MagicNum, sb.Magic)
	assert.EqualValues(t, tinyfs.InodeBitmapBlock, sb.IBitmapBlk)
	assert.EqualValues(t, tinyfs.DataBitmapBlock, sb.DBitmapBlk)
	assert.EqualValues(t, tinyfs.InodeRegionBlock, sb.IStartBlk)
	// 1024 inodes at 16 per block occupy 64 blocks starting at block 3.
	assert.EqualValues(t, 67, sb.DStartBlk)
}

func TestSuperblockBadMagic(t *testing.T) {
	sb := tinyfs.NewSuperblock(tinyfs.MaxInum, tinyfs.MaxDnum)
	sb.Magic = 0xDEAD

	buffer := make([]byte, tinyfs.BlockSize)
	require.NoError(t, sb.SerializeInto(buffer))

	_, err := tinyfs.DeserializeSuperblock(buffer)
	assert.ErrorIs(t, err, tinyfs.ErrCorruptSuperblock)
}

func TestSuperblockZeroBufferIsCorrupt(t *testing.T) {
	_, err := tinyfs.DeserializeSuperblock(make([]byte, tinyfs.BlockSize))
	assert.ErrorIs(t, err, tinyfs.ErrCorruptSuperblock)
}
