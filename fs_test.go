package tinyfs_test

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/tinyfs"
	"github.com/dargueta/tinyfs/blockdev"
)

// Geometry used by most tests: small enough to keep scans fast, big enough to
// exercise the indirect region.
const (
	testMaxInodes     = 256
	testMaxDataBlocks = 2048
	// superblock + two bitmaps + 16 inode region blocks + data region
	testTotalBlocks = 3 + testMaxInodes/tinyfs.InodesPerBlock + testMaxDataBlocks
)

func newTestDevice(t *testing.T) *blockdev.Device {
	dev := blockdev.NewInMemory(tinyfs.BlockSize, testTotalBlocks)
	err := tinyfs.Format(dev, tinyfs.FormatOptions{
		MaxInodes:     testMaxInodes,
		MaxDataBlocks: testMaxDataBlocks,
	})
	require.NoError(t, err, "formatting the in-memory image failed")
	return dev
}

func newTestFS(t *testing.T) *tinyfs.Filesystem {
	fs, err := tinyfs.Mount(newTestDevice(t))
	require.NoError(t, err, "mounting the freshly formatted image failed")
	return fs
}

func entryNames(entries []tinyfs.Dirent) []string {
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name
	}
	return names
}

func TestFormatRootDirectory(t *testing.T) {
	fs := newTestFS(t)

	stat, err := fs.GetAttr("/")
	require.NoError(t, err)
	assert.True(t, stat.IsDir(), "root is not a directory")
	assert.EqualValues(t, tinyfs.RootInodeNumber, stat.InodeNumber)
	assert.GreaterOrEqual(t, stat.Nlinks, uint64(2))
	assert.EqualValues(t, 2*tinyfs.DirentSize, stat.Size)

	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".", ".."}, entryNames(entries))
}

func TestMountRejectsUnformattedImage(t *testing.T) {
	dev := blockdev.NewInMemory(tinyfs.BlockSize, testTotalBlocks)
	_, err := tinyfs.Mount(dev)
	assert.ErrorIs(t, err, tinyfs.ErrCorruptSuperblock)
}

func TestMkdirShowsUpInReaddir(t *testing.T) {
	fs := newTestFS(t)

	require.NoError(t, fs.Mkdir("/a", 0o755))

	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".", "..", "a"}, entryNames(entries))

	stat, err := fs.GetAttr("/a")
	require.NoError(t, err)
	assert.True(t, stat.IsDir())
	assert.EqualValues(t, 2, stat.Nlinks, "fresh directory should have 2 links")

	rootStat, err := fs.GetAttr("/")
	require.NoError(t, err)
	assert.EqualValues(t, 3, rootStat.Nlinks, "parent should gain a link per subdirectory")
}

func TestCreateWriteRead(t *testing.T) {
	fs := newTestFS(t)

	require.NoError(t, fs.Mkdir("/a", 0o755))
	require.NoError(t, fs.Create("/a/b", 0o644))

	n, err := fs.Write("/a/b", []byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buffer := make([]byte, 5)
	n, err = fs.Read("/a/b", buffer, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("hello"), buffer)

	stat, err := fs.GetAttr("/a/b")
	require.NoError(t, err)
	assert.True(t, stat.IsFile())
	assert.EqualValues(t, 5, stat.Size)
}

func TestCreateDuplicateFails(t *testing.T) {
	fs := newTestFS(t)

	require.NoError(t, fs.Create("/x", 0o644))
	assert.ErrorIs(t, fs.Create("/x", 0o644), tinyfs.ErrExists)
}

// patternData builds a deterministic byte pattern that doesn't repeat with
// block-size periodicity, so misdirected block reads show up as mismatches.
func patternData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i*7 + i/tinyfs.BlockSize) % 251)
	}
	return data
}

func TestWriteAcrossDirectBoundary(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.Create("/f", 0o644))

	// 70000 bytes spans the 16-direct-block boundary (65536 bytes).
	data := patternData(70000)
	n, err := fs.Write("/f", data, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	readBack := make([]byte, len(data))
	n, err = fs.Read("/f", readBack, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	assert.True(t, bytes.Equal(data, readBack), "read-back bytes differ")
}

func TestReadSpanningBlocksFromMidBlockOffset(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.Create("/f", 0o644))

	data := patternData(3 * tinyfs.BlockSize)
	_, err := fs.Write("/f", data, 0)
	require.NoError(t, err)

	// Start mid-block and span into the two following blocks; the second and
	// later blocks must be read from their start.
	offset := int64(tinyfs.BlockSize/2 + 17)
	buffer := make([]byte, 2*tinyfs.BlockSize)
	n, err := fs.Read("/f", buffer, offset)
	require.NoError(t, err)
	require.Equal(t, len(buffer), n)
	assert.True(t, bytes.Equal(data[offset:offset+int64(n)], buffer[:n]))
}

func TestWriteAtOffsetGrowsFile(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.Create("/f", 0o644))

	_, err := fs.Write("/f", []byte("abc"), 0)
	require.NoError(t, err)
	n, err := fs.Write("/f", []byte("xyz"), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stat, err := fs.GetAttr("/f")
	require.NoError(t, err)
	assert.EqualValues(t, 13, stat.Size)
}

func TestFirstIndirectBlockBoundary(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.Create("/f", 0o644))

	// Writing at exactly the end of the direct region lands in the first
	// indirect block and must succeed.
	data := []byte("indirect")
	n, err := fs.Write("/f", data, tinyfs.NumDirectPointers*tinyfs.BlockSize)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	readBack := make([]byte, len(data))
	n, err = fs.Read("/f", readBack, tinyfs.NumDirectPointers*tinyfs.BlockSize)
	require.NoError(t, err)
	assert.Equal(t, data, readBack[:n])
}

func TestWritePastMaxFileSizeFails(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.Create("/f", 0o644))

	_, err := fs.Write("/f", []byte("x"), tinyfs.MaxFileSize)
	assert.ErrorIs(t, err, tinyfs.ErrFileTooLarge)
}

func TestReadPastEOFReturnsZero(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.Create("/f", 0o644))
	_, err := fs.Write("/f", []byte("hello"), 0)
	require.NoError(t, err)

	buffer := make([]byte, 16)
	n, err := fs.Read("/f", buffer, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReadWriteOnDirectoryFails(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.Mkdir("/d", 0o755))

	buffer := make([]byte, 4)
	_, err := fs.Read("/d", buffer, 0)
	assert.ErrorIs(t, err, tinyfs.ErrIsADirectory)
	_, err = fs.Write("/d", buffer, 0)
	assert.ErrorIs(t, err, tinyfs.ErrIsADirectory)
}

func TestUnlinkRestoresBitmapPopulations(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.Mkdir("/d", 0o755))

	inodesAfterMkdir := fs.InodeAllocator().InUse()
	blocksAfterMkdir := fs.DataAllocator().InUse()

	require.NoError(t, fs.Create("/d/x", 0o644))
	_, err := fs.Write("/d/x", patternData(3*tinyfs.BlockSize), 0)
	require.NoError(t, err)
	require.NoError(t, fs.Unlink("/d/x"))

	entries, err := fs.ReadDir("/d")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".", ".."}, entryNames(entries))

	assert.Equal(t, inodesAfterMkdir, fs.InodeAllocator().InUse())
	assert.Equal(t, blocksAfterMkdir, fs.DataAllocator().InUse())

	assert.ErrorIs(t, fs.Open("/d/x"), tinyfs.ErrNotFound)
}

func TestUnlinkDirectoryFails(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.Mkdir("/d", 0o755))
	assert.ErrorIs(t, fs.Unlink("/d"), tinyfs.ErrIsADirectory)
}

func TestRmdir(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.Mkdir("/d", 0o755))
	require.NoError(t, fs.Rmdir("/d"))

	assert.ErrorIs(t, fs.OpenDir("/d"), tinyfs.ErrNotFound)

	rootStat, err := fs.GetAttr("/")
	require.NoError(t, err)
	assert.EqualValues(t, 2, rootStat.Nlinks, "parent link count should drop back")
}

func TestRmdirNonEmptyFails(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.Mkdir("/d", 0o755))
	require.NoError(t, fs.Create("/d/x", 0o644))

	assert.ErrorIs(t, fs.Rmdir("/d"), tinyfs.ErrDirectoryNotEmpty)

	require.NoError(t, fs.Unlink("/d/x"))
	assert.NoError(t, fs.Rmdir("/d"))
}

func TestRmdirOnFileFails(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.Create("/f", 0o644))
	assert.ErrorIs(t, fs.Rmdir("/f"), tinyfs.ErrNotADirectory)
}

func TestTruncateShrinkFreesBlocks(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.Create("/f", 0o644))

	baseline := fs.DataAllocator().InUse()
	data := patternData(20 * tinyfs.BlockSize)
	_, err := fs.Write("/f", data, 0)
	require.NoError(t, err)
	assert.Greater(t, fs.DataAllocator().InUse(), baseline)

	require.NoError(t, fs.Truncate("/f", 100))

	stat, err := fs.GetAttr("/f")
	require.NoError(t, err)
	assert.EqualValues(t, 100, stat.Size)
	// One data block left holding the first 100 bytes.
	assert.Equal(t, baseline+1, fs.DataAllocator().InUse())

	buffer := make([]byte, 200)
	n, err := fs.Read("/f", buffer, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.True(t, bytes.Equal(data[:100], buffer[:100]))
}

func TestTruncateShrinkThenGrowReadsZeroes(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.Create("/f", 0o644))

	_, err := fs.Write("/f", []byte("abcdef"), 0)
	require.NoError(t, err)
	require.NoError(t, fs.Truncate("/f", 3))
	require.NoError(t, fs.Truncate("/f", 6))

	buffer := make([]byte, 6)
	n, err := fs.Read("/f", buffer, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte{'a', 'b', 'c', 0, 0, 0}, buffer,
		"bytes past the shrink point must not come back")
}

func TestUtimens(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.Create("/f", 0o644))

	when := time.Unix(1234567890, 0)
	require.NoError(t, fs.Utimens("/f", &when, &when))

	stat, err := fs.GetAttr("/f")
	require.NoError(t, err)
	assert.True(t, stat.LastModified.Equal(when))
	assert.True(t, stat.LastAccessed.Equal(when))
}

func TestStatFS(t *testing.T) {
	fs := newTestFS(t)

	stat := fs.StatFS()
	assert.EqualValues(t, tinyfs.BlockSize, stat.BlockSize)
	assert.EqualValues(t, testMaxDataBlocks, stat.TotalBlocks)
	assert.EqualValues(t, 1, stat.Files, "only the root inode is allocated")
	assert.EqualValues(t, tinyfs.MaxNameLen, stat.MaxNameLength)

	require.NoError(t, fs.Create("/f", 0o644))
	assert.EqualValues(t, 2, fs.StatFS().Files)
}

func TestInodeExhaustion(t *testing.T) {
	fs := newTestFS(t)

	// The root holds inode 0; the rest are free.
	for i := 1; i < testMaxInodes; i++ {
		require.NoError(t, fs.Create(fmt.Sprintf("/f%d", i), 0o644))
	}
	err := fs.Create("/one-too-many", 0o644)
	assert.ErrorIs(t, err, tinyfs.ErrNoSpace)
}

func TestPersistenceAcrossRemount(t *testing.T) {
	dir := t.TempDir()
	diskfile := filepath.Join(dir, "DISKFILE")

	fs, err := tinyfs.Init(diskfile)
	require.NoError(t, err)
	require.NoError(t, fs.Mkdir("/keep", 0o755))
	require.NoError(t, fs.Create("/keep/data", 0o644))
	payload := patternData(5000)
	_, err = fs.Write("/keep/data", payload, 0)
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	fs, err = tinyfs.Init(diskfile)
	require.NoError(t, err)
	defer fs.Close()

	buffer := make([]byte, len(payload))
	n, err := fs.Read("/keep/data", buffer, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.True(t, bytes.Equal(payload, buffer))
}

func TestInitMountsNonDefaultGeometryUnchanged(t *testing.T) {
	dir := t.TempDir()
	diskfile := filepath.Join(dir, "DISKFILE")

	// A smaller-than-default image, as the mkfs command's mini profile
	// would produce it.
	dev, err := blockdev.CreateFile(diskfile, tinyfs.BlockSize, testTotalBlocks)
	require.NoError(t, err)
	require.NoError(t, tinyfs.Format(dev, tinyfs.FormatOptions{
		MaxInodes:     testMaxInodes,
		MaxDataBlocks: testMaxDataBlocks,
	}))
	fs, err := tinyfs.Mount(dev)
	require.NoError(t, err)
	require.NoError(t, fs.Create("/precious", 0o644))
	_, err = fs.Write("/precious", []byte("survives"), 0)
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	// Init must take the geometry from the superblock, not reformat.
	fs, err = tinyfs.Init(diskfile)
	require.NoError(t, err)
	defer fs.Close()

	stat := fs.StatFS()
	assert.EqualValues(t, testMaxDataBlocks, stat.TotalBlocks)

	buffer := make([]byte, 8)
	n, err := fs.Read("/precious", buffer, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("survives"), buffer[:n])
}

func TestInitRefusesToClobberUnrecognizedFile(t *testing.T) {
	dir := t.TempDir()
	diskfile := filepath.Join(dir, "DISKFILE")

	garbage := patternData(2 * tinyfs.BlockSize)
	require.NoError(t, os.WriteFile(diskfile, garbage, 0o644))

	_, err := tinyfs.Init(diskfile)
	assert.ErrorIs(t, err, tinyfs.ErrCorruptSuperblock)

	kept, err := os.ReadFile(diskfile)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(garbage, kept), "existing file must not be touched")
}

func TestInitRejectsTruncatedImage(t *testing.T) {
	dir := t.TempDir()
	diskfile := filepath.Join(dir, "DISKFILE")

	dev, err := blockdev.CreateFile(diskfile, tinyfs.BlockSize, testTotalBlocks)
	require.NoError(t, err)
	require.NoError(t, tinyfs.Format(dev, tinyfs.FormatOptions{
		MaxInodes:     testMaxInodes,
		MaxDataBlocks: testMaxDataBlocks,
	}))
	require.NoError(t, dev.Close())
	require.NoError(t, os.Truncate(diskfile, int64((testTotalBlocks-1)*tinyfs.BlockSize)))

	_, err = tinyfs.Init(diskfile)
	assert.ErrorIs(t, err, tinyfs.ErrCorruptSuperblock)
}

func TestErrorsAreKindMatchable(t *testing.T) {
	fs := newTestFS(t)

	_, err := fs.GetAttr("/missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, tinyfs.ErrNotFound))

	var kind *tinyfs.Error
	require.True(t, errors.As(err, &kind))
	assert.NotZero(t, kind.Errno())
}
