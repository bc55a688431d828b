package fusefs

import (
	"errors"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/tinyfs"
	"github.com/dargueta/tinyfs/blockdev"
)

func newTestAdapter(t *testing.T) *TinyFS {
	dev := blockdev.NewInMemory(tinyfs.BlockSize, 3+16+2048)
	err := tinyfs.Format(dev, tinyfs.FormatOptions{MaxInodes: 256, MaxDataBlocks: 2048})
	require.NoError(t, err)
	engine, err := tinyfs.Mount(dev)
	require.NoError(t, err)
	return New(engine)
}

func TestToStatus(t *testing.T) {
	assert.Equal(t, fuse.OK, toStatus(nil))
	assert.Equal(t, fuse.ENOENT, toStatus(tinyfs.ErrNotFound))
	assert.Equal(t, fuse.ENOTDIR, toStatus(tinyfs.ErrNotADirectory))
	assert.Equal(t, fuse.ENOENT, toStatus(tinyfs.ErrNotFound.WithMessage("deep")))
	assert.Equal(t, fuse.EIO, toStatus(errors.New("anonymous failure")))
}

func TestGetAttrRoot(t *testing.T) {
	adapter := newTestAdapter(t)

	attr, status := adapter.GetAttr("", nil)
	require.Equal(t, fuse.OK, status)
	assert.True(t, attr.IsDir())
	assert.GreaterOrEqual(t, attr.Nlink, uint32(2))
}

func TestMkdirReaddirThroughAdapter(t *testing.T) {
	adapter := newTestAdapter(t)

	require.Equal(t, fuse.OK, adapter.Mkdir("a", 0o755, nil))

	entries, status := adapter.OpenDir("", nil)
	require.Equal(t, fuse.OK, status)
	require.Len(t, entries, 1, "dot entries are the kernel's job")
	assert.Equal(t, "a", entries[0].Name)

	attr, status := adapter.GetAttr("a", nil)
	require.Equal(t, fuse.OK, status)
	assert.True(t, attr.IsDir())
}

func TestFileLifecycleThroughAdapter(t *testing.T) {
	adapter := newTestAdapter(t)

	handle, status := adapter.Create("f", 0, 0o644, nil)
	require.Equal(t, fuse.OK, status)

	n, status := handle.Write([]byte("payload"), 0)
	require.Equal(t, fuse.OK, status)
	assert.EqualValues(t, 7, n)

	buffer := make([]byte, 16)
	result, status := handle.Read(buffer, 0)
	require.Equal(t, fuse.OK, status)
	data, status := result.Bytes(buffer)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, []byte("payload"), data)

	require.Equal(t, fuse.OK, handle.Truncate(3))
	attr, status := adapter.GetAttr("f", nil)
	require.Equal(t, fuse.OK, status)
	assert.EqualValues(t, 3, attr.Size)

	require.Equal(t, fuse.OK, adapter.Unlink("f", nil))
	_, status = adapter.GetAttr("f", nil)
	assert.Equal(t, fuse.ENOENT, status)
}

func TestStatFsThroughAdapter(t *testing.T) {
	adapter := newTestAdapter(t)

	out := adapter.StatFs("")
	require.NotNil(t, out)
	assert.EqualValues(t, 2048, out.Blocks)
	assert.EqualValues(t, tinyfs.BlockSize, out.Bsize)
	assert.EqualValues(t, 1, out.Files)
}
