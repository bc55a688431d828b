// Package fusefs adapts a mounted [tinyfs.Filesystem] to the path-based FUSE
// dispatch interface of go-fuse. Every handler resolves its path through the
// engine; no open-file state is kept. A single mutex serializes all
// operations, which is the only concurrency model the engine's in-memory
// bitmaps support.
package fusefs

import (
	"errors"
	"sync"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"

	"github.com/dargueta/tinyfs"
)

// TinyFS implements pathfs.FileSystem on top of the engine.
type TinyFS struct {
	pathfs.FileSystem

	mu sync.Mutex
	fs *tinyfs.Filesystem
}

// New wraps an already-mounted engine. Unimplemented operations fall through
// to the pathfs defaults (ENOSYS).
func New(fs *tinyfs.Filesystem) *TinyFS {
	return &TinyFS{
		FileSystem: pathfs.NewDefaultFileSystem(),
		fs:         fs,
	}
}

func (t *TinyFS) String() string {
	return "tinyfs"
}

// abs converts go-fuse's rootless names ("a/b", "" for the root) into the
// absolute paths the engine resolves.
func abs(name string) string {
	return "/" + name
}

// toStatus translates an engine error into the errno-valued FUSE status.
func toStatus(err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}
	var fsErr *tinyfs.Error
	if errors.As(err, &fsErr) {
		return fuse.Status(fsErr.Errno())
	}
	return fuse.EIO
}

func fillAttr(out *fuse.Attr, stat tinyfs.FileStat) {
	out.Ino = stat.InodeNumber
	out.Size = uint64(stat.Size)
	out.Blocks = uint64((stat.Size + tinyfs.BlockSize - 1) / tinyfs.BlockSize)
	out.Atime = uint64(stat.LastAccessed.Unix())
	out.Mtime = uint64(stat.LastModified.Unix())
	out.Ctime = uint64(stat.LastModified.Unix())
	out.Mode = stat.Mode
	out.Nlink = uint32(stat.Nlinks)
	out.Owner = fuse.Owner{Uid: stat.Uid, Gid: stat.Gid}
	out.Blksize = tinyfs.BlockSize
}

func (t *TinyFS) GetAttr(name string, context *fuse.Context) (*fuse.Attr, fuse.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stat, err := t.fs.GetAttr(abs(name))
	if err != nil {
		return nil, toStatus(err)
	}
	var out fuse.Attr
	fillAttr(&out, stat)
	return &out, fuse.OK
}

func (t *TinyFS) OpenDir(name string, context *fuse.Context) ([]fuse.DirEntry, fuse.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, err := t.fs.ReadDir(abs(name))
	if err != nil {
		return nil, toStatus(err)
	}

	out := make([]fuse.DirEntry, 0, len(entries))
	for _, entry := range entries {
		// The kernel supplies "." and ".." itself.
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		out = append(out, fuse.DirEntry{
			Name: entry.Name,
			Ino:  uint64(entry.Ino),
		})
	}
	return out, fuse.OK
}

func (t *TinyFS) Mkdir(name string, mode uint32, context *fuse.Context) fuse.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return toStatus(t.fs.Mkdir(abs(name), mode))
}

func (t *TinyFS) Rmdir(name string, context *fuse.Context) fuse.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return toStatus(t.fs.Rmdir(abs(name)))
}

func (t *TinyFS) Unlink(name string, context *fuse.Context) fuse.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return toStatus(t.fs.Unlink(abs(name)))
}

func (t *TinyFS) Create(
	name string, flags uint32, mode uint32, context *fuse.Context,
) (nodefs.File, fuse.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fs.Create(abs(name), mode); err != nil {
		return nil, toStatus(err)
	}
	return t.newFile(name), fuse.OK
}

func (t *TinyFS) Open(
	name string, flags uint32, context *fuse.Context,
) (nodefs.File, fuse.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fs.Open(abs(name)); err != nil {
		return nil, toStatus(err)
	}
	return t.newFile(name), fuse.OK
}

func (t *TinyFS) Truncate(name string, size uint64, context *fuse.Context) fuse.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return toStatus(t.fs.Truncate(abs(name), int64(size)))
}

func (t *TinyFS) Utimens(
	name string, atime *time.Time, mtime *time.Time, context *fuse.Context,
) fuse.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return toStatus(t.fs.Utimens(abs(name), atime, mtime))
}

func (t *TinyFS) Access(name string, mode uint32, context *fuse.Context) fuse.Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Mode bits are stored but not enforced.
	return toStatus(t.fs.Open(abs(name)))
}

func (t *TinyFS) StatFs(name string) *fuse.StatfsOut {
	t.mu.Lock()
	defer t.mu.Unlock()

	stat := t.fs.StatFS()
	return &fuse.StatfsOut{
		Blocks:  stat.TotalBlocks,
		Bfree:   stat.BlocksFree,
		Bavail:  stat.BlocksFree,
		Files:   stat.Files,
		Ffree:   stat.FilesFree,
		Bsize:   uint32(stat.BlockSize),
		NameLen: uint32(stat.MaxNameLength),
	}
}

// Serve mounts the adapter on `mountpoint` and returns the running server.
// The caller is responsible for calling Unmount and closing the engine when
// the server loop exits.
func Serve(engine *tinyfs.Filesystem, mountpoint string, debug bool) (*fuse.Server, error) {
	adapter := New(engine)
	nfs := pathfs.NewPathNodeFs(adapter, nil)

	opts := nodefs.NewOptions()
	opts.Debug = debug
	server, _, err := nodefs.MountRoot(mountpoint, nfs.Root(), opts)
	if err != nil {
		return nil, err
	}
	go server.Serve()
	return server, nil
}
