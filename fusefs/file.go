package fusefs

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
)

// file is the handle returned from Open and Create. It holds no state beyond
// the path; every I/O call goes back through the engine, which resolves the
// path from scratch.
type file struct {
	nodefs.File

	owner *TinyFS
	path  string
}

func (t *TinyFS) newFile(name string) nodefs.File {
	return &file{
		File:  nodefs.NewDefaultFile(),
		owner: t,
		path:  abs(name),
	}
}

func (f *file) String() string {
	return "tinyfs:" + f.path
}

func (f *file) Read(dest []byte, off int64) (fuse.ReadResult, fuse.Status) {
	f.owner.mu.Lock()
	defer f.owner.mu.Unlock()

	n, err := f.owner.fs.Read(f.path, dest, off)
	if err != nil {
		return nil, toStatus(err)
	}
	return fuse.ReadResultData(dest[:n]), fuse.OK
}

func (f *file) Write(data []byte, off int64) (uint32, fuse.Status) {
	f.owner.mu.Lock()
	defer f.owner.mu.Unlock()

	n, err := f.owner.fs.Write(f.path, data, off)
	if err != nil {
		return uint32(n), toStatus(err)
	}
	return uint32(n), fuse.OK
}

func (f *file) Truncate(size uint64) fuse.Status {
	f.owner.mu.Lock()
	defer f.owner.mu.Unlock()
	return toStatus(f.owner.fs.Truncate(f.path, int64(size)))
}

func (f *file) GetAttr(out *fuse.Attr) fuse.Status {
	f.owner.mu.Lock()
	defer f.owner.mu.Unlock()

	stat, err := f.owner.fs.GetAttr(f.path)
	if err != nil {
		return toStatus(err)
	}
	fillAttr(out, stat)
	return fuse.OK
}

func (f *file) Utimens(atime *time.Time, mtime *time.Time) fuse.Status {
	f.owner.mu.Lock()
	defer f.owner.mu.Unlock()
	return toStatus(f.owner.fs.Utimens(f.path, atime, mtime))
}

func (f *file) Flush() fuse.Status {
	f.owner.mu.Lock()
	defer f.owner.mu.Unlock()
	return toStatus(f.owner.fs.Flush())
}

func (f *file) Fsync(flags int) fuse.Status {
	f.owner.mu.Lock()
	defer f.owner.mu.Unlock()
	return toStatus(f.owner.fs.Flush())
}

func (f *file) Release() {
	// Nothing held open.
}
