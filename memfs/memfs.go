// Package memfs is a small in-process Filesystem implementation:
// directories as node maps, files as byte slices. It satisfies "at
// minimum one filesystem" so the VFS has something real to route to,
// and doubles as the fixture every VFS test mounts against.
package memfs

import (
	"sync"
	"time"

	"github.com/chris17453/watos-sub001/kerrors"
	"github.com/chris17453/watos-sub001/stat"
	"github.com/chris17453/watos-sub001/vfs"
	"github.com/chris17453/watos-sub001/vfspath"
)

type node struct {
	kind     stat.Kind
	data     []byte
	children map[string]*node
	mode     uint32
	uid, gid uint32
	ino      uint64
	mtime    time.Time
}

func newDir(ino uint64) *node {
	return &node{kind: stat.KindDirectory, children: map[string]*node{}, mode: 0o755, ino: ino, mtime: time.Time{}}
}

// FS is an in-memory filesystem rooted at a single directory node.
type FS struct {
	mu       sync.Mutex
	name     string
	readOnly bool
	root     *node
	nextIno  uint64
}

// New returns an empty, writable in-memory filesystem.
func New(name string) *FS {
	fs := &FS{name: name, nextIno: 2}
	fs.root = newDir(1)
	return fs
}

// NewReadOnly returns an in-memory filesystem that always fails
// mutating operations with ErrReadOnly.
func NewReadOnly(name string) *FS {
	fs := New(name)
	fs.readOnly = true
	return fs
}

func (f *FS) Name() string { return f.name }

func (f *FS) lookup(path string) (*node, error) {
	parts := vfspath.Components(vfspath.Parse(path).Path)
	cur := f.root
	for _, p := range parts {
		if cur.kind != stat.KindDirectory {
			return nil, kerrors.ErrNotADirectory
		}
		child, ok := cur.children[p]
		if !ok {
			return nil, kerrors.ErrNotFound
		}
		cur = child
	}
	return cur, nil
}

func (f *FS) lookupParent(path string) (*node, string, error) {
	parent := vfspath.Parent(vfspath.Parse(path).Path)
	name := vfspath.Filename(vfspath.Parse(path).Path)
	if name == "" {
		return nil, "", kerrors.ErrInvalidArgument
	}
	p, err := f.lookup(parent)
	if err != nil {
		return nil, "", err
	}
	if p.kind != stat.KindDirectory {
		return nil, "", kerrors.ErrNotADirectory
	}
	return p, name, nil
}

func (f *FS) statNode(n *node) stat.Stat {
	size := int64(len(n.data))
	return stat.Stat{
		Kind: n.kind,
		Size: size,
		Mode: n.mode,
		UID:  n.uid,
		GID:  n.gid,
		Ino:  n.ino,
		Mtime: n.mtime,
		Nlink: 1,
	}
}

func (f *FS) Stat(path string) (stat.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.lookup(path)
	if err != nil {
		return stat.Stat{}, err
	}
	return f.statNode(n), nil
}

func (f *FS) Mkdir(path string) error {
	if f.readOnly {
		return kerrors.ErrReadOnly
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, name, err := f.lookupParent(path)
	if err != nil {
		return err
	}
	if _, exists := parent.children[name]; exists {
		return kerrors.ErrAlreadyExists
	}
	parent.children[name] = newDir(f.allocIno())
	return nil
}

func (f *FS) Unlink(path string) error {
	if f.readOnly {
		return kerrors.ErrReadOnly
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, name, err := f.lookupParent(path)
	if err != nil {
		return err
	}
	n, ok := parent.children[name]
	if !ok {
		return kerrors.ErrNotFound
	}
	if n.kind == stat.KindDirectory {
		return kerrors.ErrIsADirectory
	}
	delete(parent.children, name)
	return nil
}

func (f *FS) Rmdir(path string) error {
	if f.readOnly {
		return kerrors.ErrReadOnly
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, name, err := f.lookupParent(path)
	if err != nil {
		return err
	}
	n, ok := parent.children[name]
	if !ok {
		return kerrors.ErrNotFound
	}
	if n.kind != stat.KindDirectory {
		return kerrors.ErrNotADirectory
	}
	if len(n.children) > 0 {
		return kerrors.ErrInvalidState
	}
	delete(parent.children, name)
	return nil
}

func (f *FS) Readdir(path string) ([]vfs.DirEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.lookup(path)
	if err != nil {
		return nil, err
	}
	if n.kind != stat.KindDirectory {
		return nil, kerrors.ErrNotADirectory
	}
	var out []vfs.DirEntry
	for name, child := range n.children {
		out = append(out, vfs.DirEntry{
			Name:  name,
			Kind:  child.kind,
			Size:  int64(len(child.data)),
			Inode: child.ino,
		})
	}
	return out, nil
}

func (f *FS) Rename(oldPath, newPath string) error {
	if f.readOnly {
		return kerrors.ErrReadOnly
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	oldParent, oldName, err := f.lookupParent(oldPath)
	if err != nil {
		return err
	}
	n, ok := oldParent.children[oldName]
	if !ok {
		return kerrors.ErrNotFound
	}
	newParent, newName, err := f.lookupParent(newPath)
	if err != nil {
		return err
	}
	delete(oldParent.children, oldName)
	newParent.children[newName] = n
	return nil
}

func (f *FS) Sync() error { return nil }

func (f *FS) Statfs() (vfs.FsStats, error) {
	return vfs.FsStats{BlockSize: 4096, MaxNameLen: uint32(vfspath.MaxFilename)}, nil
}

func (f *FS) allocIno() uint64 {
	ino := f.nextIno
	f.nextIno++
	return ino
}

// Open returns a FileOperations handle for path. For Create mode, a
// missing file is created as an empty regular file in its parent
// directory.
func (f *FS) Open(path string, mode int) (vfs.FileOperations, error) {
	const (
		flagWrite  = 1 << 1
		flagCreate = 1 << 3
	)
	if mode&flagWrite != 0 && f.readOnly {
		return nil, kerrors.ErrReadOnly
	}
	f.mu.Lock()
	n, err := f.lookup(path)
	if err != nil {
		if err != kerrors.ErrNotFound || mode&flagCreate == 0 {
			f.mu.Unlock()
			return nil, err
		}
		if f.readOnly {
			f.mu.Unlock()
			return nil, kerrors.ErrReadOnly
		}
		parent, name, perr := f.lookupParent(path)
		if perr != nil {
			f.mu.Unlock()
			return nil, perr
		}
		n = &node{kind: stat.KindRegular, mode: 0o644, ino: f.allocIno()}
		parent.children[name] = n
	}
	f.mu.Unlock()

	if n.kind == stat.KindDirectory {
		return nil, kerrors.ErrIsADirectory
	}
	return &handle{fs: f, n: n, writable: mode&flagWrite != 0}, nil
}

// handle implements vfs.FileOperations over one memfs node.
type handle struct {
	fs       *FS
	n        *node
	off      int64
	writable bool
}

func (h *handle) Read(buf []byte) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.off >= int64(len(h.n.data)) {
		return 0, nil
	}
	n := copy(buf, h.n.data[h.off:])
	h.off += int64(n)
	return n, nil
}

func (h *handle) Write(buf []byte) (int, error) {
	if !h.writable {
		return 0, kerrors.ErrPermissionDenied
	}
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	end := h.off + int64(len(buf))
	if end > int64(len(h.n.data)) {
		grown := make([]byte, end)
		copy(grown, h.n.data)
		h.n.data = grown
	}
	copy(h.n.data[h.off:end], buf)
	h.off = end
	return len(buf), nil
}

func (h *handle) Seek(offset int64, whence vfs.SeekWhence) (int64, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	switch whence {
	case vfs.SeekStart:
		h.off = offset
	case vfs.SeekCurrent:
		h.off += offset
	case vfs.SeekEnd:
		h.off = int64(len(h.n.data)) + offset
	}
	if h.off < 0 {
		h.off = 0
		return 0, kerrors.ErrInvalidArgument
	}
	return h.off, nil
}

func (h *handle) Tell() (int64, error) { return h.off, nil }
func (h *handle) Sync() error          { return nil }

func (h *handle) Stat() (stat.Stat, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	return h.fs.statNode(h.n), nil
}

func (h *handle) Truncate(size int64) error {
	if !h.writable {
		return kerrors.ErrPermissionDenied
	}
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if size < int64(len(h.n.data)) {
		h.n.data = h.n.data[:size]
	} else if size > int64(len(h.n.data)) {
		grown := make([]byte, size)
		copy(grown, h.n.data)
		h.n.data = grown
	}
	return nil
}

func (h *handle) Close() error { return nil }
