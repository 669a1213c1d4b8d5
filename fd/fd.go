// Package fd implements the open-file-handle and working-directory
// bookkeeping that sits between the syscall gateway and the VFS: a
// File Handle wraps a filesystem-provided FileOperations plus the
// permission bits it was opened with, and Cwd tracks a process's
// current working directory path.
package fd

import (
	"sync"

	"github.com/chris17453/watos-sub001/vfs"
)

// Open-mode flags, matching the gateway's OPEN argument encoding.
const (
	Read     = 1 << 0
	Write    = 1 << 1
	Append   = 1 << 2
	Create   = 1 << 3
	Truncate = 1 << 4
	CloExec  = 1 << 5
)

// Handle is a process's reference to an open file.
type Handle struct {
	Ops   vfs.FileOperations
	Perms int
}

// Close releases the handle's underlying operations.
func (h *Handle) Close() error {
	return h.Ops.Close()
}

// Copy duplicates a handle (dup-style), sharing the same underlying
// FileOperations and offset state.
func Copy(h *Handle) *Handle {
	return &Handle{Ops: h.Ops, Perms: h.Perms}
}

// Cwd tracks one process's current working directory as a path
// string, guarded by a lock since syscalls may read/update it
// concurrently with other per-process state.
type Cwd struct {
	mu   sync.Mutex
	Path string
}

// MkRootCwd returns a Cwd rooted at "/".
func MkRootCwd() *Cwd {
	return &Cwd{Path: "/"}
}

// Fullpath joins the cwd with a possibly-relative path, returning an
// absolute path unchanged.
func (c *Cwd) Fullpath(path string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(path) > 0 && path[0] == '/' {
		return path
	}
	if c.Path == "/" {
		return "/" + path
	}
	return c.Path + "/" + path
}

// Chdir updates the cwd to the given already-resolved absolute path.
func (c *Cwd) Chdir(resolved string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Path = resolved
}

// Get returns the current working directory path.
func (c *Cwd) Get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Path
}
