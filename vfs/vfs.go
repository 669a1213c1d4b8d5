// Package vfs implements the Virtual File System core: the
// polymorphic Filesystem and FileOperations contracts, the dual
// Unix-path/drive-letter mount table with longest-prefix resolution,
// and the process-wide singleton that wraps both per the "init()+get()"
// global-state convention.
package vfs

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/chris17453/watos-sub001/kerrors"
	"github.com/chris17453/watos-sub001/stat"
	"github.com/chris17453/watos-sub001/vfspath"
)

// MaxMounts bounds the number of Unix path mounts, per the data model.
const MaxMounts = 16

// MaxDrives is the number of addressable drive letters, A-Z.
const MaxDrives = 26

// SeekWhence selects the reference point for Seek.
type SeekWhence int

const (
	SeekStart SeekWhence = iota
	SeekCurrent
	SeekEnd
)

// DirEntry is one entry returned by Readdir.
type DirEntry struct {
	Name  string
	Kind  stat.Kind
	Size  int64
	Inode uint64
}

// FsStats is the aggregate filesystem statistics returned by Statfs.
type FsStats struct {
	TotalBlocks  uint64
	FreeBlocks   uint64
	BlockSize    uint32
	TotalInodes  uint64
	FreeInodes   uint64
	MaxNameLen   uint32
}

// FileOperations is the contract an open file handle's backing state
// must satisfy.
type FileOperations interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Seek(offset int64, whence SeekWhence) (int64, error)
	Tell() (int64, error)
	Sync() error
	Stat() (stat.Stat, error)
	Truncate(size int64) error
	Close() error
}

// Filesystem is the contract every backing filesystem implementation
// satisfies. Paths passed in are already relative to the filesystem's
// own mount root.
type Filesystem interface {
	Name() string
	Open(path string, mode int) (FileOperations, error)
	Stat(path string) (stat.Stat, error)
	Mkdir(path string) error
	Unlink(path string) error
	Rmdir(path string) error
	Readdir(path string) ([]DirEntry, error)
	Rename(oldPath, newPath string) error
	Sync() error
	Statfs() (FsStats, error)
}

// Exists reports whether path resolves to anything on fs.
func Exists(fs Filesystem, path string) bool {
	_, err := fs.Stat(path)
	return err == nil
}

// mountPoint is a Unix-style path mount.
type mountPoint struct {
	path string
	fs   Filesystem
}

// driveMount is a jailed, single-letter mount.
type driveMount struct {
	letter byte
	fs     Filesystem
	label  string
}

// MountTable holds every mounted filesystem: a list of Unix mounts
// kept sorted by path length descending (for longest-prefix
// resolution) plus an A-Z-indexed array of drive mounts.
type MountTable struct {
	mu     sync.Mutex
	mounts []mountPoint
	drives [MaxDrives]*driveMount
}

func driveIndex(letter byte) (int, bool) {
	u := letter
	if u >= 'a' && u <= 'z' {
		u -= 'a' - 'A'
	}
	if u < 'A' || u > 'Z' {
		return 0, false
	}
	return int(u - 'A'), true
}

// Mount attaches fs at a Unix path. Rejects a duplicate path or
// exceeding MaxMounts.
func (mt *MountTable) Mount(path string, fs Filesystem) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	normalized := vfspath.Parse(path).Path
	for _, m := range mt.mounts {
		if m.path == normalized {
			return kerrors.ErrAlreadyMounted
		}
	}
	if len(mt.mounts) >= MaxMounts {
		return kerrors.ErrTooManyOpenFiles
	}
	mt.mounts = append(mt.mounts, mountPoint{path: normalized, fs: fs})
	sort.SliceStable(mt.mounts, func(i, j int) bool {
		return len(mt.mounts[i].path) > len(mt.mounts[j].path)
	})
	return nil
}

// Unmount detaches the filesystem mounted at path.
func (mt *MountTable) Unmount(path string) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	normalized := vfspath.Parse(path).Path
	for i, m := range mt.mounts {
		if m.path == normalized {
			mt.mounts = append(mt.mounts[:i], mt.mounts[i+1:]...)
			return nil
		}
	}
	return kerrors.ErrNotMounted
}

// MountDrive attaches fs at a drive letter.
func (mt *MountTable) MountDrive(letter byte, fs Filesystem) error {
	return mt.mountDriveLabeled(letter, fs, "")
}

// MountDriveLabeled attaches fs at a drive letter with a label.
func (mt *MountTable) MountDriveLabeled(letter byte, fs Filesystem, label string) error {
	return mt.mountDriveLabeled(letter, fs, label)
}

func (mt *MountTable) mountDriveLabeled(letter byte, fs Filesystem, label string) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	idx, ok := driveIndex(letter)
	if !ok {
		return kerrors.ErrInvalidArgument
	}
	if mt.drives[idx] != nil {
		return kerrors.ErrAlreadyMounted
	}
	upper := byte('A' + idx)
	mt.drives[idx] = &driveMount{letter: upper, fs: fs, label: label}
	return nil
}

// UnmountDrive detaches the filesystem mounted at the given letter.
func (mt *MountTable) UnmountDrive(letter byte) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	idx, ok := driveIndex(letter)
	if !ok {
		return kerrors.ErrInvalidArgument
	}
	if mt.drives[idx] == nil {
		return kerrors.ErrNotMounted
	}
	mt.drives[idx] = nil
	return nil
}

// DriveInfo is a snapshot of one mounted drive, for ListDrives.
type DriveInfo struct {
	Letter byte
	Label  string
}

// GetDrive returns the filesystem mounted at letter, if any.
func (mt *MountTable) GetDrive(letter byte) (Filesystem, bool) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	idx, ok := driveIndex(letter)
	if !ok || mt.drives[idx] == nil {
		return nil, false
	}
	return mt.drives[idx].fs, true
}

// ListDrives returns every currently mounted drive letter and label.
func (mt *MountTable) ListDrives() []DriveInfo {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	var out []DriveInfo
	for _, d := range mt.drives {
		if d != nil {
			out = append(out, DriveInfo{Letter: d.letter, Label: d.label})
		}
	}
	return out
}

// Resolve parses path and returns the backing filesystem plus the
// path relative to that filesystem's mount root.
func (mt *MountTable) Resolve(path string) (Filesystem, string, error) {
	parsed := vfspath.Parse(path)
	if parsed.Type == vfspath.Drive {
		return mt.resolveDrive(parsed.Letter, parsed.Path)
	}
	return mt.resolvePath(parsed.Path)
}

func (mt *MountTable) resolveDrive(letter byte, relPath string) (Filesystem, string, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	idx, ok := driveIndex(letter)
	if !ok {
		return nil, "", kerrors.ErrInvalidArgument
	}
	d := mt.drives[idx]
	if d == nil {
		return nil, "", kerrors.ErrNotMounted
	}
	return d.fs, relPath, nil
}

func (mt *MountTable) resolvePath(normalized string) (Filesystem, string, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	for _, m := range mt.mounts {
		if normalized == m.path {
			return m.fs, "/", nil
		}
		if strings.HasPrefix(normalized, m.path) {
			after := normalized[len(m.path):]
			if m.path == "/" || strings.HasPrefix(after, "/") {
				rel := after
				if m.path == "/" {
					rel = normalized
				}
				return m.fs, rel, nil
			}
		}
	}
	return nil, "", kerrors.ErrNotMounted
}

// IsMountPoint reports whether path is exactly a Unix mount point.
func (mt *MountTable) IsMountPoint(path string) bool {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	normalized := vfspath.Parse(path).Path
	for _, m := range mt.mounts {
		if m.path == normalized {
			return true
		}
	}
	return false
}

// Vfs is the process-wide façade tying the mount table to the
// filesystem-facing operations the syscall gateway calls.
type Vfs struct {
	Mounts MountTable
}

// New constructs an empty Vfs. Prefer constructor injection (New then
// Mount) in tests; the global singleton below exists only as a
// convenience for the syscall gateway.
func New() *Vfs {
	return &Vfs{}
}

func (v *Vfs) Mount(path string, fs Filesystem) error { return v.Mounts.Mount(path, fs) }
func (v *Vfs) Unmount(path string) error               { return v.Mounts.Unmount(path) }
func (v *Vfs) MountDrive(letter byte, fs Filesystem) error {
	return v.Mounts.MountDrive(letter, fs)
}
func (v *Vfs) MountDriveLabeled(letter byte, fs Filesystem, label string) error {
	return v.Mounts.MountDriveLabeled(letter, fs, label)
}
func (v *Vfs) UnmountDrive(letter byte) error { return v.Mounts.UnmountDrive(letter) }
func (v *Vfs) GetDrive(letter byte) (Filesystem, bool) { return v.Mounts.GetDrive(letter) }
func (v *Vfs) ListDrives() []DriveInfo                 { return v.Mounts.ListDrives() }
func (v *Vfs) ListMounts() []string {
	v.Mounts.mu.Lock()
	defer v.Mounts.mu.Unlock()
	out := make([]string, len(v.Mounts.mounts))
	for i, m := range v.Mounts.mounts {
		out[i] = m.path
	}
	return out
}

func (v *Vfs) Open(path string, mode int) (FileOperations, error) {
	fs, rel, err := v.Mounts.Resolve(path)
	if err != nil {
		return nil, err
	}
	return fs.Open(rel, mode)
}

func (v *Vfs) Stat(path string) (stat.Stat, error) {
	fs, rel, err := v.Mounts.Resolve(path)
	if err != nil {
		return stat.Stat{}, err
	}
	return fs.Stat(rel)
}

func (v *Vfs) Mkdir(path string) error {
	fs, rel, err := v.Mounts.Resolve(path)
	if err != nil {
		return err
	}
	return fs.Mkdir(rel)
}

func (v *Vfs) Unlink(path string) error {
	fs, rel, err := v.Mounts.Resolve(path)
	if err != nil {
		return err
	}
	return fs.Unlink(rel)
}

func (v *Vfs) Rmdir(path string) error {
	fs, rel, err := v.Mounts.Resolve(path)
	if err != nil {
		return err
	}
	return fs.Rmdir(rel)
}

func (v *Vfs) Readdir(path string) ([]DirEntry, error) {
	fs, rel, err := v.Mounts.Resolve(path)
	if err != nil {
		return nil, err
	}
	return fs.Readdir(rel)
}

// Rename resolves both paths before checking anything else; if they
// resolve to different filesystem objects the rename fails with
// ErrCrossDevice regardless of whether either path exists.
func (v *Vfs) Rename(oldPath, newPath string) error {
	oldFs, oldRel, err := v.Mounts.Resolve(oldPath)
	if err != nil {
		return err
	}
	newFs, newRel, err := v.Mounts.Resolve(newPath)
	if err != nil {
		return err
	}
	if !sameFilesystem(oldFs, newFs) {
		return kerrors.ErrCrossDevice
	}
	return oldFs.Rename(oldRel, newRel)
}

func sameFilesystem(a, b Filesystem) bool {
	return fmt.Sprintf("%p", a) == fmt.Sprintf("%p", b)
}

var (
	globalMu  sync.Mutex
	globalVfs *Vfs
)

// Init installs the process-wide VFS singleton. Must run exactly once
// during boot before Get is called.
func Init() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalVfs = New()
}

// Get returns the process-wide VFS singleton, or nil if Init has not
// run yet.
func Get() *Vfs {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalVfs
}
