package vfs

import (
	"testing"

	"github.com/chris17453/watos-sub001/kerrors"
	"github.com/chris17453/watos-sub001/stat"
)

// stubFS is a minimal Filesystem used only to exercise mount
// resolution and rename semantics; its file operations are not
// exercised here.
type stubFS struct {
	name     string
	readOnly bool
}

func (s *stubFS) Name() string { return s.name }
func (s *stubFS) Open(path string, mode int) (FileOperations, error) {
	return nil, kerrors.ErrNotSupported
}
func (s *stubFS) Stat(path string) (stat.Stat, error) { return stat.Stat{}, kerrors.ErrNotFound }
func (s *stubFS) Mkdir(path string) error {
	if s.readOnly {
		return kerrors.ErrReadOnly
	}
	return nil
}
func (s *stubFS) Unlink(path string) error  { return nil }
func (s *stubFS) Rmdir(path string) error   { return nil }
func (s *stubFS) Readdir(path string) ([]DirEntry, error) { return nil, nil }
func (s *stubFS) Rename(oldPath, newPath string) error { return nil }
func (s *stubFS) Sync() error                          { return nil }
func (s *stubFS) Statfs() (FsStats, error)             { return FsStats{}, nil }

func TestLongestPrefixMatch(t *testing.T) {
	v := New()
	root := &stubFS{name: "root"}
	mnt := &stubFS{name: "mnt-a"}
	if err := v.Mount("/", root); err != nil {
		t.Fatal(err)
	}
	if err := v.Mount("/mnt/a", mnt); err != nil {
		t.Fatal(err)
	}

	fs, rel, err := v.Mounts.Resolve("/mnt/a/f")
	if err != nil {
		t.Fatal(err)
	}
	if fs != Filesystem(mnt) || rel != "/f" {
		t.Fatalf("resolve = (%v,%q), want (mnt-a,/f)", fs.(*stubFS).name, rel)
	}
}

func TestResolveScenarioS3(t *testing.T) {
	v := New()
	fsA := &stubFS{name: "A"}
	fsB := &stubFS{name: "B"}
	if err := v.Mount("/", fsA); err != nil {
		t.Fatal(err)
	}
	if err := v.Mount("/proc", fsB); err != nil {
		t.Fatal(err)
	}
	if err := v.MountDriveLabeled('C', fsA, "root"); err != nil {
		t.Fatal(err)
	}

	fs, rel, err := v.Mounts.Resolve("/proc/self")
	if err != nil || fs != Filesystem(fsB) || rel != "/self" {
		t.Fatalf("got (%v,%q,%v)", fs, rel, err)
	}

	fs, rel, err = v.Mounts.Resolve(`C:\foo\bar`)
	if err != nil || fs != Filesystem(fsA) || rel != "/foo/bar" {
		t.Fatalf("got (%v,%q,%v)", fs, rel, err)
	}

	fs, rel, err = v.Mounts.Resolve("C:/../../etc")
	if err != nil || fs != Filesystem(fsA) || rel != "/etc" {
		t.Fatalf("got (%v,%q,%v)", fs, rel, err)
	}
}

func TestCrossDeviceRename(t *testing.T) {
	v := New()
	fsA := &stubFS{name: "A"}
	fsB := &stubFS{name: "B"}
	if err := v.Mount("/", fsA); err != nil {
		t.Fatal(err)
	}
	if err := v.MountDrive('C', fsB); err != nil {
		t.Fatal(err)
	}

	if err := v.Rename("/a", "C:/b"); err != kerrors.ErrCrossDevice {
		t.Fatalf("Rename = %v, want ErrCrossDevice", err)
	}
}

func TestReadOnlySemantics(t *testing.T) {
	v := New()
	ro := &stubFS{name: "ro", readOnly: true}
	if err := v.Mount("/ro", ro); err != nil {
		t.Fatal(err)
	}
	if err := v.Mkdir("/ro/y"); err != kerrors.ErrReadOnly {
		t.Fatalf("Mkdir = %v, want ErrReadOnly", err)
	}
}

func TestDuplicateMountRejected(t *testing.T) {
	v := New()
	if err := v.Mount("/x", &stubFS{name: "1"}); err != nil {
		t.Fatal(err)
	}
	if err := v.Mount("/x", &stubFS{name: "2"}); err != kerrors.ErrAlreadyMounted {
		t.Fatalf("got %v, want ErrAlreadyMounted", err)
	}
}
