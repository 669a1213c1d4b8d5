package memfs

import (
	"testing"

	"github.com/chris17453/watos-sub001/kerrors"
	"github.com/chris17453/watos-sub001/vfs"
)

func TestOpenReadClose(t *testing.T) {
	fs := New("root")
	if err := fs.Mkdir("/etc"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	h, err := fs.Open("/etc/hello", 1<<3 /* create */ |1<<1 /* write */)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.Write([]byte("hello world")); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}

	rh, err := fs.Open("/etc/hello", 1 /* read */)
	if err != nil {
		t.Fatalf("open for read: %v", err)
	}
	buf := make([]byte, 5)
	n, err := rh.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || string(buf) != "hello" {
		t.Fatalf("read = %d %q, want 5 %q", n, buf, "hello")
	}
	if err := rh.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestReadOnlyFilesystem(t *testing.T) {
	fs := NewReadOnly("ro")
	if _, err := fs.Open("/x", 1<<1); err != kerrors.ErrReadOnly {
		t.Fatalf("open for write = %v, want ErrReadOnly", err)
	}
	if err := fs.Mkdir("/y"); err != kerrors.ErrReadOnly {
		t.Fatalf("mkdir = %v, want ErrReadOnly", err)
	}
}

func TestReaddirExcludesDotEntries(t *testing.T) {
	fs := New("root")
	if err := fs.Mkdir("/a"); err != nil {
		t.Fatal(err)
	}
	entries, err := fs.Readdir("/")
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			t.Fatalf("readdir must not include dot entries, got %q", e.Name)
		}
	}
	if len(entries) != 1 || entries[0].Name != "a" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestThroughVFS(t *testing.T) {
	v := vfs.New()
	fs := New("root")
	if err := v.Mount("/", fs); err != nil {
		t.Fatal(err)
	}
	if err := v.Mkdir("/dir"); err != nil {
		t.Fatal(err)
	}
	st, err := v.Stat("/dir")
	if err != nil {
		t.Fatal(err)
	}
	if !st.IsDir() {
		t.Fatal("expected directory stat")
	}
}
