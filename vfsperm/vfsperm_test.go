package vfsperm

import "testing"

func TestOwnerGroupOtherTriad(t *testing.T) {
	file := Stat{UID: 1000, GID: 1000, Mode: 0o640}

	owner := New(2000, 1000) // matches group, not owner
	owner.InGroup(1000)
	if !CheckPermission(owner, file, Read) {
		t.Fatal("group member should read 0640")
	}
	if CheckPermission(owner, file, Write) {
		t.Fatal("group member should not write 0640")
	}

	other := New(2000, 2000)
	if CheckPermission(other, file, Read) || CheckPermission(other, file, Write) {
		t.Fatal("other should fail both read and write on 0640")
	}

	root := Root()
	if !CheckPermission(root, file, Read) || !CheckPermission(root, file, Write) {
		t.Fatal("root should succeed on both")
	}
}

func TestRootExecuteStillGated(t *testing.T) {
	noExec := Stat{UID: 1, GID: 1, Mode: 0o600}
	if CheckPermission(Root(), noExec, Execute) {
		t.Fatal("root must not execute a file with no x bits at all")
	}
	withExec := Stat{UID: 1, GID: 1, Mode: 0o100}
	if !CheckPermission(Root(), withExec, Execute) {
		t.Fatal("root should execute when any x bit is set")
	}
}

func TestStickyBitDeletion(t *testing.T) {
	dir := Stat{UID: 10, GID: 10, Mode: SIFDIR | 0o777 | SISVTX}
	file := Stat{UID: 20, GID: 20, Mode: 0o644}

	fileOwner := New(20, 20)
	if !CanDelete(fileOwner, dir, file) {
		t.Fatal("file owner should be able to delete under sticky dir")
	}

	stranger := New(30, 30)
	if CanDelete(stranger, dir, file) {
		t.Fatal("stranger must not delete under sticky dir")
	}

	dirOwner := New(10, 10)
	if !CanDelete(dirOwner, dir, file) {
		t.Fatal("directory owner should be able to delete under sticky dir")
	}
}

func TestFormatModeString(t *testing.T) {
	got := FormatModeString(0o755 | SISUID)
	want := "rwsr-xr-x"
	if got != want {
		t.Fatalf("FormatModeString = %q, want %q", got, want)
	}
}
