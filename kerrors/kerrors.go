// Package kerrors collects the flat error-kind vocabulary the kernel
// subsystems surface across syscalls, the VFS, and memory management.
// The memory, loader, VFS and syscall packages return these sentinels,
// directly or wrapped with fmt.Errorf's %w verb, so callers can test
// kind with errors.Is regardless of which of those layers produced it.
// bootinfo and diag report their own error strings instead.
package kerrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrNotMounted       = errors.New("not mounted")
	ErrAlreadyMounted   = errors.New("already mounted")
	ErrCrossDevice      = errors.New("cross-device link")
	ErrIsADirectory     = errors.New("is a directory")
	ErrNotADirectory    = errors.New("not a directory")
	ErrReadOnly         = errors.New("read-only filesystem")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotSupported     = errors.New("not supported")
	ErrIO               = errors.New("i/o error")
	ErrNotInitialized   = errors.New("not initialized")
	ErrTooManyOpenFiles = errors.New("too many open files")
	ErrOutOfMemory      = errors.New("out of memory")
	ErrBadAddress       = errors.New("bad address")
	ErrInvalidState     = errors.New("invalid state")
)
