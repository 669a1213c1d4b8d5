// Package stat defines the File Stat record returned by filesystem
// stat operations: kind, size, link count, identifiers, permission
// mode, ownership, block geometry, and timestamps.
package stat

import "time"

// Kind enumerates the file types the VFS can report.
type Kind int

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
	KindFIFO
	KindCharDevice
	KindBlockDevice
	KindSocket
	KindUnknown
)

// Stat is the File Stat record described by the data model.
type Stat struct {
	Kind      Kind
	Size      int64
	Nlink     uint32
	Ino       uint64
	Dev       uint64
	Mode      uint32
	UID       uint32
	GID       uint32
	BlockSize uint32
	Blocks    int64
	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
}

// IsDir reports whether the stat describes a directory.
func (s Stat) IsDir() bool { return s.Kind == KindDirectory }
