// Package syscallno is the authoritative, ABI-stable system-call
// numbering table. Adding numbers is safe; renumbering or reusing an
// existing number is a hard ABI break (see the gateway's dispatch
// contract).
package syscallno

// ErrEncoding selects which of the two error-reporting conventions a
// call number uses.
type ErrEncoding int

const (
	// EncThreshold: a return value >= 1<<32 is an encoded error.
	EncThreshold ErrEncoding = iota
	// EncSignedNegative: the call returns int64, -1 on failure.
	EncSignedNegative
)

const (
	Write  = 1
	Read   = 2
	Open   = 3
	Close  = 4
	Getkey = 5
	Exit   = 6

	Sleep  = 11
	Getpid = 12
	Time   = 13
	Timer  = Time
	Malloc = 14
	Free   = 15

	Putchar = 16
	Cursor  = 17
	Clear   = 18
	Color   = 19

	ConsoleIn  = 20
	ConsoleOut = 21
	ConsoleErr = 22
	ConsoleRd  = 23

	VgaSetMode    = 30
	VgaSetPalette = 36

	GfxPset    = 40
	GfxDisplay = 45

	FbInfo       = 50
	FbAddr       = 51
	FbDimensions = 52

	ReadScancode = 60

	Stat       = 70
	Readdir    = 71
	Mkdir      = 72
	Unlink     = 73
	Rmdir      = 74
	Rename     = 75
	Getcwd     = 76
	Chdir      = 77
	Mount      = 78
	Unmount    = 79

	Exec     = 80
	Spawn    = 81
	Wait     = 82
	Getargs  = 83

	Listdrives = 85

	Getdate   = 90
	Gettime   = 91
	Getticks  = 92
)

// Encoding returns the error-encoding convention a given call number
// uses. Resolved per call: OPEN-family calls use the 2^32 threshold,
// CLOSE and other handle-disposing calls use signed-negative.
func Encoding(num uint64) ErrEncoding {
	switch num {
	case Open, Stat, Readdir, Mkdir, Unlink, Rmdir, Rename, Getcwd, Chdir, Mount, Unmount, Exec, Spawn, Listdrives:
		return EncThreshold
	default:
		return EncSignedNegative
	}
}

// names maps numbers to their canonical identifier, for diagnostics.
var names = map[uint64]string{
	Write: "WRITE", Read: "READ", Open: "OPEN", Close: "CLOSE", Getkey: "GETKEY", Exit: "EXIT",
	Sleep: "SLEEP", Getpid: "GETPID", Time: "TIME", Malloc: "MALLOC", Free: "FREE",
	Putchar: "PUTCHAR", Cursor: "CURSOR", Clear: "CLEAR", Color: "COLOR",
	ConsoleIn: "CONSOLE_IN", ConsoleOut: "CONSOLE_OUT", ConsoleErr: "CONSOLE_ERR", ConsoleRd: "CONSOLE_READ",
	VgaSetMode: "VGA_SET_MODE", VgaSetPalette: "VGA_SET_PALETTE", GfxPset: "GFX_PSET", GfxDisplay: "GFX_DISPLAY",
	FbInfo: "FB_INFO", FbAddr: "FB_ADDR", FbDimensions: "FB_DIMENSIONS",
	ReadScancode: "READ_SCANCODE",
	Stat:         "STAT", Readdir: "READDIR", Mkdir: "MKDIR", Unlink: "UNLINK", Rmdir: "RMDIR",
	Rename: "RENAME", Getcwd: "GETCWD", Chdir: "CHDIR", Mount: "MOUNT", Unmount: "UNMOUNT",
	Exec: "EXEC", Spawn: "SPAWN", Wait: "WAIT", Getargs: "GETARGS",
	Listdrives: "LISTDRIVES",
	Getdate:    "GETDATE", Gettime: "GETTIME", Getticks: "GETTICKS",
}

// Name returns the canonical identifier for a call number, or "" if
// unknown.
func Name(num uint64) string { return names[num] }
