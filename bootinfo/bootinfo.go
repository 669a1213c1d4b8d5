// Package bootinfo decodes the fixed firmware boot-handoff structure:
// a magic tag, framebuffer description, the preloaded init executable,
// and a table of preloaded applications.
package bootinfo

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/mod/semver"
)

// Magic is the 4-byte tag identifying a valid boot-info structure.
const Magic = "WATO"

// MaxPreloadedApps bounds the fixed-size preloaded-application table.
const MaxPreloadedApps = 16

// AppNameLen is the fixed size of a preloaded application's name
// field, including its NUL terminator.
const AppNameLen = 32

// SupportedProtocolRange is the boot-protocol version range this
// implementation accepts, checked with golang.org/x/mod/semver since
// the protocol tag is carried as a "vMAJOR.MINOR" string.
const SupportedProtocolRange = "v1"

// Framebuffer describes the pixel buffer firmware handed off.
type Framebuffer struct {
	Addr   uint64
	Width  uint32
	Height uint32
	Pitch  uint32
	Bpp    uint32
	Format uint32
}

// PreloadedApp is one entry in the fixed preloaded-application table.
type PreloadedApp struct {
	Name    string
	LoadVA  uint64
	SizeBy  uint64
}

// BootInfo is the decoded firmware handoff structure.
type BootInfo struct {
	Protocol    string
	Framebuffer Framebuffer
	InitEntry   uint64
	InitSize    uint64
	Apps        []PreloadedApp
}

// Validate checks the magic tag and the boot-protocol version against
// SupportedProtocolRange.
func (b *BootInfo) Validate(magic [4]byte) error {
	if string(magic[:]) != Magic {
		return fmt.Errorf("bad boot-info magic %q", magic)
	}
	if !semver.IsValid(b.Protocol) {
		return fmt.Errorf("malformed boot protocol version %q", b.Protocol)
	}
	if semver.Major(b.Protocol) != SupportedProtocolRange {
		return fmt.Errorf("unsupported boot protocol %q, want major %q", b.Protocol, SupportedProtocolRange)
	}
	return nil
}

// Decode parses a raw boot-info buffer laid out as: 4-byte magic,
// protocol version string (fixed 8 bytes, NUL-padded), framebuffer
// fields, init entry/size, then MaxPreloadedApps fixed-width app
// records.
func Decode(buf []byte) (*BootInfo, error) {
	const head = 4 + 8 + 8 + 4*5 + 8 + 8
	if len(buf) < head {
		return nil, fmt.Errorf("boot-info buffer too small: %d bytes", len(buf))
	}

	var magic [4]byte
	copy(magic[:], buf[0:4])

	protoRaw := buf[4:12]
	proto := string(trimNUL(protoRaw))

	fb := Framebuffer{
		Addr:   binary.LittleEndian.Uint64(buf[12:20]),
		Width:  binary.LittleEndian.Uint32(buf[20:24]),
		Height: binary.LittleEndian.Uint32(buf[24:28]),
		Pitch:  binary.LittleEndian.Uint32(buf[28:32]),
		Bpp:    binary.LittleEndian.Uint32(buf[32:36]),
		Format: binary.LittleEndian.Uint32(buf[36:40]),
	}
	initEntry := binary.LittleEndian.Uint64(buf[40:48])
	initSize := binary.LittleEndian.Uint64(buf[48:56])

	bi := &BootInfo{Protocol: proto, Framebuffer: fb, InitEntry: initEntry, InitSize: initSize}
	if err := bi.Validate(magic); err != nil {
		return nil, err
	}

	off := head
	recLen := AppNameLen + 16
	for i := 0; i < MaxPreloadedApps && off+recLen <= len(buf); i++ {
		name := string(trimNUL(buf[off : off+AppNameLen]))
		load := binary.LittleEndian.Uint64(buf[off+AppNameLen : off+AppNameLen+8])
		size := binary.LittleEndian.Uint64(buf[off+AppNameLen+8 : off+AppNameLen+16])
		off += recLen
		if name == "" {
			continue
		}
		bi.Apps = append(bi.Apps, PreloadedApp{Name: name, LoadVA: load, SizeBy: size})
	}
	return bi, nil
}

func trimNUL(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
