// Package elfload parses static and position-independent ELF64
// executables and loads their PT_LOAD segments into a fresh address
// space, preserving bytes from an earlier segment when a later one's
// page range overlaps it.
package elfload

import (
	"encoding/binary"
	"fmt"

	"github.com/chris17453/watos-sub001/kerrors"
	"github.com/chris17453/watos-sub001/memlayout"
	"github.com/chris17453/watos-sub001/paging"
	"github.com/chris17453/watos-sub001/pmm"
)

const (
	ehdrSize = 64
	phdrSize = 56
)

// Program header types relevant to loading.
const (
	PTNull    = 0
	PTLoad    = 1
	PTDynamic = 2
	PTInterp  = 3
	PTNote    = 4
)

// Program header permission flags.
const (
	PFExecute = 1
	PFWrite   = 2
	PFRead    = 4
)

const emX8664 = 0x3E

// Object file types.
const (
	etExec = 2
	etDyn  = 3
)

// ProgramHeader is one parsed PT_LOAD (or other) entry.
type ProgramHeader struct {
	Type    uint32
	Flags   uint32
	Offset  uint64
	VAddr   uint64
	PAddr   uint64
	FileSz  uint64
	MemSz   uint64
	Align   uint64
}

// Image is a parsed ELF64 executable.
type Image struct {
	Entry  uint64
	Phdrs  []ProgramHeader
	IsPIE  bool
}

// Parse validates the ELF64 header and program headers and returns a
// parsed Image. It fails distinctly on bad magic, wrong class/endian/
// machine, wrong object type, or a program header table that extends
// past the file.
func Parse(data []byte) (*Image, error) {
	if len(data) < ehdrSize {
		return nil, fmt.Errorf("%w: file too small for ELF header", kerrors.ErrInvalidArgument)
	}
	if data[0] != 0x7F || data[1] != 'E' || data[2] != 'L' || data[3] != 'F' {
		return nil, fmt.Errorf("%w: bad ELF magic", kerrors.ErrInvalidArgument)
	}
	class := data[4]
	if class != 2 {
		return nil, fmt.Errorf("%w: not a 64-bit ELF", kerrors.ErrInvalidArgument)
	}
	endian := data[5]
	if endian != 1 {
		return nil, fmt.Errorf("%w: not little-endian", kerrors.ErrInvalidArgument)
	}

	etype := binary.LittleEndian.Uint16(data[16:18])
	machine := binary.LittleEndian.Uint16(data[18:20])
	if machine != emX8664 {
		return nil, fmt.Errorf("%w: unsupported machine type %d", kerrors.ErrInvalidArgument, machine)
	}
	isPIE := false
	switch etype {
	case etExec:
	case etDyn:
		isPIE = true
	default:
		return nil, fmt.Errorf("%w: unsupported object type %d", kerrors.ErrInvalidArgument, etype)
	}

	entry := binary.LittleEndian.Uint64(data[24:32])
	phoff := binary.LittleEndian.Uint64(data[32:40])
	phentsize := binary.LittleEndian.Uint16(data[54:56])
	phnum := binary.LittleEndian.Uint16(data[56:58])

	if phentsize != phdrSize {
		return nil, fmt.Errorf("%w: unexpected program header entry size %d", kerrors.ErrInvalidArgument, phentsize)
	}
	tableEnd := phoff + uint64(phnum)*uint64(phentsize)
	if tableEnd > uint64(len(data)) {
		return nil, fmt.Errorf("%w: program header table extends past file", kerrors.ErrInvalidArgument)
	}

	img := &Image{Entry: entry, IsPIE: isPIE}
	for i := uint16(0); i < phnum; i++ {
		base := phoff + uint64(i)*uint64(phentsize)
		ph := data[base : base+phdrSize]
		img.Phdrs = append(img.Phdrs, ProgramHeader{
			Type:   binary.LittleEndian.Uint32(ph[0:4]),
			Flags:  binary.LittleEndian.Uint32(ph[4:8]),
			Offset: binary.LittleEndian.Uint64(ph[8:16]),
			VAddr:  binary.LittleEndian.Uint64(ph[16:24]),
			PAddr:  binary.LittleEndian.Uint64(ph[24:32]),
			FileSz: binary.LittleEndian.Uint64(ph[32:40]),
			MemSz:  binary.LittleEndian.Uint64(ph[40:48]),
			Align:  binary.LittleEndian.Uint64(ph[48:56]),
		})
	}
	return img, nil
}

// minVAddr returns the lowest virtual address across the image's
// PT_LOAD segments.
func (img *Image) minVAddr() uint64 {
	min := ^uint64(0)
	found := false
	for _, ph := range img.Phdrs {
		if ph.Type != PTLoad {
			continue
		}
		if !found || ph.VAddr < min {
			min = ph.VAddr
			found = true
		}
	}
	if !found {
		return 0
	}
	return min
}

// EntryPoint returns the runtime entry address for a given load base.
func (img *Image) EntryPoint(loadBase uint64) uint64 {
	if !img.IsPIE {
		return img.Entry
	}
	return loadBase + (img.Entry - img.minVAddr())
}

func segFlags(ph ProgramHeader) uint64 {
	flags := paging.Present | paging.User
	if ph.Flags&PFWrite != 0 {
		flags |= paging.Writable
	}
	if ph.Flags&PFExecute == 0 {
		flags |= paging.NoExecute
	}
	return flags
}

// LoadSegments maps every PT_LOAD segment of data into pt at the
// given load base, returning the resolved entry point. For each page
// in a segment's range: a fresh physical frame is allocated; if that
// page was already mapped by an earlier segment (overlap at page
// granularity), the earlier page's bytes are copied into the new
// frame first; file bytes are then copied in, and any remaining BSS
// portion is left zero.
func LoadSegments(mgr *pmm.Manager, pt *paging.PageTable, data []byte, loadBase uint64) (uint64, error) {
	img, err := Parse(data)
	if err != nil {
		return 0, err
	}
	return loadParsed(mgr, pt, img, data, loadBase)
}

func loadParsed(mgr *pmm.Manager, pt *paging.PageTable, img *Image, data []byte, loadBase uint64) (uint64, error) {
	minVAddr := img.minVAddr()

	for _, ph := range img.Phdrs {
		if ph.Type != PTLoad {
			continue
		}
		if ph.Offset+ph.FileSz > uint64(len(data)) {
			return 0, fmt.Errorf("%w: PT_LOAD extends past file", kerrors.ErrInvalidArgument)
		}

		target := ph.VAddr
		if img.IsPIE {
			target = loadBase + (ph.VAddr - minVAddr)
		}

		pageStart := memlayout.PageAlignDown(target)
		pageEnd := memlayout.PageAlignUp(target + ph.MemSz)
		flags := segFlags(ph)

		for pageVirt := pageStart; pageVirt < pageEnd; pageVirt += memlayout.PageSize {
			phys, err := mgr.AllocPage()
			if err != nil {
				return 0, kerrors.ErrOutOfMemory
			}
			newBuf := mgr.PageBytes(phys)

			if oldPhys, ok := pt.Lookup(pageVirt); ok {
				copy(newBuf, mgr.PageBytes(oldPhys))
			} else {
				for i := range newBuf {
					newBuf[i] = 0
				}
			}

			fileLo := maxU64(pageVirt, target)
			fileHi := minU64(pageVirt+memlayout.PageSize, target+ph.FileSz)
			if fileHi > fileLo {
				srcOff := ph.Offset + (fileLo - target)
				dstOff := fileLo - pageVirt
				copy(newBuf[dstOff:dstOff+(fileHi-fileLo)], data[srcOff:srcOff+(fileHi-fileLo)])
			}

			bssLo := maxU64(pageVirt, target+ph.FileSz)
			bssHi := minU64(pageVirt+memlayout.PageSize, target+ph.MemSz)
			if bssHi > bssLo {
				dstOff := bssLo - pageVirt
				for i := dstOff; i < bssHi-pageVirt; i++ {
					newBuf[i] = 0
				}
			}

			if err := pt.MapUserPage(pageVirt, phys, flags); err != nil {
				return 0, err
			}
			pt.TrackPhysPage(phys)
		}
	}

	return img.EntryPoint(loadBase), nil
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
