// Package vmm is the virtual memory manager: a façade over one
// process's paging.PageTable that maps code segments, grows the user
// heap (sbrk-style), and allocates the user stack with a deliberately
// unmapped guard page.
package vmm

import (
	"github.com/chris17453/watos-sub001/kerrors"
	"github.com/chris17453/watos-sub001/memlayout"
	"github.com/chris17453/watos-sub001/paging"
	"github.com/chris17453/watos-sub001/pmm"
)

// StackMapping describes a one-shot user stack allocation.
type StackMapping struct {
	StackTop    uint64
	StackBottom uint64
	Size        uint64
}

// VMM wraps one process's page table, tracking the heap break and
// whether the stack has already been mapped.
type VMM struct {
	pmm        *pmm.Manager
	pt         *paging.PageTable
	heapBreak  uint64
	stackMaped bool
}

// New creates a VMM over an already-constructed page table, with the
// heap break at its initial (empty) position.
func New(mgr *pmm.Manager, pt *paging.PageTable) *VMM {
	return &VMM{pmm: mgr, pt: pt, heapBreak: memlayout.VirtUserHeap}
}

// PageTable returns the underlying address space.
func (v *VMM) PageTable() *paging.PageTable { return v.pt }

func flagsFor(writable, executable bool) uint64 {
	flags := paging.Present | paging.User
	if writable {
		flags |= paging.Writable
	}
	if !executable {
		flags |= paging.NoExecute
	}
	return flags
}

// MapUserCode maps size bytes (rounded up to whole pages) starting at
// phys into virt, rejecting any range outside [VirtUserCode,
// VirtUserHeap).
func (v *VMM) MapUserCode(virt, phys, size uint64, writable, executable bool) error {
	if virt < memlayout.VirtUserCode || virt >= memlayout.VirtUserHeap {
		return kerrors.ErrInvalidArgument
	}
	flags := flagsFor(writable, executable)
	pages := memlayout.PagesNeeded(size)
	for i := uint64(0); i < pages; i++ {
		off := i * memlayout.PageSize
		if err := v.pt.MapUserPage(virt+off, phys+off, flags); err != nil {
			return err
		}
	}
	return nil
}

// MapUserCodeAlloc is MapUserCode but allocates fresh physical pages,
// tracks them for teardown, and returns the first page's physical
// address.
func (v *VMM) MapUserCodeAlloc(virt, size uint64, writable, executable bool) (uint64, error) {
	if virt < memlayout.VirtUserCode || virt >= memlayout.VirtUserHeap {
		return 0, kerrors.ErrInvalidArgument
	}
	pages := memlayout.PagesNeeded(size)
	flags := flagsFor(writable, executable)

	var first uint64
	for i := uint64(0); i < pages; i++ {
		phys, err := v.pmm.AllocPage()
		if err != nil {
			return 0, kerrors.ErrOutOfMemory
		}
		if i == 0 {
			first = phys
		}
		v.pt.TrackPhysPage(phys)
		if err := v.pt.MapUserPage(virt+i*memlayout.PageSize, phys, flags); err != nil {
			return 0, err
		}
	}
	return first, nil
}

// MapUserStack allocates pages (0 means the whole stack region) fresh
// frames and maps them at the top of the stack region, writable and
// non-executable, leaving VirtUserGuard deliberately unmapped. Fails
// if the stack was already mapped once.
func (v *VMM) MapUserStack(pages uint64) (StackMapping, error) {
	if v.stackMaped {
		return StackMapping{}, kerrors.ErrInvalidState
	}
	if pages == 0 {
		pages = (memlayout.VirtUserStackTop - memlayout.VirtUserStackBase) / memlayout.PageSize
	}
	size := pages * memlayout.PageSize
	top := uint64(memlayout.VirtUserStackTop)
	bottom := top - size

	if bottom <= memlayout.VirtUserGuard {
		return StackMapping{}, kerrors.ErrInvalidArgument
	}

	flags := paging.Present | paging.User | paging.Writable | paging.NoExecute
	for i := uint64(0); i < pages; i++ {
		phys, err := v.pmm.AllocPage()
		if err != nil {
			return StackMapping{}, kerrors.ErrOutOfMemory
		}
		v.pt.TrackPhysPage(phys)
		virt := bottom + i*memlayout.PageSize
		if err := v.pt.MapUserPage(virt, phys, flags); err != nil {
			return StackMapping{}, err
		}
	}
	v.stackMaped = true
	return StackMapping{StackTop: top, StackBottom: bottom, Size: size}, nil
}

// ExtendHeap grows the heap by increment bytes (rounded up to a whole
// page), returning the break address *before* growth. Fails if the
// new break would cross the guard page.
func (v *VMM) ExtendHeap(increment uint64) (uint64, error) {
	old := v.heapBreak
	return old, v.growHeapTo(old + memlayout.PageAlignUp(increment))
}

// SetHeapBreak sets the heap break directly (page-aligned up).
// Shrinking is a no-op update; growing allocates the difference.
func (v *VMM) SetHeapBreak(newBreak uint64) error {
	return v.growHeapTo(memlayout.PageAlignUp(newBreak))
}

func (v *VMM) growHeapTo(aligned uint64) error {
	if aligned > memlayout.VirtUserGuard {
		return kerrors.ErrInvalidArgument
	}
	if aligned <= v.heapBreak {
		v.heapBreak = aligned
		return nil
	}
	flags := paging.Present | paging.User | paging.Writable | paging.NoExecute
	for addr := v.heapBreak; addr < aligned; addr += memlayout.PageSize {
		phys, err := v.pmm.AllocPage()
		if err != nil {
			return kerrors.ErrOutOfMemory
		}
		v.pt.TrackPhysPage(phys)
		if err := v.pt.MapUserPage(addr, phys, flags); err != nil {
			return err
		}
	}
	v.heapBreak = aligned
	return nil
}

// HeapBreak returns the current heap break.
func (v *VMM) HeapBreak() uint64 { return v.heapBreak }

// IsValidUserAddr reports whether addr is within user space and
// currently mapped.
func (v *VMM) IsValidUserAddr(addr uint64) bool {
	if addr < memlayout.VirtUserCode || addr >= memlayout.VirtUserMax {
		return false
	}
	_, ok := v.pt.Lookup(addr)
	return ok
}

// Destroy tears down the underlying page table, releasing every
// tracked user frame and interior table back to the PMM.
func (v *VMM) Destroy() { v.pt.Destroy() }
