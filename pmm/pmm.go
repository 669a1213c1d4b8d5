// Package pmm implements the physical memory manager: a single global
// bitmap allocator over 4 KiB page frames, initialised from a firmware
// memory map and exposing single-page, contiguous-run, and explicit
// free operations.
//
// Mutating operations hold one lock; the free-page counter is kept in
// a separate atomic word that Stats reads without the lock. Stats does
// take the lock briefly to read the total page count and start
// address, so it is not lock-free as a whole.
package pmm

import (
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/chris17453/watos-sub001/kerrors"
	"github.com/chris17453/watos-sub001/memlayout"
)

const bitmapWords = 1 << 16 // covers 64 * 65536 = 4M page frames (16 GiB)

// RegionType mirrors the firmware memory-map region classification
// relevant to the allocator: everything else is ignored.
type RegionType uint32

const (
	RegionConventional         RegionType = 7
	RegionBootServicesCode     RegionType = 3
	RegionBootServicesDataRecl RegionType = 4
)

// Entry is a (physical-start, page-count, region-type) triple from the
// firmware memory map.
type Entry struct {
	PhysStart uint64
	NumPages  uint64
	Type      RegionType
}

// Stats reports a snapshot of allocator occupancy.
type Stats struct {
	TotalPages uint64
	FreePages  uint64
	UsedPages  uint64
	StartAddr  uint64
	TotalBytes uint64
	FreeBytes  uint64
}

// Manager is the process-wide singleton physical memory allocator.
type Manager struct {
	mu          sync.Mutex
	bitmap      [bitmapWords]uint64
	startAddr   uint64
	totalPages  uint64
	freePages   atomic.Uint64
	initialized bool

	contentMu sync.Mutex
	content   map[uint64]*[memlayout.PageSize]byte
}

var global Manager

// Get returns the process-wide PMM singleton.
func Get() *Manager { return &global }

// InitFromMemoryMap initialises the allocator from firmware-reported
// regions. Only conventional and reclaimable boot-services regions
// contribute; each is clipped to [PhysAllocatorStart, inf) before its
// pages are marked free.
func (m *Manager) InitFromMemoryMap(entries []Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bitmap = [bitmapWords]uint64{}
	m.startAddr = memlayout.PhysAllocatorStart
	m.totalPages = 0
	m.freePages.Store(0)

	for _, e := range entries {
		if !usable(e.Type) {
			continue
		}
		start := e.PhysStart
		end := start + e.NumPages*memlayout.PageSize
		if end <= memlayout.PhysAllocatorStart {
			continue
		}
		if start < memlayout.PhysAllocatorStart {
			start = memlayout.PhysAllocatorStart
		}
		if start >= end {
			continue
		}
		m.markRangeFreeLocked(start, (end-start)/memlayout.PageSize)
	}
	m.initialized = true
}

func usable(t RegionType) bool {
	switch t {
	case RegionConventional, RegionBootServicesCode, RegionBootServicesDataRecl:
		return true
	default:
		return false
	}
}

func (m *Manager) markRangeFreeLocked(start uint64, pages uint64) {
	pfn := (start - m.startAddr) / memlayout.PageSize
	for i := uint64(0); i < pages; i++ {
		m.setFreeLocked(pfn + i)
	}
	m.totalPages += pages
	m.freePages.Add(pages)
}

func (m *Manager) setFreeLocked(pfn uint64) {
	w, b := pfn/64, pfn%64
	if int(w) >= len(m.bitmap) {
		return
	}
	m.bitmap[w] |= 1 << b
}

func (m *Manager) clearBitLocked(pfn uint64) {
	w, b := pfn/64, pfn%64
	m.bitmap[w] &^= 1 << b
}

func (m *Manager) testBitLocked(pfn uint64) bool {
	w, b := pfn/64, pfn%64
	if int(w) >= len(m.bitmap) {
		return false
	}
	return m.bitmap[w]&(1<<b) != 0
}

// AllocPage returns the lowest free page frame's physical address, or
// ErrOutOfMemory if none is free.
func (m *Manager) AllocPage() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return 0, kerrors.ErrNotInitialized
	}
	for w := 0; w < len(m.bitmap); w++ {
		word := m.bitmap[w]
		if word == 0 {
			continue
		}
		b := bits.TrailingZeros64(word)
		pfn := uint64(w)*64 + uint64(b)
		m.bitmap[w] &^= 1 << uint(b)
		m.freePages.Add(^uint64(0)) // -1
		return m.startAddr + pfn*memlayout.PageSize, nil
	}
	return 0, kerrors.ErrOutOfMemory
}

// AllocContiguous returns the base physical address of the first run
// of n consecutive free frames, or ErrOutOfMemory.
func (m *Manager) AllocContiguous(n uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return 0, kerrors.ErrNotInitialized
	}
	if n == 0 {
		return 0, kerrors.ErrInvalidArgument
	}

	var runStart uint64
	runLen := uint64(0)
	totalPFNs := m.totalPages
	for pfn := uint64(0); pfn < totalPFNs; pfn++ {
		if m.testBitLocked(pfn) {
			if runLen == 0 {
				runStart = pfn
			}
			runLen++
			if runLen == n {
				for i := uint64(0); i < n; i++ {
					m.clearBitLocked(runStart + i)
				}
				m.freePages.Add(^(n - 1))
				return m.startAddr + runStart*memlayout.PageSize, nil
			}
		} else {
			runLen = 0
		}
	}
	return 0, kerrors.ErrOutOfMemory
}

// FreePage marks a physical page free again. Double-free is silently
// tolerated.
func (m *Manager) FreePage(addr uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if addr < m.startAddr {
		return
	}
	pfn := (addr - m.startAddr) / memlayout.PageSize
	if int(pfn/64) >= len(m.bitmap) {
		return
	}
	if m.testBitLocked(pfn) {
		return // already free
	}
	m.setFreeLocked(pfn)
	m.freePages.Add(1)
	m.ForgetPage(addr)
}

// Stats reports current allocator occupancy. Safe to call concurrently
// with mutating operations; FreePages may be momentarily stale.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	total := m.totalPages
	start := m.startAddr
	m.mu.Unlock()

	free := m.freePages.Load()
	return Stats{
		TotalPages: total,
		FreePages:  free,
		UsedPages:  total - free,
		StartAddr:  start,
		TotalBytes: total * memlayout.PageSize,
		FreeBytes:  free * memlayout.PageSize,
	}
}

// PageBytes returns the backing 4 KiB byte array for the page frame at
// phys, creating it zero-filled on first access. This is the simulated
// RAM content behind an allocated physical address: callers that need
// to read or write page contents (the ELF loader, page-table frame
// storage) go through here rather than through real pointers.
func (m *Manager) PageBytes(phys uint64) []byte {
	m.contentMu.Lock()
	defer m.contentMu.Unlock()
	if m.content == nil {
		m.content = make(map[uint64]*[memlayout.PageSize]byte)
	}
	buf, ok := m.content[phys]
	if !ok {
		buf = &[memlayout.PageSize]byte{}
		m.content[phys] = buf
	}
	return buf[:]
}

// ForgetPage drops the backing storage for phys, called when a frame
// is freed so stale content cannot leak into a future allocation at
// the same address.
func (m *Manager) ForgetPage(phys uint64) {
	m.contentMu.Lock()
	defer m.contentMu.Unlock()
	delete(m.content, phys)
}
