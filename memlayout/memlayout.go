// Package memlayout defines the compile-time partition of the 64-bit
// address space and the page-arithmetic helpers every memory subsystem
// shares.
package memlayout

const (
	PageSize      = 1 << 12 // 4 KiB
	LargePageSize = 1 << 21 // 2 MiB

	// PhysIdentityMapEnd is the upper bound of the kernel identity map.
	PhysIdentityMapEnd = 8 << 20 // 8 MiB

	// PhysAllocatorStart is the first physical byte the PMM may hand out.
	PhysAllocatorStart = PhysIdentityMapEnd

	// KernelHighBase is the canonical high-half mirror of physical memory.
	KernelHighBase = 0xFFFF_8000_0000_0000

	VirtUserCode      = 0x0000_0000_0040_0000
	VirtUserHeap      = 0x0000_0000_1000_0000
	VirtUserGuard     = 0x0000_0000_7FFD_F000
	VirtUserStackBase = 0x0000_0000_7FFE_0000
	VirtUserStackTop  = 0x0000_0000_8000_0000
	VirtUserMax       = 0x0000_7FFF_FFFF_F000
)

// PageAlignUp rounds v up to the next multiple of PageSize.
func PageAlignUp(v uint64) uint64 {
	return (v + PageSize - 1) &^ (PageSize - 1)
}

// PageAlignDown rounds v down to a multiple of PageSize.
func PageAlignDown(v uint64) uint64 {
	return v &^ (PageSize - 1)
}

// PagesNeeded returns the number of 4 KiB pages required to cover bytes.
func PagesNeeded(bytes uint64) uint64 {
	return PageAlignUp(bytes) / PageSize
}

// PFNToPhys converts a page-frame number, relative to
// PhysAllocatorStart, to a physical address.
func PFNToPhys(pfn uint64) uint64 { return PhysAllocatorStart + pfn*PageSize }

// PhysToPFN converts a physical address to its page-frame number,
// relative to PhysAllocatorStart.
func PhysToPFN(phys uint64) uint64 {
	return (phys - PhysAllocatorStart) / PageSize
}
