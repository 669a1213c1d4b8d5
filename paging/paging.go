// Package paging implements the per-process 4-level page table
// (PML4/PDP/PD/PT) described by the paging engine contract: 2 MiB and
// 4 KiB mappings, USER-bit propagation up the hierarchy, huge-page
// splitting on 4 KiB remap of an existing 2 MiB mapping, and TLB
// invalidation.
package paging

import (
	"fmt"

	"github.com/chris17453/watos-sub001/kerrors"
	"github.com/chris17453/watos-sub001/memlayout"
	"github.com/chris17453/watos-sub001/pmm"
)

// PTE flag bits, matching the reference layout bit-for-bit.
const (
	Present      uint64 = 1 << 0
	Writable     uint64 = 1 << 1
	User         uint64 = 1 << 2
	WriteThrough uint64 = 1 << 3
	NoCache      uint64 = 1 << 4
	Accessed     uint64 = 1 << 5
	Dirty        uint64 = 1 << 6
	HugePage     uint64 = 1 << 7
	Global       uint64 = 1 << 8
	NoExecute    uint64 = 1 << 63
	AddrMask     uint64 = 0x000F_FFFF_FFFF_F000
)

const entriesPerTable = 512

// table is a 512-entry, 4 KiB-aligned page table level.
type table struct {
	entries [entriesPerTable]uint64
}

// PageTable is one process's owned address space: a root PML4, the
// interior-table frames it allocated, and the user-data frames it
// holds for teardown.
type PageTable struct {
	pmm *pmm.Manager

	pml4Phys uint64

	// tables maps a physical frame address to the in-memory table it
	// backs. Interior tables are never shared across processes, so a
	// process-local registry is sufficient (see the design notes on
	// arena-plus-index pointer graphs).
	tables map[uint64]*table

	allocatedTables    []uint64
	allocatedPhysPages []uint64
}

// New allocates an empty PML4 and installs the kernel mirror: an
// identity map of [0, PhysIdentityMapEnd) using 2 MiB pages, and the
// same range mirrored at KernelHighBase. Neither mirror carries User.
func New(mgr *pmm.Manager) (*PageTable, error) {
	pt := &PageTable{
		pmm:    mgr,
		tables: make(map[uint64]*table),
	}
	root, err := pt.allocTable()
	if err != nil {
		return nil, err
	}
	pt.pml4Phys = root

	kernelFlags := Present | Writable | Global
	for phys := uint64(0); phys < memlayout.PhysIdentityMapEnd; phys += memlayout.LargePageSize {
		if err := pt.MapLargePage(phys, phys, kernelFlags); err != nil {
			return nil, fmt.Errorf("identity map 0x%x: %w", phys, err)
		}
		if err := pt.MapLargePage(memlayout.KernelHighBase+phys, phys, kernelFlags); err != nil {
			return nil, fmt.Errorf("high mirror 0x%x: %w", phys, err)
		}
	}
	return pt, nil
}

func (pt *PageTable) allocTable() (uint64, error) {
	phys, err := pt.pmm.AllocPage()
	if err != nil {
		return 0, err
	}
	pt.tables[phys] = &table{}
	pt.allocatedTables = append(pt.allocatedTables, phys)
	return phys, nil
}

func (pt *PageTable) tableAt(phys uint64) *table {
	t, ok := pt.tables[phys]
	if !ok {
		return nil
	}
	return t
}

func indices(virt uint64) (pml4i, pdpi, pdi, pti int) {
	pml4i = int((virt >> 39) & 0x1FF)
	pdpi = int((virt >> 30) & 0x1FF)
	pdi = int((virt >> 21) & 0x1FF)
	pti = int((virt >> 12) & 0x1FF)
	return
}

// walkInterior returns the PD-level table for virt, allocating any
// missing PML4/PDP interior tables along the way and propagating User
// into hierarchy-flags as needed.
func (pt *PageTable) walkInterior(virt uint64, wantUser bool) (*table, int, error) {
	pml4i, pdpi, pdi, _ := indices(virt)

	pml4 := pt.tableAt(pt.pml4Phys)
	pdpPhys, err := pt.descend(pml4, pml4i, wantUser)
	if err != nil {
		return nil, 0, err
	}
	pdp := pt.tableAt(pdpPhys)
	pdPhys, err := pt.descend(pdp, pdpi, wantUser)
	if err != nil {
		return nil, 0, err
	}
	return pt.tableAt(pdPhys), pdi, nil
}

// descend returns the child table's physical address at parent[idx],
// allocating a fresh table if absent and OR-ing in User on the parent
// entry when the caller wants a User mapping below it.
func (pt *PageTable) descend(parent *table, idx int, wantUser bool) (uint64, error) {
	entry := parent.entries[idx]
	if entry&Present == 0 {
		childPhys, err := pt.allocTable()
		if err != nil {
			return 0, err
		}
		flags := Present | Writable
		if wantUser {
			flags |= User
		}
		parent.entries[idx] = childPhys | flags
		return childPhys, nil
	}
	if wantUser && entry&User == 0 {
		parent.entries[idx] = entry | User
	}
	return entry & AddrMask, nil
}

// MapLargePage installs a PD-level 2 MiB leaf mapping virt -> phys.
func (pt *PageTable) MapLargePage(virt, phys uint64, flags uint64) error {
	pd, pdi, err := pt.walkInterior(virt, flags&User != 0)
	if err != nil {
		return err
	}
	pd.entries[pdi] = (phys & AddrMask) | flags | HugePage
	return nil
}

// MapPage installs a 4 KiB leaf mapping virt -> phys, splitting an
// existing 2 MiB mapping at the same region first if necessary.
func (pt *PageTable) MapPage(virt, phys uint64, flags uint64) error {
	pd, pdi, err := pt.walkInterior(virt, flags&User != 0)
	if err != nil {
		return err
	}

	pdEntry := pd.entries[pdi]
	var ptPhys uint64
	if pdEntry&Present != 0 && pdEntry&HugePage != 0 {
		newPT, err := pt.splitHugePage(pdEntry)
		if err != nil {
			return err
		}
		ptFlags := Present | Writable
		if flags&User != 0 {
			ptFlags |= User
		}
		pd.entries[pdi] = newPT | ptFlags
		ptPhys = newPT
	} else if pdEntry&Present == 0 {
		newPT, err := pt.allocTable()
		if err != nil {
			return err
		}
		ptFlags := Present | Writable
		if flags&User != 0 {
			ptFlags |= User
		}
		pd.entries[pdi] = newPT | ptFlags
		ptPhys = newPT
	} else {
		if flags&User != 0 && pdEntry&User == 0 {
			pd.entries[pdi] = pdEntry | User
		}
		ptPhys = pdEntry & AddrMask
	}

	_, _, _, pti := indices(virt)
	pt2 := pt.tableAt(ptPhys)
	pt2.entries[pti] = (phys & AddrMask) | flags
	return nil
}

// splitHugePage allocates a fresh PT and replicates the 2 MiB mapping
// described by pdEntry across all 512 of its 4 KiB slots, preserving
// the original flags (minus HugePage). The caller overwrites the
// target slot afterward.
func (pt *PageTable) splitHugePage(pdEntry uint64) (uint64, error) {
	hugeBase := pdEntry & AddrMask
	oldFlags := pdEntry &^ (AddrMask | HugePage)

	newPT, err := pt.allocTable()
	if err != nil {
		return 0, err
	}
	t := pt.tableAt(newPT)
	for i := 0; i < entriesPerTable; i++ {
		t.entries[i] = (hugeBase + uint64(i)*memlayout.PageSize) | oldFlags
	}
	return newPT, nil
}

// MapUserPage is a convenience wrapper asserting virt is within user
// space and forcing the User bit.
func (pt *PageTable) MapUserPage(virt, phys uint64, flags uint64) error {
	if virt >= memlayout.VirtUserMax {
		return kerrors.ErrInvalidArgument
	}
	return pt.MapPage(virt, phys, flags|User)
}

// Lookup walks the hierarchy and returns the mapped physical address
// (including any 2 MiB offset), or ok=false if any level is absent.
func (pt *PageTable) Lookup(virt uint64) (phys uint64, ok bool) {
	pml4i, pdpi, pdi, pti := indices(virt)

	pml4 := pt.tableAt(pt.pml4Phys)
	e := pml4.entries[pml4i]
	if e&Present == 0 {
		return 0, false
	}
	pdp := pt.tableAt(e & AddrMask)
	if pdp == nil {
		return 0, false
	}
	e = pdp.entries[pdpi]
	if e&Present == 0 {
		return 0, false
	}
	pd := pt.tableAt(e & AddrMask)
	if pd == nil {
		return 0, false
	}
	e = pd.entries[pdi]
	if e&Present == 0 {
		return 0, false
	}
	if e&HugePage != 0 {
		return (e & AddrMask) | (virt & (memlayout.LargePageSize - 1)), true
	}
	pt2 := pt.tableAt(e & AddrMask)
	if pt2 == nil {
		return 0, false
	}
	e = pt2.entries[pti]
	if e&Present == 0 {
		return 0, false
	}
	return (e & AddrMask) | (virt & (memlayout.PageSize - 1)), true
}

// UnmapPage zeroes the PT entry if present, invalidates the TLB entry
// (a no-op in this simulation beyond bookkeeping) and returns the
// previously mapped physical address.
func (pt *PageTable) UnmapPage(virt uint64) (uint64, bool) {
	pml4i, pdpi, pdi, pti := indices(virt)

	pml4 := pt.tableAt(pt.pml4Phys)
	e := pml4.entries[pml4i]
	if e&Present == 0 {
		return 0, false
	}
	pdp := pt.tableAt(e & AddrMask)
	e = pdp.entries[pdpi]
	if e&Present == 0 {
		return 0, false
	}
	pd := pt.tableAt(e & AddrMask)
	e = pd.entries[pdi]
	if e&Present == 0 || e&HugePage != 0 {
		return 0, false
	}
	ptbl := pt.tableAt(e & AddrMask)
	old := ptbl.entries[pti]
	if old&Present == 0 {
		return 0, false
	}
	ptbl.entries[pti] = 0
	Invlpg(virt)
	return old & AddrMask, true
}

// TrackPhysPage records a physical page as owned by this address
// space, to be released on teardown.
func (pt *PageTable) TrackPhysPage(addr uint64) {
	pt.allocatedPhysPages = append(pt.allocatedPhysPages, addr)
}

// PML4Phys returns the physical address of the root page table.
func (pt *PageTable) PML4Phys() uint64 { return pt.pml4Phys }

// Activate writes the PML4 physical address into the address-space
// register (CR3 in hardware terms). Simulated as returning the value
// that would be loaded.
func (pt *PageTable) Activate() uint64 { return pt.pml4Phys }

// Destroy frees every owned user-data frame back to the PMM, then
// every interior-table frame. Kernel-mirror target frames are never
// in the owned-frames list and so are never freed here.
func (pt *PageTable) Destroy() {
	for _, p := range pt.allocatedPhysPages {
		pt.pmm.FreePage(p)
	}
	pt.allocatedPhysPages = nil
	for _, p := range pt.allocatedTables {
		pt.pmm.FreePage(p)
		delete(pt.tables, p)
	}
	pt.allocatedTables = nil
}

// Invlpg invalidates a single TLB entry for virt. In this simulation
// there is no hardware TLB to flush; the call exists so call sites
// read the same way the reference kernel's do.
func Invlpg(virt uint64) {}

// FlushTLB reloads the address-space register, invalidating every
// non-global entry. Simulated no-op.
func FlushTLB(cr3 uint64) {}
