package paging

import (
	"testing"

	"github.com/chris17453/watos-sub001/memlayout"
	"github.com/chris17453/watos-sub001/pmm"
)

func freshPageTable(t *testing.T) (*PageTable, *pmm.Manager) {
	t.Helper()
	mgr := &pmm.Manager{}
	mgr.InitFromMemoryMap([]pmm.Entry{
		{PhysStart: memlayout.PhysAllocatorStart, NumPages: 4096, Type: pmm.RegionConventional},
	})
	pt, err := New(mgr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return pt, mgr
}

func TestUserPropagation(t *testing.T) {
	pt, mgr := freshPageTable(t)
	phys, err := mgr.AllocPage()
	if err != nil {
		t.Fatal(err)
	}
	virt := uint64(memlayout.VirtUserCode)
	if err := pt.MapUserPage(virt, phys, Present|Writable); err != nil {
		t.Fatalf("MapUserPage: %v", err)
	}

	pml4i, pdpi, pdi, _ := indices(virt)
	pml4 := pt.tableAt(pt.pml4Phys)
	if pml4.entries[pml4i]&User == 0 {
		t.Fatal("PML4 entry missing User")
	}
	pdp := pt.tableAt(pml4.entries[pml4i] & AddrMask)
	if pdp.entries[pdpi]&User == 0 {
		t.Fatal("PDP entry missing User")
	}
	pd := pt.tableAt(pdp.entries[pdpi] & AddrMask)
	if pd.entries[pdi]&User == 0 {
		t.Fatal("PD entry missing User")
	}
	got, ok := pt.Lookup(virt)
	if !ok || got != phys {
		t.Fatalf("Lookup = (%x, %v), want (%x, true)", got, ok, phys)
	}
}

func TestHugePageSplit(t *testing.T) {
	pt, _ := freshPageTable(t)

	const hugeVirt = 0x0000_0000_4000_0000 // 1 GiB-aligned, free of the kernel mirror
	const hugePhys = 0x0000_0000_0100_0000
	if err := pt.MapLargePage(hugeVirt, hugePhys, Present|Writable|User); err != nil {
		t.Fatalf("MapLargePage: %v", err)
	}

	const splitPhys = 0x50000
	if err := pt.MapPage(hugeVirt+memlayout.PageSize*3, splitPhys, Present|Writable|User); err != nil {
		t.Fatalf("MapPage (split): %v", err)
	}

	_, pdpi, pdi, _ := indices(hugeVirt)
	pml4i, _, _, _ := indices(hugeVirt)
	pml4 := pt.tableAt(pt.pml4Phys)
	pdp := pt.tableAt(pml4.entries[pml4i] & AddrMask)
	pd := pt.tableAt(pdp.entries[pdpi] & AddrMask)
	pdEntry := pd.entries[pdi]
	if pdEntry&HugePage != 0 {
		t.Fatal("PD entry still marked HugePage after split")
	}

	for k := 0; k < 512; k++ {
		v := hugeVirt + uint64(k)*memlayout.PageSize
		got, ok := pt.Lookup(v)
		if !ok {
			t.Fatalf("k=%d: lookup failed", k)
		}
		if k == 3 {
			if got != splitPhys {
				t.Fatalf("k=3: got %x, want split phys %x", got, splitPhys)
			}
			continue
		}
		want := hugePhys + uint64(k)*memlayout.PageSize
		if got != want {
			t.Fatalf("k=%d: got %x, want %x (preserved huge mapping)", k, got, want)
		}
	}
}

func TestKernelIdentityMirror(t *testing.T) {
	pt, _ := freshPageTable(t)
	got, ok := pt.Lookup(0)
	if !ok || got != 0 {
		t.Fatalf("identity map at 0: (%x,%v)", got, ok)
	}
	got, ok = pt.Lookup(memlayout.KernelHighBase)
	if !ok || got != 0 {
		t.Fatalf("high mirror at base: (%x,%v)", got, ok)
	}
}

func TestUnmapAndTeardown(t *testing.T) {
	pt, mgr := freshPageTable(t)
	// Destroy also frees the kernel-mirror tables New allocated, so the
	// baseline is the fresh PMM's full page count.
	statsBefore := mgr.Stats().TotalPages

	const n = 5
	var pages []uint64
	for i := 0; i < n; i++ {
		p, err := mgr.AllocPage()
		if err != nil {
			t.Fatal(err)
		}
		pages = append(pages, p)
		v := uint64(memlayout.VirtUserCode) + uint64(i)*memlayout.PageSize
		if err := pt.MapUserPage(v, p, Present|Writable); err != nil {
			t.Fatal(err)
		}
		pt.TrackPhysPage(p)
	}

	v0 := uint64(memlayout.VirtUserCode)
	old, ok := pt.UnmapPage(v0)
	if !ok || old != pages[0] {
		t.Fatalf("UnmapPage = (%x,%v), want (%x,true)", old, ok, pages[0])
	}
	if _, ok := pt.Lookup(v0); ok {
		t.Fatal("page still mapped after unmap")
	}

	pt.Destroy()
	if got := mgr.Stats().FreePages; got != statsBefore {
		t.Fatalf("teardown did not restore free counter: got %d want %d", got, statsBefore)
	}
}
