package vmm

import (
	"testing"

	"github.com/chris17453/watos-sub001/memlayout"
	"github.com/chris17453/watos-sub001/paging"
	"github.com/chris17453/watos-sub001/pmm"
)

func freshVMM(t *testing.T) (*VMM, *pmm.Manager) {
	t.Helper()
	mgr := &pmm.Manager{}
	mgr.InitFromMemoryMap([]pmm.Entry{
		{PhysStart: memlayout.PhysAllocatorStart, NumPages: 8192, Type: pmm.RegionConventional},
	})
	pt, err := paging.New(mgr)
	if err != nil {
		t.Fatal(err)
	}
	return New(mgr, pt), mgr
}

func TestGuardPageInviolability(t *testing.T) {
	v, _ := freshVMM(t)
	if err := v.SetHeapBreak(memlayout.VirtUserGuard + 1); err == nil {
		t.Fatal("SetHeapBreak past guard should fail")
	}
	if _, err := v.ExtendHeap(memlayout.VirtUserGuard - memlayout.VirtUserHeap + memlayout.PageSize); err == nil {
		t.Fatal("ExtendHeap past guard should fail")
	}
	if _, ok := v.pt.Lookup(memlayout.VirtUserGuard); ok {
		t.Fatal("guard page must never be mapped")
	}
}

func TestHeapGrowth(t *testing.T) {
	v, mgr := freshVMM(t)
	free0 := mgr.Stats().FreePages

	old, err := v.ExtendHeap(3 * memlayout.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	if old != memlayout.VirtUserHeap {
		t.Fatalf("old break = %x, want %x", old, memlayout.VirtUserHeap)
	}
	if v.HeapBreak() != memlayout.VirtUserHeap+3*memlayout.PageSize {
		t.Fatalf("new break = %x", v.HeapBreak())
	}
	// three heap pages plus the page table they are mapped through
	if got := free0 - mgr.Stats().FreePages; got != 4 {
		t.Fatalf("pages consumed = %d, want 4", got)
	}
}

func TestStackGuardGap(t *testing.T) {
	v, _ := freshVMM(t)
	sm, err := v.MapUserStack(16)
	if err != nil {
		t.Fatal(err)
	}
	if sm.StackTop != memlayout.VirtUserStackTop {
		t.Fatalf("stack top = %x", sm.StackTop)
	}
	if _, ok := v.pt.Lookup(memlayout.VirtUserGuard); ok {
		t.Fatal("guard page mapped by stack allocation")
	}
	if _, err := v.MapUserStack(16); err == nil {
		t.Fatal("second MapUserStack should fail (one-shot)")
	}
}

func TestTeardownCompleteness(t *testing.T) {
	v, mgr := freshVMM(t)
	// Destroy also frees the kernel-mirror tables paging.New allocated,
	// so the baseline is the fresh PMM's full page count.
	free0 := mgr.Stats().TotalPages

	if _, err := v.MapUserCodeAlloc(memlayout.VirtUserCode, 5*memlayout.PageSize, true, true); err != nil {
		t.Fatal(err)
	}
	if _, err := v.MapUserStack(4); err != nil {
		t.Fatal(err)
	}
	v.Destroy()
	if got := mgr.Stats().FreePages; got != free0 {
		t.Fatalf("free pages after teardown = %d, want %d", got, free0)
	}
}
