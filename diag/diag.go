// Package diag provides post-mortem diagnostics for the kernel: it
// decodes the instruction at a faulting RIP to help classify a page
// fault (e.g. the stack-overflow case where the faulting address
// falls on VIRT_USER_GUARD), and it assembles a point-in-time snapshot
// of allocator and address-space occupancy as a pprof profile so it
// can be inspected with the standard `go tool pprof` flow.
package diag

import (
	"context"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
	"golang.org/x/sync/errgroup"

	"github.com/chris17453/watos-sub001/memlayout"
	"github.com/chris17453/watos-sub001/paging"
	"github.com/chris17453/watos-sub001/pmm"

	"github.com/google/pprof/profile"
)

// mode64 is the x86asm processor-mode constant for 64-bit decoding.
const mode64 = 64

// FaultKind classifies a page fault by where the faulting address
// landed.
type FaultKind int

const (
	FaultUnknown FaultKind = iota
	FaultGuardPage
	FaultUnmapped
	FaultPermission
)

func (k FaultKind) String() string {
	switch k {
	case FaultGuardPage:
		return "guard-page"
	case FaultUnmapped:
		return "unmapped"
	case FaultPermission:
		return "permission"
	default:
		return "unknown"
	}
}

// FaultReport is the decoded picture of one page fault: which
// instruction faulted, and why the address is considered bad.
type FaultReport struct {
	Kind        FaultKind
	FaultAddr   uint64
	RIP         uint64
	Instruction string
}

// ClassifyFault determines a FaultKind for faultAddr against pt: an
// address exactly at VIRT_USER_GUARD (or within its single page) is
// the deliberate stack-overflow sentinel; any other address the page
// table has no mapping for is a plain unmapped access.
func ClassifyFault(pt *paging.PageTable, faultAddr uint64) FaultKind {
	guardPage := memlayout.PageAlignDown(memlayout.VirtUserGuard)
	if memlayout.PageAlignDown(faultAddr) == guardPage {
		return FaultGuardPage
	}
	if _, ok := pt.Lookup(faultAddr); !ok {
		return FaultUnmapped
	}
	return FaultPermission
}

// DecodeFault disassembles the single instruction at code (the bytes
// at the faulting RIP) and classifies the fault against pt, producing
// a report suitable for the kernel's crash log.
func DecodeFault(pt *paging.PageTable, code []byte, rip, faultAddr uint64) (FaultReport, error) {
	inst, err := x86asm.Decode(code, mode64)
	if err != nil {
		return FaultReport{}, fmt.Errorf("decode faulting instruction at %#x: %w", rip, err)
	}
	text := x86asm.GNUSyntax(inst, rip, nil)
	return FaultReport{
		Kind:        ClassifyFault(pt, faultAddr),
		FaultAddr:   faultAddr,
		RIP:         rip,
		Instruction: text,
	}, nil
}

// Snapshot is a point-in-time view of memory-subsystem occupancy,
// gathered from the PMM and however many address spaces the caller
// supplies.
type Snapshot struct {
	PMM    pmm.Stats
	Spaces map[string]uint64 // label -> PML4 physical address
}

// Gather fetches the PMM's stats and, concurrently, each named
// address space's root PML4 address, using an errgroup so one slow
// or failing fetch doesn't block the others arbitrarily.
func Gather(ctx context.Context, mgr *pmm.Manager, spaces map[string]*paging.PageTable) (Snapshot, error) {
	snap := Snapshot{Spaces: make(map[string]uint64, len(spaces))}

	eg, _ := errgroup.WithContext(ctx)
	eg.Go(func() error {
		snap.PMM = mgr.Stats()
		return nil
	})
	for label, pt := range spaces {
		label, pt := label, pt
		eg.Go(func() error {
			if pt == nil {
				return fmt.Errorf("address space %q is nil", label)
			}
			snap.Spaces[label] = pt.PML4Phys()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// ToProfile renders a Snapshot as a pprof Profile: one sample per
// address space, valued by its PML4 physical address, plus a single
// aggregate sample for free physical memory. This lets `go tool
// pprof` render occupancy the same way it renders heap profiles.
func (s Snapshot) ToProfile() *profile.Profile {
	byteType := &profile.ValueType{Type: "bytes", Unit: "bytes"}
	p := &profile.Profile{
		SampleType: []*profile.ValueType{byteType},
		PeriodType: byteType,
		Period:     1,
	}

	freeFn := &profile.Function{ID: 1, Name: "pmm.free_bytes"}
	freeLoc := &profile.Location{ID: 1, Line: []profile.Line{{Function: freeFn}}}
	p.Function = append(p.Function, freeFn)
	p.Location = append(p.Location, freeLoc)
	p.Sample = append(p.Sample, &profile.Sample{
		Location: []*profile.Location{freeLoc},
		Value:    []int64{int64(s.PMM.FreeBytes)},
	})

	nextID := uint64(2)
	for label, pml4 := range s.Spaces {
		fn := &profile.Function{ID: nextID, Name: "address_space." + label}
		loc := &profile.Location{ID: nextID, Address: pml4, Line: []profile.Line{{Function: fn}}}
		nextID++
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(pml4)},
			Label:    map[string][]string{"space": {label}},
		})
	}
	return p
}
