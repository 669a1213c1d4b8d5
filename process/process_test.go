package process

import (
	"encoding/binary"
	"testing"

	"github.com/chris17453/watos-sub001/fd"
	"github.com/chris17453/watos-sub001/memfs"
	"github.com/chris17453/watos-sub001/memlayout"
	"github.com/chris17453/watos-sub001/pmm"
	"github.com/chris17453/watos-sub001/syscallgw"
	"github.com/chris17453/watos-sub001/syscallno"
	"github.com/chris17453/watos-sub001/vfs"
)

// buildMinimalELF returns a tiny static (non-PIE) ELF64 executable: a
// single PT_LOAD segment covering the headers plus code, loaded at
// entry = memlayout.VirtUserCode + len(header).
func buildMinimalELF(code []byte) []byte {
	const ehdrSize = 64
	const phdrSize = 56
	total := ehdrSize + phdrSize + len(code)

	buf := make([]byte, total)
	buf[0], buf[1], buf[2], buf[3] = 0x7F, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // little-endian
	binary.LittleEndian.PutUint16(buf[16:18], 2)      // ET_EXEC
	binary.LittleEndian.PutUint16(buf[18:20], 0x3E)   // EM_X86_64
	binary.LittleEndian.PutUint64(buf[24:32], memlayout.VirtUserCode+ehdrSize+phdrSize)
	binary.LittleEndian.PutUint64(buf[32:40], ehdrSize) // phoff
	binary.LittleEndian.PutUint16(buf[54:56], phdrSize)
	binary.LittleEndian.PutUint16(buf[56:58], 1) // phnum

	ph := buf[ehdrSize : ehdrSize+phdrSize]
	binary.LittleEndian.PutUint32(ph[0:4], 1)             // PT_LOAD
	binary.LittleEndian.PutUint32(ph[4:8], 5)              // R+X
	binary.LittleEndian.PutUint64(ph[8:16], 0)              // offset
	binary.LittleEndian.PutUint64(ph[16:24], memlayout.VirtUserCode)
	binary.LittleEndian.PutUint64(ph[24:32], memlayout.VirtUserCode)
	binary.LittleEndian.PutUint64(ph[32:40], uint64(total)) // filesz
	binary.LittleEndian.PutUint64(ph[40:48], uint64(total)) // memsz
	binary.LittleEndian.PutUint64(ph[48:56], 0x1000)

	copy(buf[ehdrSize+phdrSize:], code)
	return buf
}

func newTestPMM(t *testing.T) *pmm.Manager {
	t.Helper()
	mgr := &pmm.Manager{}
	mgr.InitFromMemoryMap([]pmm.Entry{
		{PhysStart: 0x800000, NumPages: (120 << 20) / memlayout.PageSize, Type: pmm.RegionConventional},
	})
	return mgr
}

func TestSpawnBootsFirstProcess(t *testing.T) {
	mgr := newTestPMM(t)
	before := mgr.Stats()

	elf := buildMinimalELF([]byte{0x90, 0x90, 0xF4}) // nop; nop; hlt
	v := vfs.New()
	p, err := Spawn(mgr, v, 1, elf, DefaultStackPages)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	after := mgr.Stats()
	consumed := before.FreePages - after.FreePages
	// at least one code page plus the 16-page stack were allocated,
	// on top of whatever interior page-table frames paging.New needed.
	if consumed < 1+DefaultStackPages {
		t.Fatalf("expected at least %d pages consumed, got %d", 1+DefaultStackPages, consumed)
	}
	if p.VMM.PageTable().PML4Phys() < memlayout.PhysAllocatorStart {
		t.Fatalf("PML4 phys %#x not allocated from the PMM region", p.VMM.PageTable().PML4Phys())
	}
	if p.Entry != memlayout.VirtUserCode+64+56 {
		t.Fatalf("entry = %#x, want %#x", p.Entry, memlayout.VirtUserCode+64+56)
	}
	if p.Stack.StackTop != memlayout.VirtUserStackTop {
		t.Fatalf("stack top = %#x, want %#x", p.Stack.StackTop, memlayout.VirtUserStackTop)
	}
}

func TestOpenReadCloseScenario(t *testing.T) {
	mgr := newTestPMM(t)

	fs := memfs.New("root")
	if err := fs.Mkdir("/etc"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	h, err := fs.Open("/etc/hello", fd.Write|fd.Create)
	if err != nil {
		t.Fatalf("Open for create: %v", err)
	}
	if _, err := h.Write([]byte("hello world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	v := vfs.New()
	if err := v.Mount("/", fs); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	elf := buildMinimalELF([]byte{0x90, 0xF4})
	p, err := Spawn(mgr, v, 7, elf, DefaultStackPages)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	pathAddr, err := p.VMM.ExtendHeap(memlayout.PageSize)
	if err != nil {
		t.Fatalf("ExtendHeap (path page): %v", err)
	}
	bufAddr, err := p.VMM.ExtendHeap(memlayout.PageSize)
	if err != nil {
		t.Fatalf("ExtendHeap (buf page): %v", err)
	}

	path := "/etc/hello"
	if err := p.CopyOut(pathAddr, []byte(path)); err != nil {
		t.Fatalf("CopyOut path: %v", err)
	}

	gw := syscallgw.New()
	RegisterHandlers(gw)

	openRet := gw.Dispatch(p, &syscallgw.Frame{
		Num:  syscallno.Open,
		Args: [4]uint64{pathAddr, uint64(len(path)), uint64(fd.Read), 0},
	})
	if openRet >= uint64(1)<<32 {
		t.Fatalf("OPEN failed: encoded %#x", openRet)
	}
	handleNum := openRet
	if handleNum != 3 {
		t.Fatalf("expected handle 3 (descriptors 0-2 reserved), got %d", handleNum)
	}

	readRet := gw.Dispatch(p, &syscallgw.Frame{
		Num:  syscallno.Read,
		Args: [4]uint64{handleNum, bufAddr, 5, 0},
	})
	if readRet != 5 {
		t.Fatalf("READ returned %d, want min(5, file_size)=5", readRet)
	}
	got, err := p.CopyIn(bufAddr, 5)
	if err != nil {
		t.Fatalf("CopyIn: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("read bytes = %q, want %q", got, "hello")
	}

	closeRet := gw.Dispatch(p, &syscallgw.Frame{
		Num:  syscallno.Close,
		Args: [4]uint64{handleNum, 0, 0, 0},
	})
	if closeRet != 0 {
		t.Fatalf("CLOSE returned %#x, want 0", closeRet)
	}
}

func TestWaitReapsExitedChild(t *testing.T) {
	mgr := newTestPMM(t)
	v := vfs.New()
	elf := buildMinimalELF([]byte{0xF4})

	parent, err := Spawn(mgr, v, 1, elf, DefaultStackPages)
	if err != nil {
		t.Fatalf("Spawn parent: %v", err)
	}
	child, err := SpawnChild(parent, mgr, v, 2, elf, DefaultStackPages)
	if err != nil {
		t.Fatalf("SpawnChild: %v", err)
	}

	gw := syscallgw.New()
	RegisterHandlers(gw)

	notYet := gw.Dispatch(parent, &syscallgw.Frame{Num: syscallno.Wait, Args: [4]uint64{0, 0, 0, 0}})
	if notYet != ^uint64(0) {
		t.Fatalf("WAIT before exit = %#x, want all-ones (no exited child)", notYet)
	}

	child.Exit(42)

	ret := gw.Dispatch(parent, &syscallgw.Frame{Num: syscallno.Wait, Args: [4]uint64{0, 0, 0, 0}})
	gotPID := int32(uint32(ret))
	gotCode := int32(uint32(ret >> 32))
	if gotPID != 2 || gotCode != 42 {
		t.Fatalf("WAIT = pid %d code %d, want pid 2 code 42", gotPID, gotCode)
	}
}
