// Package process ties the ELF loader, VMM, page table and the
// syscall gateway together into the process-creation and -service
// flow that §2 of the specification describes only as a data-flow
// diagram: an ELF image is parsed, its segments mapped into a fresh
// address space, a stack allocated, and the resulting process made
// ready for a Ring-0-to-Ring-3 transition at the computed entry
// point.
package process

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chris17453/watos-sub001/accnt"
	"github.com/chris17453/watos-sub001/elfload"
	"github.com/chris17453/watos-sub001/fd"
	"github.com/chris17453/watos-sub001/kerrors"
	"github.com/chris17453/watos-sub001/memlayout"
	"github.com/chris17453/watos-sub001/paging"
	"github.com/chris17453/watos-sub001/pmm"
	"github.com/chris17453/watos-sub001/syscallgw"
	"github.com/chris17453/watos-sub001/syscallno"
	"github.com/chris17453/watos-sub001/vfs"
	"github.com/chris17453/watos-sub001/vmm"
)

// nextSpawnedPID hands out PIDs for processes created through the
// SPAWN syscall. Starts well above the small PIDs tests assign by
// hand so the two numbering schemes never collide.
var nextSpawnedPID atomic.Int32

func init() {
	nextSpawnedPID.Store(1000)
}

// DefaultStackPages is the stack size used when a spawn request does
// not specify one: 16 pages (64 KiB), matching scenario S1/S5.
const DefaultStackPages = 16

// WaitResult is the status layout for WAIT: the simplest shape that
// distinguishes "not yet exited" from "exited with code N", since the
// core specification leaves this unspecified and signal/job-control
// semantics are out of scope.
type WaitResult struct {
	PID      int32
	ExitCode int32
	Ok       bool
}

// Process is one running (simulated) user process: its address
// space, open-file table, working directory, and accounting.
type Process struct {
	PID   int32
	mgr   *pmm.Manager
	VMM   *vmm.VMM
	Cwd   *fd.Cwd
	Vfs   *vfs.Vfs
	Acc   *accnt.Accnt
	Entry uint64
	Stack vmm.StackMapping
	Argv  []string

	mu       sync.Mutex
	files    map[int]*fd.Handle
	nextFD   int
	exited   bool
	exitCode int32
	children []*Process
}

// AddChild records child as a direct descendant of p, for WAIT.
func (p *Process) AddChild(child *Process) {
	p.mu.Lock()
	p.children = append(p.children, child)
	p.mu.Unlock()
}

// reapChild scans children for the first exited one matching wantPID
// (0 meaning any child), removing it from the list and returning its
// status. The second return is false if no matching exited child
// exists yet.
func (p *Process) reapChild(wantPID int32) (WaitResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.children {
		if wantPID != 0 && c.PID != wantPID {
			continue
		}
		st := c.WaitStatus()
		if !st.Ok {
			continue
		}
		p.children = append(p.children[:i], p.children[i+1:]...)
		return st, true
	}
	return WaitResult{}, false
}

// Spawn builds a fresh address space for elfBytes, loads its PT_LOAD
// segments (a PIE image is relocated to VirtUserCode; a static image
// goes at its own virtual addresses), maps a stack of stackPages pages (0 means
// DefaultStackPages), and returns the ready-to-run process plus its
// computed entry point.
func Spawn(mgr *pmm.Manager, v *vfs.Vfs, pid int32, elfBytes []byte, stackPages uint64) (*Process, error) {
	pt, err := paging.New(mgr)
	if err != nil {
		return nil, fmt.Errorf("new page table: %w", err)
	}
	vm := vmm.New(mgr, pt)

	entry, err := elfload.LoadSegments(mgr, pt, elfBytes, memlayout.VirtUserCode)
	if err != nil {
		pt.Destroy()
		return nil, fmt.Errorf("load segments: %w", err)
	}

	if stackPages == 0 {
		stackPages = DefaultStackPages
	}
	sm, err := vm.MapUserStack(stackPages)
	if err != nil {
		pt.Destroy()
		return nil, fmt.Errorf("map stack: %w", err)
	}

	p := &Process{
		PID:    pid,
		mgr:    mgr,
		VMM:    vm,
		Cwd:    fd.MkRootCwd(),
		Vfs:    v,
		Acc:    accnt.New(time.Time{}),
		Entry:  entry,
		Stack:  sm,
		files:  make(map[int]*fd.Handle),
		nextFD: 3, // 0, 1, 2 are reserved for stdin, stdout, stderr
	}
	return p, nil
}

// SpawnChild is Spawn followed by registering the new process as
// parent's child, so a later WAIT from parent can reap it.
func SpawnChild(parent *Process, mgr *pmm.Manager, v *vfs.Vfs, pid int32, elfBytes []byte, stackPages uint64) (*Process, error) {
	child, err := Spawn(mgr, v, pid, elfBytes, stackPages)
	if err != nil {
		return nil, err
	}
	parent.AddChild(child)
	return child, nil
}

// execImage discards p's current address space and replaces it with a
// freshly loaded elfBytes, keeping the same PID and open-file table —
// the POSIX exec semantics EXEC implements.
func (p *Process) execImage(elfBytes []byte, argv []string) error {
	pt, err := paging.New(p.mgr)
	if err != nil {
		return fmt.Errorf("new page table: %w", err)
	}
	vm := vmm.New(p.mgr, pt)

	entry, err := elfload.LoadSegments(p.mgr, pt, elfBytes, memlayout.VirtUserCode)
	if err != nil {
		pt.Destroy()
		return fmt.Errorf("load segments: %w", err)
	}
	sm, err := vm.MapUserStack(DefaultStackPages)
	if err != nil {
		pt.Destroy()
		return fmt.Errorf("map stack: %w", err)
	}

	old := p.VMM
	p.VMM = vm
	p.Entry = entry
	p.Stack = sm
	p.Argv = argv
	old.Destroy()
	return nil
}

// readFile reads a path's entire contents through v.
func readFile(v *vfs.Vfs, path string) ([]byte, error) {
	st, err := v.Stat(path)
	if err != nil {
		return nil, err
	}
	h, err := v.Open(path, fd.Read)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	buf := make([]byte, st.Size)
	if _, err := h.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// parseArgv splits a NUL-separated argument blob copied in from user
// memory into individual strings, dropping any trailing empty entry
// left by a terminating NUL.
func parseArgv(blob []byte) []string {
	if len(blob) == 0 {
		return nil
	}
	parts := strings.Split(string(blob), "\x00")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// Exit tears down the process's address space and records its exit
// code for a later WAIT.
func (p *Process) Exit(code int32) {
	p.mu.Lock()
	p.exited = true
	p.exitCode = code
	p.mu.Unlock()
	p.VMM.Destroy()
}

// WaitStatus reports whether the process has exited and its code.
func (p *Process) WaitStatus() WaitResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return WaitResult{PID: p.PID, ExitCode: p.exitCode, Ok: p.exited}
}

// addFile installs h at the next descriptor number and returns it.
// Numbers of closed descriptors are not reused.
func (p *Process) addFile(h *fd.Handle) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.nextFD
	p.nextFD++
	p.files[n] = h
	return n
}

func (p *Process) getFile(n int) (*fd.Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.files[n]
	return h, ok
}

func (p *Process) removeFile(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.files, n)
}

// CopyOut writes data into the process's user address space starting
// at virt, page by page through the PMM's backing storage. Every
// touched page must already be validly mapped.
func (p *Process) CopyOut(virt uint64, data []byte) error {
	for len(data) > 0 {
		if !p.VMM.IsValidUserAddr(virt) {
			return kerrors.ErrBadAddress
		}
		phys, _ := p.VMM.PageTable().Lookup(virt)
		pageOff := virt % memlayout.PageSize
		pageBuf := p.mgr.PageBytes(memlayout.PageAlignDown(phys))
		n := copy(pageBuf[pageOff:], data)
		data = data[n:]
		virt += uint64(n)
	}
	return nil
}

// CopyIn reads length bytes from the process's user address space
// starting at virt.
func (p *Process) CopyIn(virt uint64, length uint64) ([]byte, error) {
	out := make([]byte, 0, length)
	for uint64(len(out)) < length {
		if !p.VMM.IsValidUserAddr(virt) {
			return nil, kerrors.ErrBadAddress
		}
		phys, _ := p.VMM.PageTable().Lookup(virt)
		pageOff := virt % memlayout.PageSize
		pageBuf := p.mgr.PageBytes(memlayout.PageAlignDown(phys))
		want := length - uint64(len(out))
		avail := memlayout.PageSize - pageOff
		n := want
		if avail < n {
			n = avail
		}
		out = append(out, pageBuf[pageOff:pageOff+n]...)
		virt += n
	}
	return out, nil
}

// IsValidUserRange reports whether every page in [addr, addr+length)
// is mapped, satisfying syscallgw.MemoryValidator.
func (p *Process) IsValidUserRange(addr, length uint64) bool {
	if length == 0 {
		return p.VMM.IsValidUserAddr(addr)
	}
	start := memlayout.PageAlignDown(addr)
	end := memlayout.PageAlignUp(addr + length)
	for v := start; v < end; v += memlayout.PageSize {
		if !p.VMM.IsValidUserAddr(v) {
			return false
		}
	}
	return true
}

// formatDirEntry renders one directory entry in the canonical
// "TYPE NAME SIZE\n" wire format.
func formatDirEntry(e vfs.DirEntry) string {
	return fmt.Sprintf("%d %s %d\n", e.Kind, e.Name, e.Size)
}

// RegisterHandlers binds the filesystem- and process-facing syscalls
// to gw, dispatching against *Process as the handler context.
func RegisterHandlers(gw *syscallgw.Gateway) {
	gw.Register(syscallno.Open, func(ctx any, f *syscallgw.Frame) (uint64, error) {
		p := ctx.(*Process)
		pathLen := f.Args[1]
		path, err := p.CopyIn(f.Args[0], pathLen)
		if err != nil {
			return 0, err
		}
		h, err := p.Vfs.Open(string(path), int(f.Args[2]))
		if err != nil {
			return 0, err
		}
		n := p.addFile(&fd.Handle{Ops: h, Perms: int(f.Args[2])})
		return uint64(n), nil
	})

	gw.Register(syscallno.Close, func(ctx any, f *syscallgw.Frame) (uint64, error) {
		p := ctx.(*Process)
		n := int(f.Args[0])
		h, ok := p.getFile(n)
		if !ok {
			return 0, kerrors.ErrInvalidArgument
		}
		p.removeFile(n)
		return 0, h.Close()
	})

	gw.Register(syscallno.Read, func(ctx any, f *syscallgw.Frame) (uint64, error) {
		p := ctx.(*Process)
		h, ok := p.getFile(int(f.Args[0]))
		if !ok {
			return 0, kerrors.ErrInvalidArgument
		}
		length := f.Args[2]
		buf := make([]byte, length)
		n, err := h.Ops.Read(buf)
		if err != nil {
			return 0, err
		}
		if err := p.CopyOut(f.Args[1], buf[:n]); err != nil {
			return 0, err
		}
		return uint64(n), nil
	})

	gw.Register(syscallno.Write, func(ctx any, f *syscallgw.Frame) (uint64, error) {
		p := ctx.(*Process)
		h, ok := p.getFile(int(f.Args[0]))
		if !ok {
			return 0, kerrors.ErrInvalidArgument
		}
		data, err := p.CopyIn(f.Args[1], f.Args[2])
		if err != nil {
			return 0, err
		}
		n, err := h.Ops.Write(data)
		return uint64(n), err
	})

	gw.Register(syscallno.Getpid, func(ctx any, f *syscallgw.Frame) (uint64, error) {
		return uint64(ctx.(*Process).PID), nil
	})

	gw.Register(syscallno.Getcwd, func(ctx any, f *syscallgw.Frame) (uint64, error) {
		p := ctx.(*Process)
		path := p.Cwd.Get()
		if err := p.CopyOut(f.Args[0], []byte(path+"\x00")); err != nil {
			return 0, err
		}
		return uint64(len(path)), nil
	})

	gw.Register(syscallno.Chdir, func(ctx any, f *syscallgw.Frame) (uint64, error) {
		p := ctx.(*Process)
		path, err := p.CopyIn(f.Args[0], f.Args[1])
		if err != nil {
			return 0, err
		}
		full := p.Cwd.Fullpath(string(path))
		if _, err := p.Vfs.Stat(full); err != nil {
			return 0, err
		}
		p.Cwd.Chdir(full)
		return 0, nil
	})

	gw.Register(syscallno.Mkdir, func(ctx any, f *syscallgw.Frame) (uint64, error) {
		p := ctx.(*Process)
		path, err := p.CopyIn(f.Args[0], f.Args[1])
		if err != nil {
			return 0, err
		}
		return 0, p.Vfs.Mkdir(p.Cwd.Fullpath(string(path)))
	})

	gw.Register(syscallno.Unlink, func(ctx any, f *syscallgw.Frame) (uint64, error) {
		p := ctx.(*Process)
		path, err := p.CopyIn(f.Args[0], f.Args[1])
		if err != nil {
			return 0, err
		}
		return 0, p.Vfs.Unlink(p.Cwd.Fullpath(string(path)))
	})

	gw.Register(syscallno.Rmdir, func(ctx any, f *syscallgw.Frame) (uint64, error) {
		p := ctx.(*Process)
		path, err := p.CopyIn(f.Args[0], f.Args[1])
		if err != nil {
			return 0, err
		}
		return 0, p.Vfs.Rmdir(p.Cwd.Fullpath(string(path)))
	})

	gw.Register(syscallno.Stat, func(ctx any, f *syscallgw.Frame) (uint64, error) {
		p := ctx.(*Process)
		pathBytes, err := p.CopyIn(f.Args[0], f.Args[1])
		if err != nil {
			return 0, err
		}
		st, err := p.Vfs.Stat(p.Cwd.Fullpath(string(pathBytes)))
		if err != nil {
			return 0, err
		}
		return uint64(st.Size), nil
	})

	gw.Register(syscallno.Readdir, func(ctx any, f *syscallgw.Frame) (uint64, error) {
		p := ctx.(*Process)
		pathBytes, err := p.CopyIn(f.Args[0], f.Args[1])
		if err != nil {
			return 0, err
		}
		entries, err := p.Vfs.Readdir(p.Cwd.Fullpath(string(pathBytes)))
		if err != nil {
			return 0, err
		}
		var wire string
		for _, e := range entries {
			wire += formatDirEntry(e)
		}
		if err := p.CopyOut(f.Args[2], []byte(wire)); err != nil {
			return 0, err
		}
		return uint64(len(wire)), nil
	})

	gw.Register(syscallno.Rename, func(ctx any, f *syscallgw.Frame) (uint64, error) {
		p := ctx.(*Process)
		oldBytes, err := p.CopyIn(f.Args[0], f.Args[1])
		if err != nil {
			return 0, err
		}
		newBytes, err := p.CopyIn(f.Args[2], f.Args[3])
		if err != nil {
			return 0, err
		}
		return 0, p.Vfs.Rename(p.Cwd.Fullpath(string(oldBytes)), p.Cwd.Fullpath(string(newBytes)))
	})

	// Exec replaces the calling process's own address space in place,
	// keeping its PID and open-file table — the caller never returns
	// to its old image on success.
	gw.Register(syscallno.Exec, func(ctx any, f *syscallgw.Frame) (uint64, error) {
		p := ctx.(*Process)
		pathBytes, err := p.CopyIn(f.Args[0], f.Args[1])
		if err != nil {
			return 0, err
		}
		argvBytes, err := p.CopyIn(f.Args[2], f.Args[3])
		if err != nil {
			return 0, err
		}
		elfBytes, err := readFile(p.Vfs, p.Cwd.Fullpath(string(pathBytes)))
		if err != nil {
			return 0, err
		}
		if err := p.execImage(elfBytes, parseArgv(argvBytes)); err != nil {
			return 0, err
		}
		return 0, nil
	})

	// Spawn creates a new child process running a different image,
	// distinct from Exec, which replaces the caller's own image.
	gw.Register(syscallno.Spawn, func(ctx any, f *syscallgw.Frame) (uint64, error) {
		p := ctx.(*Process)
		pathBytes, err := p.CopyIn(f.Args[0], f.Args[1])
		if err != nil {
			return 0, err
		}
		argvBytes, err := p.CopyIn(f.Args[2], f.Args[3])
		if err != nil {
			return 0, err
		}
		elfBytes, err := readFile(p.Vfs, p.Cwd.Fullpath(string(pathBytes)))
		if err != nil {
			return 0, err
		}
		pid := nextSpawnedPID.Add(1)
		child, err := SpawnChild(p, p.mgr, p.Vfs, pid, elfBytes, 0)
		if err != nil {
			return 0, err
		}
		child.Argv = parseArgv(argvBytes)
		return uint64(uint32(pid)), nil
	})

	// Getargs copies the calling process's argv, NUL-separated, into
	// the caller-supplied buffer and returns its byte length.
	gw.Register(syscallno.Getargs, func(ctx any, f *syscallgw.Frame) (uint64, error) {
		p := ctx.(*Process)
		wire := strings.Join(p.Argv, "\x00")
		if len(p.Argv) > 0 {
			wire += "\x00"
		}
		if err := p.CopyOut(f.Args[0], []byte(wire)); err != nil {
			return 0, err
		}
		return uint64(len(wire)), nil
	})

	gw.Register(syscallno.Exit, func(ctx any, f *syscallgw.Frame) (uint64, error) {
		ctx.(*Process).Exit(int32(f.Args[0]))
		return 0, nil
	})

	gw.Register(syscallno.Getdate, func(ctx any, f *syscallgw.Frame) (uint64, error) {
		return uint64(time.Now().Unix()), nil
	})

	// Wait reaps the first already-exited child matching Args[0] (0 for
	// any child). It does not block: a caller that needs to wait for a
	// still-running child must retry, since this kernel models no
	// scheduler to suspend the caller on.
	gw.Register(syscallno.Wait, func(ctx any, f *syscallgw.Frame) (uint64, error) {
		p := ctx.(*Process)
		st, ok := p.reapChild(int32(f.Args[0]))
		if !ok {
			return 0, kerrors.ErrNotFound
		}
		return uint64(uint32(st.PID)) | uint64(uint32(st.ExitCode))<<32, nil
	})
}
