// Package klog is the kernel's single debug-channel logger. Kernel
// messages never reach a user-visible stream; they go here only.
package klog

import (
	"io"
	"log"
	"os"
	"sync"
)

var (
	mu  sync.Mutex
	out = log.New(os.Stderr, "watos: ", log.LstdFlags)
)

// SetOutput redirects the debug channel, primarily for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out.SetOutput(w)
}

func Printf(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	out.Printf(format, args...)
}

// Crash logs a diagnostic and halts the process. Reserved for internal
// invariant violations (a corrupted page-table frame, a torn bitmap),
// never for user-triggerable conditions.
func Crash(format string, args ...any) {
	mu.Lock()
	out.Printf("FATAL: "+format, args...)
	mu.Unlock()
	panic("kernel halt: " + format)
}
