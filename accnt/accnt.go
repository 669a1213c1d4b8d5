// Package accnt tracks per-process CPU time accounting: user and
// system nanoseconds consumed, with helpers to convert into a
// POSIX-style rusage snapshot.
package accnt

import (
	"sync"
	"time"
)

// Accnt accumulates a process's user and system time.
type Accnt struct {
	mu      sync.Mutex
	Userns  int64
	Sysns   int64
	started time.Time
}

// New returns a fresh accounting record starting now.
func New(now time.Time) *Accnt {
	return &Accnt{started: now}
}

// Utadd adds d nanoseconds of user time.
func (a *Accnt) Utadd(d int64) {
	a.mu.Lock()
	a.Userns += d
	a.mu.Unlock()
}

// Systadd adds d nanoseconds of system time.
func (a *Accnt) Systadd(d int64) {
	a.mu.Lock()
	a.Sysns += d
	a.mu.Unlock()
}

// Fetch returns a consistent (user, system) snapshot.
func (a *Accnt) Fetch() (userns, sysns int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Userns, a.Sysns
}

// Add merges another process's accounting into this one (used when a
// parent collects a reaped child's totals).
func (a *Accnt) Add(other *Accnt) {
	ou, os := other.Fetch()
	a.mu.Lock()
	a.Userns += ou
	a.Sysns += os
	a.mu.Unlock()
}

// Rusage is the subset of resource usage this kernel tracks.
type Rusage struct {
	UserTime   time.Duration
	SystemTime time.Duration
}

// ToRusage converts the accumulated nanosecond counters to a Rusage.
func (a *Accnt) ToRusage() Rusage {
	u, s := a.Fetch()
	return Rusage{UserTime: time.Duration(u), SystemTime: time.Duration(s)}
}
