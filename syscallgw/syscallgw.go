// Package syscallgw is the system-call gateway: the single dispatch
// point binding a System-Call Frame captured at the interrupt gate to
// a handler keyed by the numbers in syscallno. It encodes each
// handler's result per that call number's fixed error-reporting
// convention; validating user-memory pointer arguments is left to the
// handlers.
package syscallgw

import (
	"errors"

	"github.com/chris17453/watos-sub001/kerrors"
	"github.com/chris17453/watos-sub001/syscallno"
)

// Frame is a snapshot of user registers captured at interrupt 0x80:
// the call number, up to four arguments, the return slot, and the
// user instruction/stack pointers to restore on exit.
type Frame struct {
	Num       uint64
	Args      [4]uint64
	Ret       uint64
	UserRIP   uint64
	UserRSP   uint64
}

// MemoryValidator checks whether a user-memory range is entirely
// mapped, so handlers never touch unmapped or out-of-range pointers.
type MemoryValidator interface {
	IsValidUserRange(addr, length uint64) bool
}

// Handler services one call number against a Frame and a process
// context, returning the raw (non-negative) result or an error.
type Handler func(ctx any, f *Frame) (uint64, error)

// Gateway owns the dispatch table.
type Gateway struct {
	handlers map[uint64]Handler
}

// New returns an empty Gateway; callers register handlers with
// Register before Dispatch is used.
func New() *Gateway {
	return &Gateway{handlers: make(map[uint64]Handler)}
}

// Register binds num to handler. Re-registering an existing number
// replaces it; renumbering the *meaning* behind a stable number is an
// ABI break that belongs in syscallno, not here.
func (g *Gateway) Register(num uint64, h Handler) {
	g.handlers[num] = h
}

// errNotImplemented is returned for an unregistered call number.
var errNotImplemented = kerrors.ErrNotSupported

// Dispatch routes f to its handler and encodes the result using that
// number's fixed convention from syscallno.Encoding. The gateway
// itself only performs the not-implemented check — per-argument range
// validation (e.g. through a MemoryValidator) is the
// handler's responsibility since only it knows which args are
// pointers and how long each range is.
func (g *Gateway) Dispatch(ctx any, f *Frame) uint64 {
	h, ok := g.handlers[f.Num]
	if !ok {
		return encodeError(f.Num, errNotImplemented)
	}
	ret, err := h(ctx, f)
	if err != nil {
		return encodeError(f.Num, err)
	}
	return ret
}

// BadAddress is the sentinel handlers return when a declared
// user-memory range fails validation.
var BadAddress = kerrors.ErrBadAddress

const errorThreshold = uint64(1) << 32

// encodeError applies the call number's fixed error-encoding
// convention: values at or above 1<<32 for threshold-style calls, or
// the signed-negative (-1 as uint64, i.e. all-ones) representation
// for handle-disposing calls.
func encodeError(num uint64, err error) uint64 {
	switch syscallno.Encoding(num) {
	case syscallno.EncThreshold:
		return errorThreshold | uint64(errorCode(err))
	default:
		return ^uint64(0) // -1 as int64
	}
}

// errorCode maps a kerrors sentinel to a small stable integer carried
// in the low bits of a threshold-encoded error return. Uses errors.Is
// rather than a direct comparison so a sentinel wrapped with
// fmt.Errorf("%w", ...) — as elfload and paging do — still maps to its
// proper code instead of falling to the default.
func errorCode(err error) uint32 {
	switch {
	case errors.Is(err, kerrors.ErrNotFound):
		return 1
	case errors.Is(err, kerrors.ErrAlreadyExists):
		return 2
	case errors.Is(err, kerrors.ErrNotMounted):
		return 3
	case errors.Is(err, kerrors.ErrAlreadyMounted):
		return 4
	case errors.Is(err, kerrors.ErrCrossDevice):
		return 5
	case errors.Is(err, kerrors.ErrIsADirectory):
		return 6
	case errors.Is(err, kerrors.ErrNotADirectory):
		return 7
	case errors.Is(err, kerrors.ErrReadOnly):
		return 8
	case errors.Is(err, kerrors.ErrPermissionDenied):
		return 9
	case errors.Is(err, kerrors.ErrInvalidArgument):
		return 10
	case errors.Is(err, kerrors.ErrNotSupported):
		return 11
	case errors.Is(err, kerrors.ErrIO):
		return 12
	case errors.Is(err, kerrors.ErrNotInitialized):
		return 13
	case errors.Is(err, kerrors.ErrTooManyOpenFiles):
		return 14
	case errors.Is(err, kerrors.ErrOutOfMemory):
		return 15
	case errors.Is(err, kerrors.ErrBadAddress):
		return 16
	case errors.Is(err, kerrors.ErrInvalidState):
		return 17
	default:
		return 255
	}
}
