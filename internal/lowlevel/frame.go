// Package lowlevel is the L0 frame primitive: architecture-specific saved
// register images and the raw stack switch. It is a contract, not an
// algorithm — every GOARCH implements the same three operations and the same
// fabricated-frame layout so that the rest of the runtime never needs to
// know which one is active.
package lowlevel

import "unsafe"

// Frame is an opaque stack address: a location in some stack where a
// callee-saved register image has been pushed. The zero Frame is never
// valid.
type Frame uintptr

// Addr exposes the raw address for arithmetic the shared-stack switcher and
// high-water accounting need. On the generic fallback backend a Frame is an
// opaque registry id, not a real address; callers must not do pointer
// arithmetic on it there (guarded by build tag throughout this package).
func (f Frame) Addr() uintptr { return uintptr(f) }

// InitialFrameSize bounds the saved-register image CreateFrame produces.
// Callers build the image in a separate buffer of FrameImageSize() bytes and
// relocate it byte-for-byte onto the target stack.
const InitialFrameSize = 512

// Entry is invoked by the architecture trampoline the first time a freshly
// created frame is switched into. co is an opaque payload pointer (in
// practice a *cothread.Coroutine) carried through the fabricated frame; arg
// is the value passed to the Switch call that activated it. Entry must never
// return — the trampoline traps if it does.
type Entry func(arg uintptr, co unsafe.Pointer)

// entryFunc is the single fixed entry point every architecture trampoline
// calls back into. It is set once by cothread's init via SetEntry, keeping
// this package free of a dependency on the coroutine package.
var entryFunc Entry

// SetEntry installs the Go-level entry point used by every architecture's
// trampoline. Must be called exactly once, before any CreateFrame.
func SetEntry(e Entry) { entryFunc = e }

//go:nosplit
func dispatchEntry(arg uintptr, co unsafe.Pointer) {
	entryFunc(arg, co)
}
