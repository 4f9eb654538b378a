//go:build !amd64 && !arm64

package lowlevel

import "unsafe"

// Generic fallback for architectures without a hand-written switch_*.s. It
// is the Go-idiomatic analogue of the original library's ucontext-based
// fallback ("acceptable but slower"): instead of a per-switch syscall to
// swap a signal mask, a park/unpark round-trip through the Go scheduler
// plays the same role. Every suspension point is a goroutine blocked on a
// freshly made channel; SwitchFrame hands control to the target's channel
// and blocks on a brand-new one of its own until something switches back to
// it. This is correct but considerably slower than the assembly-switch
// architectures, since every switch goes through the Go scheduler rather
// than a handful of register moves.
type genericFrame struct {
	resume chan uintptr
}

var registry = map[Frame]*genericFrame{}
var nextID uintptr = 1

// SharedStackSupported is false here: there is no real memory region to
// share when each Frame is a goroutine with its own Go-managed stack, so
// the coroutine package falls back ShareWith requests to a dedicated
// allocation on this backend (documented limitation, not silently ignored).
const SharedStackSupported = false

func FrameImageSize() uintptr { return 0 }

func FillFrameImage(dst []byte, co unsafe.Pointer) {}

func PlaceFrame(addr uintptr, image []byte) Frame {
	panic("cothread: lowlevel: PlaceFrame is unreachable on the generic backend")
}

func register() (Frame, *genericFrame) {
	gf := &genericFrame{resume: make(chan uintptr)}
	id := Frame(nextID)
	nextID++
	registry[id] = gf
	return id, gf
}

// CreateFrame starts a goroutine parked on a fresh resume channel; the
// first value sent to that channel is delivered to entryFunc as its
// first-switch arg.
func CreateFrame(base uintptr, co unsafe.Pointer) Frame {
	id, gf := register()
	go func() {
		arg := <-gf.resume
		entryFunc(arg, co)
		// entryFunc never returns in practice (it exits via a final
		// SwitchFrame to its parent); if it somehow did, park forever
		// rather than let the goroutine fall off the end undetected.
		select {}
	}()
	return id
}

// SwitchFrame hands control to target and suspends the caller at a newly
// registered frame, written to *saved, until something switches back to it.
func SwitchFrame(saved *Frame, target Frame, arg uintptr) uintptr {
	gf, ok := registry[target]
	if !ok {
		panic("cothread: lowlevel: switch to unknown frame (generic fallback)")
	}
	delete(registry, target)

	mine, mineFrame := register()
	*saved = mine

	gf.resume <- arg
	return <-mineFrame.resume
}

// GetFrame is not meaningful without a register stack pointer; the generic
// fallback reports zero, and callers must treat stack-usage accounting as
// unknown on these architectures (permitted by §4.5: max_use is "unknown"
// when unsupported).
func GetFrame() Frame { return 0 }
