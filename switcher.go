package cothread

import (
	"unsafe"

	"github.com/DiamondLightSource/cothread/internal/lowlevel"
)

// switcherStackSize is the dedicated, private stack the per-thread switcher
// coroutine runs on — small because it only ever copies bytes and switches,
// never recurses deeply (§4.4).
const switcherStackSize = 4096

// switchRequest is the action record built on the caller's own (about to be
// saved) stack and handed to the switcher by address.
type switchRequest struct {
	arg    uintptr
	target *Coroutine
}

// newSwitcher builds the thread's dedicated switcher coroutine: a private
// 4 KiB stack holding a loop that performs the shared-stack save/restore
// copy and then jumps on to the real target. It is not linked into the
// parent/defunct protocol — it never exits.
func newSwitcher(t *Thread) *Coroutine {
	sw := &Coroutine{thread: t}
	sw.stack = newStack(switcherStackSize, 0, false)
	sw.action = func(ctx []byte, arg uintptr) uintptr {
		t.switcherLoop(arg)
		return 0 // unreachable: switcherLoop never returns
	}
	sw.frame = lowlevel.CreateFrame(sw.stack.base, unsafe.Pointer(sw))
	sw.stack.current = sw
	return sw
}

// switcherLoop runs on the switcher's own stack, disjoint from every client
// stack (§4.4 correctness condition i). arg is, each time through the loop,
// the address of a switchRequest living on whichever coroutine just called
// switchShared.
func (t *Thread) switcherLoop(arg uintptr) {
	for {
		req := (*switchRequest)(unsafe.Pointer(arg))

		// Copy the payload into locals before the save/restore below can
		// overwrite the memory req points into. This is the compiler-fence
		// moment §4.4 condition (ii) calls for; in Go, reading into plain
		// locals ahead of any further memory traffic on that address
		// already gives the needed ordering — there is no concurrent
		// access to race against (§5: single active coroutine per thread).
		localArg := req.arg
		localTarget := req.target

		if prev := localTarget.stack.current; prev != nil && prev != localTarget {
			saveLive(prev)
		}
		restoreLive(localTarget)

		arg = lowlevel.SwitchFrame(&t.switcher.frame, localTarget.frame, localArg)
		// Execution resumes here only once some later overlapping switch
		// on this thread targets the switcher's saved frame again, with
		// arg rebound to the address of that switch's switchRequest.
	}
}

// switchShared routes an overlapping-stack switch (this.stack == target.stack)
// through the dedicated switcher coroutine, per §4.4.
func switchShared(this, target *Coroutine, arg uintptr) uintptr {
	req := switchRequest{arg: arg, target: target}
	return lowlevel.SwitchFrame(&this.frame, this.thread.switcher.frame, uintptr(unsafe.Pointer(&req)))
}

// saveLive copies co's currently-live bytes — [co.frame, co.stack.base) —
// into co's own heap-backed image buffer. Called only from contexts that
// are not themselves running on co's stack (§4.4).
func saveLive(co *Coroutine) {
	base := co.stack.base
	addr := co.frame.Addr()

	var frameSize uintptr
	if addr < base {
		frameSize = base - addr
	}
	// addr >= base means the main-stack high-water drift described in §9:
	// a shared save on the base stack with its frame at or above the
	// recorded base produces a zero-length save, which is the documented
	// limitation.

	co.growSavedImage(frameSize)
	copyFromStack(co.savedImage[:frameSize], addr)
	co.savedLength = frameSize
}

// restoreLive copies co's saved image back onto its stack at its recorded
// frame address and marks co current on that stack.
func restoreLive(co *Coroutine) {
	copyToStack(co.frame.Addr(), co.savedImage[:co.savedLength])
	co.stack.current = co
}

func copyFromStack(dst []byte, srcAddr uintptr) {
	if len(dst) == 0 {
		return
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(srcAddr)), len(dst))
	copy(dst, src)
}

func copyToStack(dstAddr uintptr, src []byte) {
	if len(src) == 0 {
		return
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(dstAddr)), len(src))
	copy(dst, src)
}
