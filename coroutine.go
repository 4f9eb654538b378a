package cothread

import (
	"unsafe"

	"github.com/DiamondLightSource/cothread/internal/lowlevel"
)

// state is the per-coroutine lifecycle position, §4.7.
type state int32

const (
	stateFresh state = iota
	stateRunning
	stateSaved
	stateDefunct
	stateReleased
)

// Action is the entry body of a coroutine: it receives the byte context
// copied in at creation and the first switch's argument, and returns the
// value delivered to its parent on exit.
type Action func(ctx []byte, arg uintptr) uintptr

// Coroutine is a suspendable activity with its own saved machine context
// and Stack mapping (§3).
type Coroutine struct {
	frame  lowlevel.Frame
	stack  *Stack
	thread *Thread

	action Action
	ctx    []byte

	parent  *Coroutine
	defunct *Coroutine // a peer this coroutine must reclaim on its next wake

	// shared-stack image, populated only when stack is shared (§4.4)
	savedImage  []byte
	savedLength uintptr

	st int32 // atomic-ish state, see stateFresh..stateReleased; only ever
	// touched by the thread that owns this coroutine, so a plain int32
	// suffices (§5: no locking inside the runtime).
}

// CreateOptions configures Create; the zero value selects a dedicated stack
// of DefaultStackSize with no guard pages and no check pattern.
type CreateOptions struct {
	ShareWith  *Coroutine // attach to this coroutine's stack instead of allocating
	StackSize  uintptr
	CheckStack bool
	GuardPages int
}

// DefaultStackSize matches common small-coroutine usage; callers needing
// more request it explicitly.
const DefaultStackSize = 256 * 1024

// Create makes a new coroutine belonging to parent's thread, per §4.3.
// parent receives control and the action's result when it exits. Allocation
// failure aborts the process (§4.8, §7 ALLOCATION_EXHAUSTED); it is never
// returned as an error.
func Create(parent *Coroutine, action Action, ctx []byte, opts CreateOptions) *Coroutine {
	co := &Coroutine{
		action: action,
		parent: parent,
		thread: parent.thread,
	}
	if len(ctx) > 0 {
		co.ctx = append([]byte(nil), ctx...)
	}

	if opts.ShareWith != nil {
		co.createShared(opts.ShareWith)
	} else {
		size := opts.StackSize
		if size == 0 {
			size = DefaultStackSize
		}
		co.stack = newStack(size, opts.GuardPages, opts.CheckStack)
		co.frame = lowlevel.CreateFrame(co.stack.base, unsafe.Pointer(co))
		co.stack.current = co
	}

	co.setState(stateFresh)
	return co
}

func (co *Coroutine) setState(s state) { co.st = int32(s) }
func (co *Coroutine) getState() state  { return state(co.st) }

// createShared attaches co to target's Stack. On an architecture with real
// register-level switching this builds the initial saved image in a
// temporary heap buffer and records the address-relative frame pointer it
// will have once restored (§4.3/§4.4) — it never touches the live stack
// memory, which may currently belong to some other coroutine. On the
// generic (goroutine-based) backend, sharing has no real memory to economize
// and is not supported; co falls back to a dedicated allocation of
// DefaultStackSize, and each such fallback is logged via Logger.
func (co *Coroutine) createShared(target *Coroutine) {
	if !lowlevel.SharedStackSupported {
		Logger.Printf("cothread: shared stacks are not supported on this GOARCH; %p will use a dedicated stack", co)
		co.stack = newStack(DefaultStackSize, 0, false)
		co.frame = lowlevel.CreateFrame(co.stack.base, unsafe.Pointer(co))
		co.stack.current = co
		return
	}

	s := target.stack
	s.attach()
	co.stack = s

	size := lowlevel.FrameImageSize()
	img := make([]byte, size)
	lowlevel.FillFrameImage(img, unsafe.Pointer(co))

	addr := (s.base - size) &^ 0xF
	co.frame = lowlevel.Frame(addr)
	co.growSavedImage(size)
	copy(co.savedImage, img)
	co.savedLength = size
}

// growSavedImage ensures the saved-image buffer can hold at least n bytes,
// rounding growth up to 4 KiB per §4.4.
func (co *Coroutine) growSavedImage(n uintptr) {
	if uintptr(len(co.savedImage)) >= n {
		return
	}
	const round = 4096
	newLen := ((n + round - 1) / round) * round
	co.savedImage = make([]byte, newLen)
}

// Check reports whether co belongs to the calling thread. §4.3, §6.
func Check(co *Coroutine) bool {
	return co != nil && co.thread == currentThread()
}

// Switch transfers control to target, carrying arg, and returns the value
// target later passes back via its own Switch into this coroutine (§4.3,
// §6). Switching to a coroutine belonging to another thread refuses with
// ErrForeignCoroutine and changes no state; switching to a defunct or
// released coroutine refuses with ErrUseAfterExit on a best-effort basis.
func (this *Coroutine) Switch(target *Coroutine, arg uintptr) (uintptr, error) {
	if target.thread != this.thread {
		return 0, &Error{Kind: ErrForeignCoroutine, Co: target}
	}
	if s := target.getState(); s == stateDefunct || s == stateReleased {
		return 0, &Error{Kind: ErrUseAfterExit, Co: target}
	}

	if hooks.Pre != nil {
		hooks.Pre(this)
	}

	this.setState(stateSaved)
	target.setState(stateRunning)

	var result uintptr
	switch {
	case target.stack.current == target:
		// Already resident on its stack; no copy needed either way.
		result = lowlevel.SwitchFrame(&this.frame, target.frame, arg)
	case this.stack == target.stack:
		// Overlapping: must go through the dedicated switcher to avoid
		// the self-overwrite hazard (§4.4).
		result = switchShared(this, target, arg)
	default:
		// Non-overlapping: this may safely perform the copy itself.
		if prev := target.stack.current; prev != nil {
			saveLive(prev)
		}
		restoreLive(target)
		result = lowlevel.SwitchFrame(&this.frame, target.frame, arg)
	}

	this.setState(stateRunning)
	this.thread.setCurrent(this)

	if hooks.Post != nil {
		hooks.Post(this)
	}

	if this.defunct != nil {
		d := this.defunct
		this.defunct = nil
		d.releaseStorage()
	}

	return result, nil
}

// releaseStorage decrements the stack's reference count, freeing it once
// the last mapped coroutine is gone, and marks co released. Never called by
// co itself — always by the peer that next receives control from it (§4.3).
func (co *Coroutine) releaseStorage() {
	co.stack.release()
	co.setState(stateReleased)
}

// trampolineEntry is installed once as the lowlevel entry point (see this
// package's init below). It runs the action, hands co to its parent's
// defunct slot, and performs the final switch. Control never returns here;
// if the low-level switch somehow did return, that is an ABI violation
// (§4.8, §7).
func trampolineEntry(arg uintptr, coPtr unsafe.Pointer) {
	co := (*Coroutine)(coPtr)

	if hooks.Reset != nil {
		hooks.Reset(co)
	}
	co.thread.setCurrent(co)
	co.setState(stateRunning)
	co.stack.current = co

	result := co.action(co.ctx, arg)

	co.setState(stateDefunct)
	co.parent.defunct = co
	switchToParentOnExit(co, result)

	abortf("action returned through the low-level switch")
}

// switchToParentOnExit performs the final, one-way switch out of an exiting
// coroutine. co never runs again, so unlike Switch it does not need to
// observe a defunct peer of its own on return.
func switchToParentOnExit(co *Coroutine, result uintptr) {
	parent := co.parent
	if hooks.Pre != nil {
		hooks.Pre(co)
	}
	switch {
	case parent.stack.current == parent:
		lowlevel.SwitchFrame(&co.frame, parent.frame, result)
	case co.stack == parent.stack:
		switchShared(co, parent, result)
	default:
		if prev := parent.stack.current; prev != nil {
			saveLive(prev)
		}
		restoreLive(parent)
		lowlevel.SwitchFrame(&co.frame, parent.frame, result)
	}
}

func init() {
	lowlevel.SetEntry(trampolineEntry)
}
