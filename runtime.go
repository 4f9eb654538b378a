// Package cothread is a user-space symmetric coroutine runtime: many
// lightweight, cooperatively-scheduled coroutines sharing one locked OS
// thread, switched by explicit register-level stack swaps rather than by
// the Go scheduler. See SPEC_FULL.md for the full design; this file is the
// L4 runtime facade (§4.5).
package cothread

import (
	"log"
	"os"
	"sync"

	"github.com/DiamondLightSource/cothread/internal/lowlevel"
)

// Logger is where the runtime reports stack free events (with the
// high-water mark, for stacks created with the check pattern) and
// shared-stack fallback notices. Overridable by embedders, the same way the
// teacher's bare-metal code routes everything through one uartPuts-style
// sink rather than a structured logging dependency it never had a use for
// (see DESIGN.md).
var Logger = log.New(os.Stderr, "cothread: ", log.LstdFlags)

// Thread holds the per-OS-thread state §3 and §4.5 describe: the implicit
// base coroutine, the currently running coroutine, and the shared-stack
// switcher. Callers that want the implicit current()/Check() behaviour must
// call runtime.LockOSThread() before InitThread — see SPEC_FULL.md's
// Threading model section for why.
type Thread struct {
	id       uint64
	base     *Coroutine
	switcher *Coroutine
	current  *Coroutine
}

var (
	threadsMu sync.Mutex
	threads  = map[uint64]*Thread{}
)

// InitThread performs the one-time per-thread setup §4.5 describes:
// constructs the base coroutine wrapping the calling goroutine's own stack,
// and allocates the shared-stack switcher. Idempotent: calling it again on
// a thread that already has state returns the existing base coroutine.
func InitThread() *Coroutine {
	id := goroutineID()

	threadsMu.Lock()
	if t, ok := threads[id]; ok {
		threadsMu.Unlock()
		return t.base
	}
	t := &Thread{id: id}
	threads[id] = t
	threadsMu.Unlock()

	t.base = &Coroutine{thread: t, stack: newBaseStack()}
	t.base.stack.current = t.base
	t.base.setState(stateRunning)
	t.current = t.base

	t.switcher = newSwitcher(t)

	return t.base
}

// currentThread returns the calling goroutine's Thread, running InitThread
// implicitly on first use (§6: current() "implicit init_thread on first
// use").
func currentThread() *Thread {
	id := goroutineID()
	threadsMu.Lock()
	t, ok := threads[id]
	threadsMu.Unlock()
	if ok {
		return t
	}
	InitThread()
	threadsMu.Lock()
	t = threads[id]
	threadsMu.Unlock()
	return t
}

// Current returns the thread's running coroutine.
func Current() *Coroutine {
	return currentThread().current
}

func (t *Thread) setCurrent(co *Coroutine) { t.current = co }

// TerminateThread frees per-thread state. Must be called from the base
// coroutine with no other live coroutines on this thread (§4.5); violating
// that is a programming error the runtime does not attempt to detect
// cheaply, matching the original library's documented precondition rather
// than an invented runtime check.
func TerminateThread() {
	id := goroutineID()
	threadsMu.Lock()
	defer threadsMu.Unlock()
	t, ok := threads[id]
	if !ok {
		return
	}
	t.switcher.stack.release()
	delete(threads, id)
}

// StackUse reports (current_use, max_use, stack_size) for target, per §4.5.
// max_use is -1 when the check pattern was not enabled at creation (it is
// "unknown", represented as a negative sentinel since byte counts are
// otherwise non-negative).
func StackUse(target *Coroutine) (currentUse, maxUse int64, stackSize int64) {
	s := target.stack
	stackSize = int64(s.size)

	var addr uintptr
	if target == Current() {
		// target is the coroutine making this very call: its live stack
		// pointer, not its (stale) last-saved frame, is the true position.
		addr = lowlevel.GetFrame().Addr()
	} else {
		addr = target.frame.Addr()
	}
	if addr != 0 && addr <= s.base {
		currentUse = int64(s.base - addr)
	}

	maxUse = -1
	if s.checked {
		maxUse = int64(s.highWater())
		if currentUse > maxUse {
			// The running coroutine's own live frame always counts.
			maxUse = currentUse
		}
	}
	return
}
