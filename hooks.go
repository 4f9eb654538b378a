package cothread

// Hooks are the embedder's window into a switch, per §4.6. All three are
// optional; a nil hook is simply skipped. They run on the outgoing/incoming
// coroutine's own stack and must not themselves call Switch.
type Hooks struct {
	// Pre runs on the outgoing coroutine just before the context switch, so
	// the embedder can snapshot host state that must follow it (interpreter
	// top frame, recursion depth, pending-exception chain).
	Pre func(this *Coroutine)
	// Post runs on the incoming coroutine just after control returns to it,
	// restoring whatever Pre last snapshotted for it.
	Post func(this *Coroutine)
	// Reset runs once, on a coroutine's first entry, in place of Post —
	// host-thread-local state starts clean (no top frame, zero recursion
	// depth, no pending exception) rather than inheriting a snapshot.
	Reset func(this *Coroutine)
}

var hooks Hooks

// SetHooks installs the embedder's pre/post/reset callbacks (§6). Passing
// the zero Hooks removes them.
func SetHooks(h Hooks) {
	hooks = h
}
