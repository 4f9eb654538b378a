package cothread

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID extracts the numeric id runtime.Stack prints at the head of a
// goroutine's own trace. Go gives no portable, supported way to ask "which
// goroutine am I" (https://golang.org/doc/faq#no_goroutine_id is a FAQ
// entry, not an accident), so this library uses the same pragmatic trick
// several goroutine-local-storage packages in the wider ecosystem do.
//
// This stands in for the OS thread identity a real pthread-based TLS
// variable would give the C library: combined with the requirement that
// callers pin the goroutine with runtime.LockOSThread before calling
// init_thread, a goroutine id is 1:1 with an OS thread for as long as the
// lock is held, which is the whole lifetime init_thread/terminate_thread
// bound. Grounded in the same spirit as the teacher's direct manipulation
// of runtime internals (src/mazboot/golang/main/runtime_stub.go patches
// TPIDR_EL0/EL1 reads by hand); this is the supported-API equivalent.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(b[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
