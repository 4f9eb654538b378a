package cothread

import (
	"runtime"
	"testing"
)

func lockedThread(t *testing.T) *Coroutine {
	t.Helper()
	runtime.LockOSThread()
	t.Cleanup(runtime.UnlockOSThread)
	return InitThread()
}

// TestSwitchPingPong exercises spec.md §8 scenario 1: two dedicated-stack
// coroutines interleave a fixed number of turns, each returning the value
// the other handed it, then unwind back to the parent.
func TestSwitchPingPong(t *testing.T) {
	p := lockedThread(t)

	var a, b *Coroutine
	const turnsA, turnsB = 5, 4

	a = Create(p, func(ctx []byte, arg uintptr) uintptr {
		v := arg
		for i := 0; i < turnsA; i++ {
			r, err := Current().Switch(b, v+1)
			if err != nil {
				t.Errorf("a: switch to b: %v", err)
			}
			v = r
		}
		return v
	}, nil, CreateOptions{})

	b = Create(a, func(ctx []byte, arg uintptr) uintptr {
		v := arg
		for i := 0; i < turnsB; i++ {
			r, err := Current().Switch(a, v+1)
			if err != nil {
				t.Errorf("b: switch to a: %v", err)
			}
			v = r
		}
		return v
	}, nil, CreateOptions{})

	result, err := p.Switch(a, 1)
	if err != nil {
		t.Fatalf("p.Switch(a): %v", err)
	}
	// Each turn increments by 1 on both sides; turnsA+turnsB total handoffs
	// plus the seed value of 1.
	want := uintptr(1 + turnsA + turnsB)
	if result != want {
		t.Fatalf("final value = %d, want %d", result, want)
	}
}

// TestSharedStackFanout exercises scenario 2: several coroutines sharing one
// physical stack, round-robined through the dedicated switcher.
func TestSharedStackFanout(t *testing.T) {
	p := lockedThread(t)
	const numPeers = 4
	const turns = 6

	counters := make([]int, numPeers)
	peers := make([]*Coroutine, numPeers)
	for i := range peers {
		idx := i
		action := func(ctx []byte, arg uintptr) uintptr {
			for tn := 0; tn < turns; tn++ {
				counters[idx]++
				next := peers[(idx+1)%numPeers]
				r, err := Current().Switch(next, arg)
				if err != nil {
					t.Errorf("peer %d: switch: %v", idx, err)
				}
				arg = r
			}
			return arg
		}
		if i == 0 {
			peers[0] = Create(p, action, nil, CreateOptions{StackSize: 65536})
		} else {
			peers[i] = Create(p, action, nil, CreateOptions{ShareWith: peers[0]})
		}
	}

	if _, err := p.Switch(peers[0], 0); err != nil {
		t.Fatalf("p.Switch(peers[0]): %v", err)
	}
	if counters[0] != turns {
		t.Fatalf("peers[0] ran %d turns, want %d", counters[0], turns)
	}
}

// TestSwitchForeignCoroutineRefused checks that switching to a coroutine
// belonging to another (locked) thread is refused without touching either
// side's state, per §4.3/§7.
func TestSwitchForeignCoroutineRefused(t *testing.T) {
	p := lockedThread(t)
	local := Create(p, func(ctx []byte, arg uintptr) uintptr {
		return arg
	}, nil, CreateOptions{})

	otherDone := make(chan *Coroutine)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		other := InitThread()
		co := Create(other, func(ctx []byte, arg uintptr) uintptr { return arg }, nil, CreateOptions{})
		otherDone <- co
		// Keep this goroutine (and its locked OS thread) alive long enough
		// for the foreign Switch below to observe co as still "theirs".
		<-otherDone
	}()
	foreign := <-otherDone

	_, err := p.Switch(foreign, 0)
	if err == nil {
		t.Fatal("expected ErrForeignCoroutine, got nil error")
	}
	var cErr *Error
	if !castError(err, &cErr) || cErr.Kind != ErrForeignCoroutine {
		t.Fatalf("expected ErrForeignCoroutine, got %v", err)
	}

	// p itself must remain usable: a refused switch changes no state.
	if _, err := p.Switch(local, 42); err != nil {
		t.Fatalf("p.Switch(local) after refused foreign switch: %v", err)
	}

	otherDone <- nil // release the other goroutine's infinite receive
}

// TestSwitchUseAfterExitRefused checks that switching into an already-exited
// coroutine is refused with ErrUseAfterExit before its storage is recycled.
func TestSwitchUseAfterExitRefused(t *testing.T) {
	p := lockedThread(t)

	exited := Create(p, func(ctx []byte, arg uintptr) uintptr {
		return arg
	}, nil, CreateOptions{})

	// A second, still-live coroutine to switch into after exited is gone,
	// confirming the runtime itself is still usable post-reclaim.
	holder := Create(p, func(ctx []byte, arg uintptr) uintptr {
		return arg
	}, nil, CreateOptions{})

	if _, err := p.Switch(exited, 0); err != nil {
		t.Fatalf("p.Switch(exited): %v", err)
	}

	_, err := p.Switch(exited, 0)
	if err == nil {
		t.Fatal("expected ErrUseAfterExit, got nil error")
	}
	var cErr *Error
	if !castError(err, &cErr) || cErr.Kind != ErrUseAfterExit {
		t.Fatalf("expected ErrUseAfterExit, got %v", err)
	}

	if _, err := p.Switch(holder, 0); err != nil {
		t.Fatalf("p.Switch(holder): %v", err)
	}
}

// TestHookOrdering checks Pre/Post/Reset fire in the documented order: Pre
// on the outgoing coroutine ahead of every switch, Reset exactly once (a
// coroutine's first entry) in place of Post, Post on every later
// resumption.
func TestHookOrdering(t *testing.T) {
	p := lockedThread(t)
	var trace []string
	SetHooks(Hooks{
		Pre:   func(this *Coroutine) { trace = append(trace, "pre") },
		Post:  func(this *Coroutine) { trace = append(trace, "post") },
		Reset: func(this *Coroutine) { trace = append(trace, "reset") },
	})
	t.Cleanup(func() { SetHooks(Hooks{}) })

	const rounds = 3
	co := Create(p, func(ctx []byte, arg uintptr) uintptr {
		v := arg
		for i := 0; i < rounds-1; i++ {
			r, err := Current().Switch(p, v)
			if err != nil {
				t.Errorf("co: switch to p: %v", err)
			}
			v = r
		}
		return v
	}, nil, CreateOptions{})

	for i := 0; i < rounds; i++ {
		if _, err := p.Switch(co, 0); err != nil {
			t.Fatalf("p.Switch(co) round %d: %v", i, err)
		}
	}

	// The very first event of all must be Pre (on p, handing off) followed
	// immediately by Reset (co's one-time first entry).
	if len(trace) < 2 || trace[0] != "pre" || trace[1] != "reset" {
		t.Fatalf("trace head = %v, want [pre reset ...]", trace)
	}

	var resets, pres, posts int
	for _, e := range trace {
		switch e {
		case "reset":
			resets++
		case "pre":
			pres++
		case "post":
			posts++
		}
	}
	if resets != 1 {
		t.Fatalf("reset fired %d times, want exactly 1", resets)
	}
	if pres != posts+resets {
		t.Fatalf("pre fired %d times, post %d times, reset %d times; every switch pairs a pre with a post, or with the reset of a first entry", pres, posts, resets)
	}
}

// TestActionReturnWithoutReSwitch checks that a coroutine whose action
// merely returns (rather than calling Switch itself) still unwinds cleanly
// to its parent with the returned value.
func TestActionReturnWithoutReSwitch(t *testing.T) {
	p := lockedThread(t)
	co := Create(p, func(ctx []byte, arg uintptr) uintptr {
		return arg * 2
	}, nil, CreateOptions{})

	result, err := p.Switch(co, 21)
	if err != nil {
		t.Fatalf("p.Switch(co): %v", err)
	}
	if result != 42 {
		t.Fatalf("result = %d, want 42", result)
	}
}

// TestCreateWithContext checks the byte context copied in at Create time is
// visible to the action and is a copy, not an alias of the caller's slice.
func TestCreateWithContext(t *testing.T) {
	p := lockedThread(t)
	ctx := []byte("hello")
	seen := make(chan string, 1)
	co := Create(p, func(c []byte, arg uintptr) uintptr {
		seen <- string(c)
		return 0
	}, ctx, CreateOptions{})

	if _, err := p.Switch(co, 0); err != nil {
		t.Fatalf("p.Switch(co): %v", err)
	}
	if got := <-seen; got != "hello" {
		t.Fatalf("action saw ctx %q, want %q", got, "hello")
	}

	ctx[0] = 'H'
	if got := string(co.ctx); got == "Hello" {
		t.Fatal("co.ctx aliases the caller's slice; Create must copy it")
	}
}

// castError is a small helper so the tests above can assert on *Error
// without importing errors.As boilerplate at every call site.
func castError(err error, out **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*out = e
	return true
}
