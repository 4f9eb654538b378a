// Command cothread-demo runs the literal worked scenarios from SPEC_FULL.md
// §8 as a standalone program, so they can be watched rather than only
// asserted on in tests. Flag parsing follows dispatchrun-wzprof's
// cmd/wzprof/main.go, which also reaches for pflag over the standard
// library's flag package.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/pflag"

	"github.com/DiamondLightSource/cothread"
)

func main() {
	var (
		unsafeGuardDemo = pflag.Bool("unsafe-guard-demo", false, "run the guard-page scenario, which deliberately faults")
		scenario        = pflag.StringP("scenario", "s", "pingpong", "scenario to run: pingpong, fanout, guardpage")
	)
	pflag.Parse()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	cothread.InitThread()

	switch *scenario {
	case "pingpong":
		runPingPong()
	case "fanout":
		runFanout()
	case "guardpage":
		if !*unsafeGuardDemo {
			fmt.Fprintln(os.Stderr, "refusing to run the guard-page demo without --unsafe-guard-demo: it deliberately crashes the process")
			os.Exit(2)
		}
		runGuardPage()
	default:
		fmt.Fprintf(os.Stderr, "unknown scenario %q\n", *scenario)
		os.Exit(2)
	}
}

// runPingPong is scenario 1: two coroutines interleave five and four turns
// respectively before returning control up the parent chain.
func runPingPong() {
	p := cothread.Current()

	var a, b *cothread.Coroutine
	a = cothread.Create(p, func(ctx []byte, arg uintptr) uintptr {
		v := arg
		for i := 0; i < 5; i++ {
			r, err := cothread.Current().Switch(b, v+1)
			if err != nil {
				panic(err)
			}
			v = r
			fmt.Println("A:", v)
		}
		return v
	}, nil, cothread.CreateOptions{})

	b = cothread.Create(a, func(ctx []byte, arg uintptr) uintptr {
		v := arg
		for i := 0; i < 4; i++ {
			r, err := cothread.Current().Switch(a, v+1)
			if err != nil {
				panic(err)
			}
			v = r
		}
		return v
	}, nil, cothread.CreateOptions{})

	result, err := p.Switch(a, 1)
	if err != nil {
		panic(err)
	}
	fmt.Println("final:", result)
}

// runFanout is scenario 2: four coroutines share one 64 KiB stack and are
// round-robined 25 times each, so a hundred total switches occur entirely
// within that one shared stack region, exercising the dedicated switcher.
func runFanout() {
	p := cothread.Current()
	const turns = 25
	const numPeers = 4

	counters := make([]int, numPeers)
	peers := make([]*cothread.Coroutine, numPeers)
	for i := range peers {
		idx := i
		action := func(ctx []byte, arg uintptr) uintptr {
			for t := 0; t < turns; t++ {
				counters[idx]++
				next := peers[(idx+1)%len(peers)]
				r, err := cothread.Current().Switch(next, arg)
				if err != nil {
					panic(err)
				}
				arg = r
			}
			return arg
		}
		if i == 0 {
			peers[0] = cothread.Create(p, action, nil, cothread.CreateOptions{StackSize: 65536})
		} else {
			peers[i] = cothread.Create(p, action, nil, cothread.CreateOptions{ShareWith: peers[0]})
		}
	}

	if _, err := p.Switch(peers[0], 0); err != nil {
		panic(err)
	}
	fmt.Println("fan-out counters:", counters)
}

// runGuardPage is scenario 3: a coroutine with one guard page deliberately
// overflows its stack, which the OS turns into a deterministic fault rather
// than silent corruption.
func runGuardPage() {
	p := cothread.Current()
	co := cothread.Create(p, func(ctx []byte, arg uintptr) uintptr {
		var pad [8192]byte
		pad[len(pad)-1] = 1 // pad alone is twice the 4 KiB stack, so this frame reaches into the guard page below
		return uintptr(pad[len(pad)-1])
	}, nil, cothread.CreateOptions{StackSize: 4096, GuardPages: 1})

	_, _ = p.Switch(co, 0)
}
