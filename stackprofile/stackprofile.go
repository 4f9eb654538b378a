// Package stackprofile renders the cothread runtime's stack-usage accounting
// (§4.5, §8) as a pprof profile, so it can be written to disk and inspected
// with `go tool pprof` the same way a CPU or heap profile would be.
//
// Grounded on dispatchrun-wzprof, which builds pprof profiles by hand from
// raw sampled data (see wzprof's pprof.go/sample.go) rather than going
// through runtime/pprof; stack byte-usage is not something runtime/pprof
// can express, so the same by-hand construction approach applies here.
package stackprofile

import (
	"sort"
	"time"

	"github.com/google/pprof/profile"
	"golang.org/x/exp/maps"

	"github.com/DiamondLightSource/cothread"
)

// Sample is one coroutine's stack-usage reading at snapshot time.
type Sample struct {
	Label      string
	CurrentUse int64
	MaxUse     int64 // -1 if the check pattern was not enabled
	StackSize  int64
}

// Snapshot calls cothread.StackUse on every coroutine in coroutines, labelling each
// sample with the string the caller supplies, and returns the raw samples
// alongside a pprof profile.Profile built from them. Callers typically
// label coroutines by role ("worker-3", "switcher") since the runtime
// itself has no notion of coroutine names.
func Snapshot(coroutines map[string]*cothread.Coroutine) ([]Sample, *profile.Profile) {
	labels := maps.Keys(coroutines)
	sort.Strings(labels) // deterministic sample ordering across snapshots

	samples := make([]Sample, 0, len(labels))
	for _, label := range labels {
		cur, max, size := cothread.StackUse(coroutines[label])
		samples = append(samples, Sample{
			Label:      label,
			CurrentUse: cur,
			MaxUse:     max,
			StackSize:  size,
		})
	}

	return samples, buildProfile(samples)
}

func buildProfile(samples []Sample) *profile.Profile {
	curType := &profile.ValueType{Type: "current_use", Unit: "bytes"}
	maxType := &profile.ValueType{Type: "max_use", Unit: "bytes"}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{curType, maxType},
		TimeNanos:  time.Now().UnixNano(),
	}

	labelFn := &profile.Function{ID: 1, Name: "coroutine"}
	p.Function = []*profile.Function{labelFn}

	for i, s := range samples {
		loc := &profile.Location{
			ID:   uint64(i + 1),
			Line: []profile.Line{{Function: labelFn}},
		}
		p.Location = append(p.Location, loc)

		max := s.MaxUse
		if max < 0 {
			max = 0 // pprof has no "unknown" sentinel; report 0 rather than a negative byte count
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{s.CurrentUse, max},
			Label:    map[string][]string{"coroutine": {s.Label}},
		})
	}

	return p
}
