package stackprofile

import (
	"runtime"
	"testing"

	"github.com/DiamondLightSource/cothread"
)

func TestSnapshotOrdersByLabelAndBuildsProfile(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	p := cothread.InitThread()

	coroutines := map[string]*cothread.Coroutine{
		"worker-b": cothread.Create(p, func(ctx []byte, arg uintptr) uintptr { return arg }, nil, cothread.CreateOptions{CheckStack: true}),
		"worker-a": cothread.Create(p, func(ctx []byte, arg uintptr) uintptr { return arg }, nil, cothread.CreateOptions{CheckStack: true}),
	}

	samples, prof := Snapshot(coroutines)
	if len(samples) != 2 {
		t.Fatalf("len(samples) = %d, want 2", len(samples))
	}
	if samples[0].Label != "worker-a" || samples[1].Label != "worker-b" {
		t.Fatalf("samples not sorted by label: %v", samples)
	}
	for _, s := range samples {
		if s.StackSize <= 0 {
			t.Fatalf("sample %+v has non-positive StackSize", s)
		}
	}

	if prof == nil {
		t.Fatal("Snapshot returned a nil profile")
	}
	if len(prof.Sample) != 2 {
		t.Fatalf("profile has %d samples, want 2", len(prof.Sample))
	}
	if len(prof.SampleType) != 2 {
		t.Fatalf("profile has %d sample types, want 2 (current_use, max_use)", len(prof.SampleType))
	}
}

func TestSnapshotEmpty(t *testing.T) {
	samples, prof := Snapshot(nil)
	if len(samples) != 0 {
		t.Fatalf("len(samples) = %d, want 0", len(samples))
	}
	if len(prof.Sample) != 0 {
		t.Fatalf("profile has %d samples, want 0", len(prof.Sample))
	}
}
