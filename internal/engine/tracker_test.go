package engine

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTrackerDrainWaitsForInFlightCalls(t *testing.T) {
	tracker := &activityTracker{}
	const workers = 8

	var started, release sync.WaitGroup
	started.Add(workers)
	release.Add(1)
	for i := 0; i < workers; i++ {
		go func() {
			g := tracker.enter()
			started.Done()
			release.Wait()
			g.exit()
		}()
	}
	started.Wait()

	drained := make(chan bool, 1)
	go func() {
		drained <- tracker.drain(5*time.Second, runtime.Gosched)
	}()

	select {
	case <-drained:
		t.Fatal("drain returned while calls were in flight")
	case <-time.After(50 * time.Millisecond):
	}

	release.Done()
	select {
	case ok := <-drained:
		if !ok {
			t.Fatal("drain timed out despite all calls exiting")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not return after calls exited")
	}
}

func TestTrackerDrainTimesOut(t *testing.T) {
	tracker := &activityTracker{}
	g := tracker.enter()
	defer g.exit()

	if tracker.drain(20*time.Millisecond, runtime.Gosched) {
		t.Fatal("drain reported success with a call still inside")
	}
}

func TestGuardSamplesShutdownFlagOnce(t *testing.T) {
	tracker := &activityTracker{}

	g := tracker.enter()
	if g.Skip() {
		t.Fatal("guard skips before shutdown")
	}

	// Flag flips mid-call; the already-sampled guard must not change its
	// answer, so Pre and Post stay symmetric.
	tracker.shuttingDown.Store(true)
	if g.Skip() {
		t.Fatal("guard decision changed mid-call")
	}
	g.exit()

	late := tracker.enter()
	if !late.Skip() {
		t.Fatal("guard entered after shutdown must skip")
	}
	late.exit()
}

func TestTrackerCountBalances(t *testing.T) {
	tracker := &activityTracker{}
	var wg sync.WaitGroup
	var calls atomic.Int64
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				g := tracker.enter()
				calls.Add(1)
				g.exit()
			}
		}()
	}
	wg.Wait()
	if n := tracker.inFlight.Load(); n != 0 {
		t.Fatalf("in-flight count = %d after all calls exited", n)
	}
	if calls.Load() != 16000 {
		t.Fatalf("unexpected call total %d", calls.Load())
	}
}
