package executor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/TehMM/bailiikc-fetcher/pkg/logger"
)

func TestSubmitInlineWhenDisabled(t *testing.T) {
	e := New(4, 8, false, logger.NewNop())

	called := false
	err := e.Submit("ACT001", func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !called {
		t.Error("Download function was not invoked")
	}
	if e.PeakInFlight() != 0 {
		t.Errorf("Inline execution should not touch in-flight counters, peak = %d", e.PeakInFlight())
	}
}

func TestSubmitInlineWithSingleWorker(t *testing.T) {
	e := New(1, 8, true, logger.NewNop())

	err := e.Submit("ACT001", func() error { return nil })
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if e.PeakInFlight() != 0 {
		t.Errorf("Single-worker pool should run inline, peak = %d", e.PeakInFlight())
	}
}

func TestSubmitPropagatesError(t *testing.T) {
	e := New(2, 8, true, logger.NewNop())

	want := errors.New("boom")
	if err := e.Submit("ACT001", func() error { return want }); !errors.Is(err, want) {
		t.Errorf("Submit error = %v, want %v", err, want)
	}
}

func TestSubmitBoundsConcurrency(t *testing.T) {
	const workers = 2
	e := New(workers, 16, true, logger.NewNop())

	var (
		mu      sync.Mutex
		running int
		maxSeen int
	)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Submit("ACT", func() error {
				mu.Lock()
				running++
				if running > maxSeen {
					maxSeen = running
				}
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)

				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxSeen > workers {
		t.Errorf("Observed %d concurrent downloads, cap is %d", maxSeen, workers)
	}
	if e.InFlight() != 0 {
		t.Errorf("InFlight = %d after drain, want 0", e.InFlight())
	}
	if e.PeakInFlight() < 1 {
		t.Errorf("PeakInFlight = %d, expected at least 1", e.PeakInFlight())
	}
}

func TestSubmitFallsBackAtPendingCap(t *testing.T) {
	e := New(2, 1, true, logger.NewNop())

	block := make(chan struct{})
	started := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.Submit("ACT001", func() error {
			close(started)
			<-block
			return nil
		})
	}()
	<-started

	// The cap is reached, so this submission must still run (inline).
	done := make(chan error, 1)
	go func() {
		done <- e.Submit("ACT002", func() error { return nil })
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Inline fallback failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Submission at pending cap deadlocked instead of running inline")
	}

	close(block)
	wg.Wait()
}
