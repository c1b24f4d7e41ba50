package executor

import (
	"sync"

	"github.com/TehMM/bailiikc-fetcher/pkg/logger"
)

// DownloadFunc performs one download attempt.
type DownloadFunc func() error

// Executor is a thin bounded-concurrency wrapper around downloads. With one
// worker or the feature disabled every submission runs inline, so behaviour
// stays sequential by default. It only parallelizes the outbound HTTP fetch;
// per-case state transitions remain the tracker's responsibility, and no
// ordering guarantee is made across downloads.
type Executor struct {
	maxWorkers int
	maxPending int
	sem        chan struct{}
	logger     *logger.Logger

	mu           sync.Mutex
	inFlight     int
	peakInFlight int
}

// New creates an executor. The pool is only active when enabled and
// maxWorkers > 1.
func New(maxWorkers, maxPending int, enabled bool, log *logger.Logger) *Executor {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxPending < 1 {
		maxPending = 1
	}

	e := &Executor{
		maxWorkers: maxWorkers,
		maxPending: maxPending,
		logger:     log,
	}
	if enabled && maxWorkers > 1 {
		e.sem = make(chan struct{}, maxWorkers)
	}
	return e
}

// Submit executes fn, bounded by the worker pool when one is configured.
// When the in-flight count has reached the pending cap the call falls back
// to synchronous execution instead of queuing. Submit blocks until fn
// returns; callers wanting parallelism invoke it from their own goroutines.
func (e *Executor) Submit(token string, fn DownloadFunc) error {
	if e.sem == nil {
		return fn()
	}

	e.mu.Lock()
	if e.inFlight >= e.maxPending {
		inFlight := e.inFlight
		e.mu.Unlock()
		e.logger.Warn("Download executor at pending cap; running inline",
			"token", token, "in_flight", inFlight, "max_pending", e.maxPending)
		return fn()
	}
	e.inFlight++
	if e.inFlight > e.peakInFlight {
		e.peakInFlight = e.inFlight
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inFlight--
		e.mu.Unlock()
	}()

	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	return fn()
}

// InFlight returns the number of submissions currently executing.
func (e *Executor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// PeakInFlight returns the highest concurrent submission count observed.
func (e *Executor) PeakInFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peakInFlight
}
