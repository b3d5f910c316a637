package responder

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Cycle is one unit of polling work.
type Cycle interface {
	RunCycle(ctx context.Context) error
}

// Scheduler runs a Cycle, waits for the interval, and repeats. Cycles never
// overlap and a failed cycle never stops the loop.
type Scheduler struct {
	mu sync.Mutex

	cycle    Cycle
	interval time.Duration
	name     string

	started  bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	cycles int

	// Callbacks
	onCycle func(n int, err error)
}

// NewScheduler creates a scheduler. A non-positive interval uses
// DefaultPollInterval.
func NewScheduler(name string, cycle Cycle, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Scheduler{
		cycle:    cycle,
		interval: interval,
		name:     name,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetOnCycle sets a callback invoked after each cycle settles.
func (s *Scheduler) SetOnCycle(fn func(n int, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCycle = fn
}

// Start begins the loop in a new goroutine. The first cycle runs
// immediately. Calling Start again has no effect.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.loop(ctx)
}

// Stop cancels the pending timer. A cycle already running is not
// interrupted; Wait returns once it settles.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Wait blocks until the loop has exited. It returns at once if the
// scheduler was never started.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	<-s.done
}

// Cycles returns the number of cycles that have settled.
func (s *Scheduler) Cycles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	for {
		if s.stopped() || ctx.Err() != nil {
			return
		}

		err := s.runOnce(ctx)

		s.mu.Lock()
		s.cycles++
		n := s.cycles
		onCycle := s.onCycle
		s.mu.Unlock()

		if err != nil {
			log.Printf("[%s] cycle %d failed: %v", s.name, n, err)
		}
		if onCycle != nil {
			onCycle(n, err)
		}

		timer := time.NewTimer(s.interval)
		select {
		case <-timer.C:
		case <-s.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// runOnce runs one cycle, turning a panic into an error.
func (s *Scheduler) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.cycle.RunCycle(ctx)
}
