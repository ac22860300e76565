package tracker

import (
	"context"
	"fmt"
	"sync"
)

// Runner starts one attempt of a unit and returns its progress stream.
// The runner closes the channel after the terminal event.
type Runner interface {
	Start(ctx context.Context, u Unit) <-chan Event
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, u Unit) <-chan Event

// Start implements Runner
func (f RunnerFunc) Start(ctx context.Context, u Unit) <-chan Event {
	return f(ctx, u)
}

// Emitter publishes the events of one attempt. It is safe for use by
// several goroutines.
type Emitter struct {
	mu       sync.Mutex
	ch       chan<- Event
	phase    string
	progress int
	done     bool
}

// Phase moves the unit into a new sub-state
func (e *Emitter) Phase(phase string, progress int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.phase = phase
	if progress > e.progress {
		e.progress = progress
	}
	e.ch <- Event{Phase: phase, Progress: e.progress}
}

// Progress reports completion percentage within the current phase
func (e *Emitter) Progress(progress int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done || progress <= e.progress {
		return
	}
	e.progress = progress
	e.ch <- Event{Phase: e.phase, Progress: progress}
}

// Message emits an informational event
func (e *Emitter) Message(format string, args ...interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.ch <- Event{Phase: e.phase, Progress: e.progress, Message: fmt.Sprintf(format, args...)}
}

// Go runs work in its own goroutine and turns its result into the
// terminal event: nil succeeds, an error fails with the error as reason.
func Go(ctx context.Context, work func(ctx context.Context, e *Emitter) error) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		e := &Emitter{ch: ch}

		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("runner panicked: %v", r)
				}
			}()
			return work(ctx, e)
		}()

		e.mu.Lock()
		defer e.mu.Unlock()
		e.done = true
		if err != nil {
			ch <- Event{Phase: e.phase, Progress: e.progress, Outcome: OutcomeFailed, Reason: err.Error()}
			return
		}
		ch <- Event{Phase: e.phase, Progress: 100, Outcome: OutcomeSucceeded}
	}()
	return ch
}
