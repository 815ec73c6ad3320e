package matching

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs f once after d. The production scheduler is
// time.AfterFunc; tests substitute one they can fire by hand.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

type timeScheduler struct{}

func (timeScheduler) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}

// executor runs every pairing-state mutation on one goroutine, one task at a
// time, in submission order.
type executor struct {
	tasks    chan func()
	done     chan struct{}
	stopOnce sync.Once
}

func newExecutor(backlog int) *executor {
	return &executor{
		tasks: make(chan func(), backlog),
		done:  make(chan struct{}),
	}
}

func (e *executor) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.stop()
			return
		case <-e.done:
			return
		case task := <-e.tasks:
			task()
		}
	}
}

func (e *executor) stop() {
	e.stopOnce.Do(func() { close(e.done) })
}

// do submits fn and blocks until it has run. fn must not call do itself.
func (e *executor) do(fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}

	select {
	case e.tasks <- task:
	case <-e.done:
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-e.done:
		// The loop may have exited with the task still buffered.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}
