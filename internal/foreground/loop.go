// Package foreground provides the single sequential context every UI-visible
// call runs on. Background workers never touch UI state directly; they post.
package foreground

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned when work is posted to a loop that no longer runs.
var ErrStopped = errors.New("foreground loop stopped")

// Poster is the part of Loop that background workers depend on.
type Poster interface {
	Post(fn func()) bool
}

// Loop executes posted functions one at a time, in posting order.
type Loop struct {
	tasks    chan func()
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a loop whose queue holds up to buffer pending functions before
// Post blocks.
func New(buffer int) *Loop {
	return &Loop{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Run executes posted functions until ctx is cancelled. Functions still queued
// at that point are dropped.
func (l *Loop) Run(ctx context.Context) {
	defer l.stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Post queues fn. It reports false when the loop has stopped; fn never runs then.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case <-l.done:
		return false
	case l.tasks <- fn:
		return true
	}
}

// Do runs fn on the loop and waits for it. It must not be called from the
// loop itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})

	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		// fn may have been the task running when the loop stopped.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}
