// Package clock abstracts wall-clock time and delayed task scheduling so the
// backoff controller and draft autosave can be driven by a virtual clock in
// tests.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time and cancellable delayed tasks.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc runs fn after d elapses and returns a cancellable handle.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a handle for a scheduled delayed task.
type Timer interface {
	// Stop cancels the task. Reports whether it was cancelled before firing.
	Stop() bool
}

// New returns a Clock backed by the real time package.
func New() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return realTimer{time.AfterFunc(d, fn)}
}

type realTimer struct {
	t *time.Timer
}

func (rt realTimer) Stop() bool {
	return rt.t.Stop()
}

// Fake is a controllable Clock for tests. Time only moves when Advance is
// called; due tasks fire synchronously on the advancing goroutine.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	tasks  []*fakeTimer
	nextID int
}

// NewFake creates a Fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc schedules fn to run when the fake clock advances past d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	ft := &fakeTimer{
		id:    f.nextID,
		at:    f.now.Add(d),
		fn:    fn,
		clock: f,
	}
	f.tasks = append(f.tasks, ft)
	return ft
}

// Advance moves the fake clock forward and fires all tasks that come due,
// in scheduling order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	var due []*fakeTimer
	var remaining []*fakeTimer
	for _, ft := range f.tasks {
		if !ft.at.After(f.now) {
			due = append(due, ft)
		} else {
			remaining = append(remaining, ft)
		}
	}
	f.tasks = remaining
	f.mu.Unlock()

	for _, ft := range due {
		ft.fn()
	}
}

// Pending returns the number of scheduled tasks not yet fired.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

type fakeTimer struct {
	id    int
	at    time.Time
	fn    func()
	clock *Fake
}

func (ft *fakeTimer) Stop() bool {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()

	for i, t := range ft.clock.tasks {
		if t.id == ft.id {
			ft.clock.tasks = append(ft.clock.tasks[:i], ft.clock.tasks[i+1:]...)
			return true
		}
	}
	return false
}
