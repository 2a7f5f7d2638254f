package sched

import (
	"sync"
	"time"
)

// Ticket is a handle to a scheduled callback. Cancel is safe to call
// more than once and after the callback has fired.
type Ticket interface {
	Cancel()
}

// Scheduler schedules cancelable callbacks. Every piece of the engine
// that needs a timer (countdown tick, auto-advance delay, auto-navigate
// countdown) goes through this so tests can drive time by hand.
type Scheduler interface {
	// After runs fn once after d.
	After(d time.Duration, fn func()) Ticket
	// Every runs fn repeatedly at interval d until canceled.
	Every(d time.Duration, fn func()) Ticket
	Now() time.Time
}

type timeScheduler struct{}

// New returns a Scheduler backed by the real clock.
func New() Scheduler { return timeScheduler{} }

func (timeScheduler) Now() time.Time { return time.Now() }

type afterTicket struct {
	t *time.Timer
}

func (t *afterTicket) Cancel() { t.t.Stop() }

func (timeScheduler) After(d time.Duration, fn func()) Ticket {
	return &afterTicket{t: time.AfterFunc(d, fn)}
}

type everyTicket struct {
	once sync.Once
	stop chan struct{}
}

func (t *everyTicket) Cancel() {
	t.once.Do(func() { close(t.stop) })
}

func (timeScheduler) Every(d time.Duration, fn func()) Ticket {
	t := &everyTicket{stop: make(chan struct{})}
	go func() {
		tick := time.NewTicker(d)
		defer tick.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-tick.C:
				fn()
			}
		}
	}()
	return t
}
