package sched

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler driven by explicit Advance calls. Callbacks run
// on the goroutine that calls Advance, in due order, which makes timer
// behavior deterministic under test.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	entries []*manualEntry
}

type manualEntry struct {
	id       int
	at       time.Time
	interval time.Duration // 0 for one-shot
	fn       func()
	canceled bool
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) After(d time.Duration, fn func()) Ticket {
	return m.add(d, 0, fn)
}

func (m *Manual) Every(d time.Duration, fn func()) Ticket {
	return m.add(d, d, fn)
}

func (m *Manual) add(d, interval time.Duration, fn func()) Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	e := &manualEntry{id: m.seq, at: m.now.Add(d), interval: interval, fn: fn}
	m.entries = append(m.entries, e)
	return &manualTicket{m: m, e: e}
}

type manualTicket struct {
	m *Manual
	e *manualEntry
}

func (t *manualTicket) Cancel() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.e.canceled = true
}

// Advance moves the clock forward by d, firing every due callback in
// order. Callbacks may schedule or cancel further work.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		e := m.nextDue(target)
		if e == nil {
			break
		}
		e.fn()
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}

func (m *Manual) nextDue(target time.Time) *manualEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.entries[:0]
	for _, e := range m.entries {
		if !e.canceled {
			live = append(live, e)
		}
	}
	m.entries = live
	sort.SliceStable(m.entries, func(i, j int) bool {
		if m.entries[i].at.Equal(m.entries[j].at) {
			return m.entries[i].id < m.entries[j].id
		}
		return m.entries[i].at.Before(m.entries[j].at)
	})

	if len(m.entries) == 0 || m.entries[0].at.After(target) {
		return nil
	}
	e := m.entries[0]
	if m.now.Before(e.at) {
		m.now = e.at
	}
	if e.interval > 0 {
		e.at = e.at.Add(e.interval)
	} else {
		m.entries = m.entries[1:]
	}
	return e
}
