package offline

import (
	"context"
	"log"
	"sync"
)

// Notifier hands sync-eligible queue entry ids to the external sync
// daemon. The monitor never executes the sync itself.
type Notifier interface {
	Enqueue(ctx context.Context, ids []string) error
}

// NopNotifier is used when no sync transport is configured; the daemon
// then polls the queue table directly.
type NopNotifier struct{}

func (NopNotifier) Enqueue(context.Context, []string) error { return nil }

// Monitor tracks link state. It is fed by the platform's link watcher
// (an external collaborator) via SetOnline; it never polls.
type Monitor struct {
	mu       sync.Mutex
	online   bool
	store    Store
	notifier Notifier
	subs     []func(online bool, pending int)
}

func NewMonitor(store Store, notifier Notifier, initiallyOnline bool) *Monitor {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Monitor{online: initiallyOnline, store: store, notifier: notifier}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a callback for link-state changes. Callbacks run
// synchronously inside SetOnline.
func (m *Monitor) Subscribe(fn func(online bool, pending int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// SetOnline records a link transition. Going online marks queued
// entries eligible and notifies the sync daemon; it deliberately does
// not submit anything.
func (m *Monitor) SetOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	subs := append([]func(bool, int){}, m.subs...)
	m.mu.Unlock()

	if !changed {
		return
	}

	pending := 0
	if online {
		entries, err := m.store.PendingEntries(ctx)
		if err != nil {
			log.Printf("offline: list pending entries: %v", err)
		} else if len(entries) > 0 {
			ids := make([]string, 0, len(entries))
			for _, e := range entries {
				if e.State == StateQueued {
					ids = append(ids, e.ID)
				}
			}
			pending = len(entries)
			if len(ids) > 0 {
				if err := m.store.MarkEligible(ctx, ids); err != nil {
					log.Printf("offline: mark eligible: %v", err)
				} else if err := m.notifier.Enqueue(ctx, ids); err != nil {
					log.Printf("offline: notify sync daemon: %v", err)
				}
			}
		}
	}

	for _, fn := range subs {
		fn(online, pending)
	}
}
