// Package realtime fans task-change signals out to live WatchTasks streams.
//
// A signal only names the user whose tasks changed; listeners reload the full
// snapshot themselves, so signals are coalesced and never queued.
package realtime

import (
	"context"
	"sync"
)

// Publisher announces that the tasks of a user changed.
type Publisher interface {
	Publish(ctx context.Context, userID string) error
}

// Hub delivers change signals to in-process listeners, keyed by user id.
type Hub struct {
	mu        sync.Mutex
	listeners map[string]map[*Listener]struct{}
}

func NewHub() *Hub {
	return &Hub{listeners: make(map[string]map[*Listener]struct{})}
}

// Listener receives change signals for one user.
type Listener struct {
	hub    *Hub
	userID string
	ch     chan struct{}
	once   sync.Once
}

// C is signalled at least once after every change published after Subscribe
// returned. Several changes may collapse into one signal.
func (l *Listener) C() <-chan struct{} {
	return l.ch
}

// Close unregisters the listener. Safe to call more than once.
func (l *Listener) Close() {
	l.once.Do(func() {
		h := l.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.listeners[l.userID]; ok {
			delete(set, l)
			if len(set) == 0 {
				delete(h.listeners, l.userID)
			}
		}
	})
}

// Subscribe registers a listener for userID.
func (h *Hub) Subscribe(userID string) *Listener {
	l := &Listener{hub: h, userID: userID, ch: make(chan struct{}, 1)}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.listeners[userID]
	if !ok {
		set = make(map[*Listener]struct{})
		h.listeners[userID] = set
	}
	set[l] = struct{}{}
	return l
}

// Notify signals every listener of userID without blocking.
func (h *Hub) Notify(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for l := range h.listeners[userID] {
		select {
		case l.ch <- struct{}{}:
		default:
		}
	}
}

// NotifyAll signals every listener.
func (h *Hub) NotifyAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.listeners {
		for l := range set {
			select {
			case l.ch <- struct{}{}:
			default:
			}
		}
	}
}

// Publish implements Publisher for single-process deployments.
func (h *Hub) Publish(_ context.Context, userID string) error {
	h.Notify(userID)
	return nil
}

// ListenerCount returns how many listeners userID has.
func (h *Hub) ListenerCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners[userID])
}
