// Package events fans session changes out to the live connections of the
// owning identity.
package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	TypeSessionSaved   = "session.saved"
	TypeSessionDeleted = "session.deleted"
	TypeSessionCleared = "session.cleared"
	TypeUsageRecorded  = "usage.recorded"
	TypeConnected      = "connected"

	subscriberBuffer = 16
)

// Event is pushed to subscribers as JSON.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Hub is an in-process publish/subscribe registry keyed by owner.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
	log  *logrus.Entry
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[chan Event]struct{}),
		log:  logrus.WithField("component", "events"),
	}
}

// Subscribe registers a listener for owner. Call the returned func to stop
// listening; the channel is closed afterwards.
func (h *Hub) Subscribe(owner string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[owner] == nil {
		h.subs[owner] = make(map[chan Event]struct{})
	}
	h.subs[owner][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[owner], ch)
			if len(h.subs[owner]) == 0 {
				delete(h.subs, owner)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers evt to every listener of owner. A listener whose buffer
// is full misses the event.
func (h *Hub) Publish(owner string, evt Event) {
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[owner] {
		select {
		case ch <- evt:
		default:
			h.log.WithFields(logrus.Fields{"owner": owner, "type": evt.Type}).Warn("subscriber slow, event dropped")
		}
	}
}

// Subscribers reports how many listeners owner has.
func (h *Hub) Subscribers(owner string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[owner])
}
