// Package events is a small in-process fan-out bus carrying agent activity
// (deploys, session lifecycle) to the admin event stream.
package events

import (
	"sync"
	"time"
)

// Event kinds.
const (
	KindDeploy  = "deploy"
	KindSession = "session"
	KindRun     = "run"
)

type Event struct {
	Time        time.Time `json:"time"`
	Kind        string    `json:"kind"`
	Success     bool      `json:"success"`
	Text        string    `json:"text"`
	Application string    `json:"application,omitempty"`
}

// Bus fans events out to subscribers. Publishing never blocks; a slow
// subscriber drops events rather than stalling the publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: map[int]chan Event{}}
}

// Subscribe returns a receive channel and a cancel func that must be called
// to release the subscription.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Subscribers counts active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
