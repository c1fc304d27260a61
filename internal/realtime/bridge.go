// Package realtime fans out store change events to subscribed clients.
package realtime

import (
	"sync"

	"github.com/example/ride-hail/internal/observability"
)

// Topic names mirror the tables they capture changes from.
const (
	TopicRides           = "rides"
	TopicDriverLocations = "driver_locations"
)

// Change is one captured mutation: the full row before and after the commit.
// Subscribers must treat New as a complete replacement of their local copy,
// never as a delta.
type Change struct {
	Topic string
	Key   string // row identity: ride id or driver id
	Old   any    // nil on insert
	New   any
}

// Predicate filters changes on the subscriber side. A nil predicate matches
// every change on the topic.
type Predicate func(Change) bool

// Subscription is an owned handle. Callers must pair every Subscribe with an
// Unsubscribe; the bridge never relies on garbage collection to release one.
type Subscription struct {
	topic  string
	pred   Predicate
	ch     chan Change
	bridge *Bridge
	once   sync.Once
}

// Events is the receive side of the subscription. The channel is closed by
// Unsubscribe.
func (s *Subscription) Events() <-chan Change { return s.ch }

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bridge.remove(s)
		close(s.ch)
	})
}

// Bridge delivers changes to subscribers in the order they are published.
// Publication happens as a side effect of store commits, so per-row ordering
// follows commit order. There is no ordering guarantee across rows.
type Bridge struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

func NewBridge(buffer int) *Bridge {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bridge{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer}
}

func (b *Bridge) Subscribe(topic string, pred Predicate) *Subscription {
	s := &Subscription{
		topic:  topic,
		pred:   pred,
		ch:     make(chan Change, b.buffer),
		bridge: b,
	}
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*Subscription]struct{})
	}
	b.subs[topic][s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Bridge) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[s.topic]; ok {
		delete(set, s)
	}
}

// Publish delivers c to every matching subscriber. Delivery to a live
// subscriber is at-least-once; a subscriber that stops draining its channel
// loses events and must re-fetch authoritative state, exactly as a client
// resuming after a dropped connection would.
func (b *Bridge) Publish(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[c.Topic] {
		if s.pred != nil && !s.pred(c) {
			continue
		}
		select {
		case s.ch <- c:
		default:
			observability.SyncEventsDropped.Inc()
		}
	}
}
