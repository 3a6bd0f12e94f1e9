package events

import (
	"sync"

	"telehealth-platform/internal/consult"
	"telehealth-platform/internal/presence"
)

// Kind discriminates the payload of a Message.
type Kind string

const (
	KindSession  Kind = "session"
	KindPresence Kind = "presence"
)

// Message is one item on a subscription stream: either a full session
// snapshot after a transition, or a presence event.
type Message struct {
	Kind     Kind            `json:"kind"`
	Session  *consult.Session `json:"session,omitempty"`
	Presence *presence.Event  `json:"presence,omitempty"`
}

type subscriber struct {
	ch        chan Message
	sessionID string // empty for firehose subscribers
	closed    bool
}

// Subscription is a live event stream. Receive from C until it is closed;
// a closed channel means the subscriber fell too far behind (its buffer
// filled) or Cancel was called, and the client should reconnect and take a
// fresh snapshot.
type Subscription struct {
	C      <-chan Message
	bus    *Bus
	sub    *subscriber
	cancel sync.Once
}

// Cancel detaches the subscription and closes C. Safe to call more than once
// and safe to race with a slow-consumer drop.
func (s *Subscription) Cancel() {
	s.cancel.Do(func() {
		s.bus.remove(s.sub)
	})
}

// Bus fans session and presence events out to stream subscribers.
//
// Delivery is at-least-once and ordered per session: publishing happens under
// the bus lock, so two transitions of the same session are enqueued to every
// subscriber in the order they were applied. A subscriber whose buffer is
// full is closed rather than blocked, so one stalled websocket can never hold
// the state machine up.
type Bus struct {
	mu        sync.Mutex
	bySession map[string][]*subscriber
	firehose  []*subscriber
}

func NewBus() *Bus {
	return &Bus{bySession: make(map[string][]*subscriber)}
}

// SessionChanged implements consult.EventSink.
func (b *Bus) SessionChanged(s consult.Session) {
	b.publish(s.ID, Message{Kind: KindSession, Session: &s})
}

// PresenceChanged implements presence.Sink.
func (b *Bus) PresenceChanged(e presence.Event) {
	b.publish(e.SessionID, Message{Kind: KindPresence, Presence: &e})
}

// Subscribe attaches a stream for one session. The snapshot loader runs under
// the bus lock, so everything it reads is delivered before any later delta:
// the subscriber sees snapshot-then-deltas with no gap and no reordering.
// buffer bounds how far the consumer may fall behind before it is dropped.
func (b *Bus) Subscribe(sessionID string, buffer int, snapshot func() ([]Message, error)) (*Subscription, error) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var preload []Message
	if snapshot != nil {
		msgs, err := snapshot()
		if err != nil {
			return nil, err
		}
		preload = msgs
	}

	capacity := buffer
	if len(preload) > capacity {
		capacity = len(preload)
	}
	sub := &subscriber{ch: make(chan Message, capacity), sessionID: sessionID}
	for _, m := range preload {
		sub.ch <- m
	}
	b.bySession[sessionID] = append(b.bySession[sessionID], sub)
	activeSubscriptions.Inc()
	return &Subscription{C: sub.ch, bus: b, sub: sub}, nil
}

// SubscribeAll attaches a firehose stream carrying every session's events.
// Used by the global session monitor.
func (b *Bus) SubscribeAll(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan Message, buffer)}
	b.firehose = append(b.firehose, sub)
	activeSubscriptions.Inc()
	return &Subscription{C: sub.ch, bus: b, sub: sub}
}

func (b *Bus) publish(sessionID string, msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	eventsPublished.WithLabelValues(string(msg.Kind)).Inc()

	b.bySession[sessionID] = b.deliver(b.bySession[sessionID], msg)
	if len(b.bySession[sessionID]) == 0 {
		delete(b.bySession, sessionID)
	}
	b.firehose = b.deliver(b.firehose, msg)
}

// deliver enqueues msg to each subscriber, dropping (closing) the ones whose
// buffers are full, and returns the surviving set. Caller holds b.mu.
func (b *Bus) deliver(subs []*subscriber, msg Message) []*subscriber {
	kept := subs[:0]
	for _, sub := range subs {
		select {
		case sub.ch <- msg:
			kept = append(kept, sub)
		default:
			sub.closed = true
			close(sub.ch)
			subscribersDropped.Inc()
			activeSubscriptions.Dec()
		}
	}
	return kept
}

func (b *Bus) remove(target *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if target.closed {
		return
	}
	target.closed = true
	close(target.ch)
	activeSubscriptions.Dec()

	prune := func(subs []*subscriber) []*subscriber {
		kept := subs[:0]
		for _, sub := range subs {
			if sub != target {
				kept = append(kept, sub)
			}
		}
		return kept
	}
	if target.sessionID != "" {
		b.bySession[target.sessionID] = prune(b.bySession[target.sessionID])
		if len(b.bySession[target.sessionID]) == 0 {
			delete(b.bySession, target.sessionID)
		}
	} else {
		b.firehose = prune(b.firehose)
	}
}
