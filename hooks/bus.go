package hooks

import (
	"fmt"
	"sync"
)

// Subscriber receives every published event synchronously, in sequence
// order, on the publisher's goroutine. This mirrors the teacher's
// runtime/agent/hooks.Subscriber contract exactly: fail-fast, hard-coupled
// consumers (memory persistence, snapshotting) that must observe every
// event or abort the run, never a slow/best-effort consumer.
type Subscriber interface {
	HandleEvent(Event)
}

// SubscriberFunc adapts a function to a Subscriber.
type SubscriberFunc func(Event)

func (f SubscriberFunc) HandleEvent(e Event) { f(e) }

// Subscription is returned by Register and Subscribe. Unsubscribe is
// idempotent.
type Subscription interface {
	Unsubscribe()
}

// Stream is returned by Subscribe: a bounded channel of events starting
// from a given sequence number, plus an Overflow channel that is closed if
// the subscriber fell behind and was dropped (spec §4.1: delivery to slow
// subscribers must not stall the scheduler).
type Stream struct {
	Events   <-chan Event
	Overflow <-chan struct{}
	sub      *chanSubscription
}

// Unsubscribe detaches the stream; safe to call more than once and safe to
// call after an overflow disconnect.
func (s *Stream) Unsubscribe() { s.sub.Unsubscribe() }

// Bus is the ordered, append-only event broadcaster of spec §4.1. All
// published events for a single Bus share one monotonic sequence space
// (P5: contiguous from 0, strictly increasing, no gaps, no duplicates).
type Bus struct {
	mu          sync.RWMutex
	closed      bool
	nextSeq     uint64
	log         []Event // append-only, index i holds the event with Seq() == i
	subscribers map[*syncSubscription]Subscriber
	chanSubs    map[*chanSubscription]struct{}
}

// NewBus constructs an empty Bus. defaultSubscriberBuffer (256) bounds how
// many events a Subscribe channel may queue before its consumer is
// considered too slow and disconnected; callers doing Register
// (synchronous) are not subject to this bound since they run inline with
// Publish.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*syncSubscription]Subscriber),
		chanSubs:    make(map[*chanSubscription]struct{}),
	}
}

type syncSubscription struct {
	bus *Bus
}

func (s *syncSubscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subscribers, s)
	s.bus.mu.Unlock()
}

// Register attaches a synchronous, fail-fast subscriber: every call to
// Publish invokes HandleEvent on the publisher's own goroutine before
// Publish returns; the relative order of different synchronous
// subscribers is not defined. A panicking subscriber
// propagates to the publisher exactly as in the teacher's bus, by design:
// these subscribers are internal invariant-critical consumers, not
// best-effort observers.
func (b *Bus) Register(sub Subscriber) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &syncSubscription{bus: b}
	b.subscribers[s] = sub
	return s
}

// Publish assigns the next sequence number to event, appends it to the
// replay log, fans it out to every synchronous Subscriber (in no defined
// order among them), and then offers it to every channel subscription without
// blocking. Publish itself never blocks on a slow channel subscriber.
func (b *Bus) Publish(event Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("hooks: bus is closed")
	}
	seq := b.nextSeq
	b.nextSeq++
	stamped := stampSeq(event, seq)
	b.log = append(b.log, stamped)

	syncSubs := make([]Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		syncSubs = append(syncSubs, sub)
	}
	chanSubs := make([]*chanSubscription, 0, len(b.chanSubs))
	for cs := range b.chanSubs {
		chanSubs = append(chanSubs, cs)
	}
	b.mu.Unlock()

	for _, sub := range syncSubs {
		sub.HandleEvent(stamped)
	}
	for _, cs := range chanSubs {
		cs.offer(stamped)
	}
	return nil
}

// stampSeq assigns seq/at on a copy of event by calling its embedded
// base's setSeq, one switch case per concrete event type, and returns the
// stamped copy; an event type missing from the switch is returned
// unstamped. Event values are passed by value throughout
// this package specifically so stamping never races a concurrent reader.
func stampSeq(event Event, seq uint64) Event {
	switch v := event.(type) {
	case RunStarted:
		v.setSeq(seq, now())
		return v
	case RunFinished:
		v.setSeq(seq, now())
		return v
	case StepStarted:
		v.setSeq(seq, now())
		return v
	case StepFinished:
		v.setSeq(seq, now())
		return v
	case NodeCreated:
		v.setSeq(seq, now())
		return v
	case NodeAdded:
		v.setSeq(seq, now())
		return v
	case EdgeAdded:
		v.setSeq(seq, now())
		return v
	case InnerGraphBuilt:
		v.setSeq(seq, now())
		return v
	case NodeStatusChanged:
		v.setSeq(seq, now())
		return v
	case PlanReceived:
		v.setSeq(seq, now())
		return v
	case NodeResultAvailable:
		v.setSeq(seq, now())
		return v
	case LLMCallStarted:
		v.setSeq(seq, now())
		return v
	case LLMCallCompleted:
		v.setSeq(seq, now())
		return v
	case ToolInvoked:
		v.setSeq(seq, now())
		return v
	case ToolReturned:
		v.setSeq(seq, now())
		return v
	default:
		return event
	}
}

const defaultSubscriberBuffer = 256

// Subscribe returns a Stream of every event from fromSeq onward: first a
// replay of whatever the log already holds at or after fromSeq, then live
// events as they are published. If the consumer falls behind by more than
// the buffer bound, it is disconnected and Overflow is closed; Publish is
// never blocked by a slow reader.
func (b *Bus) Subscribe(fromSeq uint64) (*Stream, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("hooks: bus is closed")
	}
	cs := &chanSubscription{
		bus:      b,
		events:   make(chan Event, defaultSubscriberBuffer),
		overflow: make(chan struct{}),
	}
	// The backlog is queued while b.mu is held, so no live event published
	// concurrently can reach the channel ahead of it.
	if fromSeq < uint64(len(b.log)) {
		for _, e := range b.log[fromSeq:] {
			select {
			case cs.events <- e:
			default:
				cs.detached = true
				b.mu.Unlock()
				cs.overflowOne.Do(func() { close(cs.overflow) })
				cs.closeOnce.Do(func() { close(cs.events) })
				return &Stream{Events: cs.events, Overflow: cs.overflow, sub: cs}, nil
			}
		}
	}
	b.chanSubs[cs] = struct{}{}
	b.mu.Unlock()

	return &Stream{Events: cs.events, Overflow: cs.overflow, sub: cs}, nil
}

// ReplayFrom returns a snapshot of every published event from fromSeq
// onward without creating a live subscription (spec §4.1 replay, P10).
func (b *Bus) ReplayFrom(fromSeq uint64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if fromSeq >= uint64(len(b.log)) {
		return nil
	}
	out := make([]Event, len(b.log)-int(fromSeq))
	copy(out, b.log[fromSeq:])
	return out
}

// Len reports how many events have been published, equivalently the
// sequence number the next published event will receive.
func (b *Bus) Len() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}

// Close disconnects every subscriber and makes further Publish calls fail.
// Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	chanSubs := make([]*chanSubscription, 0, len(b.chanSubs))
	for cs := range b.chanSubs {
		chanSubs = append(chanSubs, cs)
	}
	b.chanSubs = make(map[*chanSubscription]struct{})
	b.subscribers = make(map[*syncSubscription]Subscriber)
	b.mu.Unlock()

	for _, cs := range chanSubs {
		cs.detach()
	}
}

type chanSubscription struct {
	bus         *Bus
	events      chan Event
	overflow    chan struct{}
	closeOnce   sync.Once
	overflowOne sync.Once
	detached    bool
	mu          sync.Mutex
}

// offer attempts a non-blocking send. On a full buffer the subscriber is
// considered too slow: it is detached from the bus, Overflow is closed as
// a distinct disconnect signal, and its event channel is closed so range
// loops terminate. Returns false once detached.
func (cs *chanSubscription) offer(e Event) bool {
	cs.mu.Lock()
	if cs.detached {
		cs.mu.Unlock()
		return false
	}
	select {
	case cs.events <- e:
		cs.mu.Unlock()
		return true
	default:
		cs.mu.Unlock()
		cs.overflowOne.Do(func() { close(cs.overflow) })
		cs.detach()
		return false
	}
}

// detach marks the subscription dead, removes it from the bus, and closes
// its event channel. Guarded so a concurrent offer/Unsubscribe/Close race
// never sends on (or closes) an already-closed channel.
func (cs *chanSubscription) detach() {
	cs.mu.Lock()
	if cs.detached {
		cs.mu.Unlock()
		return
	}
	cs.detached = true
	cs.mu.Unlock()

	cs.bus.mu.Lock()
	delete(cs.bus.chanSubs, cs)
	cs.bus.mu.Unlock()
	cs.closeOnce.Do(func() { close(cs.events) })
}

func (cs *chanSubscription) Unsubscribe() { cs.detach() }
