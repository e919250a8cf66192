package hass

import "sync"

// Subscription is a live event subscription. Events arrive on Events()
// until the subscription is removed or the connection is torn down, at
// which point the channel is closed and Err reports why.
type Subscription struct {
	id        uint64
	eventType string

	events chan Event
	done   chan struct{}

	// mu is held for reading while an event is being handed over, and for
	// writing while the events channel is closed.
	mu     sync.RWMutex
	closed bool
	active bool
	once   sync.Once
	err    error
}

func newSubscription(id uint64, eventType string, buffer int) *Subscription {
	return &Subscription{
		id:        id,
		eventType: eventType,
		events:    make(chan Event, buffer),
		done:      make(chan struct{}),
	}
}

// ID returns the subscription identifier. It is the handle to pass to
// Client.Unsubscribe.
func (s *Subscription) ID() uint64 { return s.id }

// EventType returns the event type filter requested at subscribe time.
// An empty string means all events.
func (s *Subscription) EventType() string { return s.eventType }

// Events returns the channel events are delivered on. It is closed when no
// further events will arrive.
func (s *Subscription) Events() <-chan Event { return s.events }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns nil while the subscription is live or after a successful
// Unsubscribe, and the teardown error otherwise.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Outcomes of deliver.
const (
	delivered = iota
	subscriberFull
	subscriptionEnded
)

// deliver hands ev to the subscriber without blocking. An event that does
// not fit in the buffer is dropped for this subscriber only, so the reader
// never waits on a consumer.
func (s *Subscription) deliver(ev Event) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return subscriptionEnded
	}
	select {
	case s.events <- ev:
		return delivered
	case <-s.done:
		return subscriptionEnded
	default:
		return subscriberFull
	}
}

// activate marks the subscription as acknowledged by the gateway. It
// returns false if the subscription already ended.
func (s *Subscription) activate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.active = true
	return true
}

// end closes the subscription and reports whether this call ended an
// acknowledged subscription. Safe to call more than once.
func (s *Subscription) end(err error) bool {
	var wasActive bool
	s.once.Do(func() {
		s.err = err
		close(s.done)

		s.mu.Lock()
		s.closed = true
		wasActive = s.active
		close(s.events)
		s.mu.Unlock()
	})
	return wasActive
}

// subscriptionTable maps subscription identifiers to subscriptions.
//
// The lock is held only for map access. Delivery happens outside it, so a
// subscriber may call Subscribe or Unsubscribe from its own goroutine.
type subscriptionTable struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	closed error
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{
		subs: make(map[uint64]*Subscription),
	}
}

// add inserts sub. It fails with the teardown error after closeAll, and
// with ErrDuplicateID if the identifier is taken.
func (t *subscriptionTable) add(sub *Subscription) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed != nil {
		return t.closed
	}
	if _, exists := t.subs[sub.id]; exists {
		return ErrDuplicateID
	}
	t.subs[sub.id] = sub
	return nil
}

// lookup returns the subscription for id.
func (t *subscriptionTable) lookup(id uint64) (*Subscription, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sub, ok := t.subs[id]
	return sub, ok
}

// remove deletes the subscription for id and returns it.
func (t *subscriptionTable) remove(id uint64) (*Subscription, bool) {
	t.mu.Lock()
	sub, ok := t.subs[id]
	if ok {
		delete(t.subs, id)
	}
	t.mu.Unlock()
	return sub, ok
}

// closeAll ends every subscription with err and refuses new ones. It
// returns how many subscriptions were ended and how many of those had been
// acknowledged.
func (t *subscriptionTable) closeAll(err error) (ended, active int) {
	t.mu.Lock()
	if t.closed == nil {
		t.closed = err
	}
	subs := t.subs
	t.subs = make(map[uint64]*Subscription)
	t.mu.Unlock()

	for _, sub := range subs {
		if sub.end(err) {
			active++
		}
	}
	return len(subs), active
}

// len returns the number of live subscriptions.
func (t *subscriptionTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// ids returns the live subscription identifiers.
func (t *subscriptionTable) ids() []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]uint64, 0, len(t.subs))
	for id := range t.subs {
		out = append(out, id)
	}
	return out
}
