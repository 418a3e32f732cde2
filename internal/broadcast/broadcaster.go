// Package broadcast fans state-change events out to the live subscribers of
// a scope (a conversation or a run).
package broadcast

import (
	"log/slog"
	"sync"

	"ResearchPipeline/internal/domain"
	"ResearchPipeline/internal/ports"
)

const defaultBuffer = 256

// Subscription is one live connection to a scope. C is closed when the
// subscription ends, either through Unsubscribe or because the subscriber
// fell behind and was dropped.
type Subscription struct {
	C     <-chan domain.Event
	scope string
	id    uint64

	mu     sync.Mutex
	ch     chan domain.Event
	closed bool
}

// Scope returns the scope the subscription listens to.
func (s *Subscription) Scope() string { return s.scope }

// deliver performs a non-blocking send. It reports false when the buffer is
// full, which means the subscriber must be dropped.
func (s *Subscription) deliver(ev domain.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type scope struct {
	// publishMu serialises deliveries so every subscriber observes the same
	// order. It is never held while the subscriber set is edited.
	publishMu sync.Mutex
	seq       uint64
	subs      map[uint64]*Subscription
}

// Broadcaster is a per-scope multicast hub.
type Broadcaster struct {
	mu     sync.Mutex
	scopes map[string]*scope
	nextID uint64
	buffer int
	logger *slog.Logger
}

var _ ports.Publisher = (*Broadcaster)(nil)

// New builds a broadcaster whose subscriptions buffer up to buffer events.
func New(buffer int, logger *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		scopes: map[string]*scope{},
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new subscriber for scopeID. Only events published
// after Subscribe returns are delivered.
func (b *Broadcaster) Subscribe(scopeID string) *Subscription {
	ch := make(chan domain.Event, b.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{C: ch, ch: ch, scope: scopeID, id: b.nextID}
	sc, ok := b.scopes[scopeID]
	if !ok {
		sc = &scope{subs: map[uint64]*Subscription{}}
		b.scopes[scopeID] = sc
	}
	sc.subs[sub.id] = sub
	b.logger.Debug("subscriber added", "scope", scopeID, "subscribers", len(sc.subs))
	return sub
}

// Unsubscribe removes sub and closes its channel. It is safe to call more
// than once and after the subscriber was dropped.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.remove(sub)
	sub.close()
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sc, ok := b.scopes[sub.scope]
	if !ok {
		return
	}
	delete(sc.subs, sub.id)
	// An empty scope keeps its sequence counter until nobody publishes to it
	// any longer; publish drops it lazily.
}

// Publish delivers ev to every subscriber of scopeID without blocking. A
// subscriber whose buffer is full is dropped.
func (b *Broadcaster) Publish(scopeID string, ev domain.Event) {
	sc, snapshot := b.snapshot(scopeID)
	if sc == nil {
		return
	}

	sc.publishMu.Lock()
	sc.seq++
	ev.Seq = sc.seq
	var dropped []*Subscription
	for _, sub := range snapshot {
		if !sub.deliver(ev) {
			dropped = append(dropped, sub)
		}
	}
	sc.publishMu.Unlock()

	for _, sub := range dropped {
		b.logger.Warn("dropping slow subscriber", "scope", scopeID, "subscriber", sub.id)
		b.Unsubscribe(sub)
	}
}

func (b *Broadcaster) snapshot(scopeID string) (*scope, []*Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sc, ok := b.scopes[scopeID]
	if !ok {
		return nil, nil
	}
	if len(sc.subs) == 0 {
		delete(b.scopes, scopeID)
		return nil, nil
	}
	subs := make([]*Subscription, 0, len(sc.subs))
	for _, sub := range sc.subs {
		subs = append(subs, sub)
	}
	return sc, subs
}

// SubscriberCount returns the number of live subscribers for scopeID.
func (b *Broadcaster) SubscriberCount(scopeID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sc, ok := b.scopes[scopeID]; ok {
		return len(sc.subs)
	}
	return 0
}
