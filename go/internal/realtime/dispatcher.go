package realtime

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/models"
)

// Subscriber receives envelopes of the types it is subscribed to.
// Subscribers are compared by identity, so implementations should be pointers.
type Subscriber interface {
	HandleEnvelope(env models.Envelope)
}

type funcSubscriber struct {
	fn func(models.Envelope)
}

func (s *funcSubscriber) HandleEnvelope(env models.Envelope) { s.fn(env) }

// Func wraps fn in a Subscriber. Keep the returned value to unsubscribe later.
func Func(fn func(models.Envelope)) Subscriber {
	return &funcSubscriber{fn: fn}
}

// Dispatcher fans inbound envelopes out to the subscribers registered for their type.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[models.EnvelopeType]map[Subscriber]struct{}
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[models.EnvelopeType]map[Subscriber]struct{}),
	}
}

// Subscribe registers s for envelopes of type t. Registering twice is a no-op.
func (d *Dispatcher) Subscribe(t models.EnvelopeType, s Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.subscribers[t]
	if !ok {
		set = make(map[Subscriber]struct{})
		d.subscribers[t] = set
	}
	set[s] = struct{}{}

	log.Debug().
		Str("envelope_type", string(t)).
		Int("subscribers", len(set)).
		Msg("subscriber registered")
}

// Unsubscribe removes s from type t. Unknown subscribers are ignored.
func (d *Dispatcher) Unsubscribe(t models.EnvelopeType, s Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.subscribers[t]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(d.subscribers, t)
	}
}

// Clear drops every subscription.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.subscribers)
}

// Count returns the number of subscribers registered for t.
func (d *Dispatcher) Count(t models.EnvelopeType) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[t])
}

// Dispatch delivers env synchronously to every subscriber of its type.
// The subscriber set is snapshotted first; changes made by a subscriber
// during delivery apply to later dispatches only.
func (d *Dispatcher) Dispatch(env models.Envelope) int {
	d.mu.RLock()
	set := d.subscribers[env.Type]
	targets := make([]Subscriber, 0, len(set))
	for s := range set {
		targets = append(targets, s)
	}
	d.mu.RUnlock()

	for _, s := range targets {
		s.HandleEnvelope(env)
	}
	return len(targets)
}
