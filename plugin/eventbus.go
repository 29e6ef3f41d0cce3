package plugin

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atelierdev/atelier/errors"
)

// defaultStreamBuffer is the channel depth for pull-based event streams
const defaultStreamBuffer = 16

// Event is an unaddressed broadcast-only notification. Immutable once
// published.
type Event struct {
	// Type names what happened (e.g., "heartbeat.tick", "plugin.state")
	Type string

	// Source identifies the publisher, usually a plugin id
	Source string

	// Payload carries the event data
	Payload Payload

	// Timestamp records publication time
	Timestamp time.Time
}

// Listener receives matching events. Errors are logged and isolated;
// they never prevent delivery to later subscribers.
type Listener func(Event) error

// BusConfig tunes the bus. The zero value uses the defaults.
type BusConfig struct {
	// StreamBuffer is the channel depth for Stream consumers
	StreamBuffer int
}

// Subscription is one listener registration. Cancel is synchronous: no
// callback fires after Cancel returns. A listener must not cancel its own
// subscription from inside the callback; use Once for self-removal.
type Subscription struct {
	// ID uniquely identifies the subscription
	ID string

	eventType string
	source    string
	filter    func(Event) bool
	owner     string
	once      bool
	listener  Listener

	mu        sync.Mutex
	cancelled bool

	bus *Bus
}

// Cancel removes the subscription. Blocks until any in-flight callback
// completes.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.remove(s)
	}
}

// SubscribeOption configures a subscription
type SubscribeOption func(*Subscription)

// WaitOption configures a WaitFor call
type WaitOption = SubscribeOption

// WithEventType restricts the subscription to one event type
func WithEventType(eventType string) SubscribeOption {
	return func(s *Subscription) { s.eventType = eventType }
}

// WithSource restricts the subscription to one source
func WithSource(source string) SubscribeOption {
	return func(s *Subscription) { s.source = source }
}

// WithFilter adds a predicate that must also hold. Filters AND with the
// type and source constraints.
func WithFilter(filter func(Event) bool) SubscribeOption {
	return func(s *Subscription) { s.filter = filter }
}

// WithOwner ties the subscription to a plugin: it only receives events
// while the plugin is started, and CleanupPlugin removes it.
func WithOwner(pluginID string) SubscribeOption {
	return func(s *Subscription) { s.owner = pluginID }
}

// Once makes the subscription fire at most one time
func Once() SubscribeOption {
	return func(s *Subscription) { s.once = true }
}

// Bus fans events out to subscribers, decoupled from addressing. Delivery
// is synchronous and in subscription order; a failing or panicking
// listener is isolated and never blocks the remaining subscribers.
type Bus struct {
	registry *Registry // nil buses skip the owner-started check

	mu         sync.Mutex
	subs       []*Subscription
	eventStats map[string]uint64 // "{type}_{source}" -> publish count

	streamBuffer int

	published     atomic.Uint64
	streamDropped atomic.Uint64

	log *zap.SugaredLogger
}

// NewBus creates an event bus. The registry may be nil, in which case
// owner-started checks are skipped.
func NewBus(registry *Registry, cfg BusConfig, log *zap.SugaredLogger) *Bus {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	buffer := cfg.StreamBuffer
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}

	return &Bus{
		registry:     registry,
		eventStats:   make(map[string]uint64),
		streamBuffer: buffer,
		log:          log,
	}
}

// Publish constructs an Event and delivers it synchronously to every
// matching subscription, in subscription order. Subscriptions owned by
// plugins that are not started are skipped; ownerless subscriptions
// always deliver.
func (b *Bus) Publish(eventType, source string, payload Payload) {
	e := Event{
		Type:      eventType,
		Source:    source,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	b.mu.Lock()
	b.eventStats[statKey(eventType, source)]++
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	b.published.Add(1)

	delivered := 0
	for _, s := range subs {
		if !b.matches(s, e) {
			continue
		}
		if !b.ownerStarted(s) {
			continue
		}
		if consumed := b.invoke(s, e); consumed {
			b.remove(s)
		}
		delivered++
	}

	b.log.Debugw("event published",
		"event_type", eventType,
		"source", source,
		"count", delivered)
}

// Subscribe registers a listener. With no options it receives every event.
func (b *Bus) Subscribe(listener Listener, opts ...SubscribeOption) *Subscription {
	s := &Subscription{
		ID:       uuid.NewString(),
		listener: listener,
		bus:      b,
	}
	for _, opt := range opts {
		opt(s)
	}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s
}

// On subscribes to one event type
func (b *Bus) On(eventType string, listener Listener) *Subscription {
	return b.Subscribe(listener, WithEventType(eventType))
}

// From subscribes to every event from one source
func (b *Bus) From(source string, listener Listener) *Subscription {
	return b.Subscribe(listener, WithSource(source))
}

// Stream returns a channel of matching events. The channel closes when ctx
// is done. Slow consumers drop events rather than block publishers; drops
// are counted.
func (b *Bus) Stream(ctx context.Context, opts ...SubscribeOption) <-chan Event {
	ch := make(chan Event, b.streamBuffer)

	sub := b.Subscribe(func(e Event) error {
		select {
		case ch <- e:
		default:
			b.streamDropped.Add(1)
		}
		return nil
	}, opts...)

	go func() {
		<-ctx.Done()
		sub.Cancel()
		close(ch)
	}()

	return ch
}

// StreamOf returns a channel of one event type
func (b *Bus) StreamOf(ctx context.Context, eventType string) <-chan Event {
	return b.Stream(ctx, WithEventType(eventType))
}

// StreamFrom returns a channel of events from one source
func (b *Bus) StreamFrom(ctx context.Context, source string) <-chan Event {
	return b.Stream(ctx, WithSource(source))
}

// WaitFor blocks until the first event matching the type and options, or
// ErrTimeout when ctx is done first.
func (b *Bus) WaitFor(ctx context.Context, eventType string, opts ...WaitOption) (Event, error) {
	ch := make(chan Event, 1)

	all := make([]SubscribeOption, 0, len(opts)+2)
	all = append(all, WithEventType(eventType), Once())
	all = append(all, opts...)

	sub := b.Subscribe(func(e Event) error {
		ch <- e
		return nil
	}, all...)
	defer sub.Cancel()

	select {
	case e := <-ch:
		return e, nil
	case <-ctx.Done():
		return Event{}, errors.NewTimeoutError("no %q event before deadline", eventType)
	}
}

// ClearSubscriptions cancels every subscription
func (b *Bus) ClearSubscriptions() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		s.cancelled = true
		s.mu.Unlock()
	}
}

// ClearStats resets event and drop counters
func (b *Bus) ClearStats() {
	b.mu.Lock()
	b.eventStats = make(map[string]uint64)
	b.mu.Unlock()
	b.published.Store(0)
	b.streamDropped.Store(0)
}

// CleanupPlugin cancels every subscription owned by a plugin
func (b *Bus) CleanupPlugin(pluginID string) {
	b.mu.Lock()
	var owned []*Subscription
	live := b.subs[:0]
	for _, s := range b.subs {
		if s.owner == pluginID {
			owned = append(owned, s)
			continue
		}
		live = append(live, s)
	}
	b.subs = live
	b.mu.Unlock()

	for _, s := range owned {
		s.mu.Lock()
		s.cancelled = true
		s.mu.Unlock()
	}

	if len(owned) > 0 {
		b.log.Debugw("bus subscriptions cleaned up",
			"plugin_id", pluginID,
			"count", len(owned))
	}
}

// EventStats returns publish counts keyed "{type}_{source}"
func (b *Bus) EventStats() map[string]uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := make(map[string]uint64, len(b.eventStats))
	for k, v := range b.eventStats {
		stats[k] = v
	}
	return stats
}

// SubscriptionStats returns live subscription counts keyed
// "{type-or-*}_{source-or-*}".
func (b *Bus) SubscriptionStats() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := make(map[string]int)
	for _, s := range b.subs {
		eventType := s.eventType
		if eventType == "" {
			eventType = "*"
		}
		source := s.source
		if source == "" {
			source = "*"
		}
		stats[statKey(eventType, source)]++
	}
	return stats
}

// Status returns bus diagnostics
func (b *Bus) Status() map[string]any {
	b.mu.Lock()
	subCount := len(b.subs)
	b.mu.Unlock()

	return map[string]any{
		"subscriptions":  subCount,
		"published":      b.published.Load(),
		"stream_dropped": b.streamDropped.Load(),
	}
}

func statKey(eventType, source string) string {
	return eventType + "_" + source
}

// matches applies the subscription's type, source, and filter constraints.
// A panicking filter counts as no match and is logged.
func (b *Bus) matches(s *Subscription, e Event) bool {
	if s.eventType != "" && s.eventType != e.Type {
		return false
	}
	if s.source != "" && s.source != e.Source {
		return false
	}
	if s.filter == nil {
		return true
	}

	matched := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				matched = false
				b.log.Errorw("event filter panicked",
					"subscription_id", s.ID,
					"event_type", e.Type,
					"error", fmt.Sprintf("%v", r))
			}
		}()
		matched = s.filter(e)
	}()
	return matched
}

// ownerStarted reports whether the subscription's owner may receive events
func (b *Bus) ownerStarted(s *Subscription) bool {
	if s.owner == "" || b.registry == nil {
		return true
	}
	state, ok := b.registry.State(s.owner)
	return ok && state == StateStarted
}

// invoke runs the listener under the subscription lock, isolating panics
// and errors. Returns true when a once-subscription consumed its delivery
// and should be pruned.
func (b *Bus) invoke(s *Subscription, e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return false
	}
	consumed := false
	if s.once {
		s.cancelled = true
		consumed = true
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				b.log.Errorw("event listener panicked",
					"subscription_id", s.ID,
					"event_type", e.Type,
					"source", e.Source,
					"error", fmt.Sprintf("%v", r))
			}
		}()
		if err := s.listener(e); err != nil {
			b.log.Warnw("event listener failed",
				"subscription_id", s.ID,
				"event_type", e.Type,
				"source", e.Source,
				"error", err)
		}
	}()

	return consumed
}

// remove deletes a subscription from the ordered list
func (b *Bus) remove(target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}
