package plugin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierdev/atelier/errors"
)

func newTestBus(cfg BusConfig) *Bus {
	return NewBus(nil, cfg, nil)
}

// =============================================================================
// Publish / Subscribe Tests
// =============================================================================

func TestBus_PublishSubscribe(t *testing.T) {
	t.Run("delivers in subscription order", func(t *testing.T) {
		bus := newTestBus(BusConfig{})

		var order []string
		bus.Subscribe(func(e Event) error {
			order = append(order, "first")
			return nil
		})
		bus.Subscribe(func(e Event) error {
			order = append(order, "second")
			return nil
		})
		bus.Subscribe(func(e Event) error {
			order = append(order, "third")
			return nil
		})

		bus.Publish("tick", "clock", nil)
		assert.Equal(t, []string{"first", "second", "third"}, order)
	})

	t.Run("carries type, source, payload, and timestamp", func(t *testing.T) {
		bus := newTestBus(BusConfig{})

		var got Event
		bus.Subscribe(func(e Event) error {
			got = e
			return nil
		})

		before := time.Now()
		bus.Publish("tick", "clock", Payload{"seq": 7})

		assert.Equal(t, "tick", got.Type)
		assert.Equal(t, "clock", got.Source)
		assert.Equal(t, 7, got.Payload["seq"])
		assert.False(t, got.Timestamp.Before(before))
	})

	t.Run("publish without subscribers", func(t *testing.T) {
		bus := newTestBus(BusConfig{})
		// Should not panic
		bus.Publish("tick", "clock", nil)
	})
}

func TestBus_Matching(t *testing.T) {
	t.Run("On restricts by type", func(t *testing.T) {
		bus := newTestBus(BusConfig{})

		var ticks int
		bus.On("tick", func(e Event) error {
			ticks++
			return nil
		})

		bus.Publish("tick", "clock", nil)
		bus.Publish("tock", "clock", nil)
		assert.Equal(t, 1, ticks)
	})

	t.Run("From restricts by source", func(t *testing.T) {
		bus := newTestBus(BusConfig{})

		var fromClock int
		bus.From("clock", func(e Event) error {
			fromClock++
			return nil
		})

		bus.Publish("tick", "clock", nil)
		bus.Publish("tick", "metronome", nil)
		assert.Equal(t, 1, fromClock)
	})

	t.Run("type and source constraints AND together", func(t *testing.T) {
		bus := newTestBus(BusConfig{})

		var hits int
		bus.Subscribe(func(e Event) error {
			hits++
			return nil
		}, WithEventType("tick"), WithSource("clock"))

		bus.Publish("tick", "clock", nil)
		bus.Publish("tick", "metronome", nil)
		bus.Publish("tock", "clock", nil)
		assert.Equal(t, 1, hits)
	})

	t.Run("filter predicate", func(t *testing.T) {
		bus := newTestBus(BusConfig{})

		var hits int
		bus.On("sample", func(e Event) error {
			hits++
			return nil
		})
		bus.Subscribe(func(e Event) error {
			hits += 10
			return nil
		}, WithEventType("sample"), WithFilter(func(e Event) bool {
			n, _ := e.Payload["n"].(int)
			return n > 2
		}))

		bus.Publish("sample", "src", Payload{"n": 1})
		bus.Publish("sample", "src", Payload{"n": 5})
		assert.Equal(t, 12, hits)
	})

	t.Run("panicking filter counts as no match", func(t *testing.T) {
		bus := newTestBus(BusConfig{})

		var filtered, plain int
		bus.Subscribe(func(e Event) error {
			filtered++
			return nil
		}, WithFilter(func(e Event) bool {
			panic("bad predicate")
		}))
		bus.Subscribe(func(e Event) error {
			plain++
			return nil
		})

		// Should not panic
		bus.Publish("tick", "clock", nil)
		assert.Equal(t, 0, filtered)
		assert.Equal(t, 1, plain)
	})
}

// =============================================================================
// Isolation Tests
// =============================================================================

func TestBus_ListenerIsolation(t *testing.T) {
	bus := newTestBus(BusConfig{})

	var panicked, failed, healthy int
	bus.Subscribe(func(e Event) error {
		panicked++
		panic("listener exploded")
	})
	bus.Subscribe(func(e Event) error {
		failed++
		return errors.New("listener failed")
	})
	bus.Subscribe(func(e Event) error {
		healthy++
		return nil
	})

	// Should not panic, and every listener still runs
	bus.Publish("tick", "clock", nil)
	bus.Publish("tick", "clock", nil)

	assert.Equal(t, 2, panicked)
	assert.Equal(t, 2, failed)
	assert.Equal(t, 2, healthy)
}

// =============================================================================
// Once / Cancel Tests
// =============================================================================

func TestBus_Once(t *testing.T) {
	bus := newTestBus(BusConfig{})

	var hits int
	bus.Subscribe(func(e Event) error {
		hits++
		return nil
	}, WithEventType("tick"), Once())

	bus.Publish("tick", "clock", nil)
	bus.Publish("tick", "clock", nil)

	assert.Equal(t, 1, hits)
	assert.Equal(t, 0, bus.Status()["subscriptions"], "consumed subscription must be pruned")
}

func TestBus_Cancel(t *testing.T) {
	t.Run("stops delivery", func(t *testing.T) {
		bus := newTestBus(BusConfig{})

		var hits int
		sub := bus.Subscribe(func(e Event) error {
			hits++
			return nil
		})

		bus.Publish("tick", "clock", nil)
		sub.Cancel()
		bus.Publish("tick", "clock", nil)

		assert.Equal(t, 1, hits)
		assert.Equal(t, 0, bus.Status()["subscriptions"])
	})

	t.Run("idempotent", func(t *testing.T) {
		bus := newTestBus(BusConfig{})
		sub := bus.Subscribe(func(e Event) error { return nil })
		sub.Cancel()
		sub.Cancel()
	})

	t.Run("cancellation during delivery suppresses later callbacks", func(t *testing.T) {
		bus := newTestBus(BusConfig{})

		var lateHits int
		var late *Subscription
		bus.Subscribe(func(e Event) error {
			late.Cancel()
			return nil
		})
		late = bus.Subscribe(func(e Event) error {
			lateHits++
			return nil
		})

		bus.Publish("tick", "clock", nil)
		assert.Equal(t, 0, lateHits)
	})
}

// =============================================================================
// Owner Gating Tests
// =============================================================================

func TestBus_OwnerGating(t *testing.T) {
	registry := NewRegistry(nil)
	bus := NewBus(registry, BusConfig{}, nil)

	require.NoError(t, registry.Register(newMockPlugin("owner")))

	var owned, ownerless int
	bus.Subscribe(func(e Event) error {
		owned++
		return nil
	}, WithOwner("owner"))
	bus.Subscribe(func(e Event) error {
		ownerless++
		return nil
	})

	// Owner is only loaded: its subscription stays silent
	bus.Publish("tick", "clock", nil)
	assert.Equal(t, 0, owned)
	assert.Equal(t, 1, ownerless)

	require.NoError(t, registry.SetState("owner", StateStarted))
	bus.Publish("tick", "clock", nil)
	assert.Equal(t, 1, owned)

	require.NoError(t, registry.SetState("owner", StatePaused))
	bus.Publish("tick", "clock", nil)
	assert.Equal(t, 1, owned)
	assert.Equal(t, 3, ownerless)

	// Subscriptions owned by unknown plugins never fire
	var ghost int
	bus.Subscribe(func(e Event) error {
		ghost++
		return nil
	}, WithOwner("ghost"))
	bus.Publish("tick", "clock", nil)
	assert.Equal(t, 0, ghost)
}

// =============================================================================
// Stream Tests
// =============================================================================

func TestBus_Stream(t *testing.T) {
	t.Run("delivers matching events", func(t *testing.T) {
		bus := newTestBus(BusConfig{})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch := bus.StreamOf(ctx, "tick")

		bus.Publish("tick", "clock", Payload{"seq": 1})
		// Delivery is synchronous, so a matching event is already buffered
		e := <-ch
		assert.Equal(t, "tick", e.Type)
		assert.Equal(t, 1, e.Payload["seq"])

		bus.Publish("tock", "clock", nil)
		assert.Empty(t, ch, "non-matching events must not reach the stream")
	})

	t.Run("context cancellation closes the channel", func(t *testing.T) {
		bus := newTestBus(BusConfig{})
		ctx, cancel := context.WithCancel(context.Background())

		ch := bus.StreamFrom(ctx, "clock")
		cancel()

		select {
		case _, ok := <-ch:
			assert.False(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("stream never closed")
		}

		// Publishing after close must not panic: the subscription was
		// cancelled before the channel closed
		bus.Publish("tick", "clock", nil)
	})

	t.Run("slow consumers drop instead of blocking", func(t *testing.T) {
		bus := newTestBus(BusConfig{StreamBuffer: 2})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch := bus.StreamOf(ctx, "tick")

		bus.Publish("tick", "clock", Payload{"seq": 1})
		bus.Publish("tick", "clock", Payload{"seq": 2})
		bus.Publish("tick", "clock", Payload{"seq": 3})

		assert.Equal(t, uint64(1), bus.Status()["stream_dropped"])
		assert.Equal(t, 1, (<-ch).Payload["seq"])
		assert.Equal(t, 2, (<-ch).Payload["seq"])
	})
}

// =============================================================================
// WaitFor Tests
// =============================================================================

func TestBus_WaitFor(t *testing.T) {
	t.Run("returns the first matching event", func(t *testing.T) {
		bus := newTestBus(BusConfig{})

		done := make(chan struct{})
		defer close(done)
		go func() {
			ticker := time.NewTicker(10 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					bus.Publish("build.finished", "ci", Payload{"ok": true})
				}
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		e, err := bus.WaitFor(ctx, "build.finished")
		require.NoError(t, err)
		assert.Equal(t, true, e.Payload["ok"])
		assert.Equal(t, "ci", e.Source)
	})

	t.Run("source option narrows the wait", func(t *testing.T) {
		bus := newTestBus(BusConfig{})

		done := make(chan struct{})
		defer close(done)
		go func() {
			ticker := time.NewTicker(10 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					bus.Publish("tick", "metronome", nil)
					bus.Publish("tick", "clock", nil)
				}
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		e, err := bus.WaitFor(ctx, "tick", WithSource("clock"))
		require.NoError(t, err)
		assert.Equal(t, "clock", e.Source)
	})

	t.Run("deadline", func(t *testing.T) {
		bus := newTestBus(BusConfig{})

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := bus.WaitFor(ctx, "never")
		assert.Error(t, err)
		assert.True(t, errors.IsTimeoutError(err))
	})
}

// =============================================================================
// Stats and Cleanup Tests
// =============================================================================

func TestBus_Stats(t *testing.T) {
	bus := newTestBus(BusConfig{})

	bus.Publish("tick", "clock", nil)
	bus.Publish("tick", "clock", nil)
	bus.Publish("tick", "metronome", nil)

	stats := bus.EventStats()
	assert.Equal(t, uint64(2), stats["tick_clock"])
	assert.Equal(t, uint64(1), stats["tick_metronome"])

	assert.Equal(t, uint64(3), bus.Status()["published"])

	bus.ClearStats()
	assert.Empty(t, bus.EventStats())
	assert.Equal(t, uint64(0), bus.Status()["published"])
}

func TestBus_SubscriptionStats(t *testing.T) {
	bus := newTestBus(BusConfig{})

	bus.On("tick", func(e Event) error { return nil })
	bus.From("clock", func(e Event) error { return nil })
	bus.Subscribe(func(e Event) error { return nil })
	bus.Subscribe(func(e Event) error { return nil }, WithEventType("tick"), WithSource("clock"))

	stats := bus.SubscriptionStats()
	assert.Equal(t, 1, stats["tick_*"])
	assert.Equal(t, 1, stats["*_clock"])
	assert.Equal(t, 1, stats["*_*"])
	assert.Equal(t, 1, stats["tick_clock"])
}

func TestBus_ClearSubscriptions(t *testing.T) {
	bus := newTestBus(BusConfig{})

	var hits int
	bus.Subscribe(func(e Event) error {
		hits++
		return nil
	})
	bus.Subscribe(func(e Event) error {
		hits++
		return nil
	})

	bus.ClearSubscriptions()
	bus.Publish("tick", "clock", nil)

	assert.Equal(t, 0, hits)
	assert.Equal(t, 0, bus.Status()["subscriptions"])
}

func TestBus_CleanupPlugin(t *testing.T) {
	bus := newTestBus(BusConfig{})

	var fromA, fromB, unowned int
	bus.Subscribe(func(e Event) error {
		fromA++
		return nil
	}, WithOwner("a"))
	bus.Subscribe(func(e Event) error {
		fromA++
		return nil
	}, WithOwner("a"))
	bus.Subscribe(func(e Event) error {
		fromB++
		return nil
	}, WithOwner("b"))
	bus.Subscribe(func(e Event) error {
		unowned++
		return nil
	})

	bus.CleanupPlugin("a")
	bus.Publish("tick", "clock", nil)

	assert.Equal(t, 0, fromA)
	assert.Equal(t, 1, fromB)
	assert.Equal(t, 1, unowned)
	assert.Equal(t, 2, bus.Status()["subscriptions"])
}

// =============================================================================
// Concurrency Tests
// =============================================================================

func TestBus_Concurrency(t *testing.T) {
	bus := newTestBus(BusConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish("tick", "clock", Payload{"n": j})
			}
		}()
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				sub := bus.On("tick", func(e Event) error { return nil })
				sub.Cancel()
			}
		}()
	}

	// Should not panic or race
	wg.Wait()
}
