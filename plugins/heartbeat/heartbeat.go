// Package heartbeat provides the builtin heartbeat service plugin. While
// started it publishes heartbeat.tick events on a fixed interval, giving
// other plugins a shared clock to subscribe to.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atelierdev/atelier/errors"
	"github.com/atelierdev/atelier/plugin"
)

const (
	// PluginID is the id the plugin registers under
	PluginID = "heartbeat"

	// EventTick is published on every interval
	EventTick = "heartbeat.tick"

	defaultInterval = 5 * time.Second
)

// Heartbeat publishes periodic tick events on the bus
type Heartbeat struct {
	bus      *plugin.Bus
	interval time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	ticks    uint64
	lastTick time.Time

	log *zap.SugaredLogger
}

// New creates a heartbeat plugin publishing on bus. A non-positive
// interval falls back to 5s.
func New(bus *plugin.Bus, interval time.Duration, log *zap.SugaredLogger) *Heartbeat {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Heartbeat{
		bus:      bus,
		interval: interval,
		log:      log,
	}
}

// Meta describes the plugin
func (h *Heartbeat) Meta() plugin.Metadata {
	return plugin.Metadata{
		ID:          PluginID,
		Name:        "Heartbeat",
		Version:     "1.0.0",
		Description: "Publishes heartbeat.tick events on a fixed interval",
		Category:    plugin.CategoryService,
		Permissions: []plugin.Permission{plugin.PermissionBackground},
	}
}

// Initialize is a no-op; the heartbeat has nothing to prepare
func (h *Heartbeat) Initialize(ctx context.Context) error { return nil }

// Start launches the tick loop
func (h *Heartbeat) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.wg.Add(1)
	go h.run(loopCtx)

	h.log.Infow("heartbeat started", "interval", h.interval)
	return nil
}

// Pause halts ticking; the tick counter survives
func (h *Heartbeat) Pause(ctx context.Context) error {
	h.stopLoop()
	return nil
}

// Resume restarts the tick loop
func (h *Heartbeat) Resume(ctx context.Context) error {
	return h.Start(ctx)
}

// Stop halts the tick loop
func (h *Heartbeat) Stop(ctx context.Context) error {
	h.stopLoop()
	h.log.Infow("heartbeat stopped", "ticks", h.Ticks())
	return nil
}

// Dispose is a no-op; Stop already tore the loop down
func (h *Heartbeat) Dispose(ctx context.Context) error { return nil }

// HandleMessage answers stats queries
func (h *Heartbeat) HandleMessage(ctx context.Context, action string, payload plugin.Payload) (plugin.Payload, error) {
	switch action {
	case "stats":
		h.mu.Lock()
		defer h.mu.Unlock()
		return plugin.Payload{
			"ticks":     h.ticks,
			"last_tick": h.lastTick,
			"interval":  h.interval.String(),
		}, nil
	default:
		return nil, errors.NewNotFoundError("heartbeat does not handle %q", action)
	}
}

func (h *Heartbeat) ConfigSurface() any { return nil }
func (h *Heartbeat) MainSurface() any   { return nil }

// Ticks returns how many ticks have been published
func (h *Heartbeat) Ticks() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ticks
}

// stopLoop cancels the tick loop and waits for it to exit. The mutex is
// released before the wait; the loop takes it on every tick.
func (h *Heartbeat) stopLoop() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		h.wg.Wait()
	}
}

func (h *Heartbeat) run(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.mu.Lock()
			h.ticks++
			h.lastTick = now
			seq := h.ticks
			h.mu.Unlock()

			h.bus.Publish(EventTick, PluginID, plugin.Payload{
				"seq": seq,
				"at":  now,
			})
		}
	}
}

// Verify Heartbeat implements Plugin
var _ plugin.Plugin = (*Heartbeat)(nil)
