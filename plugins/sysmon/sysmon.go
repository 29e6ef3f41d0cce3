// Package sysmon provides the builtin system monitor plugin. While started
// it samples system memory through gopsutil and publishes the readings as
// sysmon.sample events. Its sampling interval survives hot reloads.
package sysmon

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/atelierdev/atelier/errors"
	"github.com/atelierdev/atelier/plugin"
)

const (
	// PluginID is the id the plugin registers under
	PluginID = "sysmon"

	// EventSample is published on every reading
	EventSample = "sysmon.sample"

	defaultSampleInterval = 30 * time.Second
)

// Sysmon samples system memory and publishes the readings
type Sysmon struct {
	bus *plugin.Bus

	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	samples  uint64
	last     plugin.Payload

	log *zap.SugaredLogger
}

// New creates a system monitor publishing on bus. A non-positive interval
// falls back to 30s.
func New(bus *plugin.Bus, interval time.Duration, log *zap.SugaredLogger) *Sysmon {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	return &Sysmon{
		bus:      bus,
		interval: interval,
		log:      log,
	}
}

// Meta describes the plugin. The heartbeat dependency is optional: when
// both are enabled the resolver starts heartbeat first.
func (s *Sysmon) Meta() plugin.Metadata {
	return plugin.Metadata{
		ID:          PluginID,
		Name:        "System Monitor",
		Version:     "1.0.0",
		Description: "Samples system memory and publishes sysmon.sample events",
		Category:    plugin.CategorySystem,
		Permissions: []plugin.Permission{plugin.PermissionSystem, plugin.PermissionBackground},
		Dependencies: []plugin.Dependency{
			{ID: "heartbeat", Optional: true},
		},
	}
}

// Initialize is a no-op
func (s *Sysmon) Initialize(ctx context.Context) error { return nil }

// Start launches the sampling loop
func (s *Sysmon) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(loopCtx)

	s.log.Infow("system monitor started", "interval", s.interval)
	return nil
}

// Pause halts sampling
func (s *Sysmon) Pause(ctx context.Context) error {
	s.stopLoop()
	return nil
}

// Resume restarts the sampling loop
func (s *Sysmon) Resume(ctx context.Context) error {
	return s.Start(ctx)
}

// Stop halts the sampling loop
func (s *Sysmon) Stop(ctx context.Context) error {
	s.stopLoop()
	return nil
}

// Dispose is a no-op
func (s *Sysmon) Dispose(ctx context.Context) error { return nil }

// HandleMessage answers sample and stats queries
func (s *Sysmon) HandleMessage(ctx context.Context, action string, payload plugin.Payload) (plugin.Payload, error) {
	switch action {
	case "sample":
		reading, err := s.read()
		if err != nil {
			return nil, err
		}
		return reading, nil
	case "stats":
		s.mu.Lock()
		defer s.mu.Unlock()
		return plugin.Payload{
			"samples":  s.samples,
			"last":     s.last,
			"interval": s.interval.String(),
		}, nil
	default:
		return nil, errors.NewNotFoundError("sysmon does not handle %q", action)
	}
}

func (s *Sysmon) ConfigSurface() any { return nil }
func (s *Sysmon) MainSurface() any   { return nil }

// ConfigSnapshot captures the sampling interval for hot reload
func (s *Sysmon) ConfigSnapshot() plugin.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return plugin.Payload{"interval_ms": s.interval.Milliseconds()}
}

// RestoreConfig applies a snapshot taken from a previous instance. The
// running loop picks the new interval up on its next cycle.
func (s *Sysmon) RestoreConfig(config plugin.Payload) error {
	raw, ok := config["interval_ms"]
	if !ok {
		return errors.New("snapshot is missing interval_ms")
	}

	var ms int64
	switch v := raw.(type) {
	case int:
		ms = int64(v)
	case int64:
		ms = v
	case float64:
		ms = int64(v)
	default:
		return errors.Newf("interval_ms has unsupported type %T", raw)
	}
	if ms <= 0 {
		return errors.Newf("interval_ms must be positive, got %d", ms)
	}

	s.mu.Lock()
	s.interval = time.Duration(ms) * time.Millisecond
	s.mu.Unlock()
	return nil
}

// Interval returns the current sampling interval
func (s *Sysmon) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Samples returns how many readings have been published
func (s *Sysmon) Samples() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

func (s *Sysmon) stopLoop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
}

// run samples until the loop context is cancelled. The interval is read
// every cycle so a restored config takes effect without a restart.
func (s *Sysmon) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		interval := s.interval
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			s.sample()
		}
	}
}

func (s *Sysmon) sample() {
	reading, err := s.read()
	if err != nil {
		s.log.Warnw("memory sample failed", "error", err)
		return
	}

	s.mu.Lock()
	s.samples++
	s.last = reading
	s.mu.Unlock()

	s.bus.Publish(EventSample, PluginID, reading)
}

// read takes one memory reading
func (s *Sysmon) read() (plugin.Payload, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return nil, errors.Wrap(err, "reading system memory")
	}
	return plugin.Payload{
		"total_mb":     v.Total / 1024 / 1024,
		"available_mb": v.Available / 1024 / 1024,
		"used_percent": v.UsedPercent,
	}, nil
}

// Verify Sysmon implements Stateful
var _ plugin.Stateful = (*Sysmon)(nil)
