// Package echo provides the builtin echo tool plugin, the message
// round-trip demo. It registers typed greet and echo handlers with the
// messenger and mirrors anything else back through HandleMessage.
package echo

import (
	"context"

	"go.uber.org/zap"

	"github.com/atelierdev/atelier/plugin"
)

// PluginID is the id the plugin registers under
const PluginID = "echo"

// Echo answers greet and echo requests
type Echo struct {
	messenger *plugin.Messenger
	log       *zap.SugaredLogger
}

// New creates an echo plugin. The messenger may be nil, in which case only
// the generic HandleMessage surface is available.
func New(messenger *plugin.Messenger, log *zap.SugaredLogger) *Echo {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Echo{
		messenger: messenger,
		log:       log,
	}
}

// Meta describes the plugin
func (e *Echo) Meta() plugin.Metadata {
	return plugin.Metadata{
		ID:          PluginID,
		Name:        "Echo",
		Version:     "1.0.0",
		Description: "Answers greet and echo requests",
		Category:    plugin.CategoryTool,
	}
}

// Initialize installs the typed handlers
func (e *Echo) Initialize(ctx context.Context) error {
	if e.messenger == nil {
		return nil
	}
	if err := e.messenger.RegisterHandler(PluginID, "greet", e.handleGreet); err != nil {
		return err
	}
	return e.messenger.RegisterHandler(PluginID, "echo", e.handleEcho)
}

func (e *Echo) Start(ctx context.Context) error  { return nil }
func (e *Echo) Pause(ctx context.Context) error  { return nil }
func (e *Echo) Resume(ctx context.Context) error { return nil }
func (e *Echo) Stop(ctx context.Context) error   { return nil }

// Dispose removes the typed handlers so a reloaded instance can register
// them again.
func (e *Echo) Dispose(ctx context.Context) error {
	if e.messenger != nil {
		e.messenger.UnregisterHandler(PluginID)
	}
	return nil
}

// HandleMessage mirrors unknown actions back to the sender
func (e *Echo) HandleMessage(ctx context.Context, action string, payload plugin.Payload) (plugin.Payload, error) {
	return plugin.Payload{
		"action": action,
		"echo":   payload,
	}, nil
}

func (e *Echo) ConfigSurface() any { return nil }
func (e *Echo) MainSurface() any   { return nil }

func (e *Echo) handleGreet(ctx context.Context, msg *plugin.Message) (plugin.Payload, error) {
	name, _ := msg.Payload["name"].(string)
	if name == "" {
		name = "world"
	}
	return plugin.Payload{"message": "Hello, " + name}, nil
}

func (e *Echo) handleEcho(ctx context.Context, msg *plugin.Message) (plugin.Payload, error) {
	return msg.Payload, nil
}

// Verify Echo implements Plugin
var _ plugin.Plugin = (*Echo)(nil)
