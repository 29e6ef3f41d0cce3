package plugin

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atelierdev/atelier/errors"
)

const (
	// defaultRequestTimeout bounds requests when no timeout is configured
	defaultRequestTimeout = 5 * time.Second
	// defaultMailboxBuffer is the per-target queue depth
	defaultMailboxBuffer = 64
)

// Handler processes one addressed message for a specific action,
// overriding the plugin's generic HandleMessage for that action.
type Handler func(ctx context.Context, msg *Message) (Payload, error)

// MessengerConfig tunes the messenger. The zero value uses the defaults.
type MessengerConfig struct {
	// DefaultTimeout bounds requests when the caller passes 0
	DefaultTimeout time.Duration

	// MailboxBuffer is the per-target message queue depth
	MailboxBuffer int
}

// waiter is one pending request. Removing it from the waiters map claims
// it; the claimant is the only sender on ch, so the buffered send never
// blocks and exactly one result completes a request.
type waiter struct {
	ch       chan waiterResult
	senderID string
	targetID string
}

type waiterResult struct {
	payload Payload
	err     error
}

// envelope is one queued delivery
type envelope struct {
	ctx context.Context // request context; nil for notifications
	msg *Message
}

// mailbox is a per-target FIFO queue drained by one goroutine, giving
// per-(sender, target) delivery order without global sequencing.
type mailbox struct {
	ch   chan envelope
	quit chan struct{}
}

// Messenger delivers addressed messages between plugins: request/response
// with correlation, fire-and-forget notifications, and broadcasts.
// Delivery requires the target to be started.
type Messenger struct {
	registry *Registry

	mu        sync.Mutex
	waiters   map[string]*waiter            // request id -> pending waiter
	handlers  map[string]map[string]Handler // plugin id -> action -> handler
	mailboxes map[string]*mailbox           // target id -> queue

	defaultTimeout time.Duration
	mailboxBuffer  int

	delivered     atomic.Uint64
	timeouts      atomic.Uint64
	lateResponses atomic.Uint64
	dropped       atomic.Uint64
	broadcasts    atomic.Uint64

	log *zap.SugaredLogger
}

// NewMessenger creates a messenger over a registry
func NewMessenger(registry *Registry, cfg MessengerConfig, log *zap.SugaredLogger) *Messenger {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	buffer := cfg.MailboxBuffer
	if buffer <= 0 {
		buffer = defaultMailboxBuffer
	}

	return &Messenger{
		registry:       registry,
		waiters:        make(map[string]*waiter),
		handlers:       make(map[string]map[string]Handler),
		mailboxes:      make(map[string]*mailbox),
		defaultTimeout: timeout,
		mailboxBuffer:  buffer,
		log:            log,
	}
}

// Request sends a request to a started plugin and blocks until the matched
// response, the timeout (0 = configured default), or ctx cancellation.
// A response arriving after the timeout is discarded and counted, never
// applied.
func (m *Messenger) Request(ctx context.Context, senderID, targetID, action string, payload Payload, timeout time.Duration) (Payload, error) {
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	if err := m.checkTarget(targetID); err != nil {
		return nil, err
	}

	msg := NewRequest(senderID, targetID, action, payload, timeout)
	w := &waiter{
		ch:       make(chan waiterResult, 1),
		senderID: senderID,
		targetID: targetID,
	}

	m.mu.Lock()
	m.waiters[msg.ID] = w
	mb := m.mailboxLocked(targetID)
	m.mu.Unlock()

	if err := m.enqueue(ctx, mb, envelope{ctx: ctx, msg: msg}); err != nil {
		m.removeWaiter(msg.ID)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		return res.payload, res.err
	case <-timer.C:
		if !m.removeWaiter(msg.ID) {
			// a response claimed the waiter first; take it
			res := <-w.ch
			return res.payload, res.err
		}
		m.timeouts.Add(1)
		m.log.Debugw("request timed out",
			"message_id", msg.ID,
			"action", action,
			"target", targetID,
			"timeout", timeout.String())
		return nil, errors.NewTimeoutError("request %q to plugin %q timed out after %s", action, targetID, timeout)
	case <-ctx.Done():
		if !m.removeWaiter(msg.ID) {
			res := <-w.ch
			return res.payload, res.err
		}
		return nil, errors.Wrapf(ctx.Err(), "request %q to plugin %q", action, targetID)
	}
}

// Notify sends an addressed fire-and-forget message to a started plugin.
// A full mailbox drops the notification with ErrCommunication.
func (m *Messenger) Notify(senderID, targetID, action string, payload Payload) error {
	if err := m.checkTarget(targetID); err != nil {
		return err
	}

	msg := NewNotification(senderID, targetID, action, payload)

	m.mu.Lock()
	mb := m.mailboxLocked(targetID)
	m.mu.Unlock()

	return m.enqueueNonBlocking(mb, envelope{msg: msg}, targetID)
}

// Broadcast delivers a notification-style message to every started plugin
// except the sender and the excluded ids. Returns the delivered count.
func (m *Messenger) Broadcast(senderID, action string, payload Payload, exclude ...string) int {
	msg := NewBroadcast(senderID, action, payload)

	excluded := make(map[string]bool, len(exclude)+1)
	excluded[senderID] = true
	for _, id := range exclude {
		excluded[id] = true
	}

	count := 0
	for _, p := range m.registry.Active() {
		id := p.Meta().ID
		if excluded[id] {
			continue
		}

		m.mu.Lock()
		mb := m.mailboxLocked(id)
		m.mu.Unlock()

		if err := m.enqueueNonBlocking(mb, envelope{msg: msg}, id); err != nil {
			m.log.Warnw("broadcast delivery skipped",
				"plugin_id", id,
				"action", action,
				"error", err)
			continue
		}
		count++
	}

	m.broadcasts.Add(1)
	m.log.Debugw("broadcast sent",
		"message_id", msg.ID,
		"action", action,
		"sender", senderID,
		"count", count)
	return count
}

// RegisterHandler installs a typed handler for one action of a registered
// plugin, taking precedence over the plugin's HandleMessage.
func (m *Messenger) RegisterHandler(pluginID, action string, h Handler) error {
	if action == "" {
		return errors.New("action cannot be empty")
	}
	if h == nil {
		return errors.Newf("handler for %q cannot be nil", action)
	}
	if !m.registry.Contains(pluginID) {
		return errors.NewNotFoundError("plugin %q is not registered", pluginID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handlers[pluginID] == nil {
		m.handlers[pluginID] = make(map[string]Handler)
	}
	if _, exists := m.handlers[pluginID][action]; exists {
		return errors.NewAlreadyExistsError("plugin %q already handles %q", pluginID, action)
	}
	m.handlers[pluginID][action] = h
	return nil
}

// UnregisterHandler removes typed handlers for a plugin. With no actions,
// every handler for the plugin is removed.
func (m *Messenger) UnregisterHandler(pluginID string, actions ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(actions) == 0 {
		delete(m.handlers, pluginID)
		return
	}
	for _, action := range actions {
		delete(m.handlers[pluginID], action)
	}
	if len(m.handlers[pluginID]) == 0 {
		delete(m.handlers, pluginID)
	}
}

// CleanupPlugin cancels pending requests involving the plugin as sender or
// target, removes its handlers, and stops its mailbox. Queued messages
// that were not yet delivered are dropped.
func (m *Messenger) CleanupPlugin(pluginID string) {
	m.mu.Lock()
	var cancelled []*waiter
	for id, w := range m.waiters {
		if w.senderID == pluginID || w.targetID == pluginID {
			delete(m.waiters, id)
			cancelled = append(cancelled, w)
		}
	}
	delete(m.handlers, pluginID)
	mb, hadBox := m.mailboxes[pluginID]
	if hadBox {
		delete(m.mailboxes, pluginID)
	}
	m.mu.Unlock()

	for _, w := range cancelled {
		w.ch <- waiterResult{err: errors.NewCommunicationError("plugin %q was unloaded", pluginID)}
	}
	if hadBox {
		close(mb.quit)
	}

	if len(cancelled) > 0 || hadBox {
		m.log.Debugw("messenger state cleaned up",
			"plugin_id", pluginID,
			"cancelled_requests", len(cancelled))
	}
}

// Status returns messenger diagnostics
func (m *Messenger) Status() map[string]any {
	m.mu.Lock()
	pending := len(m.waiters)
	depths := make(map[string]int, len(m.mailboxes))
	for id, mb := range m.mailboxes {
		depths[id] = len(mb.ch)
	}
	handlerCount := 0
	for _, actions := range m.handlers {
		handlerCount += len(actions)
	}
	m.mu.Unlock()

	return map[string]any{
		"pending_requests": pending,
		"mailbox_depths":   depths,
		"handlers":         handlerCount,
		"delivered":        m.delivered.Load(),
		"timeouts":         m.timeouts.Load(),
		"late_responses":   m.lateResponses.Load(),
		"dropped":          m.dropped.Load(),
		"broadcasts":       m.broadcasts.Load(),
	}
}

// checkTarget verifies the target exists and is started
func (m *Messenger) checkTarget(targetID string) error {
	state, ok := m.registry.State(targetID)
	if !ok {
		return errors.NewCommunicationError("plugin %q is not registered", targetID)
	}
	if state != StateStarted {
		return errors.NewCommunicationError("plugin %q is not started (state %s)", targetID, state)
	}
	return nil
}

// mailboxLocked returns the target's mailbox, creating it and its drain
// goroutine on first use. Caller holds m.mu.
func (m *Messenger) mailboxLocked(targetID string) *mailbox {
	mb, ok := m.mailboxes[targetID]
	if !ok {
		mb = &mailbox{
			ch:   make(chan envelope, m.mailboxBuffer),
			quit: make(chan struct{}),
		}
		m.mailboxes[targetID] = mb
		go m.drain(targetID, mb)
	}
	return mb
}

func (m *Messenger) enqueue(ctx context.Context, mb *mailbox, env envelope) error {
	select {
	case mb.ch <- env:
		return nil
	case <-mb.quit:
		return errors.NewCommunicationError("plugin %q mailbox is closed", env.msg.TargetID)
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "queueing message for plugin %q", env.msg.TargetID)
	}
}

func (m *Messenger) enqueueNonBlocking(mb *mailbox, env envelope, targetID string) error {
	select {
	case mb.ch <- env:
		return nil
	case <-mb.quit:
		return errors.NewCommunicationError("plugin %q mailbox is closed", targetID)
	default:
		m.dropped.Add(1)
		return errors.NewCommunicationError("plugin %q mailbox is full", targetID)
	}
}

// drain delivers a target's messages in queue order
func (m *Messenger) drain(targetID string, mb *mailbox) {
	for {
		select {
		case env := <-mb.ch:
			m.deliver(targetID, env)
		case <-mb.quit:
			return
		}
	}
}

// deliver invokes the handler for one message. The started check runs
// immediately before invocation; it is best-effort, not transactional.
func (m *Messenger) deliver(targetID string, env envelope) {
	msg := env.msg

	if state, ok := m.registry.State(targetID); !ok || state != StateStarted {
		m.failWaiter(msg, errors.NewCommunicationError("plugin %q is no longer started", targetID))
		return
	}
	target, ok := m.registry.Get(targetID)
	if !ok {
		m.failWaiter(msg, errors.NewCommunicationError("plugin %q is no longer registered", targetID))
		return
	}

	m.mu.Lock()
	handler := m.handlers[targetID][msg.Action]
	m.mu.Unlock()

	ctx := env.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	bound := msg.Timeout
	if bound <= 0 {
		bound = m.defaultTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	var payload Payload
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Newf("handler for %q panicked: %v", msg.Action, r)
				m.log.Errorw("message handler panicked",
					"plugin_id", targetID,
					"action", msg.Action,
					"error", err)
			}
		}()
		if handler != nil {
			payload, err = handler(hctx, msg)
		} else {
			payload, err = target.HandleMessage(hctx, msg.Action, msg.Payload)
		}
	}()

	m.delivered.Add(1)

	if msg.Type == MessageRequest {
		m.respond(msg, payload, err)
	} else if err != nil {
		m.log.Warnw("notification handler failed",
			"plugin_id", targetID,
			"action", msg.Action,
			"error", err)
	}
}

// respond completes the waiter for a request. A waiter that is already
// gone means the requester timed out or was cleaned up: the response is
// discarded and counted.
func (m *Messenger) respond(request *Message, payload Payload, handlerErr error) {
	m.mu.Lock()
	w, ok := m.waiters[request.ID]
	if ok {
		delete(m.waiters, request.ID)
	}
	m.mu.Unlock()

	if !ok {
		m.lateResponses.Add(1)
		m.log.Debugw("discarded late response",
			"correlation_id", request.ID,
			"action", request.Action)
		return
	}

	if handlerErr != nil {
		w.ch <- waiterResult{err: errors.Wrapf(handlerErr, "plugin %q handling %q", request.TargetID, request.Action)}
		return
	}

	resp := NewResponse(request, payload)
	m.log.Debugw("request answered",
		"message_id", resp.ID,
		"correlation_id", resp.CorrelationID,
		"action", request.Action)
	w.ch <- waiterResult{payload: resp.Payload}
}

// removeWaiter claims the pending waiter for a request id, reporting
// whether it was still pending. A false return means a response already
// claimed it and the result is on the waiter's channel.
func (m *Messenger) removeWaiter(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.waiters[id]; !ok {
		return false
	}
	delete(m.waiters, id)
	return true
}

// failWaiter completes a request waiter with a delivery failure; other
// message types are dropped with a debug log.
func (m *Messenger) failWaiter(msg *Message, failure error) {
	if msg.Type != MessageRequest {
		m.log.Debugw("dropped undeliverable message",
			"message_id", msg.ID,
			"action", msg.Action,
			"target", msg.TargetID)
		return
	}

	m.mu.Lock()
	w, ok := m.waiters[msg.ID]
	if ok {
		delete(m.waiters, msg.ID)
	}
	m.mu.Unlock()

	if ok {
		w.ch <- waiterResult{err: failure}
	}
}
