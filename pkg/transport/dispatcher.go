package transport

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/rembraille/rembraille/pkg/protocol"
)

// Handler processes one dispatched message. A handler error is logged
// and contained; it never tears down the session.
type Handler func(msg protocol.Message) error

// Middleware wraps a handler around dispatch, for instrumentation such
// as metrics or tracing.
type Middleware func(next Handler) Handler

// Dispatcher routes parsed messages to registered handlers.
//
// At most one handler is registered per message type; registering again
// replaces the previous handler. Messages without a handler are dropped
// with a debug log. Dispatch never propagates handler failures: errors
// are logged and panics are recovered, so a misbehaving callback cannot
// kill the receive loop.
type Dispatcher struct {
	mu         sync.RWMutex
	handlers   map[protocol.MessageType]Handler
	unknown    Handler
	middleware []Middleware

	logger *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[protocol.MessageType]Handler),
		logger:   logger,
	}
}

// Register sets the handler for a message type, replacing any previous
// registration. It reports whether a handler was replaced. A nil handler
// removes the registration.
func (d *Dispatcher) Register(mt protocol.MessageType, h Handler) (replaced bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, replaced = d.handlers[mt]
	if h == nil {
		delete(d.handlers, mt)
		return replaced
	}
	d.handlers[mt] = h
	return replaced
}

// RegisterUnknown sets the handler invoked for messages whose type byte
// is not part of the protocol. Without one, unknown messages are logged
// and dropped.
func (d *Dispatcher) RegisterUnknown(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unknown = h
}

// Use appends dispatch middleware. Middleware runs in registration order,
// outermost first, around every handler including the unknown handler.
func (d *Dispatcher) Use(mw Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middleware = append(d.middleware, mw)
}

// Dispatch routes one message to its handler.
//
// Unhandled messages are dropped, not failed: the protocol allows peers
// to send types the local role does not consume.
func (d *Dispatcher) Dispatch(msg protocol.Message) {
	d.mu.RLock()
	var h Handler
	if _, isUnknown := msg.(protocol.Unknown); isUnknown {
		h = d.unknown
	} else {
		h = d.handlers[msg.MessageType()]
	}
	mws := d.middleware
	d.mu.RUnlock()

	if h == nil {
		if _, isUnknown := msg.(protocol.Unknown); isUnknown {
			d.logger.Warn("unknown message type", "type", uint8(msg.MessageType()))
		} else {
			d.logger.Debug("no handler for message", "type", msg.MessageType())
		}
		return
	}

	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}

	d.invoke(h, msg)
}

// invoke runs a handler with panic containment.
func (d *Dispatcher) invoke(h Handler, msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic",
				"type", msg.MessageType(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	if err := h(msg); err != nil {
		d.logger.Error("handler error", "type", msg.MessageType(), "error", err)
	}
}
