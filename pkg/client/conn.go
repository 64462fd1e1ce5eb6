package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rembraille/rembraille/pkg/middleware"
	"github.com/rembraille/rembraille/pkg/protocol"
	"github.com/rembraille/rembraille/pkg/transport"
)

// Connection errors.
var (
	ErrAlreadyConnected = errors.New("client: connection already in use")
	ErrNotReady         = errors.New("client: connection not ready")
	ErrHandshakeFailed  = errors.New("client: handshake failed")
)

// Conn is a guest-side connection to a RemBraille host.
//
// It drives the lifecycle Disconnected → Connecting → Handshaking →
// Ready, and after a loss cycles Reconnecting → Connecting with doubling
// backoff until Close. Every fresh connection performs a full handshake
// and re-queries the cell count; nothing from a previous connection is
// trusted.
//
// A Conn is an explicit value owned by the caller; the package keeps no
// process-wide connection state.
type Conn struct {
	cfg    Config
	cb     Callbacks
	logger *slog.Logger

	mu           sync.Mutex
	state        State
	addr         string
	cellCount    uint16
	hasCellCount bool
	serverName   string
	sess         *transport.Session
	cancel       context.CancelFunc

	wg sync.WaitGroup
}

// established is one live connection attempt handed to the supervisor.
type established struct {
	sess    *transport.Session
	runDone chan error
}

// New creates a connection with the given configuration and callbacks.
// Call Connect to start it.
func New(cfg Config, cb Callbacks) *Conn {
	cfg = cfg.withDefaults()
	return &Conn{
		cfg:    cfg,
		cb:     cb,
		logger: cfg.Logger,
		state:  StateDisconnected,
	}
}

// Connect dials host:port and performs the initial handshake. ctx bounds
// only this first attempt; the connection then maintains itself —
// reconnecting with backoff after any loss — until Close.
//
// A failed first attempt leaves the connection Disconnected and returns
// the error; no retry is scheduled for it.
func (c *Conn) Connect(ctx context.Context, host string, port int) error {
	c.mu.Lock()
	if c.state != StateDisconnected && c.state != StateClosed {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.addr = net.JoinHostPort(host, strconv.Itoa(port))
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	est, err := c.establish(ctx, runCtx)
	if err != nil {
		cancel()
		c.setStateUnlessClosed(StateDisconnected)
		return err
	}

	c.wg.Add(1)
	go c.supervise(runCtx, est)
	return nil
}

// Close tears the connection down from any state. It is idempotent,
// cancels any pending reconnect, releases the socket, and returns only
// after all connection goroutines have exited — no callback fires after
// Close returns.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	cancel := c.cancel
	sess := c.sess
	c.mu.Unlock()

	c.notifyState(StateClosed)

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		sess.Close()
	}
	c.wg.Wait()

	c.logger.Info("connection closed")
	return nil
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CellCount returns the last learned display width and whether one has
// been learned on the current connection.
func (c *Conn) CellCount() (uint16, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cellCount, c.hasCellCount
}

// ServerName returns the host name from the last handshake.
func (c *Conn) ServerName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverName
}

// DisplayCells sends one row of braille cells to the host. The
// connection must be Ready. Under send-queue pressure it fails with
// transport.ErrQueueFull; dropping a stale row is preferable to
// buffering it.
func (c *Conn) DisplayCells(cells []byte) error {
	sess, err := c.readySession()
	if err != nil {
		return err
	}
	if err := sess.Send(protocol.DisplayCells{Cells: cells}); err != nil {
		return err
	}
	middleware.RecordFrameSent(protocol.TypeDisplayCells)
	return nil
}

// RequestCellCount asks the host for its display width. The answer
// arrives asynchronously and updates CellCount.
func (c *Conn) RequestCellCount() error {
	sess, err := c.readySession()
	if err != nil {
		return err
	}
	if err := sess.Send(protocol.CellCountRequest{}); err != nil {
		return err
	}
	middleware.RecordFrameSent(protocol.TypeCellCountRequest)
	return nil
}

// readySession returns the live session iff the connection is Ready.
// The guest role sends display state and queries; it never sends key
// events — those only flow host to guest.
func (c *Conn) readySession() (*transport.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady || c.sess == nil {
		return nil, ErrNotReady
	}
	return c.sess, nil
}

// establish runs one full connect-and-handshake cycle. dialCtx bounds
// the dial and handshake; runCtx governs the resulting session lifetime.
func (c *Conn) establish(dialCtx, runCtx context.Context) (*established, error) {
	if !c.setStateUnlessClosed(StateConnecting) {
		return nil, context.Canceled
	}
	c.logger.Info("connecting", "addr", c.addr)

	conn, err := c.cfg.Dialer(dialCtx, c.addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect %s: %w", c.addr, err)
	}

	handshakeCh := make(chan protocol.HandshakeResponse, 1)
	hsFail := make(chan error, 1)

	var ka *transport.Keepalive
	dispatcher := c.buildDispatcher(handshakeCh, hsFail, func() *transport.Keepalive { return ka })

	sess := transport.NewSession(conn, dispatcher, c.cfg.Session)
	ka = transport.NewKeepalive(sess, c.cfg.Keepalive, func(err error) {
		// Same handling as a socket error: kill the session, let the
		// supervisor reconnect.
		middleware.RecordKeepaliveTimeout()
		c.reportError(err)
		sess.Close()
	})

	runDone := make(chan error, 1)
	go func() {
		runDone <- sess.Run(runCtx)
	}()

	c.mu.Lock()
	c.sess = sess
	c.hasCellCount = false
	c.serverName = ""
	c.mu.Unlock()

	if !c.setStateUnlessClosed(StateHandshaking) {
		sess.Close()
		<-runDone
		return nil, context.Canceled
	}
	if err := sess.Send(protocol.Handshake{ClientID: c.cfg.ClientID}); err != nil {
		sess.Close()
		<-runDone
		return nil, fmt.Errorf("client: send handshake: %w", err)
	}

	var hr protocol.HandshakeResponse
	select {
	case hr = <-handshakeCh:
	case err := <-hsFail:
		sess.Close()
		<-runDone
		return nil, err
	case <-time.After(c.cfg.HandshakeTimeout):
		sess.Close()
		<-runDone
		return nil, fmt.Errorf("%w: no response within %v", ErrHandshakeFailed, c.cfg.HandshakeTimeout)
	case err := <-runDone:
		if err == nil {
			err = ErrHandshakeFailed
		}
		return nil, fmt.Errorf("client: connection lost during handshake: %w", err)
	case <-dialCtx.Done():
		sess.Close()
		<-runDone
		return nil, dialCtx.Err()
	}

	c.mu.Lock()
	c.cellCount = hr.CellCount
	c.hasCellCount = hr.HasCellCount
	c.serverName = hr.ServerName
	c.mu.Unlock()

	if !c.setStateUnlessClosed(StateReady) {
		sess.Close()
		<-runDone
		return nil, context.Canceled
	}
	c.logger.Info("handshake complete",
		"server", hr.ServerName,
		"cell_count", hr.CellCount,
		"has_cell_count", hr.HasCellCount)

	if c.cb.OnHandshakeResponse != nil {
		var count *uint16
		if hr.HasCellCount {
			v := hr.CellCount
			count = &v
		}
		c.cb.OnHandshakeResponse(count, hr.ServerName)
	}

	go ka.Run(runCtx)

	// Cell count is re-queried on every fresh handshake, even when the
	// response already carried one.
	if err := sess.Send(protocol.CellCountRequest{}); err != nil {
		c.logger.Warn("cell count request not sent", "error", err)
	}

	return &established{sess: sess, runDone: runDone}, nil
}

// supervise waits for the live session to end and cycles reconnect
// attempts with doubling backoff until Close or success.
func (c *Conn) supervise(runCtx context.Context, est *established) {
	defer c.wg.Done()

	delay := c.cfg.InitialDelay

	for {
		err := <-est.runDone
		middleware.RecordLinkTraffic(est.sess.BytesSent(), est.sess.BytesReceived())
		if err != nil {
			c.reportError(err)
		}
		if runCtx.Err() != nil || !c.setStateUnlessClosed(StateReconnecting) {
			return
		}

		for {
			c.logger.Info("reconnecting", "addr", c.addr, "delay", delay)
			select {
			case <-runCtx.Done():
				return
			case <-time.After(delay):
			}

			next, err := c.establish(runCtx, runCtx)
			if err == nil {
				middleware.RecordReconnect()
				est = next
				delay = c.cfg.InitialDelay
				break
			}

			c.reportError(err)
			if !c.setStateUnlessClosed(StateReconnecting) {
				return
			}
			delay *= 2
			if delay > c.cfg.MaxDelay {
				delay = c.cfg.MaxDelay
			}
		}
	}
}

// buildDispatcher wires the guest-side message handlers for one session.
func (c *Conn) buildDispatcher(handshakeCh chan<- protocol.HandshakeResponse, hsFail chan<- error, ka func() *transport.Keepalive) *transport.Dispatcher {
	d := transport.NewDispatcher(c.logger)
	for _, mw := range c.cfg.Middleware {
		d.Use(mw)
	}

	d.Register(protocol.TypeHandshakeResponse, func(msg protocol.Message) error {
		hr := msg.(protocol.HandshakeResponse)
		select {
		case handshakeCh <- hr:
		default:
			// Exactly one handshake is in flight per connection; a
			// second response is a peer bug.
			c.logger.Warn("unexpected handshake response dropped")
		}
		return nil
	})

	d.Register(protocol.TypeKeyEvent, c.afterHandshake(hsFail, func(msg protocol.Message) error {
		ke := msg.(protocol.KeyEvent)
		c.logger.Debug("key event", "key_id", ke.KeyID, "pressed", ke.Pressed)
		if c.cb.OnKeyEvent != nil {
			c.cb.OnKeyEvent(ke.KeyID, ke.Pressed)
		}
		return nil
	}))

	d.Register(protocol.TypeCellCountResponse, c.afterHandshake(hsFail, func(msg protocol.Message) error {
		cr := msg.(protocol.CellCountResponse)
		c.mu.Lock()
		c.cellCount = cr.CellCount
		c.hasCellCount = true
		c.mu.Unlock()
		c.logger.Debug("cell count updated", "cell_count", cr.CellCount)
		return nil
	}))

	// A peer ping is answered immediately with an echoing pong,
	// independent of the local keepalive schedule or handshake phase.
	d.Register(protocol.TypePing, func(msg protocol.Message) error {
		ping := msg.(protocol.Ping)
		sess := c.currentSession()
		if sess == nil {
			return nil
		}
		return sess.Send(protocol.Pong{
			Timestamp:    ping.Timestamp,
			HasTimestamp: ping.HasTimestamp,
		})
	})

	d.Register(protocol.TypePong, func(msg protocol.Message) error {
		if monitor := ka(); monitor != nil {
			monitor.PongReceived()
		}
		return nil
	})

	d.Register(protocol.TypeError, func(msg protocol.Message) error {
		em := msg.(protocol.ErrorMessage)
		c.logger.Warn("peer error", "text", em.Text)
		if c.cb.OnError != nil {
			c.cb.OnError(em.Text)
		}
		// During the handshake, a peer error means it won't succeed;
		// fail fast instead of waiting for the timeout.
		if c.State() == StateHandshaking {
			select {
			case hsFail <- fmt.Errorf("%w: %s", ErrHandshakeFailed, em.Text):
			default:
			}
		}
		return nil
	})

	return d
}

// afterHandshake rejects application messages that arrive before the
// handshake response: anything but keepalive traffic in that phase
// fails the handshake.
func (c *Conn) afterHandshake(hsFail chan<- error, h transport.Handler) transport.Handler {
	return func(msg protocol.Message) error {
		if c.State() == StateHandshaking {
			select {
			case hsFail <- fmt.Errorf("%w: unexpected %v before handshake response", ErrHandshakeFailed, msg.MessageType()):
			default:
			}
			return nil
		}
		return h(msg)
	}
}

func (c *Conn) currentSession() *transport.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// setStateUnlessClosed transitions and notifies unless the connection
// was closed; the first terminal transition wins and later failure
// signals become no-ops.
func (c *Conn) setStateUnlessClosed(s State) bool {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return false
	}
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.notifyState(s)
	}
	return true
}

func (c *Conn) notifyState(s State) {
	c.logger.Debug("state changed", "state", s)
	if c.cb.OnStateChanged != nil {
		c.cb.OnStateChanged(s)
	}
}

func (c *Conn) reportError(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	c.logger.Warn("connection error", "error", err)
	if c.cb.OnError != nil {
		c.cb.OnError(err.Error())
	}
}
