package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rembraille/rembraille/pkg/middleware"
	"github.com/rembraille/rembraille/pkg/protocol"
)

var (
	// ErrNoClient is returned when sending to a guest while none is
	// connected.
	ErrNoClient = errors.New("server: no active client")

	// ErrServerClosed is returned by Serve after Close.
	ErrServerClosed = errors.New("server: closed")
)

// Server is the host side of a RemBraille link. It listens for guest
// connections, answers their handshakes with the attached display's
// cell count, surfaces incoming cell updates through callbacks, and
// forwards hardware key events back to the active guest.
//
// At most one guest is active at a time. A handshake from a second
// connection supersedes the first: the old session is closed and the
// newcomer takes over the display.
type Server struct {
	cfg    Config
	cb     Callbacks
	logger *slog.Logger

	listener net.Listener

	mu     sync.Mutex
	active *clientConn
	conns  map[*clientConn]struct{}
	closed bool

	wg sync.WaitGroup
}

// New creates a Server and binds its listener.
func New(cfg Config, cb Callbacks) (*Server, error) {
	cfg = cfg.withDefaults()
	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("server: listen on %s: %w", cfg.Address, err)
	}
	return &Server{
		cfg:      cfg,
		cb:       cb,
		logger:   cfg.Logger.With("component", "server"),
		listener: ln,
		conns:    make(map[*clientConn]struct{}),
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts guest connections until ctx is cancelled or Close is
// called. Each connection is served on its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("listening", "addr", s.listener.Addr())

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("accept timeout", "error", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return fmt.Errorf("server: accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn runs the host protocol over an already-established
// connection. It blocks until the session ends. The WebSocket endpoint
// uses this after upgrading; tests use it with net.Pipe.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	cc := newClientConn(s, conn)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[cc] = struct{}{}
	s.mu.Unlock()

	cc.run(ctx)

	s.mu.Lock()
	delete(s.conns, cc)
	s.mu.Unlock()
}

// SendKeyEvent forwards a hardware key press or release to the active
// guest. It returns ErrNoClient when no guest has completed a
// handshake.
func (s *Server) SendKeyEvent(keyID uint32, pressed bool) error {
	s.mu.Lock()
	cc := s.active
	s.mu.Unlock()
	if cc == nil {
		return ErrNoClient
	}
	if err := cc.sess.Send(protocol.KeyEvent{KeyID: keyID, Pressed: pressed}); err != nil {
		return err
	}
	middleware.RecordKeyEvent()
	middleware.RecordFrameSent(protocol.TypeKeyEvent)
	return nil
}

// ActiveClient reports the identifier of the guest currently holding
// the display, if any.
func (s *Server) ActiveClient() (clientID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "", false
	}
	return s.active.clientID, true
}

// CellCount reports the display width the server advertises.
func (s *Server) CellCount() uint16 { return s.cfg.CellCount }

// Close stops the listener and closes every live session, handshaken
// or not. It is safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*clientConn, 0, len(s.conns))
	for cc := range s.conns {
		conns = append(conns, cc)
	}
	s.mu.Unlock()

	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	for _, cc := range conns {
		cc.sess.Close()
	}
	s.wg.Wait()
	return err
}

// promote makes cc the active guest, superseding any previous one.
func (s *Server) promote(cc *clientConn) {
	s.mu.Lock()
	prev := s.active
	s.active = cc
	s.mu.Unlock()

	if prev != nil && prev != cc {
		s.logger.Info("client superseded",
			"old", prev.clientID, "new", cc.clientID)
		prev.sess.Close()
	}
	if s.cb.OnClientConnected != nil {
		s.cb.OnClientConnected(cc.clientID)
	}
}

// demote clears cc as the active guest if it still holds that slot.
func (s *Server) demote(cc *clientConn) {
	s.mu.Lock()
	wasActive := s.active == cc
	if wasActive {
		s.active = nil
	}
	s.mu.Unlock()

	if wasActive && s.cb.OnClientDisconnected != nil {
		s.cb.OnClientDisconnected()
	}
}

func (s *Server) reportError(text string) {
	if s.cb.OnError != nil {
		s.cb.OnError(text)
	}
}
