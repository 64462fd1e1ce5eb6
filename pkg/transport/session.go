package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rembraille/rembraille/pkg/protocol"
)

// Session errors.
var (
	ErrQueueFull     = errors.New("transport: send queue full")
	ErrSessionClosed = errors.New("transport: session closed")
)

// Config holds configuration for a transport session.
type Config struct {
	// MaxFrameSize is the ceiling for a whole inbound frame.
	// Default: protocol.DefaultMaxFrameSize (64KB + header).
	MaxFrameSize int

	// SendQueueDepth is the size of the outbound frame queue. Send fails
	// with ErrQueueFull beyond it; stale display updates are not worth
	// replaying, so producers should drop rather than buffer unbounded.
	// Default: 64.
	SendQueueDepth int

	// ReadBufferSize is the size of the socket read buffer.
	// Default: 4096.
	ReadBufferSize int

	// WriteTimeout is the per-frame write deadline.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// Logger is the structured logger. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxFrameSize:   protocol.DefaultMaxFrameSize,
		SendQueueDepth: 64,
		ReadBufferSize: 4096,
		WriteTimeout:   10 * time.Second,
		Logger:         slog.Default(),
	}
}

// withDefaults fills zero fields with defaults.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	if c.SendQueueDepth <= 0 {
		c.SendQueueDepth = d.SendQueueDepth
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}

// Session owns one duplex byte stream and runs its receive and send
// paths as two goroutines for the lifetime of the socket.
//
// The receive loop accumulates socket bytes, decodes complete frames,
// parses them, and dispatches each message synchronously; a slow handler
// therefore delays subsequent frames on that connection. The send loop
// is the sole socket writer and drains a bounded queue filled by Send.
// Both are torn down together: when either fails, Run closes the socket
// and waits for the other to exit.
type Session struct {
	conn       net.Conn
	dispatcher *Dispatcher
	cfg        Config
	logger     *slog.Logger

	sendCh  chan *protocol.Frame
	closed  atomic.Bool
	closeCh chan struct{}
	done    chan struct{}

	// Unix nanos of last enqueue/dispatch, read by the keepalive monitor.
	lastOutbound atomic.Int64
	lastInbound  atomic.Int64

	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
}

// NewSession wraps an established connection. The caller starts the
// loops with Run and owns the connection's lifetime through Close.
func NewSession(conn net.Conn, dispatcher *Dispatcher, cfg Config) *Session {
	cfg = cfg.withDefaults()
	now := time.Now().UnixNano()

	s := &Session{
		conn:       conn,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     cfg.Logger,
		sendCh:     make(chan *protocol.Frame, cfg.SendQueueDepth),
		closeCh:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.lastOutbound.Store(now)
	s.lastInbound.Store(now)
	return s
}

// Run starts the receive and send loops and blocks until the session
// ends: a socket error, a framing or protocol error, context
// cancellation, or Close. The socket is closed and both loops have
// exited by the time Run returns, so no dispatch callback fires
// afterwards.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Debug("session started", "remote", s.conn.RemoteAddr())

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.readLoop(child)
	})

	group.Go(func() error {
		return s.writeLoop(child)
	})

	// Closing the socket unblocks the pending read once either loop,
	// the context, or Close fires.
	group.Go(func() error {
		select {
		case <-child.Done():
		case <-s.closeCh:
		}
		s.conn.Close()
		return nil
	})

	err := group.Wait()
	s.closed.Store(true)
	close(s.done)

	// EOF is the peer hanging up; ErrClosed is our own Close racing the
	// blocked read. Neither is a session failure.
	if err != nil && !errors.Is(err, context.Canceled) &&
		!errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) &&
		!errors.Is(err, net.ErrClosed) {
		s.logger.Debug("session ended", "remote", s.conn.RemoteAddr(), "error", err)
		return err
	}
	s.logger.Debug("session ended", "remote", s.conn.RemoteAddr())
	return nil
}

// Close tears the session down. It is idempotent and safe from any
// goroutine; it unblocks the receive loop by closing the socket.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.closeCh)
	return s.conn.Close()
}

// IsClosed returns true once the session has been closed or has failed.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Done is closed when both session loops have exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// RemoteAddr returns the peer's address.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Send serializes a message and enqueues it without blocking.
//
// Returns ErrQueueFull when the bounded queue is saturated (the message
// is not queued), ErrSessionClosed on a closed session, or
// protocol.ErrFrameTooLarge for an oversized payload.
func (s *Session) Send(msg protocol.Message) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	frame := protocol.Serialize(msg)
	if len(frame.Payload) > protocol.MaxPayloadSize {
		return protocol.ErrFrameTooLarge
	}

	select {
	case s.sendCh <- frame:
		s.lastOutbound.Store(time.Now().UnixNano())
		return nil
	default:
		return ErrQueueFull
	}
}

// LastOutbound returns the time a message was last queued for sending.
func (s *Session) LastOutbound() time.Time {
	return time.Unix(0, s.lastOutbound.Load())
}

// LastInbound returns the time a message was last received.
func (s *Session) LastInbound() time.Time {
	return time.Unix(0, s.lastInbound.Load())
}

// BytesSent returns the number of wire bytes written so far.
func (s *Session) BytesSent() int64 {
	return s.bytesSent.Load()
}

// BytesReceived returns the number of wire bytes read so far.
func (s *Session) BytesReceived() int64 {
	return s.bytesReceived.Load()
}

// readLoop accumulates socket bytes and dispatches complete messages.
// This goroutine is the only writer of the last-inbound timestamp.
//
// Framing and protocol errors terminate the session: once the byte
// stream is desynchronized there is no way to find the next frame
// boundary, so the only recovery is a fresh connection.
func (s *Session) readLoop(ctx context.Context) error {
	buf := make([]byte, s.cfg.ReadBufferSize)
	var acc []byte

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := s.conn.Read(buf)
		if n > 0 {
			s.bytesReceived.Add(int64(n))
			acc = append(acc, buf[:n]...)

			for {
				frame, consumed, derr := protocol.DecodeFrameLimit(acc, s.cfg.MaxFrameSize)
				if derr != nil {
					s.logger.Error("frame decode error", "remote", s.conn.RemoteAddr(), "error", derr)
					return derr
				}
				if frame == nil {
					break // incomplete, keep accumulating
				}
				acc = acc[consumed:]

				msg, perr := protocol.Parse(frame)
				if perr != nil {
					s.logger.Error("message parse error",
						"remote", s.conn.RemoteAddr(),
						"type", frame.Type,
						"error", perr)
					return perr
				}

				s.lastInbound.Store(time.Now().UnixNano())
				s.dispatcher.Dispatch(msg)
			}
		}
		if err != nil {
			return err
		}
	}
}

// writeLoop drains the send queue onto the socket. A single writer per
// socket avoids interleaved partial writes.
func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-s.sendCh:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			data := frame.Encode()
			// Counted before the write so the peer cannot observe a
			// delivered frame ahead of the accounting.
			s.bytesSent.Add(int64(len(data)))
			if _, err := s.conn.Write(data); err != nil {
				s.logger.Debug("write error", "remote", s.conn.RemoteAddr(), "error", err)
				return err
			}
		}
	}
}
