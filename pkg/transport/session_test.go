package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rembraille/rembraille/pkg/protocol"
)

// sessionPair wires two sessions over an in-memory pipe and runs both.
func sessionPair(t *testing.T, left, right *Dispatcher) (*Session, *Session) {
	t.Helper()

	lc, rc := net.Pipe()
	ls := NewSession(lc, left, Config{})
	rs := NewSession(rc, right, Config{})

	ctx := context.Background()
	go ls.Run(ctx)
	go rs.Run(ctx)

	t.Cleanup(func() {
		ls.Close()
		rs.Close()
		<-ls.Done()
		<-rs.Done()
	})
	return ls, rs
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func TestSessionRoundTrip(t *testing.T) {
	received := make(chan protocol.Message, 4)
	rd := NewDispatcher(nil)
	rd.Register(protocol.TypeDisplayCells, func(msg protocol.Message) error {
		received <- msg
		return nil
	})

	ls, _ := sessionPair(t, NewDispatcher(nil), rd)

	cells := []byte{0x13, 0x11, 0x07, 0x07, 0x15}
	if err := ls.Send(protocol.DisplayCells{Cells: cells}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	select {
	case msg := <-received:
		dc := msg.(protocol.DisplayCells)
		if string(dc.Cells) != string(cells) {
			t.Errorf("received cells %v, want %v", dc.Cells, cells)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not dispatched")
	}

	if ls.BytesSent() == 0 {
		t.Error("BytesSent() = 0 after a successful send")
	}
}

func TestSessionSplitFrameDelivery(t *testing.T) {
	received := make(chan protocol.Message, 1)
	rd := NewDispatcher(nil)
	rd.Register(protocol.TypeKeyEvent, func(msg protocol.Message) error {
		received <- msg
		return nil
	})

	lc, rc := net.Pipe()
	rs := NewSession(rc, rd, Config{})
	go rs.Run(context.Background())
	t.Cleanup(func() {
		lc.Close()
		rs.Close()
		<-rs.Done()
	})

	// One frame, written a byte at a time.
	data := protocol.Serialize(protocol.KeyEvent{KeyID: 0x01020304, Pressed: true}).Encode()
	for _, b := range data {
		if _, err := lc.Write([]byte{b}); err != nil {
			t.Fatalf("Write() error: %v", err)
		}
	}

	select {
	case msg := <-received:
		ke := msg.(protocol.KeyEvent)
		if ke.KeyID != 0x01020304 || !ke.Pressed {
			t.Errorf("got %+v, want KeyID 0x01020304 pressed", ke)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("split frame not dispatched")
	}
}

func TestSessionSendAfterClose(t *testing.T) {
	ls, _ := sessionPair(t, NewDispatcher(nil), NewDispatcher(nil))

	ls.Close()
	<-ls.Done()

	if err := ls.Send(protocol.Ping{}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Send() after Close = %v, want ErrSessionClosed", err)
	}
}

func TestSessionSendQueueFull(t *testing.T) {
	// No Run, so nothing drains the queue.
	lc, _ := net.Pipe()
	defer lc.Close()
	s := NewSession(lc, NewDispatcher(nil), Config{SendQueueDepth: 1})

	if err := s.Send(protocol.Ping{}); err != nil {
		t.Fatalf("first Send() error: %v", err)
	}
	if err := s.Send(protocol.Ping{}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second Send() = %v, want ErrQueueFull", err)
	}
}

func TestSessionRejectsOversizedSend(t *testing.T) {
	lc, _ := net.Pipe()
	defer lc.Close()
	s := NewSession(lc, NewDispatcher(nil), Config{})

	big := protocol.DisplayCells{Cells: make([]byte, protocol.MaxPayloadSize+1)}
	if err := s.Send(big); !errors.Is(err, protocol.ErrFrameTooLarge) {
		t.Errorf("Send() oversized = %v, want ErrFrameTooLarge", err)
	}
}

func TestSessionTerminatesOnBadVersion(t *testing.T) {
	lc, rc := net.Pipe()
	s := NewSession(rc, NewDispatcher(nil), Config{})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()
	t.Cleanup(func() { lc.Close(); s.Close() })

	if _, err := lc.Write([]byte{0x02, 0x40, 0x00, 0x00}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, protocol.ErrVersionMismatch) {
			t.Errorf("Run() = %v, want ErrVersionMismatch", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate on bad version byte")
	}
}

func TestSessionTerminatesOnMalformedMessage(t *testing.T) {
	lc, rc := net.Pipe()
	s := NewSession(rc, NewDispatcher(nil), Config{})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()
	t.Cleanup(func() { lc.Close(); s.Close() })

	// KeyEvent with a 2-byte payload cannot carry key id and event type.
	frame := protocol.NewFrame(protocol.TypeKeyEvent, []byte{0x00, 0x01})
	if _, err := lc.Write(frame.Encode()); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, protocol.ErrMalformedPayload) {
			t.Errorf("Run() = %v, want ErrMalformedPayload", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate on malformed message")
	}
}

func TestSessionRunEndsCleanOnPeerClose(t *testing.T) {
	lc, rc := net.Pipe()
	s := NewSession(rc, NewDispatcher(nil), Config{})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()

	lc.Close()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() after peer close = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after peer close")
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	ls, _ := sessionPair(t, NewDispatcher(nil), NewDispatcher(nil))

	if err := ls.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := ls.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if !ls.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
}

func TestSessionCloseRacesRunStart(t *testing.T) {
	// Close from another goroutine immediately after starting Run, as the
	// client does when a handshake fails. Must shut down cleanly every
	// time regardless of how far Run has gotten.
	for i := 0; i < 50; i++ {
		lc, rc := net.Pipe()
		s := NewSession(rc, NewDispatcher(nil), Config{})

		errCh := make(chan error, 1)
		go func() { errCh <- s.Run(context.Background()) }()
		s.Close()
		lc.Close()

		select {
		case err := <-errCh:
			if err != nil {
				t.Fatalf("Run() = %v, want nil", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("session did not end after Close")
		}
	}
}

func TestSessionContextCancellation(t *testing.T) {
	lc, rc := net.Pipe()
	defer lc.Close()
	s := NewSession(rc, NewDispatcher(nil), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() after cancel = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end on context cancellation")
	}
	waitFor(t, time.Second, s.IsClosed)
}
