package client

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/rembraille/rembraille/pkg/transport"
)

// DefaultClientID is the identity sent in handshakes when none is
// configured.
const DefaultClientID = "RemBraille_Guest"

// Dialer opens the byte stream to a host. addr is "host:port".
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// Config holds configuration for a guest connection.
type Config struct {
	// ClientID identifies this guest in the handshake.
	// Default: DefaultClientID.
	ClientID string

	// DialTimeout bounds each dial attempt.
	// Default: 5 seconds.
	DialTimeout time.Duration

	// HandshakeTimeout bounds the wait for the handshake response.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// InitialDelay is the first reconnect backoff. Each failed attempt
	// doubles it up to MaxDelay; a completed handshake resets it.
	// Default: 2 seconds.
	InitialDelay time.Duration

	// MaxDelay caps the reconnect backoff.
	// Default: 60 seconds.
	MaxDelay time.Duration

	// Session is the transport session configuration.
	Session transport.Config

	// Keepalive is the ping/pong monitor configuration.
	Keepalive transport.KeepaliveConfig

	// Dialer overrides how the byte stream is opened.
	// Default: TCP via net.Dialer.
	Dialer Dialer

	// Middleware wraps the inbound dispatch chain of every session,
	// outermost first.
	Middleware []transport.Middleware

	// Logger is the structured logger. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ClientID:         DefaultClientID,
		DialTimeout:      5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		InitialDelay:     2 * time.Second,
		MaxDelay:         60 * time.Second,
		Session:          transport.DefaultConfig(),
		Keepalive:        transport.DefaultKeepaliveConfig(),
		Logger:           slog.Default(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ClientID == "" {
		c.ClientID = d.ClientID
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	if c.Dialer == nil {
		timeout := c.DialTimeout
		c.Dialer = func(ctx context.Context, addr string) (net.Conn, error) {
			nd := net.Dialer{Timeout: timeout}
			return nd.DialContext(ctx, "tcp", addr)
		}
	}
	return c
}

// Callbacks are the event hooks the guest application registers.
// All fields are optional. Callbacks fire from connection goroutines;
// none fires after Close has returned.
type Callbacks struct {
	// OnHandshakeResponse fires when a handshake completes. cellCount
	// is nil when the host did not advertise one in the response; the
	// follow-up cell count query usually fills it in shortly after.
	OnHandshakeResponse func(cellCount *uint16, serverName string)

	// OnKeyEvent fires for every key press or release on the host's
	// physical display.
	OnKeyEvent func(keyID uint32, pressed bool)

	// OnError fires for connection-level failures and peer-reported
	// errors.
	OnError func(text string)

	// OnStateChanged fires on every lifecycle transition.
	OnStateChanged func(state State)
}
