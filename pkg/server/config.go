package server

import (
	"log/slog"

	"github.com/rembraille/rembraille/pkg/transport"
)

// DefaultPort is the TCP port RemBraille hosts listen on.
const DefaultPort = 17635

// DefaultServerName identifies this receiver in handshake responses.
const DefaultServerName = "RemBraille_Host"

// Config holds configuration for the host server.
type Config struct {
	// Address is the TCP listen address. Default: ":17635".
	Address string

	// CellCount is the width of the attached display, reported to
	// guests in handshake and cell-count responses. Default: 40.
	CellCount uint16

	// ServerName is the name sent in handshake responses.
	// Default: DefaultServerName.
	ServerName string

	// Session is the per-connection transport configuration.
	Session transport.Config

	// Keepalive configures host-initiated pings on idle guests.
	// Only used when EnableKeepalive is set; guests run their own
	// keepalive either way and the host always answers pings.
	Keepalive transport.KeepaliveConfig

	// EnableKeepalive turns on host-initiated keepalive probing.
	EnableKeepalive bool

	// Middleware wraps the inbound dispatch chain of every guest
	// session, outermost first.
	Middleware []transport.Middleware

	// Logger is the structured logger. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Address:    ":17635",
		CellCount:  40,
		ServerName: DefaultServerName,
		Session:    transport.DefaultConfig(),
		Keepalive:  transport.DefaultKeepaliveConfig(),
		Logger:     slog.Default(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Address == "" {
		c.Address = d.Address
	}
	if c.CellCount == 0 {
		c.CellCount = d.CellCount
	}
	if c.ServerName == "" {
		c.ServerName = d.ServerName
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}

// Callbacks are the event hooks the receiver application registers.
// All fields are optional.
type Callbacks struct {
	// OnCellsReceived fires for every display update from the active
	// guest, one byte per cell.
	OnCellsReceived func(cells []byte)

	// OnClientConnected fires when a guest completes its handshake.
	OnClientConnected func(clientID string)

	// OnClientDisconnected fires when the active guest goes away.
	OnClientDisconnected func()

	// OnError fires for connection-level failures and peer errors.
	OnError func(text string)
}
