package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rembraille/rembraille/pkg/protocol"
)

// ErrKeepaliveTimeout is reported when a ping goes unanswered past the
// configured deadline. It is treated exactly like a socket error.
var ErrKeepaliveTimeout = errors.New("transport: keepalive timeout, no pong received")

// KeepaliveConfig holds configuration for the keepalive monitor.
type KeepaliveConfig struct {
	// Interval is the outbound idle time after which a ping is sent.
	// Default: 15 seconds.
	Interval time.Duration

	// Timeout is how long to wait for the answering pong before the
	// connection is declared dead. Default: 8 seconds.
	Timeout time.Duration

	// Logger is the structured logger. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultKeepaliveConfig returns a KeepaliveConfig with sensible defaults.
func DefaultKeepaliveConfig() KeepaliveConfig {
	return KeepaliveConfig{
		Interval: 15 * time.Second,
		Timeout:  8 * time.Second,
		Logger:   slog.Default(),
	}
}

func (c KeepaliveConfig) withDefaults() KeepaliveConfig {
	d := DefaultKeepaliveConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}

// Keepalive probes an idle session with pings and declares the
// connection dead when a pong does not arrive in time.
//
// At most one ping is outstanding: a new ping is not issued until the
// previous one was answered or timed out. The monitor only enqueues
// messages onto the session's send queue; it never touches the socket.
type Keepalive struct {
	sess      *Session
	cfg       KeepaliveConfig
	logger    *slog.Logger
	onFailure func(error)

	// Unix nanos of the armed pong deadline; 0 means no ping in flight.
	deadline atomic.Int64
	failed   atomic.Bool
}

// NewKeepalive creates a monitor for the given session. onFailure is
// invoked at most once, from the monitor goroutine, when the deadline
// expires.
func NewKeepalive(sess *Session, cfg KeepaliveConfig, onFailure func(error)) *Keepalive {
	cfg = cfg.withDefaults()
	return &Keepalive{
		sess:      sess,
		cfg:       cfg,
		logger:    cfg.Logger,
		onFailure: onFailure,
	}
}

// PongReceived disarms the pending pong deadline. Wire it to the
// session's Pong handler.
func (k *Keepalive) PongReceived() {
	k.deadline.Store(0)
}

// Run drives the keepalive schedule until the context is canceled, the
// session ends, or a deadline expires.
func (k *Keepalive) Run(ctx context.Context) {
	tick := k.cfg.Interval / 4
	if tick > k.cfg.Timeout/2 {
		tick = k.cfg.Timeout / 2
	}
	if tick < time.Millisecond {
		tick = time.Millisecond
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-k.sess.Done():
			return
		case now := <-ticker.C:
			if k.step(now) {
				return
			}
		}
	}
}

// step runs one schedule check; it reports whether the monitor is done.
func (k *Keepalive) step(now time.Time) bool {
	if dl := k.deadline.Load(); dl != 0 {
		if now.UnixNano() >= dl {
			k.deadline.Store(0)
			k.fail()
			return true
		}
		return false // ping in flight, wait for pong or deadline
	}

	if now.Sub(k.sess.LastOutbound()) < k.cfg.Interval {
		return false // recent outbound traffic, stay quiet
	}

	ping := protocol.Ping{
		Timestamp:    uint64(now.UnixMilli()),
		HasTimestamp: true,
	}
	if err := k.sess.Send(ping); err != nil {
		// Queue pressure or a closing session; the read/write loops
		// surface real socket failures, so just skip this round.
		k.logger.Debug("keepalive ping not sent", "error", err)
		return false
	}

	k.logger.Debug("keepalive ping sent", "timestamp", ping.Timestamp)
	k.deadline.Store(now.Add(k.cfg.Timeout).UnixNano())
	return false
}

func (k *Keepalive) fail() {
	if k.failed.Swap(true) {
		return
	}
	k.logger.Warn("keepalive timeout", "timeout", k.cfg.Timeout)
	if k.onFailure != nil {
		k.onFailure(ErrKeepaliveTimeout)
	}
}
