package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/rembraille/rembraille/pkg/middleware"
	"github.com/rembraille/rembraille/pkg/protocol"
	"github.com/rembraille/rembraille/pkg/transport"
)

// clientConn is one guest connection as seen by the host. It exists
// from accept until the session ends; it only becomes the active guest
// once a handshake arrives.
type clientConn struct {
	srv  *Server
	sess *transport.Session
	ka   *transport.Keepalive

	clientID   string
	handshaken atomic.Bool
}

func newClientConn(s *Server, conn net.Conn) *clientConn {
	cc := &clientConn{srv: s}

	d := transport.NewDispatcher(s.logger)
	for _, mw := range s.cfg.Middleware {
		d.Use(mw)
	}
	d.Register(protocol.TypeHandshake, func(m protocol.Message) error {
		return cc.onHandshake(m.(protocol.Handshake))
	})
	d.Register(protocol.TypeCellCountRequest, func(m protocol.Message) error {
		return cc.sess.Send(protocol.CellCountResponse{CellCount: s.cfg.CellCount})
	})
	d.Register(protocol.TypeDisplayCells, func(m protocol.Message) error {
		return cc.onDisplayCells(m.(protocol.DisplayCells))
	})
	d.Register(protocol.TypePing, func(m protocol.Message) error {
		ping := m.(protocol.Ping)
		return cc.sess.Send(protocol.Pong{
			Timestamp:    ping.Timestamp,
			HasTimestamp: ping.HasTimestamp,
		})
	})
	d.Register(protocol.TypePong, func(m protocol.Message) error {
		if cc.ka != nil {
			cc.ka.PongReceived()
		}
		return nil
	})
	d.Register(protocol.TypeError, func(m protocol.Message) error {
		em := m.(protocol.ErrorMessage)
		s.logger.Warn("peer error", "client", cc.clientID, "text", em.Text)
		s.reportError(em.Text)
		return nil
	})
	d.RegisterUnknown(func(m protocol.Message) error {
		u := m.(protocol.Unknown)
		s.logger.Warn("unknown message type",
			"client", cc.clientID, "type", fmt.Sprintf("0x%02X", byte(u.RawType)))
		return cc.sess.Send(protocol.ErrorMessage{
			Text: fmt.Sprintf("unknown message type 0x%02X", byte(u.RawType)),
		})
	})

	cc.sess = transport.NewSession(conn, d, s.cfg.Session)
	return cc
}

// run drives the session to completion, then releases the active slot
// if this guest held it.
func (cc *clientConn) run(ctx context.Context) {
	s := cc.srv
	s.logger.Info("client connected", "remote", cc.sess.RemoteAddr())

	if s.cfg.EnableKeepalive {
		cc.ka = transport.NewKeepalive(cc.sess, s.cfg.Keepalive, func(err error) {
			s.logger.Warn("keepalive failed",
				"client", cc.clientID, "error", err)
			middleware.RecordKeepaliveTimeout()
			s.reportError(err.Error())
			cc.sess.Close()
		})
		go cc.ka.Run(ctx)
	}

	err := cc.sess.Run(ctx)
	middleware.RecordLinkTraffic(cc.sess.BytesSent(), cc.sess.BytesReceived())
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("session ended",
			"client", cc.clientID, "error", err)
		s.reportError(err.Error())
	} else {
		s.logger.Info("client disconnected", "client", cc.clientID)
	}

	if cc.handshaken.Load() {
		s.demote(cc)
	}
}

func (cc *clientConn) onHandshake(hs protocol.Handshake) error {
	s := cc.srv
	cc.clientID = hs.ClientID
	first := cc.handshaken.CompareAndSwap(false, true)
	s.logger.Info("handshake",
		"client", cc.clientID, "remote", cc.sess.RemoteAddr())

	if err := cc.sess.Send(protocol.HandshakeResponse{
		CellCount:    s.cfg.CellCount,
		HasCellCount: true,
		ServerName:   s.cfg.ServerName,
	}); err != nil {
		return err
	}
	if first {
		s.promote(cc)
	}
	return nil
}

func (cc *clientConn) onDisplayCells(dc protocol.DisplayCells) error {
	s := cc.srv
	if !cc.handshaken.Load() {
		// Tolerated for compatibility with minimal senders that
		// skip the handshake.
		s.logger.Debug("cells before handshake", "remote", cc.sess.RemoteAddr())
	}
	if s.cb.OnCellsReceived != nil {
		s.cb.OnCellsReceived(dc.Cells)
	}
	return nil
}
