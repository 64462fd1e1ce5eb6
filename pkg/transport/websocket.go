package transport

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// wsStream adapts a WebSocket connection to net.Conn so Session stays
// transport agnostic. Frames map one-to-one onto binary messages; text
// and control messages from the peer are skipped.
type wsStream struct {
	ws     *websocket.Conn
	reader io.Reader
}

// NewWebSocketConn wraps an upgraded WebSocket connection as a net.Conn
// suitable for NewSession.
func NewWebSocketConn(ws *websocket.Conn) net.Conn {
	return &wsStream{ws: ws}
}

// DialWebSocket connects to a host's WebSocket endpoint (e.g.
// "ws://host:8080/ws") and returns the stream for NewSession.
func DialWebSocket(ctx context.Context, url string) (net.Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return &wsStream{ws: ws}, nil
}

func (c *wsStream) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue // message exhausted, advance to the next one
		}
		return n, err
	}
}

func (c *wsStream) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsStream) Close() error {
	return c.ws.Close()
}

func (c *wsStream) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

func (c *wsStream) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *wsStream) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsStream) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsStream) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}
