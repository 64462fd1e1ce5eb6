// Package transport runs the RemBraille protocol over a duplex byte
// stream.
//
// A Session owns one connection (TCP or WebSocket via the net.Conn
// adapter) and supervises exactly one receive path and one send path.
// Inbound bytes are accumulated, framed, parsed, and handed to a
// Dispatcher, which routes each typed message to at most one registered
// handler per type. Outbound messages go through a bounded queue drained
// by a single socket writer, so producers see backpressure as
// ErrQueueFull instead of unbounded buffering.
//
// The Keepalive monitor pings an idle session and treats a missing pong
// like a socket error; it only enqueues messages and never touches the
// socket itself.
//
// Connection lifecycle policy (handshakes, reconnection) lives above
// this package, in client and server.
package transport
