// Package client implements the guest side of a RemBraille link: the
// machine whose screen reader output is forwarded to a braille display
// attached to a remote host.
//
// A Conn walks the lifecycle
//
//	Disconnected ──► Connecting ──► Handshaking ──► Ready
//	                     ▲                            │
//	                     │        connection lost     │
//	                     └────── Reconnecting ◄───────┘
//
// with Closed reachable from every state through Close. After a loss
// the connection re-dials on its own with doubling backoff, and every
// fresh connection redoes the handshake and re-queries the display
// width from scratch.
//
// Basic usage:
//
//	conn := client.New(client.DefaultConfig(), client.Callbacks{
//		OnKeyEvent: func(keyID uint32, pressed bool) { ... },
//	})
//	if err := conn.Connect(ctx, "10.0.0.5", 17635); err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	conn.DisplayCells(cells)
//
// Callbacks fire from connection goroutines. Close blocks until all of
// them have stopped, so no callback fires after Close returns.
package client
