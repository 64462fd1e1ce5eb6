// Package server implements the host side of a RemBraille link: the
// machine with the physical braille display attached.
//
// A Server listens for guest connections, answers handshakes with the
// display's cell count, delivers incoming cell updates to the
// application through callbacks, and forwards hardware key events back
// to whichever guest currently holds the display.
//
// Only one guest drives the display at a time. When a second guest
// completes a handshake, it supersedes the first, whose session is
// closed.
//
// Basic usage:
//
//	srv, err := server.New(server.Config{CellCount: 40}, server.Callbacks{
//		OnCellsReceived: func(cells []byte) { display.Write(cells) },
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	go srv.Serve(ctx)
//	...
//	srv.SendKeyEvent(keyID, true)
//
// Besides raw TCP, the server can accept guests over WebSocket via the
// router returned by Routes.
package server
