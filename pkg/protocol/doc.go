// Package protocol implements the RemBraille binary wire protocol.
//
// The protocol forwards braille-display state between a guest process
// (the driver, typically a screen reader inside a virtual machine) and a
// host process (the receiver, attached to the physical display) over a
// persistent TCP connection.
//
// # Wire Format
//
// All messages are framed with a 4-byte header, big-endian throughout:
//
//	┌─────────────┬──────────────┬───────────────────────────────┐
//	│ Version (1) │ Message Type │ Payload Length                │
//	│ (1 byte)    │ (1 byte)     │ (2 bytes, big-endian)         │
//	└─────────────┴──────────────┴───────────────────────────────┘
//
// # Message Types
//
//   - TypeHandshake (0x01): guest identity string
//   - TypeHandshakeResponse (0x02): optional cell count + server name
//   - TypeDisplayCells (0x10): one byte per braille cell, 8-dot encoding
//   - TypeKeyEvent (0x20): uint32 key id + press/release byte
//   - TypeCellCountRequest (0x30): empty payload
//   - TypeCellCountResponse (0x31): uint16 cell count
//   - TypePing (0x40) / TypePong (0x41): optional 8-byte ms timestamp
//   - TypeError (0xFF): UTF-8 error text
//
// # Handshake
//
// Connection establishment is a single request/response exchange:
//
//	Guest                            Host
//	  │                                │
//	  │──── Handshake ───────────────>│
//	  │     (client id)               │
//	  │                                │
//	  │<──── HandshakeResponse ───────│
//	  │     (cell count, name)        │
//	  │                                │
//
// # Decoding
//
// DecodeFrame is incremental: it consumes nothing until a whole frame is
// buffered, so callers accumulate socket reads and retry. Parse turns a
// frame into a typed Message; unknown type bytes are surfaced as Unknown
// rather than rejected, leaving the policy to the caller.
//
// The package is pure: no I/O beyond the ReadFrame/WriteFrame stream
// helpers, no connection state.
package protocol
