package protocol

import "errors"

// MessageType identifies the type of message carried in a frame.
type MessageType uint8

const (
	TypeHandshake         MessageType = 0x01 // Guest → host: client identity
	TypeHandshakeResponse MessageType = 0x02 // Host → guest: cell count + server name
	TypeDisplayCells      MessageType = 0x10 // Guest → host: braille cell row
	TypeKeyEvent          MessageType = 0x20 // Host → guest: display key press/release
	TypeCellCountRequest  MessageType = 0x30 // Guest → host: ask for cell count
	TypeCellCountResponse MessageType = 0x31 // Host → guest: cell count
	TypePing              MessageType = 0x40 // Keepalive probe
	TypePong              MessageType = 0x41 // Keepalive answer, echoes ping payload
	TypeError             MessageType = 0xFF // Peer-reported error text
)

// String returns the string representation of the message type.
func (mt MessageType) String() string {
	switch mt {
	case TypeHandshake:
		return "Handshake"
	case TypeHandshakeResponse:
		return "HandshakeResponse"
	case TypeDisplayCells:
		return "DisplayCells"
	case TypeKeyEvent:
		return "KeyEvent"
	case TypeCellCountRequest:
		return "CellCountRequest"
	case TypeCellCountResponse:
		return "CellCountResponse"
	case TypePing:
		return "Ping"
	case TypePong:
		return "Pong"
	case TypeError:
		return "Error"
	default:
		return "Unknown"
	}
}

// KeyEvent event-type bytes on the wire.
const (
	keyEventPress   = 0x01
	keyEventRelease = 0x02
)

// Message parsing errors.
var (
	ErrMalformedPayload = errors.New("protocol: malformed message payload")
	ErrInvalidKeyEvent  = errors.New("protocol: invalid key event type byte")
)

// Message is one typed protocol message. The concrete type is one of the
// structs below; Parse never returns anything else.
type Message interface {
	// MessageType returns the wire type code of the message.
	MessageType() MessageType

	// encode appends the message payload. Encoding is total: every
	// representable message has a valid payload.
	encode(e *Encoder)
}

// Handshake is sent by the guest immediately after connecting.
type Handshake struct {
	ClientID string
}

func (Handshake) MessageType() MessageType { return TypeHandshake }

func (m Handshake) encode(e *Encoder) {
	e.WriteString(m.ClientID)
}

// HandshakeResponse is the host's answer to a Handshake.
//
// The cell count is present iff the payload is at least 2 bytes long;
// a 1-byte payload is read as "no cell count, 1-byte server name". That
// corner is ambiguous in the wire format and pinned down by tests.
type HandshakeResponse struct {
	CellCount    uint16
	HasCellCount bool
	ServerName   string
}

func (HandshakeResponse) MessageType() MessageType { return TypeHandshakeResponse }

func (m HandshakeResponse) encode(e *Encoder) {
	if m.HasCellCount {
		e.WriteUint16(m.CellCount)
	}
	e.WriteString(m.ServerName)
}

// DisplayCells carries one row of braille cells, one byte per cell in
// 8-dot encoding (bit n = dot n+1).
type DisplayCells struct {
	Cells []byte
}

func (DisplayCells) MessageType() MessageType { return TypeDisplayCells }

func (m DisplayCells) encode(e *Encoder) {
	e.WriteBytes(m.Cells)
}

// KeyEvent reports a key press or release on the physical display.
type KeyEvent struct {
	KeyID   uint32
	Pressed bool
}

func (KeyEvent) MessageType() MessageType { return TypeKeyEvent }

func (m KeyEvent) encode(e *Encoder) {
	e.WriteUint32(m.KeyID)
	if m.Pressed {
		e.WriteByte(keyEventPress)
	} else {
		e.WriteByte(keyEventRelease)
	}
}

// CellCountRequest asks the host for its display width. Empty payload.
type CellCountRequest struct{}

func (CellCountRequest) MessageType() MessageType { return TypeCellCountRequest }

func (CellCountRequest) encode(*Encoder) {}

// CellCountResponse answers a CellCountRequest.
type CellCountResponse struct {
	CellCount uint16
}

func (CellCountResponse) MessageType() MessageType { return TypeCellCountResponse }

func (m CellCountResponse) encode(e *Encoder) {
	e.WriteUint16(m.CellCount)
}

// Ping is a keepalive probe, optionally carrying the sender's wall clock
// in Unix milliseconds. An empty payload is a valid ping.
type Ping struct {
	Timestamp    uint64
	HasTimestamp bool
}

func (Ping) MessageType() MessageType { return TypePing }

func (m Ping) encode(e *Encoder) {
	if m.HasTimestamp {
		e.WriteUint64(m.Timestamp)
	}
}

// Pong answers a Ping, echoing its timestamp bytes exactly.
type Pong struct {
	Timestamp    uint64
	HasTimestamp bool
}

func (Pong) MessageType() MessageType { return TypePong }

func (m Pong) encode(e *Encoder) {
	if m.HasTimestamp {
		e.WriteUint64(m.Timestamp)
	}
}

// ErrorMessage carries a peer-reported error description.
type ErrorMessage struct {
	Text string
}

func (ErrorMessage) MessageType() MessageType { return TypeError }

func (m ErrorMessage) encode(e *Encoder) {
	e.WriteString(m.Text)
}

// Error implements the error interface.
func (m ErrorMessage) Error() string {
	return "peer error: " + m.Text
}

// Unknown carries a message whose type byte is not part of the protocol.
// Unknown types are surfaced, not rejected: callers decide whether to
// ignore, log, or answer them.
type Unknown struct {
	RawType MessageType
	Payload []byte
}

func (m Unknown) MessageType() MessageType { return m.RawType }

func (m Unknown) encode(e *Encoder) {
	e.WriteBytes(m.Payload)
}

// Parse decodes a frame payload into a typed Message.
//
// Unknown type bytes succeed and yield an Unknown message. Known types
// with payloads that cannot carry the advertised shape fail with
// ErrMalformedPayload (or ErrInvalidKeyEvent for a bad event-type byte).
func Parse(f *Frame) (Message, error) {
	d := NewDecoder(f.Payload)

	switch f.Type {
	case TypeHandshake:
		return Handshake{ClientID: d.ReadRemainingString()}, nil

	case TypeHandshakeResponse:
		m := HandshakeResponse{}
		if d.Remaining() >= 2 {
			count, err := d.ReadUint16()
			if err != nil {
				return nil, err
			}
			m.CellCount = count
			m.HasCellCount = true
		}
		m.ServerName = d.ReadRemainingString()
		return m, nil

	case TypeDisplayCells:
		return DisplayCells{Cells: d.ReadRemainingBytes()}, nil

	case TypeKeyEvent:
		keyID, err := d.ReadUint32()
		if err != nil {
			return nil, ErrMalformedPayload
		}
		eventType, err := d.ReadByte()
		if err != nil {
			return nil, ErrMalformedPayload
		}
		switch eventType {
		case keyEventPress:
			return KeyEvent{KeyID: keyID, Pressed: true}, nil
		case keyEventRelease:
			return KeyEvent{KeyID: keyID, Pressed: false}, nil
		default:
			return nil, ErrInvalidKeyEvent
		}

	case TypeCellCountRequest:
		return CellCountRequest{}, nil

	case TypeCellCountResponse:
		count, err := d.ReadUint16()
		if err != nil {
			return nil, ErrMalformedPayload
		}
		return CellCountResponse{CellCount: count}, nil

	case TypePing:
		ts, has, err := parseTimestamp(d)
		if err != nil {
			return nil, err
		}
		return Ping{Timestamp: ts, HasTimestamp: has}, nil

	case TypePong:
		ts, has, err := parseTimestamp(d)
		if err != nil {
			return nil, err
		}
		return Pong{Timestamp: ts, HasTimestamp: has}, nil

	case TypeError:
		return ErrorMessage{Text: d.ReadRemainingString()}, nil

	default:
		return Unknown{RawType: f.Type, Payload: d.ReadRemainingBytes()}, nil
	}
}

// parseTimestamp reads the optional ping/pong timestamp. The payload is
// either empty or exactly 8 bytes; anything else cannot be echoed
// faithfully and is malformed.
func parseTimestamp(d *Decoder) (uint64, bool, error) {
	if d.Remaining() == 0 {
		return 0, false, nil
	}
	ts, err := d.ReadUint64()
	if err != nil || !d.EOF() {
		return 0, false, ErrMalformedPayload
	}
	return ts, true, nil
}

// Serialize encodes a Message into a frame. Serialization is total: the
// message structs can only describe representable payloads.
func Serialize(m Message) *Frame {
	e := NewEncoder()
	m.encode(e)
	payload := make([]byte, e.Len())
	copy(payload, e.Bytes())
	return NewFrame(m.MessageType(), payload)
}
