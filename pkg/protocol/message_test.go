package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseHandshakeResponse(t *testing.T) {
	tests := []struct {
		name      string
		payload   []byte
		wantCount uint16
		wantHas   bool
		wantName  string
	}{
		{
			name:    "empty_payload",
			payload: []byte{},
		},
		{
			// One byte can't hold a cell count; it is read as a 1-byte name.
			name:     "one_byte_is_name",
			payload:  []byte{'H'},
			wantName: "H",
		},
		{
			name:      "count_only",
			payload:   []byte{0x00, 0x28},
			wantCount: 40,
			wantHas:   true,
		},
		{
			name:      "count_and_name",
			payload:   append([]byte{0x00, 0x28}, []byte("Host")...),
			wantCount: 40,
			wantHas:   true,
			wantName:  "Host",
		},
		{
			name:      "wide_display",
			payload:   append([]byte{0x00, 0x50}, []byte("RemBraille_Host")...),
			wantCount: 80,
			wantHas:   true,
			wantName:  "RemBraille_Host",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Parse(NewFrame(TypeHandshakeResponse, tc.payload))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}

			hr, ok := msg.(HandshakeResponse)
			if !ok {
				t.Fatalf("Parse() = %T, want HandshakeResponse", msg)
			}
			if hr.HasCellCount != tc.wantHas {
				t.Errorf("HasCellCount = %v, want %v", hr.HasCellCount, tc.wantHas)
			}
			if hr.CellCount != tc.wantCount {
				t.Errorf("CellCount = %d, want %d", hr.CellCount, tc.wantCount)
			}
			if hr.ServerName != tc.wantName {
				t.Errorf("ServerName = %q, want %q", hr.ServerName, tc.wantName)
			}
		})
	}
}

func TestParseKeyEvent(t *testing.T) {
	tests := []struct {
		name        string
		payload     []byte
		wantKeyID   uint32
		wantPressed bool
		wantErr     error
	}{
		{
			name:        "press",
			payload:     []byte{0x00, 0x00, 0x00, 0x2A, 0x01},
			wantKeyID:   42,
			wantPressed: true,
		},
		{
			name:      "release",
			payload:   []byte{0x00, 0x00, 0x00, 0x7B, 0x02},
			wantKeyID: 123,
		},
		{
			name:    "bad_event_type",
			payload: []byte{0x00, 0x00, 0x00, 0x01, 0x03},
			wantErr: ErrInvalidKeyEvent,
		},
		{
			name:    "truncated",
			payload: []byte{0x00, 0x00, 0x00, 0x01},
			wantErr: ErrMalformedPayload,
		},
		{
			name:    "empty",
			payload: []byte{},
			wantErr: ErrMalformedPayload,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Parse(NewFrame(TypeKeyEvent, tc.payload))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Parse() error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}

			ke, ok := msg.(KeyEvent)
			if !ok {
				t.Fatalf("Parse() = %T, want KeyEvent", msg)
			}
			if ke.KeyID != tc.wantKeyID {
				t.Errorf("KeyID = %d, want %d", ke.KeyID, tc.wantKeyID)
			}
			if ke.Pressed != tc.wantPressed {
				t.Errorf("Pressed = %v, want %v", ke.Pressed, tc.wantPressed)
			}
		})
	}
}

func TestKeyEventRoundTrip(t *testing.T) {
	want := KeyEvent{KeyID: 42, Pressed: true}
	frame := Serialize(want)

	// Wire layout: 4-byte big-endian key id + event type byte.
	if !bytes.Equal(frame.Payload, []byte{0x00, 0x00, 0x00, 0x2A, 0x01}) {
		t.Errorf("payload = %v", frame.Payload)
	}

	msg, err := Parse(frame)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if msg.(KeyEvent) != want {
		t.Errorf("round trip = %+v, want %+v", msg, want)
	}
}

func TestDisplayCellsRoundTrip(t *testing.T) {
	cells := make([]byte, 40)
	copy(cells, []byte{0x01, 0x03, 0x09, 0x19, 0x15})

	frame := Serialize(DisplayCells{Cells: cells})
	if len(frame.Payload) != 40 {
		t.Fatalf("payload length = %d, want 40", len(frame.Payload))
	}

	wire := frame.Encode()
	decoded, _, err := DecodeFrame(wire)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	msg, err := Parse(decoded)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	dc, ok := msg.(DisplayCells)
	if !ok {
		t.Fatalf("Parse() = %T, want DisplayCells", msg)
	}
	if !bytes.Equal(dc.Cells, cells) {
		t.Errorf("cells = %v, want %v", dc.Cells, cells)
	}
}

func TestParsePingPong(t *testing.T) {
	// Empty ping is valid: no timestamp.
	msg, err := Parse(NewFrame(TypePing, nil))
	if err != nil {
		t.Fatalf("Parse(empty ping) error = %v", err)
	}
	if p := msg.(Ping); p.HasTimestamp {
		t.Error("empty ping should have no timestamp")
	}

	// Timestamped ping round trips and the pong echo preserves the bytes.
	ping := Ping{Timestamp: 1700000000123, HasTimestamp: true}
	pingFrame := Serialize(ping)
	if len(pingFrame.Payload) != 8 {
		t.Fatalf("ping payload length = %d, want 8", len(pingFrame.Payload))
	}

	pongFrame := Serialize(Pong{Timestamp: ping.Timestamp, HasTimestamp: true})
	if !bytes.Equal(pongFrame.Payload, pingFrame.Payload) {
		t.Errorf("pong payload %v does not echo ping payload %v",
			pongFrame.Payload, pingFrame.Payload)
	}

	// A payload that is neither empty nor 8 bytes can't be echoed
	// faithfully through the typed model and is rejected.
	_, err = Parse(NewFrame(TypePong, []byte{1, 2, 3}))
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("Parse(3-byte pong) error = %v, want ErrMalformedPayload", err)
	}
}

func TestParseUnknownType(t *testing.T) {
	payload := []byte{0xDE, 0xAD}
	msg, err := Parse(NewFrame(MessageType(0x99), payload))
	if err != nil {
		t.Fatalf("Parse() error = %v, unknown types must not fail", err)
	}

	u, ok := msg.(Unknown)
	if !ok {
		t.Fatalf("Parse() = %T, want Unknown", msg)
	}
	if u.RawType != 0x99 {
		t.Errorf("RawType = %#x, want 0x99", uint8(u.RawType))
	}
	if !bytes.Equal(u.Payload, payload) {
		t.Errorf("Payload = %v, want %v", u.Payload, payload)
	}
	if u.RawType.String() != "Unknown" {
		t.Errorf("String() = %q, want Unknown", u.RawType.String())
	}
}

func TestParseCellCount(t *testing.T) {
	msg, err := Parse(NewFrame(TypeCellCountRequest, nil))
	if err != nil {
		t.Fatalf("Parse(request) error = %v", err)
	}
	if _, ok := msg.(CellCountRequest); !ok {
		t.Fatalf("Parse() = %T, want CellCountRequest", msg)
	}

	frame := Serialize(CellCountResponse{CellCount: 80})
	if !bytes.Equal(frame.Payload, []byte{0x00, 0x50}) {
		t.Errorf("response payload = %v, want [0 80]", frame.Payload)
	}

	msg, err = Parse(frame)
	if err != nil {
		t.Fatalf("Parse(response) error = %v", err)
	}
	if got := msg.(CellCountResponse).CellCount; got != 80 {
		t.Errorf("CellCount = %d, want 80", got)
	}

	// Response with a short payload is malformed.
	_, err = Parse(NewFrame(TypeCellCountResponse, []byte{0x28}))
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("Parse(short response) error = %v, want ErrMalformedPayload", err)
	}
}

func TestHandshakeAndError(t *testing.T) {
	frame := Serialize(Handshake{ClientID: "RemBraille_Guest"})
	if string(frame.Payload) != "RemBraille_Guest" {
		t.Errorf("handshake payload = %q", frame.Payload)
	}

	msg, err := Parse(frame)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := msg.(Handshake).ClientID; got != "RemBraille_Guest" {
		t.Errorf("ClientID = %q", got)
	}

	em := ErrorMessage{Text: "display unavailable"}
	msg, err = Parse(Serialize(em))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := msg.(ErrorMessage); got.Text != em.Text {
		t.Errorf("Text = %q, want %q", got.Text, em.Text)
	}
	if em.Error() != "peer error: display unavailable" {
		t.Errorf("Error() = %q", em.Error())
	}
}

func TestMessageTypeString(t *testing.T) {
	tests := []struct {
		mt   MessageType
		want string
	}{
		{TypeHandshake, "Handshake"},
		{TypeHandshakeResponse, "HandshakeResponse"},
		{TypeDisplayCells, "DisplayCells"},
		{TypeKeyEvent, "KeyEvent"},
		{TypeCellCountRequest, "CellCountRequest"},
		{TypeCellCountResponse, "CellCountResponse"},
		{TypePing, "Ping"},
		{TypePong, "Pong"},
		{TypeError, "Error"},
		{MessageType(0x77), "Unknown"},
	}
	for _, tc := range tests {
		if got := tc.mt.String(); got != tc.want {
			t.Errorf("MessageType(%#x).String() = %q, want %q", uint8(tc.mt), got, tc.want)
		}
	}
}
