package protocol

import (
	"testing"
)

// FuzzDecodeFrame tests that decoding arbitrary bytes doesn't panic.
func FuzzDecodeFrame(f *testing.F) {
	// Seed with valid frames
	f.Add(NewFrame(TypeHandshake, []byte("RemBraille_Guest")).Encode())
	f.Add(NewFrame(TypeDisplayCells, []byte{0x01, 0x03, 0x09}).Encode())
	f.Add(NewFrame(TypeCellCountRequest, nil).Encode())
	f.Add([]byte{0x02, 0x01, 0x00, 0x00}) // wrong version
	f.Add([]byte{0x01, 0xFF, 0xFF, 0xFF}) // oversized length

	f.Fuzz(func(t *testing.T, data []byte) {
		// Should not panic
		frame, consumed, err := DecodeFrame(data)
		if frame != nil && (err != nil || consumed <= 0) {
			t.Errorf("frame with err=%v consumed=%d", err, consumed)
		}
	})
}

// FuzzParse tests that parsing arbitrary frame payloads doesn't panic
// for any message type byte.
func FuzzParse(f *testing.F) {
	f.Add(byte(TypeHandshakeResponse), []byte{0x00, 0x28, 'H', 'o', 's', 't'})
	f.Add(byte(TypeKeyEvent), []byte{0x00, 0x00, 0x00, 0x2A, 0x01})
	f.Add(byte(TypePing), []byte{0, 0, 0, 0, 0, 0, 0, 1})
	f.Add(byte(0x99), []byte{0xDE, 0xAD})

	f.Fuzz(func(t *testing.T, mt byte, payload []byte) {
		if len(payload) > MaxPayloadSize {
			payload = payload[:MaxPayloadSize]
		}
		// Should not panic
		msg, err := Parse(NewFrame(MessageType(mt), payload))
		if err == nil && msg == nil {
			t.Error("nil message without error")
		}
	})
}
