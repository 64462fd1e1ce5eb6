package protocol

import (
	"errors"
	"io"
)

// Frame constants.
const (
	// ProtocolVersion is the wire protocol version carried in every frame.
	ProtocolVersion = 1

	// FrameHeaderSize is the size of the frame header in bytes.
	FrameHeaderSize = 4

	// MaxPayloadSize is the maximum payload size (2^16 - 1 bytes).
	MaxPayloadSize = 65535

	// DefaultMaxFrameSize is the default ceiling for a whole frame
	// (header + payload). Decoders reject anything larger to bound
	// memory use below the protocol's uint16 limit.
	DefaultMaxFrameSize = 65536
)

// Frame errors.
var (
	ErrFrameTooLarge   = errors.New("protocol: frame payload too large")
	ErrVersionMismatch = errors.New("protocol: frame version mismatch")
)

// Frame represents a protocol frame with header and payload.
//
// Wire format (4 bytes header + variable payload, big-endian):
//
//	┌─────────────┬──────────────┬───────────────────────────────┐
//	│ Version     │ Message Type │ Payload Length                │
//	│ (1 byte)    │ (1 byte)     │ (2 bytes, big-endian)         │
//	└─────────────┴──────────────┴───────────────────────────────┘
//	│                                                             │
//	│  Payload (variable length)                                  │
//	│                                                             │
//	└─────────────────────────────────────────────────────────────┘
type Frame struct {
	Version uint8
	Type    MessageType
	Payload []byte
}

// NewFrame creates a new frame with the given type and payload.
// The version is always the locally supported protocol version.
func NewFrame(mt MessageType, payload []byte) *Frame {
	return &Frame{
		Version: ProtocolVersion,
		Type:    mt,
		Payload: payload,
	}
}

// Encode encodes the frame to bytes including the header.
// The caller must ensure the payload fits in a uint16; use EncodeFrame
// for a checked variant.
func (f *Frame) Encode() []byte {
	length := len(f.Payload)
	buf := make([]byte, FrameHeaderSize+length)
	buf[0] = f.Version
	buf[1] = byte(f.Type)
	buf[2] = byte(length >> 8)
	buf[3] = byte(length)
	copy(buf[FrameHeaderSize:], f.Payload)
	return buf
}

// EncodeFrame encodes a frame of the given type and payload, validating
// the payload length against the protocol ceiling.
func EncodeFrame(mt MessageType, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}
	return NewFrame(mt, payload).Encode(), nil
}

// DecodeFrame decodes one frame from the front of buf.
//
// It supports partial input: when buf holds less than a complete frame
// (header or payload), it returns (nil, 0, nil) and the caller should
// accumulate more bytes and retry. Nothing is consumed in that case.
//
// On success it returns the frame and the number of bytes consumed
// (FrameHeaderSize + payload length). The payload is copied, so buf may
// be reused by the caller.
func DecodeFrame(buf []byte) (*Frame, int, error) {
	return DecodeFrameLimit(buf, DefaultMaxFrameSize)
}

// DecodeFrameLimit is DecodeFrame with a configurable total frame size
// ceiling. Frames whose header announces a larger size fail with
// ErrFrameTooLarge before any payload is buffered.
func DecodeFrameLimit(buf []byte, maxFrameSize int) (*Frame, int, error) {
	if len(buf) < FrameHeaderSize {
		return nil, 0, nil
	}

	version := buf[0]
	mt := MessageType(buf[1])
	length := int(buf[2])<<8 | int(buf[3])

	if version != ProtocolVersion {
		return nil, 0, ErrVersionMismatch
	}
	if FrameHeaderSize+length > maxFrameSize {
		return nil, 0, ErrFrameTooLarge
	}
	if len(buf) < FrameHeaderSize+length {
		return nil, 0, nil
	}

	payload := make([]byte, length)
	copy(payload, buf[FrameHeaderSize:FrameHeaderSize+length])

	return &Frame{
		Version: version,
		Type:    mt,
		Payload: payload,
	}, FrameHeaderSize + length, nil
}

// ReadFrame reads a complete frame from an io.Reader.
// It blocks until a full frame is available or the reader fails.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	if header[0] != ProtocolVersion {
		return nil, ErrVersionMismatch
	}
	mt := MessageType(header[1])
	length := int(header[2])<<8 | int(header[3])

	if FrameHeaderSize+length > DefaultMaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	return &Frame{
		Version: header[0],
		Type:    mt,
		Payload: payload,
	}, nil
}

// WriteFrame writes a complete frame to an io.Writer.
func WriteFrame(w io.Writer, f *Frame) error {
	if len(f.Payload) > MaxPayloadSize {
		return ErrFrameTooLarge
	}

	data := f.Encode()
	_, err := w.Write(data)
	return err
}
