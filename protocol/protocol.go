// Package protocol implements dispatch's wire frame format.
//
// It solves TCP's sticky packet problem with a fixed-size 14-byte header
// followed by a variable-length body: the receiver reads the header first
// to learn the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...    │
//	│ dsp  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic number bytes: "dsp" (dispatch protocol). Rejects non-protocol
// connections hitting the wrong port before a single body byte is read.
const (
	MagicNumber byte = 0x64 // 'd'
	MagicByte2  byte = 0x73 // 's'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (seq) + 4 (bodyLen)
)

// MsgType distinguishes call, cast, reply, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Invoker → Server call, expects a reply
	MsgTypeReply     MsgType = 1 // Server → Invoker reply to a call
	MsgTypeHeartbeat MsgType = 2 // keep-alive probe, no body
	MsgTypeCast      MsgType = 3 // Invoker → Server fire-and-forget, no reply frame
)

// Codec type constants, mirrored from the codec package to avoid a
// circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header represents the fixed 14-byte frame header.
type Header struct {
	CodecType byte    // 0=JSON, 1=Binary
	MsgType   MsgType // Request, Reply, Heartbeat, or Cast
	Seq       uint32  // multiplexing key — matches a Reply frame to its Request
	BodyLen   uint32  // body length in bytes
}

// Encode writes a complete frame (header + body) to w. Callers sharing w
// across goroutines must serialize writes themselves, otherwise frames
// from different requests interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize)

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], h.BodyLen)

	if _, err := w.Write(buf); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	return nil
}

// Decode reads a complete frame (header + body) from r, validating the
// magic number, version, codec type, and message type. Uses io.ReadFull so
// a short read never gets mistaken for a complete frame.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}

	msgType := headerBuf[5]
	switch MsgType(msgType) {
	case MsgTypeRequest, MsgTypeReply, MsgTypeHeartbeat, MsgTypeCast:
	default:
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	seq := binary.BigEndian.Uint32(headerBuf[6:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   MsgType(msgType),
		Seq:       seq,
		BodyLen:   bodyLen,
	}, body, nil
}
