package codec

import (
	"encoding/binary"
	"errors"

	"github.com/dispatch-cluster/dispatch/message"
)

type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	// v must be *Envelope
	msg, ok := v.(*message.Envelope)
	if !ok {
		return nil, errors.New("BinaryCodec: v must be *message.Envelope")
	}
	// Caculate the length of message
	total := 2 + len(msg.Target) + 4 + len(msg.Payload) + 2 + len(msg.Error)
	buf := make([]byte, total)

	offset := 0
	// Target length -- 2 bytes
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(msg.Target)))
	offset += 2

	// Target -- n bytes
	copy(buf[offset:offset+len(msg.Target)], []byte(msg.Target))
	offset += len(msg.Target)

	// Payload length -- 4 bytes
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(msg.Payload)))
	offset += 4

	// Payload -- n bytes
	copy(buf[offset:offset+len(msg.Payload)], msg.Payload)
	offset += len(msg.Payload)

	// Error length -- 2 bytes
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(msg.Error)))
	offset += 2

	// Error -- n bytes
	copy(buf[offset:offset+len(msg.Error)], []byte(msg.Error))
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	// v must be *Envelope
	msg, ok := v.(*message.Envelope)
	if !ok {
		return errors.New("BinaryCodec: v must be *message.Envelope")
	}

	offset := 0

	// Read Target
	strLen := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	msg.Target = string(data[offset : offset+int(strLen)])
	offset += int(strLen)

	// Read Payload
	payloadLen := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	msg.Payload = make([]byte, payloadLen)
	copy(msg.Payload, data[offset:offset+int(payloadLen)])
	offset += int(payloadLen)

	// Read Error
	errLen := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	msg.Error = string(data[offset : offset+int(errLen)])

	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
