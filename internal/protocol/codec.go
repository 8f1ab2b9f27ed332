package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// UnknownMessageTypeError is returned by Decode for a tag outside the catalogue.
type UnknownMessageTypeError struct {
	Tag MessageType
}

func (e *UnknownMessageTypeError) Error() string {
	return fmt.Sprintf("unknown message type %d", int32(e.Tag))
}

// MalformedPacketError is returned by Decode when a known message body is
// truncated or carries an invalid length or count.
type MalformedPacketError struct {
	Tag MessageType
	Err error
}

func (e *MalformedPacketError) Error() string {
	return fmt.Sprintf("malformed %s packet: %v", e.Tag, e.Err)
}

func (e *MalformedPacketError) Unwrap() error {
	return e.Err
}

// Encode serializes msg as one transport frame.
func Encode(msg Message) []byte {
	b := NewPacketBuilder()
	b.WriteInt32(int32(msg.MessageType()))
	msg.encode(b)
	return b.Build()
}

// Decode parses one transport frame. Bytes after a complete body are ignored.
func Decode(frame []byte) (Message, error) {
	if len(frame) < 4 {
		return nil, &MalformedPacketError{
			Tag: -1,
			Err: fmt.Errorf("frame of %d bytes has no tag: %w", len(frame), io.ErrUnexpectedEOF),
		}
	}

	tag := MessageType(int32(binary.LittleEndian.Uint32(frame[:4])))
	msg := newMessage(tag)
	if msg == nil {
		return nil, &UnknownMessageTypeError{Tag: tag}
	}

	r := NewPacketReader(frame[4:])
	msg.decode(r)
	if err := r.Err(); err != nil {
		return nil, &MalformedPacketError{Tag: tag, Err: err}
	}
	return msg, nil
}
