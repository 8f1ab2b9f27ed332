package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// PacketBuilder constructs binary frames. All multi-byte values are little-endian.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// WriteBool writes a single 0/1 byte.
func (b *PacketBuilder) WriteBool(v bool) *PacketBuilder {
	if v {
		b.buf.WriteByte(1)
	} else {
		b.buf.WriteByte(0)
	}
	return b
}

// WriteInt32 writes an int32.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	return b.WriteUint32(uint32(v))
}

// WriteUint32 writes a uint32.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// WriteUint64 writes a uint64.
func (b *PacketBuilder) WriteUint64(v uint64) *PacketBuilder {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// WriteFloat32 writes an IEEE-754 float32.
func (b *PacketBuilder) WriteFloat32(v float32) *PacketBuilder {
	return b.WriteUint32(math.Float32bits(v))
}

// WriteString writes a length-prefixed string.
// Format: [length:uvarint][string bytes...]
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	b.writeLength(len(s))
	b.buf.WriteString(s)
	return b
}

// WriteBytes writes a length-prefixed byte blob using the string layout.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.writeLength(len(data))
	b.buf.Write(data)
	return b
}

func (b *PacketBuilder) writeLength(n int) {
	var tmp [binary.MaxVarintLen64]byte
	size := binary.PutUvarint(tmp[:], uint64(n))
	b.buf.Write(tmp[:size])
}

// WriteVector3 writes three float32 components.
func (b *PacketBuilder) WriteVector3(v Vector3) *PacketBuilder {
	return b.WriteFloat32(v.X).WriteFloat32(v.Y).WriteFloat32(v.Z)
}

// WriteQuaternion writes four float32 components.
func (b *PacketBuilder) WriteQuaternion(q Quaternion) *PacketBuilder {
	return b.WriteFloat32(q.X).WriteFloat32(q.Y).WriteFloat32(q.Z).WriteFloat32(q.W)
}

// Build returns the constructed packet bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}
