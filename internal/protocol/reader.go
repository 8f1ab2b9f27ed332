package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// PacketReader reads little-endian primitives from a frame body.
// The first failure is sticky: later reads return zero values and Err
// reports the original cause, so decoders can read a whole body and check once.
type PacketReader struct {
	r   *bytes.Reader
	err error
}

// NewPacketReader wraps a frame body.
func NewPacketReader(data []byte) *PacketReader {
	return &PacketReader{r: bytes.NewReader(data)}
}

// Err returns the first decode failure, if any.
func (r *PacketReader) Err() error {
	return r.err
}

func (r *PacketReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *PacketReader) read(n int) []byte {
	if r.err != nil {
		return nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		r.fail(fmt.Errorf("reading %d bytes: %w", n, io.ErrUnexpectedEOF))
		return nil
	}
	return buf
}

// ReadBool reads one byte; any non-zero value is true.
func (r *PacketReader) ReadBool() bool {
	b := r.read(1)
	if b == nil {
		return false
	}
	return b[0] != 0
}

// ReadInt32 reads an int32.
func (r *PacketReader) ReadInt32() int32 {
	return int32(r.ReadUint32())
}

// ReadUint32 reads a uint32.
func (r *PacketReader) ReadUint32() uint32 {
	b := r.read(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// ReadUint64 reads a uint64.
func (r *PacketReader) ReadUint64() uint64 {
	b := r.read(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// ReadFloat32 reads an IEEE-754 float32.
func (r *PacketReader) ReadFloat32() float32 {
	return math.Float32frombits(r.ReadUint32())
}

// ReadString reads a uvarint length-prefixed string.
func (r *PacketReader) ReadString() string {
	return string(r.ReadBytes())
}

// ReadBytes reads a uvarint length-prefixed byte blob. An empty blob
// decodes as nil.
func (r *PacketReader) ReadBytes() []byte {
	n := r.readLength()
	if r.err != nil || n == 0 {
		return nil
	}
	return r.read(n)
}

// ReadCount reads an int32 element count for a repeated field and checks it
// against the bytes left, given the minimum encoded size of one element.
func (r *PacketReader) ReadCount(minElemSize int) int {
	n := r.ReadInt32()
	if r.err != nil {
		return 0
	}
	if n < 0 {
		r.fail(fmt.Errorf("negative element count %d", n))
		return 0
	}
	if minElemSize > 0 && int(n) > r.r.Len()/minElemSize {
		r.fail(fmt.Errorf("element count %d exceeds remaining %d bytes", n, r.r.Len()))
		return 0
	}
	return int(n)
}

func (r *PacketReader) readLength() int {
	if r.err != nil {
		return 0
	}
	n, err := binary.ReadUvarint(r.r)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		r.fail(fmt.Errorf("reading length prefix: %w", err))
		return 0
	}
	if n > MaxStringLength {
		r.fail(fmt.Errorf("length %d exceeds limit %d", n, MaxStringLength))
		return 0
	}
	if int(n) > r.r.Len() {
		r.fail(fmt.Errorf("length %d exceeds remaining %d bytes: %w", n, r.r.Len(), io.ErrUnexpectedEOF))
		return 0
	}
	return int(n)
}

// ReadVector3 reads three float32 components.
func (r *PacketReader) ReadVector3() Vector3 {
	return Vector3{X: r.ReadFloat32(), Y: r.ReadFloat32(), Z: r.ReadFloat32()}
}

// ReadQuaternion reads four float32 components.
func (r *PacketReader) ReadQuaternion() Quaternion {
	return Quaternion{X: r.ReadFloat32(), Y: r.ReadFloat32(), Z: r.ReadFloat32(), W: r.ReadFloat32()}
}
