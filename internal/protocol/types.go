package protocol

import "math"

// Vector3 is a position or velocity in game space.
type Vector3 struct {
	X, Y, Z float32
}

// IsFinite reports whether no component is NaN or infinite.
func (v Vector3) IsFinite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

func isFinite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

// Quaternion is a rotation.
type Quaternion struct {
	X, Y, Z, W float32
}

// Transform is one player's movement sample. Tick is stamped by the
// server when the sample is relayed; Latency is the client's own estimate.
type Transform struct {
	Position Vector3
	Rotation Quaternion
	Velocity Vector3
	Stopped  bool
	Tick     uint64
	Latency  uint64
}

// IsFinite reports whether position and velocity are safe to forward.
func (t Transform) IsFinite() bool {
	return t.Position.IsFinite() && t.Velocity.IsFinite()
}

func (t *Transform) encode(b *PacketBuilder) {
	b.WriteVector3(t.Position).
		WriteQuaternion(t.Rotation).
		WriteVector3(t.Velocity).
		WriteBool(t.Stopped).
		WriteUint64(t.Tick).
		WriteUint64(t.Latency)
}

func (t *Transform) decode(r *PacketReader) {
	t.Position = r.ReadVector3()
	t.Rotation = r.ReadQuaternion()
	t.Velocity = r.ReadVector3()
	t.Stopped = r.ReadBool()
	t.Tick = r.ReadUint64()
	t.Latency = r.ReadUint64()
}

// CharacterInfo is an opaque custom-appearance payload for modded characters.
type CharacterInfo struct {
	Type string
	Data []byte
}

// Player is the shared description of a connected player.
type Player struct {
	Name          string
	ID            uint32
	Stage         int32
	Character     int32
	Outfit        int32
	MoveStyle     int32
	Transform     Transform
	IsDeveloper   bool
	CharacterInfo *CharacterInfo
}

func (p *Player) encode(b *PacketBuilder) {
	b.WriteString(p.Name).
		WriteUint32(p.ID).
		WriteInt32(p.Stage).
		WriteInt32(p.Character).
		WriteInt32(p.Outfit).
		WriteInt32(p.MoveStyle)
	p.Transform.encode(b)
	b.WriteBool(p.IsDeveloper)
	b.WriteBool(p.CharacterInfo != nil)
	if p.CharacterInfo != nil {
		b.WriteString(p.CharacterInfo.Type).WriteBytes(p.CharacterInfo.Data)
	}
}

func (p *Player) decode(r *PacketReader) {
	p.Name = r.ReadString()
	p.ID = r.ReadUint32()
	p.Stage = r.ReadInt32()
	p.Character = r.ReadInt32()
	p.Outfit = r.ReadInt32()
	p.MoveStyle = r.ReadInt32()
	p.Transform.decode(r)
	p.IsDeveloper = r.ReadBool()
	if r.ReadBool() {
		p.CharacterInfo = &CharacterInfo{
			Type: r.ReadString(),
			Data: r.ReadBytes(),
		}
	}
}

// Clone returns a deep copy so callers can hand the value to other goroutines.
func (p Player) Clone() Player {
	if p.CharacterInfo != nil {
		info := *p.CharacterInfo
		info.Data = append([]byte(nil), p.CharacterInfo.Data...)
		if len(info.Data) == 0 {
			info.Data = nil
		}
		p.CharacterInfo = &info
	}
	return p
}

// RaceConfig describes one track: where racers line up and the checkpoints
// they must pass in order.
type RaceConfig struct {
	Stage         int32
	StartPosition Vector3
	Checkpoints   []Vector3
}

func (c *RaceConfig) encode(b *PacketBuilder) {
	b.WriteInt32(c.Stage).WriteVector3(c.StartPosition)
	b.WriteInt32(int32(len(c.Checkpoints)))
	for _, cp := range c.Checkpoints {
		b.WriteVector3(cp)
	}
}

func (c *RaceConfig) decode(r *PacketReader) {
	c.Stage = r.ReadInt32()
	c.StartPosition = r.ReadVector3()
	n := r.ReadCount(12)
	if n == 0 {
		c.Checkpoints = nil
		return
	}
	c.Checkpoints = make([]Vector3, n)
	for i := range c.Checkpoints {
		c.Checkpoints[i] = r.ReadVector3()
	}
}
