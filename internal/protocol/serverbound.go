package protocol

// VersionCheck announces the protocol revision the plugin was built for.
type VersionCheck struct {
	Version uint32
}

func (*VersionCheck) MessageType() MessageType  { return PktVersion }
func (*VersionCheck) Direction() Direction      { return Serverbound }
func (m *VersionCheck) encode(b *PacketBuilder) { b.WriteUint32(m.Version) }
func (m *VersionCheck) decode(r *PacketReader)  { m.Version = r.ReadUint32() }

// Ping asks for a Pong echoing ID.
type Ping struct {
	ID uint32
}

func (*Ping) MessageType() MessageType  { return PktPing }
func (*Ping) Direction() Direction      { return Serverbound }
func (m *Ping) encode(b *PacketBuilder) { b.WriteUint32(m.ID) }
func (m *Ping) decode(r *PacketReader)  { m.ID = r.ReadUint32() }

// Hello is the handshake. The secret is only used to derive the developer
// flag and must never be stored.
type Hello struct {
	Player Player
	Secret string
}

func (*Hello) MessageType() MessageType { return PktHello }
func (*Hello) Direction() Direction     { return Serverbound }

func (m *Hello) encode(b *PacketBuilder) {
	m.Player.encode(b)
	b.WriteString(m.Secret)
}

func (m *Hello) decode(r *PacketReader) {
	m.Player.decode(r)
	m.Secret = r.ReadString()
}

// PositionUpdate carries the sender's latest transform. Only the newest
// one per tick is forwarded.
type PositionUpdate struct {
	Transform Transform
}

func (*PositionUpdate) MessageType() MessageType  { return PktPositionUpdate }
func (*PositionUpdate) Direction() Direction      { return Serverbound }
func (m *PositionUpdate) encode(b *PacketBuilder) { m.Transform.encode(b) }
func (m *PositionUpdate) decode(r *PacketReader)  { m.Transform.decode(r) }

// Animation reports the animation the sender is playing.
type Animation struct {
	Animation      int32
	ForceOverwrite bool
	Instant        bool
	AtTime         float32
}

func (*Animation) MessageType() MessageType { return PktAnimation }
func (*Animation) Direction() Direction     { return Serverbound }

func (m *Animation) encode(b *PacketBuilder) {
	b.WriteInt32(m.Animation).WriteBool(m.ForceOverwrite).WriteBool(m.Instant).WriteFloat32(m.AtTime)
}

func (m *Animation) decode(r *PacketReader) {
	m.Animation = r.ReadInt32()
	m.ForceOverwrite = r.ReadBool()
	m.Instant = r.ReadBool()
	m.AtTime = r.ReadFloat32()
}

// ScoreUpdate reports the sender's trick score.
type ScoreUpdate struct {
	Score      int32
	BaseScore  int32
	Multiplier int32
}

func (*ScoreUpdate) MessageType() MessageType { return PktScoreUpdate }
func (*ScoreUpdate) Direction() Direction     { return Serverbound }

func (m *ScoreUpdate) encode(b *PacketBuilder) {
	b.WriteInt32(m.Score).WriteInt32(m.BaseScore).WriteInt32(m.Multiplier)
}

func (m *ScoreUpdate) decode(r *PacketReader) {
	m.Score = r.ReadInt32()
	m.BaseScore = r.ReadInt32()
	m.Multiplier = r.ReadInt32()
}

// VisualUpdate reports cosmetic effect state.
type VisualUpdate struct {
	BoostpackEffect int32
	FrictionEffect  int32
	Spraycan        bool
	Phone           bool
	SpraycanState   int32
}

func (*VisualUpdate) MessageType() MessageType { return PktVisualUpdate }
func (*VisualUpdate) Direction() Direction     { return Serverbound }

func (m *VisualUpdate) encode(b *PacketBuilder) {
	b.WriteInt32(m.BoostpackEffect).
		WriteInt32(m.FrictionEffect).
		WriteBool(m.Spraycan).
		WriteBool(m.Phone).
		WriteInt32(m.SpraycanState)
}

func (m *VisualUpdate) decode(r *PacketReader) {
	m.BoostpackEffect = r.ReadInt32()
	m.FrictionEffect = r.ReadInt32()
	m.Spraycan = r.ReadBool()
	m.Phone = r.ReadBool()
	m.SpraycanState = r.ReadInt32()
}

// EncounterRequest asks the server to start an encounter with PlayerID.
// Only the config's type is meaningful from the client; the server resolves
// the rest.
type EncounterRequest struct {
	PlayerID uint32
	Config   EncounterConfig
}

func (*EncounterRequest) MessageType() MessageType { return PktEncounterRequest }
func (*EncounterRequest) Direction() Direction     { return Serverbound }

func (m *EncounterRequest) encode(b *PacketBuilder) {
	b.WriteUint32(m.PlayerID)
	writeEncounterConfig(b, m.Config)
}

func (m *EncounterRequest) decode(r *PacketReader) {
	m.PlayerID = r.ReadUint32()
	m.Config = readEncounterConfig(r)
}

// EncounterType returns the requested type, or score when no config was set.
func (m *EncounterRequest) EncounterType() EncounterType {
	if m.Config == nil {
		return EncounterScore
	}
	return m.Config.Type()
}

// RequestRace asks to join the stage race lobby.
type RequestRace struct{}

func (*RequestRace) MessageType() MessageType { return PktRequestRace }
func (*RequestRace) Direction() Direction     { return Serverbound }
func (*RequestRace) encode(*PacketBuilder)    {}
func (*RequestRace) decode(*PacketReader)     {}

// ReadyForRace reports the sender has loaded the race course.
type ReadyForRace struct{}

func (*ReadyForRace) MessageType() MessageType { return PktReadyForRace }
func (*ReadyForRace) Direction() Direction     { return Serverbound }
func (*ReadyForRace) encode(*PacketBuilder)    {}
func (*ReadyForRace) decode(*PacketReader)     {}

// FinishedRace reports the client-measured race time in seconds.
type FinishedRace struct {
	Time float32
}

func (*FinishedRace) MessageType() MessageType  { return PktFinishedRace }
func (*FinishedRace) Direction() Direction      { return Serverbound }
func (m *FinishedRace) encode(b *PacketBuilder) { b.WriteFloat32(m.Time) }
func (m *FinishedRace) decode(r *PacketReader)  { m.Time = r.ReadFloat32() }
