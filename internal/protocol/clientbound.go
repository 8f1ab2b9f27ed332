package protocol

type Pong struct {
	ID uint32
}

func (*Pong) MessageType() MessageType  { return PktPong }
func (*Pong) Direction() Direction      { return Clientbound }
func (m *Pong) encode(b *PacketBuilder) { b.WriteUint32(m.ID) }
func (m *Pong) decode(r *PacketReader)  { m.ID = r.ReadUint32() }

// Sync carries the server tick so clients can align interpolation.
type Sync struct {
	ServerTick uint64
}

func (*Sync) MessageType() MessageType  { return PktSync }
func (*Sync) Direction() Direction      { return Clientbound }
func (m *Sync) encode(b *PacketBuilder) { b.WriteUint64(m.ServerTick) }
func (m *Sync) decode(r *PacketReader)  { m.ServerTick = r.ReadUint64() }

// PlayersUpdate is the full list of other players on the recipient's stage.
type PlayersUpdate struct {
	Players []Player
}

func (*PlayersUpdate) MessageType() MessageType { return PktPlayersUpdate }
func (*PlayersUpdate) Direction() Direction     { return Clientbound }

func (m *PlayersUpdate) encode(b *PacketBuilder) {
	b.WriteInt32(int32(len(m.Players)))
	for i := range m.Players {
		m.Players[i].encode(b)
	}
}

// minPlayerSize is the smallest possible encoding of a Player.
const minPlayerSize = 1 + 4*5 + 12 + 16 + 12 + 1 + 16 + 1 + 1

func (m *PlayersUpdate) decode(r *PacketReader) {
	n := r.ReadCount(minPlayerSize)
	if n == 0 {
		m.Players = nil
		return
	}
	m.Players = make([]Player, n)
	for i := range m.Players {
		m.Players[i].decode(r)
	}
}

type PlayerPositionUpdate struct {
	Player    uint32
	Transform Transform
}

func (*PlayerPositionUpdate) MessageType() MessageType { return PktPlayerPosition }
func (*PlayerPositionUpdate) Direction() Direction     { return Clientbound }

func (m *PlayerPositionUpdate) encode(b *PacketBuilder) {
	b.WriteUint32(m.Player)
	m.Transform.encode(b)
}

func (m *PlayerPositionUpdate) decode(r *PacketReader) {
	m.Player = r.ReadUint32()
	m.Transform.decode(r)
}

type PlayerAnimation struct {
	Player         uint32
	Animation      int32
	ForceOverwrite bool
	Instant        bool
	AtTime         float32
}

func (*PlayerAnimation) MessageType() MessageType { return PktPlayerAnimation }
func (*PlayerAnimation) Direction() Direction     { return Clientbound }

func (m *PlayerAnimation) encode(b *PacketBuilder) {
	b.WriteUint32(m.Player).
		WriteInt32(m.Animation).
		WriteBool(m.ForceOverwrite).
		WriteBool(m.Instant).
		WriteFloat32(m.AtTime)
}

func (m *PlayerAnimation) decode(r *PacketReader) {
	m.Player = r.ReadUint32()
	m.Animation = r.ReadInt32()
	m.ForceOverwrite = r.ReadBool()
	m.Instant = r.ReadBool()
	m.AtTime = r.ReadFloat32()
}

type PlayerScoreUpdate struct {
	Player     uint32
	Score      int32
	BaseScore  int32
	Multiplier int32
}

func (*PlayerScoreUpdate) MessageType() MessageType { return PktPlayerScore }
func (*PlayerScoreUpdate) Direction() Direction     { return Clientbound }

func (m *PlayerScoreUpdate) encode(b *PacketBuilder) {
	b.WriteUint32(m.Player).WriteInt32(m.Score).WriteInt32(m.BaseScore).WriteInt32(m.Multiplier)
}

func (m *PlayerScoreUpdate) decode(r *PacketReader) {
	m.Player = r.ReadUint32()
	m.Score = r.ReadInt32()
	m.BaseScore = r.ReadInt32()
	m.Multiplier = r.ReadInt32()
}

type PlayerVisualUpdate struct {
	Player          uint32
	BoostpackEffect int32
	FrictionEffect  int32
	Spraycan        bool
	Phone           bool
	SpraycanState   int32
}

func (*PlayerVisualUpdate) MessageType() MessageType { return PktPlayerVisual }
func (*PlayerVisualUpdate) Direction() Direction     { return Clientbound }

func (m *PlayerVisualUpdate) encode(b *PacketBuilder) {
	b.WriteUint32(m.Player).
		WriteInt32(m.BoostpackEffect).
		WriteInt32(m.FrictionEffect).
		WriteBool(m.Spraycan).
		WriteBool(m.Phone).
		WriteInt32(m.SpraycanState)
}

func (m *PlayerVisualUpdate) decode(r *PacketReader) {
	m.Player = r.ReadUint32()
	m.BoostpackEffect = r.ReadInt32()
	m.FrictionEffect = r.ReadInt32()
	m.Spraycan = r.ReadBool()
	m.Phone = r.ReadBool()
	m.SpraycanState = r.ReadInt32()
}

// EncounterNotify tells a player that PlayerID wants an encounter of Type.
type EncounterNotify struct {
	PlayerID uint32
	Type     EncounterType
}

func (*EncounterNotify) MessageType() MessageType { return PktEncounterNotify }
func (*EncounterNotify) Direction() Direction     { return Clientbound }

func (m *EncounterNotify) encode(b *PacketBuilder) {
	b.WriteUint32(m.PlayerID).WriteInt32(int32(m.Type))
}

func (m *EncounterNotify) decode(r *PacketReader) {
	m.PlayerID = r.ReadUint32()
	m.Type = EncounterType(r.ReadInt32())
}

// EncounterStart is sent to both participants with the same config.
type EncounterStart struct {
	PlayerID uint32
	Config   EncounterConfig
}

func (*EncounterStart) MessageType() MessageType { return PktEncounterStart }
func (*EncounterStart) Direction() Direction     { return Clientbound }

func (m *EncounterStart) encode(b *PacketBuilder) {
	b.WriteUint32(m.PlayerID)
	writeEncounterConfig(b, m.Config)
}

func (m *EncounterStart) decode(r *PacketReader) {
	m.PlayerID = r.ReadUint32()
	m.Config = readEncounterConfig(r)
}

// RaceResponse answers a race request. Config and InitTime are only
// meaningful when Accepted is set.
type RaceResponse struct {
	Accepted bool
	Config   RaceConfig
	InitTime string
}

func (*RaceResponse) MessageType() MessageType { return PktRaceResponse }
func (*RaceResponse) Direction() Direction     { return Clientbound }

func (m *RaceResponse) encode(b *PacketBuilder) {
	b.WriteBool(m.Accepted)
	m.Config.encode(b)
	b.WriteString(m.InitTime)
}

func (m *RaceResponse) decode(r *PacketReader) {
	m.Accepted = r.ReadBool()
	m.Config.decode(r)
	m.InitTime = r.ReadString()
}

type RaceInitialize struct{}

func (*RaceInitialize) MessageType() MessageType { return PktRaceInitialize }
func (*RaceInitialize) Direction() Direction     { return Clientbound }
func (*RaceInitialize) encode(*PacketBuilder)    {}
func (*RaceInitialize) decode(*PacketReader)     {}

type RaceStart struct{}

func (*RaceStart) MessageType() MessageType { return PktRaceStart }
func (*RaceStart) Direction() Direction     { return Clientbound }
func (*RaceStart) encode(*PacketBuilder)    {}
func (*RaceStart) decode(*PacketReader)     {}

type RaceRank struct {
	Rank int32
}

func (*RaceRank) MessageType() MessageType  { return PktRaceRank }
func (*RaceRank) Direction() Direction      { return Clientbound }
func (m *RaceRank) encode(b *PacketBuilder) { b.WriteInt32(m.Rank) }
func (m *RaceRank) decode(r *PacketReader)  { m.Rank = r.ReadInt32() }
