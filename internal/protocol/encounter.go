package protocol

// EncounterType identifies an encounter variant on the wire.
type EncounterType int32

const (
	EncounterScore EncounterType = iota
	EncounterCombo
	EncounterRace
	EncounterGraffiti
)

func (t EncounterType) String() string {
	switch t {
	case EncounterScore:
		return "score"
	case EncounterCombo:
		return "combo"
	case EncounterRace:
		return "race"
	case EncounterGraffiti:
		return "graffiti"
	}
	return "unknown"
}

// EncounterConfig is the resolved set of parameters both participants of an
// encounter receive. Concrete values are ScoreConfig, ComboConfig,
// GraffitiConfig, RaceEncounterConfig and GenericConfig.
type EncounterConfig interface {
	Type() EncounterType
	DurationSeconds() int32

	encodePayload(b *PacketBuilder)
	decodePayload(r *PacketReader)
}

// ScoreConfig is a timed high-score contest.
type ScoreConfig struct {
	Duration int32
}

func (*ScoreConfig) Type() EncounterType          { return EncounterScore }
func (c *ScoreConfig) DurationSeconds() int32     { return c.Duration }
func (*ScoreConfig) encodePayload(*PacketBuilder) {}
func (*ScoreConfig) decodePayload(*PacketReader)  {}

// ComboConfig is a timed best-combo contest.
type ComboConfig struct {
	Duration int32
}

func (*ComboConfig) Type() EncounterType          { return EncounterCombo }
func (c *ComboConfig) DurationSeconds() int32     { return c.Duration }
func (*ComboConfig) encodePayload(*PacketBuilder) {}
func (*ComboConfig) decodePayload(*PacketReader)  {}

// GraffitiConfig carries the spot indices both players must tag.
type GraffitiConfig struct {
	Duration int32
	Spots    []int32
}

func (*GraffitiConfig) Type() EncounterType      { return EncounterGraffiti }
func (c *GraffitiConfig) DurationSeconds() int32 { return c.Duration }

func (c *GraffitiConfig) encodePayload(b *PacketBuilder) {
	b.WriteInt32(int32(len(c.Spots)))
	for _, s := range c.Spots {
		b.WriteInt32(s)
	}
}

func (c *GraffitiConfig) decodePayload(r *PacketReader) {
	n := r.ReadCount(4)
	if n == 0 {
		c.Spots = nil
		return
	}
	c.Spots = make([]int32, n)
	for i := range c.Spots {
		c.Spots[i] = r.ReadInt32()
	}
}

// RaceEncounterConfig wraps a track for race-typed encounters.
type RaceEncounterConfig struct {
	Duration int32
	Race     RaceConfig
}

func (*RaceEncounterConfig) Type() EncounterType              { return EncounterRace }
func (c *RaceEncounterConfig) DurationSeconds() int32         { return c.Duration }
func (c *RaceEncounterConfig) encodePayload(b *PacketBuilder) { c.Race.encode(b) }
func (c *RaceEncounterConfig) decodePayload(r *PacketReader)  { c.Race.decode(r) }

// GenericConfig passes through encounter types this server has no payload
// layout for. Only the duration is carried.
type GenericConfig struct {
	Kind     EncounterType
	Duration int32
}

func (c *GenericConfig) Type() EncounterType        { return c.Kind }
func (c *GenericConfig) DurationSeconds() int32     { return c.Duration }
func (*GenericConfig) encodePayload(*PacketBuilder) {}
func (*GenericConfig) decodePayload(*PacketReader)  {}

func writeEncounterConfig(b *PacketBuilder, c EncounterConfig) {
	if c == nil {
		c = &GenericConfig{Kind: EncounterScore}
	}
	b.WriteInt32(int32(c.Type())).WriteInt32(c.DurationSeconds())
	c.encodePayload(b)
}

func readEncounterConfig(r *PacketReader) EncounterConfig {
	kind := EncounterType(r.ReadInt32())
	duration := r.ReadInt32()

	var c EncounterConfig
	switch kind {
	case EncounterScore:
		c = &ScoreConfig{Duration: duration}
	case EncounterCombo:
		c = &ComboConfig{Duration: duration}
	case EncounterGraffiti:
		c = &GraffitiConfig{Duration: duration}
	case EncounterRace:
		c = &RaceEncounterConfig{Duration: duration}
	default:
		c = &GenericConfig{Kind: kind, Duration: duration}
	}
	c.decodePayload(r)
	return c
}
