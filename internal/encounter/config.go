package encounter

import "github.com/slopcrew-project/slopcrew/internal/protocol"

// resolve builds the config both participants receive. mu must be held
// because the random source is not safe for concurrent use.
func (m *Matchmaker) resolve(kind protocol.EncounterType) protocol.EncounterConfig {
	switch kind {
	case protocol.EncounterScore:
		return &protocol.ScoreConfig{Duration: m.cfg.ScoreDuration}
	case protocol.EncounterCombo:
		return &protocol.ComboConfig{Duration: m.cfg.ComboDuration}
	case protocol.EncounterGraffiti:
		return &protocol.GraffitiConfig{
			Duration: m.cfg.GraffitiDuration,
			Spots:    m.pickSpots(),
		}
	}
	return &protocol.GenericConfig{Kind: kind, Duration: m.cfg.DefaultDuration}
}

// pickSpots draws GraffitiPicks distinct indices from [0, GraffitiPool)
// with a partial Fisher-Yates shuffle.
func (m *Matchmaker) pickSpots() []int32 {
	n := m.cfg.GraffitiPool
	pool := make([]int32, n)
	for i := range pool {
		pool[i] = int32(i)
	}
	for i := 0; i < m.cfg.GraffitiPicks; i++ {
		j := i + m.rng.Intn(n-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:m.cfg.GraffitiPicks:m.cfg.GraffitiPicks]
}
