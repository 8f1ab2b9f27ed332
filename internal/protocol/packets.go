// Package protocol implements the binary wire format spoken between the
// SlopCrew game plugin and the relay server. Every transport frame carries
// exactly one message: a 4-byte little-endian message tag followed by the
// message fields in declaration order. There is no length prefix because
// the websocket frame already delimits the message.
package protocol

// Version is the protocol revision this server speaks. Clients announcing
// any other revision are disconnected.
const Version uint32 = 4

// MaxStringLength bounds length-prefixed strings and byte blobs on decode.
const MaxStringLength = 4096

// MessageType is the tag written at the start of every frame.
type MessageType int32

// Clientbound message tags (server -> plugin).
const (
	PktPlayerAnimation MessageType = iota
	PktPlayerPosition
	PktPlayerScore
	PktPlayersUpdate
	PktPlayerVisual
	PktPong
	PktSync
	PktEncounterStart
	PktEncounterNotify
	PktRaceResponse
	PktRaceInitialize
	PktRaceStart
	PktRaceRank
)

// Serverbound message tags (plugin -> server).
const (
	PktAnimation MessageType = iota + 100
	PktPing
	PktHello
	PktPositionUpdate
	PktScoreUpdate
	PktVisualUpdate
	PktEncounterRequest
	PktVersion
	PktRequestRace
	PktReadyForRace
	PktFinishedRace
)

var messageTypeNames = map[MessageType]string{
	PktPlayerAnimation:  "player_animation",
	PktPlayerPosition:   "player_position",
	PktPlayerScore:      "player_score",
	PktPlayersUpdate:    "players_update",
	PktPlayerVisual:     "player_visual",
	PktPong:             "pong",
	PktSync:             "sync",
	PktEncounterStart:   "encounter_start",
	PktEncounterNotify:  "encounter_notify",
	PktRaceResponse:     "race_response",
	PktRaceInitialize:   "race_initialize",
	PktRaceStart:        "race_start",
	PktRaceRank:         "race_rank",
	PktAnimation:        "animation",
	PktPing:             "ping",
	PktHello:            "hello",
	PktPositionUpdate:   "position_update",
	PktScoreUpdate:      "score_update",
	PktVisualUpdate:     "visual_update",
	PktEncounterRequest: "encounter_request",
	PktVersion:          "version",
	PktRequestRace:      "request_race",
	PktReadyForRace:     "ready_for_race",
	PktFinishedRace:     "finished_race",
}

// String returns a log-friendly name for the tag.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Direction tells which side of the connection produces a message.
type Direction int

const (
	Clientbound Direction = iota
	Serverbound
)

func (d Direction) String() string {
	if d == Serverbound {
		return "serverbound"
	}
	return "clientbound"
}

// Message is implemented by every packet in the catalogue. The set is closed:
// the unexported codec methods keep other packages from adding variants.
type Message interface {
	MessageType() MessageType
	Direction() Direction

	encode(b *PacketBuilder)
	decode(r *PacketReader)
}

// newMessage is the tag -> constructor table used by Decode.
func newMessage(t MessageType) Message {
	switch t {
	case PktPlayerAnimation:
		return &PlayerAnimation{}
	case PktPlayerPosition:
		return &PlayerPositionUpdate{}
	case PktPlayerScore:
		return &PlayerScoreUpdate{}
	case PktPlayersUpdate:
		return &PlayersUpdate{}
	case PktPlayerVisual:
		return &PlayerVisualUpdate{}
	case PktPong:
		return &Pong{}
	case PktSync:
		return &Sync{}
	case PktEncounterStart:
		return &EncounterStart{}
	case PktEncounterNotify:
		return &EncounterNotify{}
	case PktRaceResponse:
		return &RaceResponse{}
	case PktRaceInitialize:
		return &RaceInitialize{}
	case PktRaceStart:
		return &RaceStart{}
	case PktRaceRank:
		return &RaceRank{}
	case PktAnimation:
		return &Animation{}
	case PktPing:
		return &Ping{}
	case PktHello:
		return &Hello{}
	case PktPositionUpdate:
		return &PositionUpdate{}
	case PktScoreUpdate:
		return &ScoreUpdate{}
	case PktVisualUpdate:
		return &VisualUpdate{}
	case PktEncounterRequest:
		return &EncounterRequest{}
	case PktVersion:
		return &VersionCheck{}
	case PktRequestRace:
		return &RequestRace{}
	case PktReadyForRace:
		return &ReadyForRace{}
	case PktFinishedRace:
		return &FinishedRace{}
	}
	return nil
}
