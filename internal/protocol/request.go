package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// RequestKind identifies a request variant. Values are the envelope's
// oneof field numbers, and responses reuse the same numbering.
type RequestKind int32

const (
	KindCreateGame  RequestKind = 1
	KindJoinGame    RequestKind = 2
	KindLeaveGame   RequestKind = 5
	KindQuit        RequestKind = 8
	KindObservation RequestKind = 10
	KindStep        RequestKind = 12
	KindPing        RequestKind = 19
)

var requestKindStrings = map[RequestKind]string{
	KindCreateGame:  "create_game",
	KindJoinGame:    "join_game",
	KindLeaveGame:   "leave_game",
	KindQuit:        "quit",
	KindObservation: "observation",
	KindStep:        "step",
	KindPing:        "ping",
}

func (k RequestKind) String() string {
	if str, ok := requestKindStrings[k]; ok {
		return str
	}
	return fmt.Sprintf("kind(%d)", int32(k))
}

func (k RequestKind) valid() bool {
	_, ok := requestKindStrings[k]
	return ok
}

// Request is one typed request intent. The set of implementations is closed
// to this package.
type Request interface {
	Kind() RequestKind
	appendPayload(b []byte) []byte
}

// PingRequest asks for the engine status and version information.
type PingRequest struct{}

// CreateGameRequest asks the engine to host a new match.
type CreateGameRequest struct {
	// MapData is the raw map file. Preferred over MapPath, which the engine
	// rewrites on default installations.
	MapData          []byte
	MapPath          string
	BattlenetMapName string
	Players          []PlayerSetup
	DisableFog       bool
	Realtime         bool
	RandomSeed       *uint32
}

// PlayerSetup declares one match entrant.
type PlayerSetup struct {
	Type       PlayerType
	Race       Race
	Difficulty Difficulty
	Name       string
	AIBuild    AIBuild
}

// ParticipantSetup declares a scripted participant.
func ParticipantSetup(race Race, name string) PlayerSetup {
	return PlayerSetup{Type: PlayerTypeParticipant, Race: race, Name: name}
}

// ComputerSetup declares a built-in opponent.
func ComputerSetup(race Race, difficulty Difficulty, build AIBuild, name string) PlayerSetup {
	return PlayerSetup{
		Type:       PlayerTypeComputer,
		Race:       race,
		Difficulty: difficulty,
		Name:       name,
		AIBuild:    build,
	}
}

// PortSet is a (game port, base port) pair used by networked matches.
type PortSet struct {
	GamePort int `json:"game_port"`
	BasePort int `json:"base_port"`
}

// InterfaceOptions selects which observation interfaces the engine exposes.
// Spatial camera layers (feature layer, render) are never requested.
type InterfaceOptions struct {
	Raw                   bool
	Score                 bool
	ShowCloaked           bool
	ShowBurrowedShadows   bool
	ShowPlaceholders      bool
	RawAffectsSelection   bool
	RawCropToPlayableArea bool
}

// RawInterface returns the "raw" interface preset.
func RawInterface() InterfaceOptions {
	return InterfaceOptions{
		Raw:                   true,
		Score:                 true,
		ShowCloaked:           true,
		ShowBurrowedShadows:   true,
		ShowPlaceholders:      true,
		RawAffectsSelection:   true,
		RawCropToPlayableArea: false,
	}
}

// JoinGameRequest asks the engine to seat this participant in the match.
// ServerPorts and ClientPorts are only set for networked matches.
type JoinGameRequest struct {
	Race             Race
	ObservedPlayerID uint32
	Options          InterfaceOptions
	ServerPorts      *PortSet
	ClientPorts      []PortSet
	PlayerName       string
	HostIP           string
}

// ObservationRequest asks for the current game state. GameLoop only has an
// effect in realtime matches, where it blocks until that loop is reached.
type ObservationRequest struct {
	DisableFog bool
	GameLoop   uint32
}

// StepRequest advances the simulation by Count game loops.
type StepRequest struct {
	Count uint32
}

// LeaveGameRequest leaves the current match without shutting the engine down.
type LeaveGameRequest struct{}

// QuitRequest asks the engine to shut down.
type QuitRequest struct{}

func (PingRequest) Kind() RequestKind        { return KindPing }
func (CreateGameRequest) Kind() RequestKind  { return KindCreateGame }
func (JoinGameRequest) Kind() RequestKind    { return KindJoinGame }
func (ObservationRequest) Kind() RequestKind { return KindObservation }
func (StepRequest) Kind() RequestKind        { return KindStep }
func (LeaveGameRequest) Kind() RequestKind   { return KindLeaveGame }
func (QuitRequest) Kind() RequestKind        { return KindQuit }

func (PingRequest) appendPayload(b []byte) []byte      { return b }
func (LeaveGameRequest) appendPayload(b []byte) []byte { return b }
func (QuitRequest) appendPayload(b []byte) []byte      { return b }

func (r CreateGameRequest) appendPayload(b []byte) []byte {
	switch {
	case len(r.MapData) > 0 || r.MapPath != "":
		var local []byte
		if r.MapPath != "" {
			local = appendString(local, 1, r.MapPath)
		}
		if len(r.MapData) > 0 {
			local = appendBytes(local, 7, r.MapData)
		}
		b = appendMessage(b, 1, local)
	case r.BattlenetMapName != "":
		b = appendString(b, 2, r.BattlenetMapName)
	}
	for _, p := range r.Players {
		b = appendMessage(b, 3, p.appendTo(nil))
	}
	b = appendBool(b, 4, r.DisableFog)
	if r.RandomSeed != nil {
		b = appendVarint(b, 5, uint64(*r.RandomSeed))
	}
	b = appendBool(b, 6, r.Realtime)
	return b
}

func (p PlayerSetup) appendTo(b []byte) []byte {
	b = appendEnum(b, 1, int32(p.Type))
	b = appendEnum(b, 2, int32(p.Race))
	if p.Difficulty != 0 {
		b = appendEnum(b, 3, int32(p.Difficulty))
	}
	if p.Name != "" {
		b = appendString(b, 4, p.Name)
	}
	if p.AIBuild != 0 {
		b = appendEnum(b, 5, int32(p.AIBuild))
	}
	return b
}

func (p PortSet) appendTo(b []byte) []byte {
	b = appendEnum(b, 1, int32(p.GamePort))
	return appendEnum(b, 2, int32(p.BasePort))
}

func (o InterfaceOptions) appendTo(b []byte) []byte {
	b = appendBool(b, 1, o.Raw)
	b = appendBool(b, 2, o.Score)
	b = appendBool(b, 5, o.ShowCloaked)
	b = appendBool(b, 6, o.RawAffectsSelection)
	b = appendBool(b, 7, o.RawCropToPlayableArea)
	b = appendBool(b, 8, o.ShowPlaceholders)
	return appendBool(b, 9, o.ShowBurrowedShadows)
}

func (r JoinGameRequest) appendPayload(b []byte) []byte {
	if r.ObservedPlayerID != 0 {
		b = appendVarint(b, 2, uint64(r.ObservedPlayerID))
	} else {
		b = appendEnum(b, 1, int32(r.Race))
	}
	b = appendMessage(b, 3, r.Options.appendTo(nil))
	if r.ServerPorts != nil {
		b = appendMessage(b, 4, r.ServerPorts.appendTo(nil))
	}
	for _, p := range r.ClientPorts {
		b = appendMessage(b, 5, p.appendTo(nil))
	}
	if r.PlayerName != "" {
		b = appendString(b, 7, r.PlayerName)
	}
	if r.HostIP != "" {
		b = appendString(b, 8, r.HostIP)
	}
	return b
}

func (r ObservationRequest) appendPayload(b []byte) []byte {
	if r.DisableFog {
		b = appendBool(b, 1, true)
	}
	if r.GameLoop != 0 {
		b = appendVarint(b, 2, uint64(r.GameLoop))
	}
	return b
}

func (r StepRequest) appendPayload(b []byte) []byte {
	if r.Count != 0 {
		b = appendVarint(b, 1, uint64(r.Count))
	}
	return b
}

// EncodeRequest serializes req into a request envelope carrying exactly one
// variant.
func EncodeRequest(req Request) ([]byte, error) {
	if req == nil {
		return nil, &ProtocolError{Op: "encode", Reason: "nil request"}
	}
	kind := req.Kind()
	if !kind.valid() {
		return nil, &ProtocolError{Op: "encode", Reason: fmt.Sprintf("unrecognized request %s", kind)}
	}
	return appendMessage(nil, protowire.Number(kind), req.appendPayload(nil)), nil
}

// DecodeRequest parses a request envelope. It fails when the envelope holds
// no variant, more than one variant, or a variant this codec does not know.
func DecodeRequest(b []byte) (Request, error) {
	var (
		kind    RequestKind
		payload []byte
		count   int
	)

	err := forEachField(b, func(f field) error {
		if f.typ != protowire.BytesType {
			return nil
		}
		k := RequestKind(f.num)
		if !k.valid() {
			return &ProtocolError{Op: "decode request", Reason: fmt.Sprintf("unsupported variant %d", f.num)}
		}
		kind, payload = k, f.bytes
		count++
		return nil
	})
	if err != nil {
		return nil, wrapDecodeErr("decode request", err)
	}

	switch count {
	case 0:
		return nil, &ProtocolError{Op: "decode request", Reason: "no request variant"}
	case 1:
	default:
		return nil, &ProtocolError{Op: "decode request", Reason: fmt.Sprintf("%d request variants in one envelope", count)}
	}

	req, err := decodeRequestPayload(kind, payload)
	if err != nil {
		return nil, wrapDecodeErr("decode request", err)
	}
	return req, nil
}

func decodeRequestPayload(kind RequestKind, b []byte) (Request, error) {
	switch kind {
	case KindPing:
		return PingRequest{}, nil
	case KindLeaveGame:
		return LeaveGameRequest{}, nil
	case KindQuit:
		return QuitRequest{}, nil
	case KindStep:
		var r StepRequest
		err := forEachField(b, func(f field) error {
			if f.num == 1 {
				r.Count = uint32(f.varint)
			}
			return nil
		})
		return r, err
	case KindObservation:
		var r ObservationRequest
		err := forEachField(b, func(f field) error {
			switch f.num {
			case 1:
				r.DisableFog = protowire.DecodeBool(f.varint)
			case 2:
				r.GameLoop = uint32(f.varint)
			}
			return nil
		})
		return r, err
	case KindCreateGame:
		return decodeCreateGame(b)
	case KindJoinGame:
		return decodeJoinGame(b)
	}
	return nil, &ProtocolError{Op: "decode request", Reason: fmt.Sprintf("unsupported variant %s", kind)}
}

func decodeCreateGame(b []byte) (CreateGameRequest, error) {
	var r CreateGameRequest
	err := forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			return forEachField(f.bytes, func(lf field) error {
				switch lf.num {
				case 1:
					r.MapPath = string(lf.bytes)
				case 7:
					r.MapData = append([]byte(nil), lf.bytes...)
				}
				return nil
			})
		case 2:
			r.BattlenetMapName = string(f.bytes)
		case 3:
			p, err := decodePlayerSetup(f.bytes)
			if err != nil {
				return err
			}
			r.Players = append(r.Players, p)
		case 4:
			r.DisableFog = protowire.DecodeBool(f.varint)
		case 5:
			seed := uint32(f.varint)
			r.RandomSeed = &seed
		case 6:
			r.Realtime = protowire.DecodeBool(f.varint)
		}
		return nil
	})
	return r, err
}

func decodePlayerSetup(b []byte) (PlayerSetup, error) {
	var p PlayerSetup
	err := forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			p.Type = PlayerType(f.varint)
		case 2:
			p.Race = Race(f.varint)
		case 3:
			p.Difficulty = Difficulty(f.varint)
		case 4:
			p.Name = string(f.bytes)
		case 5:
			p.AIBuild = AIBuild(f.varint)
		}
		return nil
	})
	return p, err
}

func decodePortSet(b []byte) (PortSet, error) {
	var p PortSet
	err := forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			p.GamePort = int(int32(f.varint))
		case 2:
			p.BasePort = int(int32(f.varint))
		}
		return nil
	})
	return p, err
}

func decodeInterfaceOptions(b []byte) (InterfaceOptions, error) {
	var o InterfaceOptions
	err := forEachField(b, func(f field) error {
		if f.typ != protowire.VarintType {
			return nil
		}
		v := protowire.DecodeBool(f.varint)
		switch f.num {
		case 1:
			o.Raw = v
		case 2:
			o.Score = v
		case 5:
			o.ShowCloaked = v
		case 6:
			o.RawAffectsSelection = v
		case 7:
			o.RawCropToPlayableArea = v
		case 8:
			o.ShowPlaceholders = v
		case 9:
			o.ShowBurrowedShadows = v
		}
		return nil
	})
	return o, err
}

func decodeJoinGame(b []byte) (JoinGameRequest, error) {
	var r JoinGameRequest
	err := forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			r.Race = Race(f.varint)
		case 2:
			r.ObservedPlayerID = uint32(f.varint)
		case 3:
			o, err := decodeInterfaceOptions(f.bytes)
			if err != nil {
				return err
			}
			r.Options = o
		case 4:
			p, err := decodePortSet(f.bytes)
			if err != nil {
				return err
			}
			r.ServerPorts = &p
		case 5:
			p, err := decodePortSet(f.bytes)
			if err != nil {
				return err
			}
			r.ClientPorts = append(r.ClientPorts, p)
		case 7:
			r.PlayerName = string(f.bytes)
		case 8:
			r.HostIP = string(f.bytes)
		}
		return nil
	})
	return r, err
}

func wrapDecodeErr(op string, err error) error {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return err
	}
	return &ProtocolError{Op: op, Reason: "malformed envelope", Err: err}
}
