package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Response is a decoded response envelope. Status is always populated
// (StatusUnknown when the engine omitted it); at most one payload pointer
// is set, matching Kind.
type Response struct {
	ID     uint32
	Kind   RequestKind
	Status Status
	Errors []string

	Ping        *PingResponse
	CreateGame  *CreateGameResponse
	JoinGame    *JoinGameResponse
	Observation *ObservationResponse
	Step        *StepResponse
}

// PingResponse carries engine version information.
type PingResponse struct {
	GameVersion string
	DataVersion string
	DataBuild   uint32
	BaseBuild   uint32
}

// CreateGameResponse reports a failed match creation through Error.
type CreateGameResponse struct {
	Error        int32
	ErrorDetails string
}

// JoinGameResponse carries the engine-assigned participant identifier.
type JoinGameResponse struct {
	PlayerID     uint32
	Error        int32
	ErrorDetails string
}

// ObservationResponse holds the fields of an observation this core reads.
// PlayerResults is only populated once the match has ended.
type ObservationResponse struct {
	GameLoop      uint32
	PlayerResults []PlayerResult
}

// PlayerResult is one participant's outcome in an ended match.
type PlayerResult struct {
	PlayerID uint32
	Result   Result
}

// StepResponse reports the simulation loop reached after a step.
type StepResponse struct {
	SimulationLoop uint32
}

// DecodeResponse parses a response envelope.
func DecodeResponse(b []byte) (*Response, error) {
	resp := &Response{Status: StatusUnknown}
	variants := 0

	err := forEachField(b, func(f field) error {
		switch f.num {
		case 97:
			resp.ID = uint32(f.varint)
			return nil
		case 98:
			resp.Errors = append(resp.Errors, string(f.bytes))
			return nil
		case 99:
			resp.Status = Status(f.varint)
			return nil
		}

		kind := RequestKind(f.num)
		if f.typ != protowire.BytesType || !kind.valid() {
			return nil
		}
		variants++
		resp.Kind = kind
		return decodeResponsePayload(resp, kind, f.bytes)
	})
	if err != nil {
		return nil, wrapDecodeErr("decode response", err)
	}
	if variants > 1 {
		return nil, &ProtocolError{Op: "decode response", Reason: fmt.Sprintf("%d response variants in one envelope", variants)}
	}
	return resp, nil
}

func decodeResponsePayload(resp *Response, kind RequestKind, b []byte) error {
	switch kind {
	case KindPing:
		p := &PingResponse{}
		resp.Ping = p
		return forEachField(b, func(f field) error {
			switch f.num {
			case 1:
				p.GameVersion = string(f.bytes)
			case 2:
				p.DataVersion = string(f.bytes)
			case 3:
				p.DataBuild = uint32(f.varint)
			case 4:
				p.BaseBuild = uint32(f.varint)
			}
			return nil
		})
	case KindCreateGame:
		c := &CreateGameResponse{}
		resp.CreateGame = c
		return forEachField(b, func(f field) error {
			switch f.num {
			case 1:
				c.Error = int32(f.varint)
			case 2:
				c.ErrorDetails = string(f.bytes)
			}
			return nil
		})
	case KindJoinGame:
		j := &JoinGameResponse{}
		resp.JoinGame = j
		return forEachField(b, func(f field) error {
			switch f.num {
			case 1:
				j.PlayerID = uint32(f.varint)
			case 2:
				j.Error = int32(f.varint)
			case 3:
				j.ErrorDetails = string(f.bytes)
			}
			return nil
		})
	case KindObservation:
		o := &ObservationResponse{}
		resp.Observation = o
		return forEachField(b, func(f field) error {
			switch f.num {
			case 3:
				return forEachField(f.bytes, func(of field) error {
					if of.num == 9 {
						o.GameLoop = uint32(of.varint)
					}
					return nil
				})
			case 4:
				var pr PlayerResult
				err := forEachField(f.bytes, func(rf field) error {
					switch rf.num {
					case 1:
						pr.PlayerID = uint32(rf.varint)
					case 2:
						pr.Result = Result(rf.varint)
					}
					return nil
				})
				if err != nil {
					return err
				}
				o.PlayerResults = append(o.PlayerResults, pr)
			}
			return nil
		})
	case KindStep:
		s := &StepResponse{}
		resp.Step = s
		return forEachField(b, func(f field) error {
			if f.num == 1 {
				s.SimulationLoop = uint32(f.varint)
			}
			return nil
		})
	}
	// leave_game and quit carry empty payloads.
	return nil
}

// EncodeResponse serializes resp. Kind selects the variant; a nil payload
// pointer for that kind encodes an empty variant message.
func EncodeResponse(resp *Response) ([]byte, error) {
	if resp == nil {
		return nil, &ProtocolError{Op: "encode response", Reason: "nil response"}
	}

	var b []byte
	if resp.Kind != 0 {
		if !resp.Kind.valid() {
			return nil, &ProtocolError{Op: "encode response", Reason: fmt.Sprintf("unrecognized response %s", resp.Kind)}
		}
		b = appendMessage(b, protowire.Number(resp.Kind), resp.appendPayload(nil))
	}
	if resp.ID != 0 {
		b = appendVarint(b, 97, uint64(resp.ID))
	}
	for _, e := range resp.Errors {
		b = appendString(b, 98, e)
	}
	return appendEnum(b, 99, int32(resp.Status)), nil
}

func (resp *Response) appendPayload(b []byte) []byte {
	switch resp.Kind {
	case KindPing:
		if p := resp.Ping; p != nil {
			b = appendString(b, 1, p.GameVersion)
			b = appendString(b, 2, p.DataVersion)
			b = appendVarint(b, 3, uint64(p.DataBuild))
			b = appendVarint(b, 4, uint64(p.BaseBuild))
		}
	case KindCreateGame:
		if c := resp.CreateGame; c != nil && c.Error != 0 {
			b = appendEnum(b, 1, c.Error)
			b = appendString(b, 2, c.ErrorDetails)
		}
	case KindJoinGame:
		if j := resp.JoinGame; j != nil {
			b = appendVarint(b, 1, uint64(j.PlayerID))
			if j.Error != 0 {
				b = appendEnum(b, 2, j.Error)
				b = appendString(b, 3, j.ErrorDetails)
			}
		}
	case KindObservation:
		if o := resp.Observation; o != nil {
			b = appendMessage(b, 3, appendVarint(nil, 9, uint64(o.GameLoop)))
			for _, pr := range o.PlayerResults {
				var rb []byte
				rb = appendVarint(rb, 1, uint64(pr.PlayerID))
				rb = appendEnum(rb, 2, int32(pr.Result))
				b = appendMessage(b, 4, rb)
			}
		}
	case KindStep:
		if s := resp.Step; s != nil {
			b = appendVarint(b, 1, uint64(s.SimulationLoop))
		}
	}
	return b
}
