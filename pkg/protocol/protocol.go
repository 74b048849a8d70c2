// Package protocol implements the {type, data} frame codec shared by the
// server and the client.
//
// Every frame is a single JSON object carried in one websocket text message:
//
//	{"type": "state_update", "data": {"position": {"x": 1, "y": 0, "z": 2}}}
//
// Decoding is direction aware because a few types ("connect", "room_list")
// have a different payload on the way in than on the way out.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	pb "github.com/NicolasHaas/pixelsync/pkg/protocol/pb"
)

const (
	// MaxFrameSize is the largest accepted frame (64KB).
	MaxFrameSize = 65536
)

var (
	// ErrMalformedFrame is returned for frames that do not decode as an
	// envelope or whose data does not match the schema of its type.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrUnknownType is returned for well-formed envelopes whose type is not
	// part of the protocol for the decoding direction.
	ErrUnknownType = errors.New("protocol: unknown message type")
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Direction selects which half of the protocol a frame belongs to.
type Direction int

const (
	ToServer Direction = iota
	ToClient
)

func (d Direction) String() string {
	if d == ToServer {
		return "to_server"
	}
	return "to_client"
}

// Envelope is the outer {type, data} object.
type Envelope struct {
	Type pb.Type         `json:"type"`
	Data json.RawMessage `json:"data"`
}

type decodeFunc func(data []byte) (pb.Message, error)

func decodeAs[T pb.Message](data []byte) (pb.Message, error) {
	var v T
	if len(data) > 0 && string(data) != "null" {
		if err := codec.Unmarshal(data, &v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

var decoders = map[Direction]map[pb.Type]decodeFunc{
	ToServer: {
		pb.TypeConnect:         decodeAs[pb.Connect],
		pb.TypeCreateRoom:      decodeAs[pb.CreateRoom],
		pb.TypeJoinRoom:        decodeAs[pb.JoinRoom],
		pb.TypeLeaveRoom:       decodeAs[pb.LeaveRoom],
		pb.TypeRoomList:        decodeAs[pb.RoomListRequest],
		pb.TypeStateUpdate:     decodeAs[pb.StateUpdate],
		pb.TypeCharacterUpdate: decodeAs[pb.CharacterUpdate],
		pb.TypeEquipmentUpdate: decodeAs[pb.EquipmentUpdate],
		pb.TypeChat:            decodeAs[pb.Chat],
		pb.TypePing:            decodeAs[pb.Ping],
		pb.TypePong:            decodeAs[pb.Pong],
	},
	ToClient: {
		pb.TypeConnect:         decodeAs[pb.ConnectAck],
		pb.TypeRoomList:        decodeAs[pb.RoomList],
		pb.TypeStateUpdate:     decodeAs[pb.StateUpdate],
		pb.TypeCharacterUpdate: decodeAs[pb.CharacterUpdate],
		pb.TypeEquipmentUpdate: decodeAs[pb.EquipmentUpdate],
		pb.TypeChat:            decodeAs[pb.Chat],
		pb.TypePing:            decodeAs[pb.Ping],
		pb.TypePong:            decodeAs[pb.Pong],
		pb.TypePlayerJoined:    decodeAs[pb.PlayerJoined],
		pb.TypePlayerLeft:      decodeAs[pb.PlayerLeft],
		pb.TypeError:           decodeAs[pb.Error],
		pb.TypeSystem:          decodeAs[pb.System],
	},
}

// Encode serializes msg into a frame.
func Encode(msg pb.Message) ([]byte, error) {
	data, err := codec.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", msg.MessageType(), err)
	}
	frame, err := codec.Marshal(Envelope{Type: msg.MessageType(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal envelope: %w", err)
	}
	if len(frame) > MaxFrameSize {
		return nil, fmt.Errorf("protocol: message too large: %d bytes", len(frame))
	}
	return frame, nil
}

// Decode parses a frame travelling in direction dir. The returned error wraps
// ErrMalformedFrame or ErrUnknownType; for ErrUnknownType the envelope type
// is still returned so callers can log it.
func Decode(frame []byte, dir Direction) (pb.Message, pb.Type, error) {
	if len(frame) > MaxFrameSize {
		return nil, "", fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(frame))
	}
	var env Envelope
	if err := codec.Unmarshal(frame, &env); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return nil, "", fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	decode, ok := decoders[dir][env.Type]
	if !ok {
		return nil, env.Type, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	msg, err := decode(env.Data)
	if err != nil {
		return nil, env.Type, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, env.Type, err)
	}
	return msg, env.Type, nil
}
