// Package pb holds the payload schema of every wire message type. Each type in
// the closed set has exactly one payload struct per direction.
package pb

import "github.com/NicolasHaas/pixelsync/pkg/model"

// Type is the "type" tag of the {type, data} envelope.
type Type string

const (
	TypeConnect         Type = "connect"
	TypeCreateRoom      Type = "create_room"
	TypeJoinRoom        Type = "join_room"
	TypeLeaveRoom       Type = "leave_room"
	TypeRoomList        Type = "room_list"
	TypeStateUpdate     Type = "state_update"
	TypeCharacterUpdate Type = "character_update"
	TypeEquipmentUpdate Type = "equipment_update"
	TypeChat            Type = "chat"
	TypePing            Type = "ping"
	TypePong            Type = "pong"
	TypePlayerJoined    Type = "player_joined"
	TypePlayerLeft      Type = "player_left"
	TypeError           Type = "error"
	TypeSystem          Type = "system"
)

// Message is implemented by every payload struct in this package.
type Message interface {
	MessageType() Type
}

// Wire error codes carried by Error.Code.
const (
	CodeRoomNotFound  = "room_not_found"
	CodeRoomFull      = "room_full"
	CodeEmptyMessage  = "empty_message"
	CodeNotIdentified = "not_identified"
)

// ----- Handshake -----

// Connect is the client's handshake (client -> server).
type Connect struct {
	DisplayName string   `json:"displayName"`
	Features    []string `json:"features,omitempty"`
}

// ConnectAck acknowledges the handshake (server -> client, type "connect").
type ConnectAck struct {
	PlayerID      string `json:"playerId"`
	PlayerName    string `json:"playerName"`
	ServerVersion string `json:"serverVersion"`
	MaxPlayers    int    `json:"maxPlayers"`
}

// ----- Rooms -----

type CreateRoom struct {
	RoomName   string `json:"roomName"`
	MaxPlayers any    `json:"maxPlayers"` // untrusted; clamped by the server
}

type JoinRoom struct {
	RoomID string `json:"roomId"`
}

type LeaveRoom struct{}

// RoomListRequest asks for the room list (client -> server, type "room_list").
type RoomListRequest struct{}

type RoomSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PlayerCount int    `json:"playerCount"`
	MaxPlayers  int    `json:"maxPlayers"`
}

// RoomList is the reply to RoomListRequest (server -> client).
type RoomList struct {
	Rooms []RoomSummary `json:"rooms"`
}

// ----- State -----

// StateUpdate carries one participant's transform. Nil fields were not
// reported. PlayerID is set by the server when relaying.
type StateUpdate struct {
	PlayerID  string      `json:"playerId,omitempty"`
	Position  *model.Vec3 `json:"position,omitempty"`
	Rotation  *model.Vec3 `json:"rotation,omitempty"`
	Animation string      `json:"animation,omitempty"`
	Health    *float64    `json:"health,omitempty"`
}

type CharacterUpdate struct {
	PlayerID  string            `json:"playerId,omitempty"`
	Character map[string]string `json:"character"`
}

type EquipmentUpdate struct {
	PlayerID  string            `json:"playerId,omitempty"`
	Equipment map[string]string `json:"equipment"`
}

// PlayerJoined announces a room member. RoomID names the room the
// announcement belongs to, so a joiner can tell when its join took effect.
type PlayerJoined struct {
	PlayerID   string            `json:"playerId"`
	PlayerName string            `json:"playerName"`
	RoomID     string            `json:"roomId,omitempty"`
	Position   model.Vec3        `json:"position"`
	Rotation   model.Vec3        `json:"rotation"`
	Animation  string            `json:"animation,omitempty"`
	Health     float64           `json:"health"`
	Character  map[string]string `json:"character,omitempty"`
	Equipment  map[string]string `json:"equipment,omitempty"`
}

type PlayerLeft struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

// ----- Chat -----

// Chat is sent by a client with Message/Timestamp and relayed by the server
// with the sender fields filled in.
type Chat struct {
	PlayerID   string `json:"playerId,omitempty"`
	PlayerName string `json:"playerName,omitempty"`
	RoomID     string `json:"roomId,omitempty"`
	Message    string `json:"message"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// ----- Generic -----

type Ping struct {
	PingID string `json:"pingId"`
}

type Pong struct {
	PingID string `json:"pingId"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type System struct {
	Message string `json:"message"`
}

func (Connect) MessageType() Type         { return TypeConnect }
func (ConnectAck) MessageType() Type      { return TypeConnect }
func (CreateRoom) MessageType() Type      { return TypeCreateRoom }
func (JoinRoom) MessageType() Type        { return TypeJoinRoom }
func (LeaveRoom) MessageType() Type       { return TypeLeaveRoom }
func (RoomListRequest) MessageType() Type { return TypeRoomList }
func (RoomList) MessageType() Type        { return TypeRoomList }
func (StateUpdate) MessageType() Type     { return TypeStateUpdate }
func (CharacterUpdate) MessageType() Type { return TypeCharacterUpdate }
func (EquipmentUpdate) MessageType() Type { return TypeEquipmentUpdate }
func (PlayerJoined) MessageType() Type    { return TypePlayerJoined }
func (PlayerLeft) MessageType() Type      { return TypePlayerLeft }
func (Chat) MessageType() Type            { return TypeChat }
func (Ping) MessageType() Type            { return TypePing }
func (Pong) MessageType() Type            { return TypePong }
func (Error) MessageType() Type           { return TypeError }
func (System) MessageType() Type          { return TypeSystem }
