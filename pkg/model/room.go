package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MinRoomCapacity     = 2
	DefaultRoomCapacity = 8
	MaxRoomNameLength   = 50
)

var ErrRoomNameEmpty = errors.New("room name must not be empty")
var ErrRoomNameTooLong = errors.New("room name too long")
var ErrRoomCapacity = errors.New("room capacity out of range")
var ErrRoomMemberCount = errors.New("room member count out of range")

// Room is a bounded group of sessions sharing a broadcast scope.
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	HostID      string    `json:"host_id"`
	Capacity    int       `json:"capacity"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Full reports whether no further member can join.
func (r Room) Full() bool {
	return r.MemberCount >= r.Capacity
}

// Validate checks a room against the registry invariants. maxCapacity is the
// server's configured per-room limit.
func (r Room) Validate(maxCapacity int) error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrRoomNameEmpty
	} else if utf8.RuneCountInString(r.Name) > MaxRoomNameLength {
		return ErrRoomNameTooLong
	}

	if r.Capacity < MinRoomCapacity || r.Capacity > maxCapacity {
		return ErrRoomCapacity
	}

	if r.MemberCount < 0 || r.MemberCount > r.Capacity {
		return ErrRoomMemberCount
	}

	return nil
}

// Info is the listing view of a room.
func (r Room) Info() RoomInfo {
	return RoomInfo{ID: r.ID, Name: r.Name, MemberCount: r.MemberCount, Capacity: r.Capacity}
}

// RoomInfo is the room_list entry.
type RoomInfo struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	MemberCount int    `json:"playerCount" yaml:"player_count"`
	Capacity    int    `json:"maxPlayers" yaml:"max_players"`
}
