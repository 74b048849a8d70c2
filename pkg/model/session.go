package model

import "time"

// DefaultHealth is the health a session starts with before its first state update.
const DefaultHealth = 100

// Session is the server's record of one live connection (in-memory only).
type Session struct {
	ID          string
	DisplayName string // empty until the connect handshake
	RoomID      string // empty when not in a room
	InRoom      bool
	Transform   Transform
	Health      float64
	Animation   string
	Character   map[string]string
	Equipment   map[string]string
	ConnectedAt time.Time
	LastSeen    time.Time
}

// Identified reports whether the connect handshake has completed.
func (s Session) Identified() bool {
	return s.DisplayName != ""
}

// Clone returns a copy that shares no maps with s.
func (s Session) Clone() Session {
	s.Character = cloneMap(s.Character)
	s.Equipment = cloneMap(s.Equipment)
	return s
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
