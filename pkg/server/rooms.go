package server

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasHaas/pixelsync/pkg/model"
	"github.com/NicolasHaas/pixelsync/pkg/sanitize"
)

// RoomRegistry owns rooms and their membership. A single mutex guards both;
// membership changes are mirrored into the SessionRegistry before it is
// released, so a session's room reference never names a missing room.
type RoomRegistry struct {
	mu          sync.Mutex
	rooms       map[string]*roomState
	memberOf    map[string]string // sessionID -> roomID
	sessions    *SessionRegistry  // may be nil in tests
	maxCapacity int
	now         func() time.Time
}

type roomState struct {
	room    model.Room
	members []string // join order; members[0] inherits host
}

// JoinResult describes a successful join.
type JoinResult struct {
	Room     model.Room
	Left     *LeaveResult // previous room left as part of the join, if any
	Existing []string     // members present before the joiner
}

// Rejoined reports whether the joiner was already a member of Room.
func (j JoinResult) Rejoined() bool {
	return j.Left != nil && j.Left.Room.ID == j.Room.ID
}

// LeaveResult describes a room after a member left it.
type LeaveResult struct {
	Room      model.Room
	Remaining []string
	Deleted   bool
}

// NewRoomRegistry creates an empty registry. maxCapacity bounds every room.
func NewRoomRegistry(maxCapacity int, sessions *SessionRegistry) *RoomRegistry {
	if maxCapacity < model.MinRoomCapacity {
		maxCapacity = model.MinRoomCapacity
	}
	return &RoomRegistry{
		rooms:       make(map[string]*roomState),
		memberOf:    make(map[string]string),
		sessions:    sessions,
		maxCapacity: maxCapacity,
		now:         time.Now,
	}
}

// MaxCapacity returns the per-room member limit.
func (rr *RoomRegistry) MaxCapacity() int {
	return rr.maxCapacity
}

// Create registers an empty room. The name is sanitized and the requested
// capacity is clamped to [MinRoomCapacity, MaxCapacity].
func (rr *RoomRegistry) Create(name string, requestedCapacity any, hostID string) model.Room {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.createLocked(name, requestedCapacity, hostID).room
}

// CreateAndJoin creates a room and joins hostID to it in one step, so the
// empty room is never observable.
func (rr *RoomRegistry) CreateAndJoin(name string, requestedCapacity any, hostID string) (JoinResult, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if !rr.live(hostID) {
		return JoinResult{}, model.ErrSessionClosed
	}
	st := rr.createLocked(name, requestedCapacity, hostID)
	return rr.joinLocked(st.room.ID, hostID)
}

func (rr *RoomRegistry) createLocked(name string, requestedCapacity any, hostID string) *roomState {
	capacity := sanitize.BoundedNumber(requestedCapacity,
		model.MinRoomCapacity, float64(rr.maxCapacity), float64(rr.maxCapacity))
	st := &roomState{
		room: model.Room{
			ID:        uuid.NewString(),
			Name:      sanitize.RoomName(name),
			HostID:    hostID,
			Capacity:  int(capacity),
			CreatedAt: rr.now(),
		},
	}
	rr.rooms[st.room.ID] = st
	return st
}

// Join adds sessionID to roomID, leaving its current room first. Joining the
// room the session is already in re-runs leave and join; the result then has
// Rejoined() set and the room is not deleted in between.
func (rr *RoomRegistry) Join(roomID, sessionID string) (JoinResult, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.joinLocked(roomID, sessionID)
}

func (rr *RoomRegistry) joinLocked(roomID, sessionID string) (JoinResult, error) {
	if !rr.live(sessionID) {
		return JoinResult{}, model.ErrSessionClosed
	}
	st, ok := rr.rooms[roomID]
	if !ok {
		return JoinResult{}, model.ErrRoomNotFound
	}
	current := rr.memberOf[sessionID]
	rejoin := current == roomID
	if !rejoin && st.room.Full() {
		return JoinResult{}, model.ErrRoomFull
	}

	var res JoinResult
	if current != "" {
		left, _ := rr.leaveLocked(sessionID, rejoin)
		res.Left = &left
	}

	res.Existing = slices.Clone(st.members)
	st.members = append(st.members, sessionID)
	st.room.MemberCount = len(st.members)
	if st.room.HostID == "" {
		st.room.HostID = sessionID
	}
	rr.memberOf[sessionID] = roomID
	if rr.sessions != nil {
		rr.sessions.setRoom(sessionID, roomID)
	}
	res.Room = st.room
	return res, nil
}

// live reports whether sessionID may still join rooms. Sessions unregistered
// while a request was in flight must not become members, since no later
// leave would remove them.
func (rr *RoomRegistry) live(sessionID string) bool {
	return rr.sessions == nil || rr.sessions.has(sessionID)
}

// Leave removes sessionID from its room, deleting the room when it empties.
// It reports false if the session was not in a room.
func (rr *RoomRegistry) Leave(sessionID string) (LeaveResult, bool) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.leaveLocked(sessionID, false)
}

func (rr *RoomRegistry) leaveLocked(sessionID string, keepEmpty bool) (LeaveResult, bool) {
	roomID, ok := rr.memberOf[sessionID]
	if !ok {
		return LeaveResult{}, false
	}
	delete(rr.memberOf, sessionID)
	if rr.sessions != nil {
		rr.sessions.setRoom(sessionID, "")
	}

	st := rr.rooms[roomID]
	st.members = slices.DeleteFunc(st.members, func(id string) bool { return id == sessionID })
	st.room.MemberCount = len(st.members)
	if st.room.HostID == sessionID {
		st.room.HostID = ""
		if len(st.members) > 0 {
			st.room.HostID = st.members[0]
		}
	}

	res := LeaveResult{Room: st.room, Remaining: slices.Clone(st.members)}
	if len(st.members) == 0 && !keepEmpty {
		delete(rr.rooms, roomID)
		res.Deleted = true
	}
	return res, true
}

// List returns a snapshot of all rooms, oldest first.
func (rr *RoomRegistry) List() []model.RoomInfo {
	rr.mu.Lock()
	rooms := make([]model.Room, 0, len(rr.rooms))
	for _, st := range rr.rooms {
		rooms = append(rooms, st.room)
	}
	rr.mu.Unlock()

	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
		}
		return rooms[i].ID < rooms[j].ID
	})
	out := make([]model.RoomInfo, len(rooms))
	for i, r := range rooms {
		out[i] = r.Info()
	}
	return out
}

// Get returns a snapshot of a room.
func (rr *RoomRegistry) Get(roomID string) (model.Room, bool) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	st, ok := rr.rooms[roomID]
	if !ok {
		return model.Room{}, false
	}
	return st.room, true
}

// RoomOf returns the room sessionID is in, or "".
func (rr *RoomRegistry) RoomOf(sessionID string) string {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.memberOf[sessionID]
}

// Members returns the session ids in a room, in join order.
func (rr *RoomRegistry) Members(roomID string) []string {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	st, ok := rr.rooms[roomID]
	if !ok {
		return nil
	}
	return slices.Clone(st.members)
}

// Count returns the number of rooms.
func (rr *RoomRegistry) Count() int {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return len(rr.rooms)
}
