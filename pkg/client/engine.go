// Package client implements the pixelsync client: connection management,
// the remote entity mirror, interpolation, latency probing and proximity.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NicolasHaas/pixelsync/pkg/logging"
	"github.com/NicolasHaas/pixelsync/pkg/model"
	"github.com/NicolasHaas/pixelsync/pkg/protocol"
	pb "github.com/NicolasHaas/pixelsync/pkg/protocol/pb"
	"github.com/NicolasHaas/pixelsync/pkg/sanitize"
)

// State represents the client's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "closed"
	}
}

var (
	ErrNotConnected     = errors.New("client: not connected")
	ErrAlreadyConnected = errors.New("client: already connected")
)

// ServerError is an error reply from the server.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server: %s: %s", e.Code, e.Message)
}

// Stats is a snapshot of client traffic counters.
type Stats struct {
	FramesIn      int64
	FramesOut     int64
	BytesOut      int64
	DroppedFrames int64 // inbound frames that failed to decode
	PendingPings  int
	LastRTT       time.Duration
	SmoothedRTT   time.Duration
}

// Engine is the client connection manager. It owns the transport and routes
// inbound messages to the entity registry, the latency prober and the
// application callbacks. Callbacks run on the receive goroutine.
type Engine struct {
	mu sync.RWMutex

	state      State
	transport  *Transport
	playerID   string
	playerName string
	roomID     string
	joining    string // room of an unconfirmed join_room
	creating   bool   // created a room whose id is not known yet

	settings *Settings
	registry *Registry
	interp   *Interpolator
	prober   *Prober
	log      *slog.Logger
	now      func() time.Time

	framesIn  atomic.Int64
	framesOut atomic.Int64
	bytesOut  atomic.Int64
	dropped   atomic.Int64

	// Callbacks for application updates
	OnStateChange func(state State)
	OnIdentified  func(ack pb.ConnectAck)
	OnRoomList    func(rooms []pb.RoomSummary)
	OnPeerJoined  func(peer RemoteEntity)
	OnPeerLeft    func(peerID, name string)
	OnChat        func(msg pb.Chat)
	OnError       func(err error)
	OnSystem      func(message string)
	OnDisconnect  func(reason string)
}

// NewEngine creates a new client engine. A nil settings uses DefaultSettings.
func NewEngine(settings *Settings) *Engine {
	if settings == nil {
		settings = DefaultSettings()
	}
	reg := NewRegistry()
	return &Engine{
		state:    StateDisconnected,
		settings: settings,
		registry: reg,
		interp:   NewInterpolator(reg, settings.InterpolationDelay),
		prober:   NewProber(settings.PingInterval, settings.MaxPendingPings),
		log:      logging.Component("client"),
		now:      time.Now,
	}
}

// Registry returns the remote entity registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Prober returns the latency prober.
func (e *Engine) Prober() *Prober {
	return e.prober
}

// Connect dials endpoint and sends the connect handshake. The identity
// arrives asynchronously through OnIdentified.
func (e *Engine) Connect(ctx context.Context, endpoint string) error {
	e.mu.Lock()
	if e.state == StateConnecting || e.state == StateConnected {
		e.mu.Unlock()
		return ErrAlreadyConnected
	}
	e.state = StateConnecting
	e.mu.Unlock()
	e.notifyStateChange(StateConnecting)

	t, err := DialTransport(ctx, endpoint, e.settings.DialRetries, e.settings.DialTimeout)
	if err != nil {
		e.setState(StateDisconnected)
		return err
	}
	t.SetFrameHandler(e.handleFrame)

	e.mu.Lock()
	e.transport = t
	e.state = StateConnected
	e.mu.Unlock()

	e.log.Info("connected", "endpoint", endpoint)
	e.notifyStateChange(StateConnected)
	t.StartReceiving()

	// Monitor for disconnect
	go func() {
		<-t.Done()
		e.handleDisconnect(t, "connection lost", StateDisconnected)
	}()

	return e.send(pb.Connect{DisplayName: e.settings.DisplayName, Features: e.settings.Features})
}

// Disconnect closes the transport and enters StateClosed. Remote entities
// and pending pings are discarded.
func (e *Engine) Disconnect() {
	e.mu.RLock()
	t := e.transport
	e.mu.RUnlock()
	e.handleDisconnect(t, "user disconnected", StateClosed)
}

// GetState returns the current connection state.
func (e *Engine) GetState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// PlayerID returns the id assigned by the server, empty before the ack.
func (e *Engine) PlayerID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.playerID
}

// PlayerName returns the canonical display name assigned by the server.
func (e *Engine) PlayerName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.playerName
}

// RoomID returns the room the server has confirmed, empty when none is
// known. A pending JoinRoom does not change it until the join succeeds.
func (e *Engine) RoomID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.roomID
}

// Stats returns the current traffic counters.
func (e *Engine) Stats() Stats {
	last, smoothed := e.prober.RTT()
	return Stats{
		FramesIn:      e.framesIn.Load(),
		FramesOut:     e.framesOut.Load(),
		BytesOut:      e.bytesOut.Load(),
		DroppedFrames: e.dropped.Load(),
		PendingPings:  e.prober.Pending(),
		LastRTT:       last,
		SmoothedRTT:   smoothed,
	}
}

// Tick is the per-frame entry point: it advances interpolation by dt and
// sends a latency probe when one is due.
func (e *Engine) Tick(now time.Time, dt time.Duration) {
	e.interp.Update(dt)
	if e.GetState() != StateConnected {
		return
	}
	if ping, ok := e.prober.Tick(now); ok {
		if err := e.send(ping); err != nil {
			e.log.Debug("ping send failed", "err", err)
		}
	}
}

// Visible returns the entities within SyncDistance of origin, nearest
// first, capped at MaxPlayersVisible.
func (e *Engine) Visible(origin model.Vec3) []RemoteEntity {
	return Closest(e.registry.Snapshot(), origin, e.settings.SyncDistance, e.PlayerID(), e.settings.MaxPlayersVisible)
}

// ---- Outbound ----

// SendState reports the local player's transform, animation and health.
func (e *Engine) SendState(t model.Transform, animation string, health float64) error {
	return e.send(pb.StateUpdate{
		Position:  &t.Position,
		Rotation:  &t.Rotation,
		Animation: animation,
		Health:    &health,
	})
}

// SendChat sanitizes text and sends it. It returns the canonical text the
// other participants will see, or sanitize.ErrEmptyMessage.
func (e *Engine) SendChat(text string) (string, error) {
	clean, err := sanitize.ChatText(text)
	if err != nil {
		return "", err
	}
	if err := e.send(pb.Chat{Message: clean, Timestamp: e.now().UnixMilli()}); err != nil {
		return "", err
	}
	return clean, nil
}

// CreateRoom asks the server to create a room and join it.
func (e *Engine) CreateRoom(name string, maxPlayers int) error {
	e.resetRoom()
	e.mu.Lock()
	e.creating = true
	e.mu.Unlock()
	return e.send(pb.CreateRoom{RoomName: name, MaxPlayers: maxPlayers})
}

// JoinRoom asks the server to join roomID. The current room and its
// entities are kept until the first player_joined for roomID confirms the
// join; a room_full or room_not_found reply leaves them untouched.
func (e *Engine) JoinRoom(roomID string) error {
	e.mu.Lock()
	e.joining = roomID
	e.mu.Unlock()
	if err := e.send(pb.JoinRoom{RoomID: roomID}); err != nil {
		e.abandonJoin()
		return err
	}
	return nil
}

// LeaveRoom leaves the current room.
func (e *Engine) LeaveRoom() error {
	e.resetRoom()
	return e.send(pb.LeaveRoom{})
}

// RequestRoomList asks for the room list; the reply arrives via OnRoomList.
func (e *Engine) RequestRoomList() error {
	return e.send(pb.RoomListRequest{})
}

// UpdateCharacter sends the local appearance descriptor.
func (e *Engine) UpdateCharacter(character map[string]string) error {
	return e.send(pb.CharacterUpdate{Character: sanitize.DescriptorMap(character)})
}

// UpdateEquipment sends the local equipment descriptor.
func (e *Engine) UpdateEquipment(equipment map[string]string) error {
	return e.send(pb.EquipmentUpdate{Equipment: sanitize.DescriptorMap(equipment)})
}

// resetRoom runs before a create or leave request is sent so that replies
// are never cleared.
func (e *Engine) resetRoom() {
	e.mu.Lock()
	e.roomID = ""
	e.joining = ""
	e.creating = false
	e.mu.Unlock()
	e.registry.Clear()
}

// confirmRoom is called for every player_joined. It completes a pending
// join of roomID, or adopts roomID when the client is in a room whose id it
// has not learned yet (a room it created).
func (e *Engine) confirmRoom(roomID string) {
	if roomID == "" {
		return
	}
	e.mu.Lock()
	confirmed := roomID == e.joining
	if confirmed {
		e.joining = ""
		e.creating = false
		e.roomID = roomID
	} else if e.creating && e.joining == "" {
		e.creating = false
		e.roomID = roomID
	}
	e.mu.Unlock()
	if confirmed {
		e.registry.Clear()
	}
}

func (e *Engine) abandonJoin() {
	e.mu.Lock()
	e.joining = ""
	e.mu.Unlock()
}

func (e *Engine) send(msg pb.Message) error {
	e.mu.RLock()
	t := e.transport
	e.mu.RUnlock()
	if t == nil {
		return ErrNotConnected
	}

	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := t.Send(frame); err != nil {
		return err
	}
	e.framesOut.Add(1)
	e.bytesOut.Add(int64(len(frame)))
	return nil
}

// ---- Inbound ----

func (e *Engine) handleFrame(frame []byte) {
	msg, typ, err := protocol.Decode(frame, protocol.ToClient)
	if err != nil {
		e.dropped.Add(1)
		e.log.Debug("dropping inbound frame", "type", typ, "err", err)
		return
	}
	e.framesIn.Add(1)
	e.handleMessage(msg)
}

// handleMessage dispatches a decoded server message.
func (e *Engine) handleMessage(msg pb.Message) {
	switch m := msg.(type) {
	case pb.ConnectAck:
		e.mu.Lock()
		e.playerID = m.PlayerID
		e.playerName = m.PlayerName
		e.mu.Unlock()
		e.registry.SetSelf(m.PlayerID)
		e.log.Info("identified", "player", m.PlayerID, "name", m.PlayerName, "server_version", m.ServerVersion)
		if e.OnIdentified != nil {
			e.OnIdentified(m)
		}

	case pb.RoomList:
		if e.OnRoomList != nil {
			e.OnRoomList(m.Rooms)
		}

	case pb.PlayerJoined:
		e.confirmRoom(m.RoomID)
		pos, rot, health := m.Position, m.Rotation, m.Health
		peer, ok := e.registry.Upsert(m.PlayerID, EntityUpdate{
			Name:      m.PlayerName,
			Position:  &pos,
			Rotation:  &rot,
			Animation: m.Animation,
			Health:    &health,
			Character: m.Character,
			Equipment: m.Equipment,
		})
		if ok && e.OnPeerJoined != nil {
			e.OnPeerJoined(peer)
		}

	case pb.PlayerLeft:
		e.registry.Remove(m.PlayerID)
		if e.OnPeerLeft != nil {
			e.OnPeerLeft(m.PlayerID, m.PlayerName)
		}

	case pb.StateUpdate:
		e.registry.Upsert(m.PlayerID, EntityUpdate{
			Position:  m.Position,
			Rotation:  m.Rotation,
			Animation: m.Animation,
			Health:    m.Health,
		})

	case pb.CharacterUpdate:
		e.registry.Upsert(m.PlayerID, EntityUpdate{Character: m.Character})

	case pb.EquipmentUpdate:
		e.registry.Upsert(m.PlayerID, EntityUpdate{Equipment: m.Equipment})

	case pb.Chat:
		if e.OnChat != nil {
			e.OnChat(m)
		}

	case pb.Ping:
		_ = e.send(pb.Pong{PingID: m.PingID})

	case pb.Pong:
		if rtt, ok := e.prober.Ack(m.PingID, e.now()); ok {
			e.log.Debug("latency", "rtt", rtt)
		}

	case pb.Error:
		switch m.Code {
		case pb.CodeRoomNotFound, pb.CodeRoomFull, pb.CodeNotIdentified:
			// The server kept the session where it was.
			e.abandonJoin()
		}
		e.log.Warn("server error", "code", m.Code, "msg", m.Message)
		if e.OnError != nil {
			e.OnError(&ServerError{Code: m.Code, Message: m.Message})
		}

	case pb.System:
		e.log.Info("server notice", "msg", m.Message)
		if e.OnSystem != nil {
			e.OnSystem(m.Message)
		}
	}
}

// handleDisconnect tears down t if it is still the active transport.
func (e *Engine) handleDisconnect(t *Transport, reason string, next State) {
	e.mu.Lock()
	if t == nil || e.transport != t {
		changed := next == StateClosed && e.state != StateClosed
		if changed {
			e.state = StateClosed
		}
		e.mu.Unlock()
		if changed {
			e.notifyStateChange(StateClosed)
		}
		return
	}
	e.transport = nil
	e.state = next
	e.playerID = ""
	e.playerName = ""
	e.roomID = ""
	e.joining = ""
	e.creating = false
	e.mu.Unlock()

	_ = t.Close()
	e.registry.Clear()
	e.prober.Reset()

	e.log.Info("disconnected", "reason", reason)
	e.notifyStateChange(next)
	if e.OnDisconnect != nil {
		e.OnDisconnect(reason)
	}
}

func (e *Engine) setState(state State) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
	e.notifyStateChange(state)
}

func (e *Engine) notifyStateChange(state State) {
	if e.OnStateChange != nil {
		e.OnStateChange(state)
	}
}
