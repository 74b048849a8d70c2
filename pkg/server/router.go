package server

import (
	"errors"

	"github.com/NicolasHaas/pixelsync/pkg/model"
	"github.com/NicolasHaas/pixelsync/pkg/protocol"
	pb "github.com/NicolasHaas/pixelsync/pkg/protocol/pb"
	"github.com/NicolasHaas/pixelsync/pkg/rbac"
	"github.com/NicolasHaas/pixelsync/pkg/sanitize"
	"github.com/NicolasHaas/pixelsync/pkg/version"
)

// ConnState is the per-connection state of the message router.
type ConnState int

const (
	StateConnecting ConnState = iota // open, no connect handshake yet
	StateIdle                        // identified, not in a room
	StateInRoom
	StateClosed
)

func (st ConnState) String() string {
	switch st {
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateInRoom:
		return "in_room"
	default:
		return "closed"
	}
}

// State returns the router state of c.
func (s *Server) State(c Conn) ConnState {
	sess, ok := s.sessions.Get(c)
	switch {
	case !ok:
		return StateClosed
	case sess.InRoom:
		return StateInRoom
	case sess.Identified():
		return StateIdle
	default:
		return StateConnecting
	}
}

// Open registers a session for a new connection.
func (s *Server) Open(c Conn) model.Session {
	s.metrics.ConnectionsTotal.Inc()
	return s.sessions.Register(c)
}

// Disconnect unregisters c's session, runs the leave logic for it and
// closes it. Safe to call more than once.
func (s *Server) Disconnect(c Conn, reason string) {
	defer func() { _ = c.Close() }()

	// Unregister before leaving: a join racing with this call either lands
	// first and is undone by the leave, or is refused with ErrSessionClosed.
	sess, ok := s.sessions.Unregister(c)
	if !ok {
		return
	}
	s.leaveRoom(sess)
	if s.closing.Load() {
		reason = reasonShutdown
	}
	s.metrics.Disconnects.WithLabelValues(reason).Inc()
	s.log.Info("client disconnected", "session", sess.ID, "name", sess.DisplayName, "reason", reason)
}

// HandleFrame decodes one inbound frame and dispatches it. Malformed and
// unknown frames are counted and dropped; the connection stays open.
func (s *Server) HandleFrame(c Conn, frame []byte) {
	timer := s.now()
	defer func() { s.metrics.DispatchSeconds.Observe(s.now().Sub(timer).Seconds()) }()

	s.metrics.BytesIn.Add(float64(len(frame)))
	s.sessions.Touch(c)

	msg, typ, err := protocol.Decode(frame, protocol.ToServer)
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		s.metrics.UnknownFrames.Inc()
		s.log.Debug("ignoring unknown message type", "type", typ, "remote", c.RemoteAddr())
		return
	case err != nil:
		s.metrics.MalformedFrames.Inc()
		s.log.Debug("dropping malformed frame", "remote", c.RemoteAddr(), "err", err)
		return
	}
	s.metrics.FramesIn.WithLabelValues(string(typ)).Inc()
	s.Handle(c, msg)
}

// Handle dispatches a decoded message from c.
func (s *Server) Handle(c Conn, msg pb.Message) {
	sess, ok := s.sessions.Get(c)
	if !ok {
		return
	}

	if err := rbac.RequirePermission(rbac.StageOf(sess.Identified()), msg.MessageType()); err != nil {
		if errors.Is(err, model.ErrNotIdentified) {
			s.sendError(c, pb.CodeNotIdentified, err.Error())
		}
		return
	}

	switch m := msg.(type) {
	case pb.Connect:
		s.handleConnect(c, m)

	case pb.CreateRoom:
		s.handleCreateRoom(c, sess, m)

	case pb.JoinRoom:
		s.handleJoinRoom(c, sess, m)

	case pb.LeaveRoom:
		s.leaveRoom(sess)

	case pb.RoomListRequest:
		s.handleRoomList(c)

	case pb.StateUpdate:
		s.handleStateUpdate(c, m)

	case pb.CharacterUpdate:
		s.handleDescriptor(c, m.Character, func(ss *model.Session, d map[string]string) { ss.Character = d },
			func(id string, d map[string]string) pb.Message { return pb.CharacterUpdate{PlayerID: id, Character: d} })

	case pb.EquipmentUpdate:
		s.handleDescriptor(c, m.Equipment, func(ss *model.Session, d map[string]string) { ss.Equipment = d },
			func(id string, d map[string]string) pb.Message { return pb.EquipmentUpdate{PlayerID: id, Equipment: d} })

	case pb.Chat:
		s.handleChat(c, sess, m)

	case pb.Ping:
		s.send(c, pb.Pong{PingID: m.PingID})

	case pb.Pong:
		// activity only
	}
}

func (s *Server) handleConnect(c Conn, m pb.Connect) {
	name := sanitize.DisplayName(m.DisplayName)
	sess, ok := s.sessions.SetName(c, name)
	if !ok {
		return
	}
	s.send(c, pb.ConnectAck{
		PlayerID:      sess.ID,
		PlayerName:    sess.DisplayName,
		ServerVersion: version.String(),
		MaxPlayers:    s.rooms.MaxCapacity(),
	})
	s.log.Info("player identified", "session", sess.ID, "name", name, "remote", c.RemoteAddr())
}

func (s *Server) handleCreateRoom(c Conn, sess model.Session, m pb.CreateRoom) {
	res, err := s.rooms.CreateAndJoin(m.RoomName, m.MaxPlayers, sess.ID)
	if err != nil {
		s.roomError(c, err)
		return
	}
	s.metrics.RoomsCreated.Inc()
	s.log.Info("room created", "room", res.Room.ID, "name", res.Room.Name, "capacity", res.Room.Capacity, "host", sess.ID)
	s.afterJoin(c, sess, res)
}

func (s *Server) handleJoinRoom(c Conn, sess model.Session, m pb.JoinRoom) {
	res, err := s.rooms.Join(m.RoomID, sess.ID)
	if err != nil {
		s.roomError(c, err)
		return
	}
	s.log.Info("player joined room", "session", sess.ID, "room", res.Room.ID, "members", res.Room.MemberCount, "rejoin", res.Rejoined())
	s.afterJoin(c, sess, res)
}

// afterJoin fans out the membership change computed by the registry.
func (s *Server) afterJoin(c Conn, sess model.Session, res JoinResult) {
	if res.Left != nil {
		s.notifyLeft(sess, *res.Left)
	}

	joiner, ok := s.sessions.Get(c)
	if !ok {
		return
	}
	s.broadcastIDs(res.Existing, playerJoined(joiner), joiner.ID)
	for _, id := range res.Existing {
		if peer, ok := s.sessions.ByID(id); ok {
			s.send(c, playerJoined(peer))
		}
	}
}

func (s *Server) roomError(c Conn, err error) {
	if errors.Is(err, model.ErrSessionClosed) {
		s.log.Debug("dropping room request from closed session", "remote", c.RemoteAddr())
		return
	}
	code, msg := pb.CodeRoomNotFound, "Room not found"
	if errors.Is(err, model.ErrRoomFull) {
		code, msg = pb.CodeRoomFull, "Room is full"
	}
	s.metrics.RoomErrors.WithLabelValues(code).Inc()
	s.sendError(c, code, msg)
}

// leaveRoom removes sess from its room and tells the remaining members.
func (s *Server) leaveRoom(sess model.Session) {
	res, ok := s.rooms.Leave(sess.ID)
	if !ok {
		return
	}
	s.notifyLeft(sess, res)
}

func (s *Server) notifyLeft(sess model.Session, res LeaveResult) {
	s.broadcastIDs(res.Remaining, pb.PlayerLeft{PlayerID: sess.ID, PlayerName: sess.DisplayName}, sess.ID)
	if res.Deleted {
		s.metrics.RoomsDeleted.Inc()
		s.log.Info("room deleted", "room", res.Room.ID, "name", res.Room.Name)
	}
}

func (s *Server) handleRoomList(c Conn) {
	rooms := s.rooms.List()
	out := pb.RoomList{Rooms: make([]pb.RoomSummary, len(rooms))}
	for i, r := range rooms {
		out.Rooms[i] = pb.RoomSummary{ID: r.ID, Name: r.Name, PlayerCount: r.MemberCount, MaxPlayers: r.Capacity}
	}
	s.send(c, out)
}

// handleStateUpdate stores the reported fields (last write wins) and relays
// the canonical values to the other members of the sender's room.
func (s *Server) handleStateUpdate(c Conn, m pb.StateUpdate) {
	sess, ok := s.sessions.Update(c, func(ss *model.Session) {
		if m.Position != nil {
			ss.Transform.Position = m.Position.Clamp(s.cfg.WorldBound)
		}
		if m.Rotation != nil {
			ss.Transform.Rotation = m.Rotation.Clamp(s.cfg.WorldBound)
		}
		if m.Animation != "" {
			ss.Animation = sanitize.Descriptor(m.Animation)
		}
		if m.Health != nil {
			ss.Health = sanitize.BoundedNumber(*m.Health, 0, s.cfg.MaxHealth, ss.Health)
		}
	})
	if !ok || !sess.InRoom {
		return
	}

	out := pb.StateUpdate{PlayerID: sess.ID}
	if m.Position != nil {
		out.Position = &sess.Transform.Position
	}
	if m.Rotation != nil {
		out.Rotation = &sess.Transform.Rotation
	}
	if m.Animation != "" {
		out.Animation = sess.Animation
	}
	if m.Health != nil {
		out.Health = &sess.Health
	}
	s.broadcastIDs(s.rooms.Members(sess.RoomID), out, sess.ID)
}

func (s *Server) handleDescriptor(c Conn, raw map[string]string,
	apply func(*model.Session, map[string]string), relay func(string, map[string]string) pb.Message) {
	desc := sanitize.DescriptorMap(raw)
	sess, ok := s.sessions.Update(c, func(ss *model.Session) { apply(ss, desc) })
	if !ok || !sess.InRoom {
		return
	}
	s.broadcastIDs(s.rooms.Members(sess.RoomID), relay(sess.ID, desc), sess.ID)
}

func (s *Server) handleChat(c Conn, sess model.Session, m pb.Chat) {
	text, err := sanitize.ChatText(m.Message)
	if err != nil {
		s.metrics.ChatRejected.Inc()
		s.sendError(c, pb.CodeEmptyMessage, "Message is empty")
		return
	}

	now := s.now()
	ts := m.Timestamp
	if ts <= 0 {
		ts = now.UnixMilli()
	}
	out := pb.Chat{
		PlayerID:   sess.ID,
		PlayerName: sess.DisplayName,
		RoomID:     sess.RoomID,
		Message:    text,
		Timestamp:  ts,
	}
	if sess.InRoom {
		s.broadcastIDs(s.rooms.Members(sess.RoomID), out, sess.ID)
	} else {
		s.broadcastConns(s.sessions.Conns(c), out)
	}
	s.metrics.ChatRelayed.Inc()

	line := model.ChatLine{RoomID: sess.RoomID, SenderID: sess.ID, SenderName: sess.DisplayName, Body: text, SentAt: now}
	if err := s.chat.AppendChat(&line); err != nil {
		s.log.Warn("chat journal append failed", "session", sess.ID, "err", err)
	}
}

func playerJoined(sess model.Session) pb.PlayerJoined {
	return pb.PlayerJoined{
		PlayerID:   sess.ID,
		PlayerName: sess.DisplayName,
		RoomID:     sess.RoomID,
		Position:   sess.Transform.Position,
		Rotation:   sess.Transform.Rotation,
		Animation:  sess.Animation,
		Health:     sess.Health,
		Character:  sess.Character,
		Equipment:  sess.Equipment,
	}
}

// ---- Outbound ----

func (s *Server) sendError(c Conn, code, message string) {
	s.send(c, pb.Error{Code: code, Message: message})
}

func (s *Server) send(c Conn, msg pb.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		s.log.Error("encode failed", "type", msg.MessageType(), "err", err)
		return
	}
	s.sendFrame(c, frame)
}

func (s *Server) sendFrame(c Conn, frame []byte) {
	if err := c.Send(frame); err != nil {
		if s.closing.Load() {
			return
		}
		s.metrics.SendFailures.Inc()
		if errors.Is(err, ErrSlowConsumer) {
			s.log.Warn("closing slow consumer", "remote", c.RemoteAddr())
			s.Disconnect(c, reasonSlowConsumer)
		}
		return
	}
	s.metrics.FramesOut.Inc()
	s.metrics.BytesOut.Add(float64(len(frame)))
}

// broadcastIDs sends msg to every session in ids except exclude. The frame
// is encoded once; no registry lock is held while sending.
func (s *Server) broadcastIDs(ids []string, msg pb.Message, exclude string) {
	if len(ids) == 0 {
		return
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		s.log.Error("encode failed", "type", msg.MessageType(), "err", err)
		return
	}
	for _, id := range ids {
		if id == exclude {
			continue
		}
		if c, ok := s.sessions.Conn(id); ok {
			s.sendFrame(c, frame)
		}
	}
}

func (s *Server) broadcastConns(conns []Conn, msg pb.Message) {
	if len(conns) == 0 {
		return
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		s.log.Error("encode failed", "type", msg.MessageType(), "err", err)
		return
	}
	for _, c := range conns {
		s.sendFrame(c, frame)
	}
}
