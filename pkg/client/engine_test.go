package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NicolasHaas/pixelsync/pkg/model"
	pb "github.com/NicolasHaas/pixelsync/pkg/protocol/pb"
	"github.com/NicolasHaas/pixelsync/pkg/sanitize"
	"github.com/NicolasHaas/pixelsync/pkg/server"
)

func startServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.MetricsAddr = ""
	srv := server.New(cfg, server.Dependencies{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestEngine(name string) *Engine {
	s := DefaultSettings()
	s.DisplayName = name
	s.DialRetries = 0
	return NewEngine(s)
}

// connectEngine connects e; callbacks must be set before.
func connectEngine(t *testing.T, e *Engine, url string) {
	t.Helper()
	name := e.settings.DisplayName
	if err := e.Connect(context.Background(), url); err != nil {
		t.Fatalf("Connect(%s): %v", name, err)
	}
	t.Cleanup(e.Disconnect)
	waitFor(t, name+" identified", func() bool { return e.PlayerID() != "" })
}

func TestEngineNotConnected(t *testing.T) {
	e := NewEngine(nil)
	if err := e.JoinRoom("r"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("JoinRoom: want ErrNotConnected got %v", err)
	}
	if _, err := e.SendChat("<b></b>"); !errors.Is(err, sanitize.ErrEmptyMessage) {
		t.Fatalf("SendChat: want ErrEmptyMessage got %v", err)
	}
	e.Disconnect()
	if e.GetState() != StateClosed {
		t.Fatalf("Disconnect: want %s got %s", StateClosed, e.GetState())
	}
}

func TestEngineDialFailure(t *testing.T) {
	s := DefaultSettings()
	s.DialRetries = 1
	s.DialTimeout = 200 * time.Millisecond
	e := NewEngine(s)
	if err := e.Connect(context.Background(), "ws://127.0.0.1:1/"); err == nil {
		t.Fatalf("Connect: want error for closed port")
	}
	if e.GetState() != StateDisconnected {
		t.Fatalf("state: want %s got %s", StateDisconnected, e.GetState())
	}
}

func TestEngineSession(t *testing.T) {
	srv, url := startServer(t)

	alice := newTestEngine("alice")
	bob := newTestEngine("bob")
	joined := make(chan RemoteEntity, 4)
	alice.OnPeerJoined = func(p RemoteEntity) { joined <- p }
	rooms := make(chan []pb.RoomSummary, 1)
	alice.OnRoomList = func(r []pb.RoomSummary) { rooms <- r }
	chats := make(chan pb.Chat, 1)
	bob.OnChat = func(m pb.Chat) { chats <- m }
	left := make(chan string, 1)
	alice.OnPeerLeft = func(id, _ string) { left <- id }

	connectEngine(t, alice, url)
	connectEngine(t, bob, url)
	if alice.GetState() != StateConnected || alice.PlayerName() != "alice" {
		t.Fatalf("alice: state=%s name=%q", alice.GetState(), alice.PlayerName())
	}

	if err := alice.CreateRoom("Tavern", 4); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := alice.RequestRoomList(); err != nil {
		t.Fatalf("RequestRoomList: %v", err)
	}
	var list []pb.RoomSummary
	select {
	case list = <-rooms:
	case <-time.After(3 * time.Second):
		t.Fatalf("no room_list reply")
	}
	if len(list) != 1 || list[0].Name != "Tavern" || list[0].PlayerCount != 1 {
		t.Fatalf("room_list: unexpected %+v", list)
	}

	if err := bob.JoinRoom(list[0].ID); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	select {
	case p := <-joined:
		if p.ID != bob.PlayerID() || p.Name != "bob" {
			t.Fatalf("OnPeerJoined: unexpected peer %+v", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("alice never saw bob join")
	}
	waitFor(t, "bob mirrors alice", func() bool { return bob.Registry().Len() == 1 })

	// State relay lands in the peer's target and is interpolated.
	pos := model.Transform{Position: model.Vec3{X: 10, Y: 0, Z: 5}}
	if err := alice.SendState(pos, "walk", 80); err != nil {
		t.Fatalf("SendState: %v", err)
	}
	waitFor(t, "bob sees alice move", func() bool {
		e, ok := bob.Registry().Get(alice.PlayerID())
		return ok && e.Target.Position == pos.Position && e.Animation == "walk" && e.Health == 80
	})
	// The first tick also sends a latency probe.
	bob.Tick(time.Now(), 200*time.Millisecond)
	if e, _ := bob.Registry().Get(alice.PlayerID()); e.Displayed != e.Target {
		t.Fatalf("interpolation: displayed=%+v target=%+v", e.Displayed, e.Target)
	}
	if got := bob.Visible(model.Vec3{}); len(got) != 1 || got[0].ID != alice.PlayerID() {
		t.Fatalf("Visible: unexpected %+v", got)
	}

	waitFor(t, "pong", func() bool { return bob.Prober().Pending() == 0 && bob.Stats().LastRTT > 0 })
	if rtt := bob.Stats().LastRTT; rtt >= 50*time.Millisecond {
		t.Fatalf("RTT: want < 50ms got %v", rtt)
	}

	sent, err := alice.SendChat("<script>x</script>hi <b>bob</b>")
	if err != nil || sent != "hi bob" {
		t.Fatalf("SendChat: want %q got %q err=%v", "hi bob", sent, err)
	}
	select {
	case m := <-chats:
		if m.Message != "hi bob" || m.PlayerName != "alice" {
			t.Fatalf("OnChat: unexpected %+v", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("bob never received chat")
	}

	bobID := bob.PlayerID()
	bob.Disconnect()
	if bob.GetState() != StateClosed || bob.Registry().Len() != 0 {
		t.Fatalf("Disconnect: state=%s entities=%d", bob.GetState(), bob.Registry().Len())
	}
	select {
	case id := <-left:
		if id != bobID {
			t.Fatalf("OnPeerLeft: want %s got %s", bobID, id)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("alice never saw bob leave")
	}
	if alice.Registry().Len() != 0 {
		t.Fatalf("alice still mirrors bob")
	}
	waitFor(t, "server session cleanup", func() bool { return srv.Sessions().Count() == 1 })

	stats := alice.Stats()
	if stats.FramesOut == 0 || stats.FramesIn == 0 || stats.DroppedFrames != 0 {
		t.Fatalf("Stats: unexpected %+v", stats)
	}
}

func TestEngineRoomErrors(t *testing.T) {
	_, url := startServer(t)
	e := newTestEngine("carol")
	errs := make(chan error, 1)
	e.OnError = func(err error) { errs <- err }
	connectEngine(t, e, url)

	if err := e.JoinRoom("missing"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	select {
	case err := <-errs:
		var se *ServerError
		if !errors.As(err, &se) || se.Code != pb.CodeRoomNotFound {
			t.Fatalf("OnError: want room_not_found got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no error reply")
	}
	if e.RoomID() != "" {
		t.Fatalf("RoomID: want empty got %q", e.RoomID())
	}
}

func TestEngineRejectedJoinKeepsRoom(t *testing.T) {
	srv, url := startServer(t)
	alice, bob := newTestEngine("alice"), newTestEngine("bob")
	carol, dave := newTestEngine("carol"), newTestEngine("dave")
	errs := make(chan error, 1)
	alice.OnError = func(err error) { errs <- err }
	for _, e := range []*Engine{alice, bob, carol, dave} {
		connectEngine(t, e, url)
	}

	// alice and bob share tavern; carol and dave fill a two-seat cellar.
	roomOf := func(e *Engine) string { return srv.Rooms().RoomOf(e.PlayerID()) }
	if err := alice.CreateRoom("Tavern", 4); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	waitFor(t, "tavern created", func() bool { return roomOf(alice) != "" })
	tavern := roomOf(alice)
	if err := carol.CreateRoom("Cellar", 2); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	waitFor(t, "cellar created", func() bool { return roomOf(carol) != "" })
	cellar := roomOf(carol)

	if err := bob.JoinRoom(tavern); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if err := dave.JoinRoom(cellar); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	waitFor(t, "alice mirrors bob", func() bool {
		_, ok := alice.Registry().Get(bob.PlayerID())
		return ok && alice.RoomID() == tavern
	})
	waitFor(t, "cellar full", func() bool {
		r, ok := srv.Rooms().Get(cellar)
		return ok && r.MemberCount == 2
	})

	if err := alice.JoinRoom(cellar); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	select {
	case err := <-errs:
		var se *ServerError
		if !errors.As(err, &se) || se.Code != pb.CodeRoomFull {
			t.Fatalf("OnError: want room_full got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no room_full reply")
	}
	if got := roomOf(alice); got != tavern {
		t.Fatalf("server room: want=%s got=%s", tavern, got)
	}
	if got := alice.RoomID(); got != tavern {
		t.Fatalf("RoomID: want=%s got=%s", tavern, got)
	}
	peer, ok := alice.Registry().Get(bob.PlayerID())
	if !ok || peer.Name != "bob" {
		t.Fatalf("rejected join dropped bob: ok=%t entity=%+v", ok, peer)
	}

	// Later state keeps the reconciled identity.
	pos := model.Transform{Position: model.Vec3{X: 3}}
	if err := bob.SendState(pos, "idle", 90); err != nil {
		t.Fatalf("SendState: %v", err)
	}
	waitFor(t, "alice sees bob move", func() bool {
		e, ok := alice.Registry().Get(bob.PlayerID())
		return ok && e.Target.Position == pos.Position
	})
	if e, _ := alice.Registry().Get(bob.PlayerID()); e.Name != "bob" {
		t.Fatalf("Name: want=bob got=%q", e.Name)
	}

	// Once a seat frees up the join goes through and the mirror switches.
	if err := dave.LeaveRoom(); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	waitFor(t, "seat free", func() bool {
		r, ok := srv.Rooms().Get(cellar)
		return ok && r.MemberCount == 1
	})
	if err := alice.JoinRoom(cellar); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	waitFor(t, "alice in cellar", func() bool {
		_, hasCarol := alice.Registry().Get(carol.PlayerID())
		return alice.RoomID() == cellar && hasCarol
	})
	if _, ok := alice.Registry().Get(bob.PlayerID()); ok {
		t.Fatalf("bob still mirrored after switching rooms")
	}
}

func TestEngineServerShutdown(t *testing.T) {
	srv, url := startServer(t)
	e := newTestEngine("dave")
	notices := make(chan string, 1)
	e.OnSystem = func(msg string) { notices <- msg }
	connectEngine(t, e, url)

	srv.Shutdown()
	select {
	case msg := <-notices:
		if msg != "Server shutting down" {
			t.Fatalf("OnSystem: unexpected %q", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no shutdown notice")
	}
	waitFor(t, "connection lost", func() bool { return e.GetState() == StateDisconnected })
}
