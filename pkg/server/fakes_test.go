package server

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/NicolasHaas/pixelsync/pkg/protocol"
	pb "github.com/NicolasHaas/pixelsync/pkg/protocol/pb"
	"github.com/NicolasHaas/pixelsync/pkg/store"
)

// recordingConn captures every frame queued to it.
type recordingConn struct {
	mu     sync.Mutex
	name   string
	frames [][]byte
	closed bool
	full   bool // reject sends as a slow consumer
}

func newRecordingConn(name string) *recordingConn {
	return &recordingConn{name: name}
}

func (c *recordingConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.full {
		c.closed = true
		return ErrSlowConsumer
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) RemoteAddr() string { return c.name }

func (c *recordingConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// messages decodes everything received so far.
func (c *recordingConn) messages(t *testing.T) []pb.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]pb.Message, 0, len(c.frames))
	for _, f := range c.frames {
		msg, _, err := protocol.Decode(f, protocol.ToClient)
		if err != nil {
			t.Fatalf("Decode(%s): %v", f, err)
		}
		out = append(out, msg)
	}
	return out
}

// ofType returns the received messages of one type.
func (c *recordingConn) ofType(t *testing.T, typ pb.Type) []pb.Message {
	t.Helper()
	var out []pb.Message
	for _, m := range c.messages(t) {
		if m.MessageType() == typ {
			out = append(out, m)
		}
	}
	return out
}

func (c *recordingConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MetricsAddr = ""
	return New(cfg, Dependencies{Chat: store.NewMemory()})
}

// connectClient opens a session and completes the handshake.
func connectClient(t *testing.T, srv *Server, name string) (*recordingConn, string) {
	t.Helper()
	c := newRecordingConn(name)
	srv.Open(c)
	srv.Handle(c, pb.Connect{DisplayName: name})
	acks := c.ofType(t, pb.TypeConnect)
	if len(acks) != 1 {
		t.Fatalf("connect %s: want 1 ack got %d", name, len(acks))
	}
	c.reset()
	return c, acks[0].(pb.ConnectAck).PlayerID
}

// createRoom has c create a room and returns its id.
func createRoom(t *testing.T, srv *Server, c *recordingConn, name string, capacity any) string {
	t.Helper()
	srv.Handle(c, pb.CreateRoom{RoomName: name, MaxPlayers: capacity})
	sess, ok := srv.Sessions().Get(c)
	if !ok || !sess.InRoom {
		t.Fatalf("CreateRoom %s: creator not in a room", name)
	}
	return sess.RoomID
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write: %v", err)
	}
	return m.GetCounter().GetValue()
}
