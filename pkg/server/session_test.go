package server

import (
	"testing"
	"time"

	"github.com/NicolasHaas/pixelsync/pkg/model"
)

func TestSessionRegistry(t *testing.T) {
	sr := NewSessionRegistry()
	a, b := newRecordingConn("a"), newRecordingConn("b")

	sa := sr.Register(a)
	sb := sr.Register(b)
	if sa.ID == "" || sa.ID == sb.ID {
		t.Fatalf("Register: ids must be unique and non-empty: %q %q", sa.ID, sb.ID)
	}
	if sa.Health != model.DefaultHealth || sa.Identified() {
		t.Fatalf("Register: unexpected initial session %+v", sa)
	}
	if again := sr.Register(a); again.ID != sa.ID {
		t.Fatalf("Register: second call created a new session")
	}
	if sr.Count() != 2 {
		t.Fatalf("Count: want=2 got=%d", sr.Count())
	}

	if _, ok := sr.SetName(a, "alice"); !ok {
		t.Fatalf("SetName: session missing")
	}
	byID, ok := sr.ByID(sa.ID)
	if !ok || byID.DisplayName != "alice" {
		t.Fatalf("ByID: want alice got %+v", byID)
	}
	if c, ok := sr.Conn(sb.ID); !ok || c != b {
		t.Fatalf("Conn: wrong connection for %s", sb.ID)
	}
	if conns := sr.Conns(a); len(conns) != 1 || conns[0] != b {
		t.Fatalf("Conns: want [b] got %v", conns)
	}

	// Snapshots do not alias registry state.
	snap, _ := sr.Update(a, func(s *model.Session) { s.Equipment = map[string]string{"hat": "red"} })
	snap.Equipment["hat"] = "blue"
	if cur, _ := sr.Get(a); cur.Equipment["hat"] != "red" {
		t.Fatalf("Get: snapshot mutation leaked into registry")
	}

	if _, ok := sr.Unregister(a); !ok {
		t.Fatalf("Unregister: want true")
	}
	if _, ok := sr.Unregister(a); ok {
		t.Fatalf("Unregister: second call want false")
	}
	if _, ok := sr.ByID(sa.ID); ok {
		t.Fatalf("ByID: unregistered session still indexed")
	}
	if sr.Count() != 1 {
		t.Fatalf("Count: want=1 got=%d", sr.Count())
	}
}

func TestSessionRegistryIdle(t *testing.T) {
	sr := NewSessionRegistry()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sr.now = func() time.Time { return now }

	a, b := newRecordingConn("a"), newRecordingConn("b")
	sr.Register(a)
	sr.Register(b)

	now = now.Add(time.Minute)
	sr.Touch(b)

	idle := sr.Idle(now.Add(-30 * time.Second))
	if len(idle) != 1 || idle[0] != a {
		t.Fatalf("Idle: want [a] got %v", idle)
	}
}
