package client

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/NicolasHaas/pixelsync/pkg/model"
)

func vec(x, y, z float64) *model.Vec3 { return &model.Vec3{X: x, Y: y, Z: z} }

func TestRegistryUpsert(t *testing.T) {
	reg := NewRegistry()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	created, ok := reg.Upsert("p1", EntityUpdate{Name: "alice", Position: vec(1, 2, 3)})
	if !ok {
		t.Fatalf("Upsert: want ok")
	}
	want := RemoteEntity{
		ID:        "p1",
		Name:      "alice",
		Displayed: model.Transform{Position: model.Vec3{X: 1, Y: 2, Z: 3}},
		Target:    model.Transform{Position: model.Vec3{X: 1, Y: 2, Z: 3}},
		Health:    model.DefaultHealth,
		UpdatedAt: now,
	}
	if diff := cmp.Diff(want, created, cmpopts.IgnoreUnexported(RemoteEntity{})); diff != "" {
		t.Fatalf("created entity mismatch (-want +got):\n%s", diff)
	}

	now = now.Add(time.Second)
	hp := 40.0
	got, _ := reg.Upsert("p1", EntityUpdate{Position: vec(5, 2, 3), Health: &hp, Equipment: map[string]string{"weapon": "axe"}})
	if got.Target.Position != (model.Vec3{X: 5, Y: 2, Z: 3}) {
		t.Fatalf("Upsert: target not written: %+v", got.Target)
	}
	if got.Displayed.Position != (model.Vec3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("Upsert: displayed moved before interpolation: %+v", got.Displayed)
	}
	if got.Name != "alice" || got.Health != 40 || got.Equipment["weapon"] != "axe" || !got.UpdatedAt.Equal(now) {
		t.Fatalf("Upsert: unexpected merge %+v", got)
	}

	// Snapshots do not alias registry maps.
	got.Equipment["weapon"] = "bow"
	if cur, _ := reg.Get("p1"); cur.Equipment["weapon"] != "axe" {
		t.Fatalf("Get: snapshot mutation leaked")
	}
}

func TestRegistrySelfAndRemove(t *testing.T) {
	reg := NewRegistry()
	reg.SetSelf("me")
	if _, ok := reg.Upsert("me", EntityUpdate{Position: vec(0, 0, 0)}); ok {
		t.Fatalf("Upsert: self must not be stored")
	}
	if _, ok := reg.Upsert("", EntityUpdate{}); ok {
		t.Fatalf("Upsert: empty id must not be stored")
	}
	reg.Upsert("b", EntityUpdate{})
	reg.Upsert("a", EntityUpdate{})

	ids := []string{}
	for _, e := range reg.Snapshot() {
		ids = append(ids, e.ID)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids); diff != "" {
		t.Fatalf("Snapshot ids mismatch (-want +got):\n%s", diff)
	}

	if _, ok := reg.Remove("a"); !ok {
		t.Fatalf("Remove: want true")
	}
	if _, ok := reg.Remove("a"); ok {
		t.Fatalf("Remove: second call want false")
	}
	reg.Clear()
	if reg.Len() != 0 {
		t.Fatalf("Clear: want 0 got %d", reg.Len())
	}
}

func TestRegistryNearby(t *testing.T) {
	reg := NewRegistry()
	reg.SetSelf("me")
	reg.Upsert("near", EntityUpdate{Position: vec(3, 4, 0)})
	reg.Upsert("edge", EntityUpdate{Position: vec(10, 0, 0)})
	reg.Upsert("far", EntityUpdate{Position: vec(50, 0, 0)})

	var ids []string
	for _, e := range reg.Nearby(model.Vec3{}, 10) {
		ids = append(ids, e.ID)
	}
	if diff := cmp.Diff([]string{"edge", "near"}, ids); diff != "" {
		t.Fatalf("Nearby mismatch (-want +got):\n%s", diff)
	}
}
