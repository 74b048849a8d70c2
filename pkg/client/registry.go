package client

import (
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/NicolasHaas/pixelsync/pkg/model"
)

// RemoteEntity is the local mirror of another participant.
type RemoteEntity struct {
	ID        string
	Name      string
	Character map[string]string
	Equipment map[string]string
	Displayed model.Transform // what the renderer draws
	Target    model.Transform // latest authoritative value
	Animation string
	Health    float64
	UpdatedAt time.Time

	sinceTarget time.Duration // time interpolated toward the current Target
}

func (e RemoteEntity) clone() RemoteEntity {
	e.Character = maps.Clone(e.Character)
	e.Equipment = maps.Clone(e.Equipment)
	return e
}

// EntityUpdate is a partial update. Nil and empty fields are left unchanged.
type EntityUpdate struct {
	Name      string
	Position  *model.Vec3
	Rotation  *model.Vec3
	Animation string
	Health    *float64
	Character map[string]string
	Equipment map[string]string
}

// Registry holds the remote entities of the current room, keyed by peer id.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*RemoteEntity
	self     string
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]*RemoteEntity),
		now:      time.Now,
	}
}

// SetSelf records the local participant's id; it is never stored and is
// excluded from proximity queries.
func (r *Registry) SetSelf(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.self = id
	delete(r.entities, id)
}

// Upsert creates or updates peerID. A new entity is displayed at its target
// immediately; later position or rotation changes restart interpolation.
func (r *Registry) Upsert(peerID string, u EntityUpdate) (RemoteEntity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if peerID == "" || peerID == r.self {
		return RemoteEntity{}, false
	}

	e, exists := r.entities[peerID]
	if !exists {
		e = &RemoteEntity{ID: peerID, Health: model.DefaultHealth}
		r.entities[peerID] = e
	}

	target := e.Target
	if u.Position != nil {
		target.Position = *u.Position
	}
	if u.Rotation != nil {
		target.Rotation = *u.Rotation
	}
	if !exists {
		e.Displayed = target
	} else if target != e.Target {
		e.sinceTarget = 0
	}
	e.Target = target

	if u.Name != "" {
		e.Name = u.Name
	}
	if u.Animation != "" {
		e.Animation = u.Animation
	}
	if u.Health != nil {
		e.Health = *u.Health
	}
	if u.Character != nil {
		e.Character = u.Character
	}
	if u.Equipment != nil {
		e.Equipment = u.Equipment
	}
	e.UpdatedAt = r.now()
	return e.clone(), true
}

// Remove deletes peerID and reports whether it was present.
func (r *Registry) Remove(peerID string) (RemoteEntity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[peerID]
	if !ok {
		return RemoteEntity{}, false
	}
	delete(r.entities, peerID)
	return *e, true
}

// Clear removes every entity.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.entities)
}

// Get returns a snapshot of peerID.
func (r *Registry) Get(peerID string) (RemoteEntity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[peerID]
	if !ok {
		return RemoteEntity{}, false
	}
	return e.clone(), true
}

// Snapshot returns every entity ordered by id.
func (r *Registry) Snapshot() []RemoteEntity {
	r.mu.RLock()
	out := make([]RemoteEntity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e.clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// Nearby returns the entities within maxDistance of origin.
func (r *Registry) Nearby(origin model.Vec3, maxDistance float64) []RemoteEntity {
	r.mu.RLock()
	self := r.self
	r.mu.RUnlock()
	return Nearby(r.Snapshot(), origin, maxDistance, self)
}

// update runs fn on every entity under the write lock.
func (r *Registry) update(fn func(e *RemoteEntity)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entities {
		fn(e)
	}
}
