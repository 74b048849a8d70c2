package client

import (
	"sort"

	"github.com/NicolasHaas/pixelsync/pkg/model"
)

// DefaultMaxVisible caps how many nearby entities Closest returns.
const DefaultMaxVisible = 50

// Nearby returns the entities whose displayed position is within
// maxDistance of origin (inclusive), excluding selfID. Order is preserved.
func Nearby(entities []RemoteEntity, origin model.Vec3, maxDistance float64, selfID string) []RemoteEntity {
	var out []RemoteEntity
	for _, e := range entities {
		if e.ID == selfID {
			continue
		}
		if e.Displayed.Position.Distance(origin) <= maxDistance {
			out = append(out, e)
		}
	}
	return out
}

// Closest is Nearby sorted by distance (ties by id) and capped at limit.
// A non-positive limit means DefaultMaxVisible.
func Closest(entities []RemoteEntity, origin model.Vec3, maxDistance float64, selfID string, limit int) []RemoteEntity {
	if limit <= 0 {
		limit = DefaultMaxVisible
	}
	near := Nearby(entities, origin, maxDistance, selfID)
	sort.SliceStable(near, func(i, j int) bool {
		di := near[i].Displayed.Position.Distance(origin)
		dj := near[j].Displayed.Position.Distance(origin)
		if di != dj {
			return di < dj
		}
		return near[i].ID < near[j].ID
	})
	if len(near) > limit {
		near = near[:limit]
	}
	return near
}
