// Package rbac decides which requests a connection may make at its
// handshake stage.
package rbac

import (
	"errors"
	"fmt"

	"github.com/NicolasHaas/pixelsync/pkg/model"
	pb "github.com/NicolasHaas/pixelsync/pkg/protocol/pb"
)

// ErrNotAllowed is returned for request types no stage may send.
var ErrNotAllowed = errors.New("request not allowed")

// Stage is how far a connection has got through the connect handshake.
type Stage int

const (
	Anonymous  Stage = iota // no connect yet
	Identified              // connect acknowledged
)

// StageOf maps a session's handshake flag to a Stage.
func StageOf(identified bool) Stage {
	if identified {
		return Identified
	}
	return Anonymous
}

// anonymous requests never create shared state visible to others.
var anonymous = map[pb.Type]bool{
	pb.TypeConnect:         true,
	pb.TypeLeaveRoom:       true,
	pb.TypeRoomList:        true,
	pb.TypeStateUpdate:     true,
	pb.TypeCharacterUpdate: true,
	pb.TypeEquipmentUpdate: true,
	pb.TypePing:            true,
	pb.TypePong:            true,
}

// permissionMatrix maps stages to the request types they may send.
var permissionMatrix = map[Stage]map[pb.Type]bool{
	Anonymous: anonymous,
	Identified: union(anonymous, map[pb.Type]bool{
		pb.TypeCreateRoom: true,
		pb.TypeJoinRoom:   true,
		pb.TypeChat:       true,
	}),
}

func union(a, b map[pb.Type]bool) map[pb.Type]bool {
	out := make(map[pb.Type]bool, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Allowed reports whether a connection at stage may send typ.
func Allowed(stage Stage, typ pb.Type) bool {
	return permissionMatrix[stage][typ]
}

// RequirePermission returns nil if stage may send typ. Requests that only
// need the handshake fail with model.ErrNotIdentified.
func RequirePermission(stage Stage, typ pb.Type) error {
	if Allowed(stage, typ) {
		return nil
	}
	if stage == Anonymous && Allowed(Identified, typ) {
		return fmt.Errorf("%w: send connect before %s", model.ErrNotIdentified, typ)
	}
	return fmt.Errorf("rbac: %s: %w", typ, ErrNotAllowed)
}
