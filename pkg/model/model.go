// Package model defines the core domain types for pixelsync.
package model

import (
	"errors"
	"math"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room is full")
	ErrNotIdentified = errors.New("connect handshake required")
	ErrSessionClosed = errors.New("session closed")
)

// Vec3 is a point or Euler rotation in world space.
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Len returns the Euclidean length of v.
func (v Vec3) Len() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Distance returns the Euclidean distance between v and o.
func (v Vec3) Distance(o Vec3) float64 {
	return v.Sub(o).Len()
}

// Lerp moves from v toward o by fraction t (0 keeps v, 1 yields o exactly).
func (v Vec3) Lerp(o Vec3, t float64) Vec3 {
	if t >= 1 {
		return o
	}
	if t <= 0 {
		return v
	}
	return Vec3{
		X: v.X + (o.X-v.X)*t,
		Y: v.Y + (o.Y-v.Y)*t,
		Z: v.Z + (o.Z-v.Z)*t,
	}
}

// Clamp limits every component to [-bound, bound].
func (v Vec3) Clamp(bound float64) Vec3 {
	c := func(f float64) float64 {
		if math.IsNaN(f) {
			return 0
		}
		return math.Max(-bound, math.Min(bound, f))
	}
	return Vec3{X: c(v.X), Y: c(v.Y), Z: c(v.Z)}
}

// Transform is a position plus rotation.
type Transform struct {
	Position Vec3 `json:"position"`
	Rotation Vec3 `json:"rotation"`
}

// Lerp interpolates both position and rotation.
func (t Transform) Lerp(o Transform, f float64) Transform {
	return Transform{
		Position: t.Position.Lerp(o.Position, f),
		Rotation: t.Rotation.Lerp(o.Rotation, f),
	}
}
