package model

import (
	"strings"
	"testing"
)

func TestRoomValidate(t *testing.T) {
	tests := []struct {
		name    string
		room    Room
		wantErr error
	}{
		{"valid", Room{Name: "Tavern", Capacity: 4, MemberCount: 1}, nil},
		{"valid full", Room{Name: "Tavern", Capacity: 2, MemberCount: 2}, nil},
		{"empty name", Room{Name: "  ", Capacity: 4}, ErrRoomNameEmpty},
		{"long name", Room{Name: strings.Repeat("n", MaxRoomNameLength+1), Capacity: 4}, ErrRoomNameTooLong},
		{"capacity too small", Room{Name: "a", Capacity: 1}, ErrRoomCapacity},
		{"capacity too large", Room{Name: "a", Capacity: 9}, ErrRoomCapacity},
		{"over capacity", Room{Name: "a", Capacity: 2, MemberCount: 3}, ErrRoomMemberCount},
		{"negative members", Room{Name: "a", Capacity: 2, MemberCount: -1}, ErrRoomMemberCount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.room.Validate(DefaultRoomCapacity); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVec3Lerp(t *testing.T) {
	a := Vec3{}
	b := Vec3{X: 10, Y: -4, Z: 2}

	tests := []struct {
		f    float64
		want Vec3
	}{
		{0, a},
		{-1, a},
		{0.5, Vec3{X: 5, Y: -2, Z: 1}},
		{1, b},
		{3, b},
	}

	for _, tt := range tests {
		if got := a.Lerp(b, tt.f); got != tt.want {
			t.Errorf("Lerp(%v) = %+v, want %+v", tt.f, got, tt.want)
		}
	}
}

func TestVec3Distance(t *testing.T) {
	if got := (Vec3{X: 1, Y: 2, Z: 2}).Distance(Vec3{}); got != 3 {
		t.Fatalf("Distance: want=3 got=%v", got)
	}
}

func TestVec3Clamp(t *testing.T) {
	got := Vec3{X: 1e9, Y: -1e9, Z: 3}.Clamp(100)
	want := Vec3{X: 100, Y: -100, Z: 3}
	if got != want {
		t.Fatalf("Clamp: want=%+v got=%+v", want, got)
	}
}

func TestChatLineValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"valid", "hello", nil},
		{"empty", " ", ErrChatBodyEmpty},
		{"too long", strings.Repeat("x", ChatMaxBodyLength+1), ErrChatBodyTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := ChatLine{Body: tt.body}
			if err := line.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSessionClone(t *testing.T) {
	s := Session{ID: "a", Equipment: map[string]string{"weapon": "sword"}}
	c := s.Clone()
	c.Equipment["weapon"] = "axe"
	if s.Equipment["weapon"] != "sword" {
		t.Fatalf("Clone shares equipment map with original")
	}
	if (Session{}).Identified() {
		t.Fatalf("Identified: zero session must not be identified")
	}
}
