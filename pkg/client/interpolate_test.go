package client

import (
	"math"
	"testing"
	"time"

	"github.com/NicolasHaas/pixelsync/pkg/model"
)

func TestInterpolatorConverges(t *testing.T) {
	tests := []struct {
		name  string
		delay time.Duration
		step  time.Duration
	}{
		{"frame steps", 100 * time.Millisecond, 16 * time.Millisecond},
		{"uneven steps", 100 * time.Millisecond, 7 * time.Millisecond},
		{"step larger than delay", 100 * time.Millisecond, 250 * time.Millisecond},
		{"snap", 0, 16 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			ip := NewInterpolator(reg, tt.delay)
			reg.Upsert("p", EntityUpdate{Position: vec(0, 0, 0)})
			reg.Upsert("p", EntityUpdate{Position: vec(10, -20, 5), Rotation: vec(0, math.Pi, 0)})
			target := model.Vec3{X: 10, Y: -20, Z: 5}

			prev := 0.0
			var elapsed time.Duration
			for {
				ip.Update(tt.step)
				elapsed += tt.step
				e, _ := reg.Get("p")
				covered := e.Displayed.Position.Distance(model.Vec3{})
				if covered < prev {
					t.Fatalf("not monotonic at %v: %v < %v", elapsed, covered, prev)
				}
				if covered > target.Len()+1e-9 {
					t.Fatalf("overshoot at %v: %v", elapsed, covered)
				}
				prev = covered
				if elapsed >= tt.delay {
					break
				}
			}

			e, _ := reg.Get("p")
			if e.Displayed != e.Target {
				t.Fatalf("not converged after %v: displayed=%+v target=%+v", elapsed, e.Displayed, e.Target)
			}
		})
	}
}

func TestInterpolatorReachesTargetAtDelay(t *testing.T) {
	reg := NewRegistry()
	ip := NewInterpolator(reg, time.Second)
	reg.Upsert("p", EntityUpdate{Position: vec(0, 0, 0)})
	reg.Upsert("p", EntityUpdate{Position: vec(10, 0, 0)})

	for step := 1; step <= 10; step++ {
		ip.Update(100 * time.Millisecond)
		e, _ := reg.Get("p")
		if x := e.Displayed.Position.X; x < 0 || x > 10 {
			t.Fatalf("step %d: want 0 <= x <= 10 got %v", step, x)
		}
		if step < 10 && e.Displayed == e.Target {
			t.Fatalf("step %d: reached target before the delay elapsed", step)
		}
	}

	e, _ := reg.Get("p")
	want := model.Vec3{X: 10}
	if e.Displayed.Position != want || e.Displayed != e.Target {
		t.Fatalf("after 1s: want=%+v got=%+v", want, e.Displayed.Position)
	}
}

func TestInterpolatorLinear(t *testing.T) {
	reg := NewRegistry()
	ip := NewInterpolator(reg, 100*time.Millisecond)
	reg.Upsert("p", EntityUpdate{Position: vec(0, 0, 0)})
	reg.Upsert("p", EntityUpdate{Position: vec(100, 0, 0)})

	ip.Update(25 * time.Millisecond)
	e, _ := reg.Get("p")
	if math.Abs(e.Displayed.Position.X-25) > 1e-9 {
		t.Fatalf("after 25ms: want=25 got=%v", e.Displayed.Position.X)
	}
	ip.Update(25 * time.Millisecond)
	e, _ = reg.Get("p")
	if math.Abs(e.Displayed.Position.X-50) > 1e-9 {
		t.Fatalf("after 50ms: want=50 got=%v", e.Displayed.Position.X)
	}

	// A new target restarts the window from the displayed position.
	reg.Upsert("p", EntityUpdate{Position: vec(150, 0, 0)})
	ip.Update(50 * time.Millisecond)
	e, _ = reg.Get("p")
	if math.Abs(e.Displayed.Position.X-100) > 1e-9 {
		t.Fatalf("retarget: want=100 got=%v", e.Displayed.Position.X)
	}
	ip.Update(50 * time.Millisecond)
	e, _ = reg.Get("p")
	if e.Displayed.Position.X != 150 {
		t.Fatalf("retarget: want=150 got=%v", e.Displayed.Position.X)
	}
}
