package client

import "time"

// DefaultInterpolationDelay is the time a remote entity takes to reach a
// new target.
const DefaultInterpolationDelay = 100 * time.Millisecond

// Interpolator moves each entity's displayed transform toward its target.
type Interpolator struct {
	Delay time.Duration
	reg   *Registry
}

// NewInterpolator creates an interpolator over reg.
func NewInterpolator(reg *Registry, delay time.Duration) *Interpolator {
	return &Interpolator{Delay: delay, reg: reg}
}

// Update advances every entity by dt. Each step covers dt/remaining of the
// remaining distance, where remaining is what is left of the Delay window
// since the target last changed, so motion is linear and lands exactly on
// the target once the window has elapsed. A zero Delay snaps.
func (ip *Interpolator) Update(dt time.Duration) {
	if dt < 0 {
		return
	}
	ip.reg.update(func(e *RemoteEntity) {
		if e.Displayed == e.Target {
			e.sinceTarget += dt
			return
		}
		remaining := ip.Delay - e.sinceTarget
		if remaining <= dt {
			e.Displayed = e.Target
		} else {
			e.Displayed = e.Displayed.Lerp(e.Target, float64(dt)/float64(remaining))
		}
		e.sinceTarget += dt
	})
}
