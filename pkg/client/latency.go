package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	pb "github.com/NicolasHaas/pixelsync/pkg/protocol/pb"
)

const (
	DefaultPingInterval = time.Second
	DefaultMaxPending   = 16
)

// Prober issues periodic pings and turns the matching pongs into
// round-trip times. It never disconnects on its own.
type Prober struct {
	mu         sync.Mutex
	interval   time.Duration
	maxPending int
	pending    map[string]time.Time
	order      []string // send order, oldest first
	lastSent   time.Time
	last       time.Duration
	smoothed   time.Duration
	newID      func() string
}

// NewProber creates a prober. Non-positive values take the defaults.
func NewProber(interval time.Duration, maxPending int) *Prober {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Prober{
		interval:   interval,
		maxPending: maxPending,
		pending:    make(map[string]time.Time),
		newID:      uuid.NewString,
	}
}

// Tick returns a ping to send when Interval has passed since the last one.
// The oldest pending ping is forgotten once MaxPending are outstanding.
func (p *Prober) Tick(now time.Time) (pb.Ping, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.lastSent.IsZero() && now.Sub(p.lastSent) < p.interval {
		return pb.Ping{}, false
	}
	for len(p.order) >= p.maxPending {
		delete(p.pending, p.order[0])
		p.order = p.order[1:]
	}
	id := p.newID()
	p.pending[id] = now
	p.order = append(p.order, id)
	p.lastSent = now
	return pb.Ping{PingID: id}, true
}

// Ack matches a pong. It reports false for unknown or already-acked ids.
func (p *Prober) Ack(pingID string, now time.Time) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sent, ok := p.pending[pingID]
	if !ok {
		return 0, false
	}
	delete(p.pending, pingID)
	for i, id := range p.order {
		if id == pingID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}

	rtt := max(now.Sub(sent), 0)
	p.last = rtt
	if p.smoothed == 0 {
		p.smoothed = rtt
	} else {
		// RFC 6298 smoothing, alpha = 1/8.
		p.smoothed += (rtt - p.smoothed) / 8
	}
	return rtt, true
}

// Reset discards pending pings and restarts the interval.
func (p *Prober) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.pending)
	p.order = nil
	p.lastSent = time.Time{}
}

// RTT returns the last and smoothed round-trip times (zero before the first pong).
func (p *Prober) RTT() (last, smoothed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.smoothed
}

// Pending returns the number of unanswered pings.
func (p *Prober) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
