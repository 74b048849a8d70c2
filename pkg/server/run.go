package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NicolasHaas/pixelsync/pkg/protocol"
	pb "github.com/NicolasHaas/pixelsync/pkg/protocol/pb"
	"github.com/NicolasHaas/pixelsync/pkg/version"
)

const shutdownGrace = 5 * time.Second

// Run starts the server and blocks until SIGINT or SIGTERM.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve listens on Config.Addr and serves until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves websocket clients on ln, the admin endpoint, the
// status log and the idle reaper until ctx is cancelled or one of them fails.
// On return every client has been notified and disconnected and the chat
// journal is closed.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	defer func() { _ = s.chat.Close() }()

	g, gctx := errgroup.WithContext(ctx)

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		s.log.Info("pixelsync server running",
			"addr", ln.Addr().String(),
			"build", version.Full(),
			"max_players_per_room", s.cfg.MaxRoomCapacity,
		)
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: serve: %w", err)
		}
		return nil
	})

	admin := s.adminServer()
	if admin != nil {
		g.Go(func() error {
			s.log.Info("admin HTTP listening", "addr", admin.Addr)
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server: admin: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		s.statusLoop(gctx)
		return nil
	})
	g.Go(func() error {
		s.reapLoop(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down...")
		s.Shutdown()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = httpSrv.Shutdown(sctx)
		if admin != nil {
			_ = admin.Shutdown(sctx)
		}
		s.waitConns(sctx)
		return nil
	})

	return g.Wait()
}

// Shutdown sends every client a system notice and closes its connection.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.closing.Store(true)
		s.cancel()

		frame, err := protocol.Encode(pb.System{Message: "Server shutting down"})
		if err != nil {
			s.log.Error("encode shutdown notice", "err", err)
		}
		for _, c := range s.sessions.Conns(nil) {
			if frame != nil {
				_ = c.Send(frame)
			}
			_ = c.Close()
		}
	})
}

func (s *Server) waitConns(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("connections still open after shutdown grace period", "sessions", s.sessions.Count())
	}
}

// statusLoop logs occupancy every StatusInterval and prunes the chat journal.
func (s *Server) statusLoop(ctx context.Context) {
	if s.cfg.StatusInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logStatus()
			s.pruneChat()
		}
	}
}

func (s *Server) logStatus() {
	rooms := s.rooms.List()
	occupancy := make([]string, len(rooms))
	for i, r := range rooms {
		occupancy[i] = fmt.Sprintf("%s(%d/%d)", r.Name, r.MemberCount, r.Capacity)
	}
	m := s.metrics.Snapshot()
	s.log.Info("status",
		"uptime", m.Uptime,
		"sessions", s.sessions.Count(),
		"rooms", len(rooms),
		"occupancy", strings.Join(occupancy, " "),
		"frames_in", m.FramesIn,
		"frames_out", m.FramesOut,
		"malformed", m.MalformedFrames,
		"chat_msgs", m.ChatRelayed,
	)
}

func (s *Server) pruneChat() {
	if s.cfg.ChatRetention <= 0 {
		return
	}
	n, err := s.chat.PruneChat(s.cfg.ChatRetention)
	if err != nil {
		s.log.Warn("chat journal prune failed", "err", err)
		return
	}
	if n > 0 {
		s.log.Debug("pruned chat journal", "removed", n)
	}
}

// reapLoop evicts sessions that sent nothing for IdleTimeout.
func (s *Server) reapLoop(ctx context.Context) {
	if s.cfg.IdleTimeout <= 0 {
		return
	}
	interval := max(s.cfg.IdleTimeout/2, 100*time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.reapIdle(now)
		}
	}
}

// reapIdle disconnects every session idle at now and returns how many.
func (s *Server) reapIdle(now time.Time) int {
	idle := s.sessions.Idle(now.Add(-s.cfg.IdleTimeout))
	for _, c := range idle {
		s.log.Info("evicting idle session", "remote", c.RemoteAddr(), "timeout", s.cfg.IdleTimeout)
		s.Disconnect(c, reasonIdle)
	}
	return len(idle)
}
