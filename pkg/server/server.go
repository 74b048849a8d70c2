// Package server implements the pixelsync room and state relay server.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/pixelsync/pkg/datastore"
	"github.com/NicolasHaas/pixelsync/pkg/logging"
	"github.com/NicolasHaas/pixelsync/pkg/store"
)

// Server is the main pixelsync server. Each instance owns its registries,
// so several servers can run side by side in one process.
type Server struct {
	cfg      Config
	sessions *SessionRegistry
	rooms    *RoomRegistry
	metrics  *Metrics
	chat     datastore.DataStore
	upgrader websocket.Upgrader
	log      *slog.Logger
	now      func() time.Time

	ctx          context.Context
	cancel       context.CancelFunc
	closing      atomic.Bool
	shutdownOnce sync.Once
	conns        sync.WaitGroup // live connection handlers
}

// New creates a new Server instance. A nil Dependencies.Chat falls back to
// an in-memory journal.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	chat := deps.Chat
	if chat == nil {
		chat = store.NewMemory()
	}

	sessions := NewSessionRegistry()
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		rooms:    NewRoomRegistry(cfg.MaxRoomCapacity, sessions),
		metrics:  NewMetrics(),
		chat:     chat,
		log:      logging.Component("server"),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.metrics.registerGauges(s.sessions.Count, s.rooms.Count)
	return s
}

// Sessions returns the session registry.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

// Rooms returns the room registry.
func (s *Server) Rooms() *RoomRegistry {
	return s.rooms
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Config returns the server configuration.
func (s *Server) Config() Config {
	return s.cfg
}

// Handler returns the websocket endpoint mounted at Config.Path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	path := s.cfg.Path
	if path == "" {
		path = "/"
	}
	mux.HandleFunc(path, s.serveWS)
	return mux
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin) || slices.Contains(s.cfg.AllowedOrigins, "*")
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if s.closing.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(s.cfg.MaxFrameBytes)

	c := newWSConn(ws, s.cfg.SendQueue)
	go c.writeLoop()

	s.serveConn(c, func() ([]byte, error) {
		for {
			kind, data, err := ws.ReadMessage()
			if err != nil {
				return nil, err
			}
			if kind == websocket.TextMessage {
				return data, nil
			}
			s.metrics.MalformedFrames.Inc()
		}
	})
}

// serveConn runs one connection: a reader goroutine feeds a bounded queue
// that this goroutine drains in order, then cleans up.
func (s *Server) serveConn(c Conn, next func() ([]byte, error)) {
	s.conns.Add(1)
	defer s.conns.Done()

	sess := s.Open(c)
	s.log.Debug("connection opened", "session", sess.ID, "remote", c.RemoteAddr())

	inbound := make(chan []byte, s.cfg.RecvQueue)
	go func() {
		defer close(inbound)
		for {
			frame, err := next()
			if err != nil {
				return
			}
			select {
			case inbound <- frame:
			case <-s.ctx.Done():
				return
			}
		}
	}()

	for frame := range inbound {
		s.HandleFrame(c, frame)
	}
	s.Disconnect(c, reasonClosed)
}
