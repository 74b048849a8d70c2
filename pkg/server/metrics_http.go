package server

import (
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NicolasHaas/pixelsync/pkg/model"
)

// adminServer builds the admin HTTP server on Config.MetricsAddr, or nil
// when disabled.
func (s *Server) adminServer() *http.Server {
	if s.cfg.MetricsAddr == "" {
		return nil
	}
	return &http.Server{
		Addr:              s.cfg.MetricsAddr,
		Handler:           s.AdminHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// AdminHandler serves /metrics, /healthz, /rooms and /chat.
func (s *Server) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/rooms", s.handleRoomsExport)
	mux.HandleFunc("/chat", s.handleChatExport)
	return mux
}

func (s *Server) handleRoomsExport(w http.ResponseWriter, _ *http.Request) {
	data, err := ExportRoomsYAML(s.rooms.List())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(data)
}

// handleChatExport returns recent journal lines as JSON, newest first.
// Query: room=<id>, sender=<id>, limit=<n> (default 50, max 500).
func (s *Server) handleChatExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filters model.ChatFilters
	if room := q.Get("room"); room != "" {
		filters.LimitToRoomID = &room
	}
	if sender := q.Get("sender"); sender != "" {
		filters.LimitToSenderID = &sender
	}
	limit := int64(50)
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}
	filters.PageSize = &limit

	lines, err := s.chat.ListChat(filters)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if lines == nil {
		lines = []model.ChatLine{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w).Encode(lines)
}
