// Package server exposes the HTTP control API: health, pipeline status, and
// admin actions against the running scheduler.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/avoronin/newsdigest/internal/scheduler"
	"github.com/avoronin/newsdigest/internal/store"
)

// Server provides the HTTP API.
type Server struct {
	store      store.Store
	sched      *scheduler.Scheduler
	port       int
	adminToken string
	log        *logrus.Logger
}

// New creates a new HTTP server. An empty adminToken disables the mutating
// endpoints.
func New(s store.Store, sched *scheduler.Scheduler, port int, adminToken string, log *logrus.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		store:      s,
		sched:      sched,
		port:       port,
		adminToken: adminToken,
		log:        log,
	}
}

// Handler returns the route mux; split out so tests drive it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/items", s.handleItems)
	mux.HandleFunc("/api/v1/cycles", s.handleCycles)
	mux.HandleFunc("/api/v1/pause", s.requireAdmin(s.handlePause))
	mux.HandleFunc("/api/v1/resume", s.requireAdmin(s.handleResume))
	mux.HandleFunc("/api/v1/trigger", s.requireAdmin(s.handleTrigger))
	return mux
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.log.WithField("addr", addr).Info("control api listening")
	return http.ListenAndServe(addr, s.Handler())
}

// requireAdmin gates mutating endpoints behind a bearer token.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin endpoints disabled"})
			return
		}
		got := r.Header.Get("Authorization")
		want := "Bearer " + s.adminToken
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	counts, err := s.store.CountByState(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scheduler": s.sched.Status(),
		"items":     counts,
	})
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	var (
		items []store.Item
		err   error
	)
	if state := r.URL.Query().Get("state"); state != "" {
		items, err = s.store.ListByState(r.Context(), store.State(state))
	} else {
		items, err = s.store.ListItems(r.Context(), limit)
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	type itemInfo struct {
		Source    string `json:"source"`
		Key       string `json:"key"`
		Title     string `json:"title"`
		URL       string `json:"url"`
		State     string `json:"state"`
		FetchedAt string `json:"fetched_at"`
	}
	infos := make([]itemInfo, 0, len(items))
	for _, item := range items {
		infos = append(infos, itemInfo{
			Source:    item.Source,
			Key:       item.ItemKey,
			Title:     item.Title,
			URL:       item.URL,
			State:     string(item.State),
			FetchedAt: item.FetchedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  infos,
		"count": len(infos),
	})
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	cycles, err := s.store.ListCycles(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  cycles,
		"count": len(cycles),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	s.sched.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	s.sched.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if s.sched.Paused() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "scheduler is paused"})
		return
	}
	if !s.sched.TriggerNow() {
		writeJSON(w, http.StatusConflict, map[string]any{
			"accepted": false,
			"error":    "a cycle trigger is already queued",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
