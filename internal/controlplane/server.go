// Package controlplane serves read-only operator endpoints: process stats and
// the recorded turn history.
package controlplane

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/responses-relay/internal/storage"
)

const maxListLimit = 200

type Server struct {
	router    *chi.Mux
	startTime time.Time
	store     storage.TurnStore
}

// NewServer returns the admin router. store may be nil when turn history is
// disabled; the turn routes then answer 503.
func NewServer(store storage.TurnStore) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		startTime: time.Now(),
		store:     store,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/stats", s.handleStats)
	s.router.Get("/turns", s.handleListTurns)
	s.router.Get("/turns/{turn_id}", s.handleTurnDetail)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type StatsResponse struct {
	Uptime       string      `json:"uptime"`
	GoVersion    string      `json:"go_version"`
	NumGoroutine int         `json:"num_goroutine"`
	Memory       MemoryStats `json:"memory"`
	Storage      bool        `json:"storage"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeJSON(w, StatsResponse{
		Uptime:       time.Since(s.startTime).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
		Storage: s.store != nil,
	})
}

// TurnListResponse is one page of turn records.
type TurnListResponse struct {
	Turns  []*storage.TurnRecord `json:"turns"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "storage not configured", http.StatusServiceUnavailable)
		return
	}

	limit := storage.DefaultListLimit
	offset := 0

	if q := r.URL.Query().Get("limit"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 && v <= maxListLimit {
			limit = v
		}
	}

	if q := r.URL.Query().Get("offset"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v >= 0 {
			offset = v
		}
	}

	status := storage.TurnStatus(r.URL.Query().Get("status"))
	switch status {
	case "", storage.TurnStatusCompleted, storage.TurnStatusFailed, storage.TurnStatusCanceled:
	default:
		http.Error(w, "invalid status filter", http.StatusBadRequest)
		return
	}

	turns, err := s.store.ListTurns(r.Context(), storage.ListOptions{
		Limit:  limit,
		Offset: offset,
		Status: status,
	})
	if err != nil {
		http.Error(w, "failed to list turns: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, TurnListResponse{Turns: turns, Limit: limit, Offset: offset})
}

func (s *Server) handleTurnDetail(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "storage not configured", http.StatusServiceUnavailable)
		return
	}

	turn, err := s.store.GetTurn(r.Context(), chi.URLParam(r, "turn_id"))
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "turn not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to get turn: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, turn)
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
