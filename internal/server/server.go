// Package server exposes the sync API consumed by mealtrack clients.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"mealtrack/internal/cache"
	"mealtrack/internal/core"
	"mealtrack/internal/kv"
	"mealtrack/internal/log"
)

const maxBodyBytes = 1 << 20

type Server struct {
	http.Server
	store       kv.Store
	logger      *log.Logger
	rateLimiter *rateLimiter

	// payloadCache keeps recently served bundles off the database.
	payloadCache     *cache.LRU[[]byte]
	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

// NewServer configures routes on top of the given store, returning a
// ready-to-run http.Server.
func NewServer(addr string, store kv.Store, logger *log.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		store:            store,
		logger:           logger.WithComponent(log.ComponentServer),
		rateLimiter:      newRateLimiter(),
		payloadCache:     cache.NewLRU[[]byte](500, 5*time.Minute),
		stopCacheCleanup: make(chan struct{}),
	}

	go s.startCacheCleanup()

	mux.HandleFunc("/api/data", s.withRequestContext(s.handleData))
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	return s
}

// startCacheCleanup periodically drops expired payloads.
func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if cleaned := s.payloadCache.CleanExpired(); cleaned > 0 {
				s.logger.Debug("Cache cleanup completed", "entries_removed", cleaned)
			}
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// Shutdown stops the cleanup goroutines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		close(s.stopCacheCleanup)
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleFetch(w, r)
	case http.MethodPost:
		s.handleStore(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, core.ErrMissingUserID.Error())
		return
	}

	if payload, ok := s.payloadCache.Get(userID); ok {
		writeRaw(w, http.StatusOK, payload)
		return
	}

	payload, err := s.store.Get(r.Context(), userID)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Bundle read failed",
			log.FieldUserID, userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read data")
		return
	}
	if payload == nil {
		// No data yet for this user. Clients treat {} as "start fresh".
		writeRaw(w, http.StatusOK, []byte("{}"))
		return
	}
	s.payloadCache.Set(userID, payload)
	writeRaw(w, http.StatusOK, payload)
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, core.ErrMissingUserID.Error())
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "request body must be valid JSON")
		return
	}

	// Last write wins. The payload is stored as sent, so clients of
	// different versions can round-trip fields this server ignores.
	if err := s.store.Put(r.Context(), userID, body); err != nil {
		s.logger.ErrorContext(r.Context(), "Bundle write failed",
			log.FieldUserID, userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to save data")
		return
	}
	s.payloadCache.Set(userID, body)

	s.logger.InfoContext(r.Context(), "Bundle stored",
		log.FieldUserID, userID, "bytes", len(body))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Get(r.Context(), "__readyz__"); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
