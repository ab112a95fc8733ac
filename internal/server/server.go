// Package server provides the HTTP API for registering and inspecting
// tracked items.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bryan-buckman/pricewatch/internal/database"
	"github.com/bryan-buckman/pricewatch/internal/model"
	"github.com/bryan-buckman/pricewatch/internal/tracker"
	"github.com/bryan-buckman/pricewatch/internal/wishlist"
)

// Server is the main HTTP server.
type Server struct {
	db         database.Store
	worker     *tracker.Worker
	poller     *tracker.Poller
	checkEvery int
	router     chi.Router
	httpServer *http.Server
	now        func() time.Time
}

// New creates a server. Items registered through it are checked every
// checkEvery minutes.
func New(db database.Store, worker *tracker.Worker, checkEvery int) *Server {
	s := &Server{
		db:         db,
		worker:     worker,
		poller:     tracker.NewPoller(worker),
		checkEvery: checkEvery,
		now:        func() time.Time { return time.Now().UTC() },
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/items", s.handleRegister)
		r.Get("/items/{itemID}", s.handleGetItem)
		r.Get("/items/{itemID}/history", s.handleHistory)
		r.Post("/items/{itemID}/reset", s.handleReset)
		r.Post("/import", s.handleImport)
		r.Post("/run", s.handleRun)
	})

	s.router = r
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the poller and serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.poller.Start()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("Server starting on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then stops the poller. An in-flight
// batch is abandoned uncommitted.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.poller.Stop()
	return err
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"database": s.db.DatabaseType(),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL               string `json:"url"`
		CheckEveryMinutes int    `json:"check_every_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	every := req.CheckEveryMinutes
	if every <= 0 {
		every = s.checkEvery
	}

	item, err := tracker.Register(r.Context(), s.db, req.URL, every, s.now())
	switch {
	case errors.Is(err, tracker.ErrInvalidURL):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, database.ErrDuplicateURL):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		log.Printf("Error registering %s: %v", req.URL, err)
		http.Error(w, "Failed to register", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	item, err := s.db.GetItem(r.Context(), id)
	if !s.checkLookup(w, id, err) {
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	if _, err := s.db.GetItem(r.Context(), id); !s.checkLookup(w, id, err) {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history, err := s.db.ListHistory(r.Context(), id, limit)
	if err != nil {
		log.Printf("Error listing history for item %d: %v", id, err)
		http.Error(w, "Failed to list history", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []model.PriceHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, history)
}

// handleReset clears a changed or error status after the user has looked
// at the item.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	if err := s.db.ResetItem(r.Context(), id, s.now()); !s.checkLookup(w, id, err) {
		return
	}
	item, err := s.db.GetItem(r.Context(), id)
	if !s.checkLookup(w, id, err) {
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FeedURL string `json:"feed_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FeedURL == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()
	links, err := wishlist.Fetch(ctx, req.FeedURL)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read feed: %v", err), http.StatusBadRequest)
		return
	}

	imported := 0
	for _, link := range links {
		if _, err := tracker.Register(ctx, s.db, link, s.checkEvery, s.now()); err != nil {
			if !errors.Is(err, database.ErrDuplicateURL) {
				log.Printf("Error importing %s: %v", link, err)
			}
			continue
		}
		imported++
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"imported": imported,
		"total":    len(links),
	})
}

// handleRun processes one batch immediately, or answers 409 while the
// poller is mid-cycle.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	processed, err := s.worker.TryRunOnce(ctx)
	if errors.Is(err, tracker.ErrCycleRunning) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Run error: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"processed": processed,
	})
}

// --- Helpers ---

func itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid item id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// checkLookup writes the error response for err, if any, and reports
// whether the handler should continue.
func (s *Server) checkLookup(w http.ResponseWriter, id int64, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, database.ErrNotFound):
		http.Error(w, "Item not found", http.StatusNotFound)
	default:
		log.Printf("Error loading item %d: %v", id, err)
		http.Error(w, "Lookup failed", http.StatusInternalServerError)
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
