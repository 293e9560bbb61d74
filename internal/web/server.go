package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ssuji15/trainpool/internal/cache"
	"github.com/ssuji15/trainpool/internal/db/repository"
	"github.com/ssuji15/trainpool/internal/server"
	limiter "github.com/ssuji15/trainpool/internal/web/middleware"
	"github.com/ssuji15/trainpool/model"
)

// Pool is the part of the training server the admin API reports on.
type Pool interface {
	Workers() []server.WorkerInfo
	Cache() cache.Cache
}

// Runs lists persisted training runs.
type Runs interface {
	ListRuns(ctx context.Context, datasetHash string, limit int) ([]*model.Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (*model.Run, error)
}

type Server struct {
	router chi.Router
	pool   Pool
	runs   Runs
}

// NewServer builds the admin API. runs may be nil when no database is
// configured.
func NewServer(pool Pool, runs Runs) *Server {
	s := &Server{
		router: chi.NewRouter(),
		pool:   pool,
		runs:   runs,
	}

	s.routes()
	return s
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(limiter.NewLimiter(16).Limit)

	r.Get("/healthz", s.handleHealth)
	r.Get("/workers", s.handleWorkers)
	r.Get("/datasets", s.handleListDatasets)
	r.Get("/datasets/{hash}", s.handleGetDataset)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
}

type datasetInfo struct {
	Hash     string   `json:"hash"`
	Rows     int      `json:"rows"`
	Columns  []string `json:"columns"`
	Response string   `json:"response"`
	Classes  []string `json:"classes"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "workers": len(s.pool.Workers())})
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.pool.Workers())
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	hashes, err := s.pool.Cache().Hashes(ctx)
	if err != nil {
		http.Error(w, "failed to list datasets: "+err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]string, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, h.String())
	}
	writeJSON(w, out)
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h, err := model.ParseHash(chi.URLParam(r, "hash"))
	if err != nil {
		http.Error(w, "invalid hash: "+err.Error(), http.StatusBadRequest)
		return
	}
	d, err := s.pool.Cache().Find(ctx, h)
	if err != nil {
		http.Error(w, "failed to get dataset: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if d == nil {
		http.Error(w, "dataset not found", http.StatusNotFound)
		return
	}

	info := datasetInfo{Hash: d.Hash.String(), Rows: d.Rows, Response: d.Response.Name, Classes: d.Response.Classes}
	for _, c := range d.Columns {
		info.Columns = append(info.Columns, c.Name)
	}
	writeJSON(w, info)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "run history is not configured", http.StatusNotFound)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.runs.ListRuns(ctx, r.URL.Query().Get("dataset"), limit)
	if err != nil {
		http.Error(w, "failed to list runs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	writeJSON(w, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "run history is not configured", http.StatusNotFound)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	run, err := s.runs.GetRun(ctx, id)
	if errors.Is(err, repository.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to get run: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, run)
}
