package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/ssuji15/trainpool/internal/cache"
	"github.com/ssuji15/trainpool/internal/config"
	"github.com/ssuji15/trainpool/internal/service/logger"
	"github.com/ssuji15/trainpool/internal/strategy"
	"github.com/ssuji15/trainpool/model"
)

var ErrServerClosed = errors.New("server: closed")

// Trainer runs one training attempt. sandbox.Runner implements it.
type Trainer interface {
	Train(ctx context.Context, strategy string, d *model.Dataset) (*model.Code, int64, error)
}

// Fetcher retrieves a dataset from a peer. client.Client implements it.
type Fetcher interface {
	FetchDataset(ctx context.Context, host string, port int, h model.Hash) (*model.Dataset, error)
}

// Recorder persists training runs. repository.RunRepository implements it.
type Recorder interface {
	RecordRuns(ctx context.Context, runs []*model.Run) error
}

// Server answers training and dataset requests. It is constructed once
// and shared by every connection handler.
type Server struct {
	cfg      *config.ServerConfig
	cache    cache.Cache
	registry *strategy.Registry
	trainer  Trainer
	fetcher  Fetcher
	recorder Recorder

	mu      sync.Mutex
	workers map[uuid.UUID]*worker
	ln      net.Listener
	cancel  context.CancelFunc
	served  chan struct{}

	handlers sync.WaitGroup
	done     chan finished
}

func New(cfg *config.ServerConfig, c cache.Cache, reg *strategy.Registry, trainer Trainer, fetcher Fetcher) *Server {
	return &Server{
		cfg:      cfg,
		cache:    c,
		registry: reg,
		trainer:  trainer,
		fetcher:  fetcher,
		workers:  make(map[uuid.UUID]*worker),
		done:     make(chan finished, cfg.NUMBER_OF_REMOTE_WORKERS),
	}
}

// WithRecorder makes the server persist every TRAIN_MODEL outcome.
func (s *Server) WithRecorder(r Recorder) *Server {
	s.recorder = r
	return s
}

func (s *Server) Cache() cache.Cache {
	return s.cache
}

// ListenAndServe binds the configured port and serves until ctx is done
// or Shutdown is called. A bind failure is returned immediately.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.LISTEN_PORT))
	if err != nil {
		return fmt.Errorf("server: bind port %d: %w", s.cfg.LISTEN_PORT, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln. Before each accept it waits for a free
// worker slot, killing workers that outlived REMOTE_WORKER_TIMEOUT.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.ln != nil {
		s.mu.Unlock()
		cancel()
		return errors.New("server: already serving")
	}
	s.ln = ln
	s.cancel = cancel
	s.served = make(chan struct{})
	s.mu.Unlock()
	defer close(s.served)

	log := logger.FromContext(ctx)
	log.Info().Str("addr", ln.Addr().String()).Int("workers", s.cfg.NUMBER_OF_REMOTE_WORKERS).Msg("training server listening")

	reaped := make(chan struct{})
	go s.reap(log, reaped)
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		if err := s.admit(ctx); err != nil {
			break
		}
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			log.Error().Err(err).Msg("accept failed")
			time.Sleep(5 * time.Millisecond)
			continue
		}
		s.spawn(ctx, conn)
	}

	cancel()
	s.mu.Lock()
	for _, w := range s.workers {
		w.kill()
	}
	s.mu.Unlock()
	s.handlers.Wait()
	close(s.done)
	<-reaped
	log.Info().Msg("training server stopped")
	return nil
}

// Shutdown stops accepting, kills running workers and waits for Serve to
// return or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel, served := s.cancel, s.served
	s.mu.Unlock()
	if cancel == nil {
		return ErrServerClosed
	}
	cancel()
	select {
	case <-served:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// admit blocks while the worker table is full.
func (s *Server) admit(ctx context.Context) error {
	for {
		if s.sweep(ctx) < s.cfg.NUMBER_OF_REMOTE_WORKERS {
			return nil
		}
		t := time.NewTimer(s.cfg.ADMISSION_POLL)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// sweep kills workers older than the configured timeout and returns the
// number of occupied slots. Killed workers keep their slot until the
// reaper removes them.
func (s *Server) sweep(ctx context.Context) int {
	log := logger.FromContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workers {
		if time.Since(w.started) > s.cfg.REMOTE_WORKER_TIMEOUT && w.kill() {
			log.Warn().Str("worker", w.id.String()).Dur("age", time.Since(w.started)).Msg("killing stale worker")
		}
	}
	return len(s.workers)
}

func (s *Server) spawn(ctx context.Context, conn net.Conn) {
	wctx, cancel := context.WithCancel(ctx)
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	w := &worker{
		id:      id,
		remote:  conn.RemoteAddr().String(),
		started: time.Now(),
		conn:    conn,
		cancel:  cancel,
	}
	wlog := logger.FromContext(ctx).With().Str("worker", id.String()).Logger()
	wctx = logger.WithContext(wctx, wlog)

	s.mu.Lock()
	s.workers[id] = w
	s.mu.Unlock()

	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		reason := s.handle(wctx, w)
		w.kill()
		s.done <- finished{id: id, reason: reason}
	}()
}

// reap removes finished workers from the table.
func (s *Server) reap(log zerolog.Logger, reaped chan<- struct{}) {
	defer close(reaped)
	for f := range s.done {
		s.mu.Lock()
		delete(s.workers, f.id)
		s.mu.Unlock()
		log.Info().Msgf("worker %s: finished (%s)", f.id, f.reason)
	}
}

// Workers returns the occupied slots, oldest first.
func (s *Server) Workers() []WorkerInfo {
	s.mu.Lock()
	out := make([]WorkerInfo, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.info())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}
