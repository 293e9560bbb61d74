package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// worker is one connection being served.
type worker struct {
	id      uuid.UUID
	remote  string
	started time.Time
	conn    net.Conn
	cancel  context.CancelFunc

	mu      sync.Mutex
	request string
	killed  bool
}

func (w *worker) setRequest(op string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.request = op
}

// kill cancels the handler and closes its connection. It reports whether
// this call did the killing.
func (w *worker) kill() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.killed {
		return false
	}
	w.killed = true
	w.conn.Close()
	w.cancel()
	return true
}

// WorkerInfo is a point-in-time view of a worker slot.
type WorkerInfo struct {
	ID      string    `json:"id"`
	Remote  string    `json:"remote"`
	Request string    `json:"request,omitempty"`
	Started time.Time `json:"started"`
	Killed  bool      `json:"killed"`
}

func (w *worker) info() WorkerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerInfo{
		ID:      w.id.String(),
		Remote:  w.remote,
		Request: w.request,
		Started: w.started,
		Killed:  w.killed,
	}
}

// finished is posted by a handler when it returns.
type finished struct {
	id     uuid.UUID
	reason string
}
