package middleware

import (
	"net/http"
)

// Limiter caps the number of requests served at once. Requests beyond
// the cap are rejected rather than queued.
type Limiter struct {
	inflight chan struct{}
}

func NewLimiter(maxInflight int) *Limiter {
	if maxInflight < 1 {
		maxInflight = 1
	}
	return &Limiter{inflight: make(chan struct{}, maxInflight)}
}

func (l *Limiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case l.inflight <- struct{}{}:
		default:
			http.Error(w, "server busy", http.StatusServiceUnavailable)
			return
		}
		defer func() { <-l.inflight }()
		next.ServeHTTP(w, r)
	})
}
