package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ssuji15/trainpool/model"
)

// Strategy trains a prediction program from a dataset. Implementations
// must be deterministic for a given dataset and should return promptly
// once ctx is done.
type Strategy interface {
	Name() string
	Train(ctx context.Context, d *model.Dataset) (*model.Code, error)
}

var ErrEmptyDataset = errors.New("strategy: dataset has no rows")

// Registry maps strategy names to implementations. It is safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Default returns a registry holding the built-in strategies.
func Default() *Registry {
	r := NewRegistry()
	r.MustRegister(Majority{})
	r.MustRegister(Stump{})
	return r
}

func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Name() == "" {
		return fmt.Errorf("strategy: empty name")
	}
	if _, ok := r.strategies[s.Name()]; ok {
		return fmt.Errorf("strategy: %q already registered", s.Name())
	}
	r.strategies[s.Name()] = s
	return nil
}

func (r *Registry) MustRegister(s Strategy) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
