// Package strategy provides the strategy callback contract and the
// built-in strategies.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/stratos-labs/quant-backend/pkg/types"
)

// Strategy is the contract the simulation loop (and the live router)
// drives. OnBar receives the symbol's current bar and its trailing
// history window, and returns zero or more decisions; nil means no
// action. OnFill is invoked once per committed fill, after the fill is
// recorded. Initialize and OnStop bracket a run exactly once each.
//
// A reused instance must reset all internal state in Initialize;
// carrying state across runs corrupts optimization results.
type Strategy interface {
	Name() string
	Initialize() error
	OnBar(symbol string, bar types.OHLCV, history []types.OHLCV) ([]types.Decision, error)
	OnFill(trade types.Trade)
	OnStop()
}

// Factory constructs a fresh strategy instance with default parameters.
type Factory func(logger *zap.Logger) Strategy

// Registry is an explicit map of strategy factories constructed at
// startup. Nothing registers itself via package init.
type Registry struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in strategies.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger:    logger,
		factories: make(map[string]Factory),
	}
	r.Register("sma_cross", func(l *zap.Logger) Strategy {
		s, _ := NewSMACross(DefaultSMACrossConfig(), l)
		return s
	})
	r.Register("momentum", func(l *zap.Logger) Strategy {
		s, _ := NewMomentum(DefaultMomentumConfig(), l)
		return s
	})
	r.Register("rebalance", func(l *zap.Logger) Strategy {
		s, _ := NewRebalance(DefaultRebalanceConfig(), l)
		return s
	})
	return r
}

// Register adds a factory under name, replacing any existing one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Create builds a fresh instance of the named strategy.
func (r *Registry) Create(name string) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return f(r.logger), nil
}

// List returns all registered strategy names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
