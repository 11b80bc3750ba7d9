package rules

import (
	"sort"
	"strings"
	"sync"
)

// Registry resolves a game type name to its Authority.
type Registry struct {
	mu    sync.RWMutex
	games map[string]Authority
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{games: make(map[string]Authority)}
}

// Builtin returns a registry with every in-process variant.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register("tictactoe", TicTacToe{})
	r.Register("chess", Chess{})
	return r
}

// Register adds or replaces a variant. Names are case-insensitive.
func (r *Registry) Register(name string, a Authority) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[normalize(name)] = a
}

// Lookup fails with ErrUnknownGame.
func (r *Registry) Lookup(name string) (Authority, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.games[normalize(name)]
	if !ok {
		return nil, ErrUnknownGame
	}
	return a, nil
}

// Names returns the registered variants, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.games))
	for n := range r.games {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
