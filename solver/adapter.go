// Package solver dispatches assembled mixed-integer linear programs to a
// pluggable backend under a wall-clock and optimality-gap budget, and
// classifies the outcome into a closed status set. The built-in backend is a
// branch-and-bound over a dense simplex; external engines can be registered
// under their own names.
package solver

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Backend solves one MILP. Implementations must be safe for use by
// independent problems from separate goroutines.
type Backend interface {
	Solve(ctx context.Context, p *Problem, opts Options) (*Result, error)
}

// DefaultBackend is the name every unknown solver identity falls back to.
const DefaultBackend = "bnb"

var (
	registryMu sync.RWMutex
	registry   = map[string]Backend{
		DefaultBackend: NewBranchAndBound(),
	}
)

// Register makes a backend available under the given name, replacing any
// previous registration.
func Register(name string, b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = b
}

// Lookup returns the backend registered under name.
func Lookup(name string) (Backend, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := registry[name]
	return b, ok
}

// Names returns the sorted identities of all registered backends.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run dispatches p to the named backend. Backend crashes and errors are
// reported as an Infeasible result with a logged warning rather than
// propagated: a crashed solver and a genuinely infeasible model are
// indistinguishable to the caller and neither may break the pipeline.
func Run(ctx context.Context, log zerolog.Logger, name string, p *Problem, opts Options) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("solver backend crashed; reporting problem as infeasible")
			res = &Result{Status: StatusInfeasible}
		}
	}()

	backend, ok := Lookup(name)
	if !ok {
		log.Warn().Str("solver", name).Str("fallback", DefaultBackend).Msg("unknown solver backend")
		backend, _ = Lookup(DefaultBackend)
	}
	out, err := backend.Solve(ctx, p, opts)
	if err != nil {
		log.Warn().Err(err).Msg("solver raised an error; considering problem as infeasible")
		return &Result{Status: StatusInfeasible}
	}
	return out
}
