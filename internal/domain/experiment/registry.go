package experiment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/exphub/experiment-hub/internal/domain/shared"
)

// Registry holds experiment definitions and their lifecycle state.
// Definitions are authored externally (config, admin tooling) and consumed
// here; the registry only guards their invariants.
type Registry interface {
	// Get returns the definition for name, or ErrExperimentNotFound.
	Get(ctx context.Context, name string) (*Definition, error)

	// List returns all definitions sorted by name. When activeOnly is true,
	// only experiments currently accepting traffic are returned.
	List(ctx context.Context, activeOnly bool) ([]*Definition, error)

	// Upsert validates and stores a definition. Invalid definitions are
	// rejected with a configuration error before they can affect traffic.
	Upsert(ctx context.Context, def *Definition) error

	// SetEnabled flips the enabled flag for an existing experiment.
	SetEnabled(ctx context.Context, name string, enabled bool) error
}

// InMemoryRegistry is a thread-safe in-memory Registry.
// Suitable for config-seeded deployments where definitions change rarely.
type InMemoryRegistry struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
	now         func() time.Time
}

// NewInMemoryRegistry creates an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		definitions: make(map[string]*Definition),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the registry clock. Used by tests.
func (r *InMemoryRegistry) WithNow(now func() time.Time) *InMemoryRegistry {
	r.now = now
	return r
}

// Get implements Registry.
func (r *InMemoryRegistry) Get(ctx context.Context, name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.definitions[name]
	if !ok {
		return nil, shared.ErrExperimentNotFound
	}
	return copyDefinition(def), nil
}

// List implements Registry.
func (r *InMemoryRegistry) List(ctx context.Context, activeOnly bool) ([]*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	result := make([]*Definition, 0, len(r.definitions))
	for _, def := range r.definitions {
		if activeOnly && !def.IsActiveAt(now) {
			continue
		}
		result = append(result, copyDefinition(def))
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Upsert implements Registry.
func (r *InMemoryRegistry) Upsert(ctx context.Context, def *Definition) error {
	if def == nil {
		return shared.NewDomainError("experiment", "Upsert", shared.ErrInvalidInput, "definition cannot be nil")
	}
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := copyDefinition(def)
	stored.UpdatedAt = r.now()
	r.definitions[def.Name] = stored
	return nil
}

// SetEnabled implements Registry.
func (r *InMemoryRegistry) SetEnabled(ctx context.Context, name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.definitions[name]
	if !ok {
		return shared.ErrExperimentNotFound
	}
	def.Enabled = enabled
	def.UpdatedAt = r.now()
	return nil
}

// copyDefinition returns a deep copy so callers cannot mutate stored state.
func copyDefinition(def *Definition) *Definition {
	cp := *def
	cp.Variants = make([]Variant, len(def.Variants))
	copy(cp.Variants, def.Variants)

	if def.Audience != nil {
		aud := *def.Audience
		aud.Countries = append([]string(nil), def.Audience.Countries...)
		aud.Devices = append([]string(nil), def.Audience.Devices...)
		cp.Audience = &aud
	}
	if def.Window != nil {
		win := *def.Window
		if def.Window.Start != nil {
			s := *def.Window.Start
			win.Start = &s
		}
		if def.Window.End != nil {
			e := *def.Window.End
			win.End = &e
		}
		cp.Window = &win
	}
	return &cp
}
