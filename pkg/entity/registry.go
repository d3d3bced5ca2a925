package entity

import (
	"fmt"
	"sort"
	"sync"

	"github.com/provisor/provisor/pkg/gateway"
	"github.com/provisor/provisor/pkg/secrets"
	"github.com/rs/zerolog"
)

// Deps are the collaborators injected into every entity instance.
// Entities never resolve these from global scope; tests construct them
// with fakes.
type Deps struct {
	Gateway gateway.Gateway
	Secrets secrets.Store
	Logger  zerolog.Logger
}

// Spec is the construction input for one entity instance: the raw
// definition from the manifest, the persisted state record, and the
// invocation context labels.
type Spec struct {
	Path       string
	Definition map[string]any
	State      map[string]string
	Metadata   Metadata
}

// Factory builds an entity instance of one type. Implementations decode
// and validate the raw definition into their typed definition struct.
type Factory func(deps Deps, spec Spec) (*Core, error)

// Registry maps entity type names to factories. Entity type packages
// register themselves at init; the orchestrator looks types up by the
// manifest's type field.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds an entity type. Registering a duplicate name is an
// error: two packages claiming one type is a wiring bug, not a policy
// decision the registry should make.
func (r *Registry) Register(name string, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("factory for entity type %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("entity type %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// MustRegister registers and panics on error, for package init wiring.
func (r *Registry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the factory for an entity type name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[name]
	return factory, ok
}

// New constructs an instance of the named type.
func (r *Registry) New(name string, deps Deps, spec Spec) (*Core, error) {
	factory, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", name)
	}
	return factory(deps, spec)
}

// Types returns the registered type names, lexicographically sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// defaultRegistry backs the package-level registration helpers used by
// entity type packages in their init functions.
var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds an entity type to the default registry.
func Register(name string, factory Factory) error {
	return defaultRegistry.Register(name, factory)
}

// MustRegister adds an entity type to the default registry, panicking
// on duplicates.
func MustRegister(name string, factory Factory) {
	defaultRegistry.MustRegister(name, factory)
}
