package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Lifecycle is the operation set every entity type implements. Create
// and Update must be idempotent: before creating, implementations probe
// for an existing remote resource using an identity derived from the
// definition, and adopt it instead of creating. Delete must refuse to
// destroy adopted resources and is a no-op when state carries no
// identifying field.
type Lifecycle interface {
	Create(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Update(ctx context.Context) error
	Delete(ctx context.Context) error

	// CheckReadiness refreshes state from the provider's current facts
	// and reports whether the resource is operable. It returns false,
	// not an error, for conditions that resolve by waiting; it returns
	// an error for conditions that never will, aborting the poll loop.
	CheckReadiness(ctx context.Context) (bool, error)
}

// Hooks is optionally implemented by entity types needing scoped setup
// and teardown around each invocation. After runs on every exit path
// and receives the dispatch error; it must not convert failure into
// success.
type Hooks interface {
	Before(ctx context.Context, action string) error
	After(ctx context.Context, action string, err error) error
}

// Result is the outcome of one invocation.
type Result struct {
	// State is the mutated state for the caller to persist.
	State *State

	// Output carries custom-action output lines, nil otherwise.
	Output []string

	// Ready is set by check-readiness and nil for all other actions.
	Ready *bool

	// Duration is the wall-clock time the invocation took.
	Duration time.Duration
}

// Core drives one entity instance through a single action dispatch.
// It owns the state in place; the definition lives inside the Lifecycle
// implementation as an immutable value decoded once per invocation.
type Core struct {
	impl      Lifecycle
	state     *State
	meta      Metadata
	path      string
	readiness Readiness
	actions   *ActionTable
	logger    zerolog.Logger
}

// CoreOption configures a Core.
type CoreOption func(*Core) error

// WithReadiness overrides the type's default readiness policy.
func WithReadiness(r Readiness) CoreOption {
	return func(c *Core) error {
		c.readiness = r
		return nil
	}
}

// WithMetadata attaches context labels, read-only to handlers.
func WithMetadata(meta Metadata) CoreOption {
	return func(c *Core) error {
		c.meta = meta
		return nil
	}
}

// WithPath sets the orchestrator-assigned entity path.
func WithPath(path string) CoreOption {
	return func(c *Core) error {
		c.path = path
		return nil
	}
}

// WithLogger sets the logger; a per-entity child logger is derived.
func WithLogger(logger zerolog.Logger) CoreOption {
	return func(c *Core) error {
		c.logger = logger
		return nil
	}
}

// WithCustomAction declares a custom action on the instance.
func WithCustomAction(name string, fn ActionFunc) CoreOption {
	return func(c *Core) error {
		return c.actions.registerCustom(name, fn)
	}
}

// NewCore builds the dispatch core for an entity instance. The state
// may be nil for entities that have never been invoked.
func NewCore(impl Lifecycle, state *State, opts ...CoreOption) (*Core, error) {
	if impl == nil {
		return nil, fmt.Errorf("lifecycle implementation is nil")
	}
	if state == nil {
		state = NewState()
	}

	c := &Core{
		impl:      impl,
		state:     state,
		meta:      Metadata{},
		readiness: DefaultReadiness,
		actions:   newActionTable(),
		logger:    zerolog.Nop(),
	}

	c.actions.register(ActionCreate, liftOp(impl.Create))
	c.actions.register(ActionStart, liftOp(impl.Start))
	c.actions.register(ActionStop, liftOp(impl.Stop))
	c.actions.register(ActionUpdate, liftOp(impl.Update))
	c.actions.register(ActionDelete, liftOp(impl.Delete))

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	c.logger = c.logger.With().Str("entity_path", c.path).Logger()
	return c, nil
}

// liftOp adapts a lifecycle operation to the action handler signature.
func liftOp(op func(ctx context.Context) error) ActionFunc {
	return func(ctx context.Context, _ map[string]string) ([]string, error) {
		return nil, op(ctx)
	}
}

// State returns the state record the core owns.
func (c *Core) State() *State {
	return c.state
}

// Metadata returns the instance's context labels.
func (c *Core) Metadata() Metadata {
	return c.meta
}

// Path returns the orchestrator-assigned entity path.
func (c *Core) Path() string {
	return c.path
}

// Readiness returns the polling policy the orchestrator applies.
func (c *Core) Readiness() Readiness {
	return c.readiness
}

// CustomActions returns the declared custom action names so the
// orchestrator can present them to operators.
func (c *Core) CustomActions() []string {
	return c.actions.customActions()
}

// CheckReadiness exposes the implementation's readiness probe for the
// Poller.
func (c *Core) CheckReadiness(ctx context.Context) (bool, error) {
	return c.impl.CheckReadiness(ctx)
}

// Main is the single entry point the orchestrator calls. It dispatches
// the invocation's action, running Before first and After on every exit
// path, and returns the mutated state for persistence.
//
// An action with no handler fails before any hook runs and leaves the
// state untouched.
func (c *Core) Main(ctx context.Context, inv *Context) (*Result, error) {
	start := time.Now()
	if inv == nil || inv.Action == "" {
		return nil, NewValidationError("invocation has no action", nil).WithPath(c.path)
	}

	if inv.Action == ActionCheckReadiness {
		return c.mainReadiness(ctx, start)
	}

	handler, ok := c.actions.lookup(inv.Action)
	if !ok {
		c.logger.Error().Str("action", inv.Action).Msg("Unsupported action")
		return nil, NewUnsupportedActionError(inv.Action).WithPath(c.path)
	}

	c.logger.Debug().Str("action", inv.Action).Msg("Dispatching action")

	var output []string
	err := c.withHooks(ctx, inv.Action, func() error {
		var derr error
		output, derr = handler(ctx, inv.Args)
		return derr
	})

	result := &Result{
		State:    c.state,
		Output:   output,
		Duration: time.Since(start),
	}
	if err != nil {
		return result, c.decorate(err, inv.Action)
	}
	return result, nil
}

// mainReadiness handles the check-readiness built-in, which reports a
// boolean instead of mutating through a plain handler.
func (c *Core) mainReadiness(ctx context.Context, start time.Time) (*Result, error) {
	var ready bool
	err := c.withHooks(ctx, ActionCheckReadiness, func() error {
		var derr error
		ready, derr = c.impl.CheckReadiness(ctx)
		return derr
	})

	result := &Result{
		State:    c.state,
		Ready:    &ready,
		Duration: time.Since(start),
	}
	if err != nil {
		return result, c.decorate(err, ActionCheckReadiness)
	}
	return result, nil
}

// withHooks runs fn between Before and After when the implementation
// declares hooks. After always runs; its error never masks the dispatch
// error but surfaces when dispatch succeeded.
func (c *Core) withHooks(ctx context.Context, action string, fn func() error) error {
	hooks, ok := c.impl.(Hooks)
	if !ok {
		return fn()
	}

	if err := hooks.Before(ctx, action); err != nil {
		// After still runs so acquired scopes are released.
		if aerr := hooks.After(ctx, action, err); aerr != nil {
			return errors.Join(err, aerr)
		}
		return err
	}

	err := fn()
	if aerr := hooks.After(ctx, action, err); aerr != nil {
		if err != nil {
			return errors.Join(err, aerr)
		}
		return aerr
	}
	return err
}

// decorate attaches entity context to classified errors and wraps
// anything else as a provider-class failure of the action.
func (c *Core) decorate(err error, action string) error {
	var e *Error
	if errors.As(err, &e) {
		if e.Path == "" {
			e.Path = c.path
		}
		if e.Operation == "" {
			e.Operation = action
		}
		return err
	}
	return NewProviderError(action, "operation failed", err).WithPath(c.path)
}
