package entity

import (
	"context"
	"fmt"
	"sort"
)

// ActionFunc handles one action. Custom actions receive the invocation
// args and may return output lines for the orchestrator to print.
type ActionFunc func(ctx context.Context, args map[string]string) ([]string, error)

// ActionTable maps action names to handlers. It is built once per
// entity instance from the built-in set plus the type's declared custom
// actions; dispatch is an exact-match lookup with no fallback scanning.
type ActionTable struct {
	handlers map[string]ActionFunc
	custom   []string
}

func newActionTable() *ActionTable {
	return &ActionTable{handlers: make(map[string]ActionFunc)}
}

// register adds a built-in handler.
func (t *ActionTable) register(name string, fn ActionFunc) {
	t.handlers[name] = fn
}

// registerCustom adds a declared custom action. Redeclaring a built-in
// or an already registered custom action is an error.
func (t *ActionTable) registerCustom(name string, fn ActionFunc) error {
	if name == "" {
		return fmt.Errorf("custom action name is empty")
	}
	for _, builtin := range BuiltinActions {
		if name == builtin {
			return fmt.Errorf("action %q is a built-in and cannot be redeclared", name)
		}
	}
	if _, exists := t.handlers[name]; exists {
		return fmt.Errorf("action %q already registered", name)
	}
	t.handlers[name] = fn
	t.custom = append(t.custom, name)
	return nil
}

// lookup returns the handler for an action name.
func (t *ActionTable) lookup(name string) (ActionFunc, bool) {
	fn, ok := t.handlers[name]
	return fn, ok
}

// customActions returns the declared custom action names,
// lexicographically sorted.
func (t *ActionTable) customActions() []string {
	out := make([]string, len(t.custom))
	copy(out, t.custom)
	sort.Strings(out)
	return out
}
