package entity

import (
	"sort"
	"strconv"
	"time"
)

// Built-in action names.
const (
	ActionCreate         = "create"
	ActionStart          = "start"
	ActionStop           = "stop"
	ActionUpdate         = "update"
	ActionDelete         = "delete"
	ActionCheckReadiness = "check-readiness"
)

// BuiltinActions lists every built-in action name, in dispatch order.
var BuiltinActions = []string{
	ActionCreate,
	ActionStart,
	ActionStop,
	ActionUpdate,
	ActionDelete,
	ActionCheckReadiness,
}

// KeyExisting is the reserved state key marking an adopted resource.
// Adopted resources were provisioned outside this orchestrator and are
// never destroyed by delete.
const KeyExisting = "existing"

// Metadata carries free-form context labels, read-only to handlers.
type Metadata map[string]string

// Context is the per-invocation data passed to Main.
type Context struct {
	// Action names the operation to dispatch.
	Action string `json:"action" yaml:"action"`

	// Args carries arguments for custom actions.
	Args map[string]string `json:"args,omitempty" yaml:"args,omitempty"`

	// Status is the orchestrator-visible entity status.
	Status string `json:"status,omitempty" yaml:"status,omitempty"`

	// Path is the orchestrator-assigned entity path.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Arg returns a custom-action argument, with ok reporting presence.
func (c *Context) Arg(name string) (string, bool) {
	v, ok := c.Args[name]
	return v, ok
}

// ArgBool returns a custom-action argument interpreted as a boolean.
func (c *Context) ArgBool(name string) bool {
	v, ok := c.Args[name]
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// Readiness declares the polling policy for one entity type. All values
// are static per type; the orchestrator reads them to drive the poll
// loop, the entity itself never does.
type Readiness struct {
	// PeriodSeconds is the delay between poll attempts.
	PeriodSeconds int `json:"period" yaml:"period"`

	// InitialDelaySeconds is the delay before the first attempt.
	InitialDelaySeconds int `json:"initialDelay" yaml:"initialDelay"`

	// Attempts bounds the number of poll attempts.
	Attempts int `json:"attempts" yaml:"attempts"`
}

// Period returns the poll period as a duration.
func (r Readiness) Period() time.Duration {
	return time.Duration(r.PeriodSeconds) * time.Second
}

// InitialDelay returns the initial delay as a duration.
func (r Readiness) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelaySeconds) * time.Second
}

// DefaultReadiness is the policy entity types fall back to when they do
// not declare their own.
var DefaultReadiness = Readiness{
	PeriodSeconds:       10,
	InitialDelaySeconds: 2,
	Attempts:            12,
}

// State holds the last observed facts about an entity's remote
// resource. It is a flat string-keyed record, exclusively owned by the
// entity instance whose path it is persisted under, and must round-trip
// unchanged through an invocation cycle when no handler mutates it.
type State struct {
	values map[string]string
}

// NewState creates an empty state.
func NewState() *State {
	return &State{values: make(map[string]string)}
}

// StateFrom creates a state from a raw key/value record, copying it.
func StateFrom(values map[string]string) *State {
	s := NewState()
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Get returns the value for key, with ok reporting presence.
func (s *State) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// GetString returns the value for key or the empty string.
func (s *State) GetString(key string) string {
	return s.values[key]
}

// GetBool interprets the value for key as a boolean.
func (s *State) GetBool(key string) bool {
	b, err := strconv.ParseBool(s.values[key])
	return err == nil && b
}

// GetInt interprets the value for key as an integer, zero on absence.
func (s *State) GetInt(key string) int {
	n, err := strconv.Atoi(s.values[key])
	if err != nil {
		return 0
	}
	return n
}

// Set stores a value.
func (s *State) Set(key, value string) {
	s.values[key] = value
}

// SetBool stores a boolean value.
func (s *State) SetBool(key string, value bool) {
	s.values[key] = strconv.FormatBool(value)
}

// SetInt stores an integer value.
func (s *State) SetInt(key string, value int) {
	s.values[key] = strconv.Itoa(value)
}

// Delete removes a key.
func (s *State) Delete(key string) {
	delete(s.values, key)
}

// Existing reports whether the resource was adopted rather than created.
func (s *State) Existing() bool {
	return s.GetBool(KeyExisting)
}

// SetExisting marks or clears the adoption flag.
func (s *State) SetExisting(v bool) {
	s.SetBool(KeyExisting, v)
}

// Len returns the number of keys.
func (s *State) Len() int {
	return len(s.values)
}

// Keys returns all keys in lexicographic order.
func (s *State) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the underlying record for persistence.
func (s *State) Map() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Clone returns an independent copy.
func (s *State) Clone() *State {
	return StateFrom(s.values)
}

// Equal reports whether two states carry identical records.
func (s *State) Equal(other *State) bool {
	if len(s.values) != len(other.values) {
		return false
	}
	for k, v := range s.values {
		if ov, ok := other.values[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Clear removes every key, used by delete handlers once the remote
// resource is gone.
func (s *State) Clear() {
	s.values = make(map[string]string)
}
