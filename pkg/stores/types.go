package stores

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// InvocationStatus represents the outcome of an entity invocation.
type InvocationStatus string

const (
	InvocationStatusSuccess InvocationStatus = "success"
	InvocationStatusFailure InvocationStatus = "failure"
)

// EntityRecord is the persisted state of one entity, keyed by its
// manifest path.
type EntityRecord struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	EntityType string    `json:"entity_type"`
	State      string    `json:"state"` // JSON object of string keys/values
	Hash       string    `json:"hash"`  // SHA256 of the canonical state for drift detection
	Existing   bool      `json:"existing"`
	LastAction string    `json:"last_action"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Invocation is one entry in the append-only invocation log.
type Invocation struct {
	ID         string           `json:"id"`
	Path       string           `json:"path"`
	EntityType string           `json:"entity_type"`
	Action     string           `json:"action"`
	Status     InvocationStatus `json:"status"`
	Error      *string          `json:"error,omitempty"`
	DurationMS int64            `json:"duration_ms"`
	StartedAt  time.Time        `json:"started_at"`
}

// StateHash computes the canonical SHA256 over a state map. Keys are
// sorted so that two equal maps always hash identically.
func StateHash(state map[string]string) string {
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(state[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EncodeState serializes a state map to the JSON blob stored in an
// EntityRecord.
func EncodeState(state map[string]string) (string, error) {
	if state == nil {
		state = map[string]string{}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeState parses the JSON blob of an EntityRecord back into a map.
func DecodeState(blob string) (map[string]string, error) {
	state := make(map[string]string)
	if blob == "" {
		return state, nil
	}
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return nil, err
	}
	return state, nil
}

// Store defines the interface for the persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Entity state operations
	UpsertEntityRecord(ctx context.Context, rec *EntityRecord) error
	GetEntityRecord(ctx context.Context, path string) (*EntityRecord, error)
	ListEntityRecords(ctx context.Context, limit, offset int) ([]*EntityRecord, error)
	DeleteEntityRecord(ctx context.Context, path string) error

	// Invocation log operations
	AppendInvocation(ctx context.Context, inv *Invocation) error
	RecordInvocation(ctx context.Context, rec *EntityRecord, inv *Invocation) error
	ListInvocations(ctx context.Context, path *string, limit, offset int) ([]*Invocation, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
