// Package secrets provides the secret storage collaborator consumed by
// entity implementations.
//
// Secrets are addressed by opaque string references. A missing secret is
// reported through ErrNotFound and is a fatal, non-retryable condition
// for the lifecycle operation that required it: retrying cannot make a
// credential appear.
//
// Backends: Env (process environment), File (YAML file on disk), Static
// (in-memory, for tests) and SecretsManager (AWS Secrets Manager via
// aws-sdk-go-v2).
package secrets

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no value exists for a reference.
var ErrNotFound = errors.New("secret not found")

// ErrReadOnly is returned by Set on backends that cannot store values.
var ErrReadOnly = errors.New("secret store is read-only")

// Store is the secret storage contract.
//
// Get returns ErrNotFound (possibly wrapped) when the reference has no
// value. Implementations must never log secret values.
type Store interface {
	Get(ctx context.Context, ref string) (string, error)
	Set(ctx context.Context, ref, value string) error
}

// Require fetches a secret that a lifecycle operation cannot proceed
// without, decorating absence with the reference for diagnostics.
func Require(ctx context.Context, store Store, ref string) (string, error) {
	value, err := store.Get(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("required secret %q: %w", ref, err)
	}
	if value == "" {
		return "", fmt.Errorf("required secret %q: %w", ref, ErrNotFound)
	}
	return value, nil
}

// IsNotFound reports whether err indicates a missing secret.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
