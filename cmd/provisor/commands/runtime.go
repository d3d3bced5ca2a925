package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/provisor/provisor/pkg/entity"
	"github.com/provisor/provisor/pkg/gateway"
	"github.com/provisor/provisor/pkg/manifest"
	"github.com/provisor/provisor/pkg/secrets"
	"github.com/provisor/provisor/pkg/stores"
)

// loadManifest parses and validates the manifest at path. A manifest
// with validation errors is returned alongside an error so callers can
// report the individual problems.
func loadManifest(ctx context.Context, path string) (*manifest.Manifest, error) {
	parser := manifest.NewParser()
	m, err := parser.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	if !m.Valid() {
		return m, fmt.Errorf("manifest has %d validation error(s)", len(m.Errors))
	}
	return m, nil
}

// newSecretStore builds the secret backend selected by --secrets.
func newSecretStore(ctx context.Context) (secrets.Store, error) {
	switch {
	case secretsSpec == "env" || secretsSpec == "":
		return &secrets.Env{}, nil
	case secretsSpec == "aws":
		return secrets.NewSecretsManager(ctx)
	case strings.HasPrefix(secretsSpec, "file:"):
		return secrets.NewFile(strings.TrimPrefix(secretsSpec, "file:")), nil
	default:
		return nil, fmt.Errorf("unknown secret backend %q", secretsSpec)
	}
}

// openStore opens the sqlite state store and runs pending migrations.
func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: stateDB})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// buildEntity constructs the entity declared at path in the manifest,
// seeding it with the persisted state for that path (if any).
func buildEntity(ctx context.Context, m *manifest.Manifest, store stores.Store, path string) (*entity.Core, *manifest.EntityManifest, error) {
	decl, ok := m.Lookup(path)
	if !ok {
		return nil, nil, fmt.Errorf("entity %q is not declared in the manifest", path)
	}

	state := map[string]string{}
	rec, err := store.GetEntityRecord(ctx, path)
	switch {
	case err == nil:
		state, err = stores.DecodeState(rec.State)
		if err != nil {
			return nil, nil, fmt.Errorf("stored state for %q is corrupt: %w", path, err)
		}
	case errors.Is(err, stores.ErrNotFound):
		// first invocation for this path
	default:
		return nil, nil, err
	}

	secretStore, err := newSecretStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	logger := log.With().Str("component", "entity").Str("path", path).Logger()
	deps := entity.Deps{
		Gateway: gateway.NewClient(log.With().Str("component", "gateway").Logger()),
		Secrets: secretStore,
		Logger:  logger,
	}

	core, err := entity.DefaultRegistry().New(decl.Type, deps, entity.Spec{
		Path:       decl.Path,
		Definition: decl.Definition,
		State:      state,
		Metadata:   decl.Metadata,
	})
	if err != nil {
		return nil, nil, err
	}
	return core, decl, nil
}

// persistResult writes the post-invocation state record and the
// invocation log entry in one transaction.
func persistResult(ctx context.Context, store stores.Store, decl *manifest.EntityManifest, action string, res *entity.Result, invErr error, started time.Time) error {
	var rec *stores.EntityRecord
	if res != nil && res.State != nil {
		stateMap := res.State.Map()
		blob, err := stores.EncodeState(stateMap)
		if err != nil {
			return err
		}
		rec = &stores.EntityRecord{
			Path:       decl.Path,
			EntityType: decl.Type,
			State:      blob,
			Hash:       stores.StateHash(stateMap),
			Existing:   res.State.Existing(),
			LastAction: action,
		}
	}

	status := stores.InvocationStatusSuccess
	var errText *string
	if invErr != nil {
		status = stores.InvocationStatusFailure
		msg := invErr.Error()
		errText = &msg
	}
	return store.RecordInvocation(ctx, rec, &stores.Invocation{
		Path:       decl.Path,
		EntityType: decl.Type,
		Action:     action,
		Status:     status,
		Error:      errText,
		DurationMS: time.Since(started).Milliseconds(),
		StartedAt:  started,
	})
}

// parseArgs turns repeated key=value flags into an argument map.
func parseArgs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	args := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not key=value", pair)
		}
		args[key] = value
	}
	return args, nil
}

// readinessFor applies a manifest-level override on top of the entity
// type's declared polling policy.
func readinessFor(core *entity.Core, decl *manifest.EntityManifest) entity.Readiness {
	if decl.Readiness != nil {
		return *decl.Readiness
	}
	return core.Readiness()
}
