package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string

	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path:            cfg.Path,
		maxOpenConns:    cfg.MaxOpenConns,
		maxIdleConns:    cfg.MaxIdleConns,
		connMaxLifetime: cfg.ConnMaxLifetime,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.maxOpenConns)
	db.SetMaxIdleConns(s.maxIdleConns)
	db.SetConnMaxLifetime(s.connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded migration files.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction.
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction.
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction.
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// execer abstracts *sql.DB and *sql.Tx so the write statements run
// either standalone or inside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertEntityRecord inserts or updates the state record for an entity
// path. A zero ID gets a generated UUID.
func (s *SQLiteStore) UpsertEntityRecord(ctx context.Context, rec *EntityRecord) error {
	return upsertEntityRecord(ctx, s.db, rec)
}

func upsertEntityRecord(ctx context.Context, ex execer, rec *EntityRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	query := `
		INSERT INTO entity_records (
			id, path, entity_type, state, hash, existing, last_action, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			entity_type = excluded.entity_type,
			state = excluded.state,
			hash = excluded.hash,
			existing = excluded.existing,
			last_action = excluded.last_action,
			updated_at = excluded.updated_at
	`

	_, err := ex.ExecContext(ctx, query,
		rec.ID,
		rec.Path,
		rec.EntityType,
		rec.State,
		rec.Hash,
		rec.Existing,
		rec.LastAction,
		rec.CreatedAt,
		rec.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert entity record: %w", err)
	}

	return nil
}

// GetEntityRecord retrieves the state record for an entity path.
func (s *SQLiteStore) GetEntityRecord(ctx context.Context, path string) (*EntityRecord, error) {
	query := `
		SELECT id, path, entity_type, state, hash, existing, last_action, created_at, updated_at
		FROM entity_records
		WHERE path = ?
	`

	rec := &EntityRecord{}
	err := s.db.QueryRowContext(ctx, query, path).Scan(
		&rec.ID,
		&rec.Path,
		&rec.EntityType,
		&rec.State,
		&rec.Hash,
		&rec.Existing,
		&rec.LastAction,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity record: %w", err)
	}

	return rec, nil
}

// ListEntityRecords lists entity records with pagination, most recently
// updated first.
func (s *SQLiteStore) ListEntityRecords(ctx context.Context, limit, offset int) ([]*EntityRecord, error) {
	query := `
		SELECT id, path, entity_type, state, hash, existing, last_action, created_at, updated_at
		FROM entity_records
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity records: %w", err)
	}
	defer rows.Close()

	records := []*EntityRecord{}
	for rows.Next() {
		rec := &EntityRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.Path,
			&rec.EntityType,
			&rec.State,
			&rec.Hash,
			&rec.Existing,
			&rec.LastAction,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity records: %w", err)
	}

	return records, nil
}

// DeleteEntityRecord deletes the state record for an entity path.
func (s *SQLiteStore) DeleteEntityRecord(ctx context.Context, path string) error {
	query := `DELETE FROM entity_records WHERE path = ?`

	result, err := s.db.ExecContext(ctx, query, path)
	if err != nil {
		return fmt.Errorf("failed to delete entity record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	return nil
}

// AppendInvocation appends an entry to the invocation log. A zero ID
// gets a generated UUID.
func (s *SQLiteStore) AppendInvocation(ctx context.Context, inv *Invocation) error {
	return appendInvocation(ctx, s.db, inv)
}

func appendInvocation(ctx context.Context, ex execer, inv *Invocation) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.StartedAt.IsZero() {
		inv.StartedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO invocations (id, path, entity_type, action, status, error, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := ex.ExecContext(ctx, query,
		inv.ID,
		inv.Path,
		inv.EntityType,
		inv.Action,
		inv.Status,
		inv.Error,
		inv.DurationMS,
		inv.StartedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to append invocation: %w", err)
	}

	return nil
}

// RecordInvocation upserts the entity record and appends the invocation
// log entry in a single transaction, so the record and its log line
// never diverge. A nil record logs the invocation only.
func (s *SQLiteStore) RecordInvocation(ctx context.Context, rec *EntityRecord, inv *Invocation) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if rec != nil {
		if err := upsertEntityRecord(ctx, tx, rec); err != nil {
			_ = s.RollbackTx(tx)
			return err
		}
	}
	if err := appendInvocation(ctx, tx, inv); err != nil {
		_ = s.RollbackTx(tx)
		return err
	}

	if err := s.CommitTx(tx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListInvocations lists invocation log entries, newest first, optionally
// filtered by entity path.
func (s *SQLiteStore) ListInvocations(ctx context.Context, path *string, limit, offset int) ([]*Invocation, error) {
	query := `
		SELECT id, path, entity_type, action, status, error, duration_ms, started_at
		FROM invocations
		WHERE (? IS NULL OR path = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, path, path, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}
	defer rows.Close()

	invocations := []*Invocation{}
	for rows.Next() {
		inv := &Invocation{}
		err := rows.Scan(
			&inv.ID,
			&inv.Path,
			&inv.EntityType,
			&inv.Action,
			&inv.Status,
			&inv.Error,
			&inv.DurationMS,
			&inv.StartedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		invocations = append(invocations, inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invocations: %w", err)
	}

	return invocations, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
