package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "provisor-test.db")
	store, err := NewSQLiteStore(Config{Path: dbPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestEntityRecordRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	stateBlob, err := EncodeState(map[string]string{"id": "bkt-1", "existing": "false"})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	rec := &EntityRecord{
		Path:       "acme/media-bucket",
		EntityType: "object-storage",
		State:      stateBlob,
		Hash:       StateHash(map[string]string{"id": "bkt-1", "existing": "false"}),
		LastAction: "create",
	}

	if err := store.UpsertEntityRecord(ctx, rec); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if rec.ID == "" {
		t.Error("upsert did not assign an ID")
	}

	got, err := store.GetEntityRecord(ctx, "acme/media-bucket")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.EntityType != "object-storage" {
		t.Errorf("entity_type = %s", got.EntityType)
	}

	state, err := DecodeState(got.State)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if state["id"] != "bkt-1" {
		t.Errorf("state id = %q", state["id"])
	}
}

func TestEntityRecordUpsertReplacesByPath(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := &EntityRecord{
		Path:       "acme/db",
		EntityType: "database",
		State:      `{"id":"db-1"}`,
		LastAction: "create",
	}
	if err := store.UpsertEntityRecord(ctx, first); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	second := &EntityRecord{
		ID:         first.ID,
		Path:       "acme/db",
		EntityType: "database",
		State:      `{"id":"db-1","status":"online"}`,
		Existing:   true,
		LastAction: "update",
	}
	if err := store.UpsertEntityRecord(ctx, second); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	records, err := store.ListEntityRecords(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].LastAction != "update" || !records[0].Existing {
		t.Errorf("record not replaced: %+v", records[0])
	}
}

func TestEntityRecordNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.GetEntityRecord(ctx, "acme/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteEntityRecord(ctx, "acme/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on delete, got %v", err)
	}
}

func TestDeleteEntityRecord(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := &EntityRecord{Path: "acme/queue", EntityType: "queue", State: "{}"}
	if err := store.UpsertEntityRecord(ctx, rec); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	if err := store.DeleteEntityRecord(ctx, "acme/queue"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.GetEntityRecord(ctx, "acme/queue"); !errors.Is(err, ErrNotFound) {
		t.Errorf("record survived delete: %v", err)
	}
}

func TestInvocationLog(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	errMsg := "PROVIDER_FAILED: remote rejected"
	entries := []*Invocation{
		{Path: "acme/bucket", EntityType: "object-storage", Action: "create", Status: InvocationStatusSuccess, DurationMS: 1200, StartedAt: time.Now().Add(-2 * time.Minute)},
		{Path: "acme/bucket", EntityType: "object-storage", Action: "delete", Status: InvocationStatusFailure, Error: &errMsg, DurationMS: 80, StartedAt: time.Now().Add(-time.Minute)},
		{Path: "acme/db", EntityType: "database", Action: "create", Status: InvocationStatusSuccess, DurationMS: 40, StartedAt: time.Now()},
	}
	for _, inv := range entries {
		if err := store.AppendInvocation(ctx, inv); err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if inv.ID == "" {
			t.Error("append did not assign an ID")
		}
	}

	all, err := store.ListInvocations(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("invocations = %d, want 3", len(all))
	}
	if all[0].Path != "acme/db" {
		t.Errorf("ordering wrong, newest first expected, got %s", all[0].Path)
	}

	bucket := "acme/bucket"
	filtered, err := store.ListInvocations(ctx, &bucket, 10, 0)
	if err != nil {
		t.Fatalf("filtered list failed: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("filtered invocations = %d, want 2", len(filtered))
	}
	if filtered[0].Error == nil || *filtered[0].Error != errMsg {
		t.Errorf("error column lost: %+v", filtered[0])
	}
}

func TestRecordInvocationWritesBoth(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := &EntityRecord{
		Path:       "acme/cache",
		EntityType: "queue",
		State:      `{"id":"q-1"}`,
		LastAction: "create",
	}
	inv := &Invocation{
		Path:       "acme/cache",
		EntityType: "queue",
		Action:     "create",
		Status:     InvocationStatusSuccess,
		DurationMS: 55,
	}
	if err := store.RecordInvocation(ctx, rec, inv); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	got, err := store.GetEntityRecord(ctx, "acme/cache")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.LastAction != "create" || got.State != `{"id":"q-1"}` {
		t.Errorf("record not persisted: %+v", got)
	}

	path := "acme/cache"
	log, err := store.ListInvocations(ctx, &path, 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(log) != 1 {
		t.Fatalf("invocations = %d, want 1", len(log))
	}
}

func TestRecordInvocationNilRecordLogsOnly(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	inv := &Invocation{
		Path:       "acme/ghost",
		EntityType: "dns",
		Action:     "check-readiness",
		Status:     InvocationStatusFailure,
	}
	if err := store.RecordInvocation(ctx, nil, inv); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	if _, err := store.GetEntityRecord(ctx, "acme/ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected no entity record, got err=%v", err)
	}

	path := "acme/ghost"
	log, err := store.ListInvocations(ctx, &path, 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(log) != 1 {
		t.Fatalf("invocations = %d, want 1", len(log))
	}
}

func TestRecordInvocationRollsBackOnFailure(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	prior := &EntityRecord{
		Path:       "acme/bucket",
		EntityType: "object-storage",
		State:      `{"id":"bkt-old"}`,
		LastAction: "create",
	}
	if err := store.UpsertEntityRecord(ctx, prior); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}
	taken := &Invocation{Path: "acme/bucket", EntityType: "object-storage", Action: "create", Status: InvocationStatusSuccess}
	if err := store.AppendInvocation(ctx, taken); err != nil {
		t.Fatalf("seed append failed: %v", err)
	}

	// Reusing the seeded invocation ID violates the primary key, so the
	// whole transaction must roll back, record update included.
	rec := &EntityRecord{
		Path:       "acme/bucket",
		EntityType: "object-storage",
		State:      `{"id":"bkt-new"}`,
		LastAction: "update",
	}
	inv := &Invocation{
		ID:         taken.ID,
		Path:       "acme/bucket",
		EntityType: "object-storage",
		Action:     "update",
		Status:     InvocationStatusSuccess,
	}
	if err := store.RecordInvocation(ctx, rec, inv); err == nil {
		t.Fatal("expected duplicate invocation ID to fail")
	}

	got, err := store.GetEntityRecord(ctx, "acme/bucket")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.State != `{"id":"bkt-old"}` || got.LastAction != "create" {
		t.Errorf("record changed despite rollback: %+v", got)
	}

	path := "acme/bucket"
	log, err := store.ListInvocations(ctx, &path, 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(log) != 1 {
		t.Fatalf("invocations = %d, want 1", len(log))
	}
}

func TestStateHashIsOrderIndependent(t *testing.T) {
	a := StateHash(map[string]string{"id": "x", "region": "ams3"})
	b := StateHash(map[string]string{"region": "ams3", "id": "x"})
	if a != b {
		t.Error("hash depends on map iteration order")
	}

	c := StateHash(map[string]string{"id": "y", "region": "ams3"})
	if a == c {
		t.Error("different states share a hash")
	}
}

func TestHealthCheck(t *testing.T) {
	store := setupTestStore(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("health check failed: %v", err)
	}

	uninitialized := &SQLiteStore{}
	if err := uninitialized.HealthCheck(context.Background()); err == nil {
		t.Error("expected error for uninitialized store")
	}
}
