package commands

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/provisor/provisor/pkg/entity"
	"github.com/provisor/provisor/pkg/gateway"
	"github.com/provisor/provisor/pkg/manifest"
	"github.com/provisor/provisor/pkg/providers"
	"github.com/provisor/provisor/pkg/providers/objectstorage"
	"github.com/provisor/provisor/pkg/secrets"
	"github.com/provisor/provisor/pkg/stores"
	"github.com/provisor/provisor/pkg/telemetry"
)

func setupReadyTest(t *testing.T, fake *gateway.Fake) (*entity.Core, *manifest.EntityManifest, *stores.SQLiteStore) {
	t.Helper()

	core, err := objectstorage.New(entity.Deps{
		Gateway: fake,
		Secrets: secrets.NewStatic(map[string]string{"do/api-token": "tok-123"}),
		Logger:  zerolog.Nop(),
	}, entity.Spec{
		Path: "media/assets",
		Definition: map[string]any{
			"name":        "media-assets",
			"region":      "nyc3",
			"apiTokenRef": "do/api-token",
		},
		State: map[string]string{"bucketName": "media-assets"},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	decl := &manifest.EntityManifest{
		Path:      "media/assets",
		Type:      objectstorage.TypeName,
		Readiness: &entity.Readiness{Attempts: 2},
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("store create failed: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("store init failed: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("store migrate failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return core, decl, store
}

func readyTestTelemetry(t *testing.T) *telemetry.Telemetry {
	t.Helper()

	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "stderr"
	cfg.Logging.Format = "json"
	cfg.Metrics.Enabled = true
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry failed: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	return tel
}

func TestWaitReadyRecordsTelemetry(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("GET "+providers.APIBase+"/buckets/media-assets", http.StatusOK,
		`{"bucket":{"name":"media-assets","status":"available"}}`)
	core, decl, store := setupReadyTest(t, fake)

	tel := readyTestTelemetry(t)
	var ready []telemetry.Event
	tel.Events.Subscribe(func(e telemetry.Event) {
		if e.Type == telemetry.EventTypeEntityReady {
			ready = append(ready, e)
		}
	}, nil)

	ctx := tel.WithContext(context.Background())
	if err := waitReady(ctx, core, decl, store, time.Now()); err != nil {
		t.Fatalf("waitReady failed: %v", err)
	}

	if len(ready) != 1 {
		t.Fatalf("ready events = %d, want 1", len(ready))
	}

	rec := httptest.NewRecorder()
	tel.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"provisor_readiness_probes_total",
		"provisor_readiness_wait_seconds",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metric %s missing from exposition", want)
		}
	}

	path := "media/assets"
	log, err := store.ListInvocations(context.Background(), &path, 10, 0)
	if err != nil {
		t.Fatalf("list invocations failed: %v", err)
	}
	if len(log) != 1 || log[0].Action != entity.ActionCheckReadiness {
		t.Errorf("readiness invocation not persisted: %+v", log)
	}
}

func TestWaitReadyRecordsTimeout(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("GET "+providers.APIBase+"/buckets/media-assets", http.StatusOK,
		`{"bucket":{"name":"media-assets","status":"provisioning"}}`)
	core, decl, store := setupReadyTest(t, fake)

	tel := readyTestTelemetry(t)
	var timeouts []telemetry.Event
	tel.Events.Subscribe(func(e telemetry.Event) {
		if e.Type == telemetry.EventTypeReadinessTimeout {
			timeouts = append(timeouts, e)
		}
	}, nil)

	ctx := tel.WithContext(context.Background())
	err := waitReady(ctx, core, decl, store, time.Now())
	if !entity.IsReadinessTimeout(err) {
		t.Fatalf("expected readiness timeout, got %v", err)
	}

	if len(timeouts) != 1 {
		t.Fatalf("timeout events = %d, want 1", len(timeouts))
	}

	rec := httptest.NewRecorder()
	tel.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "provisor_readiness_timeouts_total") {
		t.Error("timeout counter missing from exposition")
	}
}
