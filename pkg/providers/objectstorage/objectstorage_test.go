package objectstorage

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"

	"github.com/provisor/provisor/pkg/entity"
	"github.com/provisor/provisor/pkg/gateway"
	"github.com/provisor/provisor/pkg/providers"
	"github.com/provisor/provisor/pkg/secrets"
	"github.com/provisor/provisor/pkg/telemetry"
)

func testDeps(fake *gateway.Fake) entity.Deps {
	return entity.Deps{
		Gateway: fake,
		Secrets: secrets.NewStatic(map[string]string{"do/api-token": "tok-123"}),
		Logger:  zerolog.Nop(),
	}
}

func testDefinition() map[string]any {
	return map[string]any{
		"name":        "media-assets",
		"region":      "nyc3",
		"acl":         "private",
		"apiTokenRef": "do/api-token",
	}
}

func newBucketCore(t *testing.T, fake *gateway.Fake, state map[string]string) *entity.Core {
	t.Helper()
	core, err := New(testDeps(fake), entity.Spec{
		Path:       "media/assets",
		Definition: testDefinition(),
		State:      state,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return core
}

func TestCreateProvisionsNewBucket(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("POST "+providers.APIBase+"/buckets", http.StatusOK,
		`{"bucket":{"name":"media-assets","region":"nyc3","status":"provisioning"}}`)

	core := newBucketCore(t, fake, nil)
	result, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionCreate})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if len(fake.MutatingCalls()) != 1 {
		t.Errorf("expected exactly 1 mutating call, got %d", len(fake.MutatingCalls()))
	}
	if result.State.Existing() {
		t.Error("freshly created bucket must not be marked existing")
	}
	if result.State.GetString(keyBucketName) != "media-assets" {
		t.Errorf("unexpected bucket name in state: %q", result.State.GetString(keyBucketName))
	}
	if result.State.GetInt(keyStatusCode) != http.StatusOK {
		t.Errorf("expected statusCode 200, got %d", result.State.GetInt(keyStatusCode))
	}
}

func TestCreateAdoptsExistingBucket(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("GET "+providers.APIBase+"/buckets/media-assets", http.StatusOK,
		`{"bucket":{"name":"media-assets","region":"nyc3","status":"available"}}`)

	core := newBucketCore(t, fake, nil)

	// Create twice against a provider that already has the bucket.
	for i := 0; i < 2; i++ {
		result, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionCreate})
		if err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
		if !result.State.Existing() {
			t.Errorf("create %d: adopted bucket must carry existing=true", i)
		}
	}

	if calls := fake.MutatingCalls(); len(calls) != 0 {
		t.Errorf("adoption must issue zero mutating calls, got %v", calls)
	}
}

func TestCreateAdoptionPublishesEvent(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("GET "+providers.APIBase+"/buckets/media-assets", http.StatusOK,
		`{"bucket":{"name":"media-assets","region":"nyc3","status":"available"}}`)

	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "stderr"
	cfg.Logging.Format = "json"
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry failed: %v", err)
	}
	defer tel.Shutdown(context.Background())

	var adopted []telemetry.Event
	tel.Events.Subscribe(func(e telemetry.Event) {
		if e.Type == telemetry.EventTypeEntityAdopted {
			adopted = append(adopted, e)
		}
	}, nil)

	core := newBucketCore(t, fake, nil)
	ctx := tel.WithContext(context.Background())
	if _, err := core.Main(ctx, &entity.Context{Action: entity.ActionCreate}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if len(adopted) != 1 {
		t.Fatalf("adoption events = %d, want 1", len(adopted))
	}
	if adopted[0].EntityPath != "media/assets" {
		t.Errorf("adoption event path = %q", adopted[0].EntityPath)
	}
}

func TestCreateRepeatKeepsProvisionedFlag(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("POST "+providers.APIBase+"/buckets", http.StatusOK, `{"bucket":{"name":"media-assets","status":"provisioning"}}`)

	core := newBucketCore(t, fake, nil)
	if _, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionCreate}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// The bucket now exists remotely; a repeat create probes, finds it
	// and must not flip it to adopted.
	fake.Respond("GET "+providers.APIBase+"/buckets/media-assets", http.StatusOK,
		`{"bucket":{"name":"media-assets","region":"nyc3","status":"available"}}`)
	result, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionCreate})
	if err != nil {
		t.Fatalf("repeat create failed: %v", err)
	}
	if result.State.Existing() {
		t.Error("bucket provisioned by us must stay existing=false")
	}
	if len(fake.MutatingCalls()) != 1 {
		t.Errorf("repeat create must not issue another mutating call, got %d", len(fake.MutatingCalls()))
	}
}

func TestDeleteIssuesOneCallAndClearsIdentity(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("DELETE "+providers.APIBase+"/buckets/media-assets", http.StatusNoContent, "")

	core := newBucketCore(t, fake, map[string]string{
		keyBucketName: "media-assets",
		keyRegion:     "nyc3",
		"existing":    "false",
	})
	result, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionDelete})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if len(fake.MutatingCalls()) != 1 {
		t.Errorf("expected exactly 1 delete call, got %d", len(fake.MutatingCalls()))
	}
	if _, ok := result.State.Get(keyBucketName); ok {
		t.Error("state must not carry an identifying field after delete")
	}
}

func TestDeleteNeverDestroysAdoptedBucket(t *testing.T) {
	fake := gateway.NewFake()

	core := newBucketCore(t, fake, map[string]string{
		keyBucketName: "media-assets",
		"existing":    "true",
	})
	if _, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionDelete}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if calls := fake.Calls(); len(calls) != 0 {
		t.Errorf("adopted bucket delete must issue zero remote calls, got %v", calls)
	}
	if !core.State().Existing() {
		t.Error("adopted state must survive the refused delete")
	}
}

func TestDeleteWithoutIdentityIsNoOp(t *testing.T) {
	fake := gateway.NewFake()

	core := newBucketCore(t, fake, nil)
	result, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionDelete})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if calls := fake.Calls(); len(calls) != 0 {
		t.Errorf("delete without identity must issue zero calls, got %v", calls)
	}
	if result.State.Len() != 0 {
		t.Errorf("state must stay unchanged, got %v", result.State.Map())
	}
}

func TestCheckReadiness(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		ready   bool
		wantErr bool
	}{
		{"available", http.StatusOK, `{"bucket":{"name":"media-assets","status":"available"}}`, true, false},
		{"provisioning", http.StatusOK, `{"bucket":{"name":"media-assets","status":"provisioning"}}`, false, false},
		{"not found yet", http.StatusNotFound, `{"error":"not found"}`, false, false},
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad token"}`, false, true},
		{"server error", http.StatusBadGateway, `{"error":"upstream"}`, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := gateway.NewFake()
			fake.Respond("GET "+providers.APIBase+"/buckets/media-assets", tt.status, tt.body)

			core := newBucketCore(t, fake, map[string]string{keyBucketName: "media-assets"})
			result, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionCheckReadiness})

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !entity.IsProvider(err) {
					t.Errorf("expected provider-class error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("check-readiness failed: %v", err)
			}
			if result.Ready == nil || *result.Ready != tt.ready {
				t.Errorf("expected ready=%v, got %v", tt.ready, result.Ready)
			}
		})
	}
}

func TestMissingSecretIsFatal(t *testing.T) {
	fake := gateway.NewFake()
	deps := testDeps(fake)
	deps.Secrets = secrets.NewStatic(nil)

	core, err := New(deps, entity.Spec{Path: "media/assets", Definition: testDefinition()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = core.Main(context.Background(), &entity.Context{Action: entity.ActionCreate})
	if err == nil {
		t.Fatal("expected secret error")
	}
	if !entity.IsSecret(err) {
		t.Errorf("expected secret-class error, got %v", err)
	}
	if !entity.IsFatal(err) {
		t.Error("missing secret must be fatal")
	}
	if calls := fake.Calls(); len(calls) != 0 {
		t.Errorf("no remote call may happen without credentials, got %v", calls)
	}
}

func TestInvalidDefinitionRejected(t *testing.T) {
	def := testDefinition()
	def["acl"] = "everyone"

	_, err := New(testDeps(gateway.NewFake()), entity.Spec{Definition: def})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !entity.IsValidation(err) {
		t.Errorf("expected validation-class error, got %v", err)
	}
}

func TestRegisteredInDefaultRegistry(t *testing.T) {
	if _, ok := entity.DefaultRegistry().Lookup(TypeName); !ok {
		t.Fatalf("%s not registered", TypeName)
	}
}

func TestReadinessPolicy(t *testing.T) {
	core := newBucketCore(t, gateway.NewFake(), nil)
	r := core.Readiness()
	if r.PeriodSeconds != 5 || r.InitialDelaySeconds != 2 || r.Attempts != 12 {
		t.Errorf("unexpected readiness policy: %+v", r)
	}
}
