package queue

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"

	"github.com/provisor/provisor/pkg/entity"
	"github.com/provisor/provisor/pkg/gateway"
	"github.com/provisor/provisor/pkg/providers"
	"github.com/provisor/provisor/pkg/secrets"
)

func newQueueCore(t *testing.T, fake *gateway.Fake, state map[string]string) *entity.Core {
	t.Helper()
	core, err := New(entity.Deps{
		Gateway: fake,
		Secrets: secrets.NewStatic(map[string]string{"do/api-token": "tok-123"}),
		Logger:  zerolog.Nop(),
	}, entity.Spec{
		Path: "media/jobs",
		Definition: map[string]any{
			"name":              "jobs",
			"region":            "nyc3",
			"fifo":              true,
			"visibilityTimeout": 120,
			"apiTokenRef":       "do/api-token",
		},
		State: state,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return core
}

func TestCreateThenAdoptIsIdempotent(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("GET "+providers.APIBase+"/queues/jobs", http.StatusOK,
		`{"queue":{"id":"q-77","name":"jobs","region":"nyc3","status":"active"}}`)

	core := newQueueCore(t, fake, nil)
	for i := 0; i < 2; i++ {
		result, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionCreate})
		if err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
		if !result.State.Existing() {
			t.Errorf("create %d: expected existing=true", i)
		}
	}

	if len(fake.MutatingCalls()) != 0 {
		t.Errorf("adoption must issue zero mutating calls, got %d", len(fake.MutatingCalls()))
	}
}

func TestCreateProvisionsQueue(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("POST "+providers.APIBase+"/queues", http.StatusCreated,
		`{"queue":{"id":"q-77","name":"jobs","region":"nyc3","status":"creating"}}`)

	core := newQueueCore(t, fake, nil)
	result, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionCreate})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if result.State.GetString(keyQueueID) != "q-77" {
		t.Errorf("expected provider id, got %q", result.State.GetString(keyQueueID))
	}
	if result.State.Existing() {
		t.Error("fresh queue must not be marked existing")
	}
}

func TestPurgeReportsCount(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("POST "+providers.APIBase+"/queues/q-77/purge", http.StatusOK, `{"purged":41}`)

	core := newQueueCore(t, fake, map[string]string{keyQueueID: "q-77"})
	result, err := core.Main(context.Background(), &entity.Context{Action: ActionPurge})
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}

	if len(result.Output) != 1 || result.Output[0] != "purged 41 messages" {
		t.Errorf("unexpected output: %v", result.Output)
	}
}

func TestPurgeRequiresIdentity(t *testing.T) {
	fake := gateway.NewFake()

	core := newQueueCore(t, fake, nil)
	_, err := core.Main(context.Background(), &entity.Context{Action: ActionPurge})
	if err == nil {
		t.Fatal("expected error for purge before create")
	}
	if !entity.IsValidation(err) {
		t.Errorf("expected validation-class error, got %v", err)
	}
	if len(fake.Calls()) != 0 {
		t.Errorf("expected zero remote calls, got %d", len(fake.Calls()))
	}
}

func TestDeleteProtectsAdoptedQueue(t *testing.T) {
	fake := gateway.NewFake()

	core := newQueueCore(t, fake, map[string]string{keyQueueID: "q-77", "existing": "true"})
	if _, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionDelete}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if len(fake.Calls()) != 0 {
		t.Errorf("adopted queue delete must issue zero remote calls, got %d", len(fake.Calls()))
	}
}

func TestCheckReadinessWaitsUntilActive(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("GET "+providers.APIBase+"/queues/q-77", http.StatusOK,
		`{"queue":{"id":"q-77","status":"creating"}}`)

	core := newQueueCore(t, fake, map[string]string{keyQueueID: "q-77"})
	result, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionCheckReadiness})
	if err != nil {
		t.Fatalf("check-readiness failed: %v", err)
	}
	if result.Ready == nil || *result.Ready {
		t.Error("creating queue must not report ready")
	}

	fake.Respond("GET "+providers.APIBase+"/queues/q-77", http.StatusOK,
		`{"queue":{"id":"q-77","status":"active"}}`)
	result, err = core.Main(context.Background(), &entity.Context{Action: entity.ActionCheckReadiness})
	if err != nil {
		t.Fatalf("check-readiness failed: %v", err)
	}
	if result.Ready == nil || !*result.Ready {
		t.Error("active queue must report ready")
	}
}

func TestVisibilityTimeoutValidated(t *testing.T) {
	_, err := New(entity.Deps{
		Gateway: gateway.NewFake(),
		Secrets: secrets.NewStatic(nil),
		Logger:  zerolog.Nop(),
	}, entity.Spec{
		Definition: map[string]any{
			"name":              "jobs",
			"region":            "nyc3",
			"visibilityTimeout": 99999,
			"apiTokenRef":       "do/api-token",
		},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !entity.IsValidation(err) {
		t.Errorf("expected validation-class error, got %v", err)
	}
}
