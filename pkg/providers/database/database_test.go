package database

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

func testDefinition() map[string]any {
	return map[string]any{
		"name":        "catalog",
		"engine":      "pg",
		"version":     "16",
		"region":      "nyc3",
		"size":        "db-s-1vcpu-1gb",
		"nodes":       2,
		"apiTokenRef": "do/api-token",
	}
}

func newClusterCore(t *testing.T, fake *gateway.Fake, state map[string]string) *entity.Core {
	t.Helper()
	core, err := New(entity.Deps{
		Gateway: fake,
		Secrets: secrets.NewStatic(map[string]string{"do/api-token": "tok-123"}),
		Logger:  zerolog.Nop(),
	}, entity.Spec{
		Path:       "media/catalog",
		Definition: testDefinition(),
		State:      state,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return core
}

func TestCreateRecordsProviderID(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("POST "+providers.APIBase+"/databases", http.StatusCreated,
		`{"database":{"id":"dbc-9f2","name":"catalog","engine":"pg","region":"nyc3","status":"creating"}}`)

	core := newClusterCore(t, fake, nil)
	result, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionCreate})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if len(fake.MutatingCalls()) != 1 {
		t.Errorf("expected 1 mutating call, got %d", len(fake.MutatingCalls()))
	}
	if result.State.GetString(keyClusterID) != "dbc-9f2" {
		t.Errorf("expected provider id in state, got %q", result.State.GetString(keyClusterID))
	}
	if result.State.Existing() {
		t.Error("fresh cluster must not be marked existing")
	}
	if result.State.GetString(keyStatus) != "creating" {
		t.Errorf("unexpected status: %q", result.State.GetString(keyStatus))
	}
}

func TestCreateAdoptsByName(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("GET "+providers.APIBase+"/databases/catalog", http.StatusOK,
		`{"database":{"id":"dbc-old","name":"catalog","engine":"pg","region":"nyc3","status":"online"}}`)

	core := newClusterCore(t, fake, nil)
	result, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionCreate})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if !result.State.Existing() {
		t.Error("adopted cluster must carry existing=true")
	}
	if result.State.GetString(keyClusterID) != "dbc-old" {
		t.Errorf("adoption must copy the provider id, got %q", result.State.GetString(keyClusterID))
	}
	if len(fake.MutatingCalls()) != 0 {
		t.Errorf("adoption must issue zero mutating calls, got %d", len(fake.MutatingCalls()))
	}
}

func TestDeleteUsesProviderID(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("DELETE "+providers.APIBase+"/databases/dbc-9f2", http.StatusNoContent, "")

	core := newClusterCore(t, fake, map[string]string{
		keyClusterID: "dbc-9f2",
		keyName:      "catalog",
		"existing":   "false",
	})
	result, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionDelete})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	calls := fake.MutatingCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 delete call, got %d", len(calls))
	}
	if calls[0].URL != providers.APIBase+"/databases/dbc-9f2" {
		t.Errorf("delete must address the provider id, got %s", calls[0].URL)
	}
	if result.State.Len() != 0 {
		t.Errorf("state must be cleared after delete, got %v", result.State.Map())
	}
}

func TestDeleteProtectsAdoptedCluster(t *testing.T) {
	fake := gateway.NewFake()

	core := newClusterCore(t, fake, map[string]string{
		keyClusterID: "dbc-old",
		"existing":   "true",
	})
	if _, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionDelete}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if len(fake.Calls()) != 0 {
		t.Errorf("adopted cluster delete must issue zero remote calls, got %d", len(fake.Calls()))
	}
}

func TestStartStop(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("POST "+providers.APIBase+"/databases/dbc-9f2/start", http.StatusOK, "{}")
	fake.Respond("POST "+providers.APIBase+"/databases/dbc-9f2/stop", http.StatusOK, "{}")

	core := newClusterCore(t, fake, map[string]string{keyClusterID: "dbc-9f2"})

	if _, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionStop}); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if core.State().GetString(keyStatus) != "stopping" {
		t.Errorf("unexpected status after stop: %q", core.State().GetString(keyStatus))
	}

	if _, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionStart}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if core.State().GetString(keyStatus) != "starting" {
		t.Errorf("unexpected status after start: %q", core.State().GetString(keyStatus))
	}
}

func TestResize(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("PUT "+providers.APIBase+"/databases/dbc-9f2/resize", http.StatusAccepted, "{}")

	core := newClusterCore(t, fake, map[string]string{keyClusterID: "dbc-9f2"})
	result, err := core.Main(context.Background(), &entity.Context{
		Action: ActionResize,
		Args:   map[string]string{"size": "db-s-2vcpu-4gb", "nodes": "3"},
	})
	if err != nil {
		t.Fatalf("resize failed: %v", err)
	}

	if len(result.Output) != 1 {
		t.Fatalf("expected resize output, got %v", result.Output)
	}
	if result.State.GetString(keyStatus) != "resizing" {
		t.Errorf("unexpected status: %q", result.State.GetString(keyStatus))
	}
}

func TestResizeValidatesArgs(t *testing.T) {
	tests := []struct {
		name string
		args map[string]string
	}{
		{"no args", nil},
		{"bad nodes", map[string]string{"nodes": "eleven"}},
		{"nodes out of range", map[string]string{"nodes": "11"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := gateway.NewFake()
			core := newClusterCore(t, fake, map[string]string{keyClusterID: "dbc-9f2"})

			_, err := core.Main(context.Background(), &entity.Context{Action: ActionResize, Args: tt.args})
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !entity.IsValidation(err) {
				t.Errorf("expected validation-class error, got %v", err)
			}
			if len(fake.Calls()) != 0 {
				t.Errorf("invalid resize must issue zero remote calls, got %d", len(fake.Calls()))
			}
		})
	}
}

func TestCheckReadinessOnline(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("GET "+providers.APIBase+"/databases/dbc-9f2", http.StatusOK,
		`{"database":{"id":"dbc-9f2","name":"catalog","status":"online"}}`)

	core := newClusterCore(t, fake, map[string]string{keyClusterID: "dbc-9f2"})
	result, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionCheckReadiness})
	if err != nil {
		t.Fatalf("check-readiness failed: %v", err)
	}
	if result.Ready == nil || !*result.Ready {
		t.Error("online cluster must report ready")
	}
}

func TestCustomActionsDeclared(t *testing.T) {
	core := newClusterCore(t, gateway.NewFake(), nil)
	actions := core.CustomActions()
	if len(actions) != 1 || actions[0] != ActionResize {
		t.Errorf("expected [resize], got %v", actions)
	}
}

func TestInvalidEngineRejected(t *testing.T) {
	def := testDefinition()
	def["engine"] = "oracle"

	_, err := New(entity.Deps{
		Gateway: gateway.NewFake(),
		Secrets: secrets.NewStatic(nil),
		Logger:  zerolog.Nop(),
	}, entity.Spec{Definition: def})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !entity.IsValidation(err) {
		t.Errorf("expected validation-class error, got %v", err)
	}
}
