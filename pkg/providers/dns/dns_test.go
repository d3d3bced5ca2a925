package dns

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

func newZoneCore(t *testing.T, fake *gateway.Fake, state map[string]string) *entity.Core {
	t.Helper()
	core, err := New(entity.Deps{
		Gateway: fake,
		Secrets: secrets.NewStatic(map[string]string{"do/api-token": "tok-123"}),
		Logger:  zerolog.Nop(),
	}, entity.Spec{
		Path: "media/zone",
		Definition: map[string]any{
			"zone":        "media.example.com",
			"ttl":         300,
			"apiTokenRef": "do/api-token",
		},
		State: state,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return core
}

func TestCreateAdoptsServingZone(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("GET "+providers.APIBase+"/zones/media.example.com", http.StatusOK,
		`{"zone":{"name":"media.example.com","status":"active"}}`)

	core := newZoneCore(t, fake, nil)
	result, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionCreate})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if !result.State.Existing() {
		t.Error("adopted zone must carry existing=true")
	}
	if len(fake.MutatingCalls()) != 0 {
		t.Errorf("adoption must issue zero mutating calls, got %d", len(fake.MutatingCalls()))
	}
}

func TestCreateProvisionsZone(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("POST "+providers.APIBase+"/zones", http.StatusCreated, `{"zone":{"name":"media.example.com","status":"pending"}}`)

	core := newZoneCore(t, fake, nil)
	result, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionCreate})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if result.State.GetString(keyZone) != "media.example.com" {
		t.Errorf("expected zone in state, got %q", result.State.GetString(keyZone))
	}
	if result.State.Existing() {
		t.Error("fresh zone must not be marked existing")
	}
}

func TestAddRecord(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("POST "+providers.APIBase+"/zones/media.example.com/records", http.StatusCreated, "{}")

	core := newZoneCore(t, fake, map[string]string{keyZone: "media.example.com"})
	result, err := core.Main(context.Background(), &entity.Context{
		Action: ActionAddRecord,
		Args:   map[string]string{"type": "A", "name": "cdn", "value": "203.0.113.9"},
	})
	if err != nil {
		t.Fatalf("add-record failed: %v", err)
	}

	if len(result.Output) != 1 || result.Output[0] != "added A record cdn.media.example.com" {
		t.Errorf("unexpected output: %v", result.Output)
	}
	if len(fake.MutatingCalls()) != 1 {
		t.Errorf("expected 1 record call, got %d", len(fake.MutatingCalls()))
	}
}

func TestAddRecordValidatesArgs(t *testing.T) {
	tests := []struct {
		name string
		args map[string]string
	}{
		{"unknown type", map[string]string{"type": "PTR", "name": "cdn", "value": "x"}},
		{"missing name", map[string]string{"type": "A", "value": "203.0.113.9"}},
		{"missing value", map[string]string{"type": "A", "name": "cdn"}},
		{"bad ttl", map[string]string{"type": "A", "name": "cdn", "value": "x", "ttl": "5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := gateway.NewFake()
			core := newZoneCore(t, fake, map[string]string{keyZone: "media.example.com"})

			_, err := core.Main(context.Background(), &entity.Context{Action: ActionAddRecord, Args: tt.args})
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !entity.IsValidation(err) {
				t.Errorf("expected validation-class error, got %v", err)
			}
			if len(fake.Calls()) != 0 {
				t.Errorf("invalid record must issue zero remote calls, got %d", len(fake.Calls()))
			}
		})
	}
}

func TestRemoveRecordToleratesAbsence(t *testing.T) {
	fake := gateway.NewFake()
	// Unmatched requests get the fake's default 404.

	core := newZoneCore(t, fake, map[string]string{keyZone: "media.example.com"})
	result, err := core.Main(context.Background(), &entity.Context{
		Action: ActionRemoveRecord,
		Args:   map[string]string{"type": "TXT", "name": "old"},
	})
	if err != nil {
		t.Fatalf("remove-record failed: %v", err)
	}
	if len(result.Output) != 1 {
		t.Errorf("unexpected output: %v", result.Output)
	}
}

func TestDeleteProtectsAdoptedZone(t *testing.T) {
	fake := gateway.NewFake()

	core := newZoneCore(t, fake, map[string]string{keyZone: "media.example.com", "existing": "true"})
	if _, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionDelete}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if len(fake.Calls()) != 0 {
		t.Errorf("adopted zone delete must issue zero remote calls, got %d", len(fake.Calls()))
	}
}

func TestCheckReadinessTracksPropagation(t *testing.T) {
	fake := gateway.NewFake()
	fake.Respond("GET "+providers.APIBase+"/zones/media.example.com", http.StatusOK,
		`{"zone":{"name":"media.example.com","status":"pending"}}`)

	core := newZoneCore(t, fake, map[string]string{keyZone: "media.example.com"})
	result, err := core.Main(context.Background(), &entity.Context{Action: entity.ActionCheckReadiness})
	if err != nil {
		t.Fatalf("check-readiness failed: %v", err)
	}
	if result.Ready == nil || *result.Ready {
		t.Error("pending zone must not report ready")
	}

	fake.Respond("GET "+providers.APIBase+"/zones/media.example.com", http.StatusOK,
		`{"zone":{"name":"media.example.com","status":"active"}}`)
	result, err = core.Main(context.Background(), &entity.Context{Action: entity.ActionCheckReadiness})
	if err != nil {
		t.Fatalf("check-readiness failed: %v", err)
	}
	if result.Ready == nil || !*result.Ready {
		t.Error("active zone must report ready")
	}
}

func TestZoneNameValidated(t *testing.T) {
	_, err := New(entity.Deps{
		Gateway: gateway.NewFake(),
		Secrets: secrets.NewStatic(nil),
		Logger:  zerolog.Nop(),
	}, entity.Spec{
		Definition: map[string]any{
			"zone":        "not a zone",
			"apiTokenRef": "do/api-token",
		},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !entity.IsValidation(err) {
		t.Errorf("expected validation-class error, got %v", err)
	}
}
