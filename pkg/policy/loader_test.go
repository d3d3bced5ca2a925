package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const sampleRego = `# Requires a backup label on production entities
package custom.backup

import rego.v1

deny contains violation if {
	input.entity.metadata.env == "production"
	not input.entity.metadata.backup
	violation := {
		"message": "production entities must declare a backup label",
		"severity": "error",
		"path": input.entity.path,
	}
}`

func writePolicyFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadRegoFile(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, "backup.rego", sampleRego)

	l := NewLoader(zerolog.Nop())
	policies, err := l.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}

	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}
	p := policies[0]
	if p.Name != "backup" {
		t.Errorf("expected name derived from filename, got %s", p.Name)
	}
	if p.Description != "Requires a backup label on production entities" {
		t.Errorf("unexpected description: %q", p.Description)
	}
	if p.Severity != SeverityWarning {
		t.Errorf("expected default severity warning, got %s", p.Severity)
	}
	if !p.Enabled {
		t.Error("loaded policies should be enabled by default")
	}
}

func TestLoadDirectorySkipsOtherFiles(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "backup.rego", sampleRego)
	writePolicyFile(t, dir, "notes.txt", "not a policy")
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("failed to create subdir: %v", err)
	}
	writePolicyFile(t, sub, "naming.rego", "package custom.naming\n\nimport rego.v1\n")

	l := NewLoader(zerolog.Nop())
	policies, err := l.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}

	if len(policies) != 2 {
		t.Fatalf("expected 2 policies (recursive, .rego only), got %d", len(policies))
	}
}

func TestLoadJSONPolicy(t *testing.T) {
	dir := t.TempDir()
	data, err := json.Marshal(Policy{
		Name:     "json-policy",
		Severity: SeverityError,
		Enabled:  true,
		Rego:     "package custom.jsonp\n\nimport rego.v1\n",
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	path := writePolicyFile(t, dir, "policy.json", string(data))

	l := NewLoader(zerolog.Nop())
	policies, err := l.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}

	if len(policies) != 1 || policies[0].Name != "json-policy" {
		t.Fatalf("unexpected policies: %v", policies)
	}
	if policies[0].Severity != SeverityError {
		t.Errorf("expected error severity, got %s", policies[0].Severity)
	}
	if policies[0].CreatedAt.IsZero() {
		t.Error("expected CreatedAt default to be set")
	}
}

func TestLoadMissingPath(t *testing.T) {
	l := NewLoader(zerolog.Nop())
	if _, err := l.LoadFromPaths(context.Background(), []string{"/does/not/exist"}); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestLoaderCacheAndClear(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, "backup.rego", sampleRego)

	l := NewLoader(zerolog.Nop())
	first, err := l.loadFromFile(path)
	if err != nil {
		t.Fatalf("loadFromFile failed: %v", err)
	}

	// Changing the file without clearing the cache returns the old copy.
	writePolicyFile(t, dir, "backup.rego", "package custom.backup\n\nimport rego.v1\n")
	cached, err := l.loadFromFile(path)
	if err != nil {
		t.Fatalf("loadFromFile failed: %v", err)
	}
	if cached != first {
		t.Error("expected cached policy to be returned")
	}

	l.ClearCache()
	fresh, err := l.loadFromFile(path)
	if err != nil {
		t.Fatalf("loadFromFile failed: %v", err)
	}
	if fresh == first {
		t.Error("expected fresh policy after cache clear")
	}
}

func TestWatchReloadsOnPolicyChange(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "backup.rego", sampleRego)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLoader(zerolog.Nop())
	reloaded := make(chan []Policy, 4)
	err := l.Watch(ctx, []string{dir}, func(policies []Policy) error {
		reloaded <- policies
		return nil
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer l.StopWatching()

	updated := `package custom.backup

import rego.v1

deny contains violation if {
	not input.entity.metadata.backup
	violation := {
		"message": "every entity must declare a backup label",
		"severity": "error",
		"path": input.entity.path,
	}
}`
	writePolicyFile(t, dir, "backup.rego", updated)

	select {
	case policies := <-reloaded:
		if len(policies) != 1 {
			t.Fatalf("reloaded policies = %d, want 1", len(policies))
		}
		// The cache entry for the changed file must have been dropped,
		// so the reload carries the new content.
		if policies[0].Rego != updated {
			t.Errorf("reload returned stale policy content")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestLoadBundle(t *testing.T) {
	dir := t.TempDir()
	data, err := json.Marshal(Bundle{
		Name:    "governance",
		Version: "1.0.0",
		Policies: []Policy{
			{Name: "one", Rego: "package one\n"},
			{Name: "two", Rego: "package two\n"},
		},
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	path := writePolicyFile(t, dir, "bundle.json", string(data))

	l := NewLoader(zerolog.Nop())
	bundle, err := l.LoadBundle(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadBundle failed: %v", err)
	}
	if bundle.Name != "governance" || len(bundle.Policies) != 2 {
		t.Fatalf("unexpected bundle: %+v", bundle)
	}
}

func TestEngineLoadsCustomPoliciesFromDisk(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "backup.rego", sampleRego)

	e := newTestEngine(t)
	if err := e.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	input := storageInput("create", nil, nil)
	input.Entity.Metadata = map[string]string{"env": "production"}

	result, err := e.EvaluateInvocation(context.Background(), input)
	if err != nil {
		t.Fatalf("EvaluateInvocation failed: %v", err)
	}
	if _, found := findViolation(result, "backup"); !found {
		t.Fatalf("expected backup violation, got: %v", result.Violations)
	}
}
