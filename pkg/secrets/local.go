package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Env resolves secret references from the process environment.
//
// References are mapped to environment variable names by uppercasing
// and replacing path separators, so "do/api-token" reads DO_API_TOKEN.
type Env struct {
	// Prefix, when set, is prepended to every variable name.
	Prefix string
}

// Get implements Store.
func (e *Env) Get(_ context.Context, ref string) (string, error) {
	value, ok := os.LookupEnv(e.varName(ref))
	if !ok {
		return "", fmt.Errorf("%s: %w", e.varName(ref), ErrNotFound)
	}
	return value, nil
}

// Set implements Store. The environment is read-only.
func (e *Env) Set(context.Context, string, string) error {
	return ErrReadOnly
}

func (e *Env) varName(ref string) string {
	name := strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(ref)
	return e.Prefix + strings.ToUpper(name)
}

// File stores secrets in a YAML file on disk. Writes rewrite the whole
// file with 0600 permissions.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile creates a file-backed store at path. The file need not exist
// until the first Set.
func NewFile(path string) *File {
	return &File{path: path}
}

// Get implements Store.
func (f *File) Get(_ context.Context, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return "", err
	}
	value, ok := values[ref]
	if !ok {
		return "", fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return value, nil
}

// Set implements Store.
func (f *File) Set(_ context.Context, ref, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return err
	}
	values[ref] = value

	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode secret file: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write secret file: %w", err)
	}
	return nil
}

func (f *File) load() (map[string]string, error) {
	values := make(map[string]string)
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, fmt.Errorf("failed to read secret file: %w", err)
	}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse secret file: %w", err)
	}
	return values, nil
}

// Static is an in-memory store for tests.
type Static struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewStatic creates a store pre-populated with values.
func NewStatic(values map[string]string) *Static {
	s := &Static{values: make(map[string]string, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Get implements Store.
func (s *Static) Get(_ context.Context, ref string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[ref]
	if !ok {
		return "", fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return value, nil
}

// Set implements Store.
func (s *Static) Set(_ context.Context, ref, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[ref] = value
	return nil
}
