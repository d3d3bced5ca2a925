package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Parser loads manifest files and runs the full validation pipeline.
type Parser struct {
	schemas   *SchemaRegistry
	evaluator *StarlarkEvaluator
	validator *validator.Validate
}

// NewParser creates a manifest parser with the built-in schemas.
func NewParser() *Parser {
	return &Parser{
		schemas:   NewSchemaRegistry(),
		evaluator: NewStarlarkEvaluator(30 * time.Second),
		validator: validator.New(),
	}
}

// SchemaRegistry returns the parser's schema registry, for registering
// additional entity types.
func (p *Parser) SchemaRegistry() *SchemaRegistry {
	return p.schemas
}

// Load parses a manifest from a file or from a directory of YAML files.
// Directory contents are merged in lexical order.
func (p *Parser) Load(ctx context.Context, source string) (*Manifest, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(source)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", source, err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
				continue
			}
			files = append(files, filepath.Join(source, name))
		}
		sort.Strings(files)
		if len(files) == 0 {
			return nil, fmt.Errorf("no manifest files found in %s", source)
		}
	} else {
		files = []string{source}
	}

	merged := &Manifest{
		SourceFiles: files,
		ParsedAt:    time.Now(),
	}
	seen := make(map[string]string)

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}

		part, err := p.ParseBytes(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		for i := range part.Errors {
			if part.Errors[i].File == "" {
				part.Errors[i].File = file
			}
		}
		merged.Errors = append(merged.Errors, part.Errors...)

		for _, ent := range part.Entities {
			if prev, dup := seen[ent.Path]; dup {
				merged.Errors = append(merged.Errors, ValidationError{
					File:     file,
					Path:     fmt.Sprintf("entities[%s]", ent.Path),
					Message:  fmt.Sprintf("duplicate entity path, first declared in %s", prev),
					Severity: "error",
				})
				continue
			}
			seen[ent.Path] = file
			merged.Entities = append(merged.Entities, ent)
		}
	}

	return merged, nil
}

// ParseBytes parses and validates a single manifest document.
func (p *Parser) ParseBytes(ctx context.Context, data []byte) (*Manifest, error) {
	var doc struct {
		Entities []EntityManifest `yaml:"entities"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	m := &Manifest{
		Entities: doc.Entities,
		ParsedAt: time.Now(),
	}

	for i := range m.Entities {
		p.validateEntity(ctx, m, i)
	}

	return m, nil
}

// validateEntity runs the envelope, schema and computed-field checks for
// one declaration, appending to m.Errors.
func (p *Parser) validateEntity(ctx context.Context, m *Manifest, idx int) {
	ent := &m.Entities[idx]
	where := fmt.Sprintf("entities[%d]", idx)

	if err := p.validator.Struct(ent); err != nil {
		m.Errors = append(m.Errors, ValidationError{
			Path:     where,
			Message:  err.Error(),
			Severity: "error",
		})
		return
	}

	if ent.Readiness != nil {
		r := ent.Readiness
		if r.PeriodSeconds < 0 || r.InitialDelaySeconds < 0 || r.Attempts < 0 {
			m.Errors = append(m.Errors, ValidationError{
				Path:     where + ".readiness",
				Message:  "readiness values must not be negative",
				Severity: "error",
			})
			return
		}
	}

	if err := p.schemas.ValidateDefinition(ctx, ent.Type, ent.Definition); err != nil {
		m.Errors = append(m.Errors, ValidationError{
			Path:     where + ".definition",
			Message:  err.Error(),
			Severity: "error",
		})
		return
	}

	if ent.Computed == "" {
		return
	}
	if err := p.applyComputed(ctx, ent); err != nil {
		m.Errors = append(m.Errors, ValidationError{
			Path:     where + ".computed",
			Message:  err.Error(),
			Severity: "error",
		})
	}
}

// applyComputed evaluates the entity's Starlark script and merges its
// exported globals into the definition. Scripts see the declared
// definition and metadata as read-only inputs; collisions with declared
// fields are rejected so a script can never silently override the
// manifest.
func (p *Parser) applyComputed(ctx context.Context, ent *EntityManifest) error {
	meta := make(map[string]interface{}, len(ent.Metadata))
	for k, v := range ent.Metadata {
		meta[k] = v
	}

	output, err := p.evaluator.Evaluate(ctx, ent.Computed, map[string]interface{}{
		"definition": ent.Definition,
		"metadata":   meta,
		"path":       ent.Path,
	})
	if err != nil {
		return err
	}

	for name, value := range output {
		if _, declared := ent.Definition[name]; declared {
			return fmt.Errorf("computed field %q collides with a declared definition field", name)
		}
		ent.Definition[name] = value
	}

	return nil
}
