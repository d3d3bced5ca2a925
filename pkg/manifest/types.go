package manifest

import (
	"fmt"
	"time"

	"github.com/provisor/provisor/pkg/entity"
)

// EntityManifest is one entity declaration from a manifest file.
type EntityManifest struct {
	// Path is the unique identity of the entity, hierarchical by
	// convention ("team/name").
	Path string `yaml:"path" json:"path" validate:"required"`

	// Type names the registered entity type handling this declaration.
	Type string `yaml:"type" json:"type" validate:"required"`

	// Metadata carries free-form labels attached to every invocation.
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	// Readiness overrides the entity type's default polling policy.
	Readiness *entity.Readiness `yaml:"readiness,omitempty" json:"readiness,omitempty"`

	// Definition is the type-specific desired configuration.
	Definition map[string]interface{} `yaml:"definition" json:"definition" validate:"required"`

	// Computed is an optional Starlark script whose exported globals
	// are merged into Definition before dispatch.
	Computed string `yaml:"computed,omitempty" json:"computed,omitempty"`
}

// Manifest is a parsed manifest document.
type Manifest struct {
	// Entities are the declared entities, in file order.
	Entities []EntityManifest `yaml:"entities" json:"entities"`

	// SourceFiles are the files this manifest was loaded from.
	SourceFiles []string `yaml:"-" json:"source_files,omitempty"`

	// ParsedAt records when parsing happened.
	ParsedAt time.Time `yaml:"-" json:"parsed_at"`

	// Errors collects validation problems. A manifest with errors must
	// not be dispatched.
	Errors []ValidationError `yaml:"-" json:"errors,omitempty"`
}

// Valid reports whether the manifest parsed without errors.
func (m *Manifest) Valid() bool {
	return len(m.Errors) == 0
}

// Lookup returns the entity declaration for a path.
func (m *Manifest) Lookup(path string) (*EntityManifest, bool) {
	for i := range m.Entities {
		if m.Entities[i].Path == path {
			return &m.Entities[i], true
		}
	}
	return nil, false
}

// ValidationError describes one problem found while parsing or
// validating a manifest.
type ValidationError struct {
	// File is the source file, when known.
	File string `json:"file,omitempty"`

	// Path locates the problem within the document (e.g. "entities[2].definition").
	Path string `json:"path,omitempty"`

	// Line and Column locate the problem in the file, when known.
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// Severity is "error" or "warning".
	Severity string `json:"severity"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}
