package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that block the invocation.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must never be bypassed.
	SeverityCritical Severity = "critical"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Path is the entity path that violated the policy.
	Path string `json:"path,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// Result represents the outcome of evaluating an invocation against
// all loaded policies.
type Result struct {
	// Allowed indicates if the invocation may proceed.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists evaluation problems that did not block.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that ran.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation happened.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the data handed to Rego evaluation as `input`.
type Input struct {
	// Entity describes the entity the action targets.
	Entity *EntityInfo `json:"entity,omitempty"`

	// Context describes the invocation.
	Context *Context `json:"context"`
}

// EntityInfo is the policy-visible view of an entity.
type EntityInfo struct {
	// Path is the entity's hierarchical identity.
	Path string `json:"path"`

	// Type names the entity type.
	Type string `json:"type"`

	// Definition is the desired configuration.
	Definition map[string]interface{} `json:"definition,omitempty"`

	// State is the persisted entity state.
	State map[string]interface{} `json:"state,omitempty"`

	// Metadata carries the manifest labels.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Context provides invocation context for policy evaluation.
type Context struct {
	// Action is the requested action (e.g. "create", "delete").
	Action string `json:"action"`

	// Args are the caller-supplied action arguments.
	Args map[string]interface{} `json:"args,omitempty"`

	// Environment is the deployment environment (e.g. "production").
	Environment string `json:"environment,omitempty"`

	// User is who initiated the invocation.
	User string `json:"user,omitempty"`

	// DryRun indicates a plan-only evaluation.
	DryRun bool `json:"dry_run"`

	// Timestamp is when the evaluation occurs.
	Timestamp time.Time `json:"timestamp"`
}

// Bundle represents a collection of related policies.
type Bundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`

	// CreatedAt is when the bundle was created.
	CreatedAt time.Time `json:"created_at"`
}
