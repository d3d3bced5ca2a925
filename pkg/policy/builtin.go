package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		protectedDeletePolicy(),
		regionAllowlistPolicy(),
		secretHygienePolicy(),
		pathNamingPolicy(),
		productionSafetyPolicy(),
	}
}

// protectedDeletePolicy blocks deletion of adopted entities.
func protectedDeletePolicy() Policy {
	return Policy{
		Name:        "protected-delete",
		Description: "Blocks deletion of adopted entities unless allow-destroy is set",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"safety", "delete"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package provisor.policies.protected_delete

import rego.v1

deny contains violation if {
	input.context.action == "delete"
	input.entity.state.existing == true
	not input.context.args["allow-destroy"] == true

	violation := {
		"message": sprintf("entity %s was adopted from an existing resource; pass allow-destroy to delete it", [input.entity.path]),
		"severity": "critical",
		"path": input.entity.path,
	}
}`,
	}
}

// regionAllowlistPolicy restricts entities to approved regions.
func regionAllowlistPolicy() Policy {
	return Policy{
		Name:        "region-allowlist",
		Description: "Restricts entity definitions to approved provider regions",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"regions", "compliance"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package provisor.policies.regions

import rego.v1

allowed_regions := ["nyc1", "nyc3", "ams3", "fra1", "lon1", "sfo3", "sgp1"]

deny contains violation if {
	region := input.entity.definition.region
	not region in allowed_regions

	violation := {
		"message": sprintf("entity %s declares region %s which is not on the allowlist", [input.entity.path, region]),
		"severity": "error",
		"path": input.entity.path,
	}
}`,
	}
}

// secretHygienePolicy rejects plaintext credentials in definitions.
func secretHygienePolicy() Policy {
	return Policy{
		Name:        "secret-hygiene",
		Description: "Rejects plaintext credentials in entity definitions; secrets must be referenced by name",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"secrets", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package provisor.policies.secrets

import rego.v1

sensitive_field_pattern := "(?i)(password|apikey|api_key|secret|token|credential)$"

deny contains violation if {
	some key, _ in input.entity.definition
	regex.match(sensitive_field_pattern, key)

	# Fields ending in Ref carry secret store names, not values
	not endswith(key, "Ref")

	violation := {
		"message": sprintf("entity %s carries a plaintext credential in field %s; use a secret reference instead", [input.entity.path, key]),
		"severity": "error",
		"path": input.entity.path,
	}
}`,
	}
}

// pathNamingPolicy enforces entity path conventions.
func pathNamingPolicy() Policy {
	return Policy{
		Name:        "path-naming",
		Description: "Enforces entity path conventions (lowercase segments separated by slashes)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package provisor.policies.naming

import rego.v1

deny contains violation if {
	path := input.entity.path
	not regex.match("^[a-z0-9][a-z0-9-]*(/[a-z0-9][a-z0-9-]*)*$", path)

	violation := {
		"message": sprintf("entity path %q must be lowercase segments of letters, numbers and hyphens separated by slashes", [path]),
		"severity": "error",
		"path": path,
	}
}

deny contains violation if {
	path := input.entity.path
	count(path) > 255

	violation := {
		"message": sprintf("entity path %q exceeds 255 characters", [path]),
		"severity": "error",
		"path": path,
	}
}`,
	}
}

// productionSafetyPolicy gates destructive actions in production.
func productionSafetyPolicy() Policy {
	return Policy{
		Name:        "production-safety",
		Description: "Requires an explicit approval argument for destructive actions in production",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"operations", "safety", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package provisor.policies.operations

import rego.v1

destructive_actions := ["delete", "recreate", "purge"]

deny contains violation if {
	some action in destructive_actions
	input.context.action == action
	input.context.environment == "production"
	not input.context.dry_run
	not input.context.args["approved"] == true

	violation := {
		"message": sprintf("destructive action %q in production requires an approved argument", [action]),
		"severity": "critical",
		"path": input.entity.path,
	}
}`,
	}
}
