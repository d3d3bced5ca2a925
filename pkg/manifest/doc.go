// Package manifest loads and validates entity manifests.
//
// A manifest is a YAML document declaring the entities provisor manages:
// each entry carries a unique path, an entity type, the type-specific
// definition, optional metadata, an optional readiness override and an
// optional Starlark script computing derived definition fields.
//
// Validation is layered: struct tags (go-playground/validator) check the
// envelope, and per-type CUE schemas check the definition payload.
// Computed fields run through a sandboxed Starlark interpreter after
// schema validation, so scripts see a definition that already passed.
package manifest
