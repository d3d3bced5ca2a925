// Package providers carries the plumbing shared by every entity type
// package: definition decoding with struct-tag validation and the
// control plane base URL.
//
// Each entity type lives in its own subpackage, registers itself with
// the entity registry at init, and follows one skeleton: a typed
// Definition struct decoded from the manifest, state key constants, a
// deterministic remote identity derived from the definition, a
// probe-then-adopt Create, a protected Delete and a CheckReadiness that
// distinguishes wait-longer from never-going-to-happen.
package providers

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/provisor/provisor/pkg/entity"
)

// APIBase is the provider control plane all entity types talk to.
const APIBase = "https://api.provisor.cloud/v2"

var validate = validator.New()

// DecodeDefinition decodes a raw manifest definition into a typed
// definition struct and validates its tags. Failures are validation
// class: the definition is wrong and retrying cannot fix it.
func DecodeDefinition(raw map[string]any, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return entity.NewValidationError("definition is not encodable", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return entity.NewValidationError("definition does not match the expected shape", err)
	}
	if err := validate.Struct(out); err != nil {
		return entity.NewValidationError("definition failed validation", err)
	}
	return nil
}

// AuthHeaders builds the per-request authorization headers carrying the
// provider API token.
func AuthHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}
