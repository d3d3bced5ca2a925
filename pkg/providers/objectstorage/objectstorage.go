// Package objectstorage implements the object storage bucket entity
// type. Buckets are identified remotely by name and region.
package objectstorage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/provisor/provisor/pkg/entity"
	"github.com/provisor/provisor/pkg/gateway"
	"github.com/provisor/provisor/pkg/providers"
	"github.com/provisor/provisor/pkg/secrets"
	"github.com/provisor/provisor/pkg/telemetry"
)

// TypeName is the manifest type this package registers.
const TypeName = "object-storage"

// State keys.
const (
	keyBucketName = "bucketName"
	keyRegion     = "region"
	keyStatus     = "status"
	keyStatusCode = "statusCode"
)

var readiness = entity.Readiness{PeriodSeconds: 5, InitialDelaySeconds: 2, Attempts: 12}

// Definition is the desired bucket configuration.
type Definition struct {
	Name        string `json:"name" validate:"required"`
	Region      string `json:"region" validate:"required"`
	ACL         string `json:"acl,omitempty" validate:"omitempty,oneof=private public-read"`
	Versioning  bool   `json:"versioning,omitempty"`
	APITokenRef string `json:"apiTokenRef" validate:"required"`
}

// Bucket is the lifecycle implementation behind object-storage
// entities.
type Bucket struct {
	def   Definition
	deps  entity.Deps
	state *entity.State
	path  string
}

func init() {
	entity.MustRegister(TypeName, New)
}

// New builds a bucket entity instance.
func New(deps entity.Deps, spec entity.Spec) (*entity.Core, error) {
	var def Definition
	if err := providers.DecodeDefinition(spec.Definition, &def); err != nil {
		return nil, err
	}

	state := entity.StateFrom(spec.State)
	b := &Bucket{def: def, deps: deps, state: state, path: spec.Path}

	return entity.NewCore(b, state,
		entity.WithPath(spec.Path),
		entity.WithMetadata(spec.Metadata),
		entity.WithReadiness(readiness),
		entity.WithLogger(deps.Logger),
	)
}

type bucketEnvelope struct {
	Bucket struct {
		Name   string `json:"name"`
		Region string `json:"region"`
		Status string `json:"status"`
	} `json:"bucket"`
}

func (b *Bucket) resourceURL(name string) string {
	return fmt.Sprintf("%s/buckets/%s?region=%s",
		providers.APIBase, url.PathEscape(name), url.QueryEscape(b.def.Region))
}

func (b *Bucket) call(ctx context.Context, method, u string, body []byte) (*gateway.Response, error) {
	token, err := secrets.Require(ctx, b.deps.Secrets, b.def.APITokenRef)
	if err != nil {
		return nil, entity.NewSecretError("provider credentials unavailable", err)
	}
	return b.deps.Gateway.Request(ctx, method, u, gateway.Options{
		Headers: providers.AuthHeaders(token),
		Body:    body,
	})
}

// Create probes for a bucket with the definition's name and region and
// adopts it when found; only a confirmed absence triggers the mutating
// create call.
func (b *Bucket) Create(ctx context.Context) error {
	resp, err := b.call(ctx, http.MethodGet, b.resourceURL(b.def.Name), nil)
	if err != nil {
		return err
	}
	if resp.Success() {
		// A bucket found with no identity on record was provisioned
		// outside this orchestrator.
		adopted := b.state.GetString(keyBucketName) == ""
		b.syncFacts(resp)
		if adopted {
			b.state.SetExisting(true)
			telemetry.RecordAdoption(ctx, b.path, TypeName, b.state.GetString(keyBucketName))
		}
		return nil
	}
	if !resp.NotFound() {
		return entity.WrapResponse("create", resp)
	}

	payload, err := json.Marshal(map[string]any{
		"name":       b.def.Name,
		"region":     b.def.Region,
		"acl":        b.def.ACL,
		"versioning": b.def.Versioning,
	})
	if err != nil {
		return entity.NewValidationError("definition is not encodable", err)
	}

	resp, err = b.call(ctx, http.MethodPost, providers.APIBase+"/buckets", payload)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return entity.WrapResponse("create", resp)
	}

	b.state.Set(keyBucketName, b.def.Name)
	b.state.Set(keyRegion, b.def.Region)
	b.state.SetInt(keyStatusCode, resp.StatusCode)
	b.state.SetExisting(false)

	var env bucketEnvelope
	if err := resp.JSON(&env); err == nil && env.Bucket.Status != "" {
		b.state.Set(keyStatus, env.Bucket.Status)
	} else {
		b.state.Set(keyStatus, "provisioning")
	}
	return nil
}

// Start is a no-op; buckets have no run state.
func (b *Bucket) Start(context.Context) error { return nil }

// Stop is a no-op; buckets have no run state.
func (b *Bucket) Stop(context.Context) error { return nil }

// Update pushes the mutable bucket settings. The call returns once the
// provider accepts; convergence is confirmed by readiness polling.
func (b *Bucket) Update(ctx context.Context) error {
	name := b.state.GetString(keyBucketName)
	if name == "" {
		name = b.def.Name
	}

	payload, err := json.Marshal(map[string]any{
		"acl":        b.def.ACL,
		"versioning": b.def.Versioning,
	})
	if err != nil {
		return entity.NewValidationError("definition is not encodable", err)
	}

	resp, err := b.call(ctx, http.MethodPut, b.resourceURL(name), payload)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return entity.WrapResponse("update", resp)
	}

	b.state.Set(keyBucketName, name)
	b.state.Set(keyRegion, b.def.Region)
	b.state.SetInt(keyStatusCode, resp.StatusCode)
	b.state.Set(keyStatus, "provisioning")
	return nil
}

// Delete destroys the bucket. Adopted buckets are never destroyed, and
// a state with no recorded name means there is nothing to delete.
func (b *Bucket) Delete(ctx context.Context) error {
	name, ok := b.state.Get(keyBucketName)
	if !ok || name == "" {
		return nil
	}
	if b.state.Existing() {
		b.deps.Logger.Warn().Str("bucket", name).Msg("Refusing to delete adopted bucket")
		return nil
	}

	resp, err := b.call(ctx, http.MethodDelete, b.resourceURL(name), nil)
	if err != nil {
		return err
	}
	if !resp.Success() && !resp.NotFound() {
		return entity.WrapResponse("delete", resp)
	}

	b.state.Clear()
	return nil
}

// CheckReadiness refreshes bucket facts and reports whether the bucket
// is available. Not-found propagates as keep-waiting; auth failures
// abort the poll loop.
func (b *Bucket) CheckReadiness(ctx context.Context) (bool, error) {
	name := b.state.GetString(keyBucketName)
	if name == "" {
		name = b.def.Name
	}

	resp, err := b.call(ctx, http.MethodGet, b.resourceURL(name), nil)
	if err != nil {
		return false, err
	}
	if resp.NotFound() {
		return false, nil
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return false, entity.WrapResponse("check-readiness", resp)
	}
	if !resp.Success() {
		return false, nil
	}

	b.syncFacts(resp)
	return b.state.GetString(keyStatus) == "available", nil
}

// syncFacts copies observed bucket facts into state.
func (b *Bucket) syncFacts(resp *gateway.Response) {
	var env bucketEnvelope
	if err := resp.JSON(&env); err != nil {
		return
	}
	if env.Bucket.Name != "" {
		b.state.Set(keyBucketName, env.Bucket.Name)
	}
	if env.Bucket.Region != "" {
		b.state.Set(keyRegion, env.Bucket.Region)
	}
	if env.Bucket.Status != "" {
		b.state.Set(keyStatus, env.Bucket.Status)
	}
	b.state.SetInt(keyStatusCode, resp.StatusCode)
}
