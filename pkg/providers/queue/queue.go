// Package queue implements the message queue entity type.
package queue

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
const TypeName = "queue"

// ActionPurge drops all pending messages.
const ActionPurge = "purge"

// State keys.
const (
	keyQueueID = "queueId"
	keyName    = "name"
	keyRegion  = "region"
	keyStatus  = "status"
)

var readiness = entity.Readiness{PeriodSeconds: 5, InitialDelaySeconds: 2, Attempts: 10}

// Definition is the desired queue configuration.
type Definition struct {
	Name              string `json:"name" validate:"required"`
	Region            string `json:"region" validate:"required"`
	FIFO              bool   `json:"fifo,omitempty"`
	VisibilityTimeout int    `json:"visibilityTimeout,omitempty" validate:"omitempty,min=0,max=43200"`
	APITokenRef       string `json:"apiTokenRef" validate:"required"`
}

// Queue is the lifecycle implementation behind queue entities.
type Queue struct {
	def   Definition
	deps  entity.Deps
	state *entity.State
	path  string
}

func init() {
	entity.MustRegister(TypeName, New)
}

// New builds a queue entity instance.
func New(deps entity.Deps, spec entity.Spec) (*entity.Core, error) {
	var def Definition
	if err := providers.DecodeDefinition(spec.Definition, &def); err != nil {
		return nil, err
	}

	state := entity.StateFrom(spec.State)
	q := &Queue{def: def, deps: deps, state: state, path: spec.Path}

	return entity.NewCore(q, state,
		entity.WithPath(spec.Path),
		entity.WithMetadata(spec.Metadata),
		entity.WithReadiness(readiness),
		entity.WithLogger(deps.Logger),
		entity.WithCustomAction(ActionPurge, q.purge),
	)
}

type queueEnvelope struct {
	Queue struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Region string `json:"region"`
		Status string `json:"status"`
	} `json:"queue"`
}

func (q *Queue) identity() string {
	if id := q.state.GetString(keyQueueID); id != "" {
		return id
	}
	return q.def.Name
}

func (q *Queue) resourceURL(handle string) string {
	return fmt.Sprintf("%s/queues/%s?region=%s",
		providers.APIBase, url.PathEscape(handle), url.QueryEscape(q.def.Region))
}

func (q *Queue) call(ctx context.Context, method, u string, body []byte) (*gateway.Response, error) {
	token, err := secrets.Require(ctx, q.deps.Secrets, q.def.APITokenRef)
	if err != nil {
		return nil, entity.NewSecretError("provider credentials unavailable", err)
	}
	return q.deps.Gateway.Request(ctx, method, u, gateway.Options{
		Headers: providers.AuthHeaders(token),
		Body:    body,
	})
}

// Create probes by name and region and adopts a matching queue; only a
// confirmed absence triggers the mutating create call.
func (q *Queue) Create(ctx context.Context) error {
	resp, err := q.call(ctx, http.MethodGet, q.resourceURL(q.def.Name), nil)
	if err != nil {
		return err
	}
	if resp.Success() {
		adopted := q.state.GetString(keyQueueID) == ""
		q.syncFacts(resp)
		if adopted {
			q.state.SetExisting(true)
			telemetry.RecordAdoption(ctx, q.path, TypeName, q.state.GetString(keyQueueID))
		}
		return nil
	}
	if !resp.NotFound() {
		return entity.WrapResponse("create", resp)
	}

	payload, err := json.Marshal(map[string]any{
		"name":              q.def.Name,
		"region":            q.def.Region,
		"fifo":              q.def.FIFO,
		"visibilityTimeout": q.def.VisibilityTimeout,
	})
	if err != nil {
		return entity.NewValidationError("definition is not encodable", err)
	}

	resp, err = q.call(ctx, http.MethodPost, providers.APIBase+"/queues", payload)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return entity.WrapResponse("create", resp)
	}

	q.syncFacts(resp)
	q.state.Set(keyName, q.def.Name)
	q.state.Set(keyRegion, q.def.Region)
	q.state.SetExisting(false)
	if q.state.GetString(keyStatus) == "" {
		q.state.Set(keyStatus, "creating")
	}
	return nil
}

// Start is a no-op; queues accept messages whenever they exist.
func (q *Queue) Start(context.Context) error { return nil }

// Stop is a no-op; queues have no run state.
func (q *Queue) Stop(context.Context) error { return nil }

// Update pushes the mutable queue settings.
func (q *Queue) Update(ctx context.Context) error {
	payload, err := json.Marshal(map[string]any{
		"visibilityTimeout": q.def.VisibilityTimeout,
	})
	if err != nil {
		return entity.NewValidationError("definition is not encodable", err)
	}

	resp, err := q.call(ctx, http.MethodPut, q.resourceURL(q.identity()), payload)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return entity.WrapResponse("update", resp)
	}

	q.state.Set(keyStatus, "updating")
	return nil
}

// Delete destroys the queue. Adopted queues are never destroyed, and a
// state without id or name means there is nothing to delete.
func (q *Queue) Delete(ctx context.Context) error {
	if q.state.GetString(keyQueueID) == "" && q.state.GetString(keyName) == "" {
		return nil
	}
	if q.state.Existing() {
		q.deps.Logger.Warn().Str("queue", q.identity()).Msg("Refusing to delete adopted queue")
		return nil
	}

	resp, err := q.call(ctx, http.MethodDelete, q.resourceURL(q.identity()), nil)
	if err != nil {
		return err
	}
	if !resp.Success() && !resp.NotFound() {
		return entity.WrapResponse("delete", resp)
	}

	q.state.Clear()
	return nil
}

// CheckReadiness refreshes queue facts and reports whether the queue is
// active.
func (q *Queue) CheckReadiness(ctx context.Context) (bool, error) {
	resp, err := q.call(ctx, http.MethodGet, q.resourceURL(q.identity()), nil)
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

	q.syncFacts(resp)
	return q.state.GetString(keyStatus) == "active", nil
}

// purge drops all pending messages and reports how many were dropped.
func (q *Queue) purge(ctx context.Context, _ map[string]string) ([]string, error) {
	if q.state.GetString(keyQueueID) == "" && q.state.GetString(keyName) == "" {
		return nil, entity.NewValidationError("queue has not been created", nil)
	}

	purgeURL := fmt.Sprintf("%s/queues/%s/purge?region=%s",
		providers.APIBase, url.PathEscape(q.identity()), url.QueryEscape(q.def.Region))
	resp, err := q.call(ctx, http.MethodPost, purgeURL, nil)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, entity.WrapResponse(ActionPurge, resp)
	}

	var out struct {
		Purged int `json:"purged"`
	}
	if err := resp.JSON(&out); err != nil {
		return []string{"purge accepted"}, nil
	}
	return []string{fmt.Sprintf("purged %d messages", out.Purged)}, nil
}

// syncFacts copies observed queue facts into state.
func (q *Queue) syncFacts(resp *gateway.Response) {
	var env queueEnvelope
	if err := resp.JSON(&env); err != nil {
		return
	}
	if env.Queue.ID != "" {
		q.state.Set(keyQueueID, env.Queue.ID)
	}
	if env.Queue.Name != "" {
		q.state.Set(keyName, env.Queue.Name)
	}
	if env.Queue.Region != "" {
		q.state.Set(keyRegion, env.Queue.Region)
	}
	if env.Queue.Status != "" {
		q.state.Set(keyStatus, env.Queue.Status)
	}
}
