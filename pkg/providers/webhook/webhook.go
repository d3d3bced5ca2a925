// Package webhook implements the delegating entity type. Every action
// is forwarded to an external HTTP endpoint as a JSON envelope of
// definition, state and invocation context; the delegate answers with
// output lines and a replacement state record that this entity adopts.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/provisor/provisor/pkg/entity"
	"github.com/provisor/provisor/pkg/gateway"
	"github.com/provisor/provisor/pkg/providers"
	"github.com/provisor/provisor/pkg/secrets"
)

// TypeName is the manifest type this package registers.
const TypeName = "webhook"

var readiness = entity.Readiness{PeriodSeconds: 10, InitialDelaySeconds: 2, Attempts: 12}

// Definition is the delegate configuration. Payload is forwarded
// verbatim inside the definition envelope; Actions declares the custom
// actions the delegate understands.
type Definition struct {
	Endpoint  string         `json:"endpoint" validate:"required,url"`
	Payload   map[string]any `json:"payload,omitempty"`
	Actions   []string       `json:"actions,omitempty"`
	SecretRef string         `json:"secretRef,omitempty"`
}

// Delegate is the lifecycle implementation behind webhook entities.
type Delegate struct {
	def   Definition
	raw   map[string]any
	deps  entity.Deps
	state *entity.State
	path  string
}

func init() {
	entity.MustRegister(TypeName, New)
}

// New builds a webhook entity instance. Each action declared in the
// definition becomes a custom action on the core.
func New(deps entity.Deps, spec entity.Spec) (*entity.Core, error) {
	var def Definition
	if err := providers.DecodeDefinition(spec.Definition, &def); err != nil {
		return nil, err
	}

	state := entity.StateFrom(spec.State)
	d := &Delegate{def: def, raw: spec.Definition, deps: deps, state: state, path: spec.Path}

	opts := []entity.CoreOption{
		entity.WithPath(spec.Path),
		entity.WithMetadata(spec.Metadata),
		entity.WithReadiness(readiness),
		entity.WithLogger(deps.Logger),
	}
	for _, name := range def.Actions {
		action := name
		opts = append(opts, entity.WithCustomAction(action, func(ctx context.Context, args map[string]string) ([]string, error) {
			return d.forward(ctx, action, args)
		}))
	}

	return entity.NewCore(d, state, opts...)
}

type delegateContext struct {
	Status string            `json:"status"`
	Action string            `json:"action"`
	Path   string            `json:"path"`
	Args   map[string]string `json:"args,omitempty"`
}

type delegateRequest struct {
	Definition map[string]any    `json:"definition"`
	State      map[string]string `json:"state"`
	Context    delegateContext   `json:"context"`
}

type delegateResponse struct {
	Output []string       `json:"output,omitempty"`
	State  map[string]any `json:"state,omitempty"`
}

// forward sends one action envelope to the delegate and adopts the
// returned state.
func (d *Delegate) forward(ctx context.Context, action string, args map[string]string) ([]string, error) {
	headers := map[string]string{}
	if d.def.SecretRef != "" {
		token, err := secrets.Require(ctx, d.deps.Secrets, d.def.SecretRef)
		if err != nil {
			return nil, entity.NewSecretError("delegate credentials unavailable", err)
		}
		headers = providers.AuthHeaders(token)
	}

	body, err := json.Marshal(delegateRequest{
		Definition: d.raw,
		State:      d.state.Map(),
		Context: delegateContext{
			Action: action,
			Path:   d.path,
			Args:   args,
		},
	})
	if err != nil {
		return nil, entity.NewValidationError("delegate envelope is not encodable", err)
	}

	resp, err := d.deps.Gateway.Request(ctx, http.MethodPost, d.def.Endpoint, gateway.Options{
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, entity.WrapResponse(action, resp)
	}

	var answer delegateResponse
	if err := resp.JSON(&answer); err != nil {
		return nil, entity.NewProviderError(action, "delegate returned an undecodable body", err)
	}

	if answer.State != nil {
		d.replaceState(answer.State)
	}
	return answer.Output, nil
}

// replaceState adopts the delegate's state record wholesale. Scalars
// become their string form, composites are kept as compact JSON.
func (d *Delegate) replaceState(values map[string]any) {
	d.state.Clear()
	for k, v := range values {
		switch val := v.(type) {
		case string:
			d.state.Set(k, val)
		case bool:
			d.state.SetBool(k, val)
		case float64:
			d.state.Set(k, trimFloat(val))
		case nil:
			d.state.Set(k, "")
		default:
			if data, err := json.Marshal(val); err == nil {
				d.state.Set(k, string(data))
			}
		}
	}
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// Create forwards the create action.
func (d *Delegate) Create(ctx context.Context) error {
	_, err := d.forward(ctx, entity.ActionCreate, nil)
	return err
}

// Start forwards the start action.
func (d *Delegate) Start(ctx context.Context) error {
	_, err := d.forward(ctx, entity.ActionStart, nil)
	return err
}

// Stop forwards the stop action.
func (d *Delegate) Stop(ctx context.Context) error {
	_, err := d.forward(ctx, entity.ActionStop, nil)
	return err
}

// Update forwards the update action.
func (d *Delegate) Update(ctx context.Context) error {
	_, err := d.forward(ctx, entity.ActionUpdate, nil)
	return err
}

// Delete forwards the delete action. The protection invariants hold
// here too: adopted state is never forwarded for deletion and an empty
// state is a no-op.
func (d *Delegate) Delete(ctx context.Context) error {
	if d.state.Len() == 0 {
		return nil
	}
	if d.state.Existing() {
		d.deps.Logger.Warn().Str("endpoint", d.def.Endpoint).Msg("Refusing to delete adopted delegate state")
		return nil
	}
	_, err := d.forward(ctx, entity.ActionDelete, nil)
	return err
}

// CheckReadiness forwards check-readiness and reads the delegate's
// verdict from the returned state's ready key.
func (d *Delegate) CheckReadiness(ctx context.Context) (bool, error) {
	if _, err := d.forward(ctx, entity.ActionCheckReadiness, nil); err != nil {
		return false, err
	}
	return d.state.GetBool("ready"), nil
}
