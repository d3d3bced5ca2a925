// Package function implements the serverless function entity type.
// Functions expose two custom actions: invoke, which executes the
// deployed function synchronously, and recreate, which force-replaces
// the deployment with a delete followed by a create.
package function

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/provisor/provisor/pkg/entity"
	"github.com/provisor/provisor/pkg/gateway"
	"github.com/provisor/provisor/pkg/providers"
	"github.com/provisor/provisor/pkg/secrets"
	"github.com/provisor/provisor/pkg/telemetry"
)

// TypeName is the manifest type this package registers.
const TypeName = "function"

// Custom actions.
const (
	ActionInvoke   = "invoke"
	ActionRecreate = "recreate"
)

// State keys.
const (
	keyFunctionID = "functionId"
	keyName       = "name"
	keyStatus     = "status"
)

var readiness = entity.Readiness{PeriodSeconds: 5, InitialDelaySeconds: 2, Attempts: 12}

// Definition is the desired function configuration.
type Definition struct {
	Name           string            `json:"name" validate:"required"`
	Runtime        string            `json:"runtime" validate:"required"`
	Handler        string            `json:"handler" validate:"required"`
	SourceURL      string            `json:"sourceUrl" validate:"required,url"`
	MemoryMB       int               `json:"memoryMB,omitempty" validate:"omitempty,min=64,max=10240"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty" validate:"omitempty,min=1,max=900"`
	Env            map[string]string `json:"env,omitempty"`
	APITokenRef    string            `json:"apiTokenRef" validate:"required"`
}

// Function is the lifecycle implementation behind function entities.
type Function struct {
	def   Definition
	deps  entity.Deps
	state *entity.State
	path  string
}

func init() {
	entity.MustRegister(TypeName, New)
}

// New builds a function entity instance.
func New(deps entity.Deps, spec entity.Spec) (*entity.Core, error) {
	var def Definition
	if err := providers.DecodeDefinition(spec.Definition, &def); err != nil {
		return nil, err
	}

	state := entity.StateFrom(spec.State)
	f := &Function{def: def, deps: deps, state: state, path: spec.Path}

	return entity.NewCore(f, state,
		entity.WithPath(spec.Path),
		entity.WithMetadata(spec.Metadata),
		entity.WithReadiness(readiness),
		entity.WithLogger(deps.Logger),
		entity.WithCustomAction(ActionInvoke, f.invoke),
		entity.WithCustomAction(ActionRecreate, f.recreate),
	)
}

type functionEnvelope struct {
	Function struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Status string `json:"status"`
	} `json:"function"`
}

func (f *Function) identity() string {
	if id := f.state.GetString(keyFunctionID); id != "" {
		return id
	}
	return f.def.Name
}

func (f *Function) resourceURL(handle string) string {
	return providers.APIBase + "/functions/" + url.PathEscape(handle)
}

func (f *Function) call(ctx context.Context, method, u string, body []byte) (*gateway.Response, error) {
	token, err := secrets.Require(ctx, f.deps.Secrets, f.def.APITokenRef)
	if err != nil {
		return nil, entity.NewSecretError("provider credentials unavailable", err)
	}
	return f.deps.Gateway.Request(ctx, method, u, gateway.Options{
		Headers: providers.AuthHeaders(token),
		Body:    body,
	})
}

// Create probes by name and adopts a matching deployment; only a
// confirmed absence triggers the mutating deploy call.
func (f *Function) Create(ctx context.Context) error {
	resp, err := f.call(ctx, http.MethodGet, f.resourceURL(f.def.Name), nil)
	if err != nil {
		return err
	}
	if resp.Success() {
		adopted := f.state.GetString(keyFunctionID) == ""
		f.syncFacts(resp)
		if adopted {
			f.state.SetExisting(true)
			telemetry.RecordAdoption(ctx, f.path, TypeName, f.state.GetString(keyFunctionID))
		}
		return nil
	}
	if !resp.NotFound() {
		return entity.WrapResponse("create", resp)
	}

	payload, err := json.Marshal(map[string]any{
		"name":           f.def.Name,
		"runtime":        f.def.Runtime,
		"handler":        f.def.Handler,
		"sourceUrl":      f.def.SourceURL,
		"memoryMB":       f.def.MemoryMB,
		"timeoutSeconds": f.def.TimeoutSeconds,
		"env":            f.def.Env,
	})
	if err != nil {
		return entity.NewValidationError("definition is not encodable", err)
	}

	resp, err = f.call(ctx, http.MethodPost, providers.APIBase+"/functions", payload)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return entity.WrapResponse("create", resp)
	}

	f.syncFacts(resp)
	f.state.Set(keyName, f.def.Name)
	f.state.SetExisting(false)
	if f.state.GetString(keyStatus) == "" {
		f.state.Set(keyStatus, "deploying")
	}
	return nil
}

// Start enables invocation of a disabled function.
func (f *Function) Start(ctx context.Context) error {
	return f.postVerb(ctx, "enable")
}

// Stop disables invocation without removing the deployment.
func (f *Function) Stop(ctx context.Context) error {
	return f.postVerb(ctx, "disable")
}

func (f *Function) postVerb(ctx context.Context, verb string) error {
	resp, err := f.call(ctx, http.MethodPost, f.resourceURL(f.identity())+"/"+verb, nil)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return entity.WrapResponse(verb, resp)
	}
	f.state.Set(keyStatus, verb+"d")
	return nil
}

// Update redeploys the function with the current definition.
func (f *Function) Update(ctx context.Context) error {
	payload, err := json.Marshal(map[string]any{
		"runtime":        f.def.Runtime,
		"handler":        f.def.Handler,
		"sourceUrl":      f.def.SourceURL,
		"memoryMB":       f.def.MemoryMB,
		"timeoutSeconds": f.def.TimeoutSeconds,
		"env":            f.def.Env,
	})
	if err != nil {
		return entity.NewValidationError("definition is not encodable", err)
	}

	resp, err := f.call(ctx, http.MethodPut, f.resourceURL(f.identity()), payload)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return entity.WrapResponse("update", resp)
	}

	f.state.Set(keyStatus, "deploying")
	return nil
}

// Delete removes the deployment. Adopted functions are never removed,
// and a state without id or name means there is nothing to delete.
func (f *Function) Delete(ctx context.Context) error {
	if f.state.GetString(keyFunctionID) == "" && f.state.GetString(keyName) == "" {
		return nil
	}
	if f.state.Existing() {
		f.deps.Logger.Warn().Str("function", f.identity()).Msg("Refusing to delete adopted function")
		return nil
	}

	resp, err := f.call(ctx, http.MethodDelete, f.resourceURL(f.identity()), nil)
	if err != nil {
		return err
	}
	if !resp.Success() && !resp.NotFound() {
		return entity.WrapResponse("delete", resp)
	}

	f.state.Clear()
	return nil
}

// CheckReadiness refreshes function facts and reports whether the
// deployment is active.
func (f *Function) CheckReadiness(ctx context.Context) (bool, error) {
	resp, err := f.call(ctx, http.MethodGet, f.resourceURL(f.identity()), nil)
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

	f.syncFacts(resp)
	return f.state.GetString(keyStatus) == "active", nil
}

// invoke executes the deployed function synchronously. The optional
// payload arg is forwarded verbatim as the request body; the response
// body comes back as output lines.
func (f *Function) invoke(ctx context.Context, args map[string]string) ([]string, error) {
	if f.state.GetString(keyFunctionID) == "" && f.state.GetString(keyName) == "" {
		return nil, entity.NewValidationError("function has not been deployed", nil)
	}

	var body []byte
	if payload, ok := args["payload"]; ok {
		if !json.Valid([]byte(payload)) {
			return nil, entity.NewValidationError("payload argument is not valid JSON", nil)
		}
		body = []byte(payload)
	}

	resp, err := f.call(ctx, http.MethodPost, f.resourceURL(f.identity())+"/invoke", body)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, entity.WrapResponse(ActionInvoke, resp)
	}

	out := strings.TrimRight(string(resp.Body), "\n")
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// recreate force-replaces the deployment: delete, then create. The
// delete keeps its protections, so recreating an adopted function
// re-adopts it instead of redeploying.
func (f *Function) recreate(ctx context.Context, _ map[string]string) ([]string, error) {
	if err := f.Delete(ctx); err != nil {
		return nil, err
	}
	if err := f.Create(ctx); err != nil {
		return nil, err
	}
	return []string{"recreated " + f.def.Name}, nil
}

// syncFacts copies observed deployment facts into state.
func (f *Function) syncFacts(resp *gateway.Response) {
	var env functionEnvelope
	if err := resp.JSON(&env); err != nil {
		return
	}
	if env.Function.ID != "" {
		f.state.Set(keyFunctionID, env.Function.ID)
	}
	if env.Function.Name != "" {
		f.state.Set(keyName, env.Function.Name)
	}
	if env.Function.Status != "" {
		f.state.Set(keyStatus, env.Function.Status)
	}
}
