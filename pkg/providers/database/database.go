// Package database implements the managed database cluster entity
// type. Clusters are identified remotely by a provider-assigned id,
// discovered by name during adoption.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/provisor/provisor/pkg/entity"
	"github.com/provisor/provisor/pkg/gateway"
	"github.com/provisor/provisor/pkg/providers"
	"github.com/provisor/provisor/pkg/secrets"
	"github.com/provisor/provisor/pkg/telemetry"
)

// TypeName is the manifest type this package registers.
const TypeName = "database"

// ActionResize scales a cluster in place.
const ActionResize = "resize"

// State keys.
const (
	keyClusterID = "clusterId"
	keyName      = "name"
	keyEngine    = "engine"
	keyRegion    = "region"
	keyStatus    = "status"
)

// Clusters provision slowly; the poll policy is the widest of the
// built-in types.
var readiness = entity.Readiness{PeriodSeconds: 15, InitialDelaySeconds: 2, Attempts: 20}

// Definition is the desired cluster configuration.
type Definition struct {
	Name        string `json:"name" validate:"required"`
	Engine      string `json:"engine" validate:"required,oneof=pg mysql redis mongodb"`
	Version     string `json:"version,omitempty"`
	Region      string `json:"region" validate:"required"`
	Size        string `json:"size" validate:"required"`
	Nodes       int    `json:"nodes,omitempty" validate:"omitempty,min=1,max=10"`
	APITokenRef string `json:"apiTokenRef" validate:"required"`
}

// Cluster is the lifecycle implementation behind database entities.
type Cluster struct {
	def   Definition
	deps  entity.Deps
	state *entity.State
	path  string
}

func init() {
	entity.MustRegister(TypeName, New)
}

// New builds a database cluster entity instance.
func New(deps entity.Deps, spec entity.Spec) (*entity.Core, error) {
	var def Definition
	if err := providers.DecodeDefinition(spec.Definition, &def); err != nil {
		return nil, err
	}

	state := entity.StateFrom(spec.State)
	c := &Cluster{def: def, deps: deps, state: state, path: spec.Path}

	return entity.NewCore(c, state,
		entity.WithPath(spec.Path),
		entity.WithMetadata(spec.Metadata),
		entity.WithReadiness(readiness),
		entity.WithLogger(deps.Logger),
		entity.WithCustomAction(ActionResize, c.resize),
	)
}

type clusterEnvelope struct {
	Database struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Engine string `json:"engine"`
		Region string `json:"region"`
		Status string `json:"status"`
	} `json:"database"`
}

// identity returns the remote handle: the provider id when known, the
// definition name otherwise.
func (c *Cluster) identity() string {
	if id := c.state.GetString(keyClusterID); id != "" {
		return id
	}
	return c.def.Name
}

func (c *Cluster) resourceURL(handle string) string {
	return providers.APIBase + "/databases/" + url.PathEscape(handle)
}

func (c *Cluster) call(ctx context.Context, method, u string, body []byte) (*gateway.Response, error) {
	token, err := secrets.Require(ctx, c.deps.Secrets, c.def.APITokenRef)
	if err != nil {
		return nil, entity.NewSecretError("provider credentials unavailable", err)
	}
	return c.deps.Gateway.Request(ctx, method, u, gateway.Options{
		Headers: providers.AuthHeaders(token),
		Body:    body,
	})
}

// Create probes by name and adopts a matching cluster; only a confirmed
// absence triggers the mutating create call. The call returns once the
// provider accepts the request, readiness polling confirms the cluster
// came online.
func (c *Cluster) Create(ctx context.Context) error {
	resp, err := c.call(ctx, http.MethodGet, c.resourceURL(c.def.Name), nil)
	if err != nil {
		return err
	}
	if resp.Success() {
		adopted := c.state.GetString(keyClusterID) == ""
		c.syncFacts(resp)
		if adopted {
			c.state.SetExisting(true)
			telemetry.RecordAdoption(ctx, c.path, TypeName, c.state.GetString(keyClusterID))
		}
		return nil
	}
	if !resp.NotFound() {
		return entity.WrapResponse("create", resp)
	}

	payload, err := json.Marshal(map[string]any{
		"name":    c.def.Name,
		"engine":  c.def.Engine,
		"version": c.def.Version,
		"region":  c.def.Region,
		"size":    c.def.Size,
		"nodes":   c.def.Nodes,
	})
	if err != nil {
		return entity.NewValidationError("definition is not encodable", err)
	}

	resp, err = c.call(ctx, http.MethodPost, providers.APIBase+"/databases", payload)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return entity.WrapResponse("create", resp)
	}

	c.syncFacts(resp)
	c.state.Set(keyName, c.def.Name)
	c.state.SetExisting(false)
	if c.state.GetString(keyStatus) == "" {
		c.state.Set(keyStatus, "creating")
	}
	return nil
}

// Start resumes a stopped cluster.
func (c *Cluster) Start(ctx context.Context) error {
	return c.postVerb(ctx, "start")
}

// Stop suspends a running cluster.
func (c *Cluster) Stop(ctx context.Context) error {
	return c.postVerb(ctx, "stop")
}

func (c *Cluster) postVerb(ctx context.Context, verb string) error {
	resp, err := c.call(ctx, http.MethodPost, c.resourceURL(c.identity())+"/"+verb, nil)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return entity.WrapResponse(verb, resp)
	}
	c.state.Set(keyStatus, verb+"ing")
	return nil
}

// Update pushes mutable cluster settings.
func (c *Cluster) Update(ctx context.Context) error {
	payload, err := json.Marshal(map[string]any{
		"version": c.def.Version,
		"size":    c.def.Size,
		"nodes":   c.def.Nodes,
	})
	if err != nil {
		return entity.NewValidationError("definition is not encodable", err)
	}

	resp, err := c.call(ctx, http.MethodPut, c.resourceURL(c.identity()), payload)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return entity.WrapResponse("update", resp)
	}

	c.state.Set(keyStatus, "updating")
	return nil
}

// Delete destroys the cluster. Adopted clusters are never destroyed,
// and a state without id or name means there is nothing to delete.
func (c *Cluster) Delete(ctx context.Context) error {
	if c.state.GetString(keyClusterID) == "" && c.state.GetString(keyName) == "" {
		return nil
	}
	if c.state.Existing() {
		c.deps.Logger.Warn().Str("cluster", c.identity()).Msg("Refusing to delete adopted cluster")
		return nil
	}

	resp, err := c.call(ctx, http.MethodDelete, c.resourceURL(c.identity()), nil)
	if err != nil {
		return err
	}
	if !resp.Success() && !resp.NotFound() {
		return entity.WrapResponse("delete", resp)
	}

	c.state.Clear()
	return nil
}

// CheckReadiness refreshes cluster facts and reports whether the
// cluster is online.
func (c *Cluster) CheckReadiness(ctx context.Context) (bool, error) {
	resp, err := c.call(ctx, http.MethodGet, c.resourceURL(c.identity()), nil)
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

	c.syncFacts(resp)
	return c.state.GetString(keyStatus) == "online", nil
}

// resize scales the cluster. Accepts size and nodes args; at least one
// is required. The provider acknowledges and the cluster converges
// asynchronously.
func (c *Cluster) resize(ctx context.Context, args map[string]string) ([]string, error) {
	size := args["size"]
	nodesArg := args["nodes"]
	if size == "" && nodesArg == "" {
		return nil, entity.NewValidationError("resize requires a size or nodes argument", nil)
	}

	payload := map[string]any{}
	if size != "" {
		payload["size"] = size
	}
	if nodesArg != "" {
		nodes, err := strconv.Atoi(nodesArg)
		if err != nil || nodes < 1 || nodes > 10 {
			return nil, entity.NewValidationError(fmt.Sprintf("invalid nodes argument %q", nodesArg), err)
		}
		payload["nodes"] = nodes
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, entity.NewValidationError("resize arguments are not encodable", err)
	}

	resp, err := c.call(ctx, http.MethodPut, c.resourceURL(c.identity())+"/resize", body)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, entity.WrapResponse(ActionResize, resp)
	}

	c.state.Set(keyStatus, "resizing")
	return []string{fmt.Sprintf("resize accepted for %s", c.identity())}, nil
}

// syncFacts copies observed cluster facts into state.
func (c *Cluster) syncFacts(resp *gateway.Response) {
	var env clusterEnvelope
	if err := resp.JSON(&env); err != nil {
		return
	}
	if env.Database.ID != "" {
		c.state.Set(keyClusterID, env.Database.ID)
	}
	if env.Database.Name != "" {
		c.state.Set(keyName, env.Database.Name)
	}
	if env.Database.Engine != "" {
		c.state.Set(keyEngine, env.Database.Engine)
	}
	if env.Database.Region != "" {
		c.state.Set(keyRegion, env.Database.Region)
	}
	if env.Database.Status != "" {
		c.state.Set(keyStatus, env.Database.Status)
	}
}
