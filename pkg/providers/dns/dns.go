// Package dns implements the DNS zone entity type. Zones are
// identified remotely by their fully qualified name; record management
// is exposed through the add-record and remove-record custom actions.
package dns

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
const TypeName = "dns"

// Custom actions.
const (
	ActionAddRecord    = "add-record"
	ActionRemoveRecord = "remove-record"
)

// State keys.
const (
	keyZone   = "zone"
	keyStatus = "status"
)

var readiness = entity.Readiness{PeriodSeconds: 10, InitialDelaySeconds: 2, Attempts: 18}

var recordTypes = map[string]bool{
	"A": true, "AAAA": true, "CNAME": true, "TXT": true, "MX": true, "SRV": true, "NS": true,
}

// Definition is the desired zone configuration.
type Definition struct {
	Zone        string `json:"zone" validate:"required,fqdn"`
	TTL         int    `json:"ttl,omitempty" validate:"omitempty,min=30,max=86400"`
	APITokenRef string `json:"apiTokenRef" validate:"required"`
}

// Zone is the lifecycle implementation behind dns entities.
type Zone struct {
	def   Definition
	deps  entity.Deps
	state *entity.State
	path  string
}

func init() {
	entity.MustRegister(TypeName, New)
}

// New builds a dns zone entity instance.
func New(deps entity.Deps, spec entity.Spec) (*entity.Core, error) {
	var def Definition
	if err := providers.DecodeDefinition(spec.Definition, &def); err != nil {
		return nil, err
	}

	state := entity.StateFrom(spec.State)
	z := &Zone{def: def, deps: deps, state: state, path: spec.Path}

	return entity.NewCore(z, state,
		entity.WithPath(spec.Path),
		entity.WithMetadata(spec.Metadata),
		entity.WithReadiness(readiness),
		entity.WithLogger(deps.Logger),
		entity.WithCustomAction(ActionAddRecord, z.addRecord),
		entity.WithCustomAction(ActionRemoveRecord, z.removeRecord),
	)
}

type zoneEnvelope struct {
	Zone struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	} `json:"zone"`
}

func (z *Zone) zoneURL() string {
	return providers.APIBase + "/zones/" + url.PathEscape(z.def.Zone)
}

func (z *Zone) recordsURL() string {
	return z.zoneURL() + "/records"
}

func (z *Zone) call(ctx context.Context, method, u string, body []byte) (*gateway.Response, error) {
	token, err := secrets.Require(ctx, z.deps.Secrets, z.def.APITokenRef)
	if err != nil {
		return nil, entity.NewSecretError("provider credentials unavailable", err)
	}
	return z.deps.Gateway.Request(ctx, method, u, gateway.Options{
		Headers: providers.AuthHeaders(token),
		Body:    body,
	})
}

// Create probes for the zone and adopts it when found; only a confirmed
// absence triggers the mutating create call.
func (z *Zone) Create(ctx context.Context) error {
	resp, err := z.call(ctx, http.MethodGet, z.zoneURL(), nil)
	if err != nil {
		return err
	}
	if resp.Success() {
		adopted := z.state.GetString(keyZone) == ""
		z.syncFacts(resp)
		if adopted {
			z.state.SetExisting(true)
			telemetry.RecordAdoption(ctx, z.path, TypeName, z.state.GetString(keyZone))
		}
		return nil
	}
	if !resp.NotFound() {
		return entity.WrapResponse("create", resp)
	}

	payload, err := json.Marshal(map[string]any{
		"name": z.def.Zone,
		"ttl":  z.def.TTL,
	})
	if err != nil {
		return entity.NewValidationError("definition is not encodable", err)
	}

	resp, err = z.call(ctx, http.MethodPost, providers.APIBase+"/zones", payload)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return entity.WrapResponse("create", resp)
	}

	z.state.Set(keyZone, z.def.Zone)
	z.state.SetExisting(false)
	z.state.Set(keyStatus, "pending")
	return nil
}

// Start is a no-op; zones serve as soon as they propagate.
func (z *Zone) Start(context.Context) error { return nil }

// Stop is a no-op; zones have no run state.
func (z *Zone) Stop(context.Context) error { return nil }

// Update pushes the mutable zone settings.
func (z *Zone) Update(ctx context.Context) error {
	payload, err := json.Marshal(map[string]any{
		"ttl": z.def.TTL,
	})
	if err != nil {
		return entity.NewValidationError("definition is not encodable", err)
	}

	resp, err := z.call(ctx, http.MethodPut, z.zoneURL(), payload)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return entity.WrapResponse("update", resp)
	}

	z.state.Set(keyStatus, "pending")
	return nil
}

// Delete removes the zone. Adopted zones are never removed, and a
// state without a zone name means there is nothing to delete.
func (z *Zone) Delete(ctx context.Context) error {
	if z.state.GetString(keyZone) == "" {
		return nil
	}
	if z.state.Existing() {
		z.deps.Logger.Warn().Str("zone", z.def.Zone).Msg("Refusing to delete adopted zone")
		return nil
	}

	resp, err := z.call(ctx, http.MethodDelete, z.zoneURL(), nil)
	if err != nil {
		return err
	}
	if !resp.Success() && !resp.NotFound() {
		return entity.WrapResponse("delete", resp)
	}

	z.state.Clear()
	return nil
}

// CheckReadiness refreshes zone facts and reports whether the zone is
// serving.
func (z *Zone) CheckReadiness(ctx context.Context) (bool, error) {
	resp, err := z.call(ctx, http.MethodGet, z.zoneURL(), nil)
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

	z.syncFacts(resp)
	return z.state.GetString(keyStatus) == "active", nil
}

// addRecord creates one record in the zone. Required args: type, name,
// value. Optional: ttl (defaults to the zone TTL).
func (z *Zone) addRecord(ctx context.Context, args map[string]string) ([]string, error) {
	rtype, name, err := recordArgs(args)
	if err != nil {
		return nil, err
	}
	value := args["value"]
	if value == "" {
		return nil, entity.NewMissingFieldError("value")
	}

	ttl := z.def.TTL
	if raw, ok := args["ttl"]; ok {
		ttl, err = strconv.Atoi(raw)
		if err != nil || ttl < 30 || ttl > 86400 {
			return nil, entity.NewValidationError(fmt.Sprintf("invalid ttl argument %q", raw), nil)
		}
	}

	payload, err := json.Marshal(map[string]any{
		"type":  rtype,
		"name":  name,
		"value": value,
		"ttl":   ttl,
	})
	if err != nil {
		return nil, entity.NewValidationError("record arguments are not encodable", err)
	}

	resp, err := z.call(ctx, http.MethodPost, z.recordsURL(), payload)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, entity.WrapResponse(ActionAddRecord, resp)
	}

	return []string{fmt.Sprintf("added %s record %s.%s", rtype, name, z.def.Zone)}, nil
}

// removeRecord deletes one record from the zone. Required args: type,
// name. Removing a record that does not exist succeeds.
func (z *Zone) removeRecord(ctx context.Context, args map[string]string) ([]string, error) {
	rtype, name, err := recordArgs(args)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s?type=%s&name=%s", z.recordsURL(), url.QueryEscape(rtype), url.QueryEscape(name))
	resp, err := z.call(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return nil, err
	}
	if !resp.Success() && !resp.NotFound() {
		return nil, entity.WrapResponse(ActionRemoveRecord, resp)
	}

	return []string{fmt.Sprintf("removed %s record %s.%s", rtype, name, z.def.Zone)}, nil
}

// recordArgs validates the args shared by the record actions.
func recordArgs(args map[string]string) (rtype, name string, err error) {
	rtype = args["type"]
	if !recordTypes[rtype] {
		return "", "", entity.NewValidationError(fmt.Sprintf("unsupported record type %q", rtype), nil)
	}
	name = args["name"]
	if name == "" {
		return "", "", entity.NewMissingFieldError("name")
	}
	return rtype, name, nil
}

// syncFacts copies observed zone facts into state.
func (z *Zone) syncFacts(resp *gateway.Response) {
	var env zoneEnvelope
	if err := resp.JSON(&env); err != nil {
		return
	}
	if env.Zone.Name != "" {
		z.state.Set(keyZone, env.Zone.Name)
	}
	if env.Zone.Status != "" {
		z.state.Set(keyStatus, env.Zone.Status)
	}
}
