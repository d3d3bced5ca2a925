package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/provisor/provisor/pkg/entity"
	"github.com/provisor/provisor/pkg/manifest"
	"github.com/provisor/provisor/pkg/policy"
	"github.com/provisor/provisor/pkg/telemetry"
)

func newInvokeCommand() *cobra.Command {
	var (
		manifestPath string
		entityPath   string
		argPairs     []string
		policyPaths  []string
		wait         bool
	)

	cmd := &cobra.Command{
		Use:   "invoke <action>",
		Short: "Run one lifecycle or custom action against an entity",
		Long: `Run a single action through the entity's dispatch loop.

The entity is constructed from its manifest declaration and the state
persisted for its path, admission policies are evaluated, and the
resulting state is written back to the store along with an invocation
log entry. Custom action output is printed to stdout.`,
		Example: `  # Create a bucket declared in the manifest
  provisor invoke create --manifest infra.yaml --path media/assets

  # Resize a database cluster
  provisor invoke resize --manifest infra.yaml --path media/catalog --arg nodes=5

  # Create and wait for readiness
  provisor invoke create --manifest infra.yaml --path media/assets --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			action := cmdArgs[0]
			ctx := cmd.Context()

			args, err := parseArgs(argPairs)
			if err != nil {
				return err
			}

			tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
			if err != nil {
				return err
			}
			ctx = tel.WithContext(ctx)
			defer tel.Shutdown(context.Background())

			m, err := loadManifest(ctx, manifestPath)
			if err != nil {
				return reportManifestErrors(m, err)
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			core, decl, err := buildEntity(ctx, m, store, entityPath)
			if err != nil {
				return err
			}

			if err := admit(ctx, policyPaths, decl, core.State(), action, args); err != nil {
				return err
			}

			log.Info().
				Str("path", entityPath).
				Str("type", decl.Type).
				Str("action", action).
				Msg("Invoking entity")

			started := time.Now()
			invCtx := telemetry.WithInvocationContext(ctx, entityPath, decl.Type, action)
			res, invErr := core.Main(invCtx, &entity.Context{
				Action: action,
				Args:   args,
				Path:   entityPath,
			})
			telemetry.EndInvocationContext(invCtx, entityPath, decl.Type, action, invErr)
			if err := persistResult(ctx, store, decl, action, res, invErr, started); err != nil {
				log.Error().Err(err).Msg("Failed to persist invocation result")
			}
			if invErr != nil {
				return invErr
			}

			for _, line := range res.Output {
				fmt.Println(line)
			}
			if jsonOutput {
				data, err := json.MarshalIndent(res.State.Map(), "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
			}

			if wait && res.Ready == nil {
				if err := waitReady(ctx, core, decl, store, started); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "manifest file or directory")
	cmd.Flags().StringVarP(&entityPath, "path", "p", "", "entity path within the manifest")
	cmd.Flags().StringArrayVar(&argPairs, "arg", nil, "action arguments (key=value, repeatable)")
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "additional policy files or directories")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll readiness after the action succeeds")
	cmd.MarkFlagRequired("manifest")
	cmd.MarkFlagRequired("path")

	return cmd
}

// admit evaluates admission policies and refuses blocked invocations.
func admit(ctx context.Context, policyPaths []string, decl *manifest.EntityManifest, state *entity.State, action string, args map[string]string) error {
	engine, err := newPolicyEngine(ctx, policyPaths)
	if err != nil {
		return err
	}

	result, err := engine.EvaluateInvocation(ctx, &policy.Input{
		Entity: &policy.EntityInfo{
			Path:       decl.Path,
			Type:       decl.Type,
			Definition: decl.Definition,
			State:      liftState(state),
			Metadata:   decl.Metadata,
		},
		Context: &policy.Context{
			Action: action,
			Args:   liftArgs(args),
		},
	})
	if err != nil {
		return err
	}
	for _, warning := range result.Warnings {
		log.Warn().Str("path", decl.Path).Msg(warning)
	}
	if !result.Allowed {
		for _, v := range result.Violations {
			log.Error().
				Str("policy", v.Policy).
				Str("severity", string(v.Severity)).
				Msg(v.Message)
		}
		return fmt.Errorf("invocation blocked by %d policy violation(s)", len(result.Violations))
	}
	return nil
}

// liftState exposes entity state to Rego with the adoption flag as a
// real boolean.
func liftState(state *entity.State) map[string]interface{} {
	out := make(map[string]interface{}, state.Len())
	for k, v := range state.Map() {
		if k == entity.KeyExisting {
			out[k] = v == "true"
			continue
		}
		out[k] = v
	}
	return out
}

// liftArgs converts boolean-looking argument values so policies can
// compare them without string gymnastics.
func liftArgs(args map[string]string) map[string]interface{} {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		switch v {
		case "true":
			out[k] = true
		case "false":
			out[k] = false
		default:
			out[k] = v
		}
	}
	return out
}

// reportManifestErrors logs individual manifest problems before
// returning the summary error.
func reportManifestErrors(m *manifest.Manifest, err error) error {
	if m != nil {
		for _, verr := range m.Errors {
			log.Error().Str("path", verr.Path).Str("file", verr.File).Msg(verr.Message)
		}
	}
	return err
}
