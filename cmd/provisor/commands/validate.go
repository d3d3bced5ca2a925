package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/provisor/provisor/pkg/entity"
	"github.com/provisor/provisor/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var policyPaths []string

	cmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate manifest files",
		Long: `Validate a manifest file or directory without touching any remote
resource.

This command checks:
  - YAML structure and required fields
  - Definition conformance against the per-type CUE schemas
  - Starlark computed-field evaluation
  - Admission policy compliance (dry run against each entity)`,
		Example: `  # Validate a single manifest
  provisor validate infra.yaml

  # Validate a manifest directory with extra policies
  provisor validate ./manifests --policy ./policies`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return runValidate(ctx, args[0], policyPaths)
		},
	}

	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "additional policy files or directories")

	return cmd
}

func runValidate(ctx context.Context, path string, policyPaths []string) error {
	engine, err := newPolicyEngine(ctx, policyPaths)
	if err != nil {
		return err
	}
	return runValidateWith(ctx, engine, path)
}

func newPolicyEngine(ctx context.Context, policyPaths []string) (*policy.Engine, error) {
	engine, err := policy.NewEngine(log.With().Str("component", "policy").Logger())
	if err != nil {
		return nil, err
	}
	if len(policyPaths) > 0 {
		if err := engine.LoadPolicies(ctx, policyPaths); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// runValidateWith validates every entity in the manifest against an
// already built policy engine.
func runValidateWith(ctx context.Context, engine *policy.Engine, path string) error {
	m, err := loadManifest(ctx, path)
	if err != nil {
		return reportManifestErrors(m, err)
	}

	blocked := 0
	for i := range m.Entities {
		decl := &m.Entities[i]
		result, err := engine.EvaluateInvocation(ctx, &policy.Input{
			Entity: &policy.EntityInfo{
				Path:       decl.Path,
				Type:       decl.Type,
				Definition: decl.Definition,
				Metadata:   decl.Metadata,
			},
			Context: &policy.Context{
				Action: entity.ActionCreate,
				DryRun: true,
			},
		})
		if err != nil {
			return err
		}
		for _, v := range result.Violations {
			log.Error().
				Str("path", decl.Path).
				Str("policy", v.Policy).
				Str("severity", string(v.Severity)).
				Msg(v.Message)
		}
		if !result.Allowed {
			blocked++
		}
	}

	if blocked > 0 {
		return fmt.Errorf("%d of %d entities violate admission policies", blocked, len(m.Entities))
	}

	fmt.Printf("%d entities valid (%d files)\n", len(m.Entities), len(m.SourceFiles))
	return nil
}
