package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/provisor/provisor/pkg/entity"
	"github.com/provisor/provisor/pkg/manifest"
	"github.com/provisor/provisor/pkg/stores"
	"github.com/provisor/provisor/pkg/telemetry"
)

func newReadyCommand() *cobra.Command {
	var (
		manifestPath string
		entityPath   string
	)

	cmd := &cobra.Command{
		Use:   "ready",
		Short: "Poll an entity until it reports ready",
		Long: `Drive the readiness poll loop for one entity.

The poll policy (period, initial delay, attempt budget) comes from the
entity type's declaration, or from the manifest's readiness override.
State refreshed by the probes is persisted on completion. Exhausting
the attempt budget is reported as a readiness timeout.`,
		Example: `  # Wait for a database cluster to come online
  provisor ready --manifest infra.yaml --path media/catalog`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

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

			return waitReady(ctx, core, decl, store, time.Now())
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "manifest file or directory")
	cmd.Flags().StringVarP(&entityPath, "path", "p", "", "entity path within the manifest")
	cmd.MarkFlagRequired("manifest")
	cmd.MarkFlagRequired("path")

	return cmd
}

// waitReady runs the poll loop and persists whatever state the probes
// refreshed, on success and on timeout alike.
func waitReady(ctx context.Context, core *entity.Core, decl *manifest.EntityManifest, store stores.Store, started time.Time) error {
	readiness := readinessFor(core, decl)
	log.Info().
		Str("path", decl.Path).
		Int("period_s", readiness.PeriodSeconds).
		Int("attempts", readiness.Attempts).
		Msg("Polling readiness")

	tel := telemetry.FromTelemetryContext(ctx)
	if tel != nil {
		spanCtx, span := tel.Tracer.StartReadinessSpan(ctx, decl.Path, readiness.Attempts)
		defer span.End()
		ctx = spanCtx
	}

	attempts := 0
	check := func(ctx context.Context) (bool, error) {
		attempts++
		ready, err := core.CheckReadiness(ctx)
		if tel != nil {
			switch {
			case err != nil:
				tel.Metrics.RecordReadinessProbe(decl.Type, "error")
			case ready:
				tel.Metrics.RecordReadinessProbe(decl.Type, "ready")
			default:
				tel.Metrics.RecordReadinessProbe(decl.Type, "waiting")
			}
		}
		return ready, err
	}

	poller := entity.NewPoller(readiness, log.With().Str("component", "poller").Str("path", decl.Path).Logger())
	waitErr := poller.Wait(ctx, check)

	if tel != nil {
		tel.Metrics.RecordReadinessWait(decl.Type, time.Since(started))
		switch {
		case entity.IsReadinessTimeout(waitErr):
			tel.Metrics.RecordReadinessTimeout(decl.Type)
			_ = tel.Events.PublishReadinessTimeout(decl.Path, decl.Type, attempts)
		case waitErr == nil:
			_ = tel.Events.PublishEntityReady(decl.Path, decl.Type, attempts)
		}
	}

	res := &entity.Result{State: core.State()}
	if err := persistResult(ctx, store, decl, entity.ActionCheckReadiness, res, waitErr, started); err != nil {
		log.Error().Err(err).Msg("Failed to persist readiness state")
	}
	if waitErr != nil {
		return waitErr
	}

	fmt.Printf("%s is ready\n", decl.Path)
	return nil
}
