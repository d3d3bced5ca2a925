package commands

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/provisor/provisor/pkg/policy"
)

func newDevCommand() *cobra.Command {
	var policyPaths []string

	cmd := &cobra.Command{
		Use:   "dev <path>",
		Short: "Watch manifests and revalidate on change",
		Long: `Watch a manifest file or directory and rerun validation whenever a
manifest changes. Policy files given with --policy are watched too and
hot-reloaded into the admission engine. Useful while iterating on
definitions, computed scripts, or policies. Runs until interrupted.`,
		Example: `  # Revalidate on every save
  provisor dev ./manifests

  # Include custom policies in the loop
  provisor dev ./manifests --policy ./policies`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			engine, err := newPolicyEngine(ctx, policyPaths)
			if err != nil {
				return err
			}

			// Editors fire bursts of events per save; debounce them.
			debounced := make(chan struct{}, 1)
			kick := func() {
				select {
				case debounced <- struct{}{}:
				default:
				}
			}

			if len(policyPaths) > 0 {
				loader := policy.NewLoader(log.With().Str("component", "policy").Logger())
				reload := func(policies []policy.Policy) error {
					if err := engine.ReloadPolicies(ctx); err != nil {
						return err
					}
					for i := range policies {
						if err := engine.AddPolicy(&policies[i]); err != nil {
							return err
						}
					}
					log.Info().Int("policies", len(policies)).Msg("Policies reloaded")
					kick()
					return nil
				}
				if err := loader.Watch(ctx, policyPaths, reload); err != nil {
					return err
				}
				defer loader.StopWatching()
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()

			watchTarget := path
			if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
				watchTarget = filepath.Dir(path)
			}
			if err := watcher.Add(watchTarget); err != nil {
				return err
			}

			log.Info().Str("path", path).Msg("Watching manifests")
			if err := runValidateWith(ctx, engine, path); err != nil {
				log.Error().Err(err).Msg("Validation failed")
			}

			var timer *time.Timer
			for {
				select {
				case <-ctx.Done():
					return nil
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
						continue
					}
					if !strings.HasSuffix(event.Name, ".yaml") &&
						!strings.HasSuffix(event.Name, ".yml") {
						continue
					}
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(500*time.Millisecond, kick)
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Error().Err(err).Msg("Watch error")
				case <-debounced:
					log.Info().Msg("Revalidating")
					if err := runValidateWith(ctx, engine, path); err != nil {
						log.Error().Err(err).Msg("Validation failed")
					}
				}
			}
		},
	}

	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "additional policy files or directories")

	return cmd
}
