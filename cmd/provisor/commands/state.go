package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/provisor/provisor/pkg/stores"
)

func newStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the persisted entity state store",
	}

	cmd.AddCommand(newStateListCommand())
	cmd.AddCommand(newStateGetCommand())
	cmd.AddCommand(newStateLogCommand())

	return cmd
}

func newStateListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted entity records",
		Example: `  # Show everything the store knows about
  provisor state list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListEntityRecords(ctx, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.MarshalIndent(records, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tTYPE\tEXISTING\tLAST ACTION\tUPDATED")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
					rec.Path, rec.EntityType, rec.Existing, rec.LastAction,
					rec.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "max records to list")

	return cmd
}

func newStateGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Show the persisted state of one entity",
		Example: `  # Inspect a bucket's state record
  provisor state get media/assets`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.GetEntityRecord(ctx, args[0])
			if err != nil {
				return err
			}
			state, err := stores.DecodeState(rec.State)
			if err != nil {
				return err
			}

			out := map[string]interface{}{
				"path":        rec.Path,
				"type":        rec.EntityType,
				"existing":    rec.Existing,
				"last_action": rec.LastAction,
				"hash":        rec.Hash,
				"updated_at":  rec.UpdatedAt,
				"state":       state,
			}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}

	return cmd
}

func newStateLogCommand() *cobra.Command {
	var (
		entityPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the invocation audit log",
		Example: `  # Recent invocations across all entities
  provisor state log

  # History of one entity
  provisor state log --path media/assets`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			var pathFilter *string
			if entityPath != "" {
				pathFilter = &entityPath
			}
			invocations, err := store.ListInvocations(ctx, pathFilter, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.MarshalIndent(invocations, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tPATH\tACTION\tSTATUS\tDURATION\tERROR")
			for _, inv := range invocations {
				errText := ""
				if inv.Error != nil {
					errText = *inv.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%s\n",
					inv.StartedAt.Format("2006-01-02 15:04:05"),
					inv.Path, inv.Action, inv.Status, inv.DurationMS, errText)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&entityPath, "path", "p", "", "filter by entity path")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to list")

	return cmd
}
