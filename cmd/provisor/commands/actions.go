package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/provisor/provisor/pkg/entity"
	"github.com/provisor/provisor/pkg/providers/database"
	"github.com/provisor/provisor/pkg/providers/dns"
	"github.com/provisor/provisor/pkg/providers/function"
	"github.com/provisor/provisor/pkg/providers/queue"
	"github.com/provisor/provisor/pkg/providers/webhook"
)

// customActions lists the actions each entity type declares beyond the
// built-in lifecycle. Webhook entities declare theirs per manifest.
var customActions = map[string][]string{
	database.TypeName: {database.ActionResize},
	dns.TypeName:      {dns.ActionAddRecord, dns.ActionRemoveRecord},
	function.TypeName: {function.ActionInvoke, function.ActionRecreate},
	queue.TypeName:    {queue.ActionPurge},
}

func newActionsCommand() *cobra.Command {
	var entityType string

	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List the actions an entity type supports",
		Long: `List the built-in lifecycle actions plus the custom actions a
registered entity type declares. Without --type, all registered types
are listed.`,
		Example: `  # List everything the database type can do
  provisor actions --type database

  # List all registered entity types
  provisor actions`,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := entity.DefaultRegistry()

			if entityType == "" {
				for _, name := range registry.Types() {
					fmt.Println(name)
				}
				return nil
			}

			if _, ok := registry.Lookup(entityType); !ok {
				return fmt.Errorf("unknown entity type %q (known: %v)", entityType, registry.Types())
			}

			actions := append([]string{}, entity.BuiltinActions...)
			actions = append(actions, customActions[entityType]...)
			sort.Strings(actions)
			for _, action := range actions {
				fmt.Println(action)
			}
			if entityType == webhook.TypeName {
				fmt.Println("(webhook entities declare further actions in their manifest)")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&entityType, "type", "t", "", "entity type name")

	return cmd
}
