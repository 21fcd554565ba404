package commandscmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sipeed/modclaw/cmd/modclaw/internal"
	"github.com/sipeed/modclaw/cmd/modclaw/internal/seed"
	"github.com/sipeed/modclaw/pkg/commands"
	"github.com/sipeed/modclaw/pkg/config"
)

func NewCommandsCommand() *cobra.Command {
	var (
		search string
		as     string
	)

	cmd := &cobra.Command{
		Use:     "commands",
		Aliases: []string{"cmds"},
		Short:   "List or search the chat commands",
		Example: `modclaw commands
modclaw commands --as carol
modclaw commands --search mute --as mod`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			app, err := internal.NewApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			if cfg.Storage.Driver == config.DriverMemory {
				if _, err := seed.Populate(cmd.Context(), app.Backend, app.Stores, time.Now().UTC()); err != nil {
					return err
				}
			}
			return listCommands(cmd, app, as, search)
		},
	}

	cmd.Flags().StringVarP(&search, "search", "s", "", "Only show commands matching this text")
	cmd.Flags().StringVar(&as, "as", "", "Only show commands this user may run")

	return cmd
}

func listCommands(cmd *cobra.Command, app *internal.App, as, search string) error {
	prefix := app.Dispatcher.Prefixes()[0]

	var defs []commands.Definition
	switch {
	case as == "" && search == "":
		defs = app.Registry.All()
	default:
		actor := commands.NewActor("", "", nil, app.Registry.ElevatedRoles())
		if as != "" {
			var err error
			actor, err = commands.LoadActorByUsername(cmd.Context(), app.Stores.Users, app.Stores.Roles, as)
			if err != nil {
				return fmt.Errorf("user %q: %w", as, err)
			}
		}
		if search != "" {
			defs = app.Registry.Search(search, actor)
		} else {
			defs = app.Registry.List(actor)
		}
	}

	printCommands(cmd.OutOrStdout(), defs, prefix)
	return nil
}

func printCommands(w io.Writer, defs []commands.Definition, prefix string) {
	if len(defs) == 0 {
		fmt.Fprintln(w, "No matching commands.")
		return
	}
	fmt.Fprintln(w, commands.FormatHelpMessage(defs, prefix))
}
