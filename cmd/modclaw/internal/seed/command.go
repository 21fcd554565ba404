package seed

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sipeed/modclaw/cmd/modclaw/internal"
	"github.com/sipeed/modclaw/pkg/config"
)

func NewSeedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "seed",
		Short:   "Populate the store with demo users, roles and messages",
		Example: `modclaw seed`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			if cfg.Storage.Driver == config.DriverMemory {
				fmt.Fprintln(cmd.OutOrStdout(), "The memory driver keeps nothing between runs; the console seeds it automatically.")
				return nil
			}

			app, err := internal.NewApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			sum, err := Populate(cmd.Context(), app.Backend, app.Stores, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Seeded %s: %d roles, %d users, %d grants, %d messages\n",
				internal.Logo, cfg.Storage.Path, sum.Roles, sum.Users, sum.Grants, sum.Messages)
			return nil
		},
	}

	return cmd
}
