package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aysihuniks/nhook/internal/logging"
)

func getCmd() *cobra.Command {
	var player string

	cmd := &cobra.Command{
		Use:   "get <token>",
		Short: "Render one placeholder token",
		Long:  "Resolve a table_column[_player] token against the database and print the value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			rt, err := startRuntime(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			value, err := rt.resolver.Resolve(cmd.Context(), args[0], player)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}

	cmd.Flags().StringVar(&player, "player", "", "Player the token refers to when it names none")

	return cmd
}
