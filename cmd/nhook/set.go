package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aysihuniks/nhook/internal/logging"
)

func setCmd() *cobra.Command {
	var (
		value     string
		increment int64
	)

	cmd := &cobra.Command{
		Use:   "set <table> <column> <player>",
		Short: "Write one column for a player",
		Long:  "Overwrite a column (--value) or add to a numeric column (--increment), then invalidate the cached lookups it affects",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			hasValue, hasIncrement := cmd.Flags().Changed("value"), cmd.Flags().Changed("increment")
			if hasValue == hasIncrement {
				return errors.New("exactly one of --value or --increment is required")
			}

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

			table, column, player := args[0], args[1], args[2]
			var changed bool
			if hasIncrement {
				changed, err = rt.client.IncrementValue(cmd.Context(), table, column, player, increment)
			} else {
				changed, err = rt.client.UpdateValue(cmd.Context(), table, column, player, bindValue(value))
			}
			if err != nil {
				return fmt.Errorf("update %s.%s: %w", table, column, err)
			}
			if !changed {
				return fmt.Errorf("no %s row for player %s", table, player)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s.%s for %s\n", table, column, player)
			return nil
		},
	}

	cmd.Flags().StringVar(&value, "value", "", "New value; integers and decimals bind as numbers")
	cmd.Flags().Int64Var(&increment, "increment", 0, "Amount to add to a numeric column")

	return cmd
}

// bindValue keeps numeric text numeric so it binds to numeric columns.
func bindValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func topCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "top <table> <column>",
		Short: "List the players with the highest value in a column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}

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

			top, err := rt.client.TopPlayers(cmd.Context(), args[0], args[1], limit)
			if err != nil {
				return fmt.Errorf("top %s.%s: %w", args[0], args[1], err)
			}
			for i, r := range top {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s %d\n", i+1, r.Player, r.Value)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Number of players to list")

	return cmd
}
