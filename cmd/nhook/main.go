package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	pgDSN      string
	configFile string
	overrides  []string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nhook",
		Short: "nhook cached player lookups",
		Long:  "Asynchronous, cached column lookups against a SQL store, keyed by player identity",
	}

	rootCmd.PersistentFlags().StringVar(&pgDSN, "pg-dsn", "", "Postgres DSN")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringArrayVar(&overrides, "set", nil, "Override a config key (key=value), repeatable")

	rootCmd.AddCommand(
		daemonCmd(),
		getCmd(),
		setCmd(),
		topCmd(),
		aboutCmd(),
		configCmd(),
	)

	return rootCmd
}
