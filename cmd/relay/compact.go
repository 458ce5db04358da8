package main

import (
	"context"
	"fmt"

	"github.com/bhandras/relay/internal/store"
	"github.com/spf13/cobra"
)

var (
	compactDB string

	compactCmd = &cobra.Command{
		Use:   "compact",
		Short: "Clear the payload of deleted events in a sqlite store",
		Args:  cobra.NoArgs,
		RunE:  runCompact,
	}
)

func init() {
	compactCmd.Flags().StringVar(&compactDB, "db", "", "sqlite database file (default from config)")
}

func runCompact(cmd *cobra.Command, _ []string) error {
	path := compactDB
	if path == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Store.Driver != store.DriverSQLite {
			return fmt.Errorf("compact needs a sqlite store, configured driver is %s", cfg.Store.Driver)
		}
		path = cfg.Store.Path
	}

	db, err := store.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.Compact(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "compacted %d deleted events\n", n)
	return nil
}
