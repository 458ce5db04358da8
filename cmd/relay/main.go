package main

import (
	"os"

	"github.com/bhandras/relay/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:           "relay",
		Short:         "A Nostr relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default $RELAY_CONFIG)")
	rootCmd.AddCommand(serveCmd, keygenCmd, adminTokenCmd, compactCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
