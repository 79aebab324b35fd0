// Command memory-mcp serves persistent multi-persona agent memory over
// HTTP, or runs the schema migration for existing persona data directories.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kart-io/memory-mcp/internal/app"
	"github.com/kart-io/memory-mcp/internal/memory/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "memory-mcp",
		Short: "Persistent multi-persona memory service",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON config file (optional)")

	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the memory service until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return app.Serve(cfg, configPath)
		},
	}
}

func migrateCmd() *cobra.Command {
	var personaName string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run the relational schema migration for one or all on-disk personas, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return app.Migrate(cfg, personaName)
		},
	}
	cmd.Flags().StringVar(&personaName, "persona", "", "migrate only this persona (default: all personas under data_root)")
	return cmd
}
