package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ALT-F4-LLC/litepool/internal/db"
	"github.com/ALT-F4-LLC/litepool/internal/output"
)

type initResult struct {
	Path          string   `json:"path"`
	DBPath        string   `json:"db_path"`
	Tables        []string `json:"tables"`
	SchemaVersion int      `json:"schema_version"`
	Created       bool     `json:"created"`
}

var initCmd = &cobra.Command{
	Use:         "init [table...]",
	Short:       "Initialize a new litepool database",
	Long:        "Create the database and the workload tables (AAA and BBB unless named).",
	Annotations: map[string]string{"createDB": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		w := getWriter(cmd)
		cfg := getCfg(cmd)
		s := getStore(cmd)
		ctx := cmd.Context()

		tables := args
		if len(tables) == 0 {
			tables = db.DefaultTables
		}

		initialized, err := db.IsInitialized(ctx, s)
		if err != nil {
			return cmdErr(fmt.Errorf("checking database: %w", err), output.ErrGeneral)
		}
		if initialized {
			w.Warn("Database already exists at %s", cfg.DBPath)
		}

		if err := db.Initialize(ctx, s, tables...); err != nil {
			return fmt.Errorf("initializing schema: %w", err)
		}
		if err := db.Migrate(ctx, s, tables...); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}

		schemaVersion, err := db.SchemaVersion(ctx, s)
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}

		res := initResult{
			Path:          cfg.Dir,
			DBPath:        cfg.DBPath,
			Tables:        tables,
			SchemaVersion: schemaVersion,
			Created:       !initialized,
		}
		if initialized {
			w.Success(res, "Database already initialized")
			return nil
		}

		w.Success(res, "Initialized litepool database")
		w.Info("Initialized litepool database at %s", cfg.DBPath)
		w.Info("Consider adding .litepool/ to your .gitignore")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
