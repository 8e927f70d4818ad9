package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ALT-F4-LLC/litepool/internal/db"
	"github.com/ALT-F4-LLC/litepool/internal/output"
	"github.com/ALT-F4-LLC/litepool/internal/render"
)

type tableCount struct {
	Name string `json:"name"`
	Rows int    `json:"rows"`
}

type statusResult struct {
	Pool          render.PoolView `json:"pool"`
	SchemaVersion int             `json:"schema_version"`
	Tables        []tableCount    `json:"tables"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the connection pool and workload tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := getWriter(cmd)
		cfg := getCfg(cmd)
		s := getStore(cmd)
		ctx := cmd.Context()
		treeMode, _ := cmd.Flags().GetBool("tree")

		schemaVersion, err := db.SchemaVersion(ctx, s)
		if err != nil {
			return cmdErr(fmt.Errorf("%w: %w", db.ErrNotInitialized, err), output.ErrNotInitialized)
		}

		tables := make([]tableCount, 0, len(db.DefaultTables))
		for _, name := range db.DefaultTables {
			n, err := s.RowCount(ctx, name)
			if err != nil {
				return fmt.Errorf("counting %s: %w", name, err)
			}
			tables = append(tables, tableCount{Name: name, Rows: n})
		}

		view := render.PoolView{Path: cfg.DBPath, Stats: s.Pool().Stats()}
		if fi, err := os.Stat(cfg.DBPath); err == nil {
			view.Size = fi.Size()
		}

		res := statusResult{Pool: view, SchemaVersion: schemaVersion, Tables: tables}

		var out string
		if treeMode {
			out = render.RenderPoolTree(view)
		} else {
			out = render.RenderPoolTable([]render.PoolView{view})
		}
		out += fmt.Sprintf("\nSchema version:  %d", schemaVersion)
		for _, t := range tables {
			out += fmt.Sprintf("\n%-16s %d rows", t.Name+":", t.Rows)
		}

		w.Success(res, out)
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("tree", false, "Show the pool as a tree")
	rootCmd.AddCommand(statusCmd)
}
