package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ALT-F4-LLC/litepool/internal/output"
	"github.com/ALT-F4-LLC/litepool/internal/render"
	"github.com/ALT-F4-LLC/litepool/internal/stress"
)

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run concurrent readers and writers and check serialization",
	Long: `Run concurrent readers and writers against the workload tables.

Each reader counts rows; each writer inserts rows directly and then inside one
transaction. The run fails if a write ever overlapped another unit of work or if
a table ends up with the wrong number of rows.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := getWriter(cmd)
		s := getStore(cmd)

		cfg := stress.DefaultConfig()
		flags := cmd.Flags()
		if flags.Changed("tables") {
			cfg.Tables, _ = flags.GetStringSlice("tables")
		}
		cfg.Readers, _ = flags.GetInt("readers")
		cfg.ReadsPerReader, _ = flags.GetInt("reads")
		cfg.WritersPerTable, _ = flags.GetInt("writers")
		cfg.DirectInserts, _ = flags.GetInt("direct")
		cfg.TxInserts, _ = flags.GetInt("tx")

		w.Info("Running %d readers and %d writers over %d tables",
			cfg.Readers, cfg.WritersPerTable*len(cfg.Tables), len(cfg.Tables))

		res, err := stress.NewRunner(s, stress.WithLogger(getLog(cmd))).Run(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		report, err := render.RenderStressReport(res)
		if err != nil {
			w.Warn("rendering report: %v", err)
		}
		w.Success(res, report)

		if !res.OK() {
			return cmdErr(
				fmt.Errorf("stress run %s failed: %d violations", res.RunID, res.Violations),
				output.ErrGeneral,
			)
		}
		return nil
	},
}

func init() {
	def := stress.DefaultConfig()
	stressCmd.Flags().StringSlice("tables", def.Tables, "Tables to write to")
	stressCmd.Flags().Int("readers", def.Readers, "Concurrent readers")
	stressCmd.Flags().Int("reads", def.ReadsPerReader, "Counts per reader")
	stressCmd.Flags().Int("writers", def.WritersPerTable, "Writers per table")
	stressCmd.Flags().Int("direct", def.DirectInserts, "Direct inserts per writer")
	stressCmd.Flags().Int("tx", def.TxInserts, "Inserts per writer inside one transaction")
	rootCmd.AddCommand(stressCmd)
}
