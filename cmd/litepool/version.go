package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print version information",
	Annotations: map[string]string{"skipDB": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		w := getWriter(cmd)
		w.Success(struct {
			Version   string `json:"version"`
			Commit    string `json:"commit"`
			BuildDate string `json:"build_date"`
			GoVersion string `json:"go_version"`
		}{version, commit, buildDate, runtime.Version()},
			fmt.Sprintf("litepool %s (commit: %s, built: %s, %s)", version, commit, buildDate, runtime.Version()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
