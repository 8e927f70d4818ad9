package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ALT-F4-LLC/litepool/internal/config"
	"github.com/ALT-F4-LLC/litepool/internal/output"
)

type configInfo struct {
	DBPath          string          `json:"db_path"`
	DBSizeBytes     int64           `json:"db_size_bytes"`
	ConfigPath      string          `json:"config_path"`
	LitepoolPathEnv string          `json:"litepool_path_env"`
	LitepoolPathSet bool            `json:"litepool_path_set"`
	Settings        config.Settings `json:"settings"`
}

var configCmd = &cobra.Command{
	Use:         "config",
	Short:       "Display litepool configuration",
	Annotations: map[string]string{"skipDB": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		w := getWriter(cmd)
		cfg := getCfg(cmd)

		exists, err := cfg.Exists()
		if err != nil {
			return cmdErr(fmt.Errorf("checking database: %w", err), output.ErrGeneral)
		}

		info := configInfo{
			DBPath:          cfg.DBPath,
			ConfigPath:      cfg.ConfigPath,
			LitepoolPathEnv: os.Getenv("LITEPOOL_PATH"),
			LitepoolPathSet: cfg.EnvVarSet,
			Settings:        cfg.Settings,
		}

		if !exists {
			w.Warn("No litepool database found. Run 'litepool init' to create one.")
			w.Success(info, formatConfigHuman(info, true))
			return nil
		}

		stat, err := os.Stat(cfg.DBPath)
		if err != nil {
			return cmdErr(fmt.Errorf("reading database file: %w", err), output.ErrGeneral)
		}
		info.DBSizeBytes = stat.Size()

		w.Success(info, formatConfigHuman(info, false))
		return nil
	},
}

var configSaveCmd = &cobra.Command{
	Use:         "save",
	Short:       "Write the effective settings to config.yaml",
	Annotations: map[string]string{"skipDB": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		w := getWriter(cmd)
		cfg := getCfg(cmd)
		force, _ := cmd.Flags().GetBool("force")

		if _, err := os.Stat(cfg.ConfigPath); err == nil && !force {
			// JSON mode requires explicit flag to overwrite.
			if w.JSONMode {
				return cmdErr(fmt.Errorf("%s already exists: use --force to overwrite it", cfg.ConfigPath), output.ErrValidation)
			}

			var overwrite bool
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewConfirm().
						Title(fmt.Sprintf("Overwrite %s?", cfg.ConfigPath)).
						Affirmative("Overwrite").
						Negative("Cancel").
						Value(&overwrite),
				),
			)
			if err := form.Run(); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					w.Info("Cancelled.")
					return nil
				}
				return cmdErr(fmt.Errorf("interactive form failed: %w", err), output.ErrGeneral)
			}
			if !overwrite {
				w.Info("Cancelled.")
				return nil
			}
		}

		if err := cfg.Save(); err != nil {
			return cmdErr(err, output.ErrGeneral)
		}
		w.Success(struct {
			ConfigPath string `json:"config_path"`
		}{cfg.ConfigPath}, fmt.Sprintf("Saved settings to %s", cfg.ConfigPath))
		return nil
	},
}

func formatEnvValue(val string) string {
	if val == "" {
		return "(not set)"
	}
	return val
}

func formatTimeout(info configInfo) string {
	if info.Settings.AcquireTimeout == 0 {
		return "wait forever"
	}
	return info.Settings.AcquireTimeout.String()
}

func formatConfigHuman(info configInfo, notFound bool) string {
	dbPath := info.DBPath
	if notFound {
		dbPath = fmt.Sprintf("%s (not found)", info.DBPath)
	}

	lines := fmt.Sprintf("Database path:   %s\n", dbPath)
	if !notFound {
		lines += fmt.Sprintf("Database size:   %s\n", humanize.IBytes(uint64(info.DBSizeBytes)))
	}
	lines += fmt.Sprintf("Config file:     %s\n", info.ConfigPath)
	lines += fmt.Sprintf("Pool size:       %d (1 write, %d read)\n", info.Settings.PoolSize, info.Settings.PoolSize-1)
	lines += fmt.Sprintf("Acquire timeout: %s\n", formatTimeout(info))
	lines += fmt.Sprintf("Username:        %s\n", info.Settings.Username)
	lines += fmt.Sprintf("Log:             %s %s -> %s\n", info.Settings.Log.Level, info.Settings.Log.Format, info.Settings.Log.Output)
	lines += fmt.Sprintf("LITEPOOL_PATH:   %s", formatEnvValue(info.LitepoolPathEnv))

	return lines
}

func init() {
	configSaveCmd.Flags().BoolP("force", "f", false, "Overwrite an existing config.yaml without asking")
	configCmd.AddCommand(configSaveCmd)
	rootCmd.AddCommand(configCmd)
}
