package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ALT-F4-LLC/litepool/internal/config"
	"github.com/ALT-F4-LLC/litepool/internal/logging"
	"github.com/ALT-F4-LLC/litepool/internal/output"
	"github.com/ALT-F4-LLC/litepool/internal/registry"
	"github.com/ALT-F4-LLC/litepool/internal/store"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// closeTimeout bounds how long the CLI waits for checked-out connections on
// exit.
const closeTimeout = 10 * time.Second

type contextKey string

const (
	cfgKey   contextKey = "cfg"
	logKey   contextKey = "log"
	regKey   contextKey = "registry"
	storeKey contextKey = "store"
)

// CmdError wraps an error with a machine-readable error code for structured output.
type CmdError struct {
	Err  error
	Code output.ErrorCode
}

func (e *CmdError) Error() string { return e.Err.Error() }

func (e *CmdError) Unwrap() error { return e.Err }

func cmdErr(err error, code output.ErrorCode) *CmdError {
	return &CmdError{Err: err, Code: code}
}

var rootCmd = &cobra.Command{
	Use:     "litepool",
	Short:   "Single-writer SQLite connection pool toolkit",
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Resolve()
		if err != nil {
			return err
		}
		if err := applyFlags(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Settings.Validate(); err != nil {
			return err
		}

		log, err := logging.New(cfg.Settings.Log)
		if err != nil {
			return cmdErr(err, output.ErrValidation)
		}

		ctx := context.WithValue(cmd.Context(), cfgKey, cfg)
		ctx = context.WithValue(ctx, logKey, log)

		if _, ok := cmd.Annotations["skipDB"]; ok {
			cmd.SetContext(ctx)
			return nil
		}

		if _, ok := cmd.Annotations["createDB"]; !ok {
			exists, err := cfg.Exists()
			if err != nil {
				return fmt.Errorf("checking database: %w", err)
			}
			if !exists {
				return cmdErr(
					fmt.Errorf("no litepool database found, run 'litepool init' to create one"),
					output.ErrNotInitialized,
				)
			}
		}

		reg := registry.New(registry.WithLogger(log))
		p, err := reg.Create(cfg.DBPath, cfg.Settings.PoolSize, cfg.Credentials())
		if err != nil {
			return fmt.Errorf("opening pool: %w", err)
		}
		s := store.New(p,
			store.WithLogger(log),
			store.WithAcquireTimeout(cfg.Settings.AcquireTimeout),
		)

		ctx = context.WithValue(ctx, regKey, reg)
		cmd.SetContext(context.WithValue(ctx, storeKey, s))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeRegistry(cmd)
	},
}

// closeRegistry drains the pools opened for cmd. Cobra skips post-run hooks
// when a command fails, so Execute calls it again on that path.
func closeRegistry(cmd *cobra.Command) error {
	if cmd == nil || cmd.Context() == nil {
		return nil
	}
	defer getLog(cmd).Sync()

	reg, ok := cmd.Context().Value(regKey).(*registry.Registry)
	if !ok || reg == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return reg.Close(ctx)
}

func init() {
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().String("db", "", "Directory holding litepool.db (overrides LITEPOOL_PATH)")
	rootCmd.PersistentFlags().Int("size", 0, "Pool size: 1 write plus size-1 read connections")
	rootCmd.PersistentFlags().Duration("acquire-timeout", 0, "How long to wait for a free connection (0 waits forever)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
}

// applyFlags layers explicitly set flags over the resolved configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("db") {
		dir, _ := flags.GetString("db")
		if dir == "" {
			return cmdErr(errors.New("--db can't be empty"), output.ErrValidation)
		}
		at, err := config.At(dir, false)
		if err != nil {
			return err
		}
		*cfg = *at
	}
	if flags.Changed("size") {
		cfg.Settings.PoolSize, _ = flags.GetInt("size")
	}
	if flags.Changed("acquire-timeout") {
		cfg.Settings.AcquireTimeout, _ = flags.GetDuration("acquire-timeout")
	}
	if flags.Changed("log-level") {
		cfg.Settings.Log.Level, _ = flags.GetString("log-level")
	}
	return nil
}

func getWriter(cmd *cobra.Command) *output.Writer {
	jsonMode, _ := cmd.Flags().GetBool("json")
	quietMode, _ := cmd.Flags().GetBool("quiet")
	return output.New(jsonMode, quietMode)
}

func getCfg(cmd *cobra.Command) *config.Config {
	cfg, _ := cmd.Context().Value(cfgKey).(*config.Config)
	return cfg
}

func getLog(cmd *cobra.Command) *zap.Logger {
	if log, ok := cmd.Context().Value(logKey).(*zap.Logger); ok && log != nil {
		return log
	}
	return zap.NewNop()
}

func getStore(cmd *cobra.Command) *store.Store {
	s, _ := cmd.Context().Value(storeKey).(*store.Store)
	return s
}

// Execute runs the root command and returns an exit code.
func Execute() int {
	cmd, err := rootCmd.ExecuteC()
	if err != nil {
		_ = closeRegistry(cmd)

		jsonMode, _ := rootCmd.PersistentFlags().GetBool("json")
		quietMode, _ := rootCmd.PersistentFlags().GetBool("quiet")
		w := output.New(jsonMode, quietMode)

		var ce *CmdError
		if errors.As(err, &ce) {
			return w.Error(ce.Err, ce.Code)
		}
		return w.Fail(err)
	}
	return 0
}
