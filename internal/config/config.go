package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ALT-F4-LLC/litepool/internal/db"
	"github.com/ALT-F4-LLC/litepool/internal/logging"
	"github.com/ALT-F4-LLC/litepool/internal/pool"
	"github.com/ALT-F4-LLC/litepool/internal/registry"
)

const (
	dbFileName     = "litepool.db"
	configFileName = "config.yaml"
	envFileName    = ".env"
)

// Settings are the tunables read from config.yaml and the environment.
type Settings struct {
	PoolSize       int            `yaml:"pool_size" json:"pool_size"`
	Username       string         `yaml:"username" json:"username"`
	Password       string         `yaml:"password" json:"-"`
	AcquireTimeout time.Duration  `yaml:"acquire_timeout" json:"acquire_timeout"`
	Log            logging.Config `yaml:"log" json:"log"`
}

// Config holds resolved configuration for the litepool directory and database.
type Config struct {
	Dir        string // resolved .litepool directory path
	DBPath     string // full path to litepool.db
	ConfigPath string // full path to config.yaml, which may not exist
	EnvVarSet  bool   // whether LITEPOOL_PATH was used
	Settings   Settings
}

// DefaultSettings returns the built-in values used when nothing overrides them.
func DefaultSettings() Settings {
	creds := db.DefaultCredentials()
	return Settings{
		PoolSize: registry.DefaultPoolSize,
		Username: creds.Username,
		Password: creds.Password,
		Log:      logging.DefaultConfig(),
	}
}

// Resolve returns the current configuration. A .env file in the working
// directory is loaded first without overriding variables already set. The
// directory comes from LITEPOOL_PATH, else $PWD/.litepool. Settings start from
// the defaults, then config.yaml, then LITEPOOL_POOL_SIZE and
// LITEPOOL_LOG_LEVEL.
func Resolve() (*Config, error) {
	if err := godotenv.Load(envFileName); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: loading %s: %w", pool.ErrConfiguration, envFileName, err)
	}

	if envPath := os.Getenv("LITEPOOL_PATH"); envPath != "" {
		return At(envPath, true)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return At(filepath.Join(cwd, ".litepool"), false)
}

// At returns the configuration for the litepool directory dir, without
// consulting LITEPOOL_PATH. envVarSet is recorded as given.
func At(dir string, envVarSet bool) (*Config, error) {
	c := &Config{
		Dir:        dir,
		DBPath:     filepath.Join(dir, dbFileName),
		ConfigPath: filepath.Join(dir, configFileName),
		EnvVarSet:  envVarSet,
		Settings:   DefaultSettings(),
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) load() error {
	data, err := os.ReadFile(c.ConfigPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: reading %s: %w", pool.ErrConfiguration, c.ConfigPath, err)
	}
	if err := yaml.Unmarshal(data, &c.Settings); err != nil {
		return fmt.Errorf("%w: parsing %s: %w", pool.ErrConfiguration, c.ConfigPath, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("LITEPOOL_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: LITEPOOL_POOL_SIZE=%q is not a number", pool.ErrConfiguration, v)
		}
		c.Settings.PoolSize = n
	}
	if v := os.Getenv("LITEPOOL_LOG_LEVEL"); v != "" {
		c.Settings.Log.Level = v
	}
	return nil
}

// Credentials returns the credentials passed to every opened handle.
func (c *Config) Credentials() db.Credentials {
	return db.Credentials{Username: c.Settings.Username, Password: c.Settings.Password}
}

// Validate checks the settings without touching the filesystem.
func (s Settings) Validate() error {
	if s.PoolSize < registry.MinPoolSize || s.PoolSize > registry.MaxPoolSize {
		return fmt.Errorf("%w: pool_size %d outside [%d, %d]", pool.ErrConfiguration, s.PoolSize, registry.MinPoolSize, registry.MaxPoolSize)
	}
	if s.AcquireTimeout < 0 {
		return fmt.Errorf("%w: acquire_timeout can't be negative", pool.ErrConfiguration)
	}
	if _, err := logging.ParseLevel(s.Log.Level); err != nil {
		return fmt.Errorf("%w: %w", pool.ErrConfiguration, err)
	}
	return nil
}

// Save writes the settings to config.yaml, creating the directory if needed.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Dir, err)
	}
	data, err := yaml.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.WriteFile(c.ConfigPath, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", c.ConfigPath, err)
	}
	return nil
}

// Exists checks if the litepool directory and DB file both exist.
// It returns an error for non-existence failures (e.g. permission errors).
func (c *Config) Exists() (bool, error) {
	if _, err := os.Stat(c.Dir); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if _, err := os.Stat(c.DBPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
