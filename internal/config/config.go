// Package config loads gitdeck's process configuration and holds the
// persisted global settings.
//
// Process configuration (where data lives, logging, listen address,
// timeouts) comes from viper: defaults, then an optional config file
// (config.yaml or config.toml in the user config directory, or --config),
// then GITDECK_* environment variables, then bound command line flags.
//
// Settings are user preferences stored in the key-value store; see
// Settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by viper
const EnvPrefix = "GITDECK"

// Config keys
const (
	KeyDataDir        = "data_dir"
	KeyLogFile        = "log.file"
	KeyLogMaxSizeMB   = "log.max_size_mb"
	KeyLogVerbose     = "log.verbose"
	KeyStreamAddr     = "stream.addr"
	KeyGitPath        = "git.path"
	KeyCallTimeout    = "timeouts.call"
	KeyNetworkTimeout = "timeouts.network"
	KeyKeychain       = "secrets.keychain"
)

// Config is the resolved process configuration
type Config struct {
	DataDir        string
	LogFile        string
	LogMaxSizeMB   int
	Verbose        bool
	StreamAddr     string
	GitPath        string
	CallTimeout    time.Duration
	NetworkTimeout time.Duration

	// Keychain stores repository credentials in the OS keychain
	Keychain bool
}

// DBPath returns the location of the key-value store
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "gitdeck.db")
}

// DefaultDataDir returns the per-user gitdeck directory
func DefaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "gitdeck")
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDataDir, DefaultDataDir())
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogMaxSizeMB, 10)
	v.SetDefault(KeyLogVerbose, false)
	v.SetDefault(KeyStreamAddr, "127.0.0.1:7420")
	v.SetDefault(KeyGitPath, "")
	v.SetDefault(KeyCallTimeout, 30*time.Second)
	v.SetDefault(KeyNetworkTimeout, 5*time.Minute)
	v.SetDefault(KeyKeychain, true)
}

// NewViper returns a viper instance with defaults and environment binding
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile, or config.{yaml,toml} from the default data
// directory when configFile is empty, and resolves the configuration.
// A missing default config file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(v.GetString(KeyDataDir))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		DataDir:        v.GetString(KeyDataDir),
		LogFile:        v.GetString(KeyLogFile),
		LogMaxSizeMB:   v.GetInt(KeyLogMaxSizeMB),
		Verbose:        v.GetBool(KeyLogVerbose),
		StreamAddr:     v.GetString(KeyStreamAddr),
		GitPath:        v.GetString(KeyGitPath),
		CallTimeout:    v.GetDuration(KeyCallTimeout),
		NetworkTimeout: v.GetDuration(KeyNetworkTimeout),
		Keychain:       v.GetBool(KeyKeychain),
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.DataDir, "logs", "gitdeck.log")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the resolved values
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%s must not be empty", KeyDataDir)
	}
	if c.LogMaxSizeMB <= 0 {
		return fmt.Errorf("%s must be positive, got %d", KeyLogMaxSizeMB, c.LogMaxSizeMB)
	}
	if c.CallTimeout < 0 || c.NetworkTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}
