package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/gitdeck/gitdeck/internal/types"
)

// SettingsKey is the store key of the settings blob
const SettingsKey = "settings"

// Settings are the persisted global preferences
type Settings struct {
	Proxy       types.ProxySettings `json:"proxy" toml:"proxy" yaml:"proxy"`
	Platforms   Platforms           `json:"platforms" toml:"platforms" yaml:"platforms"`
	GitBehavior GitBehavior         `json:"gitBehavior" toml:"git_behavior" yaml:"gitBehavior"`
	Sync        SyncSettings        `json:"sync" toml:"sync" yaml:"sync"`
	Performance Performance         `json:"performance" toml:"performance" yaml:"performance"`
	Advanced    Advanced            `json:"advanced" toml:"advanced" yaml:"advanced"`
	AI          AISettings          `json:"ai" toml:"ai" yaml:"ai"`
}

// PlatformAccount holds API credentials for a hosting platform
type PlatformAccount struct {
	Username string `json:"username,omitempty" toml:"username,omitempty" yaml:"username,omitempty"`
	Token    string `json:"token,omitempty" toml:"token,omitempty" yaml:"token,omitempty"`
	// BaseURL overrides the public API endpoint for self-hosted instances
	BaseURL string `json:"baseUrl,omitempty" toml:"base_url,omitempty" yaml:"baseUrl,omitempty"`
}

type Platforms struct {
	GitHub PlatformAccount `json:"github" toml:"github" yaml:"github"`
	GitLab PlatformAccount `json:"gitlab" toml:"gitlab" yaml:"gitlab"`
	Gitee  PlatformAccount `json:"gitee" toml:"gitee" yaml:"gitee"`
}

type GitBehavior struct {
	DefaultBranchName string `json:"defaultBranchName" toml:"default_branch_name" yaml:"defaultBranchName"`
	AutoFetch         bool   `json:"autoFetch" toml:"auto_fetch" yaml:"autoFetch"`
	// AutoFetchInterval is in minutes
	AutoFetchInterval int  `json:"autoFetchInterval" toml:"auto_fetch_interval" yaml:"autoFetchInterval"`
	PullRebase        bool `json:"pullRebase" toml:"pull_rebase" yaml:"pullRebase"`
}

// SyncSettings intervals and timeouts are in seconds
type SyncSettings struct {
	AutoRefresh         bool `json:"autoRefresh" toml:"auto_refresh" yaml:"autoRefresh"`
	AutoRefreshInterval int  `json:"autoRefreshInterval" toml:"auto_refresh_interval" yaml:"autoRefreshInterval"`
	PullTimeout         int  `json:"pullTimeout" toml:"pull_timeout" yaml:"pullTimeout"`
	PushTimeout         int  `json:"pushTimeout" toml:"push_timeout" yaml:"pushTimeout"`
}

type Performance struct {
	// CommitCacheTTL is in seconds
	CommitCacheTTL   int `json:"commitCacheTTL" toml:"commit_cache_ttl" yaml:"commitCacheTTL"`
	MaxCacheSize     int `json:"maxCacheSize" toml:"max_cache_size" yaml:"maxCacheSize"`
	LogRetentionDays int `json:"logRetentionDays" toml:"log_retention_days" yaml:"logRetentionDays"`
}

type Advanced struct {
	CustomGitPath      string `json:"customGitPath,omitempty" toml:"custom_git_path,omitempty" yaml:"customGitPath,omitempty"`
	EnableDebugLogging bool   `json:"enableDebugLogging" toml:"enable_debug_logging" yaml:"enableDebugLogging"`
}

type AISettings struct {
	Enabled bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
	APIKey  string `json:"apiKey,omitempty" toml:"api_key,omitempty" yaml:"apiKey,omitempty"`
	Model   string `json:"model,omitempty" toml:"model,omitempty" yaml:"model,omitempty"`
}

// DefaultSettings returns the settings used before anything is saved
func DefaultSettings() Settings {
	return Settings{
		Proxy: types.ProxySettings{Type: "http"},
		GitBehavior: GitBehavior{
			DefaultBranchName: "main",
			AutoFetch:         false,
			AutoFetchInterval: 10,
		},
		Sync: SyncSettings{
			AutoRefresh:         true,
			AutoRefreshInterval: 10,
			PullTimeout:         30,
			PushTimeout:         30,
		},
		Performance: Performance{
			CommitCacheTTL:   300,
			MaxCacheSize:     100,
			LogRetentionDays: 7,
		},
	}
}

// Normalize replaces out-of-range values with their defaults
func (s *Settings) Normalize() {
	d := DefaultSettings()
	if s.GitBehavior.DefaultBranchName == "" {
		s.GitBehavior.DefaultBranchName = d.GitBehavior.DefaultBranchName
	}
	if s.GitBehavior.AutoFetchInterval <= 0 {
		s.GitBehavior.AutoFetchInterval = d.GitBehavior.AutoFetchInterval
	}
	if s.Sync.AutoRefreshInterval <= 0 {
		s.Sync.AutoRefreshInterval = d.Sync.AutoRefreshInterval
	}
	if s.Sync.PullTimeout <= 0 {
		s.Sync.PullTimeout = d.Sync.PullTimeout
	}
	if s.Sync.PushTimeout <= 0 {
		s.Sync.PushTimeout = d.Sync.PushTimeout
	}
	if s.Performance.CommitCacheTTL <= 0 {
		s.Performance.CommitCacheTTL = d.Performance.CommitCacheTTL
	}
	if s.Performance.MaxCacheSize < 0 {
		s.Performance.MaxCacheSize = d.Performance.MaxCacheSize
	}
	if s.Performance.LogRetentionDays <= 0 {
		s.Performance.LogRetentionDays = d.Performance.LogRetentionDays
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// CommitCacheTTL returns how long commit pages stay cached
func (s Settings) CommitCacheTTL() time.Duration { return seconds(s.Performance.CommitCacheTTL) }

// AutoRefreshInterval returns the period of background status refreshes
func (s Settings) AutoRefreshInterval() time.Duration { return seconds(s.Sync.AutoRefreshInterval) }

// AutoFetchInterval returns the period of background fetches
func (s Settings) AutoFetchInterval() time.Duration {
	return time.Duration(s.GitBehavior.AutoFetchInterval) * time.Minute
}

// NetworkTimeout returns the larger of the pull and push timeouts
func (s Settings) NetworkTimeout() time.Duration {
	return seconds(max(s.Sync.PullTimeout, s.Sync.PushTimeout))
}

// ===================
// Persistence
// ===================

// KV is the part of the store used for settings
type KV interface {
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	PutJSON(ctx context.Context, key string, v any) error
}

// LoadSettings reads the settings from kv over the defaults
func LoadSettings(ctx context.Context, kv KV) (Settings, error) {
	s := DefaultSettings()
	if _, err := kv.GetJSON(ctx, SettingsKey, &s); err != nil {
		return DefaultSettings(), err
	}
	s.Normalize()
	return s, nil
}

// SaveSettings normalizes s and writes it to kv
func SaveSettings(ctx context.Context, kv KV, s Settings) error {
	s.Normalize()
	return kv.PutJSON(ctx, SettingsKey, s)
}

// ===================
// Export / Import
// ===================

// Format is a settings file encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts json, toml, yaml and yml
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json":
		return FormatJSON, nil
	case "toml":
		return FormatTOML, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unsupported settings format %q (want json, toml or yaml)", s)
}

// Export writes s to w in the given format
func Export(w io.Writer, s Settings, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case FormatTOML:
		return toml.NewEncoder(w).Encode(s)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unsupported settings format %q", f)
}

// Import reads settings in the given format. Fields absent from the input
// keep their defaults.
func Import(r io.Reader, f Format) (Settings, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	s := DefaultSettings()
	switch f {
	case FormatJSON:
		err = json.Unmarshal(data, &s)
	case FormatTOML:
		_, err = toml.NewDecoder(bytes.NewReader(data)).Decode(&s)
	case FormatYAML:
		err = yaml.Unmarshal(data, &s)
	default:
		err = fmt.Errorf("unsupported settings format %q", f)
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to parse %s settings: %w", f, err)
	}

	s.Normalize()
	return s, nil
}
