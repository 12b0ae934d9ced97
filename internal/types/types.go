// Package types holds the records shared between the engine, the store and
// the command line.
package types

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gitdeck/gitdeck/internal/vcs"
)

// RepoStatus is the connection status of a repository
type RepoStatus string

const (
	StatusOnline  RepoStatus = "online"
	StatusOffline RepoStatus = "offline"
	StatusSyncing RepoStatus = "syncing"
	StatusError   RepoStatus = "error"
)

// IsValid reports whether s is a known status
func (s RepoStatus) IsValid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusSyncing, StatusError:
		return true
	}
	return false
}

// Protocol is the transport used to reach the remote
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
	ProtocolSSH   Protocol = "ssh"
)

// AuthType selects which credential fields of a Repository are used
type AuthType string

const (
	AuthNone     AuthType = "none"
	AuthToken    AuthType = "token"
	AuthPassword AuthType = "password"
	AuthSSH      AuthType = "ssh"
)

// ProxySettings is a proxy configuration as stored in settings and on
// repositories.
type ProxySettings struct {
	Enabled  bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
	Type     string `json:"type" toml:"type" yaml:"type"` // http, https, socks5
	Host     string `json:"host" toml:"host" yaml:"host"`
	Port     int    `json:"port" toml:"port" yaml:"port"`
	Username string `json:"username,omitempty" toml:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" toml:"password,omitempty" yaml:"password,omitempty"`
}

// Config converts enabled settings to the backend form. Returns nil when
// disabled or incomplete.
func (p *ProxySettings) Config() *vcs.ProxyConfig {
	if p == nil || !p.Enabled || p.Host == "" || p.Port == 0 {
		return nil
	}
	return &vcs.ProxyConfig{
		Type:     p.Type,
		Host:     p.Host,
		Port:     p.Port,
		Username: p.Username,
		Password: p.Password,
	}
}

// Repository identifies a working directory managed by gitdeck
type Repository struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Path       string         `json:"path"`
	Status     RepoStatus     `json:"status"`
	Protocol   Protocol       `json:"protocol,omitempty"`
	AuthType   AuthType       `json:"authType,omitempty"`
	Username   string         `json:"username,omitempty"`
	Token      string         `json:"token,omitempty"`
	Password   string         `json:"password,omitempty"`
	SSHKeyPath string         `json:"sshKeyPath,omitempty"`
	RemoteURL  string         `json:"remoteUrl,omitempty"`
	Proxy      *ProxySettings `json:"proxy,omitempty"`
	AddedAt    time.Time      `json:"addedAt"`
}

// NewRepository returns an offline repository for path with a fresh ID.
// The name defaults to the last path element.
func NewRepository(path, name string) *Repository {
	path = filepath.Clean(path)
	if name == "" {
		name = filepath.Base(path)
	}
	return &Repository{
		ID:       uuid.NewString(),
		Name:     name,
		Path:     path,
		Status:   StatusOffline,
		AuthType: AuthNone,
		AddedAt:  time.Now().UTC(),
	}
}

// Validate checks the fields required before a repository is persisted
func (r *Repository) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("repository id is required")
	}
	if strings.TrimSpace(r.Path) == "" {
		return fmt.Errorf("repository path is required")
	}
	if r.Status != "" && !r.Status.IsValid() {
		return fmt.Errorf("invalid repository status: %s", r.Status)
	}
	return nil
}

// AuthConfig derives the backend credentials of the repository.
// fallbackProxy is used when the repository has no enabled proxy of its own.
// Returns nil when there is nothing to pass.
func (r *Repository) AuthConfig(fallbackProxy *ProxySettings) *vcs.AuthConfig {
	auth := &vcs.AuthConfig{}

	switch r.AuthType {
	case AuthToken:
		auth.Username = r.Username
		auth.Token = r.Token
	case AuthPassword:
		auth.Username = r.Username
		auth.Password = r.Password
	case AuthSSH:
		auth.SSHKeyPath = r.SSHKeyPath
	}

	auth.Proxy = r.Proxy.Config()
	if auth.Proxy == nil {
		auth.Proxy = fallbackProxy.Config()
	}

	if *auth == (vcs.AuthConfig{}) {
		return nil
	}
	return auth
}

// Clone returns a deep copy
func (r *Repository) Clone() *Repository {
	if r == nil {
		return nil
	}
	c := *r
	if r.Proxy != nil {
		p := *r.Proxy
		c.Proxy = &p
	}
	return &c
}
