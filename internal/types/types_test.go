package types

import (
	"testing"
)

func TestNewRepository(t *testing.T) {
	r := NewRepository("/tmp/work/app/", "")
	if r.ID == "" {
		t.Error("ID should be generated")
	}
	if r.Path != "/tmp/work/app" || r.Name != "app" {
		t.Errorf("NewRepository() = %+v", r)
	}
	if err := r.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	other := NewRepository("/tmp/work/app", "")
	if other.ID == r.ID {
		t.Error("IDs should be unique")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		repo    Repository
		wantErr bool
	}{
		{"valid", Repository{ID: "1", Path: "/r", Status: StatusOnline}, false},
		{"missing id", Repository{Path: "/r"}, true},
		{"missing path", Repository{ID: "1", Path: "  "}, true},
		{"bad status", Repository{ID: "1", Path: "/r", Status: "lost"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.repo.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthConfig(t *testing.T) {
	global := &ProxySettings{Enabled: true, Type: "http", Host: "proxy", Port: 3128}

	t.Run("none without proxy", func(t *testing.T) {
		r := Repository{AuthType: AuthNone}
		if got := r.AuthConfig(nil); got != nil {
			t.Errorf("AuthConfig() = %v, want nil", got)
		}
	})

	t.Run("token with global proxy", func(t *testing.T) {
		r := Repository{AuthType: AuthToken, Username: "me", Token: "tok", Password: "ignored"}
		got := r.AuthConfig(global)
		if got == nil || got.Token != "tok" || got.Password != "" || got.Username != "me" {
			t.Fatalf("AuthConfig() = %+v", got)
		}
		if got.Proxy == nil || got.Proxy.Host != "proxy" {
			t.Errorf("global proxy should apply, got %+v", got.Proxy)
		}
	})

	t.Run("repository proxy wins", func(t *testing.T) {
		r := Repository{
			AuthType:   AuthSSH,
			SSHKeyPath: "/home/me/.ssh/id_ed25519",
			Proxy:      &ProxySettings{Enabled: true, Type: "socks5", Host: "local", Port: 1080},
		}
		got := r.AuthConfig(global)
		if got.SSHKeyPath == "" || got.Proxy.Host != "local" {
			t.Errorf("AuthConfig() = %+v", got)
		}
	})

	t.Run("disabled proxy ignored", func(t *testing.T) {
		r := Repository{Proxy: &ProxySettings{Enabled: false, Host: "x", Port: 1}}
		if got := r.AuthConfig(&ProxySettings{Host: "y", Port: 2}); got != nil {
			t.Errorf("AuthConfig() = %+v, want nil", got)
		}
	})
}

func TestClone(t *testing.T) {
	r := &Repository{ID: "1", Proxy: &ProxySettings{Host: "a"}}
	c := r.Clone()
	c.Proxy.Host = "b"
	if r.Proxy.Host != "a" {
		t.Error("Clone() should deep-copy the proxy")
	}
}
