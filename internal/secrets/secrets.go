// Package secrets keeps repository and platform credentials in the OS
// keychain instead of the local database.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/gitdeck/gitdeck/internal/types"
)

// DefaultService is the keychain service name entries are stored under
const DefaultService = "gitdeck"

// Keychain reads and writes secrets of one service
type Keychain struct {
	service string
}

// New returns a keychain for service, DefaultService when empty
func New(service string) *Keychain {
	if service == "" {
		service = DefaultService
	}
	return &Keychain{service: service}
}

// Get returns the secret stored for account. The bool is false when there is none.
func (k *Keychain) Get(account string) (string, bool, error) {
	v, err := keyring.Get(k.service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s from keychain: %w", account, err)
	}
	return v, true, nil
}

// Set stores secret for account. An empty secret deletes the entry.
func (k *Keychain) Set(account, secret string) error {
	if secret == "" {
		return k.Delete(account)
	}
	if err := keyring.Set(k.service, account, secret); err != nil {
		return fmt.Errorf("failed to write %s to keychain: %w", account, err)
	}
	return nil
}

// Delete removes the entry for account. Missing entries are not an error.
func (k *Keychain) Delete(account string) error {
	err := keyring.Delete(k.service, account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete %s from keychain: %w", account, err)
	}
	return nil
}

// PlatformAccount is the keychain account of a hosting platform token
func PlatformAccount(platform string) string { return "platform:" + platform }

func tokenAccount(id string) string    { return "repo:" + id + ":token" }
func passwordAccount(id string) string { return "repo:" + id + ":password" }

// RepositoryStore persists the repository list
type RepositoryStore interface {
	LoadRepositories(ctx context.Context) ([]*types.Repository, error)
	SaveRepositories(ctx context.Context, repos []*types.Repository) error
}

// Store wraps a RepositoryStore, moving each repository's token and
// password into the keychain on save and restoring them on load.
type Store struct {
	next     RepositoryStore
	keychain *Keychain

	mu    sync.Mutex
	saved map[string]bool
}

// NewStore wraps next
func NewStore(next RepositoryStore, keychain *Keychain) *Store {
	return &Store{next: next, keychain: keychain, saved: map[string]bool{}}
}

// LoadRepositories loads the list and fills in stored credentials
func (s *Store) LoadRepositories(ctx context.Context) ([]*types.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repos, err := s.next.LoadRepositories(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range repos {
		// Lists written before the keychain was used still carry secrets inline.
		if r.Token == "" {
			if r.Token, _, err = s.keychain.Get(tokenAccount(r.ID)); err != nil {
				return nil, err
			}
		}
		if r.Password == "" {
			if r.Password, _, err = s.keychain.Get(passwordAccount(r.ID)); err != nil {
				return nil, err
			}
		}
		s.saved[r.ID] = true
	}
	return repos, nil
}

// SaveRepositories writes credentials to the keychain and the stripped
// list to the wrapped store. Entries of repositories no longer in the
// list are deleted.
func (s *Store) SaveRepositories(ctx context.Context, repos []*types.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stripped := make([]*types.Repository, 0, len(repos))
	present := make(map[string]bool, len(repos))

	for _, r := range repos {
		if err := s.keychain.Set(tokenAccount(r.ID), r.Token); err != nil {
			return err
		}
		if err := s.keychain.Set(passwordAccount(r.ID), r.Password); err != nil {
			return err
		}
		c := r.Clone()
		c.Token, c.Password = "", ""
		stripped = append(stripped, c)
		present[r.ID] = true
	}

	if err := s.next.SaveRepositories(ctx, stripped); err != nil {
		return err
	}

	for id := range s.saved {
		if present[id] {
			continue
		}
		if err := s.keychain.Delete(tokenAccount(id)); err != nil {
			return err
		}
		if err := s.keychain.Delete(passwordAccount(id)); err != nil {
			return err
		}
	}
	s.saved = present
	return nil
}
