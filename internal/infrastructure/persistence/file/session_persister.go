// Package file persists the CLI's single session as a JSON file under the user's config directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/turtacn/portal-gateway/internal/domain/models"
	"github.com/turtacn/portal-gateway/internal/domain/service"
)

var _ service.SessionPersister = (*SessionPersister)(nil)

// SessionPersister writes <dir>/<key>.json with owner-only permissions.
type SessionPersister struct {
	dir string
}

// NewSessionPersister creates a persister rooted at dir. The directory is created on first save.
func NewSessionPersister(dir string) *SessionPersister {
	return &SessionPersister{dir: dir}
}

// DefaultDir returns $XDG_CONFIG_HOME/portal-gateway (or the platform equivalent).
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "portal-gateway"), nil
}

func (p *SessionPersister) path(key string) string {
	return filepath.Join(p.dir, key+".json")
}

// Save replaces the file atomically via rename.
func (p *SessionPersister) Save(_ context.Context, key string, record *models.PersistedSession) error {
	if err := os.MkdirAll(p.dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	tmp, err := os.CreateTemp(p.dir, key+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p.path(key))
}

// Load returns (nil, nil) when the file does not exist.
func (p *SessionPersister) Load(_ context.Context, key string) (*models.PersistedSession, error) {
	b, err := os.ReadFile(p.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record models.PersistedSession
	if err := json.Unmarshal(b, &record); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", p.path(key), err)
	}
	return &record, nil
}

func (p *SessionPersister) Delete(_ context.Context, key string) error {
	err := os.Remove(p.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
