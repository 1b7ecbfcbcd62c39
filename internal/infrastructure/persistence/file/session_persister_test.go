package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/portal-gateway/internal/domain/models"
	"github.com/turtacn/portal-gateway/internal/domain/service/mocks"
)

func TestSessionPersister_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	p := NewSessionPersister(dir)
	ctx := context.Background()

	s, err := models.NewSession(*mocks.TokenSet("bob", time.Hour, "rt-bob", "staff"))
	require.NoError(t, err)
	require.NoError(t, p.Save(ctx, "session", s.ToPersisted(time.Now())))

	info, err := os.Stat(filepath.Join(dir, "session.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := p.Load(ctx, "session")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	restored := loaded.Session()
	assert.Equal(t, s.AccessToken, restored.AccessToken)
	assert.Equal(t, "rt-bob", restored.RefreshToken)
	assert.True(t, s.Expiry.Equal(restored.Expiry))
	assert.Equal(t, "bob", restored.Claims.Subject)
	assert.NoError(t, restored.Validate(time.Now()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestSessionPersister_MissingAndDelete(t *testing.T) {
	p := NewSessionPersister(t.TempDir())
	ctx := context.Background()

	loaded, err := p.Load(ctx, "session")
	assert.NoError(t, err)
	assert.Nil(t, loaded)
	assert.NoError(t, p.Delete(ctx, "session"))
}

func TestSessionPersister_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.json"), []byte("garbage"), 0o600))

	_, err := NewSessionPersister(dir).Load(context.Background(), "session")
	assert.Error(t, err)
}
