package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/portal-gateway/internal/config"
	"github.com/turtacn/portal-gateway/internal/domain/models"
	"github.com/turtacn/portal-gateway/internal/domain/service/mocks"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func testRecord(t *testing.T) *models.PersistedSession {
	t.Helper()
	s, err := models.NewSession(*mocks.TokenSet("alice", time.Hour, "rt-1", "student"))
	require.NoError(t, err)
	return s.ToPersisted(time.Now())
}

func TestSessionPersister_SaveLoadDelete(t *testing.T) {
	mr, rdb := setupRedis(t)
	p := NewSessionPersister(rdb, time.Hour)
	ctx := context.Background()

	record := testRecord(t)
	require.NoError(t, p.Save(ctx, "sid-1", record))
	assert.True(t, mr.Exists("portal:session:sid-1"))
	assert.Equal(t, time.Hour, mr.TTL("portal:session:sid-1"))

	loaded, err := p.Load(ctx, "sid-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, record.AccessToken, loaded.AccessToken)
	assert.Equal(t, "rt-1", loaded.RefreshToken)
	assert.Equal(t, "alice", loaded.UserID)
	assert.Equal(t, []string{"student"}, loaded.Roles)
	assert.True(t, record.ExpiresAt.Equal(loaded.ExpiresAt))

	require.NoError(t, p.Delete(ctx, "sid-1"))
	assert.False(t, mr.Exists("portal:session:sid-1"))
}

func TestSessionPersister_LoadMissing(t *testing.T) {
	_, rdb := setupRedis(t)
	p := NewSessionPersister(rdb, 0)

	loaded, err := p.Load(context.Background(), "nobody")
	assert.NoError(t, err)
	assert.Nil(t, loaded)
	assert.NoError(t, p.Delete(context.Background(), "nobody"))
}

func TestSessionPersister_CorruptRecord(t *testing.T) {
	mr, rdb := setupRedis(t)
	require.NoError(t, mr.Set("portal:session:bad", "{not json"))

	_, err := NewSessionPersister(rdb, time.Hour).Load(context.Background(), "bad")
	assert.Error(t, err)
}

func TestSessionPersister_Expires(t *testing.T) {
	mr, rdb := setupRedis(t)
	p := NewSessionPersister(rdb, time.Minute)
	require.NoError(t, p.Save(context.Background(), "sid-2", testRecord(t)))

	mr.FastForward(2 * time.Minute)

	loaded, err := p.Load(context.Background(), "sid-2")
	assert.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSessionPersister_RedisDown(t *testing.T) {
	mr, rdb := setupRedis(t)
	mr.Close()

	p := NewSessionPersister(rdb, time.Hour)
	assert.Error(t, p.Save(context.Background(), "sid", testRecord(t)))
	_, err := p.Load(context.Background(), "sid")
	assert.Error(t, err)
}

func TestRedisConnection_ConnectAndHealth(t *testing.T) {
	mr := miniredis.RunT(t)
	conn := NewRedisConnection(&config.RedisConfig{
		Mode:      "standalone",
		Addresses: []string{mr.Addr()},
		PoolSize:  4,
	}, logger.NewNoopLogger())

	require.NoError(t, conn.Connect(context.Background()))
	t.Cleanup(func() { _ = conn.Close() })

	assert.NoError(t, conn.Ping(context.Background()))
	health, err := conn.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, true, health["connected"])
}

func TestRedisConnection_ConfigErrors(t *testing.T) {
	log := logger.NewNoopLogger()

	err := NewRedisConnection(&config.RedisConfig{Mode: "standalone"}, log).Connect(context.Background())
	assert.Error(t, err)

	err = NewRedisConnection(&config.RedisConfig{Mode: "sentinel", Addresses: []string{"x:1"}}, log).Connect(context.Background())
	assert.ErrorContains(t, err, "master name")

	assert.Error(t, NewRedisConnection(&config.RedisConfig{}, log).Ping(context.Background()))
}
