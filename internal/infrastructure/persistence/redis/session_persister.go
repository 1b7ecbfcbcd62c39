package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/portal-gateway/internal/domain/models"
	"github.com/turtacn/portal-gateway/internal/domain/service"
	"github.com/turtacn/portal-gateway/pkg/constants"
)

var _ service.SessionPersister = (*SessionPersister)(nil)

// SessionPersister stores persisted sessions as JSON strings under portal:session:<key>.
// Records expire after ttl so abandoned browser sessions do not accumulate.
type SessionPersister struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewSessionPersister creates a Redis-backed session persister.
func NewSessionPersister(rdb redis.UniversalClient, ttl time.Duration) *SessionPersister {
	if ttl <= 0 {
		ttl = constants.DefaultSessionTTL
	}
	return &SessionPersister{rdb: rdb, ttl: ttl}
}

func sessionKey(key string) string { return constants.SessionKeyPrefix + key }

// Save overwrites the record for key.
func (p *SessionPersister) Save(ctx context.Context, key string, record *models.PersistedSession) error {
	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return p.rdb.Set(ctx, sessionKey(key), b, p.ttl).Err()
}

// Load returns (nil, nil) when no record exists.
func (p *SessionPersister) Load(ctx context.Context, key string) (*models.PersistedSession, error) {
	b, err := p.rdb.Get(ctx, sessionKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record models.PersistedSession
	if err := json.Unmarshal(b, &record); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &record, nil
}

// Delete removes the record. Deleting a missing key is not an error.
func (p *SessionPersister) Delete(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, sessionKey(key)).Err()
}

//Personal.AI order the ending
