package service

import (
	"context"
	"sync"
	"time"

	"github.com/turtacn/portal-gateway/internal/domain/models"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

// persistTimeout bounds a single best-effort write to durable storage.
const persistTimeout = 5 * time.Second

// SessionStore holds the token set of one user and derives the identity from it.
// It is the single owner of session state; only the refresh controller mutates it.
// SessionStore 保存单个用户的令牌集并从中派生身份；它是会话状态的唯一持有者。
type SessionStore struct {
	// writeMu serializes set/clear so the durable record and change listeners follow the
	// in-memory order.
	writeMu sync.Mutex
	mu      sync.RWMutex
	session *models.Session

	key       string
	persister SessionPersister
	policy    models.RolePolicy
	changes   Emitter[models.SessionChange]
	logger    logger.Logger
	metrics   Metrics
	now       func() time.Time
}

// SessionStoreOption customizes a SessionStore.
type SessionStoreOption func(*SessionStore)

// WithStoreClock overrides the time source.
func WithStoreClock(now func() time.Time) SessionStoreOption {
	return func(s *SessionStore) { s.now = now }
}

// WithStoreMetrics sets the metrics sink.
func WithStoreMetrics(m Metrics) SessionStoreOption {
	return func(s *SessionStore) { s.metrics = m }
}

// NewSessionStore creates an empty store. key names the persisted record; persister may be nil
// for a purely in-memory store.
func NewSessionStore(key string, persister SessionPersister, policy models.RolePolicy, log logger.Logger, opts ...SessionStoreOption) *SessionStore {
	s := &SessionStore{
		key:       key,
		persister: persister,
		policy:    policy,
		logger:    log.WithComponent("session_store"),
		metrics:   NoopMetrics{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the persisted record key.
func (s *SessionStore) Key() string {
	return s.key
}

// CurrentToken returns the access token if a session is present and not expired.
func (s *SessionStore) CurrentToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil || !s.session.Expiry.After(s.now()) {
		return "", false
	}
	return s.session.AccessToken, true
}

// Snapshot returns a copy of the session, expired or not, for refresh decisions.
func (s *SessionStore) Snapshot() (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return models.Session{}, false
	}
	return *s.session, true
}

// Identity derives the current user from the session claims.
func (s *SessionStore) Identity() (*models.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return nil, false
	}
	return s.policy.IdentityFromClaims(s.session.Claims), true
}

// SetSession atomically replaces the session. An incomplete session is rejected with
// InvalidSessionData and the previous state is kept.
func (s *SessionStore) SetSession(ctx context.Context, session models.Session) error {
	if err := session.Validate(s.now()); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	stored := session
	s.session = &stored
	s.mu.Unlock()

	s.persist(ctx, &stored)

	snapshot := stored
	s.changes.Emit(models.SessionChange{
		Session:  &snapshot,
		Identity: s.policy.IdentityFromClaims(stored.Claims),
	})
	return nil
}

// ClearSession wipes the session and its persisted record. Clearing an empty store is a no-op
// apart from the durable delete.
func (s *SessionStore) ClearSession(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	hadSession := s.session != nil
	s.session = nil
	s.mu.Unlock()

	s.persist(ctx, nil)

	if hadSession {
		s.changes.Emit(models.SessionChange{})
	}
}

// LoadPersisted reads the durable record, returning nil when there is none.
func (s *SessionStore) LoadPersisted(ctx context.Context) (*models.PersistedSession, error) {
	if s.persister == nil {
		return nil, nil
	}
	return s.persister.Load(ctx, s.key)
}

// Subscribe registers a listener for every set and clear. Listeners run while the write is
// still serialized and must not call SetSession or ClearSession.
func (s *SessionStore) Subscribe(fn func(models.SessionChange)) func() {
	return s.changes.Subscribe(fn)
}

// persist writes or deletes the durable record. Failures are logged and counted only.
func (s *SessionStore) persist(ctx context.Context, session *models.Session) {
	if s.persister == nil {
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if session == nil {
		if err := s.persister.Delete(pctx, s.key); err != nil {
			s.metrics.RecordPersistenceFailure("delete")
			s.logger.Error(ctx, "Failed to delete persisted session", err, logger.String("key", s.key))
		}
		return
	}

	if err := s.persister.Save(pctx, s.key, session.ToPersisted(s.now())); err != nil {
		s.metrics.RecordPersistenceFailure("save")
		s.logger.Error(ctx, "Failed to persist session", err, logger.String("key", s.key))
	}
}
