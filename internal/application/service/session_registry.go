package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/portal-gateway/internal/domain/models"
	domainService "github.com/turtacn/portal-gateway/internal/domain/service"
	"github.com/turtacn/portal-gateway/pkg/constants"
	"github.com/turtacn/portal-gateway/pkg/errors"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

const publishTimeout = 5 * time.Second

// PortalSession bundles the store, controller and gateway of one browser session.
type PortalSession struct {
	ID         string
	Store      *domainService.SessionStore
	Controller *domainService.TokenRefreshController
	Gateway    *Gateway

	unsubscribe func()
	// holds counts requests currently using the session; guarded by SessionRegistry.mu.
	holds int
}

// RegistryConfig holds the settings shared by every session.
type RegistryConfig struct {
	IdleTimeout time.Duration
	StaffRoles  []string
	Controller  domainService.RefreshControllerConfig
	Gateway     GatewayConfig
}

// SessionRegistry keeps one controller per logged-in browser session and stops it after an idle
// period. Only a login or a successful restore puts a session in memory, so unknown cookies cost
// a persistence lookup and nothing else.
// Eviction only drops the in-memory copy; the persisted record is restored on the next request.
type SessionRegistry struct {
	cfg       RegistryConfig
	provider  domainService.IdentityProvider
	persister domainService.SessionPersister
	publisher domainService.AuthEventPublisher
	policy    models.RolePolicy
	metrics   domainService.Metrics
	group     singleflight.Group
	logger    logger.Logger

	// sessions only times idleness. live is the authority on which PortalSession owns an id,
	// so at most one controller exists per id.
	sessions *cache.Cache
	mu       sync.Mutex
	live     map[string]*PortalSession
}

// RegistryOption customizes a SessionRegistry.
type RegistryOption func(*SessionRegistry)

func WithRegistryMetrics(m domainService.Metrics) RegistryOption {
	return func(r *SessionRegistry) { r.metrics = m }
}

func WithEventPublisher(p domainService.AuthEventPublisher) RegistryOption {
	return func(r *SessionRegistry) { r.publisher = p }
}

// NewSessionRegistry creates a registry. persister may be nil for memory-only sessions.
func NewSessionRegistry(cfg RegistryConfig, provider domainService.IdentityProvider, persister domainService.SessionPersister, log logger.Logger, opts ...RegistryOption) *SessionRegistry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = constants.DefaultSessionIdleTimeout
	}
	if cfg.Gateway.HTTPClient == nil {
		cfg.Gateway.HTTPClient = newUpstreamClient(cfg.Gateway.Timeout)
	}

	r := &SessionRegistry{
		cfg:       cfg,
		provider:  provider,
		persister: persister,
		policy:    models.NewRolePolicy(cfg.StaffRoles),
		metrics:   domainService.NoopMetrics{},
		sessions:  cache.New(cfg.IdleTimeout, cfg.IdleTimeout/2),
		live:      make(map[string]*PortalSession),
		logger:    log.WithComponent("session_registry"),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.sessions.OnEvicted(r.evicted)
	return r
}

// NewSessionID returns a fresh opaque session identifier.
func (r *SessionRegistry) NewSessionID() string {
	return uuid.NewString()
}

// Create starts an empty session under a fresh id. The login callback uses it so the id a
// browser carried before logging in is never the one that gets authenticated.
func (r *SessionRegistry) Create() *PortalSession {
	ps := r.build(r.NewSessionID())
	ps.Controller.Start()

	r.mu.Lock()
	r.live[ps.ID] = ps
	r.sessions.SetDefault(ps.ID, ps)
	n := len(r.live)
	r.mu.Unlock()

	r.metrics.SetActiveSessions(n)
	return ps
}

// Get returns the session for id, silently restoring a persisted record on first use. It
// reports false when id names no session. Every hit resets the idle timer.
func (r *SessionRegistry) Get(ctx context.Context, id string) (*PortalSession, bool, error) {
	return r.resume(ctx, id, false)
}

// Acquire is Get for the length of a request: the session is not evicted until Release.
func (r *SessionRegistry) Acquire(ctx context.Context, id string) (*PortalSession, bool, error) {
	return r.resume(ctx, id, true)
}

// Release ends a hold taken by Acquire and resets the idle timer.
func (r *SessionRegistry) Release(ps *PortalSession) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ps.holds > 0 {
		ps.holds--
	}
	if r.live[ps.ID] == ps {
		r.sessions.SetDefault(ps.ID, ps)
	}
}

func (r *SessionRegistry) resume(ctx context.Context, id string, hold bool) (*PortalSession, bool, error) {
	if id == "" {
		return nil, false, errors.ErrMissingRequiredParameter("session id")
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, false, errors.ErrInvalidRequest("malformed session id")
	}
	if ps, ok := r.touch(id, hold); ok {
		return ps, true, nil
	}

	_, err, _ := r.group.Do(id, func() (interface{}, error) {
		if _, ok := r.touch(id, false); ok {
			return nil, nil
		}

		ps := r.build(id)
		restored, err := ps.Controller.Restore(context.WithoutCancel(ctx))
		if err != nil {
			r.logger.Warn(ctx, "Silent restore failed", logger.String("error", err.Error()))
		}
		if !restored {
			ps.close()
			return nil, nil
		}
		r.logger.Debug(ctx, "Session restored from persistence", logger.String("session_id", id))

		ps.Controller.Start()
		r.mu.Lock()
		r.live[id] = ps
		r.sessions.SetDefault(id, ps)
		n := len(r.live)
		r.mu.Unlock()
		r.metrics.SetActiveSessions(n)
		return nil, nil
	})
	if err != nil {
		return nil, false, err
	}

	ps, ok := r.touch(id, hold)
	return ps, ok, nil
}

// touch returns the live session for id, re-arming its idle timer and optionally holding it.
func (r *SessionRegistry) touch(id string, hold bool) (*PortalSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ps, ok := r.live[id]
	if !ok {
		return nil, false
	}
	if hold {
		ps.holds++
	}
	r.sessions.SetDefault(id, ps)
	return ps, true
}

// evicted runs when the idle timer of a session fires. A held session is re-armed instead.
func (r *SessionRegistry) evicted(id string, v interface{}) {
	ps, ok := v.(*PortalSession)
	if !ok {
		return
	}

	r.mu.Lock()
	if r.live[id] != ps {
		r.mu.Unlock()
		return
	}
	if _, rearmed := r.sessions.Get(id); rearmed {
		r.mu.Unlock()
		return
	}
	if ps.holds > 0 {
		r.sessions.SetDefault(id, ps)
		r.mu.Unlock()
		return
	}
	delete(r.live, id)
	n := len(r.live)
	r.mu.Unlock()

	ps.close()
	r.metrics.SetActiveSessions(n)
}

// Lookup returns an in-memory session without restoring one.
func (r *SessionRegistry) Lookup(id string) (*PortalSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.live[id]
	return ps, ok
}

// Remove stops and forgets the session. The persisted record is left to the store.
func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	ps, ok := r.live[id]
	delete(r.live, id)
	n := len(r.live)
	r.mu.Unlock()

	r.sessions.Delete(id)
	if ok {
		ps.close()
		r.metrics.SetActiveSessions(n)
	}
}

// Discard removes the session and deletes its persisted record. Malformed ids are ignored.
func (r *SessionRegistry) Discard(ctx context.Context, id string) {
	if uuid.Validate(id) != nil {
		return
	}
	r.Remove(id)
	if r.persister == nil {
		return
	}
	if err := r.persister.Delete(context.WithoutCancel(ctx), id); err != nil {
		r.logger.Warn(ctx, "Failed to delete discarded session", logger.String("error", err.Error()))
	}
}

// Len returns the number of sessions held in memory.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Close stops every session's background loop.
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Remove(id)
	}
}

func (r *SessionRegistry) build(id string) *PortalSession {
	log := r.logger.WithFields(logger.String("session_id", id))

	store := domainService.NewSessionStore(id, r.persister, r.policy, log,
		domainService.WithStoreMetrics(r.metrics),
	)

	ctrlCfg := r.cfg.Controller
	ctrlCfg.SessionID = id
	controller := domainService.NewTokenRefreshController(store, r.provider, ctrlCfg, log,
		domainService.WithControllerMetrics(r.metrics),
	)

	ps := &PortalSession{
		ID:         id,
		Store:      store,
		Controller: controller,
		Gateway:    NewGateway(controller, r.cfg.Gateway, log, WithGatewayMetrics(r.metrics)),
	}
	if r.publisher != nil {
		ps.unsubscribe = controller.SubscribeEvents(r.publish)
	}
	return ps
}

func (r *SessionRegistry) publish(event models.AuthEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := r.publisher.Publish(ctx, event); err != nil {
			r.logger.Warn(ctx, "Failed to publish auth event",
				logger.String("event_type", string(event.Type)),
				logger.String("error", err.Error()),
			)
		}
	}()
}

func (ps *PortalSession) close() {
	ps.Controller.Stop()
	if ps.unsubscribe != nil {
		ps.unsubscribe()
	}
}
