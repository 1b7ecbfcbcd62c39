package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/portal-gateway/internal/domain/models"
	"github.com/turtacn/portal-gateway/pkg/constants"
	perrors "github.com/turtacn/portal-gateway/pkg/errors"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

// State is the authentication state of one session.
type State string

const (
	StateAnonymous     State = "anonymous"
	StateAuthenticated State = "authenticated"
	StateRefreshing    State = "refreshing"
)

// Refresh triggers, used for metrics and logs.
const (
	TriggerForeground = "foreground"
	TriggerRejection  = "rejection"
	TriggerBackground = "background"
	TriggerRestore    = "restore"
)

// RefreshControllerConfig tunes the refresh policy.
type RefreshControllerConfig struct {
	// SessionID labels events and logs.
	SessionID string
	// RefreshTimeout bounds one refresh, including its single internal retry.
	RefreshTimeout time.Duration
	// RefreshThreshold is the remaining validity below which the background loop refreshes.
	RefreshThreshold time.Duration
	// BackgroundInterval is the period of the background loop; zero disables it.
	BackgroundInterval time.Duration
}

func (c *RefreshControllerConfig) setDefaults() {
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = constants.DefaultRefreshTimeout
	}
	if c.RefreshThreshold <= 0 {
		c.RefreshThreshold = constants.DefaultRefreshThreshold
	}
}

// TokenRefreshController hands out access tokens with enough remaining validity and owns every
// transition of the session it controls.
// TokenRefreshController 负责发放有效期充足的访问令牌，并掌控其会话的所有状态转换。
type TokenRefreshController struct {
	store    *SessionStore
	provider IdentityProvider
	cfg      RefreshControllerConfig
	logger   logger.Logger
	metrics  Metrics
	now      func() time.Time

	events Emitter[models.AuthEvent]
	group  singleflight.Group

	// mu guards generation and makes "check generation, then apply" atomic.
	mu         sync.Mutex
	generation uint64
	refreshing atomic.Int32

	lifecycleMu sync.Mutex
	stop        chan struct{}
	done        chan struct{}
}

// ControllerOption customizes a TokenRefreshController.
type ControllerOption func(*TokenRefreshController)

// WithControllerClock overrides the time source.
func WithControllerClock(now func() time.Time) ControllerOption {
	return func(c *TokenRefreshController) { c.now = now }
}

// WithControllerMetrics sets the metrics sink.
func WithControllerMetrics(m Metrics) ControllerOption {
	return func(c *TokenRefreshController) { c.metrics = m }
}

// NewTokenRefreshController creates a controller for store.
func NewTokenRefreshController(store *SessionStore, provider IdentityProvider, cfg RefreshControllerConfig, log logger.Logger, opts ...ControllerOption) *TokenRefreshController {
	cfg.setDefaults()
	c := &TokenRefreshController{
		store:    store,
		provider: provider,
		cfg:      cfg,
		logger:   log.WithComponent("token_refresh").WithFields(logger.String("session_id", cfg.SessionID)),
		metrics:  NoopMetrics{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store exposes the controlled store for read access.
func (c *TokenRefreshController) Store() *SessionStore {
	return c.store
}

// State reports the current state.
func (c *TokenRefreshController) State() State {
	if c.refreshing.Load() > 0 {
		return StateRefreshing
	}
	if _, ok := c.store.Snapshot(); ok {
		return StateAuthenticated
	}
	return StateAnonymous
}

// SubscribeEvents registers a listener for lifecycle events.
func (c *TokenRefreshController) SubscribeEvents(fn func(models.AuthEvent)) func() {
	return c.events.Subscribe(fn)
}

// ================================================================================
// Login / Logout / Restore
// ================================================================================

// AuthCodeURL returns the provider login URL.
func (c *TokenRefreshController) AuthCodeURL(state, verifier string) string {
	return c.provider.AuthCodeURL(state, verifier)
}

// Login completes the authorization-code flow and installs the resulting session.
func (c *TokenRefreshController) Login(ctx context.Context, code, verifier string) error {
	ts, err := c.provider.Exchange(ctx, code, verifier)
	if err != nil {
		c.logger.Warn(ctx, "Authorization code exchange failed", logger.String("error", err.Error()))
		return perrors.ErrRequiresReauthentication("authorization code exchange failed").WithCause(err)
	}

	session, err := models.NewSession(*ts)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.generation++
	err = c.store.SetSession(ctx, session)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.emit(constants.AuthEventLogin, session.Claims, "")
	c.logger.Info(ctx, "Session established",
		logger.String("subject", session.Claims.Subject),
		logger.Time("expires_at", session.Expiry),
	)
	return nil
}

// Logout clears the session and returns the ID token to use as end-session hint.
// Any refresh still in flight is discarded when it completes.
func (c *TokenRefreshController) Logout(ctx context.Context) string {
	c.mu.Lock()
	c.generation++
	session, ok := c.store.Snapshot()
	c.store.ClearSession(ctx)
	c.mu.Unlock()

	if !ok {
		return ""
	}
	c.emit(constants.AuthEventLogout, session.Claims, "")
	c.logger.Info(ctx, "Session logged out")
	return session.IDToken
}

// Restore reinstates a persisted session, refreshing it first if its access token expired.
// It reports whether a session is in place afterwards. An unusable record is deleted.
func (c *TokenRefreshController) Restore(ctx context.Context) (bool, error) {
	if _, ok := c.store.Snapshot(); ok {
		return true, nil
	}

	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	record, err := c.store.LoadPersisted(ctx)
	if err != nil {
		c.logger.Warn(ctx, "Failed to load persisted session", logger.String("error", err.Error()))
		return false, nil
	}
	if record == nil {
		return false, nil
	}

	session := record.Session()
	if session.Validate(c.now()) == nil {
		if c.apply(ctx, gen, session) {
			c.emit(constants.AuthEventRestored, session.Claims, "")
			return true, nil
		}
		return false, nil
	}

	if record.RefreshToken == "" {
		c.mu.Lock()
		if c.generation == gen {
			c.store.ClearSession(ctx)
		}
		c.mu.Unlock()
		return false, nil
	}

	token, err := c.sharedRefresh(gen, record.RefreshToken, "", TriggerRestore, 0)
	if err != nil {
		c.logger.Info(ctx, "Persisted session could not be refreshed", logger.String("error", err.Error()))
		c.mu.Lock()
		if c.generation == gen {
			c.store.ClearSession(ctx)
		}
		c.mu.Unlock()
		return false, nil
	}

	c.emit(constants.AuthEventRestored, session.Claims, "")
	return token != "", nil
}

// ================================================================================
// Token acquisition
// ================================================================================

// EnsureValidToken returns an access token valid for at least minValidity, refreshing at most once.
// Concurrent callers share a single provider refresh. On refresh failure the session is cleared and
// RefreshFailed is returned.
func (c *TokenRefreshController) EnsureValidToken(ctx context.Context, minValidity time.Duration) (string, error) {
	session, ok := c.store.Snapshot()
	if !ok {
		return "", perrors.ErrRequiresReauthentication("no active session")
	}
	if session.RemainingValidity(c.now()) >= minValidity {
		return session.AccessToken, nil
	}

	return c.foregroundRefresh(ctx, session, TriggerForeground, minValidity)
}

// RefreshAfterRejection forces a refresh after the backend rejected rejectedToken. If another caller
// already replaced that token, the replacement is returned without a new provider call.
func (c *TokenRefreshController) RefreshAfterRejection(ctx context.Context, rejectedToken string) (string, error) {
	session, ok := c.store.Snapshot()
	if !ok {
		return "", perrors.ErrRequiresReauthentication("no active session")
	}
	if session.AccessToken != rejectedToken && session.RemainingValidity(c.now()) > 0 {
		return session.AccessToken, nil
	}

	return c.foregroundRefresh(ctx, session, TriggerRejection, 0)
}

// RejectSession ends the session after the backend rejected a freshly refreshed token.
func (c *TokenRefreshController) RejectSession(ctx context.Context, reason string) {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	c.logger.Warn(ctx, "Session rejected by backend", logger.String("reason", reason))
	c.endSession(ctx, gen, constants.AuthEventSessionCleared, reason)
}

func (c *TokenRefreshController) foregroundRefresh(ctx context.Context, session models.Session, trigger string, minValidity time.Duration) (string, error) {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	key := "refresh:" + strconv.FormatUint(gen, 10)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.sharedRefresh(gen, session.RefreshToken, session.AccessToken, trigger, minValidity)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			c.endSession(ctx, gen, constants.AuthEventRefreshFailed, res.Err.Error())
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		// the shared refresh keeps running for the other callers
		return "", perrors.ErrRefreshFailed("caller gave up waiting for refresh").WithCause(ctx.Err())
	}
}

// sharedRefresh runs one provider refresh detached from any caller's context, bounded by
// RefreshTimeout, and applies its result if the session generation is unchanged.
func (c *TokenRefreshController) sharedRefresh(gen uint64, refreshToken, seenToken, trigger string, minValidity time.Duration) (string, error) {
	c.refreshing.Add(1)
	defer c.refreshing.Add(-1)

	start := c.now()
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RefreshTimeout)
	defer cancel()

	// Another caller may have completed a refresh between our check and this flight.
	if current, ok := c.store.Snapshot(); ok && seenToken != "" &&
		current.AccessToken != seenToken && current.RemainingValidity(c.now()) > minValidity {
		return current.AccessToken, nil
	}

	ts, err := c.callRefresh(ctx, refreshToken)
	if err != nil && !errors.Is(err, ErrGrantRejected) && ctx.Err() == nil {
		c.logger.Warn(ctx, "Token refresh failed, retrying once", logger.String("error", err.Error()))
		ts, err = c.callRefresh(ctx, refreshToken)
	}
	if err != nil {
		c.metrics.RecordRefresh(trigger, "failure", c.now().Sub(start))
		reason := err.Error()
		if ctx.Err() != nil {
			reason = "timed out after " + c.cfg.RefreshTimeout.String()
		}
		return "", perrors.ErrRefreshFailed(reason).WithCause(err)
	}

	if ts.RefreshToken == "" {
		ts.RefreshToken = refreshToken
	}
	session, err := models.NewSession(*ts)
	if err != nil {
		c.metrics.RecordRefresh(trigger, "invalid_response", c.now().Sub(start))
		return "", perrors.ErrRefreshFailed("provider returned an unreadable token").WithCause(err)
	}

	if !c.apply(ctx, gen, session) {
		c.metrics.RecordRefresh(trigger, "discarded", c.now().Sub(start))
		return "", perrors.ErrRequiresReauthentication("session ended during refresh")
	}

	c.metrics.RecordRefresh(trigger, "success", c.now().Sub(start))
	c.emit(constants.AuthEventRefreshed, session.Claims, trigger)
	c.logger.Debug(ctx, "Token refreshed",
		logger.String("trigger", trigger),
		logger.Time("expires_at", session.Expiry),
	)
	return session.AccessToken, nil
}

// callRefresh enforces ctx even against a provider that ignores it.
func (c *TokenRefreshController) callRefresh(ctx context.Context, refreshToken string) (*models.TokenSet, error) {
	type result struct {
		ts  *models.TokenSet
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ts, err := c.provider.Refresh(ctx, refreshToken)
		ch <- result{ts: ts, err: err}
	}()

	select {
	case r := <-ch:
		if r.err == nil && r.ts == nil {
			return nil, errors.New("provider returned no tokens")
		}
		return r.ts, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// apply installs session unless the generation moved on since gen was read.
func (c *TokenRefreshController) apply(ctx context.Context, gen uint64, session models.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		return false
	}
	if err := c.store.SetSession(ctx, session); err != nil {
		c.logger.Warn(ctx, "Refreshed session rejected", logger.String("error", err.Error()))
		return false
	}
	return true
}

// endSession clears the session if it still belongs to generation gen.
func (c *TokenRefreshController) endSession(ctx context.Context, gen uint64, event constants.AuthEventType, reason string) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.generation++
	session, ok := c.store.Snapshot()
	c.store.ClearSession(ctx)
	c.mu.Unlock()

	if ok {
		c.emit(event, session.Claims, reason)
	}
}

// ================================================================================
// Background refresh
// ================================================================================

// Start launches the background refresh loop. It is a no-op when already running or disabled.
func (c *TokenRefreshController) Start() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.stop != nil || c.cfg.BackgroundInterval <= 0 {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(c.stop, c.done)
}

// Stop halts the background loop and waits for it to exit.
func (c *TokenRefreshController) Stop() {
	c.lifecycleMu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.lifecycleMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (c *TokenRefreshController) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.BackgroundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.RefreshIfDue(context.Background())
		}
	}
}

// RefreshIfDue refreshes when remaining validity is below the threshold. Failures are logged
// and leave the session in place unless the provider rejected the grant.
func (c *TokenRefreshController) RefreshIfDue(ctx context.Context) {
	session, ok := c.store.Snapshot()
	if !ok || session.RemainingValidity(c.now()) >= c.cfg.RefreshThreshold {
		return
	}

	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	key := "refresh:" + strconv.FormatUint(gen, 10)
	res := <-c.group.DoChan(key, func() (interface{}, error) {
		return c.sharedRefresh(gen, session.RefreshToken, session.AccessToken, TriggerBackground, c.cfg.RefreshThreshold)
	})
	if res.Err == nil {
		return
	}

	if errors.Is(res.Err, ErrGrantRejected) {
		c.logger.Warn(ctx, "Background refresh rejected by provider, ending session")
		c.endSession(ctx, gen, constants.AuthEventRefreshFailed, "grant_rejected")
		return
	}
	c.logger.Warn(ctx, "Background refresh failed", logger.String("error", res.Err.Error()))
}

func (c *TokenRefreshController) emit(t constants.AuthEventType, claims *models.Claims, reason string) {
	event := models.AuthEvent{
		Type:      t,
		SessionID: c.cfg.SessionID,
		Reason:    reason,
		Timestamp: c.now().UTC(),
	}
	if claims != nil {
		event.Subject = claims.Subject
		event.Username = claims.PreferredUsername
	}
	c.events.Emit(event)
}
