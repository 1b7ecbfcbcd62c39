package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/portal-gateway/internal/domain/models"
	"github.com/turtacn/portal-gateway/internal/domain/service"
	"github.com/turtacn/portal-gateway/internal/domain/service/mocks"
	"github.com/turtacn/portal-gateway/pkg/constants"
	perrors "github.com/turtacn/portal-gateway/pkg/errors"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

// fakeProvider counts refreshes and can block them.
type fakeProvider struct {
	calls   atomic.Int32
	ttl     time.Duration
	release chan struct{}
	fail    func(call int32) error
}

func (p *fakeProvider) AuthCodeURL(state, verifier string) string { return "https://idp/auth?state=" + state }

func (p *fakeProvider) Exchange(ctx context.Context, code, verifier string) (*models.TokenSet, error) {
	return mocks.TokenSet("alice", time.Hour, "refresh-alice"), nil
}

func (p *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*models.TokenSet, error) {
	n := p.calls.Add(1)
	if p.release != nil {
		<-p.release
	}
	if p.fail != nil {
		if err := p.fail(n); err != nil {
			return nil, err
		}
	}
	ttl := p.ttl
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return mocks.TokenSet("alice", ttl, fmt.Sprintf("refresh-%d", n)), nil
}

func (p *fakeProvider) EndSessionURL(idTokenHint string) string { return "https://idp/logout" }

func newController(t *testing.T, provider service.IdentityProvider, persister service.SessionPersister, cfg service.RefreshControllerConfig) *service.TokenRefreshController {
	t.Helper()
	store := service.NewSessionStore("sid-1", persister, models.NewRolePolicy(nil), logger.NewNoopLogger())
	return service.NewTokenRefreshController(store, provider, cfg, logger.NewNoopLogger())
}

func seed(t *testing.T, c *service.TokenRefreshController, ttl time.Duration) models.Session {
	t.Helper()
	session := newSession(t, "alice", ttl)
	require.NoError(t, c.Store().SetSession(context.Background(), session))
	return session
}

func TestEnsureValidToken_ReturnsCachedTokenWhenValidEnough(t *testing.T) {
	provider := &fakeProvider{}
	c := newController(t, provider, nil, service.RefreshControllerConfig{})
	session := seed(t, c, time.Hour)

	token, err := c.EnsureValidToken(context.Background(), constants.DefaultMinValidity)

	require.NoError(t, err)
	assert.Equal(t, session.AccessToken, token)
	assert.Equal(t, int32(0), provider.calls.Load())
	assert.Equal(t, service.StateAuthenticated, c.State())
}

func TestEnsureValidToken_RefreshesWhenBelowMinValidity(t *testing.T) {
	provider := &fakeProvider{}
	c := newController(t, provider, nil, service.RefreshControllerConfig{})
	old := seed(t, c, 60*time.Second)

	token, err := c.EnsureValidToken(context.Background(), 120*time.Second)

	require.NoError(t, err)
	assert.NotEqual(t, old.AccessToken, token)
	assert.Equal(t, int32(1), provider.calls.Load())

	current, ok := c.Store().Snapshot()
	require.True(t, ok)
	assert.True(t, current.Expiry.After(old.Expiry))
	assert.Equal(t, "refresh-1", current.RefreshToken)
}

func TestEnsureValidToken_ConcurrentCallersShareOneRefresh(t *testing.T) {
	provider := &fakeProvider{release: make(chan struct{})}
	c := newController(t, provider, nil, service.RefreshControllerConfig{})
	seed(t, c, 5*time.Second)

	const callers = 20
	tokens := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = c.EnsureValidToken(context.Background(), 10*time.Second)
		}(i)
	}

	require.Eventually(t, func() bool { return provider.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, service.StateRefreshing, c.State())
	close(provider.release)
	wg.Wait()

	assert.Equal(t, int32(1), provider.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, tokens[0], tokens[i])
	}
}

func TestEnsureValidToken_BackToBackCallsRefreshOnce(t *testing.T) {
	provider := &fakeProvider{}
	c := newController(t, provider, nil, service.RefreshControllerConfig{})
	seed(t, c, 5*time.Second)

	first, err := c.EnsureValidToken(context.Background(), 10*time.Second)
	require.NoError(t, err)
	second, err := c.EnsureValidToken(context.Background(), 10*time.Second)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestEnsureValidToken_RetriesProviderFailureOnce(t *testing.T) {
	provider := &fakeProvider{fail: func(n int32) error {
		if n == 1 {
			return errors.New("connection reset")
		}
		return nil
	}}
	c := newController(t, provider, nil, service.RefreshControllerConfig{})
	seed(t, c, 5*time.Second)

	_, err := c.EnsureValidToken(context.Background(), 10*time.Second)

	require.NoError(t, err)
	assert.Equal(t, int32(2), provider.calls.Load())
}

func TestEnsureValidToken_FailureClearsSession(t *testing.T) {
	persister := mocks.NewMemoryPersister()
	provider := &fakeProvider{fail: func(int32) error { return errors.New("provider down") }}
	c := newController(t, provider, persister, service.RefreshControllerConfig{})
	seed(t, c, 5*time.Second)

	var events []models.AuthEvent
	c.SubscribeEvents(func(e models.AuthEvent) { events = append(events, e) })

	_, err := c.EnsureValidToken(context.Background(), 10*time.Second)

	assert.True(t, perrors.HasCode(err, perrors.ErrCodeRefreshFailed))
	assert.Equal(t, int32(2), provider.calls.Load(), "one attempt plus one internal retry")
	assert.Equal(t, service.StateAnonymous, c.State())
	assert.Nil(t, persister.Get("sid-1"))
	require.Len(t, events, 1)
	assert.Equal(t, constants.AuthEventRefreshFailed, events[0].Type)
}

func TestEnsureValidToken_GrantRejectedIsNotRetried(t *testing.T) {
	provider := &fakeProvider{fail: func(int32) error { return fmt.Errorf("refresh: %w", service.ErrGrantRejected) }}
	c := newController(t, provider, nil, service.RefreshControllerConfig{})
	seed(t, c, 5*time.Second)

	_, err := c.EnsureValidToken(context.Background(), 10*time.Second)

	assert.True(t, perrors.HasCode(err, perrors.ErrCodeRefreshFailed))
	assert.ErrorIs(t, err, service.ErrGrantRejected)
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestEnsureValidToken_TimesOutHangingProvider(t *testing.T) {
	provider := &fakeProvider{release: make(chan struct{})}
	defer close(provider.release)
	c := newController(t, provider, nil, service.RefreshControllerConfig{RefreshTimeout: 100 * time.Millisecond})
	seed(t, c, 5*time.Second)

	start := time.Now()
	_, err := c.EnsureValidToken(context.Background(), 10*time.Second)
	elapsed := time.Since(start)

	assert.True(t, perrors.HasCode(err, perrors.ErrCodeRefreshFailed))
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestEnsureValidToken_NoSessionRequiresReauthentication(t *testing.T) {
	c := newController(t, &fakeProvider{}, nil, service.RefreshControllerConfig{})

	_, err := c.EnsureValidToken(context.Background(), 0)

	assert.True(t, perrors.IsRequiresReauthentication(err))
}

func TestLogout_DiscardsInFlightRefresh(t *testing.T) {
	provider := &fakeProvider{release: make(chan struct{})}
	c := newController(t, provider, nil, service.RefreshControllerConfig{})
	seed(t, c, 5*time.Second)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.EnsureValidToken(context.Background(), 10*time.Second)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return provider.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	c.Logout(context.Background())
	close(provider.release)

	err := <-errCh
	assert.True(t, perrors.IsRequiresReauthentication(err))
	_, ok := c.Store().CurrentToken()
	assert.False(t, ok, "a stale refresh must not resurrect the session")
	assert.Equal(t, service.StateAnonymous, c.State())
}

func TestRefreshAfterRejection_ForcesRefreshOfValidToken(t *testing.T) {
	provider := &fakeProvider{}
	c := newController(t, provider, nil, service.RefreshControllerConfig{})
	old := seed(t, c, time.Hour)

	token, err := c.RefreshAfterRejection(context.Background(), old.AccessToken)

	require.NoError(t, err)
	assert.NotEqual(t, old.AccessToken, token)
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestRefreshAfterRejection_ReusesAlreadyReplacedToken(t *testing.T) {
	provider := &fakeProvider{}
	c := newController(t, provider, nil, service.RefreshControllerConfig{})
	seed(t, c, time.Hour)

	token, err := c.RefreshAfterRejection(context.Background(), "some-older-token")

	require.NoError(t, err)
	current, _ := c.Store().CurrentToken()
	assert.Equal(t, current, token)
	assert.Equal(t, int32(0), provider.calls.Load())
}

func TestLoginAndLogout(t *testing.T) {
	provider := new(mocks.MockIdentityProvider)
	ts := mocks.TokenSet("dave", time.Hour, "refresh-dave", "student")
	ts.IDToken = mocks.MintToken("dave", time.Now().Add(time.Hour))
	provider.On("Exchange", mock.Anything, "code-1", "verifier-1").Return(ts, nil)
	c := newController(t, provider, nil, service.RefreshControllerConfig{})

	var types []constants.AuthEventType
	c.SubscribeEvents(func(e models.AuthEvent) { types = append(types, e.Type) })

	require.NoError(t, c.Login(context.Background(), "code-1", "verifier-1"))
	identity, ok := c.Store().Identity()
	require.True(t, ok)
	assert.Equal(t, "dave", identity.ID)

	hint := c.Logout(context.Background())
	assert.Equal(t, ts.IDToken, hint)
	assert.Equal(t, []constants.AuthEventType{constants.AuthEventLogin, constants.AuthEventLogout}, types)
	provider.AssertExpectations(t)
}

func TestLogin_RejectsUnreadableToken(t *testing.T) {
	provider := new(mocks.MockIdentityProvider)
	provider.On("Exchange", mock.Anything, "code", "v").
		Return(&models.TokenSet{AccessToken: "not-a-jwt", RefreshToken: "r"}, nil)
	c := newController(t, provider, nil, service.RefreshControllerConfig{})

	err := c.Login(context.Background(), "code", "v")

	assert.True(t, perrors.HasCode(err, perrors.ErrCodeInvalidSessionData))
	assert.Equal(t, service.StateAnonymous, c.State())
}

func TestRestore_ValidRecord(t *testing.T) {
	persister := mocks.NewMemoryPersister()
	first := newController(t, &fakeProvider{}, persister, service.RefreshControllerConfig{})
	session := seed(t, first, time.Hour)

	provider := &fakeProvider{}
	second := newController(t, provider, persister, service.RefreshControllerConfig{})
	restored, err := second.Restore(context.Background())

	require.NoError(t, err)
	assert.True(t, restored)
	token, ok := second.Store().CurrentToken()
	assert.True(t, ok)
	assert.Equal(t, session.AccessToken, token)
	assert.Equal(t, int32(0), provider.calls.Load())
}

func TestRestore_ExpiredRecordIsRefreshed(t *testing.T) {
	persister := mocks.NewMemoryPersister()
	expired := newSession(t, "alice", time.Hour)
	expired.Expiry = time.Now().Add(-time.Minute)
	require.NoError(t, persister.Save(context.Background(), "sid-1", expired.ToPersisted(time.Now())))

	provider := &fakeProvider{}
	c := newController(t, provider, persister, service.RefreshControllerConfig{})
	restored, err := c.Restore(context.Background())

	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, int32(1), provider.calls.Load())
	assert.NotNil(t, persister.Get("sid-1"))
}

func TestRestore_UnrefreshableRecordIsDeleted(t *testing.T) {
	persister := mocks.NewMemoryPersister()
	expired := newSession(t, "alice", time.Hour)
	expired.Expiry = time.Now().Add(-time.Minute)
	require.NoError(t, persister.Save(context.Background(), "sid-1", expired.ToPersisted(time.Now())))

	provider := &fakeProvider{fail: func(int32) error { return service.ErrGrantRejected }}
	c := newController(t, provider, persister, service.RefreshControllerConfig{})
	restored, err := c.Restore(context.Background())

	require.NoError(t, err)
	assert.False(t, restored)
	assert.Nil(t, persister.Get("sid-1"))
}

func TestRefreshIfDue_FailureKeepsSessionUnlessGrantRejected(t *testing.T) {
	provider := &fakeProvider{fail: func(int32) error { return errors.New("timeout talking to provider") }}
	c := newController(t, provider, nil, service.RefreshControllerConfig{RefreshThreshold: time.Minute})
	seed(t, c, 30*time.Second)

	c.RefreshIfDue(context.Background())
	_, ok := c.Store().CurrentToken()
	assert.True(t, ok, "transient background failures are only logged")

	provider.fail = func(int32) error { return service.ErrGrantRejected }
	c.RefreshIfDue(context.Background())
	_, ok = c.Store().CurrentToken()
	assert.False(t, ok)
}

func TestRefreshIfDue_SkipsFreshSession(t *testing.T) {
	provider := &fakeProvider{}
	c := newController(t, provider, nil, service.RefreshControllerConfig{RefreshThreshold: time.Minute})
	seed(t, c, time.Hour)

	c.RefreshIfDue(context.Background())

	assert.Equal(t, int32(0), provider.calls.Load())
}

func TestBackgroundLoop_RefreshesAndStops(t *testing.T) {
	provider := &fakeProvider{}
	c := newController(t, provider, nil, service.RefreshControllerConfig{
		RefreshThreshold:   10 * time.Minute,
		BackgroundInterval: 10 * time.Millisecond,
	})
	seed(t, c, 30*time.Second)

	c.Start()
	c.Start()
	require.Eventually(t, func() bool { return provider.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	c.Stop()
	c.Stop()
}
