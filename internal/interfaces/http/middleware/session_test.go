package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/portal-gateway/internal/application/service"
	"github.com/turtacn/portal-gateway/internal/domain/models"
	"github.com/turtacn/portal-gateway/internal/domain/service/mocks"
	"github.com/turtacn/portal-gateway/pkg/constants"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

const knownSession = "0f8fad5b-d9cb-469f-a165-70867728950e"

func newSessionRouter(t *testing.T) (*gin.Engine, *service.SessionRegistry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	persister := mocks.NewMemoryPersister()
	session, err := models.NewSession(*mocks.TokenSet("s1", time.Hour, "rt", "student"))
	require.NoError(t, err)
	require.NoError(t, persister.Save(context.Background(), knownSession, session.ToPersisted(time.Now())))

	registry := service.NewSessionRegistry(service.RegistryConfig{IdleTimeout: time.Minute},
		&mocks.MockIdentityProvider{}, persister, logger.NewNoopLogger())
	t.Cleanup(registry.Close)

	router := gin.New()
	router.Use(RequestID(), LoadSession(registry, logger.NewNoopLogger()))
	router.GET("/api/me", RequireSession(), func(c *gin.Context) {
		ps, ok := SessionFrom(c)
		require.True(t, ok)
		identity, _ := ps.Store.Identity()
		c.JSON(http.StatusOK, identity)
	})
	router.GET("/courses", RequireSession(), func(c *gin.Context) {
		c.String(http.StatusOK, "page")
	})
	return router, registry
}

func TestRequireSession_APICallGetsJSON401(t *testing.T) {
	router, _ := newSessionRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", "http://example.com/courses/c1?tab=grades")
	req.Host = "example.com"
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "/auth/login?return_to=%2Fcourses%2Fc1%3Ftab%3Dgrades", body["login_url"])
	assert.Equal(t, "requires_reauthentication", body["error"].(map[string]interface{})["code"])
}

func TestRequireSession_BrowserNavigationRedirects(t *testing.T) {
	router, _ := newSessionRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/courses?x=1", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/auth/login?return_to=%2Fcourses%3Fx%3D1", w.Header().Get("Location"))
}

func TestLoadSession_IgnoresMalformedCookie(t *testing.T) {
	router, _ := newSessionRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: constants.SessionCookieName, Value: "not-a-uuid"})
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoadSession_RestoresPersistedSession(t *testing.T) {
	router, registry := newSessionRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: constants.SessionCookieName, Value: knownSession})
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"s1"`)
	assert.NotEmpty(t, w.Header().Get(constants.HeaderRequestID))
	assert.Equal(t, 1, registry.Len())
}

func TestLoadSession_UnknownCookieStaysAnonymous(t *testing.T) {
	router, registry := newSessionRouter(t)

	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/api/me", nil)
		req.AddCookie(&http.Cookie{Name: constants.SessionCookieName, Value: registry.NewSessionID()})
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	assert.Equal(t, 0, registry.Len())
}

func TestIsBrowserNavigation(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Accept", "text/html")
	assert.False(t, IsBrowserNavigation(req))

	req.Header.Set("Sec-Fetch-Mode", "navigate")
	assert.True(t, IsBrowserNavigation(req))

	post := httptest.NewRequest(http.MethodPost, "/", nil)
	post.Header.Set("Accept", "text/html")
	assert.False(t, IsBrowserNavigation(post))
}
