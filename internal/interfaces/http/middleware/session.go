package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/portal-gateway/internal/application/dto"
	"github.com/turtacn/portal-gateway/internal/application/service"
	domainService "github.com/turtacn/portal-gateway/internal/domain/service"
	"github.com/turtacn/portal-gateway/internal/infrastructure/monitoring"
	"github.com/turtacn/portal-gateway/pkg/constants"
	"github.com/turtacn/portal-gateway/pkg/errors"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

// LoginPath is where reauthentication responses send the user.
const LoginPath = "/auth/login"

const sessionContextKey = "portal_session"

// LoadSession attaches the session named by the session cookie, restoring it on first use, and
// keeps it from idle eviction until the request completes. A cookie naming no session leaves
// the request anonymous.
func LoadSession(registry *service.SessionRegistry, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(constants.SessionCookieName)
		if err != nil || id == "" {
			c.Next()
			return
		}

		ps, ok, err := registry.Acquire(c.Request.Context(), id)
		if err != nil {
			log.Debug(c.Request.Context(), "Ignoring unusable session cookie", logger.String("error", err.Error()))
			c.Next()
			return
		}
		if !ok {
			c.Next()
			return
		}
		defer registry.Release(ps)

		c.Set(sessionContextKey, ps)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), constants.ContextKeySessionID, ps.ID))
		c.Next()
	}
}

// RequireSession rejects requests without an authenticated session.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		ps, ok := SessionFrom(c)
		if !ok || ps.Controller.State() == domainService.StateAnonymous {
			RespondError(c, errors.ErrRequiresReauthentication("no active session"))
			return
		}
		c.Next()
	}
}

// SessionFrom returns the session attached by LoadSession.
func SessionFrom(c *gin.Context) (*service.PortalSession, bool) {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return nil, false
	}
	ps, ok := v.(*service.PortalSession)
	return ps, ok && ps != nil
}

// RespondError renders err and aborts. Reauthentication is a 302 to the login page for browser
// navigations and a JSON 401 carrying login_url for everything else.
func RespondError(c *gin.Context, err error) {
	if errors.IsRequiresReauthentication(err) || errors.HasCode(err, errors.ErrCodeRefreshFailed) {
		if IsBrowserNavigation(c.Request) {
			c.Redirect(http.StatusFound, LoginURL(c.Request.URL.RequestURI()))
			c.Abort()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ReauthenticationResponse(err, LoginURL(ReturnTo(c.Request)), TraceID(c)))
		return
	}

	status := http.StatusInternalServerError
	if pe, ok := errors.AsPortalError(err); ok {
		status = pe.HTTPStatus()
	}
	c.AbortWithStatusJSON(status, dto.ErrorResponse(err, TraceID(c)))
}

// LoginURL builds the login link that resumes at returnTo afterwards.
func LoginURL(returnTo string) string {
	if returnTo == "" || returnTo == "/" {
		return LoginPath
	}
	return LoginPath + "?return_to=" + url.QueryEscape(returnTo)
}

// IsBrowserNavigation reports a top-level page load, as opposed to a fetch or API client.
func IsBrowserNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet || r.Header.Get("X-Requested-With") != "" {
		return false
	}
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// TraceID returns the trace id of the request span, or the request id when tracing is off.
func TraceID(c *gin.Context) string {
	if id := monitoring.GetTraceID(c.Request.Context()); id != "" {
		return id
	}
	return c.GetString(string(constants.ContextKeyRequestID))
}

// ReturnTo picks where an API caller should land after logging in: the page that issued the call.
func ReturnTo(r *http.Request) string {
	ref, err := url.Parse(r.Referer())
	if err != nil || ref.Path == "" || (ref.Host != "" && ref.Host != r.Host) {
		return "/"
	}
	if ref.RawQuery != "" {
		return ref.Path + "?" + ref.RawQuery
	}
	return ref.Path
}
