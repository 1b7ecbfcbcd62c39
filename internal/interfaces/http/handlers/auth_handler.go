package handlers

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/turtacn/portal-gateway/internal/application/dto"
	"github.com/turtacn/portal-gateway/internal/application/service"
	domainService "github.com/turtacn/portal-gateway/internal/domain/service"
	"github.com/turtacn/portal-gateway/internal/interfaces/http/middleware"
	"github.com/turtacn/portal-gateway/pkg/constants"
	"github.com/turtacn/portal-gateway/pkg/errors"
	"github.com/turtacn/portal-gateway/pkg/logger"
	"github.com/turtacn/portal-gateway/pkg/utils"
)

const loginCookiePath = "/auth"

// AuthHandler drives the browser login, callback and logout flow.
type AuthHandler struct {
	registry *service.SessionRegistry
	provider domainService.IdentityProvider
	contexts *service.AcademicContextService
	cookies  CookieConfig
	logger   logger.Logger
}

// NewAuthHandler creates a new AuthHandler. contexts may be nil when the assistant is disabled.
func NewAuthHandler(registry *service.SessionRegistry, provider domainService.IdentityProvider, contexts *service.AcademicContextService, cookies CookieConfig, log logger.Logger) *AuthHandler {
	return &AuthHandler{
		registry: registry,
		provider: provider,
		contexts: contexts,
		cookies:  cookies,
		logger:   log.WithComponent("auth_handler"),
	}
}

// Login starts an authorization-code + PKCE flow and remembers return_to for the callback.
// No session exists until the callback succeeds.
func (h *AuthHandler) Login(c *gin.Context) {
	returnTo := c.Query("return_to")
	if !utils.IsSafeRedirectPath(returnTo) {
		returnTo = "/"
	}

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	login := h.loginCookies()
	login.set(c.Writer, constants.StateCookieName, state, loginCookiePath, constants.LoginStateTTL)
	login.set(c.Writer, constants.VerifierCookieName, verifier, loginCookiePath, constants.LoginStateTTL)
	login.set(c.Writer, constants.ReturnToCookieName, returnTo, loginCookiePath, constants.LoginStateTTL)

	c.Redirect(http.StatusFound, h.provider.AuthCodeURL(state, verifier))
}

// Callback completes the login and redirects to the remembered destination.
func (h *AuthHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()

	if providerErr := c.Query("error"); providerErr != "" {
		h.logger.Info(ctx, "Login aborted by identity provider", logger.String("error", providerErr))
		h.abort(c, http.StatusUnauthorized, errors.ErrRequiresReauthentication("login was not completed"))
		return
	}

	state, _ := c.Cookie(constants.StateCookieName)
	verifier, _ := c.Cookie(constants.VerifierCookieName)
	if state == "" || verifier == "" || subtle.ConstantTimeCompare([]byte(state), []byte(c.Query("state"))) != 1 {
		h.abort(c, http.StatusBadRequest, errors.ErrInvalidRequest("login state mismatch"))
		return
	}
	code := c.Query("code")
	if code == "" {
		h.abort(c, http.StatusBadRequest, errors.ErrMissingRequiredParameter("code"))
		return
	}

	// The session id is minted here, never taken from the browser, and whatever session the
	// browser carried before is dropped.
	ps := h.registry.Create()
	if err := ps.Controller.Login(ctx, code, verifier); err != nil {
		h.registry.Remove(ps.ID)
		h.abort(c, http.StatusUnauthorized, err)
		return
	}
	if previous, err := c.Cookie(constants.SessionCookieName); err == nil && previous != "" {
		if h.contexts != nil {
			h.contexts.Invalidate(previous)
		}
		h.registry.Discard(ctx, previous)
	}
	h.cookies.set(c.Writer, constants.SessionCookieName, ps.ID, "/", h.cookies.SessionMaxAge)

	returnTo, _ := c.Cookie(constants.ReturnToCookieName)
	if !utils.IsSafeRedirectPath(returnTo) {
		returnTo = "/"
	}
	h.clearLoginCookies(c)
	c.Redirect(http.StatusFound, returnTo)
}

// Logout ends the session and sends the browser to the provider's end-session endpoint.
// JSON clients get the URL instead of a redirect.
func (h *AuthHandler) Logout(c *gin.Context) {
	var hint string
	if ps, ok := middleware.SessionFrom(c); ok {
		hint = ps.Controller.Logout(c.Request.Context())
		if h.contexts != nil {
			h.contexts.Invalidate(ps.ID)
		}
		h.registry.Remove(ps.ID)
	}
	h.cookies.clear(c.Writer, constants.SessionCookieName, "/")

	target := h.provider.EndSessionURL(hint)
	if target == "" {
		target = "/"
	}
	if c.Request.Method == http.MethodPost && !middleware.IsBrowserNavigation(c.Request) {
		c.JSON(http.StatusOK, dto.SuccessResponse(gin.H{"logout_url": target}, middleware.TraceID(c)))
		return
	}
	c.Redirect(http.StatusFound, target)
}

// Session reports whether the caller is logged in, and as whom.
func (h *AuthHandler) Session(c *gin.Context) {
	now := time.Now()
	ps, ok := middleware.SessionFrom(c)
	if !ok {
		c.JSON(http.StatusOK, dto.NewSessionResponse(nil, nil, now))
		return
	}
	session, hasSession := ps.Store.Snapshot()
	identity, _ := ps.Store.Identity()
	if !hasSession {
		c.JSON(http.StatusOK, dto.NewSessionResponse(nil, nil, now))
		return
	}
	c.JSON(http.StatusOK, dto.NewSessionResponse(&session, identity, now))
}

// loginCookies must survive the cross-site redirect back from the provider.
func (h *AuthHandler) loginCookies() CookieConfig {
	cc := h.cookies
	if cc.SameSite == http.SameSiteStrictMode {
		cc.SameSite = http.SameSiteLaxMode
	}
	return cc
}

func (h *AuthHandler) clearLoginCookies(c *gin.Context) {
	login := h.loginCookies()
	login.clear(c.Writer, constants.StateCookieName, loginCookiePath)
	login.clear(c.Writer, constants.VerifierCookieName, loginCookiePath)
	login.clear(c.Writer, constants.ReturnToCookieName, loginCookiePath)
}

// abort renders a callback failure as JSON. A redirect to the login page could loop.
func (h *AuthHandler) abort(c *gin.Context, status int, err error) {
	h.clearLoginCookies(c)
	c.AbortWithStatusJSON(status, dto.ErrorResponse(err, middleware.TraceID(c)))
}

//Personal.AI order the ending
