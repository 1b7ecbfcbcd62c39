package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/portal-gateway/internal/application/dto"
	"github.com/turtacn/portal-gateway/internal/application/service"
	"github.com/turtacn/portal-gateway/internal/domain/models"
	"github.com/turtacn/portal-gateway/internal/interfaces/http/middleware"
	"github.com/turtacn/portal-gateway/pkg/constants"
	"github.com/turtacn/portal-gateway/pkg/errors"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

const maxRelayBodyBytes = 10 << 20

// relayedRequestHeaders are copied from the browser to the REST backend.
var relayedRequestHeaders = []string{"Accept", "Accept-Language", "Content-Type", "If-None-Match"}

// relayedResponseHeaders are copied from the REST backend to the browser.
var relayedResponseHeaders = []string{"Content-Type", "Cache-Control", "ETag", "Last-Modified"}

// APIHandler relays browser calls to the academic backend through the session's gateway.
type APIHandler struct {
	contexts *service.AcademicContextService
	logger   logger.Logger
}

func NewAPIHandler(contexts *service.AcademicContextService, log logger.Logger) *APIHandler {
	return &APIHandler{contexts: contexts, logger: log.WithComponent("api_handler")}
}

// GraphQL relays one operation. Once the gateway's single retry is spent, an authentication
// rejection is answered as a GraphQL error with extensions.code UNAUTHENTICATED.
func (h *APIHandler) GraphQL(c *gin.Context) {
	ps, _ := middleware.SessionFrom(c)

	var req models.GraphQLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, errors.ErrInvalidRequest("body must be a GraphQL request with a query").WithCause(err))
		return
	}

	resp, err := ps.Gateway.GraphQL(c.Request.Context(), req)
	if err == nil {
		c.JSON(http.StatusOK, resp)
		return
	}

	if errors.IsRequiresReauthentication(err) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, models.GraphQLResponse{Errors: []models.GraphQLError{{
			Message: "Authentication required",
			Extensions: map[string]interface{}{
				"code":       constants.GraphQLCodeUnauthenticated,
				"statusCode": http.StatusUnauthorized,
				"login_url":  middleware.LoginURL(middleware.ReturnTo(c.Request)),
			},
		}}})
		return
	}

	status := http.StatusBadGateway
	message := "Upstream request failed"
	if pe, ok := errors.AsPortalError(err); ok {
		status = pe.HTTPStatus()
		if pe.Code() == errors.ErrCodeRequestFailed {
			message = pe.Error()
		}
	}
	c.AbortWithStatusJSON(status, models.GraphQLResponse{Errors: []models.GraphQLError{{
		Message: message,
		Extensions: map[string]interface{}{
			"code":       constants.GraphQLCodeServerError,
			"statusCode": status,
		},
	}}})
}

// REST relays ANY /api/rest/*path to the REST base URL.
func (h *APIHandler) REST(c *gin.Context) {
	ps, _ := middleware.SessionFrom(c)

	path := c.Param("path")
	if path == "" || path == "/" || containsDotSegment(path) {
		middleware.RespondError(c, errors.ErrInvalidRequest("invalid upstream path"))
		return
	}

	var body []byte
	if c.Request.Body != nil && c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		b, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRelayBodyBytes+1))
		if err != nil {
			middleware.RespondError(c, errors.ErrInvalidRequest("unreadable request body").WithCause(err))
			return
		}
		if len(b) > maxRelayBodyBytes {
			middleware.RespondError(c, errors.ErrInvalidRequest("request body too large"))
			return
		}
		body = b
	}

	header := http.Header{}
	for _, k := range relayedRequestHeaders {
		if v := c.GetHeader(k); v != "" {
			header.Set(k, v)
		}
	}

	resp, err := ps.Gateway.Call(c.Request.Context(), service.RequestSpec{
		Method: c.Request.Method,
		Path:   path,
		Query:  c.Request.URL.Query(),
		Header: header,
		Body:   body,
	})
	if err != nil {
		middleware.RespondError(c, err)
		return
	}

	for _, k := range relayedResponseHeaders {
		if v := resp.Header.Get(k); v != "" {
			c.Header(k, v)
		}
	}
	contentType := resp.Header.Get(constants.HeaderContentType)
	if contentType == "" {
		contentType = constants.ContentTypeJSON
	}
	c.Data(resp.StatusCode, contentType, resp.Body)
}

// Me returns the identity of the session.
func (h *APIHandler) Me(c *gin.Context) {
	ps, _ := middleware.SessionFrom(c)
	identity, ok := ps.Store.Identity()
	if !ok {
		middleware.RespondError(c, errors.ErrRequiresReauthentication("no active session"))
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse(identity, middleware.TraceID(c)))
}

// Context returns the academic context of the session's user.
func (h *APIHandler) Context(c *gin.Context) {
	ps, _ := middleware.SessionFrom(c)
	identity, ok := ps.Store.Identity()
	if !ok {
		middleware.RespondError(c, errors.ErrRequiresReauthentication("no active session"))
		return
	}

	actx, err := h.contexts.Load(c.Request.Context(), ps.ID, identity, ps.Gateway)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse(actx, middleware.TraceID(c)))
}

func containsDotSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." || seg == "." {
			return true
		}
	}
	return false
}
