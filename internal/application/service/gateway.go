// Package service provides application-level services that orchestrate the session domain
// and the academic backend.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/portal-gateway/internal/domain/models"
	domainService "github.com/turtacn/portal-gateway/internal/domain/service"
	"github.com/turtacn/portal-gateway/pkg/constants"
	"github.com/turtacn/portal-gateway/pkg/errors"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

const (
	KindREST    = "rest"
	KindGraphQL = "graphql"

	maxResponseBytes = 10 << 20
)

// TokenSource is the part of the refresh controller the gateway needs.
type TokenSource interface {
	EnsureValidToken(ctx context.Context, minValidity time.Duration) (string, error)
	RefreshAfterRejection(ctx context.Context, rejectedToken string) (string, error)
	RejectSession(ctx context.Context, reason string)
}

var _ TokenSource = (*domainService.TokenRefreshController)(nil)

// RequestSpec describes one REST call. Path is joined to the REST base URL.
type RequestSpec struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is a buffered upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// GatewayConfig configures upstream endpoints.
type GatewayConfig struct {
	GraphQLURL  string
	RESTBaseURL string
	MinValidity time.Duration
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Gateway attaches the session's bearer token to REST and GraphQL calls and retries exactly
// once after a forced refresh when the backend rejects the token.
type Gateway struct {
	tokens      TokenSource
	graphqlURL  string
	restBaseURL string
	minValidity time.Duration
	client      *http.Client
	metrics     domainService.Metrics
	tracer      trace.Tracer
	logger      logger.Logger
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

func WithGatewayMetrics(m domainService.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

func WithGatewayTracer(t trace.Tracer) GatewayOption {
	return func(g *Gateway) { g.tracer = t }
}

// NewGateway creates a gateway bound to one session's token source.
func NewGateway(tokens TokenSource, cfg GatewayConfig, log logger.Logger, opts ...GatewayOption) *Gateway {
	client := cfg.HTTPClient
	if client == nil {
		client = newUpstreamClient(cfg.Timeout)
	}
	minValidity := cfg.MinValidity
	if minValidity <= 0 {
		minValidity = constants.DefaultMinValidity
	}

	g := &Gateway{
		tokens:      tokens,
		graphqlURL:  cfg.GraphQLURL,
		restBaseURL: strings.TrimRight(cfg.RESTBaseURL, "/"),
		minValidity: minValidity,
		client:      client,
		metrics:     domainService.NoopMetrics{},
		tracer:      otel.Tracer(constants.ServiceName),
		logger:      log.WithComponent("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func newUpstreamClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// attemptFunc performs one upstream call with token. rejected reports an authentication
// rejection; any other failure is returned as err.
type attemptFunc func(ctx context.Context, token string) (rejected bool, err error)

// withAuthRetry runs attempt with a valid token, and at most once more after a forced refresh.
func (g *Gateway) withAuthRetry(ctx context.Context, kind string, attempt attemptFunc) (err error) {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "gateway."+kind, trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		outcome := "success"
		switch {
		case errors.IsRequiresReauthentication(err):
			outcome = "reauth"
		case err != nil:
			outcome = "request_failed"
		}
		g.metrics.RecordGatewayCall(kind, outcome, time.Since(start))
		span.SetAttributes(attribute.String("gateway.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
	}()

	token, err := g.tokens.EnsureValidToken(ctx, g.minValidity)
	if err != nil {
		return g.tokenError(ctx, err)
	}

	for n := 0; ; n++ {
		span.SetAttributes(attribute.Int("gateway.attempts", n+1))

		rejected, err := attempt(ctx, token)
		if err != nil {
			return err
		}
		if !rejected {
			return nil
		}

		if n > 0 {
			g.logger.Warn(ctx, "Refreshed token rejected by backend", logger.String("kind", kind))
			g.tokens.RejectSession(ctx, kind+" request rejected after refresh")
			return errors.ErrRequiresReauthentication("backend rejected the refreshed token")
		}

		g.metrics.RecordAuthRetry(kind)
		g.logger.Debug(ctx, "Backend rejected token, refreshing", logger.String("kind", kind))
		token, err = g.tokens.RefreshAfterRejection(ctx, token)
		if err != nil {
			return g.tokenError(ctx, err)
		}
	}
}

// tokenError maps a token acquisition failure. A caller that gave up is a failed request;
// everything else means the session is gone.
func (g *Gateway) tokenError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.ErrRequestFailed(0, "canceled", "request canceled").WithCause(err)
	}
	if errors.IsRequiresReauthentication(err) {
		return err
	}
	return errors.ErrRequiresReauthentication("token refresh failed").WithCause(err)
}

// Call performs an authenticated REST request. Non-2xx responses other than the handled
// 401 are returned as RequestFailed.
func (g *Gateway) Call(ctx context.Context, spec RequestSpec) (*Response, error) {
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}
	target := g.restBaseURL + "/" + strings.TrimLeft(spec.Path, "/")
	if len(spec.Query) > 0 {
		target += "?" + spec.Query.Encode()
	}

	var out *Response
	err := g.withAuthRetry(ctx, KindREST, func(ctx context.Context, token string) (bool, error) {
		resp, err := g.send(ctx, method, target, spec.Header, spec.Body, token)
		if err != nil {
			return false, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return true, nil
		}
		if resp.StatusCode >= 400 {
			code, msg := restErrorDetail(resp)
			return false, errors.ErrRequestFailed(resp.StatusCode, code, msg)
		}
		out = resp
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetJSON is Call for a GET whose body decodes into out.
func (g *Gateway) GetJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := g.Call(ctx, RequestSpec{Method: http.MethodGet, Path: path})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return errors.ErrRequestFailed(resp.StatusCode, "malformed_response", "upstream returned malformed JSON").WithCause(err)
	}
	return nil
}

// GraphQL performs an authenticated GraphQL operation. GraphQL errors other than an
// authentication rejection are returned inside the response, not as err.
func (g *Gateway) GraphQL(ctx context.Context, req models.GraphQLRequest) (*models.GraphQLResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.ErrInvalidRequest("unencodable GraphQL request").WithCause(err)
	}
	header := http.Header{}
	header.Set("Content-Type", constants.ContentTypeJSON)

	var out *models.GraphQLResponse
	err = g.withAuthRetry(ctx, KindGraphQL, func(ctx context.Context, token string) (bool, error) {
		resp, err := g.send(ctx, http.MethodPost, g.graphqlURL, header, body, token)
		if err != nil {
			return false, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return true, nil
		}

		var gql models.GraphQLResponse
		decodeErr := json.Unmarshal(resp.Body, &gql)
		if decodeErr == nil && gql.Unauthenticated() {
			return true, nil
		}
		if resp.StatusCode >= 400 {
			code, msg := fmt.Sprintf("http_%d", resp.StatusCode), http.StatusText(resp.StatusCode)
			if decodeErr == nil && len(gql.Errors) > 0 {
				code, msg = graphQLErrorDetail(gql.Errors[0], code)
			}
			return false, errors.ErrRequestFailed(resp.StatusCode, code, msg)
		}
		if decodeErr != nil {
			return false, errors.ErrRequestFailed(resp.StatusCode, "malformed_response", "GraphQL endpoint returned malformed JSON").WithCause(decodeErr)
		}
		out = &gql
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// QueryInto runs a GraphQL operation and decodes data into out. Any GraphQL error is a RequestFailed.
func (g *Gateway) QueryInto(ctx context.Context, req models.GraphQLRequest, out interface{}) error {
	resp, err := g.GraphQL(ctx, req)
	if err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		code, msg := graphQLErrorDetail(resp.Errors[0], constants.GraphQLCodeServerError)
		return errors.ErrRequestFailed(http.StatusOK, code, msg)
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return errors.ErrRequestFailed(http.StatusOK, "empty_data", "GraphQL response carried no data")
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return errors.ErrRequestFailed(http.StatusOK, "malformed_response", "GraphQL data did not match the expected shape").WithCause(err)
	}
	return nil
}

func (g *Gateway) send(ctx context.Context, method, target string, header http.Header, body []byte, token string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, errors.ErrRequestFailed(0, "invalid_request", "could not build upstream request").WithCause(err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set(constants.HeaderAuthorization, constants.BearerPrefix+token)
	if rid, ok := ctx.Value(constants.ContextKeyRequestID).(string); ok && rid != "" {
		req.Header.Set(constants.HeaderRequestID, rid)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, errors.ErrRequestFailed(0, "network_error", "upstream unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, errors.ErrRequestFailed(resp.StatusCode, "network_error", "upstream response truncated").WithCause(err)
	}
	if len(data) > maxResponseBytes {
		return nil, errors.ErrRequestFailed(resp.StatusCode, "response_too_large", "upstream response exceeds the relay limit")
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// restErrorDetail extracts {code|error, message} from a JSON error body when present.
func restErrorDetail(resp *Response) (string, string) {
	code := fmt.Sprintf("http_%d", resp.StatusCode)
	msg := http.StatusText(resp.StatusCode)

	var body struct {
		Code    string `json:"code"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(resp.Body, &body) != nil {
		return code, msg
	}
	switch {
	case body.Code != "":
		code = body.Code
	case body.Error != "":
		code = body.Error
	}
	if body.Message != "" {
		msg = body.Message
	}
	return code, msg
}

func graphQLErrorDetail(e models.GraphQLError, fallback string) (string, string) {
	code := e.Code()
	if code == "" {
		code = fallback
	}
	return code, e.Message
}
