// Package constants defines system-wide constants for the academic portal gateway.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Token Constants
// ================================================================================

// TokenType represents the type of authentication token
type TokenType string

const (
	// TokenTypeAccess represents a short-lived access token
	TokenTypeAccess TokenType = "access_token"

	// TokenTypeRefresh represents a long-lived refresh token
	TokenTypeRefresh TokenType = "refresh_token"

	// TokenTypeBearer represents the Bearer token type for HTTP Authorization header
	TokenTypeBearer TokenType = "Bearer"
)

// ================================================================================
// Token Lifetime Constants
// ================================================================================

const (
	// DefaultMinValidity is the remaining validity the request gateway asks for before each call
	DefaultMinValidity = 10 * time.Second

	// DefaultRefreshTimeout bounds a single refresh, including its one internal retry
	DefaultRefreshTimeout = 10 * time.Second

	// DefaultBackgroundInterval is the period of the proactive refresh loop
	DefaultBackgroundInterval = 5 * time.Minute

	// DefaultRefreshThreshold is the remaining validity below which the proactive loop refreshes
	DefaultRefreshThreshold = 60 * time.Second

	// DefaultSessionTTL is how long a persisted session record outlives its access token
	DefaultSessionTTL = 24 * time.Hour

	// DefaultSessionIdleTimeout evicts in-process session state not used for this long
	DefaultSessionIdleTimeout = 30 * time.Minute

	// LoginStateTTL is the lifetime of the state, verifier and return_to cookies
	LoginStateTTL = 5 * time.Minute

	// AcademicContextCacheTTL is the cache lifetime for chat assistant context
	AcademicContextCacheTTL = 2 * time.Minute
)

// ================================================================================
// Session Storage Constants
// ================================================================================

const (
	// SessionKeyPrefix prefixes persisted session records in Redis
	SessionKeyPrefix = "portal:session:"

	// RateLimitKeyPrefix prefixes shared rate limit buckets in Redis
	RateLimitKeyPrefix = "portal:ratelimit:"

	// PersistedSessionKey is the fixed key of the single-user persisted record
	PersistedSessionKey = "portal_auth"

	// SessionCookieName carries the opaque session id
	SessionCookieName = "portal_session"

	// StateCookieName carries the OAuth state during login
	StateCookieName = "portal_oauth_state"

	// VerifierCookieName carries the PKCE verifier during login
	VerifierCookieName = "portal_oauth_verifier"

	// ReturnToCookieName carries the destination to resume after login
	ReturnToCookieName = "portal_return_to"
)

// ================================================================================
// Identity Constants
// ================================================================================

// IdentityKind classifies an authenticated user
type IdentityKind string

const (
	// IdentityKindStudent is the default classification
	IdentityKindStudent IdentityKind = "student"

	// IdentityKindStaff is assigned when a role is in the staff allow-list
	IdentityKindStaff IdentityKind = "staff"
)

// DefaultStaffRoles is used when no staff allow-list is configured
var DefaultStaffRoles = []string{"staff", "admin", "realm-admin"}

// ================================================================================
// Auth Event Constants
// ================================================================================

// AuthEventType represents session lifecycle events
type AuthEventType string

const (
	// AuthEventLogin is emitted after a successful code exchange
	AuthEventLogin AuthEventType = "login"

	// AuthEventRestored is emitted when a persisted session is reinstated
	AuthEventRestored AuthEventType = "restored"

	// AuthEventRefreshed is emitted after a successful token refresh
	AuthEventRefreshed AuthEventType = "refreshed"

	// AuthEventRefreshFailed is emitted when a refresh attempt fails
	AuthEventRefreshFailed AuthEventType = "refresh_failed"

	// AuthEventLogout is emitted on explicit logout
	AuthEventLogout AuthEventType = "logout"

	// AuthEventSessionCleared is emitted when the session is dropped for any other reason
	AuthEventSessionCleared AuthEventType = "session_cleared"
)

// ================================================================================
// GraphQL Constants
// ================================================================================

const (
	// GraphQLCodeUnauthenticated marks an authentication rejection in a GraphQL error
	GraphQLCodeUnauthenticated = "UNAUTHENTICATED"

	// GraphQLCodeServerError marks any other upstream failure in a GraphQL error
	GraphQLCodeServerError = "SERVER_ERROR"

	// GraphQLUnauthenticatedMessage is matched case-insensitively in error messages
	GraphQLUnauthenticatedMessage = "unauthenticated"
)

// ================================================================================
// HTTP Constants
// ================================================================================

const (
	// HeaderAuthorization is the HTTP header for bearer tokens
	HeaderAuthorization = "Authorization"

	// HeaderRequestID is the HTTP header for request correlation
	HeaderRequestID = "X-Request-ID"

	// HeaderContentType is the HTTP Content-Type header
	HeaderContentType = "Content-Type"

	// ContentTypeJSON is the JSON media type
	ContentTypeJSON = "application/json"

	// BearerPrefix precedes the token in the Authorization header
	BearerPrefix = "Bearer "
)

// ================================================================================
// Logging Constants
// ================================================================================

// LogLevel represents the severity level of log messages
type LogLevel string

const (
	// LogLevelDebug is the most verbose logging level
	LogLevelDebug LogLevel = "debug"

	// LogLevelInfo is the standard informational logging level
	LogLevelInfo LogLevel = "info"

	// LogLevelWarn indicates potential issues
	LogLevelWarn LogLevel = "warn"

	// LogLevelError indicates errors that need attention
	LogLevelError LogLevel = "error"

	// LogLevelFatal indicates critical errors that cause service termination
	LogLevelFatal LogLevel = "fatal"
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey represents keys used in context.Context
type ContextKey string

const (
	// ContextKeyRequestID is the key for request ID in context
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeySessionID is the key for the portal session id in context
	ContextKeySessionID ContextKey = "session_id"

	// ContextKeyUserID is the key for the authenticated subject in context
	ContextKeyUserID ContextKey = "user_id"
)

// ================================================================================
// Service Constants
// ================================================================================

const (
	// ServiceName is used for tracing and metrics namespaces
	ServiceName = "portal-gateway"

	// MetricsNamespace prefixes every exported metric
	MetricsNamespace = "portal_gateway"
)

//Personal.AI order the ending
