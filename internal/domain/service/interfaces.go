// Package service contains the session domain: the session store, the token refresh controller
// and the ports they depend on.
package service

import (
	"context"
	"errors"

	"github.com/turtacn/portal-gateway/internal/domain/models"
)

// ErrGrantRejected is returned (wrapped) by an IdentityProvider when the provider reports the refresh
// token or authorization code as invalid, expired or revoked.
// ErrGrantRejected 表示身份提供方判定刷新令牌或授权码无效。
var ErrGrantRejected = errors.New("grant rejected by identity provider")

// IdentityProvider abstracts the external OIDC provider.
// IdentityProvider 抽象外部 OIDC 身份提供方。
//
//go:generate mockery --name IdentityProvider --output mocks --outpkg mocks
type IdentityProvider interface {
	// AuthCodeURL returns the provider login URL for an authorization-code + PKCE flow.
	// AuthCodeURL 返回授权码 + PKCE 流程的登录地址。
	AuthCodeURL(state, verifier string) string

	// Exchange trades an authorization code for tokens.
	// Exchange 使用授权码换取令牌。
	Exchange(ctx context.Context, code, verifier string) (*models.TokenSet, error)

	// Refresh performs a refresh_token grant.
	// Refresh 执行 refresh_token 授权。
	Refresh(ctx context.Context, refreshToken string) (*models.TokenSet, error)

	// EndSessionURL returns the provider logout URL, or "" if the provider has none.
	// EndSessionURL 返回身份提供方登出地址；不支持时返回空字符串。
	EndSessionURL(idTokenHint string) string
}

// SessionPersister is durable, best-effort storage for one session record per key.
// SessionPersister 为每个键提供尽力而为的会话持久化存储。
//
//go:generate mockery --name SessionPersister --output mocks --outpkg mocks
type SessionPersister interface {
	// Save writes the record, replacing any previous one.
	Save(ctx context.Context, key string, record *models.PersistedSession) error

	// Load returns nil, nil when no record exists.
	Load(ctx context.Context, key string) (*models.PersistedSession, error)

	// Delete is idempotent.
	Delete(ctx context.Context, key string) error
}

// AuthEventPublisher ships session lifecycle events to an external audit sink.
// AuthEventPublisher 将会话生命周期事件发送到外部审计系统。
//
//go:generate mockery --name AuthEventPublisher --output mocks --outpkg mocks
type AuthEventPublisher interface {
	Publish(ctx context.Context, event models.AuthEvent) error
}
