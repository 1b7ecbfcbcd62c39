// Package models defines the domain models for the academic portal gateway.
// This file contains the Session model and the token set it is built from.
package models

import (
	"time"

	"github.com/turtacn/portal-gateway/pkg/errors"
)

// TokenSet is a token endpoint response as received from the identity provider.
// TokenSet 是从身份提供方令牌端点收到的响应。
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string

	// Expiry is the absolute expiry reported by the OAuth client (from expires_in); may be zero.
	// Expiry 是 OAuth 客户端根据 expires_in 计算的绝对过期时间；可能为零值。
	Expiry time.Time
}

// Session is the authenticated state of one user: tokens, claims and expiry.
// A session is either fully populated or absent.
// Session 是单个用户的认证状态：令牌、声明与过期时间。会话要么完整，要么不存在。
type Session struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	Claims       *Claims

	// Expiry is when the access token stops being accepted.
	// Expiry 是访问令牌失效的时间。
	Expiry time.Time
}

// NewSession derives a session from a token set. The access token must be a readable JWT;
// expiry comes from its exp claim, falling back to the provider's expires_in.
// NewSession 从令牌集派生会话。
func NewSession(ts TokenSet) (Session, error) {
	if ts.AccessToken == "" {
		return Session{}, errors.ErrInvalidSessionData("access token missing")
	}

	claims, err := ParseClaims(ts.AccessToken)
	if err != nil {
		return Session{}, errors.ErrInvalidSessionData("access token is not a readable JWT").WithCause(err)
	}

	if ts.IDToken != "" {
		if idClaims, err := ParseClaims(ts.IDToken); err == nil {
			claims.MergeProfile(idClaims)
		}
	}

	expiry := claims.ExpiresAt
	if expiry.IsZero() {
		expiry = ts.Expiry
	}

	tokenType := ts.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return Session{
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		IDToken:      ts.IDToken,
		TokenType:    tokenType,
		Claims:       claims,
		Expiry:       expiry,
	}, nil
}

// Validate reports whether s is fully populated and not yet expired at now.
func (s Session) Validate(now time.Time) error {
	switch {
	case s.AccessToken == "":
		return errors.ErrInvalidSessionData("access token missing")
	case s.RefreshToken == "":
		return errors.ErrInvalidSessionData("refresh token missing")
	case s.Claims == nil || s.Claims.Subject == "":
		return errors.ErrInvalidSessionData("claims missing subject")
	case s.Expiry.IsZero():
		return errors.ErrInvalidSessionData("expiry missing")
	case !s.Expiry.After(now):
		return errors.ErrInvalidSessionData("access token already expired")
	}
	return nil
}

// RemainingValidity is the time left before expiry; negative once expired.
func (s Session) RemainingValidity(now time.Time) time.Duration {
	return s.Expiry.Sub(now)
}

// PersistedSession is the durable form of a session.
// PersistedSession 是会话的持久化形式。
type PersistedSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	IDToken      string    `json:"id_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	Roles        []string  `json:"roles,omitempty"`
	Claims       *Claims   `json:"claims"`
	SavedAt      time.Time `json:"saved_at"`
}

// ToPersisted converts s to its durable form.
func (s Session) ToPersisted(now time.Time) *PersistedSession {
	p := &PersistedSession{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		IDToken:      s.IDToken,
		TokenType:    s.TokenType,
		ExpiresAt:    s.Expiry.UTC(),
		Claims:       s.Claims,
		SavedAt:      now.UTC(),
	}
	if s.Claims != nil {
		p.UserID = s.Claims.Subject
		p.Username = s.Claims.PreferredUsername
		p.Roles = s.Claims.AllRoles()
	}
	return p
}

// Session converts the durable form back. The result is not validated.
func (p *PersistedSession) Session() Session {
	return Session{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		IDToken:      p.IDToken,
		TokenType:    p.TokenType,
		Claims:       p.Claims,
		Expiry:       p.ExpiresAt,
	}
}
