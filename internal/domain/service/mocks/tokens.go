package mocks

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/turtacn/portal-gateway/internal/domain/models"
)

// MintToken builds an HS256-signed JWT shaped like a Keycloak access token.
func MintToken(subject string, expiresAt time.Time, roles ...string) string {
	claims := jwt.MapClaims{
		"jti":                uuid.NewString(),
		"sub":                subject,
		"preferred_username": subject,
		"name":               "User " + subject,
		"email":              subject + "@example.edu",
		"iat":                time.Now().Add(-time.Minute).Unix(),
		"realm_access":       map[string]interface{}{"roles": roles},
	}
	if !expiresAt.IsZero() {
		claims["exp"] = expiresAt.Unix()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-key"))
	if err != nil {
		panic(err)
	}
	return signed
}

// TokenSet builds a provider response whose access token expires after ttl.
func TokenSet(subject string, ttl time.Duration, refreshToken string, roles ...string) *models.TokenSet {
	expiry := time.Now().Add(ttl)
	return &models.TokenSet{
		AccessToken:  MintToken(subject, expiry, roles...),
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		Expiry:       expiry,
	}
}
