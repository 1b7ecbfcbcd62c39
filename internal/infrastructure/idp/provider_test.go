package idp

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/portal-gateway/internal/domain/service"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

const testClientID = "portal-web"

type fakeKeycloak struct {
	t      *testing.T
	server *httptest.Server
	key    *rsa.PrivateKey

	mu        sync.Mutex
	lastForm  url.Values
	rejectAll bool
}

func newFakeKeycloak(t *testing.T) *fakeKeycloak {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	kc := &fakeKeycloak{t: t, key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", kc.discovery)
	mux.HandleFunc("/certs", kc.jwks)
	mux.HandleFunc("/token", kc.token)
	kc.server = httptest.NewServer(mux)
	t.Cleanup(kc.server.Close)
	return kc
}

func (kc *fakeKeycloak) discovery(w http.ResponseWriter, _ *http.Request) {
	base := kc.server.URL
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"issuer":                                base,
		"authorization_endpoint":                base + "/auth",
		"token_endpoint":                        base + "/token",
		"jwks_uri":                              base + "/certs",
		"end_session_endpoint":                  base + "/logout",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (kc *fakeKeycloak) jwks(w http.ResponseWriter, _ *http.Request) {
	enc := base64.RawURLEncoding
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "test-key",
			"alg": "RS256",
			"use": "sig",
			"n":   enc.EncodeToString(kc.key.N.Bytes()),
			"e":   enc.EncodeToString(big.NewInt(int64(kc.key.E)).Bytes()),
		}},
	})
}

func (kc *fakeKeycloak) token(w http.ResponseWriter, r *http.Request) {
	require.NoError(kc.t, r.ParseForm())
	kc.mu.Lock()
	kc.lastForm = r.PostForm
	reject := kc.rejectAll
	kc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if reject {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token is not active"}`))
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token":  "access-" + r.PostForm.Get("grant_type"),
		"refresh_token": "refresh-next",
		"id_token":      kc.idToken(),
		"token_type":    "Bearer",
		"expires_in":    300,
	})
}

func (kc *fakeKeycloak) idToken() string {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":                kc.server.URL,
		"aud":                testClientID,
		"sub":                "user-1",
		"preferred_username": "s1234567",
		"iat":                now.Unix(),
		"exp":                now.Add(5 * time.Minute).Unix(),
	})
	tok.Header["kid"] = "test-key"
	signed, err := tok.SignedString(kc.key)
	require.NoError(kc.t, err)
	return signed
}

func (kc *fakeKeycloak) form() url.Values {
	kc.mu.Lock()
	defer kc.mu.Unlock()
	return kc.lastForm
}

func newTestProvider(t *testing.T, kc *fakeKeycloak) *Provider {
	t.Helper()
	p, err := NewProvider(context.Background(), Config{
		IssuerURL:             kc.server.URL,
		ClientID:              testClientID,
		ClientSecret:          "secret",
		RedirectURL:           "http://localhost:8080/auth/callback",
		PostLogoutRedirectURL: "http://localhost:8080/",
		HTTPClient:            kc.server.Client(),
	}, logger.NewNoopLogger())
	require.NoError(t, err)
	return p
}

func TestAuthCodeURL_CarriesPKCEChallenge(t *testing.T) {
	p := newTestProvider(t, newFakeKeycloak(t))

	raw := p.AuthCodeURL("state-1", "verifier-verifier-verifier-verifier-verifier")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Contains(t, q.Get("scope"), "openid")
}

func TestExchange_VerifiesIDTokenAndSendsVerifier(t *testing.T) {
	kc := newFakeKeycloak(t)
	p := newTestProvider(t, kc)

	ts, err := p.Exchange(context.Background(), "code-1", "the-verifier")
	require.NoError(t, err)

	assert.Equal(t, "access-authorization_code", ts.AccessToken)
	assert.Equal(t, "refresh-next", ts.RefreshToken)
	assert.NotEmpty(t, ts.IDToken)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), ts.Expiry, 10*time.Second)

	form := kc.form()
	assert.Equal(t, "code-1", form.Get("code"))
	assert.Equal(t, "the-verifier", form.Get("code_verifier"))
}

func TestRefresh(t *testing.T) {
	kc := newFakeKeycloak(t)
	p := newTestProvider(t, kc)

	ts, err := p.Refresh(context.Background(), "refresh-old")
	require.NoError(t, err)
	assert.Equal(t, "access-refresh_token", ts.AccessToken)
	assert.Equal(t, "refresh-old", kc.form().Get("refresh_token"))
}

func TestRefresh_InvalidGrantIsGrantRejected(t *testing.T) {
	kc := newFakeKeycloak(t)
	kc.rejectAll = true
	p := newTestProvider(t, kc)

	_, err := p.Refresh(context.Background(), "refresh-old")
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrGrantRejected)
	assert.Contains(t, err.Error(), "Token is not active")
}

func TestEndSessionURL(t *testing.T) {
	kc := newFakeKeycloak(t)
	p := newTestProvider(t, kc)

	u, err := url.Parse(p.EndSessionURL("id-hint"))
	require.NoError(t, err)
	assert.Equal(t, "/logout", u.Path)
	assert.Equal(t, "id-hint", u.Query().Get("id_token_hint"))
	assert.Equal(t, "http://localhost:8080/", u.Query().Get("post_logout_redirect_uri"))
	assert.Equal(t, testClientID, u.Query().Get("client_id"))

	p.endSession = ""
	assert.Empty(t, p.EndSessionURL("id-hint"))
}

func TestNewProvider_DiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewProvider(context.Background(), Config{IssuerURL: srv.URL, ClientID: testClientID}, logger.NewNoopLogger())
	assert.Error(t, err)
}
