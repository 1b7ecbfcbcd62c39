package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/turtacn/portal-gateway/internal/config"
)

// CookieConfig controls the attributes of every cookie the gateway sets.
type CookieConfig struct {
	Secure   bool
	Domain   string
	SameSite http.SameSite
	// SessionMaxAge bounds the session cookie; zero makes it a browser-session cookie.
	SessionMaxAge time.Duration
}

// NewCookieConfig maps session settings to cookie attributes.
func NewCookieConfig(cfg config.SessionConfig) CookieConfig {
	sameSite := http.SameSiteLaxMode
	switch strings.ToLower(cfg.CookieSameSite) {
	case "strict":
		sameSite = http.SameSiteStrictMode
	case "none":
		sameSite = http.SameSiteNoneMode
	}
	return CookieConfig{
		Secure:        cfg.CookieSecure,
		Domain:        cfg.CookieDomain,
		SameSite:      sameSite,
		SessionMaxAge: cfg.TTL,
	}
}

func (cc CookieConfig) set(w http.ResponseWriter, name, value, path string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   cc.Domain,
		MaxAge:   int(maxAge.Seconds()),
		Secure:   cc.Secure,
		HttpOnly: true,
		SameSite: cc.SameSite,
	})
}

func (cc CookieConfig) clear(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   cc.Domain,
		MaxAge:   -1,
		Secure:   cc.Secure,
		HttpOnly: true,
		SameSite: cc.SameSite,
	})
}
