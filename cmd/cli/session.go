package cli

import (
	"context"
	"fmt"

	appservice "github.com/turtacn/portal-gateway/internal/application/service"
	"github.com/turtacn/portal-gateway/internal/config"
	"github.com/turtacn/portal-gateway/internal/domain/models"
	domainservice "github.com/turtacn/portal-gateway/internal/domain/service"
	"github.com/turtacn/portal-gateway/internal/infrastructure/idp"
	"github.com/turtacn/portal-gateway/internal/infrastructure/monitoring"
	"github.com/turtacn/portal-gateway/internal/infrastructure/persistence/file"
	"github.com/turtacn/portal-gateway/pkg/constants"
	"github.com/turtacn/portal-gateway/pkg/errors"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

// portal is the CLI's single session: one store, one controller and one gateway.
type portal struct {
	provider   domainservice.IdentityProvider
	store      *domainservice.SessionStore
	controller *domainservice.TokenRefreshController
	gateway    *appservice.Gateway
	contexts   *appservice.AcademicContextService
	log        logger.Logger
}

func newPortal(cfg *config.Config, provider domainservice.IdentityProvider, persister domainservice.SessionPersister, log logger.Logger) *portal {
	store := domainservice.NewSessionStore(constants.PersistedSessionKey, persister,
		models.NewRolePolicy(cfg.Auth.StaffRoles), log)
	controller := domainservice.NewTokenRefreshController(store, provider, domainservice.RefreshControllerConfig{
		SessionID:        constants.PersistedSessionKey,
		RefreshTimeout:   cfg.Auth.RefreshTimeout,
		RefreshThreshold: cfg.Auth.RefreshThreshold,
	}, log)
	gateway := appservice.NewGateway(controller, appservice.GatewayConfig{
		GraphQLURL:  cfg.Upstream.GraphQLURL,
		RESTBaseURL: cfg.Upstream.RESTBaseURL,
		MinValidity: cfg.Auth.MinValidity,
		Timeout:     cfg.Upstream.Timeout,
	}, log)

	return &portal{
		provider:   provider,
		store:      store,
		controller: controller,
		gateway:    gateway,
		contexts:   appservice.NewAcademicContextService(constants.AcademicContextCacheTTL, log),
		log:        log,
	}
}

// requireSession restores the saved session or asks the user to log in.
func (p *portal) requireSession(ctx context.Context) (*models.Identity, error) {
	if _, err := p.controller.Restore(ctx); err != nil {
		return nil, err
	}
	identity, ok := p.store.Identity()
	if !ok {
		return nil, errors.ErrRequiresReauthentication("not logged in, run `portalctl login`")
	}
	return identity, nil
}

// openPortal wires the portal from the config file. redirectURL overrides the configured
// callback, which the login command points at its loopback listener.
func openPortal(ctx context.Context, redirectURL string) (*portal, error) {
	level := "warn"
	if verbose {
		level = "debug"
	}
	log, err := monitoring.NewZapLogger(&config.LogConfig{Level: level, Format: "console"})
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(configFile, log)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	dir := sessionDir
	if dir == "" {
		if dir, err = file.DefaultDir(); err != nil {
			return nil, fmt.Errorf("locate session directory: %w", err)
		}
	}

	if redirectURL == "" {
		redirectURL = cfg.Auth.RedirectURL
	}
	provider, err := idp.NewProvider(ctx, idp.Config{
		IssuerURL:    cfg.Auth.IssuerURL,
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       cfg.Auth.Scopes,
	}, log)
	if err != nil {
		return nil, err
	}

	return newPortal(cfg, provider, file.NewSessionPersister(dir), log), nil
}

//Personal.AI order the ending
