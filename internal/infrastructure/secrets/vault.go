// Package secrets resolves deployment secrets (the OIDC client secret) from HashiCorp Vault.
package secrets

import (
	"context"
	"fmt"

	vault "github.com/hashicorp/vault/api"

	"github.com/turtacn/portal-gateway/internal/config"
	"github.com/turtacn/portal-gateway/pkg/errors"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

// VaultClient reads string values from a KV v2 mount.
type VaultClient struct {
	client    *vault.Client
	mountPath string
	log       logger.Logger
}

// NewVaultClient creates and configures a new Vault client.
func NewVaultClient(cfg *config.VaultConfig, log logger.Logger) (*VaultClient, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	mount := cfg.MountPath
	if mount == "" {
		mount = "secret"
	}

	return &VaultClient{
		client:    client,
		mountPath: mount,
		log:       log.WithComponent("vault"),
	}, nil
}

// ReadString returns data[key] of the latest version of secretPath.
func (v *VaultClient) ReadString(ctx context.Context, secretPath, key string) (string, error) {
	secret, err := v.client.KVv2(v.mountPath).Get(ctx, secretPath)
	if err != nil {
		return "", fmt.Errorf("read %s/%s: %w", v.mountPath, secretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret %s/%s is empty", v.mountPath, secretPath)
	}

	value, ok := secret.Data[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("secret %s/%s has no string field %q", v.mountPath, secretPath, key)
	}

	v.log.Debug(ctx, "Secret resolved from vault",
		logger.String("path", secretPath),
		logger.String("field", key),
	)
	return value, nil
}

// ResolveClientSecret returns the OIDC client secret from Vault when enabled,
// otherwise the statically configured value.
func ResolveClientSecret(ctx context.Context, cfg *config.Config, log logger.Logger) (string, error) {
	if !cfg.Vault.Enabled {
		return cfg.Auth.ClientSecret, nil
	}

	client, err := NewVaultClient(&cfg.Vault, log)
	if err != nil {
		return "", errors.ErrNotConfigured("vault").WithCause(err)
	}
	secret, err := client.ReadString(ctx, cfg.Vault.SecretPath, cfg.Vault.SecretKey)
	if err != nil {
		return "", errors.ErrNotConfigured("vault").WithCause(err)
	}
	return secret, nil
}

//Personal.AI order the ending
