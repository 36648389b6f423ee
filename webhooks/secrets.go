package webhooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-fulfillment/core"
)

// StaticSecretProvider resolves secrets from a fixed map. Keys are either
// "tenant:vendor" or a bare vendor; the tenant scoped entry wins.
type StaticSecretProvider map[string]string

func (p StaticSecretProvider) Secret(_ context.Context, tenantID string, vendor string) (string, error) {
	if secret := strings.TrimSpace(p[core.CircuitKey(tenantID, vendor)]); secret != "" {
		return secret, nil
	}
	if secret := strings.TrimSpace(p[core.NormalizeVendor(vendor)]); secret != "" {
		return secret, nil
	}
	return "", fmt.Errorf("%w for vendor %s in tenant %s", ErrSecretNotFound, core.NormalizeVendor(vendor), tenantID)
}

// CredentialSecretProvider reads the HMAC secret from the vendor credential.
type CredentialSecretProvider struct {
	Credentials core.CredentialStore
}

func (p CredentialSecretProvider) Secret(ctx context.Context, tenantID string, vendor string) (string, error) {
	if p.Credentials == nil {
		return "", fmt.Errorf("webhooks: credential store is not configured")
	}
	credential, err := p.Credentials.Get(ctx, tenantID, vendor)
	if err != nil {
		return "", err
	}
	secret := strings.TrimSpace(credential.HMACSecret)
	if secret == "" {
		return "", fmt.Errorf("%w for vendor %s in tenant %s", ErrSecretNotFound, core.NormalizeVendor(vendor), tenantID)
	}
	return secret, nil
}

// ChainSecretProvider asks each provider in order and returns the first
// secret found.
type ChainSecretProvider []core.WebhookSecretProvider

func (c ChainSecretProvider) Secret(ctx context.Context, tenantID string, vendor string) (string, error) {
	var lastErr error
	for _, provider := range c {
		if provider == nil {
			continue
		}
		secret, err := provider.Secret(ctx, tenantID, vendor)
		if err == nil && strings.TrimSpace(secret) != "" {
			return secret, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", ErrSecretNotFound
}

var (
	_ core.WebhookSecretProvider = StaticSecretProvider(nil)
	_ core.WebhookSecretProvider = CredentialSecretProvider{}
	_ core.WebhookSecretProvider = ChainSecretProvider(nil)
)
