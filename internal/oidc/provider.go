package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const metadataCacheKey = "openid-configuration"

// Provider is the gateway's view of the hosted identity provider.
// The discovery document is cached for the configured TTL so that the
// login and callback handlers do not refetch it on every request.
type Provider struct {
	IssuerURL   string
	MetadataURL string

	cache *gocache.Cache
}

func NewProvider(issuerURL, metadataURL string, metadataTTL time.Duration) *Provider {
	return &Provider{
		IssuerURL:   issuerURL,
		MetadataURL: metadataURL,
		cache:       gocache.New(metadataTTL, 2*metadataTTL),
	}
}

// GetOpenIDConfig returns the provider metadata, from cache when fresh.
func (p *Provider) GetOpenIDConfig(ctx context.Context, httpClient *http.Client) (Configuration, error) {
	if cached, ok := p.cache.Get(metadataCacheKey); ok {
		return cached.(Configuration), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.MetadataURL, nil)
	if err != nil {
		return Configuration{}, fmt.Errorf("creating a discovery request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return Configuration{}, fmt.Errorf("fetching provider metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Configuration{}, fmt.Errorf("provider metadata endpoint returned status: %d", resp.StatusCode)
	}

	var conf Configuration
	if err := json.NewDecoder(resp.Body).Decode(&conf); err != nil {
		return Configuration{}, fmt.Errorf("decoding provider metadata: %w", err)
	}

	p.cache.SetDefault(metadataCacheKey, conf)

	return conf, nil
}

// Userinfo fetches the user's claims from the userinfo endpoint using the
// access token obtained from the code exchange.
func (p *Provider) Userinfo(ctx context.Context, httpClient *http.Client, userinfoEndpoint, accessToken string) (Claims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoEndpoint, nil)
	if err != nil {
		return Claims{}, fmt.Errorf("creating a userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := httpClient.Do(req)
	if err != nil {
		return Claims{}, fmt.Errorf("fetching userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Claims{}, fmt.Errorf("userinfo endpoint returned status: %d", resp.StatusCode)
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Claims{}, fmt.Errorf("decoding userinfo response: %w", err)
	}

	claims := Claims{Raw: raw}
	if sub, ok := raw["sub"].(string); ok {
		claims.Subject = sub
	}
	if email, ok := raw["email"].(string); ok {
		claims.Email = email
	}

	return claims, nil
}
