// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	OIDC     OIDC     `yaml:"oidc"`
	Gateway  Gateway  `yaml:"gateway"`
	Delivery Delivery `yaml:"delivery"`
	Store    Store    `yaml:"store"`
	Agent    Agent    `yaml:"agent"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

// OIDC holds the client registration for the hosted identity provider.
type OIDC struct {
	IssuerURL    string              `yaml:"issuerURL"`
	MetadataURL  string              `yaml:"metadataURL"`
	ClientID     string              `yaml:"clientID"`
	ClientSecret commoncfg.SourceRef `yaml:"clientSecret"`
	Scopes       string              `yaml:"scopes" default:"email openid phone"`
	CallbackURL  string              `yaml:"callbackURL"`
	MetadataTTL  time.Duration       `yaml:"metadataTTL" default:"10m"`
}

type Gateway struct {
	SessionDuration time.Duration `yaml:"sessionDuration" default:"12h"`
	CleanupInterval time.Duration `yaml:"cleanupInterval" default:"15m"`

	SessionCookieTemplate CookieTemplate `yaml:"sessionCookie"`
	CSRFCookieTemplate    CookieTemplate `yaml:"csrfCookie"`

	CSRFSecret     commoncfg.SourceRef `yaml:"csrfSecret"`
	AllowedOrigins []string            `yaml:"allowedOrigins"`
}

// Delivery describes how the authorize result is handed back to the
// originating client.
type Delivery struct {
	DeepLinkScheme  string        `yaml:"deepLinkScheme" default:"ledossier"`
	MessageType     string        `yaml:"messageType" default:"LEDOSSIER_AUTH_SUCCESS"`
	LocalStorageKey string        `yaml:"localStorageKey" default:"ledossier_auth_result"`
	CloseDelay      time.Duration `yaml:"closeDelay" default:"2s"`
}

type StoreKind string

const (
	StoreKindMemory StoreKind = "memory"
	StoreKindValKey StoreKind = "valkey"
)

type Store struct {
	Kind   StoreKind `yaml:"kind" default:"memory"`
	ValKey ValKey    `yaml:"valkey"`
}

type ValKey struct {
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
	Prefix   string              `yaml:"prefix"`
}

type AgentProvider string

const (
	AgentProviderGemini  AgentProvider = "gemini"
	AgentProviderBedrock AgentProvider = "bedrock"
)

type Agent struct {
	Provider AgentProvider `yaml:"provider" default:"gemini"`

	Gemini  Gemini  `yaml:"gemini"`
	Bedrock Bedrock `yaml:"bedrock"`
}

type Gemini struct {
	APIKey commoncfg.SourceRef `yaml:"apiKey"`
	Model  string              `yaml:"model" default:"gemini-3-flash-preview"`
}

type Bedrock struct {
	Region  string `yaml:"region" default:"us-east-1"`
	ModelID string `yaml:"modelID" default:"nvidia.nemotron-nano-12b-v2"`
}

// Validate reports the first missing or inconsistent required value.
// It covers the values the gateway cannot run without; the reply command
// performs its own provider-specific checks.
func (c *Config) Validate() error {
	switch {
	case c.OIDC.IssuerURL == "":
		return errors.New("oidc.issuerURL is required")
	case c.OIDC.MetadataURL == "":
		return errors.New("oidc.metadataURL is required")
	case c.OIDC.ClientID == "":
		return errors.New("oidc.clientID is required")
	case c.OIDC.CallbackURL == "":
		return errors.New("oidc.callbackURL is required")
	}

	if c.Gateway.SessionCookieTemplate.Name == "" {
		return errors.New("gateway.sessionCookie.name is required")
	}
	if c.Gateway.CSRFCookieTemplate.Name == "" {
		return errors.New("gateway.csrfCookie.name is required")
	}

	switch c.Store.Kind {
	case StoreKindMemory, StoreKindValKey:
	default:
		return fmt.Errorf("unknown store kind: %q", c.Store.Kind)
	}

	switch c.Agent.Provider {
	case AgentProviderGemini, AgentProviderBedrock:
	default:
		return fmt.Errorf("unknown agent provider: %q", c.Agent.Provider)
	}

	return nil
}
