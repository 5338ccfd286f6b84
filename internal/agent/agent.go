// Package agent abstracts the model providers behind a single interface.
// Adapters are stateless beyond their client handle and safe for concurrent
// use.
package agent

import (
	"context"
	"fmt"

	"github.com/ledossier/backend/internal/agent/bedrock"
	"github.com/ledossier/backend/internal/agent/gemini"
	"github.com/ledossier/backend/internal/config"
)

// Replier produces a single-turn plain text reply to a prompt. No system
// instructions are sent and the provider's default sampling applies.
type Replier interface {
	Reply(ctx context.Context, prompt string) (string, error)
}

// New creates the adapter selected by cfg.Agent.Provider.
func New(ctx context.Context, cfg *config.Config) (Replier, error) {
	switch cfg.Agent.Provider {
	case config.AgentProviderGemini:
		return gemini.New(ctx, cfg.Agent.Gemini)
	case config.AgentProviderBedrock:
		return bedrock.New(ctx, cfg.Agent.Bedrock)
	default:
		return nil, fmt.Errorf("unknown agent provider: %q", cfg.Agent.Provider)
	}
}
