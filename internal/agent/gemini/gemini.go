// Package gemini answers prompts through the Gemini API.
package gemini

import (
	"context"
	"fmt"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"google.golang.org/genai"

	"github.com/ledossier/backend/internal/config"
	"github.com/ledossier/backend/internal/serviceerr"
)

type Replier struct {
	client *genai.Client
	model  string
}

// New creates a Gemini API client using the configured API key.
func New(ctx context.Context, cfg config.Gemini) (*Replier, error) {
	apiKey, err := commoncfg.LoadValueFromSourceRef(cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("loading gemini api key from source ref: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  string(apiKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Replier{client: client, model: cfg.Model}, nil
}

// Reply sends the prompt as a single user turn and returns the concatenated
// text of the first candidate.
func (r *Replier) Reply(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", serviceerr.ErrEmptyPrompt
	}

	resp, err := r.client.Models.GenerateContent(ctx, r.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generating content with model %s: %w", r.model, err)
	}

	text := resp.Text()
	if text == "" {
		return "", serviceerr.ErrEmptyReply
	}

	return text, nil
}
