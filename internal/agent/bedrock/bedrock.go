// Package bedrock answers prompts through the AWS Bedrock Converse API.
package bedrock

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/ledossier/backend/internal/config"
	"github.com/ledossier/backend/internal/serviceerr"
)

type Replier struct {
	client  *bedrockruntime.Client
	modelID string
}

// New creates a Bedrock Runtime client in the configured region.
// Credentials come from the standard AWS credential chain.
func New(ctx context.Context, cfg config.Bedrock) (*Replier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return &Replier{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		modelID: cfg.ModelID,
	}, nil
}

// Reply sends the prompt as a single user message and returns the first text
// block of the output message.
func (r *Replier) Reply(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", serviceerr.ErrEmptyPrompt
	}

	out, err := r.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(r.modelID),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("conversing with model %s: %w", r.modelID, err)
	}

	return extractText(out)
}

// extractText pulls the first text content block out of the converse output.
func extractText(out *bedrockruntime.ConverseOutput) (string, error) {
	message, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", serviceerr.ErrEmptyReply
	}

	for _, block := range message.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok && text.Value != "" {
			return text.Value, nil
		}
	}

	return "", serviceerr.ErrEmptyReply
}
