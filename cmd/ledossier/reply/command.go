package reply

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ledossier/backend/internal/agent"
	"github.com/ledossier/backend/internal/cmdutils"
	"github.com/ledossier/backend/internal/config"
)

func Cmd(buildInfo string) *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "reply [prompt]",
		Short: "Ask the configured model for a single reply",
		Long:  "Sends one prompt, from the arguments or stdin, to the configured model provider and prints the reply.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdutils.LoadConfig(buildInfo)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if provider != "" {
				cfg.Agent.Provider = config.AgentProvider(provider)
			}

			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading prompt: %w", err)
			}

			err = cmdutils.RunAsJob(cmd.Context(), func(ctx context.Context, cfg *config.Config) error {
				replier, err := agent.New(ctx, cfg)
				if err != nil {
					return fmt.Errorf("creating model adapter: %w", err)
				}

				answer, err := replier.Reply(ctx, prompt)
				if err != nil {
					return fmt.Errorf("asking for a reply: %w", err)
				}

				_, err = fmt.Fprintln(cmd.OutOrStdout(), answer)

				return err
			}, cfg)
			if err != nil {
				return fmt.Errorf("running the reply command: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "model provider override (gemini or bedrock)")

	return cmd
}

// readPrompt joins the arguments, or reads stdin when no arguments are given.
func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	if f, ok := stdin.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			return "", fmt.Errorf("no prompt given and stdin is a terminal")
		}
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(data)), nil
}
