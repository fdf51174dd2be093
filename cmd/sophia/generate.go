package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sophia-ai/sophia/pkg/inference"
	"github.com/sophia-ai/sophia/pkg/models"
)

func newGenerateCmd(configPath *string) *cobra.Command {
	var (
		model       string
		system      string
		temperature float32
		maxTokens   int
		user        string
		session     string
	)

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Run one metered chat completion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			var msgs []models.ChatMessage
			if system != "" {
				msgs = append(msgs, models.ChatMessage{Role: "system", Content: system})
			}
			msgs = append(msgs, models.ChatMessage{Role: "user", Content: strings.Join(args, " ")})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			resp, err := rt.client().Generate(ctx, inference.GenerateRequest{
				Messages:    msgs,
				Model:       model,
				Temperature: temperature,
				MaxTokens:   maxTokens,
				UserID:      user,
				SessionID:   session,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, choice := range resp.Choices {
				fmt.Fprintln(out, choice.Message.Content)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "\n%s: %s tokens\n", resp.Model, humanize.Comma(int64(resp.Usage.TotalTokens)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "llama3.1-8b-instruct", "catalog model name")
	cmd.Flags().StringVar(&system, "system", "", "optional system prompt")
	cmd.Flags().Float32VarP(&temperature, "temperature", "t", 0.7, "sampling temperature")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 1024, "maximum completion tokens")
	cmd.Flags().StringVar(&user, "user", "", "user id recorded in the ledger")
	cmd.Flags().StringVar(&session, "session", "", "session id recorded in the ledger")
	return cmd
}
