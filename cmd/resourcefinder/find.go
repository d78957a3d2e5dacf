package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/resourcefinder/internal/schema"
	"github.com/mohammad-safakhou/resourcefinder/models"
	"github.com/mohammad-safakhou/resourcefinder/tools"
)

var exampleConversation = models.Conversation{
	{Role: models.RoleUser, Content: "Hi, I need help. I'm homeless and don't know where to go."},
	{Role: models.RoleAssistant, Content: "I'm here to help you find resources. Can you tell me what city you're currently in?"},
	{Role: models.RoleUser, Content: "I'm in San Francisco."},
	{Role: models.RoleAssistant, Content: "Thank you. What are your most urgent needs right now? For example, shelter, food, medical care, or something else?"},
	{Role: models.RoleUser, Content: "I need a place to sleep tonight and I haven't eaten in a day. Also, I'm 19 years old and I'm LGBTQ."},
	{Role: models.RoleAssistant, Content: "I understand. Let me search for resources that can help you with emergency shelter and food, especially those that support LGBTQ youth in San Francisco."},
}

func findCMD() *cobra.Command {
	var convPath string
	var queryOnly bool

	var find = &cobra.Command{
		Use:   "find",
		Short: "Run list_eligible_resources once against a conversation",
		Long: "Distills a search query from a conversation JSON file (an array of {role, content}) " +
			"and runs deep research for it, printing the query, step timings and the report. " +
			"Without --conversation a built-in example is used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conv := exampleConversation
			if convPath != "" {
				if conv, err = readConversation(convPath); err != nil {
					return err
				}
			}
			a, err := buildTools(cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			out := cmd.OutOrStdout()

			if queryOnly {
				started := time.Now()
				q, err := a.distiller.Distill(ctx, conv)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "query: %s\ndistill: %s\n", q, time.Since(started).Round(time.Millisecond))
				return nil
			}

			started := time.Now()
			call := models.ToolCall{ID: "cli_" + uuid.NewString(), Name: string(tools.ListEligibleResources)}
			exec, err := a.dispatcher.Dispatch(ctx, call, conv)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "query:    %s\n", exec.Query)
			fmt.Fprintf(out, "distill:  %s\n", exec.Distill.Round(time.Millisecond))
			fmt.Fprintf(out, "research: %s\n", exec.Research.Round(time.Millisecond))
			fmt.Fprintf(out, "total:    %s\n", time.Since(started).Round(time.Millisecond))
			fmt.Fprintf(out, "\n%s\nRESOURCE REPORT\n%s\n\n%s\n", strings.Repeat("=", 80), strings.Repeat("=", 80), exec.Content)
			return nil
		},
	}
	find.Flags().StringVar(&convPath, "conversation", "", "conversation JSON file")
	find.Flags().BoolVar(&queryOnly, "query-only", false, "only distill the search query")

	return find
}

func readConversation(path string) (models.Conversation, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	if err := schema.ValidateConversationDocument(raw); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", path, err)
	}
	var conv models.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", path, err)
	}
	return conv, nil
}
