package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/resourcefinder/config"
)

func chatCMD() *cobra.Command {
	var sessionID string

	var chat = &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		Long:  "Interactive session. Type /history to print the transcript, /new to start over and /quit to leave.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return repl(ctx, cfg, sessionID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	chat.Flags().StringVar(&sessionID, "session", "", "continue an existing session (redis store)")

	return chat
}

func repl(ctx context.Context, cfg *config.Config, sessionID string, in io.Reader, out io.Writer) error {
	a, err := buildAssistant(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintln(out, "Resource finder. Tell me where you are and what you need. /quit to leave.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			if sessionID != "" {
				_ = a.orch.EndSession(ctx, sessionID)
			}
			sessionID = ""
			fmt.Fprintln(out, "(new session)")
			continue
		case "/history":
			if sessionID == "" {
				fmt.Fprintln(out, "(no messages yet)")
				continue
			}
			conv, err := a.orch.History(ctx, sessionID)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			for _, m := range conv.Transcript() {
				fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
			}
			continue
		}

		reply, err := a.orch.Chat(ctx, sessionID, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		sessionID = reply.SessionID
		fmt.Fprintf(out, "\n%s\n\n", reply.Text)
		if reply.Query != "" {
			fmt.Fprintf(out, "(searched: %s)\n", reply.Query)
		}
	}
}
