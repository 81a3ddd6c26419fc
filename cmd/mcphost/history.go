package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/effective-security/mcphost/pkg/llmutils"
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "history [chat-id]",
		Short: "List the stored chats, or print the transcript of one chat",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return a.runTranscript(cmd.Context(), args[0], output)
			}
			return a.runHistory(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Transcript format: text|json|yaml|toml")
	return cmd
}

func (a *app) runHistory(ctx context.Context) error {
	st, err := a.newStore(&a.cfg.Store)
	if err != nil {
		return err
	}
	ids, err := st.ListChats(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHAT ID\tUPDATED\tMESSAGES\tTITLE")
	for _, id := range ids {
		info, err := st.GetChatInfo(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", info.ChatID, info.UpdatedAt.Format(time.RFC3339), len(info.Messages), info.Title)
	}
	return w.Flush()
}

func (a *app) runTranscript(ctx context.Context, chatID, output string) error {
	st, err := a.newStore(&a.cfg.Store)
	if err != nil {
		return err
	}
	info, err := st.GetChatInfo(ctx, chatID)
	if err != nil {
		return err
	}

	switch output {
	case outputJSON:
		fmt.Fprintln(a.out, llmutils.ToJSONIndent(info))
	case outputYAML:
		fmt.Fprint(a.out, llmutils.ToYAML(info))
	case outputTOML:
		fmt.Fprint(a.out, llmutils.ToTOML(info))
	default:
		fmt.Fprintf(a.out, "%s\n\n", info.Title)
		llmutils.PrintMessages(a.out, info.Messages)
	}
	return nil
}
