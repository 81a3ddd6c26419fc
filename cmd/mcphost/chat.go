package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphost/callbacks"
	"github.com/effective-security/mcphost/host"
	"github.com/effective-security/mcphost/pkg/llms"
	"github.com/effective-security/mcphost/pkg/llmutils"
	"github.com/effective-security/mcphost/store"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

// Supported values of the --output flag.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
	outputTOML = "toml"
)

type chatFlags struct {
	prompt       string
	system       string
	messagesFile string
	chatID       string
	model        string
	output       string
	verbose      bool
}

func newChatCmd(a *app) *cobra.Command {
	f := &chatFlags{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run one conversation with the tools of the configured servers",
		Example: `  mcphost chat -c mcphost.yaml -p "what is 2+3?"
  mcphost chat -c mcphost.yaml --messages conversation.yaml --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()
			return a.runChat(ctx, f)
		},
	}

	cmd.Flags().StringVarP(&f.prompt, "prompt", "p", "", "User prompt")
	cmd.Flags().StringVar(&f.system, "system", "", "System prompt")
	cmd.Flags().StringVarP(&f.messagesFile, "messages", "m", "", "Conversation file (YAML or JSON list of messages)")
	cmd.Flags().StringVar(&f.chatID, "chat-id", "", "Chat id to resume and persist, use \"new\" to start a new chat")
	cmd.Flags().StringVar(&f.model, "model", "", "Preferred model name")
	cmd.Flags().StringVarP(&f.output, "output", "o", outputText, "Output format: text|json|yaml|toml")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Print every conversation event and the run stats")
	return cmd
}

func (a *app) runChat(ctx context.Context, f *chatFlags) (err error) {
	switch f.output {
	case outputText, outputJSON, outputYAML, outputTOML:
	default:
		return errors.Newf("unsupported output format: %q", f.output)
	}

	msgs, err := a.conversation(f)
	if err != nil {
		return err
	}

	var st store.MessageStore
	var history []llms.Message
	chatID := f.chatID
	if chatID != "" {
		if st, err = a.newStore(&a.cfg.Store); err != nil {
			return err
		}
		if chatID == "new" {
			chatID = store.NewChatID()
			fmt.Fprintf(a.errOut, "Chat ID: %s\n", chatID)
		}
		if history, err = st.Messages(ctx, chatID); err != nil {
			return err
		}
		msgs = append(history, msgs...)
	}
	if len(msgs) == 0 {
		return errors.New("a prompt or a messages file is required")
	}

	model, err := a.model(f.model)
	if err != nil {
		return err
	}

	stats := callbacks.NewStats()
	fanout := callbacks.NewFanout(stats, callbacks.NewPackageLogger(logger))
	if f.output == outputText {
		mode := callbacks.ModeDefault
		if f.verbose {
			mode = callbacks.ModeVerbose
		}
		fanout.Add(callbacks.NewPrinter(a.out, mode))
	}

	h, err := host.New(model, append(a.cfg.Chat.HostOptions(), host.WithCallback(fanout))...)
	if err != nil {
		return err
	}
	defer closeHost(h, &err)

	if err = a.connectAll(ctx, h); err != nil {
		return err
	}

	res, err := h.Chat(ctx, msgs)
	if res != nil && st != nil {
		if perr := persist(ctx, st, chatID, res.Messages[len(history):], res.Messages); perr != nil {
			return errors.CombineErrors(err, perr)
		}
	}
	if err != nil {
		return err
	}

	switch f.output {
	case outputJSON:
		fmt.Fprintln(a.out, llmutils.ToJSONIndent(res))
	case outputYAML:
		fmt.Fprint(a.out, llmutils.ToYAML(res))
	case outputTOML:
		fmt.Fprint(a.out, llmutils.ToTOML(res))
	}
	if f.verbose {
		stats.Print(a.errOut)
	}
	return nil
}

// conversation returns the messages of the file, followed by the system and user prompts.
func (a *app) conversation(f *chatFlags) ([]llms.Message, error) {
	var msgs []llms.Message
	if f.messagesFile != "" {
		b, err := os.ReadFile(f.messagesFile)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if err = yaml.Unmarshal(b, &msgs); err != nil {
			return nil, errors.Wrapf(err, "failed to parse messages %q", f.messagesFile)
		}
	}
	if f.system != "" {
		msgs = append(msgs, llms.MessageFromTextParts(llms.RoleSystem, f.system))
	}
	if f.prompt != "" {
		msgs = append(msgs, llms.MessageFromTextParts(llms.RoleHuman, f.prompt))
	}
	return msgs, nil
}

// persist appends the new messages of the chat and refreshes its title.
func persist(ctx context.Context, st store.MessageStore, chatID string, added, all []llms.Message) error {
	if err := st.Add(ctx, chatID, added...); err != nil {
		return err
	}
	return st.UpdateChat(ctx, chatID, store.ChatTitle(all), nil)
}
