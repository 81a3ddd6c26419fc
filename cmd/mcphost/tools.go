package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphost/host"
	"github.com/effective-security/mcphost/pkg/llms"
	"github.com/effective-security/mcphost/pkg/llmutils"
	"github.com/effective-security/x/slices"
	"github.com/spf13/cobra"
)

func newToolsCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the merged tool catalog of the configured servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTools(cmd.Context(), output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format: text|json|yaml|toml")
	return cmd
}

// catalogEntry is one advertised tool with the server that serves it.
type catalogEntry struct {
	Server      string `json:"server" yaml:"server"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

func (a *app) runTools(ctx context.Context, output string) (err error) {
	// listing does not call the model
	h, err := host.New(catalogModel{}, a.cfg.Chat.HostOptions()...)
	if err != nil {
		return err
	}
	defer closeHost(h, &err)

	if err = a.connectAll(ctx, h); err != nil {
		return err
	}

	var list []catalogEntry
	reg := h.Registry()
	for _, id := range reg.ServerIDs() {
		s, _ := reg.Server(id)
		for _, t := range s.Tools {
			list = append(list, catalogEntry{Server: id, Name: t.Name, Description: t.Description})
		}
	}

	switch output {
	case outputJSON:
		fmt.Fprintln(a.out, llmutils.ToJSONIndent(list))
	case outputYAML:
		fmt.Fprint(a.out, llmutils.ToYAML(list))
	case outputTOML:
		fmt.Fprint(a.out, llmutils.ToTOML(map[string]any{"tools": list}))
	default:
		w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SERVER\tTOOL\tDESCRIPTION")
		for _, e := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Server, e.Name, slices.StringUpto(e.Description, 80))
		}
		_ = w.Flush()
	}
	return nil
}

// catalogModel satisfies host.New for commands that only connect servers.
type catalogModel struct{}

func (catalogModel) GetName() string { return "none" }

func (catalogModel) GetProviderType() llms.ProviderType { return "" }

func (catalogModel) GenerateContent(context.Context, []llms.Message, ...llms.CallOption) (*llms.ContentResponse, error) {
	return nil, errors.New("model is not available for this command")
}
