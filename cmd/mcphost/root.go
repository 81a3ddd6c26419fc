package main

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphost/config"
	"github.com/effective-security/mcphost/host"
	"github.com/effective-security/mcphost/pkg/llmfactory"
	"github.com/effective-security/mcphost/pkg/llms"
	"github.com/effective-security/mcphost/store"
	"github.com/effective-security/xlog"
	"github.com/spf13/cobra"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcphost", "cmd")

// app holds the state shared by the commands.
type app struct {
	out    io.Writer
	errOut io.Writer

	configFile string
	debug      bool

	cfg *config.Config

	// connect establishes one configured server, replaced in tests.
	connect func(ctx context.Context, h *host.Host, s *host.ServerConfig) error
	// newStore returns the transcript store, replaced in tests.
	newStore func(cfg *store.Config) (store.MessageStore, error)
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		out:    out,
		errOut: errOut,
		connect: func(ctx context.Context, h *host.Host, s *host.ServerConfig) error {
			return h.Connect(ctx, s)
		},
		newStore: store.New,
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mcphost",
		Short: "mcphost - chat with an LLM using tools of MCP servers",
		Long: `mcphost connects one or more MCP servers, advertises their merged tool catalog
to an inference model and routes the tool calls requested by the model to the owning server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	rootCmd.SetOut(a.out)
	rootCmd.SetErr(a.errOut)

	rootCmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVarP(&a.debug, "debug", "D", false, "Enable debug logging")

	rootCmd.AddCommand(
		newChatCmd(a),
		newToolsCmd(a),
		newHistoryCmd(a),
	)
	return rootCmd
}

func (a *app) init() error {
	xlog.SetFormatter(xlog.NewStringFormatter(a.errOut))
	if a.debug {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	} else {
		xlog.SetGlobalLogLevel(xlog.ERROR)
	}

	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// model returns the preferred model, or the default model of the configured providers.
func (a *app) model(preferred string) (llms.Model, error) {
	f := llmfactory.New(&a.cfg.LLM)
	if preferred != "" {
		return f.ModelByName(preferred)
	}
	return f.DefaultModel()
}

// connectAll connects the configured servers in order, stopping at the first failure.
func (a *app) connectAll(ctx context.Context, h *host.Host) error {
	if len(a.cfg.Servers) == 0 {
		return errors.WithMessage(host.ErrNoServers, "add servers to the configuration file")
	}
	for _, s := range a.cfg.Servers {
		if err := a.connect(ctx, h, s); err != nil {
			return err
		}
	}
	return nil
}

// closeHost releases the sessions of h, keeping the first error.
func closeHost(h *host.Host, err *error) {
	if cerr := h.Close(); cerr != nil {
		logger.KV(xlog.ERROR, "status", "failed_to_close", "err", cerr.Error())
		if *err == nil {
			*err = cerr
		}
	}
}
