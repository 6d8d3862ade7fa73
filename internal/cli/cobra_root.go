package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"gemmad/internal/acquisition"
	"gemmad/internal/config"
)

// Indirections for tests.
var (
	fnNewApp = newApp
	fnServe  = serve
	fnAsk    = ask
	fnSanity = func(ctx context.Context, a *app) acquisition.SanityReport {
		defer a.closeLogged()
		return a.controller.SanityCheck(ctx)
	}
)

// Run executes the gemmad CLI with args (without the program name).
func Run(args []string, stdout, stderr io.Writer) error {
	root := buildRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.Execute()
}

func buildRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		configPath string
		cfg        config.Config
		log        zerolog.Logger
	)
	root := &cobra.Command{
		Use:           "gemmad",
		Short:         "On-device model acquisition and inference daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", envStr("GEMMAD_CONFIG", ""), "Config file (.yaml|.json|.toml)")
	pf.String("log-level", "", "Log level: debug|info|warn|error (defaults GEMMAD_LOG_LEVEL or info)")
	pf.String("log-format", "", "Log format: console|json")
	pf.String("assets-dir", "", "Directory of bundled assets")
	pf.String("cache-dir", "", "Directory receiving the copied model")
	pf.String("packs-dir", "", "Directory where delivered packs are installed")
	pf.String("pack-base-url", "", "Origin serving asset packs as <url>/<pack>/<file>")
	pf.String("engine", "", "Engine backend: llama|server")
	pf.String("llama-server-url", "", "llama.cpp server base URL (engine=server)")
	pf.Float32("temperature", 0, "Initial sampling temperature")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = loadConfig(configPath, cmd.Flags()); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		log = newLogger(cfg.LogLevel, cfg.LogFormat, stderr)
		return nil
	}

	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "Acquire the model and serve the HTTP API",
		Example: "  gemmad serve --addr :8080 --pack-base-url https://cdn.example.com/packs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := fnNewApp(cfg, log)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return fnServe(ctx, a)
		},
	}
	serveCmd.Flags().String("addr", "", "HTTP listen address (defaults GEMMAD_ADDR or :8080)")
	serveCmd.Flags().String("cors-origins", "", "Comma-separated allowed CORS origins")
	serveCmd.Flags().Bool("watch-packs", false, "Watch the packs dir for side-loaded packs")

	askCmd := &cobra.Command{
		Use:     "ask <prompt...>",
		Short:   "Acquire the model and answer one prompt",
		Example: "  gemmad ask \"Write a haiku about autumn\"",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := fnNewApp(cfg, log)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return fnAsk(ctx, a, strings.Join(args, " "), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	sanityCmd := &cobra.Command{
		Use:   "sanity",
		Short: "Check engine, bundled assets, cache dir and delivery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := fnNewApp(cfg, log)
			if err != nil {
				return err
			}
			rep := fnSanity(cmd.Context(), a)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
			if !rep.OK() {
				return fmt.Errorf("sanity check failed")
			}
			return nil
		},
	}

	root.AddCommand(serveCmd, askCmd, sanityCmd)
	return root
}
