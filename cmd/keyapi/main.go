package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/filegrind/keyapi-go"
	"github.com/filegrind/keyapi-go/bridge"
	"github.com/filegrind/keyapi-go/internal/config"
	"github.com/filegrind/keyapi-go/internal/logx"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.Default()}
	root := &cobra.Command{
		Use:           "keyapi",
		Short:         "Talk to the KeY prover over its framed JSON-RPC stdio API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Load(cmd.Flags()); err != nil {
				return err
			}
			logx.Configure(a.cfg.LogLevel)
			return nil
		},
	}
	a.cfg.BindFlags(root.PersistentFlags())
	root.AddCommand(a.callCmd(), a.serveCmd(), a.versionCmd())
	return root
}

func (a *app) callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Send one request and print the value the engine answers with",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params any
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("params are not valid JSON: %s", args[1])
				}
				params = json.RawMessage(args[1])
			}
			return a.withBridge(cmd.Context(), func(ctx context.Context, b *bridge.Bridge) error {
				out, err := b.CallOutcome(ctx, args[0], params)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out.Value))
				if out.Failed {
					return fmt.Errorf("%s returned an error", args[0])
				}
				return nil
			})
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Relay newline-delimited requests from stdin to the engine, answering on stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBridge(cmd.Context(), func(ctx context.Context, b *bridge.Bridge) error {
				return serveLines(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), b, a.cfg.Limits.MaxFrame)
			})
		},
	}
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information and the engine's version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "keyapi %s (%s, built %s)\n", version, buildSHA, buildDate)
			return a.withBridge(cmd.Context(), func(ctx context.Context, b *bridge.Bridge) error {
				v, err := keyapi.NewClient(b).Version(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "engine %s\n", v)
				return nil
			})
		},
	}
}

// withBridge starts the engine, runs fn, and shuts the engine down again.
// A failure to start the engine exits the process through the bridge's fatal handler.
func (a *app) withBridge(parent context.Context, fn func(ctx context.Context, b *bridge.Bridge) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics *bridge.Metrics
	if a.cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = bridge.NewMetrics(reg)
		serveMetrics(ctx, a.cfg.MetricsAddr, reg)
	}

	b := bridge.New(engineConfig(a.cfg),
		bridge.WithLogger(logx.Log),
		bridge.WithMetrics(metrics),
		bridge.WithExitGrace(a.cfg.ExitGrace),
		bridge.WithLimits(a.cfg.Limits),
	)
	if err := b.Start(ctx); err != nil {
		return err
	}

	runErr := fn(ctx, b)
	b.Close()
	if err := b.Wait(); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func engineConfig(cfg config.Config) bridge.EngineConfig {
	program, args := cfg.EngineCommand()
	return bridge.EngineConfig{
		Program:      program,
		Args:         args,
		ExpectedPath: cfg.ExpectedPath(),
		Hint:         cfg.RemediationHint(),
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logx.Log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Log.Error().Err(err).Msg("metrics server")
		}
	}()
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			logx.Log.Error().Err(err).Msg("metrics server shutdown")
		}
	}()
}
