package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/psyserve/internal/config"
	"github.com/roach88/psyserve/internal/core"
	"github.com/roach88/psyserve/internal/engine"
	"github.com/roach88/psyserve/internal/store"
	"github.com/roach88/psyserve/internal/transport"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigFile string
	Resume     string

	// IDGenerator overrides the experiment id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator engine.IDGenerator

	// Ready, if set, receives the bound protocol address once listening.
	Ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	v := config.NewViper()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the experiment server",
		Long: `Run the experiment server.

Clients connect over TCP and exchange newline-delimited JSON requests
(setup, ask, tell, resume, exit, info, get_config, can_model, query).
Settings come from flags, PSYSERVE_* environment variables, and an
optional psyserve.yaml, in that order of precedence.

Examples:
  psyserve serve --db ./trials.db --addr 127.0.0.1:5555
  psyserve serve --config ./psyserve.yaml --metrics-addr :9100
  psyserve serve --db ./trials.db --resume 0192f7a0-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			for key, flag := range map[string]string{
				config.KeyDB:          "db",
				config.KeyAddr:        "addr",
				config.KeyMetricsAddr: "metrics-addr",
				config.KeyStrictTells: "strict-tells",
				config.KeyLogLevel:    "log-level",
			} {
				if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
					return err
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(v, opts.ConfigFile)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid server configuration", err)
			}
			return runServe(opts, cfg, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "server config file (default ./psyserve.yaml if present)")
	cmd.Flags().String("db", "psyserve.db", "path to SQLite database")
	cmd.Flags().String("addr", "127.0.0.1:5555", "protocol listen address")
	cmd.Flags().String("metrics-addr", "", "Prometheus /metrics listen address (disabled if empty)")
	cmd.Flags().Bool("strict-tells", false, "reject a tell that does not answer an ask")
	cmd.Flags().String("log-level", "info", "log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.Resume, "resume", "", "resume a stored experiment at startup")

	return cmd
}

func runServe(opts *ServeOptions, cfg config.ServerConfig, cmd *cobra.Command) error {
	level := cfg.LogLevel
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	logger.Info("opening database", "path", cfg.DB)
	st, err := store.Open(cfg.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithStrictTells(cfg.StrictTells),
	}
	if opts.IDGenerator != nil {
		engineOpts = append(engineOpts, engine.WithIDGenerator(opts.IDGenerator))
	}
	eng := engine.New(st, engineOpts...)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Resume != "" {
		if err := resumeAtStartup(ctx, eng, opts.Resume); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	addr := ln.Addr().String()
	fmt.Fprintf(cmd.OutOrStdout(), "psyserve listening on %s\n", addr)
	if opts.Ready != nil {
		opts.Ready <- addr
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := eng.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return transport.NewServer(eng, logger).Serve(gctx, ln)
	})

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func resumeAtStartup(ctx context.Context, eng *engine.Engine, id string) error {
	msg, err := json.Marshal(engine.ResumeMessage{ExperimentID: id})
	if err != nil {
		return err
	}
	_, err = eng.HandleUnversioned(ctx, core.Request{Type: core.MessageResume, Message: msg})
	if err != nil {
		if core.IsProtocolError(err) {
			return WrapExitError(ExitCommandError, "cannot resume experiment", err)
		}
		return WrapExitError(ExitFailure, "cannot resume experiment", err)
	}
	return nil
}
