package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/conduit/internal/api"
	"github.com/sells-group/conduit/internal/config"
	"github.com/sells-group/conduit/internal/monitoring"
)

const shutdownTimeout = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP bridge for the DAW plugin",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler:           buildHandler(a, cfg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		return runServer(ctx, srv, buildChecker(a, cfg.Monitoring))
	},
}

func buildHandler(a *app, c *config.Config) http.Handler {
	return api.NewHandler(api.Deps{
		Orchestrator:    a.Orchestrator,
		Registry:        a.Registry,
		Reporter:        a.Reporter,
		Usage:           a.Usage,
		Server:          c.Server,
		ProviderTimeout: time.Duration(c.Generate.TimeoutSecs) * time.Second,
	})
}

func buildChecker(a *app, mc config.MonitoringConfig) *monitoring.Checker {
	collector := monitoring.NewCollector(a.Registry.Breaker())
	alerter := monitoring.NewAlerter(mc, a.Reporter)
	return monitoring.NewChecker(collector, alerter, mc)
}

// runServer serves until ctx is cancelled or the listener fails, running
// the health checker alongside. Shutdown drains in-flight requests.
func runServer(ctx context.Context, srv *http.Server, checker *monitoring.Checker) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if checker != nil {
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})
	}

	return g.Wait()
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
