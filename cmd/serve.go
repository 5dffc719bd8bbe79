package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khanhnv2901/vela/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scan API",
	Long: `Run the HTTP API. Scans are queued with POST /scans and run in the
background; send SIGHUP to reload the pattern catalog without a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		cfg := loadServeConfig(cmd.Flags())
		logger := appCtx.Logger

		trusted, err := api.ParseTrustedProxies(cfg.TrustedProxies)
		if err != nil {
			return err
		}

		services, err := appCtx.Services()
		if err != nil {
			return err
		}

		server := api.NewServer(api.Config{
			Scans:          services.ScanService,
			Quota:          services.Limiter,
			Catalog:        services.Catalogs,
			Events:         services.Events,
			Metrics:        services.Metrics,
			HealthChecks:   services.HealthChecks(),
			Version:        Version,
			AuthToken:      cfg.AuthToken,
			Logger:         logger.Named("api"),
			CORSOrigins:    cfg.CORSOrigins,
			RateLimit:      cfg.RateLimit,
			RateBurst:      cfg.RateBurst,
			TrustedProxies: trusted,
		})
		defer server.Close()

		httpServer := &http.Server{
			Addr:              cfg.Addr,
			Handler:           server,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// WriteTimeout stays unset so /scans-stream can hold its connection.
			IdleTimeout: 120 * time.Second,
		}
		httpServer.RegisterOnShutdown(server.Close)

		// Channel to listen for errors from the server
		serverErrors := make(chan error, 1)

		// Start server in a goroutine
		go func() {
			fmt.Printf("%s API server listening on %s (catalog: %d patterns)\n", colorInfo("→"), cfg.Addr, services.Catalogs.Current().Len())
			fmt.Printf("%s Press Ctrl+C to gracefully shutdown\n", colorInfo("→"))
			serverErrors <- httpServer.ListenAndServe()
		}()

		// Channel to listen for interrupt signals
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		reload := make(chan os.Signal, 1)
		signal.Notify(reload, syscall.SIGHUP)
		defer signal.Stop(reload)

		for {
			select {
			case err := <-serverErrors:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			case <-reload:
				n, err := services.ReloadCatalog(cmd.Context())
				if err != nil {
					logger.Error("catalog_reload_failed", zap.Error(err))
					continue
				}
				fmt.Printf("%s Catalog reloaded (%d patterns)\n", colorInfo("→"), n)
			case sig := <-shutdown:
				fmt.Printf("\n%s Received signal %v, initiating graceful shutdown...\n", colorInfo("→"), sig)
				return gracefulShutdown(httpServer, services.Orchestrator, cfg.ShutdownTimeout, logger)
			}
		}
	},
}

type drainer interface {
	Wait(ctx context.Context) error
}

// gracefulShutdown stops accepting requests, then waits for running scans
// within the same deadline.
func gracefulShutdown(httpServer *http.Server, scans drainer, timeout time.Duration, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		// Force close if graceful shutdown fails
		if closeErr := httpServer.Close(); closeErr != nil {
			return fmt.Errorf("failed to gracefully shutdown server: %w (close error: %v)", err, closeErr)
		}
		return fmt.Errorf("failed to gracefully shutdown server: %w", err)
	}

	if err := scans.Wait(ctx); err != nil {
		logger.Warn("scans_abandoned_on_shutdown", zap.Error(err))
		fmt.Printf("%s Shutdown deadline reached with scans still running\n", colorWarn("!"))
		return nil
	}

	fmt.Printf("%s Server shutdown complete\n", colorInfo("✓"))
	return nil
}

func init() {
	serveCmd.Flags().String("addr", defaultServerAddr, "Address for the API server")
	serveCmd.Flags().String("auth-token", "", "Optional shared secret for API requests")
	serveCmd.Flags().Duration("shutdown-timeout", defaultShutdownTimeout, "Graceful shutdown timeout")
	serveCmd.Flags().StringSlice("cors-origins", []string{}, "Allowed CORS origins (empty = allow all)")
	serveCmd.Flags().StringSlice("trusted-proxies", []string{}, "Proxy IPs or CIDRs whose X-Forwarded-For and CF-Connecting-IP headers are honoured")
	serveCmd.Flags().Int("rate-limit", defaultServerRateLimit, "Rate limit per IP (requests/second, 0 = disabled)")
	serveCmd.Flags().Int("rate-burst", defaultServerRateBurst, "Rate limit burst size")
}
