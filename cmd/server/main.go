// rootshare server
//
// Exposes one directory tree over:
// - the JSON/multipart HTTP API with SSE change events
// - WebDAV (optional)
// - SFTP (optional)
// plus Prometheus metrics and a janitor for abandoned uploads.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/rootshare/internal/api"
	"github.com/fruitsalade/rootshare/internal/config"
	"github.com/fruitsalade/rootshare/internal/events"
	"github.com/fruitsalade/rootshare/internal/janitor"
	"github.com/fruitsalade/rootshare/internal/logging"
	"github.com/fruitsalade/rootshare/internal/metrics"
	"github.com/fruitsalade/rootshare/internal/sftpd"
	"github.com/fruitsalade/rootshare/internal/storage/backend"
	"github.com/fruitsalade/rootshare/internal/webdav"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		// Can't use structured logging yet
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(2)
	}

	if err := logging.Init(cfg.Log); err != nil {
		fmt.Fprintln(os.Stderr, "logging init error:", err)
		os.Exit(2)
	}
	defer logging.Sync()

	if err := run(cfg); err != nil {
		logging.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := backend.New(cfg)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer store.Close()
	rootPath := store.Root().Path()

	logging.Info("rootshare starting",
		zap.String("root", rootPath),
		zap.String("backend", store.Type()),
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	broadcaster := events.NewBroadcaster()

	var limiter *api.RateLimiter
	if cfg.RateLimit.RPS > 0 {
		limiter = api.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		logging.Info("rate limiting enabled",
			zap.Float64("rps", cfg.RateLimit.RPS),
			zap.Int("burst", cfg.RateLimit.Burst))
	}

	opts := api.Options{
		Broadcaster: broadcaster,
		RateLimiter: limiter,
		MaxJSONBody: cfg.MaxJSONBody,
		RootLabel:   rootPath,
	}
	if len(cfg.CORS.AllowedOrigins) > 0 {
		opts.CORS = &api.CORSConfig{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			MaxAge:         cfg.CORS.MaxAge,
		}
	}
	if cfg.WebDAV.Enabled {
		opts.WebDAV = webdav.NewHandler(store, broadcaster, cfg.WebDAV.Prefix)
		opts.WebDAVPrefix = cfg.WebDAV.Prefix
		logging.Info("WebDAV enabled", zap.String("prefix", cfg.WebDAV.Prefix))
	}
	srv := api.NewServer(store, opts)

	sweeper, err := janitor.New(rootPath, janitor.Config{
		Schedule: cfg.Janitor.Schedule,
		MaxAge:   cfg.Janitor.MaxAge.Duration,
	})
	if err != nil {
		return err
	}

	var sftpServer *sftpd.Server
	if cfg.SFTP.ListenAddr != "" {
		sftpServer, err = sftpd.New(sftpd.Config{
			ListenAddr:  cfg.SFTP.ListenAddr,
			HostKeyPath: cfg.SFTP.HostKeyPath,
		}, store, broadcaster)
		if err != nil {
			return fmt.Errorf("sftp init: %w", err)
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Event streams never finish on their own.
	httpServer.RegisterOnShutdown(srv.CloseStreams)
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("HTTP server listening", zap.String("addr", cfg.ListenAddr))
		return listen(httpServer)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			return listen(metricsServer)
		})
	}
	if sftpServer != nil {
		g.Go(func() error { return sftpServer.ListenAndServe(gctx, cfg.SFTP.ListenAddr) })
	}
	g.Go(func() error { return sweeper.Run(gctx) })
	if limiter != nil {
		g.Go(func() error {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if n := limiter.Cleanup(time.Hour); n > 0 {
						logging.Debug("rate limiter cleanup", zap.Int("removed", n))
					}
				}
			}
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(sctx); err != nil {
			httpServer.Close()
		}
		metricsServer.Shutdown(sctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logging.Info("server stopped")
	return nil
}

func listen(s *http.Server) error {
	if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
