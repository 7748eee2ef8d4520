package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/axellelanca/shortlink/cmd"
	"github.com/axellelanca/shortlink/internal/api"
	"github.com/axellelanca/shortlink/internal/cache"
	"github.com/axellelanca/shortlink/internal/config"
	"github.com/axellelanca/shortlink/internal/database"
	"github.com/axellelanca/shortlink/internal/logger"
	"github.com/axellelanca/shortlink/internal/monitor"
	"github.com/axellelanca/shortlink/internal/notify"
	"github.com/axellelanca/shortlink/internal/repository"
	"github.com/axellelanca/shortlink/internal/services"
)

// RunServerCmd represents the 'run-server' command. It wires the store, the
// cache, the webhook dispatcher and the HTTP API, then serves until SIGINT or
// SIGTERM.
var RunServerCmd = &cobra.Command{
	Use:   "run-server",
	Short: "Starts the HTTP API and the background monitor.",
	Long: `This command connects to the database and Redis, sets up the API routes,
optionally starts the fallback URL monitor, then serves HTTP until it receives
SIGINT or SIGTERM. On shutdown it drains in-flight requests, pending cache
writes and webhook notifications before closing its connections.`,
	RunE: func(c *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cmd.Cfg)
	},
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.For("server")

	db, err := cmd.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close(db)
	log.WithField("driver", cfg.Database.Driver).Info("database ready")

	rdb := cache.NewRedisClient(cfg.Cache)
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// Redis only speeds up redirects; serve without it.
		log.WithError(err).WithField("addr", cfg.Cache.Addr).Warn("redis not reachable, redirects will hit the database")
	}
	cancel()

	linkRepo := repository.NewLinkRepository(db)
	resolutionCache := cache.NewResolutionCache(rdb, linkRepo,
		cache.WithPrefix(cfg.Cache.KeyPrefix),
		cache.WithTTL(cfg.Cache.TTL),
		cache.WithWriteTimeout(cfg.Cache.WriteTimeout),
	)
	dispatcher := notify.NewDispatcher(cfg.Notify, nil)
	linkService := services.NewLinkService(linkRepo, resolutionCache, dispatcher)

	handler := api.NewHandler(linkService, cfg.Server.BaseURL,
		func(ctx context.Context) error { return database.Ping(ctx, db) },
		resolutionCache.Ping,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(ctx, cfg, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var urlMonitor *monitor.UrlMonitor
	if cfg.Monitor.Enabled {
		urlMonitor = monitor.NewUrlMonitor(linkRepo, cfg.Monitor)
		if err := urlMonitor.Start(ctx); err != nil {
			return fmt.Errorf("failed to start monitor: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		if urlMonitor != nil {
			urlMonitor.Stop()
		}
		resolutionCache.Wait()
		dispatcher.Wait()
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

func init() {
	cmd.RootCmd.AddCommand(RunServerCmd)
}
