package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mediafetch/backend/internal/api"
	"github.com/mediafetch/backend/internal/auth"
	"github.com/mediafetch/backend/internal/config"
	"github.com/mediafetch/backend/internal/db"
	"github.com/mediafetch/backend/internal/fallback"
	"github.com/mediafetch/backend/internal/health"
	"github.com/mediafetch/backend/internal/jobs"
	"github.com/mediafetch/backend/internal/websocket"
)

const gaugeInterval = 15 * time.Second

var allowedOrigins []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, job workers and WebSocket hub",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().StringSliceVar(&allowedOrigins, "cors-origin", nil, "origins allowed to call the API from a browser")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	if cfg.Auth.SecretGenerated {
		log.Warn(ctx, "no JWT secret configured; admin tokens will not survive a restart")
	}

	hub := websocket.NewHub()
	a, err := newApp(ctx, cfg, appOptions{
		database:  true,
		redis:     true,
		storage:   true,
		broker:    true,
		observers: []fallback.Observer{websocket.AttemptObserver(hub)},
	})
	if err != nil {
		return err
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	authService := auth.NewService(db.NewAPIKeyRepository(a.db), cfg.Auth.JWTSecret)

	var jobService *jobs.Service
	if a.cache != nil {
		jobService = jobs.NewService(a.cache.Client(), jobs.ResolveProcessor(a.resolver), &jobs.WorkerPoolConfig{
			WorkerCount: cfg.Jobs.Workers,
			MaxRetries:  cfg.Jobs.MaxRetries,
			JobTimeout:  cfg.Jobs.Timeout,
		})
		jobService.Start()
	} else {
		log.Warn(ctx, "redis not configured; result cache and async jobs are disabled")
	}

	routerCfg := &api.Config{
		Resolver:       a.resolver,
		Detector:       a.resolver.Detector(),
		MethodHealth:   a.health,
		Auth:           authService,
		Cookies:        a.cookies,
		Health:         health.NewHandler(health.NewChecker(a.healthConfig())),
		Metrics:        a.metrics,
		AllowedOrigins: allowedOrigins,
	}
	// typed nils must stay out of the interface fields
	var subscriber websocket.JobSubscriber
	if jobService != nil {
		routerCfg.Jobs = jobService
		subscriber = jobService
	}
	if a.storage != nil {
		routerCfg.Snapshots = a.storage
	}
	routerCfg.WebSocket = websocket.NewHandler(hub, subscriber)

	go reportGauges(hubCtx, a, hub, jobService)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting server", map[string]any{
			"addr":    cfg.Server.Addr,
			"version": version,
			"methods": len(a.methodNames()),
			"jobs":    jobService != nil,
			"storage": a.storage != nil,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			a.Close(context.Background())
			return err
		}
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down", map[string]any{"timeout": cfg.Server.ShutdownTimeout.String()})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	errs = append(errs, srv.Shutdown(shutdownCtx))
	if jobService != nil {
		errs = append(errs, jobService.Stop(shutdownCtx))
	}
	stopHub()
	errs = append(errs, a.Close(shutdownCtx))
	return errors.Join(errs...)
}

// healthConfig lists the dependency probes. Postgres and Redis are
// required; object storage and yt-dlp only degrade the service.
func (a *app) healthConfig() *health.CheckerConfig {
	probes := []health.Probe{
		{Name: "database", Required: true, Check: a.db.PingContext},
	}
	if a.cache != nil {
		probes = append(probes, health.Probe{Name: "redis", Required: true, Check: a.cache.Ping})
	}
	if a.storage != nil {
		probes = append(probes, health.Probe{Name: "storage", Check: a.storage.Ping})
	}
	probes = append(probes, health.Probe{Name: "ytdlp", Check: func(ctx context.Context) error {
		_, err := a.runner.Version(ctx)
		return err
	}})

	return &health.CheckerConfig{
		Probes:      probes,
		Methods:     a.health,
		MethodNames: a.methodNames(),
		Version:     version,
	}
}

func reportGauges(ctx context.Context, a *app, hub *websocket.Hub, jobService *jobs.Service) {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.metrics.SetWSConnections(hub.TotalClients())
			if jobService == nil {
				continue
			}
			if n, err := jobService.QueueLength(ctx); err == nil {
				a.metrics.SetJobQueueLength(n)
			}
		}
	}
}
