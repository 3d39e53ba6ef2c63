package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/mediafetch/backend/internal/cache"
	"github.com/mediafetch/backend/internal/config"
	"github.com/mediafetch/backend/internal/db"
	"github.com/mediafetch/backend/internal/events"
	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/extractor/instagram"
	"github.com/mediafetch/backend/internal/extractor/tiktok"
	"github.com/mediafetch/backend/internal/extractor/twitter"
	"github.com/mediafetch/backend/internal/extractor/youtube"
	"github.com/mediafetch/backend/internal/fallback"
	"github.com/mediafetch/backend/internal/httpclient"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/methodhealth"
	"github.com/mediafetch/backend/internal/metrics"
	"github.com/mediafetch/backend/internal/provider"
	"github.com/mediafetch/backend/internal/resolver"
	"github.com/mediafetch/backend/internal/settings"
	"github.com/mediafetch/backend/internal/storage"
	"github.com/mediafetch/backend/internal/ytdlp"
)

const snapshotUploads = 4

// app holds the long-lived collaborators shared by the commands. Fields
// other than cfg, health, metrics, runner and resolver are nil when the
// backing service is not configured.
type app struct {
	cfg *config.Config

	db        *db.DB
	cache     *cache.Cache
	storage   *storage.Client
	snapshots *storage.SnapshotSink
	cookies   *settings.Cookies
	broker    events.Publisher
	events    events.Publisher

	runner   *ytdlp.ExecRunner
	health   *methodhealth.Checker
	metrics  *metrics.Metrics
	resolver *resolver.Service
}

// appOptions selects which backing services a command needs
type appOptions struct {
	database bool
	redis    bool
	storage  bool
	broker   bool
	// observers are attached to the orchestrator next to the metrics
	observers []fallback.Observer
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{
		cfg:     cfg,
		runner:  ytdlp.NewExecRunner(cfg.Ytdlp.Path),
		metrics: metrics.Default(),
	}

	if opts.database {
		database, err := db.New(db.DSN(cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode))
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		a.db = database
		if err := database.Migrate(); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	if opts.redis && cfg.Redis.URL != "" {
		c, err := cache.New(cfg.Redis.URL)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.cache = c
	}

	if opts.storage && cfg.Storage.Enabled {
		a.openStorage(ctx)
	}

	a.openEvents(opts.broker)

	fallbackCookies := extractor.StaticCookies{
		media.ProviderYouTube:   cfg.Cookies.YouTube,
		media.ProviderInstagram: cfg.Cookies.Instagram,
		media.ProviderTikTok:    cfg.Cookies.TikTok,
		media.ProviderTwitter:   cfg.Cookies.Twitter,
	}
	var store settings.Store
	if a.db != nil {
		store = db.NewSettingsRepository(a.db)
	}
	a.cookies = settings.NewCookies(store, fallbackCookies, cfg.Cookies.CacheTTL)

	a.health = methodhealth.NewChecker(&methodhealth.Config{
		FailureThreshold: cfg.Health.FailureThreshold,
		Cooldown:         cfg.Health.Cooldown,
	})
	a.health.OnStateChange(a.methodStateChanged)

	if err := a.buildResolver(opts.observers); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) openStorage(ctx context.Context) {
	scfg := &storage.Config{
		Endpoint:  a.cfg.Storage.Endpoint,
		AccessKey: a.cfg.Storage.AccessKey,
		SecretKey: a.cfg.Storage.SecretKey,
		Bucket:    a.cfg.Storage.Bucket,
		Region:    a.cfg.Storage.Region,
		UseSSL:    a.cfg.Storage.UseSSL,
	}
	client, err := storage.New(scfg)
	if err != nil {
		log.Warn(ctx, "object storage disabled", map[string]any{"error": err.Error()})
		return
	}
	if err := client.EnsureBucket(ctx); err != nil {
		// uploads fail soft; the health probe reports the outage
		log.Warn(ctx, "could not ensure snapshot bucket", map[string]any{"bucket": scfg.Bucket, "error": err.Error()})
	}
	a.storage = client
	a.snapshots = storage.NewSnapshotSink(storage.NewS3Client(scfg), scfg.Bucket, snapshotUploads)
}

// openEvents builds the event fanout: metrics always, the broker when
// configured and reachable
func (a *app) openEvents(broker bool) {
	fanout := events.Fanout{a.metrics}
	if broker && a.cfg.RabbitMQ.URL != "" {
		rp, err := events.NewRabbitPublisher(events.Config{URL: a.cfg.RabbitMQ.URL, Exchange: a.cfg.RabbitMQ.Exchange})
		if err != nil {
			log.Warn(context.Background(), "event publishing disabled", map[string]any{"error": err.Error()})
		} else {
			a.broker = events.NewAsync(rp, 0)
			fanout = append(fanout, a.broker)
		}
	}
	a.events = fanout
}

func (a *app) methodStateChanged(method string, state methodhealth.State) {
	key := events.KeyMethodEnabled
	if state == methodhealth.StateDisabled {
		key = events.KeyMethodDisabled
	}
	a.events.Publish(context.Background(), key, events.MethodStateChanged{
		Method: method,
		State:  string(state),
		At:     time.Now().UTC(),
	})
}

func (a *app) buildResolver(observers []fallback.Observer) error {
	cfg := a.cfg
	httpClient := httpclient.New(nil)
	ytcfg := &ytdlp.Config{
		BinaryPath:         cfg.Ytdlp.Path,
		CookiesFile:        cfg.Ytdlp.CookiesFile,
		CookiesFromBrowser: cfg.Ytdlp.CookiesFromBrowser,
		SocketTimeout:      cfg.Ytdlp.SocketTimeout,
	}
	// a nil *SnapshotSink must not become a non-nil interface
	var sink extractor.DiagnosticSink
	if a.snapshots != nil {
		sink = a.snapshots
	}

	chains, err := resolver.BuildChains(resolver.ChainConfig{
		YouTube: youtube.Config{
			HTTP: httpClient, Runner: a.runner, Ytdlp: ytcfg, Cookies: a.cookies, Sink: sink,
			APIKey: cfg.YouTube.APIKey,
		},
		Instagram: instagram.Config{
			HTTP: httpClient, Runner: a.runner, Ytdlp: ytcfg, Cookies: a.cookies, Sink: sink,
			ChromePath: cfg.Insta.ChromePath,
		},
		TikTok: tiktok.Config{
			HTTP: httpClient, Runner: a.runner, Ytdlp: ytcfg, Cookies: a.cookies, Sink: sink,
			BrowserHTTP: httpclient.New(&httpclient.Config{BrowserTLS: true}),
		},
		Twitter: twitter.Config{
			HTTP: httpClient, Runner: a.runner, Ytdlp: ytcfg, Cookies: a.cookies, Sink: sink,
			BearerToken: cfg.Twitter.BearerToken,
			QueryID:     cfg.Twitter.QueryID,
			Denylist:    append(slices.Clone(twitter.DefaultDenylist), cfg.Twitter.Denylist...),
		},
		Timeouts: resolver.Timeouts{
			YouTube:   cfg.Timeouts.YouTube,
			Instagram: cfg.Timeouts.Instagram,
			TikTok:    cfg.Timeouts.TikTok,
			Twitter:   cfg.Timeouts.Twitter,
		},
	})
	if err != nil {
		return err
	}

	observer := fallback.Observers(append([]fallback.Observer{a.metrics}, observers...)...)
	scfg := &resolver.ServiceConfig{
		Detector:     provider.DefaultDetector(),
		Orchestrator: fallback.New(a.health, fallback.WithObserver(observer)),
		Chains:       chains,
		CacheTTL:     cfg.Cache.TTL,
		Events:       a.events,
	}
	if a.cache != nil {
		scfg.Cache = a.cache
	}
	if a.db != nil {
		scfg.Log = db.NewResolutionRepository(a.db)
	}
	a.resolver = resolver.NewService(scfg)

	for _, name := range a.methodNames() {
		a.metrics.SetMethodEnabled(name, true)
	}
	return nil
}

// methodNames lists every configured extraction method
func (a *app) methodNames() []string {
	var names []string
	for _, p := range a.resolver.Providers() {
		names = append(names, p.Methods...)
	}
	return names
}

// Close releases the backing services; ctx bounds pending snapshot uploads
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.snapshots != nil {
		errs = append(errs, a.snapshots.Wait(ctx))
	}
	if a.broker != nil {
		errs = append(errs, a.broker.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
