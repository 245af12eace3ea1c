// Command opshub runs the notification dispatch service: the HTTP API, the
// tracking endpoints, and the periodic producer jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/opshub/modules/notifications"
	"github.com/dmitrymomot/opshub/pkg/config"
	"github.com/dmitrymomot/opshub/pkg/dispatchjobs"
	"github.com/dmitrymomot/opshub/pkg/email"
	"github.com/dmitrymomot/opshub/pkg/httpserver"
	"github.com/dmitrymomot/opshub/pkg/jobs"
	"github.com/dmitrymomot/opshub/pkg/logger"
	notify "github.com/dmitrymomot/opshub/pkg/notifications"
	"github.com/dmitrymomot/opshub/pkg/notifications/fcm"
	"github.com/dmitrymomot/opshub/pkg/notifications/pgstore"
	"github.com/dmitrymomot/opshub/pkg/pg"
	"github.com/dmitrymomot/opshub/pkg/redis"
	"github.com/dmitrymomot/opshub/pkg/requestid"
)

type appConfig struct {
	Env                string        `env:"APP_ENV" envDefault:"development"`
	ServiceName        string        `env:"SERVICE_NAME" envDefault:"opshub"`
	PublicBaseURL      string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	DefaultLocale      string        `env:"DEFAULT_LOCALE" envDefault:"es"`
	SendTimeout        time.Duration `env:"SEND_TIMEOUT" envDefault:"10s"`
	SendMaxConcurrency int           `env:"SEND_MAX_CONCURRENCY" envDefault:"32"`
	TrackingTTL        time.Duration `env:"TRACKING_TTL" envDefault:"720h"`
	AuthUserHeader     string        `env:"AUTH_USER_HEADER" envDefault:"X-User-ID"`
	WebhookToken       string        `env:"WEBHOOK_TOKEN"`
	EmailFooter        string        `env:"EMAIL_FOOTER"`
	DistributedLocks   bool          `env:"JOB_DISTRIBUTED_LOCKS" envDefault:"true"`
}

type configs struct {
	app   appConfig
	pg    pg.Config
	redis redis.Config
	email email.Config
	fcm   fcm.Config
	http  httpserver.Config
	jobs  dispatchjobs.Config
}

func loadConfigs() (configs, error) {
	var c configs
	loaders := []struct {
		name string
		load func() error
	}{
		{"app", func() error { return config.Load(&c.app) }},
		{"pg", func() error { return config.Load(&c.pg) }},
		{"redis", func() error { return config.Load(&c.redis) }},
		{"email", func() error { return config.Load(&c.email) }},
		{"fcm", func() error { return config.Load(&c.fcm) }},
		{"http", func() error { return config.Load(&c.http) }},
		{"jobs", func() error { return config.Load(&c.jobs) }},
	}
	for _, l := range loaders {
		if err := l.load(); err != nil {
			return c, fmt.Errorf("load %s config: %w", l.name, err)
		}
	}
	return c, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("opshub stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfigs()
	if err != nil {
		return err
	}

	log := logger.New(
		logger.WithEnvironment(cfg.app.Env, cfg.app.ServiceName),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	slog.SetDefault(log)

	pool, err := pg.Connect(ctx, cfg.pg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.pg, pgstore.Migrations, log); err != nil {
		return err
	}

	store := pgstore.New(pool)
	catalog, err := notify.SeedCatalog(ctx, store)
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}

	rdb, err := redis.Connect(ctx, cfg.redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	mailer, err := newMailer(cfg.email, log)
	if err != nil {
		return err
	}
	push, err := newPushTransport(cfg.fcm, log)
	if err != nil {
		return err
	}

	renderer := notify.NewRenderer(store,
		notify.WithFallbacks(catalog.Fallbacks()),
		notify.WithDefaultLocale(cfg.app.DefaultLocale),
		notify.WithRendererLogger(log),
	)
	tracker := notify.NewTracker(store,
		notify.WithTrackingTTL(cfg.app.TrackingTTL),
		notify.WithTrackerLogger(log),
	)
	engine := notify.NewEngine(store, tracker, notify.NewPreferenceResolver(store),
		notify.WithSender(notify.NewInAppChannel(renderer)),
		notify.WithSender(notify.NewEmailChannel(mailer, renderer, cfg.app.PublicBaseURL,
			notify.WithEmailFooter(cfg.app.EmailFooter),
		)),
		notify.WithSender(notify.NewPushChannel(push, store, renderer, notify.WithPushLogger(log))),
		notify.WithDirectory(pgstore.NewDirectory(pool)),
		notify.WithSendTimeout(cfg.app.SendTimeout),
		notify.WithMaxConcurrency(cfg.app.SendMaxConcurrency),
		notify.WithEngineLogger(log),
	)

	api := notifications.New(notifications.Deps{
		Engine:      engine,
		Tracker:     tracker,
		Inbox:       notify.NewInboxService(store, tracker, notify.WithInboxLogger(log)),
		Preferences: notify.NewPreferenceService(store, store),
		Devices:     store,
		Deliveries:  store,
		Recipients:  store,
	},
		notifications.WithUserHeader(cfg.app.AuthUserHeader),
		notifications.WithWebhookToken(cfg.app.WebhookToken),
		notifications.WithLogger(log),
	)

	runnerOpts := []jobs.Option{jobs.WithLogger(log)}
	if cfg.app.DistributedLocks {
		runnerOpts = append(runnerOpts, jobs.WithLocker(jobs.NewRedisLocker(rdb)))
	}
	runner := jobs.NewRunner(runnerOpts...)
	sources := pgstore.NewSources(pool)
	if err := dispatchjobs.Register(runner, cfg.jobs, dispatchjobs.Deps{
		Raiser:     engine,
		Dispatcher: engine,
		Reconciler: tracker,
		Attendance: sources,
		Onboarding: sources,
		Reminders:  sources,
	}, dispatchjobs.WithLogger(log)); err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Use(requestid.Middleware)
	router.Get("/health/live", httpserver.HealthCheckHandler(log))
	router.Get("/health/ready", httpserver.HealthCheckHandler(log, pg.Healthcheck(pool), redis.Healthcheck(rdb)))
	router.Mount("/", api.Handle())

	log.InfoContext(ctx, "opshub starting",
		slog.String("base_url", cfg.app.PublicBaseURL),
		slog.Any("jobs", runner.Names()),
		slog.Bool("postmark", cfg.email.Enabled()),
		slog.Bool("fcm", cfg.fcm.Enabled()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.New(cfg.http, httpserver.WithLogger(log)).Run(gctx, router)
	})
	g.Go(func() error {
		return runner.Start(gctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newMailer(cfg email.Config, log *slog.Logger) (email.EmailSender, error) {
	if cfg.Enabled() {
		return email.NewPostmarkClient(cfg)
	}
	log.Warn("postmark credentials missing, writing emails to disk", slog.String("dir", cfg.DevDir))
	return email.NewDevSender(cfg.DevDir), nil
}

func newPushTransport(cfg fcm.Config, log *slog.Logger) (notify.PushTransport, error) {
	if cfg.Enabled() {
		return fcm.New(cfg)
	}
	log.Warn("fcm server key missing, push deliveries are simulated")
	return fcm.NewDevTransport(log), nil
}
