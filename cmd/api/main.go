package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talep/internal/api"
	"talep/internal/config"
	"talep/internal/database"
	"talep/internal/domain"
	"talep/internal/events"
	"talep/internal/google"
	"talep/internal/logging"
	"talep/internal/metrics"
	"talep/internal/notify"
	"talep/internal/postgres"
	"talep/internal/repository"
	"talep/internal/service"
	"talep/internal/timezone"
	"talep/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// storeBackend is a repository that can answer readiness probes.
type storeBackend interface {
	domain.Repository
	PingContext(ctx context.Context) error
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	tz, err := timezone.New(cfg.Timezone.UTCOffset)
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()
	startMetrics(ctx, cfg, &logger)

	store, sqliteDB, err := initStore(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer store.Close()

	resources := service.NewResourceService(store, &logger)
	if err := resources.Seed(ctx, cfg.Resources); err != nil {
		return err
	}
	users := service.NewUserService(store, cfg.Admins, &logger)

	redisClient := initRedis(ctx, cfg, &logger)
	defer repository.Close(redisClient)
	locker := initLocker(cfg, redisClient, &logger)

	eventBus := events.NewEventBus(&logger)

	if publisher := initRabbit(cfg, &logger); publisher != nil {
		publisher.Forward(eventBus)
		go publisher.Start(ctx)
		defer publisher.Close()
	}

	if dispatcher := initNotifications(cfg, users, tz, &logger); dispatcher != nil {
		dispatcher.Subscribe(eventBus)
		dispatcher.Start(ctx)
		defer dispatcher.Stop()
	}

	if sheetsWorker := initSheets(ctx, cfg, store, redisClient, tz, &logger); sheetsWorker != nil {
		sheetsWorker.Subscribe(eventBus)
		go sheetsWorker.Start(ctx)
	}

	if sqliteDB != nil && cfg.Backup.Enabled {
		backupService := database.NewBackupService(sqliteDB, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	reservations := service.NewReservationService(
		store,
		resources,
		locker,
		eventBus,
		domain.SystemClock{},
		tz,
		cfg.Reservations,
		&logger,
	)

	httpServer := api.NewHTTPServer(cfg.API, reservations, resources, users, tz, &logger)
	httpServer.SetReadinessCheck(store.PingContext)

	return serve(ctx, cfg, httpServer, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// initStore opens the configured backend. The SQLite handle is returned
// separately because only SQLite supports file backups.
func initStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (storeBackend, *database.DB, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.Database.Postgres, logger)
		if err != nil {
			logger.Error().Err(err).Str("host", cfg.Database.Postgres.Host).Msg("init postgres")
			return nil, nil, err
		}
		logger.Info().Str("host", cfg.Database.Postgres.Host).Msg("postgres store ready")
		return store, nil, nil
	default:
		db, err := database.NewDB(cfg.Database.Path, logger)
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
			return nil, nil, err
		}
		logger.Info().Str("db_path", cfg.Database.Path).Msg("sqlite store ready")
		return db, db, nil
	}
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

// initLocker prefers the Redis lock so several instances share one view of
// each resource, falling back to process-local locks when Redis fails.
func initLocker(cfg *config.Config, client *redis.Client, logger *zerolog.Logger) domain.ResourceLocker {
	local := repository.NewMemoryLocker(cfg.Locking.WaitTimeout)
	if client == nil {
		return local
	}
	primary := repository.NewRedisLocker(client, cfg.Locking.TTL, cfg.Locking.WaitTimeout)
	return repository.NewFailoverLocker(primary, local, logger)
}

func initRabbit(cfg *config.Config, logger *zerolog.Logger) *events.RabbitPublisher {
	if !cfg.RabbitMQ.Enabled {
		return nil
	}
	publisher, err := events.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq init failed, events stay in-process")
		return nil
	}
	return publisher
}

func initNotifications(cfg *config.Config, users *service.UserService, tz *timezone.Normalizer, logger *zerolog.Logger) *notify.Dispatcher {
	ncfg := cfg.Notifications
	if !ncfg.Enabled {
		return nil
	}

	var channels []notify.Channel
	if ncfg.SMS.URL != "" {
		channels = append(channels, notify.Channel{Name: "sms", Notifier: notify.NewSMSGateway(ncfg.SMS, ncfg.SendTimeout)})
	}
	if ncfg.Telegram.BotToken != "" {
		bot, err := notify.NewTelegramBot(ncfg.Telegram.BotToken, ncfg.Telegram.Debug)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram mirror disabled")
		} else {
			channels = append(channels, notify.Channel{Name: "telegram", Notifier: notify.NewTelegramMirror(bot, ncfg.Telegram.ChatID)})
		}
	}
	if len(channels) == 0 {
		logger.Warn().Msg("notifications enabled but no channel configured")
		return nil
	}

	return notify.NewDispatcher(notify.NewMulti(channels...), users, tz, ncfg, logger)
}

func initSheets(
	ctx context.Context,
	cfg *config.Config,
	store domain.Repository,
	redisClient *redis.Client,
	tz *timezone.Normalizer,
	logger *zerolog.Logger,
) *worker.SheetsWorker {
	if cfg.Google.CredentialsFile == "" || cfg.Google.SpreadsheetID == "" {
		return nil
	}

	sheets, err := google.NewSheetsService(ctx, cfg.Google.CredentialsFile, cfg.Google.SpreadsheetID, cfg.Google.SheetName, tz, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheets.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets connection test failed, continuing without sheets")
		return nil
	}
	go sheets.StartCacheRefresh(ctx, 0)

	w := worker.NewSheetsWorker(store, store, sheets, redisClient, worker.DefaultRetryPolicy(), logger)

	now := time.Now().UTC()
	to := now.AddDate(0, 0, cfg.Reservations.MaxAdvanceDays)
	if err := w.EnqueueSyncRange(ctx, now.AddDate(0, -1, 0), to); err != nil {
		logger.Warn().Err(err).Msg("initial sheet sync not scheduled")
	}

	logger.Info().Str("sheet", cfg.Google.SheetName).Msg("google sheets connected")
	return w
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func serve(ctx context.Context, cfg *config.Config, httpServer *api.HTTPServer, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	if cfg.API.Enabled && cfg.API.HTTP.Enabled {
		go func() {
			errCh <- httpServer.Start()
		}()
		logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")
	} else {
		logger.Warn().Msg("HTTP API is disabled in config; running background workers only")
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
