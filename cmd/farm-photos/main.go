// Точка входа сервиса фотографий ферм.
// Загружает конфигурацию, подключает хранилище записей и Storage Gateway,
// собирает конвейер модерации, запускает очистку по расписанию,
// topologymetrics и HTTP-сервер с JWT middleware модератора.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/farm-photos/internal/api/handlers"
	"github.com/bigkaa/farm-photos/internal/api/middleware"
	"github.com/bigkaa/farm-photos/internal/config"
	"github.com/bigkaa/farm-photos/internal/database"
	"github.com/bigkaa/farm-photos/internal/notify"
	"github.com/bigkaa/farm-photos/internal/policy"
	"github.com/bigkaa/farm-photos/internal/ratelimit"
	"github.com/bigkaa/farm-photos/internal/repository"
	"github.com/bigkaa/farm-photos/internal/scoring"
	"github.com/bigkaa/farm-photos/internal/server"
	"github.com/bigkaa/farm-photos/internal/service"
	"github.com/bigkaa/farm-photos/internal/storage"
	"github.com/bigkaa/farm-photos/internal/storage/blobstore"
	"github.com/bigkaa/farm-photos/internal/storage/filestore"
	"github.com/bigkaa/farm-photos/internal/storage/s3store"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Farm Photos запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store", cfg.StoreBackend),
		slog.String("storage", cfg.StorageBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. PostgreSQL: миграции и пул соединений
	var (
		db       *database.DB
		pool     *pgxpool.Pool
		checkers []handlers.ReadinessChecker
	)
	if cfg.StoreBackend == config.BackendPostgres {
		db, err = database.Open(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подготовки PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer db.Close()
		pool = db.Pool
		checkers = append(checkers, db)
	}

	// 4. Хранилище записей
	var repo repository.PhotoRepository
	if pool != nil {
		repo = repository.NewPostgresRepository(pool)
	} else {
		logger.Warn("Записи хранятся в памяти и теряются при перезапуске")
		repo = repository.NewMemoryRepository()
	}
	cache := service.NewPhotoCache(cfg.CacheSize, cfg.CacheTTL)
	records := service.NewRecords(repo, cache)

	// 5. Storage Gateway
	gateway, err := buildGateway(ctx, cfg)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища фотографий",
			slog.String("backend", cfg.StorageBackend),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// 6. Лимиты отправок
	counterStore, closeCounters, err := buildCounterStore(ctx, cfg, pool)
	if err != nil {
		logger.Error("Ошибка инициализации счётчиков лимитов", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeCounters()
	limiter, err := ratelimit.New(counterStore, ratelimit.Limits{PerHour: cfg.HourlyLimit, PerDay: cfg.DailyLimit})
	if err != nil {
		logger.Error("Ошибка создания ограничителя", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 7. Пороги модерации и горячая перезагрузка файла политики
	base := policy.Thresholds{AutoApprove: cfg.AutoApproveThreshold, MinQuality: cfg.MinQualityScore}
	thresholds, err := policy.NewStore(base)
	if err != nil {
		logger.Error("Некорректные пороги модерации", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.PolicyFile != "" {
		watcher, err := policy.NewWatcher(thresholds, cfg.PolicyFile, base, logger)
		if err != nil {
			logger.Error("Ошибка запуска наблюдения за файлом политики",
				slog.String("path", cfg.PolicyFile),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		watcher.Start(ctx)
		defer func() { _ = watcher.Stop() }()
	}

	// 8. Оценщик качества
	scorer, err := buildScorer(cfg, logger)
	if err != nil {
		logger.Error("Ошибка создания оценщика качества", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 9. Уведомления
	publisher, err := buildPublisher(cfg)
	if err != nil {
		logger.Error("Ошибка создания канала уведомлений",
			slog.String("backend", cfg.NotifyBackend),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	dispatcher := notify.NewDispatcher(publisher, cfg.AdminEmail, logger)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Warn("Ошибка закрытия канала уведомлений", slog.String("error", err.Error()))
		}
	}()

	// 10. Services
	deletePolicy := storage.DeletePolicy{
		Attempts:       cfg.GatewayAttempts,
		AttemptTimeout: cfg.GatewayTimeout,
		InitialBackoff: 500 * time.Millisecond,
	}
	validator := service.NewValidator(service.ValidationLimits{
		MaxFileSize:          cfg.MaxFileSize,
		AllowedMimeTypes:     cfg.AllowedMimeTypes,
		MaxDescriptionLength: cfg.MaxDescriptionLength,
	})
	moderationSvc := service.NewModerationService(records, thresholds, scorer, dispatcher, logger)
	ingestSvc := service.NewIngestService(records, validator, limiter, gateway, moderationSvc, dispatcher, deletePolicy, logger)
	retentionSvc := service.NewRetentionService(records, cfg.RecoveryWindow, dispatcher, logger)
	gallerySvc := service.NewGalleryService(records, cache, gateway, logger)

	var locker service.Locker
	if pool != nil {
		locker = database.NewAdvisoryLock(pool, database.PurgeLockKey)
	}
	purgeSvc := service.NewPurgeService(records, gateway, moderationSvc, locker, dispatcher, service.PurgeConfig{
		Schedule:   cfg.PurgeSchedule,
		BatchSize:  cfg.PurgeBatchSize,
		StuckAfter: cfg.StuckAfter,
		Delete:     deletePolicy,
	}, logger)

	// 11. Очистка по расписанию
	if err := purgeSvc.Start(ctx); err != nil {
		logger.Error("Ошибка запуска очистки", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer purgeSvc.Stop()

	// 12. topologymetrics — мониторинг зависимостей (PostgreSQL + оценщик)
	dephealthCfg := service.DephealthConfig{
		ServiceID:     cfg.ServiceID,
		Group:         cfg.DephealthGroup,
		CheckInterval: cfg.DephealthCheckInterval,
	}
	if cfg.ScorerBackend == config.ScorerHTTP {
		dephealthCfg.ScorerURL = cfg.ScorerURL
	}
	if db != nil {
		dephealthCfg.DB = db.SQL()
		dephealthCfg.PgConnURL = database.DependencyURL(cfg)
	}

	var deps handlers.DependencyHealth
	dephealthSvc, err := service.NewDephealthService(dephealthCfg, logger)
	switch {
	case errors.Is(err, service.ErrNoDependencies):
		logger.Info("Внешних зависимостей нет, topologymetrics не запускается")
	case err != nil:
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	default:
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		} else {
			deps = dephealthSvc
			defer dephealthSvc.Stop()
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 13. API handler
	apiHandler := handlers.NewAPIHandler(
		handlers.NewHealthHandler(deps, checkers...),
		ingestSvc,
		gallerySvc,
		moderationSvc,
		retentionSvc,
		purgeSvc,
		handlers.Limits{MaxFileSize: cfg.MaxFileSize},
		logger,
	)

	// 14. JWT middleware модератора
	var jwtAuth *middleware.JWTAuth
	if cfg.JWKSUrl != "" {
		jwtAuth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			CACertPath:      cfg.JWKSCACert,
			Issuer:          cfg.JWTIssuer,
			ClientTimeout:   cfg.JWKSClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWKSUrl),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("FP_JWKS_URL не задан, поверхность модератора доступна без аутентификации")
	}

	// 15. HTTP-сервер
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Farm Photos остановлен")
}

// buildGateway создаёт Storage Gateway выбранного backend.
func buildGateway(ctx context.Context, cfg *config.Config) (storage.Gateway, error) {
	switch cfg.StorageBackend {
	case config.StorageS3:
		return s3store.New(s3store.Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
	case config.StorageAzure:
		return blobstore.New(ctx, cfg.AzureConnectionString, cfg.AzureContainer)
	default:
		return filestore.New(cfg.DataDir)
	}
}

// buildCounterStore создаёт хранилище счётчиков лимитов.
// Возвращаемая функция освобождает соединения backend.
func buildCounterStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (ratelimit.CounterStore, func(), error) {
	switch cfg.RateLimitBackend {
	case config.BackendPostgres:
		return ratelimit.NewPostgresStore(pool), func() {}, nil
	case config.BackendRedis:
		client, err := ratelimit.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return ratelimit.NewRedisStore(client, "farmphotos:ratelimit"), func() { _ = client.Close() }, nil
	default:
		return ratelimit.NewMemoryStore(), func() {}, nil
	}
}

// buildScorer создаёт оценщик качества. HTTP-оценщик оборачивается
// в повторы с таймаутом на попытку.
func buildScorer(cfg *config.Config, logger *slog.Logger) (scoring.Scorer, error) {
	if cfg.ScorerBackend != config.ScorerHTTP {
		return scoring.Static{Value: cfg.StaticScore}, nil
	}
	httpScorer, err := scoring.NewHTTPScorer(cfg.ScorerURL, cfg.ScorerCACert, logger)
	if err != nil {
		return nil, err
	}
	return scoring.NewRetrying(httpScorer, scoring.RetryPolicy{
		Attempts:        cfg.ScoringAttempts,
		InitialInterval: cfg.ScoringBackoff,
		AttemptTimeout:  cfg.ScoringTimeout,
	}, logger), nil
}

// buildPublisher создаёт канал доставки уведомлений.
func buildPublisher(cfg *config.Config) (notify.Publisher, error) {
	switch cfg.NotifyBackend {
	case config.NotifyFile:
		return notify.NewOutbox(cfg.NotifyOutboxPath)
	case config.NotifyAMQP:
		return notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	case config.NotifyKafka:
		return notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return notify.Noop{}, nil
	}
}
