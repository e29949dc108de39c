// Пакет config — загрузка и валидация конфигурации сервиса фотографий ферм
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые значения backend-параметров.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"

	StorageLocal = "local"
	StorageS3    = "s3"
	StorageAzure = "azure"

	ScorerStatic = "static"
	ScorerHTTP   = "http"

	NotifyNone  = "none"
	NotifyFile  = "file"
	NotifyAMQP  = "amqp"
	NotifyKafka = "kafka"
)

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Идентификатор экземпляра (вершина графа в topologymetrics)
	ServiceID string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Путь к TLS сертификату (опционально)
	TLSCert string
	// Путь к TLS приватному ключу (опционально)
	TLSKey string

	// --- Валидация ---

	// Максимальный размер фотографии в байтах
	MaxFileSize int64
	// Допустимые MIME-типы
	AllowedMimeTypes []string
	// Максимальная длина описания в символах
	MaxDescriptionLength int

	// --- Модерация ---

	// Порог автоматической публикации
	AutoApproveThreshold int
	// Минимальная оценка качества (ниже — отклонение)
	MinQualityScore int
	// YAML-файл с порогами, перечитывается при изменении (опционально)
	PolicyFile string

	// --- Оценка качества ---

	// Реализация оценщика: static или http
	ScorerBackend string
	// URL HTTP-оценщика
	ScorerURL string
	// Путь к CA-сертификату HTTP-оценщика (опционально)
	ScorerCACert string
	// Оценка, которую возвращает static-оценщик
	StaticScore int
	// Таймаут одной попытки оценки
	ScoringTimeout time.Duration
	// Количество попыток оценки до перехода в ручную модерацию
	ScoringAttempts int
	// Начальный интервал backoff между попытками
	ScoringBackoff time.Duration

	// --- Ограничение частоты ---

	// Backend счётчиков: memory, postgres, redis
	RateLimitBackend string
	// Лимит отправок в час на отправителя
	HourlyLimit int
	// Лимит отправок в сутки на отправителя
	DailyLimit int
	// Адрес Redis (host:port)
	RedisAddr string
	// Пароль Redis
	RedisPassword string
	// Номер базы Redis
	RedisDB int

	// --- Хранение и очистка ---

	// Окно восстановления после мягкого удаления
	RecoveryWindow time.Duration
	// Расписание очистки (формат robfig/cron, например "@every 1h")
	PurgeSchedule string
	// Максимум записей за один проход очистки
	PurgeBatchSize int
	// Через сколько зависшая в received/scoring запись уходит в ручную модерацию
	StuckAfter time.Duration

	// --- Хранилище записей ---

	// Backend записей: memory или postgres
	StoreBackend string
	DBHost       string
	DBPort       int
	DBName       string
	DBUser       string
	DBPassword   string
	DBSSLMode    string

	// --- Storage Gateway ---

	// Backend байтов: local, s3, azure
	StorageBackend string
	// Директория для local backend
	DataDir string
	// Параметры S3
	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string
	// Параметры Azure Blob Storage
	AzureConnectionString string
	AzureContainer        string
	// Таймаут одной операции с хранилищем
	GatewayTimeout time.Duration
	// Количество попыток удаления байтов при очистке
	GatewayAttempts int

	// --- Уведомления ---

	// Backend уведомлений: none, file, amqp, kafka
	NotifyBackend string
	// Путь к outbox-файлу (JSON lines)
	NotifyOutboxPath string
	// URL RabbitMQ
	AMQPURL string
	// Exchange RabbitMQ
	AMQPExchange string
	// Брокеры Kafka
	KafkaBrokers []string
	// Топик Kafka
	KafkaTopic string
	// Адрес администратора для уведомлений о новых фотографиях
	AdminEmail string

	// --- Аутентификация модераторов ---

	// URL JWKS endpoint (пусто — модерация без аутентификации, только для разработки)
	JWKSUrl string
	// Путь к CA-сертификату JWKS endpoint (опционально)
	JWKSCACert string
	// Ожидаемый issuer JWT (пусто — не проверяется)
	JWTIssuer string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления ключей JWKS
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Кэш опубликованных фотографий ---

	CacheSize int
	CacheTTL  time.Duration

	// --- HTTP ---

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// FP_PORT — порт HTTP-сервера (по умолчанию 8020)
	cfg.Port, err = getEnvInt("FP_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("FP_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FP_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.ServiceID = getEnvDefault("FP_SERVICE_ID", "farm-photos")

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FP_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FP_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("FP_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FP_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.TLSCert = getEnvDefault("FP_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("FP_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("FP_TLS_CERT и FP_TLS_KEY задаются только вместе")
	}

	if err := loadValidation(cfg); err != nil {
		return nil, err
	}
	if err := loadModeration(cfg); err != nil {
		return nil, err
	}
	if err := loadRateLimit(cfg); err != nil {
		return nil, err
	}
	if err := loadRetention(cfg); err != nil {
		return nil, err
	}
	if err := loadStore(cfg); err != nil {
		return nil, err
	}
	if err := loadStorage(cfg); err != nil {
		return nil, err
	}
	if err := loadNotify(cfg); err != nil {
		return nil, err
	}
	if err := loadHTTP(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadValidation — ограничения на файл и описание.
func loadValidation(cfg *Config) error {
	var err error

	// FP_MAX_FILE_SIZE — по умолчанию 5 MiB
	cfg.MaxFileSize, err = getEnvInt64("FP_MAX_FILE_SIZE", 5*1024*1024)
	if err != nil {
		return fmt.Errorf("FP_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return fmt.Errorf("FP_MAX_FILE_SIZE: значение должно быть положительным")
	}

	cfg.AllowedMimeTypes = getEnvList("FP_ALLOWED_MIME_TYPES", []string{"image/jpeg", "image/png", "image/webp"})
	if len(cfg.AllowedMimeTypes) == 0 {
		return fmt.Errorf("FP_ALLOWED_MIME_TYPES: список не может быть пустым")
	}

	cfg.MaxDescriptionLength, err = getEnvInt("FP_MAX_DESCRIPTION_LENGTH", 500)
	if err != nil {
		return fmt.Errorf("FP_MAX_DESCRIPTION_LENGTH: %w", err)
	}
	if cfg.MaxDescriptionLength < 0 {
		return fmt.Errorf("FP_MAX_DESCRIPTION_LENGTH: значение не может быть отрицательным")
	}
	return nil
}

// loadModeration — пороги и параметры оценщика.
func loadModeration(cfg *Config) error {
	var err error

	cfg.AutoApproveThreshold, err = getEnvInt("FP_AUTO_APPROVE_THRESHOLD", 85)
	if err != nil {
		return fmt.Errorf("FP_AUTO_APPROVE_THRESHOLD: %w", err)
	}
	cfg.MinQualityScore, err = getEnvInt("FP_MIN_QUALITY_SCORE", 50)
	if err != nil {
		return fmt.Errorf("FP_MIN_QUALITY_SCORE: %w", err)
	}
	if err := ValidateThresholds(cfg.AutoApproveThreshold, cfg.MinQualityScore); err != nil {
		return err
	}

	cfg.PolicyFile = getEnvDefault("FP_POLICY_FILE", "")

	cfg.ScorerBackend = getEnvDefault("FP_SCORER", ScorerStatic)
	switch cfg.ScorerBackend {
	case ScorerStatic:
	case ScorerHTTP:
		cfg.ScorerURL, err = getEnvRequired("FP_SCORER_URL")
		if err != nil {
			return err
		}
		cfg.ScorerCACert = getEnvDefault("FP_SCORER_CA_CERT", "")
	default:
		return fmt.Errorf("FP_SCORER: недопустимое значение %q, допустимые: static, http", cfg.ScorerBackend)
	}

	cfg.StaticScore, err = getEnvInt("FP_STATIC_SCORE", 70)
	if err != nil {
		return fmt.Errorf("FP_STATIC_SCORE: %w", err)
	}
	if cfg.StaticScore < 0 || cfg.StaticScore > 100 {
		return fmt.Errorf("FP_STATIC_SCORE: значение %d вне диапазона 0-100", cfg.StaticScore)
	}

	cfg.ScoringTimeout, err = getEnvDuration("FP_SCORING_TIMEOUT", 10*time.Second)
	if err != nil {
		return fmt.Errorf("FP_SCORING_TIMEOUT: %w", err)
	}
	cfg.ScoringAttempts, err = getEnvInt("FP_SCORING_ATTEMPTS", 3)
	if err != nil {
		return fmt.Errorf("FP_SCORING_ATTEMPTS: %w", err)
	}
	if cfg.ScoringAttempts < 1 {
		return fmt.Errorf("FP_SCORING_ATTEMPTS: требуется хотя бы одна попытка")
	}
	cfg.ScoringBackoff, err = getEnvDuration("FP_SCORING_BACKOFF", 500*time.Millisecond)
	if err != nil {
		return fmt.Errorf("FP_SCORING_BACKOFF: %w", err)
	}

	cfg.DephealthCheckInterval, err = getEnvDuration("FP_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return fmt.Errorf("FP_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("FP_DEPHEALTH_GROUP", "farm-photos")
	return nil
}

// loadRateLimit — лимиты отправок и backend счётчиков.
func loadRateLimit(cfg *Config) error {
	var err error

	cfg.HourlyLimit, err = getEnvInt("FP_MAX_SUBMISSIONS_PER_HOUR", 10)
	if err != nil {
		return fmt.Errorf("FP_MAX_SUBMISSIONS_PER_HOUR: %w", err)
	}
	cfg.DailyLimit, err = getEnvInt("FP_MAX_SUBMISSIONS_PER_DAY", 50)
	if err != nil {
		return fmt.Errorf("FP_MAX_SUBMISSIONS_PER_DAY: %w", err)
	}
	if cfg.HourlyLimit <= 0 || cfg.DailyLimit <= 0 {
		return fmt.Errorf("FP_MAX_SUBMISSIONS_PER_HOUR/DAY: значения должны быть положительными")
	}
	if cfg.HourlyLimit > cfg.DailyLimit {
		return fmt.Errorf("FP_MAX_SUBMISSIONS_PER_HOUR (%d) не может превышать FP_MAX_SUBMISSIONS_PER_DAY (%d)",
			cfg.HourlyLimit, cfg.DailyLimit)
	}

	cfg.RateLimitBackend = getEnvDefault("FP_RATE_LIMIT_BACKEND", BackendMemory)
	switch cfg.RateLimitBackend {
	case BackendMemory, BackendPostgres:
	case BackendRedis:
		cfg.RedisAddr, err = getEnvRequired("FP_REDIS_ADDR")
		if err != nil {
			return err
		}
		cfg.RedisPassword = getEnvDefault("FP_REDIS_PASSWORD", "")
		cfg.RedisDB, err = getEnvInt("FP_REDIS_DB", 0)
		if err != nil {
			return fmt.Errorf("FP_REDIS_DB: %w", err)
		}
	default:
		return fmt.Errorf("FP_RATE_LIMIT_BACKEND: недопустимое значение %q, допустимые: memory, postgres, redis",
			cfg.RateLimitBackend)
	}
	return nil
}

// loadRetention — окно восстановления и расписание очистки.
func loadRetention(cfg *Config) error {
	var err error

	// FP_RECOVERY_WINDOW — по умолчанию 30 дней
	cfg.RecoveryWindow, err = getEnvDuration("FP_RECOVERY_WINDOW", 30*24*time.Hour)
	if err != nil {
		return fmt.Errorf("FP_RECOVERY_WINDOW: %w", err)
	}
	if cfg.RecoveryWindow <= 0 {
		return fmt.Errorf("FP_RECOVERY_WINDOW: значение должно быть положительным")
	}

	cfg.PurgeSchedule = getEnvDefault("FP_PURGE_SCHEDULE", "@every 1h")

	cfg.PurgeBatchSize, err = getEnvInt("FP_PURGE_BATCH_SIZE", 100)
	if err != nil {
		return fmt.Errorf("FP_PURGE_BATCH_SIZE: %w", err)
	}
	if cfg.PurgeBatchSize <= 0 {
		return fmt.Errorf("FP_PURGE_BATCH_SIZE: значение должно быть положительным")
	}

	cfg.StuckAfter, err = getEnvDuration("FP_STUCK_AFTER", 15*time.Minute)
	if err != nil {
		return fmt.Errorf("FP_STUCK_AFTER: %w", err)
	}
	return nil
}

// loadStore — хранилище записей.
func loadStore(cfg *Config) error {
	var err error

	cfg.StoreBackend = getEnvDefault("FP_STORE_BACKEND", BackendPostgres)
	switch cfg.StoreBackend {
	case BackendMemory:
		if cfg.RateLimitBackend == BackendPostgres {
			return fmt.Errorf("FP_RATE_LIMIT_BACKEND=postgres требует FP_STORE_BACKEND=postgres")
		}
		return nil
	case BackendPostgres:
	default:
		return fmt.Errorf("FP_STORE_BACKEND: недопустимое значение %q, допустимые: memory, postgres", cfg.StoreBackend)
	}

	cfg.DBHost = getEnvDefault("FP_DB_HOST", "localhost")
	cfg.DBPort, err = getEnvInt("FP_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("FP_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("FP_DB_NAME", "farm_photos")
	cfg.DBUser = getEnvDefault("FP_DB_USER", "farm_photos")
	cfg.DBPassword, err = getEnvRequired("FP_DB_PASSWORD")
	if err != nil {
		return err
	}
	cfg.DBSSLMode = getEnvDefault("FP_DB_SSL_MODE", "disable")
	return nil
}

// loadStorage — Storage Gateway.
func loadStorage(cfg *Config) error {
	var err error

	cfg.StorageBackend = getEnvDefault("FP_STORAGE_BACKEND", StorageLocal)
	switch cfg.StorageBackend {
	case StorageLocal:
		cfg.DataDir, err = getEnvRequired("FP_DATA_DIR")
		if err != nil {
			return err
		}
	case StorageS3:
		cfg.S3Bucket, err = getEnvRequired("FP_S3_BUCKET")
		if err != nil {
			return err
		}
		cfg.S3Region = getEnvDefault("FP_S3_REGION", "eu-west-2")
		cfg.S3Endpoint = getEnvDefault("FP_S3_ENDPOINT", "")
		cfg.S3Prefix = getEnvDefault("FP_S3_PREFIX", "farm-photos/")
	case StorageAzure:
		cfg.AzureConnectionString, err = getEnvRequired("FP_AZURE_CONNECTION_STRING")
		if err != nil {
			return err
		}
		cfg.AzureContainer = getEnvDefault("FP_AZURE_CONTAINER", "farm-photos")
	default:
		return fmt.Errorf("FP_STORAGE_BACKEND: недопустимое значение %q, допустимые: local, s3, azure", cfg.StorageBackend)
	}

	cfg.GatewayTimeout, err = getEnvDuration("FP_GATEWAY_TIMEOUT", 30*time.Second)
	if err != nil {
		return fmt.Errorf("FP_GATEWAY_TIMEOUT: %w", err)
	}
	cfg.GatewayAttempts, err = getEnvInt("FP_GATEWAY_ATTEMPTS", 3)
	if err != nil {
		return fmt.Errorf("FP_GATEWAY_ATTEMPTS: %w", err)
	}
	if cfg.GatewayAttempts < 1 {
		return fmt.Errorf("FP_GATEWAY_ATTEMPTS: требуется хотя бы одна попытка")
	}
	return nil
}

// loadNotify — уведомления отправителям и администратору.
func loadNotify(cfg *Config) error {
	var err error

	cfg.NotifyBackend = getEnvDefault("FP_NOTIFY_BACKEND", NotifyNone)
	switch cfg.NotifyBackend {
	case NotifyNone:
	case NotifyFile:
		cfg.NotifyOutboxPath, err = getEnvRequired("FP_NOTIFY_OUTBOX_PATH")
		if err != nil {
			return err
		}
	case NotifyAMQP:
		cfg.AMQPURL, err = getEnvRequired("FP_AMQP_URL")
		if err != nil {
			return err
		}
		cfg.AMQPExchange = getEnvDefault("FP_AMQP_EXCHANGE", "farm-photos.events")
	case NotifyKafka:
		cfg.KafkaBrokers = getEnvList("FP_KAFKA_BROKERS", nil)
		if len(cfg.KafkaBrokers) == 0 {
			return fmt.Errorf("FP_KAFKA_BROKERS: обязательная переменная окружения не задана")
		}
		cfg.KafkaTopic = getEnvDefault("FP_KAFKA_TOPIC", "farm-photos.events")
	default:
		return fmt.Errorf("FP_NOTIFY_BACKEND: недопустимое значение %q, допустимые: none, file, amqp, kafka", cfg.NotifyBackend)
	}

	cfg.AdminEmail = getEnvDefault("FP_ADMIN_EMAIL", "")
	return nil
}

// loadHTTP — сервер, аутентификация, кэш.
func loadHTTP(cfg *Config) error {
	var err error

	cfg.JWKSUrl = getEnvDefault("FP_JWKS_URL", "")
	cfg.JWKSCACert = getEnvDefault("FP_JWKS_CA_CERT", "")
	cfg.JWTIssuer = getEnvDefault("FP_JWT_ISSUER", "")
	cfg.JWKSClientTimeout, err = getEnvDuration("FP_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return fmt.Errorf("FP_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("FP_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return fmt.Errorf("FP_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("FP_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return fmt.Errorf("FP_JWT_LEEWAY: %w", err)
	}

	cfg.CacheSize, err = getEnvInt("FP_CACHE_SIZE", 1000)
	if err != nil {
		return fmt.Errorf("FP_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize <= 0 {
		return fmt.Errorf("FP_CACHE_SIZE: значение должно быть положительным")
	}
	cfg.CacheTTL, err = getEnvDuration("FP_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return fmt.Errorf("FP_CACHE_TTL: %w", err)
	}

	cfg.ReadTimeout, err = getEnvDuration("FP_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return fmt.Errorf("FP_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.WriteTimeout, err = getEnvDuration("FP_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return fmt.Errorf("FP_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.IdleTimeout, err = getEnvDuration("FP_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return fmt.Errorf("FP_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("FP_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return fmt.Errorf("FP_SHUTDOWN_TIMEOUT: %w", err)
	}
	return nil
}

// ValidateThresholds проверяет пороги модерации: оба в 0..100, min ≤ auto.
// Используется и при загрузке окружения, и при перечитывании policy-файла.
func ValidateThresholds(autoApprove, minQuality int) error {
	if autoApprove < 0 || autoApprove > 100 {
		return fmt.Errorf("порог автопубликации %d вне диапазона 0-100", autoApprove)
	}
	if minQuality < 0 || minQuality > 100 {
		return fmt.Errorf("минимальная оценка %d вне диапазона 0-100", minQuality)
	}
	if minQuality > autoApprove {
		return fmt.Errorf("минимальная оценка (%d) не может превышать порог автопубликации (%d)",
			minQuality, autoApprove)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvList разбирает список через запятую. Пустые элементы отбрасываются.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var result []string
	for _, item := range strings.Split(val, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 720h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
