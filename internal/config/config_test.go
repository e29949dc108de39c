package config

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

// allFPEnvVars — все переменные окружения FP_*, которые читает Load.
var allFPEnvVars = []string{
	"FP_PORT", "FP_SERVICE_ID", "FP_LOG_LEVEL", "FP_LOG_FORMAT", "FP_TLS_CERT", "FP_TLS_KEY",
	"FP_MAX_FILE_SIZE", "FP_ALLOWED_MIME_TYPES", "FP_MAX_DESCRIPTION_LENGTH",
	"FP_AUTO_APPROVE_THRESHOLD", "FP_MIN_QUALITY_SCORE", "FP_POLICY_FILE",
	"FP_SCORER", "FP_SCORER_URL", "FP_SCORER_CA_CERT", "FP_STATIC_SCORE", "FP_SCORING_TIMEOUT",
	"FP_SCORING_ATTEMPTS", "FP_SCORING_BACKOFF",
	"FP_DEPHEALTH_CHECK_INTERVAL", "FP_DEPHEALTH_GROUP",
	"FP_MAX_SUBMISSIONS_PER_HOUR", "FP_MAX_SUBMISSIONS_PER_DAY", "FP_RATE_LIMIT_BACKEND",
	"FP_REDIS_ADDR", "FP_REDIS_PASSWORD", "FP_REDIS_DB",
	"FP_RECOVERY_WINDOW", "FP_PURGE_SCHEDULE", "FP_PURGE_BATCH_SIZE", "FP_STUCK_AFTER",
	"FP_STORE_BACKEND", "FP_DB_HOST", "FP_DB_PORT", "FP_DB_NAME", "FP_DB_USER",
	"FP_DB_PASSWORD", "FP_DB_SSL_MODE",
	"FP_STORAGE_BACKEND", "FP_DATA_DIR", "FP_S3_BUCKET", "FP_S3_REGION", "FP_S3_ENDPOINT",
	"FP_S3_PREFIX", "FP_AZURE_CONNECTION_STRING", "FP_AZURE_CONTAINER",
	"FP_GATEWAY_TIMEOUT", "FP_GATEWAY_ATTEMPTS",
	"FP_NOTIFY_BACKEND", "FP_NOTIFY_OUTBOX_PATH", "FP_AMQP_URL", "FP_AMQP_EXCHANGE",
	"FP_KAFKA_BROKERS", "FP_KAFKA_TOPIC", "FP_ADMIN_EMAIL",
	"FP_JWKS_URL", "FP_JWKS_CA_CERT", "FP_JWT_ISSUER", "FP_JWKS_CLIENT_TIMEOUT", "FP_JWKS_REFRESH_INTERVAL",
	"FP_JWT_LEEWAY", "FP_CACHE_SIZE", "FP_CACHE_TTL",
	"FP_HTTP_READ_TIMEOUT", "FP_HTTP_WRITE_TIMEOUT", "FP_HTTP_IDLE_TIMEOUT", "FP_SHUTDOWN_TIMEOUT",
}

// setEnvVars очищает все FP_* переменные, устанавливает переданные
// и восстанавливает исходное окружение по завершении теста.
func setEnvVars(t *testing.T, vars map[string]string) {
	t.Helper()

	originals := make(map[string]string)
	origSet := make(map[string]bool)
	for _, k := range allFPEnvVars {
		if v, ok := os.LookupEnv(k); ok {
			originals[k] = v
			origSet[k] = true
		}
		os.Unsetenv(k)
	}

	for k, v := range vars {
		os.Setenv(k, v)
	}

	t.Cleanup(func() {
		for _, k := range allFPEnvVars {
			if origSet[k] {
				os.Setenv(k, originals[k])
			} else {
				os.Unsetenv(k)
			}
		}
	})
}

// requiredEnvVars возвращает минимальный набор обязательных переменных.
func requiredEnvVars() map[string]string {
	return map[string]string{
		"FP_DB_PASSWORD": "secret",
		"FP_DATA_DIR":    "/tmp/farm-photos",
	}
}

// withVars дополняет минимальный набор переменных.
func withVars(extra map[string]string) map[string]string {
	vars := requiredEnvVars()
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

// TestLoad_Defaults проверяет значения по умолчанию.
func TestLoad_Defaults(t *testing.T) {
	setEnvVars(t, requiredEnvVars())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 8020 {
		t.Errorf("Port = %d, ожидалось 8020", cfg.Port)
	}
	if cfg.MaxFileSize != 5*1024*1024 {
		t.Errorf("MaxFileSize = %d, ожидалось 5 MiB", cfg.MaxFileSize)
	}
	if strings.Join(cfg.AllowedMimeTypes, ",") != "image/jpeg,image/png,image/webp" {
		t.Errorf("AllowedMimeTypes = %v", cfg.AllowedMimeTypes)
	}
	if cfg.MaxDescriptionLength != 500 {
		t.Errorf("MaxDescriptionLength = %d, ожидалось 500", cfg.MaxDescriptionLength)
	}
	if cfg.AutoApproveThreshold != 85 || cfg.MinQualityScore != 50 {
		t.Errorf("пороги = %d/%d, ожидалось 85/50", cfg.AutoApproveThreshold, cfg.MinQualityScore)
	}
	if cfg.HourlyLimit != 10 || cfg.DailyLimit != 50 {
		t.Errorf("лимиты = %d/%d, ожидалось 10/50", cfg.HourlyLimit, cfg.DailyLimit)
	}
	if cfg.RecoveryWindow != 30*24*time.Hour {
		t.Errorf("RecoveryWindow = %v, ожидалось 720h", cfg.RecoveryWindow)
	}
	if cfg.PurgeSchedule != "@every 1h" {
		t.Errorf("PurgeSchedule = %q", cfg.PurgeSchedule)
	}
	if cfg.StoreBackend != BackendPostgres {
		t.Errorf("StoreBackend = %q, ожидалось postgres", cfg.StoreBackend)
	}
	if cfg.StorageBackend != StorageLocal {
		t.Errorf("StorageBackend = %q, ожидалось local", cfg.StorageBackend)
	}
	if cfg.ScorerBackend != ScorerStatic || cfg.ScoringAttempts != 3 {
		t.Errorf("оценщик = %q/%d попыток", cfg.ScorerBackend, cfg.ScoringAttempts)
	}
	if cfg.NotifyBackend != NotifyNone {
		t.Errorf("NotifyBackend = %q, ожидалось none", cfg.NotifyBackend)
	}
	if cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != "json" {
		t.Errorf("логирование = %v/%s", cfg.LogLevel, cfg.LogFormat)
	}
}

// TestLoad_CustomValues проверяет переопределение значений.
func TestLoad_CustomValues(t *testing.T) {
	setEnvVars(t, withVars(map[string]string{
		"FP_PORT":                     "9100",
		"FP_ALLOWED_MIME_TYPES":       "image/jpeg, image/png ,",
		"FP_AUTO_APPROVE_THRESHOLD":   "90",
		"FP_MIN_QUALITY_SCORE":        "40",
		"FP_MAX_SUBMISSIONS_PER_HOUR": "3",
		"FP_MAX_SUBMISSIONS_PER_DAY":  "20",
		"FP_RECOVERY_WINDOW":          "168h",
		"FP_LOG_LEVEL":                "debug",
		"FP_LOG_FORMAT":               "text",
	}))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if len(cfg.AllowedMimeTypes) != 2 || cfg.AllowedMimeTypes[1] != "image/png" {
		t.Errorf("AllowedMimeTypes = %v, ожидалось [image/jpeg image/png]", cfg.AllowedMimeTypes)
	}
	if cfg.AutoApproveThreshold != 90 || cfg.MinQualityScore != 40 {
		t.Errorf("пороги = %d/%d", cfg.AutoApproveThreshold, cfg.MinQualityScore)
	}
	if cfg.HourlyLimit != 3 || cfg.DailyLimit != 20 {
		t.Errorf("лимиты = %d/%d", cfg.HourlyLimit, cfg.DailyLimit)
	}
	if cfg.RecoveryWindow != 7*24*time.Hour {
		t.Errorf("RecoveryWindow = %v", cfg.RecoveryWindow)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "text" {
		t.Errorf("логирование = %v/%s", cfg.LogLevel, cfg.LogFormat)
	}
}

// TestLoad_Invalid проверяет отказ при некорректных значениях.
func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"порт вне диапазона", map[string]string{"FP_PORT": "70000"}},
		{"порт не число", map[string]string{"FP_PORT": "abc"}},
		{"формат логов", map[string]string{"FP_LOG_FORMAT": "xml"}},
		{"уровень логов", map[string]string{"FP_LOG_LEVEL": "trace"}},
		{"только сертификат", map[string]string{"FP_TLS_CERT": "/tmp/cert.pem"}},
		{"порог > 100", map[string]string{"FP_AUTO_APPROVE_THRESHOLD": "101"}},
		{"min > auto", map[string]string{"FP_AUTO_APPROVE_THRESHOLD": "40", "FP_MIN_QUALITY_SCORE": "60"}},
		{"hourly > daily", map[string]string{"FP_MAX_SUBMISSIONS_PER_HOUR": "60"}},
		{"нулевой лимит", map[string]string{"FP_MAX_SUBMISSIONS_PER_DAY": "0"}},
		{"окно восстановления", map[string]string{"FP_RECOVERY_WINDOW": "0s"}},
		{"окно не длительность", map[string]string{"FP_RECOVERY_WINDOW": "30d"}},
		{"неизвестный оценщик", map[string]string{"FP_SCORER": "ml"}},
		{"http без URL", map[string]string{"FP_SCORER": "http"}},
		{"redis без адреса", map[string]string{"FP_RATE_LIMIT_BACKEND": "redis"}},
		{"postgres-лимиты без postgres", map[string]string{
			"FP_RATE_LIMIT_BACKEND": "postgres", "FP_STORE_BACKEND": "memory",
		}},
		{"s3 без бакета", map[string]string{"FP_STORAGE_BACKEND": "s3"}},
		{"kafka без брокеров", map[string]string{"FP_NOTIFY_BACKEND": "kafka"}},
		{"нулевой размер файла", map[string]string{"FP_MAX_FILE_SIZE": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnvVars(t, withVars(tt.vars))
			if _, err := Load(); err == nil {
				t.Error("ожидалась ошибка")
			}
		})
	}
}

// TestLoad_MissingRequired — без пароля БД postgres-хранилище не запускается.
func TestLoad_MissingRequired(t *testing.T) {
	setEnvVars(t, map[string]string{"FP_DATA_DIR": "/tmp/fp"})
	if _, err := Load(); err == nil {
		t.Fatal("ожидалась ошибка при отсутствии FP_DB_PASSWORD")
	}

	setEnvVars(t, map[string]string{"FP_DATA_DIR": "/tmp/fp", "FP_STORE_BACKEND": "memory"})
	if _, err := Load(); err != nil {
		t.Fatalf("memory-хранилище не требует БД: %v", err)
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DBHost: "db", DBPort: 5432, DBName: "fp", DBUser: "u", DBPassword: "p", DBSSLMode: "disable",
	}
	want := "host=db port=5432 dbname=fp user=u password=p sslmode=disable"
	if got := cfg.DatabaseDSN(); got != want {
		t.Errorf("DatabaseDSN() = %q, ожидалось %q", got, want)
	}
	if got := cfg.MigrateURL(); got != "pgx5://u:p@db:5432/fp?sslmode=disable" {
		t.Errorf("MigrateURL() = %q", got)
	}
}

func TestValidateThresholds(t *testing.T) {
	if err := ValidateThresholds(85, 50); err != nil {
		t.Errorf("85/50: %v", err)
	}
	if err := ValidateThresholds(70, 70); err != nil {
		t.Errorf("равные пороги допустимы: %v", err)
	}
	if err := ValidateThresholds(50, 51); err == nil {
		t.Error("min > auto: ожидалась ошибка")
	}
	if err := ValidateThresholds(85, -1); err == nil {
		t.Error("отрицательный порог: ожидалась ошибка")
	}
}
