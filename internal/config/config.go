// Пакет config — загрузка и валидация конфигурации loandesk
// из переменных окружения (префикс LD_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации loandesk.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Дедлайн обработки одного запроса (включая транзакцию)
	RequestTimeout time.Duration
	// Максимальный размер загружаемого документа в байтах
	MaxUploadSize int64

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Максимальное количество соединений в пуле
	DBMaxConns int

	// --- JWT ---

	// Ожидаемый issuer JWT
	JWTIssuer string
	// URL JWKS endpoint IdP
	JWTJWKSURL string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Путь к CA-сертификату для TLS-соединений с IdP (опционально)
	CACertPath string

	// --- Маппинг групп → ролей ---

	RoleAdminGroups    []string
	RoleStaffGroups    []string
	RoleReadonlyGroups []string

	// --- Конвейер заявок ---

	// Категория продукта, для которой заявка проходит стадию STARTUP
	StartupCategory string

	// --- Объектное хранилище (S3) ---

	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// --- SMTP (метод отправки EMAIL) ---

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	// Политика TLS: opportunistic, mandatory, none
	SMTPTLSPolicy string

	// --- Кредиторы ---

	// Таймаут одной отправки кредитору (EMAIL/API)
	LenderTimeout time.Duration
	// Размер LRU-кэша записей кредиторов
	LenderCacheSize int
	// TTL записи в кэше кредиторов
	LenderCacheTTL time.Duration

	// --- Повторные отправки ---

	// Интервал фонового обхода журнала повторов (0 — отключён)
	RetrySweepInterval time.Duration
	// Базовая задержка перед следующей попыткой
	RetryBaseDelay time.Duration
	// Максимальное число попыток, после которого запись отменяется
	RetryMaxAttempts int
	// Размер пачки записей за один обход
	RetryBatchSize int

	// --- Аудит → Kafka ---

	// Брокеры Kafka (пусто — публикация аудита отключена)
	KafkaBrokers []string
	// Топик для событий аудита
	KafkaAuditTopic string
	// Интервал обхода неопубликованных событий
	OutboxInterval time.Duration
	// Размер пачки событий за один обход
	OutboxBatchSize int

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("LD_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("LD_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("LD_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("LD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LD_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("LD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LD_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.RequestTimeout, err = getEnvDuration("LD_REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LD_REQUEST_TIMEOUT: %w", err)
	}
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("LD_REQUEST_TIMEOUT: значение должно быть положительным")
	}

	maxUpload, err := getEnvInt("LD_MAX_UPLOAD_SIZE", 25<<20)
	if err != nil {
		return nil, fmt.Errorf("LD_MAX_UPLOAD_SIZE: %w", err)
	}
	if maxUpload < 1 {
		return nil, fmt.Errorf("LD_MAX_UPLOAD_SIZE: значение должно быть положительным")
	}
	cfg.MaxUploadSize = int64(maxUpload)

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("LD_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("LD_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("LD_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("LD_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("LD_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("LD_DB_PASSWORD"); err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("LD_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("LD_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	cfg.DBMaxConns, err = getEnvInt("LD_DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("LD_DB_MAX_CONNS: %w", err)
	}

	// --- JWT ---

	if cfg.JWTIssuer, err = getEnvRequired("LD_JWT_ISSUER"); err != nil {
		return nil, err
	}
	if cfg.JWTJWKSURL, err = getEnvRequired("LD_JWT_JWKS_URL"); err != nil {
		return nil, err
	}
	cfg.JWKSClientTimeout, err = getEnvDuration("LD_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LD_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("LD_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("LD_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("LD_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LD_JWT_LEEWAY: %w", err)
	}
	cfg.CACertPath = getEnvDefault("LD_CA_CERT_PATH", "")

	// --- Маппинг групп → ролей ---

	cfg.RoleAdminGroups = parseCSV(getEnvDefault("LD_ROLE_ADMIN_GROUPS", "loandesk-admins"))
	cfg.RoleStaffGroups = parseCSV(getEnvDefault("LD_ROLE_STAFF_GROUPS", "loandesk-staff"))
	cfg.RoleReadonlyGroups = parseCSV(getEnvDefault("LD_ROLE_READONLY_GROUPS", "loandesk-viewers"))

	cfg.StartupCategory = getEnvDefault("LD_STARTUP_CATEGORY", "startup")

	// --- Объектное хранилище ---

	cfg.S3Endpoint = strings.TrimRight(getEnvDefault("LD_S3_ENDPOINT", ""), "/")
	if cfg.S3Endpoint != "" {
		if _, err := url.ParseRequestURI(cfg.S3Endpoint); err != nil {
			return nil, fmt.Errorf("LD_S3_ENDPOINT: некорректный URL %q", cfg.S3Endpoint)
		}
	}
	cfg.S3Region = getEnvDefault("LD_S3_REGION", "us-east-1")
	if cfg.S3Bucket, err = getEnvRequired("LD_S3_BUCKET"); err != nil {
		return nil, err
	}
	cfg.S3AccessKey = getEnvDefault("LD_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnvDefault("LD_S3_SECRET_KEY", "")
	cfg.S3UsePathStyle, err = getEnvBool("LD_S3_USE_PATH_STYLE", true)
	if err != nil {
		return nil, fmt.Errorf("LD_S3_USE_PATH_STYLE: %w", err)
	}

	// --- SMTP ---

	cfg.SMTPHost = getEnvDefault("LD_SMTP_HOST", "")
	cfg.SMTPPort, err = getEnvInt("LD_SMTP_PORT", 587)
	if err != nil {
		return nil, fmt.Errorf("LD_SMTP_PORT: %w", err)
	}
	cfg.SMTPUsername = getEnvDefault("LD_SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvDefault("LD_SMTP_PASSWORD", "")
	cfg.SMTPFrom = getEnvDefault("LD_SMTP_FROM", "loandesk@localhost")
	cfg.SMTPTLSPolicy = getEnvDefault("LD_SMTP_TLS_POLICY", "opportunistic")
	switch cfg.SMTPTLSPolicy {
	case "opportunistic", "mandatory", "none":
	default:
		return nil, fmt.Errorf("LD_SMTP_TLS_POLICY: недопустимое значение %q, допустимые: opportunistic, mandatory, none", cfg.SMTPTLSPolicy)
	}

	// --- Кредиторы ---

	cfg.LenderTimeout, err = getEnvDuration("LD_LENDER_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LD_LENDER_TIMEOUT: %w", err)
	}
	if cfg.LenderTimeout >= cfg.RequestTimeout {
		return nil, fmt.Errorf("LD_LENDER_TIMEOUT: значение %s должно быть меньше LD_REQUEST_TIMEOUT (%s)",
			cfg.LenderTimeout, cfg.RequestTimeout)
	}
	cfg.LenderCacheSize, err = getEnvInt("LD_LENDER_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("LD_LENDER_CACHE_SIZE: %w", err)
	}
	cfg.LenderCacheTTL, err = getEnvDuration("LD_LENDER_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("LD_LENDER_CACHE_TTL: %w", err)
	}

	// --- Повторные отправки ---

	cfg.RetrySweepInterval, err = getEnvDuration("LD_RETRY_SWEEP_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("LD_RETRY_SWEEP_INTERVAL: %w", err)
	}
	cfg.RetryBaseDelay, err = getEnvDuration("LD_RETRY_BASE_DELAY", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("LD_RETRY_BASE_DELAY: %w", err)
	}
	cfg.RetryMaxAttempts, err = getEnvInt("LD_RETRY_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, fmt.Errorf("LD_RETRY_MAX_ATTEMPTS: %w", err)
	}
	if cfg.RetryMaxAttempts < 1 {
		return nil, fmt.Errorf("LD_RETRY_MAX_ATTEMPTS: значение должно быть не меньше 1")
	}
	cfg.RetryBatchSize, err = getEnvInt("LD_RETRY_BATCH_SIZE", 50)
	if err != nil {
		return nil, fmt.Errorf("LD_RETRY_BATCH_SIZE: %w", err)
	}

	// --- Аудит → Kafka ---

	cfg.KafkaBrokers = parseCSV(getEnvDefault("LD_KAFKA_BROKERS", ""))
	cfg.KafkaAuditTopic = getEnvDefault("LD_KAFKA_AUDIT_TOPIC", "loandesk.audit")
	cfg.OutboxInterval, err = getEnvDuration("LD_OUTBOX_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LD_OUTBOX_INTERVAL: %w", err)
	}
	cfg.OutboxBatchSize, err = getEnvInt("LD_OUTBOX_BATCH_SIZE", 100)
	if err != nil {
		return nil, fmt.Errorf("LD_OUTBOX_BATCH_SIZE: %w", err)
	}
	if cfg.OutboxBatchSize < 1 || cfg.OutboxBatchSize > 1000 {
		return nil, fmt.Errorf("LD_OUTBOX_BATCH_SIZE: значение %d вне допустимого диапазона 1-1000", cfg.OutboxBatchSize)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("LD_DEPHEALTH_GROUP", "loandesk")
	cfg.DephealthCheckInterval, err = getEnvDuration("LD_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LD_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("LD_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LD_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s pool_max_conns=%d",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode, c.DBMaxConns,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// SMTPEnabled — настроен ли SMTP для метода отправки EMAIL.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

// KafkaEnabled — включена ли публикация аудита в Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
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

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
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

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
