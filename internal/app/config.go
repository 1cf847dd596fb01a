package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StorageDriver определяет, где живут корзины, заказы и попытки checkout.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска checkout-сервиса.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	// RedisAddr включает кэш корзин, если задан.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// KafkaBrokers включает публикацию outbox-событий, если задан
	// (список через запятую).
	KafkaBrokers string
	OutboxTopic  string
	DLQTopic     string

	// GatewayBaseURL включает реальный платёжный шлюз; пустое значение
	// означает mock-шлюз для разработки.
	GatewayBaseURL string
	GatewayAPIKey  string

	// SMTPAddr включает отправку писем; пустое значение означает
	// логирующий sender.
	SMTPAddr string
	SMTPFrom string

	AttemptTTL time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	NotificationPollInterval time.Duration
	NotificationBatchSize    int

	ReconcilePollInterval time.Duration
	ReconcileBatchSize    int

	AttemptCleanupInterval  time.Duration
	AttemptCleanupBatchSize int
}

// DefaultConfig возвращает конфигурацию для локальной разработки:
// in-memory хранилище, без Kafka, Redis и внешнего шлюза.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		AttemptTTL: 24 * time.Hour,

		OutboxPollInterval: 5 * time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   500 * time.Millisecond,

		NotificationPollInterval: 5 * time.Second,
		NotificationBatchSize:    50,

		ReconcilePollInterval: 30 * time.Second,
		ReconcileBatchSize:    20,

		AttemptCleanupInterval:  10 * time.Minute,
		AttemptCleanupBatchSize: 500,
	}
}

// LoadConfig читает конфигурацию из окружения поверх DefaultConfig.
// Файл .env подхватывается, если он есть; переменные используют
// префикс CHECKOUT_.
func LoadConfig() Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	cfg.HTTPAddr = envString("CHECKOUT_HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = envString("CHECKOUT_METRICS_ADDR", cfg.MetricsAddr)

	cfg.StorageDriver = StorageDriver(envString("CHECKOUT_STORAGE_DRIVER", string(cfg.StorageDriver)))
	cfg.PostgresDSN = envString("CHECKOUT_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.PostgresAutoMigrate = envBool("CHECKOUT_POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate)

	cfg.RedisAddr = envString("CHECKOUT_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = envString("CHECKOUT_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = envInt("CHECKOUT_REDIS_DB", cfg.RedisDB)

	cfg.KafkaBrokers = envString("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.OutboxTopic = envString("CHECKOUT_OUTBOX_TOPIC", cfg.OutboxTopic)
	cfg.DLQTopic = envString("CHECKOUT_DLQ_TOPIC", cfg.DLQTopic)

	cfg.GatewayBaseURL = envString("CHECKOUT_GATEWAY_BASE_URL", cfg.GatewayBaseURL)
	cfg.GatewayAPIKey = envString("CHECKOUT_GATEWAY_API_KEY", cfg.GatewayAPIKey)

	cfg.SMTPAddr = envString("CHECKOUT_SMTP_ADDR", cfg.SMTPAddr)
	cfg.SMTPFrom = envString("CHECKOUT_SMTP_FROM", cfg.SMTPFrom)

	cfg.AttemptTTL = envDuration("CHECKOUT_ATTEMPT_TTL", cfg.AttemptTTL)

	cfg.OutboxPollInterval = envDuration("CHECKOUT_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = envInt("CHECKOUT_OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxAttempts = envInt("CHECKOUT_OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts)
	cfg.OutboxRetryDelay = envDuration("CHECKOUT_OUTBOX_RETRY_DELAY", cfg.OutboxRetryDelay)

	cfg.NotificationPollInterval = envDuration("CHECKOUT_NOTIFICATION_POLL_INTERVAL", cfg.NotificationPollInterval)
	cfg.NotificationBatchSize = envInt("CHECKOUT_NOTIFICATION_BATCH_SIZE", cfg.NotificationBatchSize)

	cfg.ReconcilePollInterval = envDuration("CHECKOUT_RECONCILE_POLL_INTERVAL", cfg.ReconcilePollInterval)
	cfg.ReconcileBatchSize = envInt("CHECKOUT_RECONCILE_BATCH_SIZE", cfg.ReconcileBatchSize)

	cfg.AttemptCleanupInterval = envDuration("CHECKOUT_ATTEMPT_CLEANUP_INTERVAL", cfg.AttemptCleanupInterval)
	cfg.AttemptCleanupBatchSize = envInt("CHECKOUT_ATTEMPT_CLEANUP_BATCH_SIZE", cfg.AttemptCleanupBatchSize)

	return cfg
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
