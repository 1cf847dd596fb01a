package app

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/notification"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
	"github.com/vladislavdragonenkov/checkout/internal/storage/redis"
)

const redisPingTimeout = 2 * time.Second

// initCartCache подключает Redis-кэш корзин, если RedisAddr задан.
// Недоступный Redis не мешает запуску: сервис работает без кэша.
func initCartCache(cfg Config, logger *log.Entry) (domain.CartCache, func() error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("redis недоступен, продолжаем без кэша корзин")
		_ = client.Close()
		return nil, nil
	}

	logger.WithField("addr", cfg.RedisAddr).Info("кэш корзин подключен")
	return redis.NewCartCache(client), client.Close
}

// initPaymentGateway выбирает платёжный шлюз: реальный HTTP-клиент,
// если задан base URL, иначе mock для разработки.
// NOTE: В production окружении GatewayBaseURL должен быть задан всегда.
func initPaymentGateway(cfg Config, logger *log.Entry) domain.PaymentGateway {
	if cfg.GatewayBaseURL != "" {
		logger.WithField("base_url", cfg.GatewayBaseURL).Info("платёжный шлюз подключен")
		return payment.NewGatewayClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey)
	}

	logger.Warn("GatewayBaseURL не задан, используем mock-шлюз")
	return payment.NewMockGateway()
}

// initEmailSender выбирает канал доставки писем: SMTP, если адрес задан,
// иначе логирующая заглушка.
func initEmailSender(cfg Config, logger *log.Entry) domain.EmailSender {
	if cfg.SMTPAddr != "" {
		logger.WithField("addr", cfg.SMTPAddr).Info("SMTP-отправка писем включена")
		return notification.NewSMTPSender(cfg.SMTPAddr, cfg.SMTPFrom, nil)
	}

	return notification.NewLogSender(logger)
}
