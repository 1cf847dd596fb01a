package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/attempts"
	"github.com/vladislavdragonenkov/checkout/internal/service/cart"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/notification"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
	transport "github.com/vladislavdragonenkov/checkout/internal/transport/http"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	cache, closeCache := initCartCache(cfg, logger)
	gateway := initPaymentGateway(cfg, logger)
	sender := initEmailSender(cfg, logger)
	checkoutMetrics := metrics.NewCheckoutMetrics()

	cartOpts := []cart.Option{
		cart.WithLogger(logger.WithField("component", "cart-service")),
		cart.WithMetrics(checkoutMetrics),
	}
	if cache != nil {
		cartOpts = append(cartOpts, cart.WithCache(cache))
	}
	cartSvc := cart.NewService(deps.carts, deps.prices, cartOpts...)

	checkoutOpts := []checkout.Option{
		checkout.WithMetrics(checkoutMetrics),
		checkout.WithAttemptTTL(cfg.AttemptTTL),
	}
	if cache != nil {
		checkoutOpts = append(checkoutOpts, checkout.WithCartCache(cache))
	}
	checkoutSvc := checkout.NewService(
		deps.carts,
		deps.orders,
		deps.attempts,
		deps.outbox,
		deps.notifications,
		gateway,
		checkoutOpts...,
	)

	// Инициализация Kafka producer (опционально)
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)

	// Фоновые воркеры живут на собственном контексте: их останавливаем
	// после того, как HTTP-сервер перестал принимать запросы.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var workersWG sync.WaitGroup

	if kafkaProducer != nil {
		publisher := kafka.NewOutboxPublisher(kafkaProducer, cfg.OutboxTopic)
		dlqTopic := cfg.DLQTopic
		if dlqTopic == "" {
			dlqTopic = kafka.TopicDeadLetterQueue
		}
		outboxWorker := outbox.NewWorker(deps.outbox, publisher,
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(kafkaProducer, dlqTopic)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		workersWG.Add(1)
		go func() {
			defer workersWG.Done()
			outboxWorker.Run(workerCtx)
		}()
	} else {
		logger.Info("kafka не настроен, outbox-события остаются в очереди")
	}

	dispatcher := notification.NewDispatcher(deps.notifications, sender,
		notification.WithMetrics(checkoutMetrics),
		notification.WithPollInterval(cfg.NotificationPollInterval),
		notification.WithBatchSize(cfg.NotificationBatchSize),
	)
	workersWG.Add(1)
	go func() {
		defer workersWG.Done()
		dispatcher.Run(workerCtx)
	}()

	reconcileOpts := []reconcile.Option{
		reconcile.WithMetrics(checkoutMetrics),
		reconcile.WithCartStore(deps.carts),
		reconcile.WithPollInterval(cfg.ReconcilePollInterval),
		reconcile.WithBatchSize(cfg.ReconcileBatchSize),
	}
	if cache != nil {
		reconcileOpts = append(reconcileOpts, reconcile.WithCartCache(cache))
	}
	reconcileWorker := reconcile.NewWorker(
		deps.attempts,
		deps.orders,
		deps.outbox,
		deps.notifications,
		gateway,
		reconcileOpts...,
	)
	workersWG.Add(1)
	go func() {
		defer workersWG.Done()
		reconcileWorker.Run(workerCtx)
	}()

	cleanupWorker := attempts.NewCleanupWorker(deps.attempts,
		attempts.WithInterval(cfg.AttemptCleanupInterval),
		attempts.WithBatchSize(cfg.AttemptCleanupBatchSize),
	)
	workersWG.Add(1)
	go func() {
		defer workersWG.Done()
		cleanupWorker.Run(workerCtx)
	}()

	// HTTP Health checks
	buildVersion, _, _ := version.Info()
	healthHandler := healthcheck.NewHandler(buildVersion)
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	// Три пропущенных цикла подряд — повод посмотреть на воркер.
	healthHandler.RegisterChecker("reconcile",
		healthcheck.NewHeartbeatChecker("reconcile", 3*cfg.ReconcilePollInterval, reconcileWorker.LastPass))

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	httpLogger := logger.WithField("layer", "http")
	router := transport.NewRouter(
		transport.NewCartHandler(cartSvc, httpLogger),
		transport.NewCheckoutHandler(checkoutSvc, httpLogger),
		httpLogger,
	)
	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	shutdown := func() {
		stopWorkers()
		waitWorkers(&workersWG, logger)
		shutdownHTTP(metricsSrv, logger)
		closeKafka(kafkaProducer, logger)
		if closeCache != nil {
			if err := closeCache(); err != nil {
				logger.WithError(err).Warn("failed to close redis client")
			}
		}
		if deps.closeFn != nil {
			if err := deps.closeFn(); err != nil {
				logger.WithError(err).Warn("failed to close storage")
			}
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownHTTP(apiSrv, logger)
		shutdown()
		return ctx.Err()
	case err := <-errCh:
		shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// waitWorkers дожидается остановки воркеров, но не дольше пяти секунд.
func waitWorkers(wg *sync.WaitGroup, logger *log.Entry) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("воркеры не остановились за отведённое время")
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez", addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
