package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultBatchSize    = 20
)

// WorkerOptions задаёт параметры reconcile-воркера.
type WorkerOptions struct {
	Logger       *log.Entry
	Metrics      *metrics.CheckoutMetrics
	Carts        domain.CartRepository
	Cache        domain.CartCache
	PollInterval time.Duration
	BatchSize    int
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithMetrics включает метрики восстановления.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(opts *WorkerOptions) {
		opts.Metrics = m
	}
}

// WithCartStore включает очистку корзины сессии после восстановления заказа:
// оплаченные позиции не должны остаться у покупателя в корзине.
func WithCartStore(carts domain.CartRepository) Option {
	return func(opts *WorkerOptions) {
		opts.Carts = carts
	}
}

// WithCartCache включает инвалидацию кеша корзин вместе с очисткой.
func WithCartCache(cache domain.CartCache) Option {
	return func(opts *WorkerOptions) {
		opts.Cache = cache
	}
}

// WithPollInterval задаёт частоту опроса попыток.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча попыток за цикл.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// Worker достраивает заказы по попыткам в состоянии captured_unrecorded:
// деньги списаны, но запись заказа в своё время не удалась. Заказ
// восстанавливается из сохранённого снимка checkout и ссылки на списание.
type Worker struct {
	attempts      domain.AttemptRepository
	orders        domain.OrderRepository
	outbox        domain.OutboxRepository
	notifications domain.NotificationRepository
	gateway       domain.PaymentGateway
	carts         domain.CartRepository
	cache         domain.CartCache

	logger       *log.Entry
	metrics      *metrics.CheckoutMetrics
	pollInterval time.Duration
	batchSize    int

	mu       sync.Mutex
	lastPass time.Time
}

// NewWorker создаёт reconcile-воркер.
func NewWorker(
	attempts domain.AttemptRepository,
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	notifications domain.NotificationRepository,
	gateway domain.PaymentGateway,
	options ...Option,
) *Worker {
	opts := WorkerOptions{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reconcile-worker")
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Worker{
		attempts:      attempts,
		orders:        orders,
		outbox:        outbox,
		notifications: notifications,
		gateway:       gateway,
		carts:         opts.Carts,
		cache:         opts.Cache,
		logger:        logger,
		metrics:       opts.Metrics,
		pollInterval:  opts.PollInterval,
		batchSize:     opts.BatchSize,
	}
}

// Run запускает периодический reconcile до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.attempts == nil || w.orders == nil {
		w.logger.Warn("reconcile worker is disabled: attempts or orders repo is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один reconcile-цикл.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	captured, err := w.attempts.ListCapturedUnrecorded(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to list captured_unrecorded attempts")
		return
	}

	for _, attempt := range captured {
		if ctx.Err() != nil {
			return
		}
		w.repair(ctx, attempt)
	}

	w.refreshBacklogGauge()

	w.mu.Lock()
	w.lastPass = time.Now()
	w.mu.Unlock()
}

// LastPass возвращает время последнего завершённого цикла; по нему
// health-check следит, что воркер не застрял.
func (w *Worker) LastPass() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastPass
}

// repair восстанавливает один заказ. Каждый шаг идемпотентен, поэтому сбой
// на любом из них безопасно переигрывается следующим циклом.
func (w *Worker) repair(ctx context.Context, attempt domain.CheckoutAttempt) {
	logger := w.logger.WithField("attempt_key", attempt.Key)

	charge, ok := w.resolveCharge(ctx, logger, attempt)
	if !ok {
		return
	}

	var intent domain.CheckoutIntent
	if err := json.Unmarshal(attempt.IntentBody, &intent); err != nil {
		// Без снимка заказ не восстановить; оставляем попытку оператору.
		logger.WithError(err).Error("attempt intent body is unreadable")
		return
	}

	chargeRef := charge.GatewayRef
	if chargeRef == "" {
		chargeRef = attempt.Key
	}

	order := checkout.OrderFromIntent(intent, charge, chargeRef)

	if err := w.orders.Create(order); err != nil {
		if !errors.Is(err, domain.ErrOrderAlreadyExists) {
			logger.WithError(err).Warn("order write failed, will retry")
			return
		}
		existing, getErr := w.orders.GetByPaymentReference(chargeRef)
		if getErr != nil {
			logger.WithError(getErr).Warn("order exists but lookup failed, will retry")
			return
		}
		order = existing
	}

	w.afterRepair(ctx, order, intent)

	body, err := json.Marshal(checkout.Response{
		Status:           "completed",
		OrderID:          order.ID,
		PaymentReference: order.PaymentReference,
		AmountMinor:      order.AmountMinor,
		Currency:         order.Currency,
	})
	if err != nil {
		logger.WithError(err).Error("marshal repaired response")
		return
	}
	if err := w.attempts.MarkDone(attempt.Key, body, http.StatusCreated); err != nil {
		logger.WithError(err).Warn("failed to close repaired attempt, will retry")
		return
	}

	if w.metrics != nil {
		w.metrics.RecordOrderRepaired()
	}
	logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"charge_ref": chargeRef,
	}).Info("order repaired from captured attempt")
}

// resolveCharge выясняет судьбу списания. Попытки без ChargeRef попали сюда
// после неразрешённого таймаута: исход уточняется у шлюза.
func (w *Worker) resolveCharge(ctx context.Context, logger *log.Entry, attempt domain.CheckoutAttempt) (domain.ChargeResult, bool) {
	if attempt.ChargeRef != "" {
		return domain.ChargeResult{
			Outcome:    domain.ChargeCompleted,
			GatewayRef: attempt.ChargeRef,
		}, true
	}

	if w.gateway == nil {
		logger.Warn("attempt has no charge ref and no gateway to verify against")
		return domain.ChargeResult{}, false
	}

	lookup, err := w.gateway.LookupCharge(ctx, attempt.Key)
	switch {
	case err == nil && lookup.Completed():
		return lookup, true
	case err == nil:
		// Шлюз знает попытку, но списания нет: закрываем как отказ.
		w.closeAsFailed(logger, attempt.Key, "payment was declined")
		return domain.ChargeResult{}, false
	case errors.Is(err, domain.ErrChargeNotFound):
		// До шлюза запрос так и не дошёл, денег не списано.
		w.closeAsFailed(logger, attempt.Key, "charge never reached the gateway")
		return domain.ChargeResult{}, false
	default:
		logger.WithError(err).Warn("charge lookup failed, will retry")
		return domain.ChargeResult{}, false
	}
}

func (w *Worker) closeAsFailed(logger *log.Entry, key, msg string) {
	body, err := json.Marshal(checkout.Response{
		Status:    "failed",
		ErrorCode: checkout.CodePaymentDeclined,
		Message:   msg,
	})
	if err != nil {
		logger.WithError(err).Error("marshal failed response")
		return
	}
	if err := w.attempts.MarkFailed(key, body, http.StatusPaymentRequired); err != nil {
		logger.WithError(err).Warn("failed to close attempt as failed")
		return
	}
	logger.Info("captured attempt closed: no money was taken")
}

func (w *Worker) afterRepair(ctx context.Context, order domain.Order, intent domain.CheckoutIntent) {
	// Синхронный afterCommit сюда не дошёл, так что оплаченная корзина всё
	// ещё лежит у покупателя: чистим её тем же порядком, что и конвейер.
	if w.carts != nil && intent.SessionID != "" {
		if err := w.carts.Delete(intent.SessionID); err != nil && !errors.Is(err, domain.ErrCartNotFound) {
			w.logger.WithError(err).WithField("session_id", intent.SessionID).Warn("cart cleanup failed")
		}
		if w.cache != nil {
			if err := w.cache.Delete(ctx, intent.SessionID); err != nil {
				w.logger.WithError(err).WithField("session_id", intent.SessionID).Warn("cart cache cleanup failed")
			}
		}
	}

	if w.outbox != nil {
		payload, err := json.Marshal(map[string]interface{}{
			"order_id":          order.ID,
			"payment_reference": order.PaymentReference,
			"amount_minor":      order.AmountMinor,
			"currency":          order.Currency,
			"session_id":        intent.SessionID,
		})
		if err == nil {
			if _, err := w.outbox.Enqueue(domain.OutboxMessage{
				AggregateType: "order",
				AggregateID:   order.ID,
				EventType:     "order.repaired",
				Payload:       payload,
			}); err != nil {
				w.logger.WithError(err).WithField("order_id", order.ID).Error("outbox enqueue failed")
			}
		}
	}

	if w.notifications != nil && order.CustomerEmail != "" {
		already, err := w.notifications.AlreadySent(order.ID, domain.NotificationOrderConfirmation)
		if err != nil || already {
			return
		}
		if _, err := w.notifications.Enqueue(domain.Notification{
			OrderID:   order.ID,
			Type:      domain.NotificationOrderConfirmation,
			Recipient: order.CustomerEmail,
		}); err != nil {
			w.logger.WithError(err).WithField("order_id", order.ID).Error("confirmation enqueue failed")
		}
	}
}

func (w *Worker) refreshBacklogGauge() {
	if w.metrics == nil {
		return
	}
	remaining, err := w.attempts.ListCapturedUnrecorded(0)
	if err != nil {
		w.logger.WithError(err).Warn("failed to refresh captured backlog gauge")
		return
	}
	w.metrics.SetCapturedUnrecorded(len(remaining))
}
