package notification

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 50
)

// DispatcherOptions задаёт параметры диспетчера уведомлений.
type DispatcherOptions struct {
	Logger       *log.Entry
	Metrics      *metrics.CheckoutMetrics
	PollInterval time.Duration
	BatchSize    int
}

// Option настраивает Dispatcher.
type Option func(*DispatcherOptions)

// WithLogger задаёт logger для диспетчера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *DispatcherOptions) {
		opts.Logger = logger
	}
}

// WithMetrics включает метрики отправок.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(opts *DispatcherOptions) {
		opts.Metrics = m
	}
}

// WithPollInterval задаёт частоту опроса очереди уведомлений.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *DispatcherOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча из очереди.
func WithBatchSize(batchSize int) Option {
	return func(opts *DispatcherOptions) {
		opts.BatchSize = batchSize
	}
}

// Dispatcher доставляет post-purchase уведомления из durable-очереди.
// Доставка best-effort: сбой письма логируется и не влияет на заказ.
// Дедупликация — по send-log: не более одной отправки на (order_id, type).
type Dispatcher struct {
	repo         domain.NotificationRepository
	sender       domain.EmailSender
	logger       *log.Entry
	metrics      *metrics.CheckoutMetrics
	pollInterval time.Duration
	batchSize    int
}

// NewDispatcher создаёт диспетчер уведомлений.
func NewDispatcher(repo domain.NotificationRepository, sender domain.EmailSender, options ...Option) *Dispatcher {
	opts := DispatcherOptions{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "notification-dispatcher")
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Dispatcher{
		repo:         repo,
		sender:       sender,
		logger:       logger,
		metrics:      opts.Metrics,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
	}
}

// Run запускает периодический polling очереди до отмены ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.repo == nil || d.sender == nil {
		d.logger.Warn("notification dispatcher is disabled: repo or sender is nil")
		return
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один polling-цикл.
func (d *Dispatcher) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	pending, err := d.repo.PullPending(d.batchSize)
	if err != nil {
		d.logger.WithError(err).Warn("failed to pull pending notifications")
		return
	}

	for _, n := range pending {
		if ctx.Err() != nil {
			return
		}
		d.dispatch(ctx, n)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, n domain.Notification) {
	logger := d.logger.WithFields(log.Fields{
		"notification_id": n.ID,
		"order_id":        n.OrderID,
		"type":            n.Type,
	})

	sent, err := d.repo.AlreadySent(n.OrderID, n.Type)
	if err != nil {
		logger.WithError(err).Warn("send-log check failed, will retry")
		return
	}
	if sent {
		// Письмо этого типа по заказу уже уходило; дубликат закрывается
		// отдельным статусом, чтобы send-log не смешивал его со сбоями.
		logger.Info("duplicate notification suppressed")
		if err := d.repo.MarkSkipped(n.ID); err != nil {
			logger.WithError(err).Warn("failed to mark duplicate notification")
		}
		d.record(n.Type, "duplicate")
		return
	}

	if err := d.sender.Send(ctx, n.Recipient, subjectFor(n.Type), n.Payload); err != nil {
		logger.WithError(err).Error("notification delivery failed")
		if markErr := d.repo.MarkFailed(n.ID); markErr != nil {
			logger.WithError(markErr).Warn("failed to mark notification as failed")
		}
		d.record(n.Type, "failed")
		return
	}

	if err := d.repo.MarkSent(n.ID); err != nil {
		// Скорее всего гонка с параллельным диспетчером: sent-строка по
		// (order_id, type) уже есть, письмо ушло дважды — фиксируем в логе.
		logger.WithError(err).Warn("failed to mark notification as sent")
		d.record(n.Type, "mark_failed")
		return
	}

	logger.Info("notification sent")
	d.record(n.Type, "sent")
}

func (d *Dispatcher) record(t domain.NotificationType, result string) {
	if d.metrics != nil {
		d.metrics.RecordNotification(string(t), result)
	}
}

func subjectFor(t domain.NotificationType) string {
	switch t {
	case domain.NotificationOrderConfirmation:
		return "Ваш заказ подтверждён"
	case domain.NotificationReorderReminder:
		return "Не пора ли повторить заказ?"
	default:
		return "Уведомление о заказе"
	}
}
