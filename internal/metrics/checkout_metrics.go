package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики checkout-конвейера.
type CheckoutMetrics struct {
	// Счётчики исходов checkout
	checkoutSucceeded prometheus.Counter
	checkoutDeclined  prometheus.Counter
	checkoutFailed    *prometheus.CounterVec
	checkoutReplayed  prometheus.Counter

	// Опасное состояние: деньги списаны, заказ не записан
	capturedUnrecorded prometheus.Gauge
	ordersRepaired     prometheus.Counter

	// Гистограммы времени выполнения
	checkoutDuration prometheus.Histogram
	gatewayDuration  prometheus.Histogram

	// Конфликты optimistic locking корзин
	cartVersionConflicts prometheus.Counter

	// События outbox и уведомления
	outboxEvents      prometheus.Counter
	notificationsSent *prometheus.CounterVec

	// Gauge для checkout-попыток в обработке
	activeCheckouts prometheus.Gauge
}

// NewCheckoutMetrics создаёт новый экземпляр метрик checkout.
func NewCheckoutMetrics() *CheckoutMetrics {
	return newCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		checkoutSucceeded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_succeeded_total",
			Help: "Total number of checkout attempts that produced an order",
		}),
		checkoutDeclined: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_declined_total",
			Help: "Total number of checkout attempts declined by the payment gateway",
		}),
		checkoutFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_failed_total",
			Help: "Total number of failed checkout attempts by reason",
		}, []string{"reason"}),
		checkoutReplayed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_replayed_total",
			Help: "Total number of checkout responses replayed from the attempt store",
		}),
		capturedUnrecorded: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_captured_unrecorded",
			Help: "Number of charges captured by the gateway but not yet recorded as orders",
		}),
		ordersRepaired: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_orders_repaired_total",
			Help: "Total number of orders backfilled by the reconcile worker",
		}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "checkout_duration_seconds",
			Help:    "Duration of full checkout attempts in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		gatewayDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "checkout_gateway_duration_seconds",
			Help:    "Duration of payment gateway charge calls in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),
		cartVersionConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_cart_version_conflicts_total",
			Help: "Total number of optimistic locking conflicts on cart writes",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_outbox_events_total",
			Help: "Total number of outbox events published",
		}),
		notificationsSent: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_notifications_sent_total",
			Help: "Total number of post-purchase notifications by type and result",
		}, []string{"type", "result"}),
		activeCheckouts: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_active_attempts",
			Help: "Number of checkout attempts currently being processed",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordCheckoutSucceeded увеличивает счётчик успешных checkout.
func (m *CheckoutMetrics) RecordCheckoutSucceeded() {
	m.checkoutSucceeded.Inc()
}

// RecordCheckoutDeclined увеличивает счётчик отклонённых списаний.
func (m *CheckoutMetrics) RecordCheckoutDeclined() {
	m.checkoutDeclined.Inc()
}

// RecordCheckoutFailed увеличивает счётчик неудачных checkout по причине.
func (m *CheckoutMetrics) RecordCheckoutFailed(reason string) {
	m.checkoutFailed.WithLabelValues(reason).Inc()
}

// RecordCheckoutReplayed увеличивает счётчик replay-ответов.
func (m *CheckoutMetrics) RecordCheckoutReplayed() {
	m.checkoutReplayed.Inc()
}

// SetCapturedUnrecorded выставляет текущее число незакрытых списаний.
func (m *CheckoutMetrics) SetCapturedUnrecorded(n int) {
	m.capturedUnrecorded.Set(float64(n))
}

// RecordOrderRepaired увеличивает счётчик достроенных reconcile-воркером заказов.
func (m *CheckoutMetrics) RecordOrderRepaired() {
	m.ordersRepaired.Inc()
}

// RecordCheckoutDuration записывает время выполнения checkout-попытки.
func (m *CheckoutMetrics) RecordCheckoutDuration(duration time.Duration) {
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordGatewayDuration записывает время вызова платёжного шлюза.
func (m *CheckoutMetrics) RecordGatewayDuration(duration time.Duration) {
	m.gatewayDuration.Observe(duration.Seconds())
}

// RecordCartVersionConflict увеличивает счётчик конфликтов версий корзины.
func (m *CheckoutMetrics) RecordCartVersionConflict() {
	m.cartVersionConflicts.Inc()
}

// RecordOutboxEvent увеличивает счётчик опубликованных событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordNotification увеличивает счётчик уведомлений по типу и результату.
func (m *CheckoutMetrics) RecordNotification(notificationType, result string) {
	m.notificationsSent.WithLabelValues(notificationType, result).Inc()
}

// RecordCheckoutStarted увеличивает количество активных checkout-попыток.
func (m *CheckoutMetrics) RecordCheckoutStarted() {
	m.activeCheckouts.Inc()
}

// RecordCheckoutFinished уменьшает количество активных checkout-попыток.
func (m *CheckoutMetrics) RecordCheckoutFinished() {
	m.activeCheckouts.Dec()
}
