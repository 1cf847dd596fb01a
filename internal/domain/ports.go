package domain

import (
	"context"
	"time"
)

// PriceResolver резолвит актуальную цену и отображаемые атрибуты товара в
// момент добавления позиции в корзину. Дальше позиция живёт как снапшот.
type PriceResolver interface {
	// Resolve возвращает снапшот цены или ErrProductNotFound.
	Resolve(productID, variantID string) (PriceSnapshot, error)
}

// PaymentGateway описывает взаимодействие с внешним платёжным процессором.
// Сырые карточные данные сюда не попадают: платёжный метод токенизируется
// на стороне клиента (граница PCI-scope).
type PaymentGateway interface {
	// Charge инициирует списание по checkout-снимку. idempotencyKey обязан
	// быть детерминированным для логической попытки: шлюз дедуплицирует
	// повторы по нему.
	Charge(ctx context.Context, intent CheckoutIntent, paymentToken, idempotencyKey string) (ChargeResult, error)
	// LookupCharge запрашивает у шлюза состояние списания по idempotency-ключу.
	// Используется для сверки после таймаута, когда исход неизвестен.
	LookupCharge(ctx context.Context, idempotencyKey string) (ChargeResult, error)
}

// EmailSender отправляет письмо получателю. Реализация не обязана быть
// идемпотентной: дедупликацию обеспечивает send-log диспетчера.
type EmailSender interface {
	Send(ctx context.Context, recipient, subject string, body []byte) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// NotificationRepository хранит очередь post-purchase уведомлений и send-log.
type NotificationRepository interface {
	Enqueue(n Notification) (Notification, error)
	PullPending(limit int) ([]Notification, error)
	// AlreadySent проверяет send-log: отправлялось ли уведомление данного
	// типа по данному заказу.
	AlreadySent(orderID string, t NotificationType) (bool, error)
	MarkSent(id string) error
	MarkFailed(id string) error
	// MarkSkipped закрывает дубликат, подавленный send-log-ом, без отправки.
	MarkSkipped(id string) error
}

// AttemptRepository хранит состояние checkout-попыток по idempotency-ключу.
type AttemptRepository interface {
	// CreateProcessing регистрирует новую попытку. Если ключ занят,
	// возвращает существующую запись и ErrAttemptAlreadyExists либо
	// ErrAttemptHashMismatch при другом содержимом запроса.
	CreateProcessing(key, requestHash string, intentBody []byte, ttlAt time.Time) (CheckoutAttempt, error)
	Get(key string) (CheckoutAttempt, error)
	// MarkCapturedUnrecorded фиксирует «деньги списаны, заказ не записан».
	MarkCapturedUnrecorded(key, chargeRef string) error
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	// Release удаляет processing-запись, не дошедшую до списания: тот же
	// ключ после этого может быть повторён с нуля. Записи в других статусах
	// не трогаются.
	Release(key string) error
	// ListCapturedUnrecorded возвращает попытки, ожидающие reconcile.
	ListCapturedUnrecorded(limit int) ([]CheckoutAttempt, error)
	// DeleteExpired удаляет просроченные попытки, не трогая captured_unrecorded.
	DeleteExpired(before time.Time, limit int) (int, error)
}

// CartCache — опциональный read-through кеш корзин поверх репозитория.
type CartCache interface {
	Get(ctx context.Context, sessionID string) (*CartSession, error)
	Set(ctx context.Context, cart *CartSession) error
	Delete(ctx context.Context, sessionID string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
