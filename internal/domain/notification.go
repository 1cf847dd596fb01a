package domain

import "time"

// NotificationType определяет тип письма, отправляемого после покупки.
type NotificationType string

const (
	// NotificationOrderConfirmation — письмо-подтверждение заказа.
	NotificationOrderConfirmation NotificationType = "order_confirmation"
	// NotificationReorderReminder — напоминание о повторном заказе.
	NotificationReorderReminder NotificationType = "reorder_reminder"
)

// NotificationStatus описывает состояние записи в очереди уведомлений.
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
	// NotificationStatusSkipped — дубликат, подавленный send-log-ом: письмо
	// этого типа по заказу уже уходило, запись закрыта без отправки.
	NotificationStatusSkipped NotificationStatus = "skipped"
)

// Notification — durable-запись «уведомление к отправке» (outbox-паттерн).
// Доставка best-effort: сбой логируется и ретраится воркером, но никогда не
// влияет на исход checkout. Инвариант дедупликации: не более одной
// отправленной записи на пару (order_id, type).
type Notification struct {
	ID           string
	OrderID      string
	Type         NotificationType
	Recipient    string
	Payload      []byte
	Status       NotificationStatus
	AttemptCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
