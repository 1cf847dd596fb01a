package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// notificationRepositoryInMemory — in-memory очередь уведомлений с send-log.
type notificationRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Notification
}

// NewNotificationRepository создаёт in-memory реализацию NotificationRepository.
func NewNotificationRepository() domain.NotificationRepository {
	return &notificationRepositoryInMemory{
		items: make(map[string]domain.Notification),
	}
}

// Enqueue ставит уведомление в очередь со статусом pending.
func (r *notificationRepositoryInMemory) Enqueue(n domain.Notification) (domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	n.Status = domain.NotificationStatusPending
	n.CreatedAt = now
	n.UpdatedAt = now
	n.Payload = append([]byte(nil), n.Payload...)
	r.items[n.ID] = n
	return n, nil
}

// PullPending возвращает до limit pending-уведомлений в порядке постановки.
func (r *notificationRepositoryInMemory) PullPending(limit int) ([]domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.Notification, 0, limit)
	for _, n := range r.items {
		if n.Status == domain.NotificationStatusPending {
			result = append(result, n)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// AlreadySent проверяет send-log по паре (order_id, type).
func (r *notificationRepositoryInMemory) AlreadySent(orderID string, t domain.NotificationType) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, n := range r.items {
		if n.OrderID == orderID && n.Type == t && n.Status == domain.NotificationStatusSent {
			return true, nil
		}
	}
	return false, nil
}

// MarkSent помечает уведомление отправленным.
func (r *notificationRepositoryInMemory) MarkSent(id string) error {
	return r.markStatus(id, domain.NotificationStatusSent)
}

// MarkFailed фиксирует ошибку доставки.
func (r *notificationRepositoryInMemory) MarkFailed(id string) error {
	return r.markStatus(id, domain.NotificationStatusFailed)
}

// MarkSkipped закрывает подавленный дубликат без отправки.
func (r *notificationRepositoryInMemory) MarkSkipped(id string) error {
	return r.markStatus(id, domain.NotificationStatusSkipped)
}

func (r *notificationRepositoryInMemory) markStatus(id string, status domain.NotificationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.items[id]
	if !ok {
		return domain.ErrNotificationNotFound
	}
	n.Status = status
	n.AttemptCount++
	n.UpdatedAt = time.Now().UTC()
	r.items[id] = n
	return nil
}

var _ domain.NotificationRepository = (*notificationRepositoryInMemory)(nil)
