package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type notificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создаёт PostgreSQL-реализацию NotificationRepository.
// Частичный уникальный индекс по (order_id, type) WHERE status = 'sent'
// гарантирует не более одной отправки каждого типа письма на заказ.
func NewNotificationRepository(store *Store) domain.NotificationRepository {
	return &notificationRepository{db: store.DB()}
}

func (r *notificationRepository) Enqueue(n domain.Notification) (domain.Notification, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = domain.NotificationStatusPending
	}
	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, order_id, type, recipient, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,0,$7,$8)
	`,
		n.ID, n.OrderID, string(n.Type), n.Recipient, n.Payload,
		string(n.Status), n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("enqueue notification: %w", err)
	}

	return n, nil
}

func (r *notificationRepository) PullPending(limit int) ([]domain.Notification, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, type, recipient, payload,
		       status, attempt_count, created_at, updated_at
		FROM notifications
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending notifications: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Notification, 0, limit)
	for rows.Next() {
		var (
			n         domain.Notification
			typeRaw   string
			statusRaw string
		)
		if err := rows.Scan(
			&n.ID, &n.OrderID, &typeRaw, &n.Recipient, &n.Payload,
			&statusRaw, &n.AttemptCount, &n.CreatedAt, &n.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = domain.NotificationType(typeRaw)
		n.Status = domain.NotificationStatus(statusRaw)
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification rows: %w", err)
	}

	return result, nil
}

func (r *notificationRepository) AlreadySent(orderID string, t domain.NotificationType) (bool, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return false, domain.ErrNotificationNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var count int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM notifications
		WHERE order_id = $1
		  AND type = $2
		  AND status = 'sent'
	`, orderID, string(t)).Scan(&count); err != nil {
		return false, fmt.Errorf("check notification send-log: %w", err)
	}

	return count > 0, nil
}

func (r *notificationRepository) MarkSent(id string) error {
	return r.markStatus(id, domain.NotificationStatusSent)
}

func (r *notificationRepository) MarkFailed(id string) error {
	return r.markStatus(id, domain.NotificationStatusFailed)
}

func (r *notificationRepository) MarkSkipped(id string) error {
	return r.markStatus(id, domain.NotificationStatusSkipped)
}

func (r *notificationRepository) markStatus(id string, status domain.NotificationStatus) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = $2,
		    attempt_count = attempt_count + 1,
		    updated_at = $3
		WHERE id = $1
	`, id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark notification as %s: %w", status, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for notification %s: %w", status, err)
	}
	if affected == 0 {
		return domain.ErrNotificationNotFound
	}

	return nil
}

var _ domain.NotificationRepository = (*notificationRepository)(nil)
