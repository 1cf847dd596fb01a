package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type attemptRepository struct {
	db *sql.DB
}

// NewAttemptRepository создаёт PostgreSQL-реализацию AttemptRepository.
func NewAttemptRepository(store *Store) domain.AttemptRepository {
	return &attemptRepository{db: store.DB()}
}

func (r *attemptRepository) CreateProcessing(key, requestHash string, intentBody []byte, ttlAt time.Time) (domain.CheckoutAttempt, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)

	if key == "" {
		return domain.CheckoutAttempt{}, domain.ErrAttemptKeyRequired
	}
	if requestHash == "" {
		return domain.CheckoutAttempt{}, domain.ErrAttemptRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(24 * time.Hour)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkout_attempts (
			key, request_hash, intent_body, charge_ref, response_body,
			http_status, status, ttl_at, created_at, updated_at
		) VALUES ($1,$2,$3,'',NULL,NULL,$4,$5,$6,$7)
	`,
		key,
		requestHash,
		intentBody,
		string(domain.AttemptStatusProcessing),
		ttlAt,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := r.Get(key)
			if getErr != nil {
				return domain.CheckoutAttempt{}, domain.ErrAttemptAlreadyExists
			}
			if existing.RequestHash != requestHash {
				return existing, domain.ErrAttemptHashMismatch
			}
			return existing, domain.ErrAttemptAlreadyExists
		}
		return domain.CheckoutAttempt{}, fmt.Errorf("create checkout attempt: %w", err)
	}

	return domain.CheckoutAttempt{
		Key:         key,
		RequestHash: requestHash,
		IntentBody:  append([]byte(nil), intentBody...),
		Status:      domain.AttemptStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (r *attemptRepository) Get(key string) (domain.CheckoutAttempt, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.CheckoutAttempt{}, domain.ErrAttemptKeyRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	attempt, err := r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT key, request_hash, intent_body, charge_ref, response_body,
		       http_status, status, ttl_at, created_at, updated_at
		FROM checkout_attempts
		WHERE key = $1
	`, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CheckoutAttempt{}, domain.ErrAttemptNotFound
		}
		return domain.CheckoutAttempt{}, fmt.Errorf("get checkout attempt: %w", err)
	}

	return attempt, nil
}

func (r *attemptRepository) MarkCapturedUnrecorded(key, chargeRef string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrAttemptKeyRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE checkout_attempts
		SET status = $1,
		    charge_ref = $2,
		    updated_at = $3
		WHERE key = $4
	`,
		string(domain.AttemptStatusCapturedUnrecorded),
		chargeRef,
		time.Now().UTC(),
		key,
	)
	if err != nil {
		return fmt.Errorf("mark attempt captured_unrecorded: %w", err)
	}

	return r.requireAffected(res)
}

func (r *attemptRepository) MarkDone(key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(key, domain.AttemptStatusDone, responseBody, httpStatus)
}

func (r *attemptRepository) MarkFailed(key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(key, domain.AttemptStatusFailed, responseBody, httpStatus)
}

func (r *attemptRepository) Release(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrAttemptKeyRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Освобождаются только processing-записи: закрытая или captured попытка
	// обязана пережить повтор ключа.
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM checkout_attempts
		WHERE key = $1
		  AND status = $2
	`, key, string(domain.AttemptStatusProcessing))
	if err != nil {
		return fmt.Errorf("release checkout attempt: %w", err)
	}

	return r.requireAffected(res)
}

func (r *attemptRepository) ListCapturedUnrecorded(limit int) ([]domain.CheckoutAttempt, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT key, request_hash, intent_body, charge_ref, response_body,
		       http_status, status, ttl_at, created_at, updated_at
		FROM checkout_attempts
		WHERE status = $1
		ORDER BY updated_at ASC, key ASC
	`

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", string(domain.AttemptStatusCapturedUnrecorded), limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, string(domain.AttemptStatusCapturedUnrecorded))
	}
	if err != nil {
		return nil, fmt.Errorf("list captured_unrecorded attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]domain.CheckoutAttempt, 0)
	for rows.Next() {
		attempt, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkout attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkout attempts: %w", err)
	}

	return attempts, nil
}

func (r *attemptRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Попытки со статусом captured_unrecorded живут до reconcile независимо
	// от TTL: их удаление потеряло бы след состоявшегося списания.
	query := `
		DELETE FROM checkout_attempts
		WHERE key IN (
			SELECT key
			FROM checkout_attempts
			WHERE ttl_at <= $1
			  AND status <> $2
			ORDER BY ttl_at ASC
			%s
		)
	`

	var (
		res sql.Result
		err error
	)

	if limit > 0 {
		res, err = r.db.ExecContext(ctx, fmt.Sprintf(query, "LIMIT $3"),
			before, string(domain.AttemptStatusCapturedUnrecorded), limit)
	} else {
		res, err = r.db.ExecContext(ctx, fmt.Sprintf(query, ""),
			before, string(domain.AttemptStatusCapturedUnrecorded))
	}
	if err != nil {
		return 0, fmt.Errorf("delete expired checkout attempts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("attempt rows affected: %w", err)
	}

	return int(affected), nil
}

func (r *attemptRepository) markStatus(key string, status domain.AttemptStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrAttemptKeyRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE checkout_attempts
		SET status = $1,
		    response_body = $2,
		    http_status = $3,
		    updated_at = $4
		WHERE key = $5
	`,
		string(status),
		responseBody,
		httpStatus,
		time.Now().UTC(),
		key,
	)
	if err != nil {
		return fmt.Errorf("mark attempt status: %w", err)
	}

	return r.requireAffected(res)
}

func (r *attemptRepository) requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("attempt rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrAttemptNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *attemptRepository) scanOne(row rowScanner) (domain.CheckoutAttempt, error) {
	var (
		attempt      domain.CheckoutAttempt
		statusRaw    string
		intentBody   []byte
		responseBody []byte
		httpStatus   sql.NullInt64
	)

	if err := row.Scan(
		&attempt.Key, &attempt.RequestHash, &intentBody, &attempt.ChargeRef, &responseBody,
		&httpStatus, &statusRaw, &attempt.TTLAt, &attempt.CreatedAt, &attempt.UpdatedAt,
	); err != nil {
		return domain.CheckoutAttempt{}, err
	}

	attempt.Status = domain.AttemptStatus(statusRaw)
	if !attempt.Status.Valid() {
		return domain.CheckoutAttempt{}, fmt.Errorf("invalid attempt status %q for key %s", statusRaw, attempt.Key)
	}

	attempt.IntentBody = append([]byte(nil), intentBody...)
	attempt.ResponseBody = append([]byte(nil), responseBody...)
	if httpStatus.Valid {
		attempt.HTTPStatus = int(httpStatus.Int64)
	}

	return attempt, nil
}

var _ domain.AttemptRepository = (*attemptRepository)(nil)
