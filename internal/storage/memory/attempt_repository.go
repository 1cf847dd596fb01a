package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type attemptRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.CheckoutAttempt
}

// NewAttemptRepository создаёт in-memory реализацию AttemptRepository.
func NewAttemptRepository() domain.AttemptRepository {
	return &attemptRepositoryInMemory{
		items: make(map[string]domain.CheckoutAttempt),
	}
}

func (r *attemptRepositoryInMemory) CreateProcessing(key, requestHash string, intentBody []byte, ttlAt time.Time) (domain.CheckoutAttempt, error) {
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

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[key]; ok {
		if existing.RequestHash != requestHash {
			return cloneAttempt(existing), domain.ErrAttemptHashMismatch
		}
		return cloneAttempt(existing), domain.ErrAttemptAlreadyExists
	}

	attempt := domain.CheckoutAttempt{
		Key:         key,
		RequestHash: requestHash,
		IntentBody:  append([]byte(nil), intentBody...),
		Status:      domain.AttemptStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	r.items[key] = cloneAttempt(attempt)
	return cloneAttempt(attempt), nil
}

func (r *attemptRepositoryInMemory) Get(key string) (domain.CheckoutAttempt, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.CheckoutAttempt{}, domain.ErrAttemptKeyRequired
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	attempt, ok := r.items[key]
	if !ok {
		return domain.CheckoutAttempt{}, domain.ErrAttemptNotFound
	}
	return cloneAttempt(attempt), nil
}

func (r *attemptRepositoryInMemory) MarkCapturedUnrecorded(key, chargeRef string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrAttemptKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	attempt, ok := r.items[key]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	attempt.Status = domain.AttemptStatusCapturedUnrecorded
	attempt.ChargeRef = chargeRef
	attempt.UpdatedAt = time.Now().UTC()
	r.items[key] = attempt
	return nil
}

func (r *attemptRepositoryInMemory) MarkDone(key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(key, domain.AttemptStatusDone, responseBody, httpStatus)
}

func (r *attemptRepositoryInMemory) MarkFailed(key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(key, domain.AttemptStatusFailed, responseBody, httpStatus)
}

func (r *attemptRepositoryInMemory) Release(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrAttemptKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	attempt, ok := r.items[key]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	// Закрытые и captured-записи освобождать нельзя: потерялся бы след
	// состоявшегося списания либо сохранённый ответ.
	if attempt.Status != domain.AttemptStatusProcessing {
		return domain.ErrAttemptNotFound
	}

	delete(r.items, key)
	return nil
}

func (r *attemptRepositoryInMemory) ListCapturedUnrecorded(limit int) ([]domain.CheckoutAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.CheckoutAttempt, 0)
	for _, attempt := range r.items {
		if attempt.Status == domain.AttemptStatusCapturedUnrecorded {
			result = append(result, cloneAttempt(attempt))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *attemptRepositoryInMemory) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, attempt := range r.items {
		if attempt.TTLAt.After(before) {
			continue
		}
		// Записи с незакрытым списанием живут до ручного/фонового reconcile.
		if attempt.Status == domain.AttemptStatusCapturedUnrecorded {
			continue
		}

		delete(r.items, key)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}

	return removed, nil
}

func (r *attemptRepositoryInMemory) markStatus(key string, status domain.AttemptStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrAttemptKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	attempt, ok := r.items[key]
	if !ok {
		return domain.ErrAttemptNotFound
	}

	attempt.Status = status
	attempt.ResponseBody = append([]byte(nil), responseBody...)
	attempt.HTTPStatus = httpStatus
	attempt.UpdatedAt = time.Now().UTC()
	r.items[key] = attempt
	return nil
}

func cloneAttempt(src domain.CheckoutAttempt) domain.CheckoutAttempt {
	dst := src
	dst.IntentBody = append([]byte(nil), src.IntentBody...)
	dst.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return dst
}

var _ domain.AttemptRepository = (*attemptRepositoryInMemory)(nil)
