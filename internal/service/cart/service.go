package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

// Service реализует операции над корзиной: добавление, изменение количества,
// удаление, чтение и очистку. Цена позиции резолвится ровно один раз, при
// добавлении; дальше позиция живёт как снапшот. Конкурентные записи одной
// сессии разводятся optimistic locking-ом с ретраями.
type Service struct {
	carts   domain.CartRepository
	prices  domain.PriceResolver
	cache   domain.CartCache
	logger  *log.Entry
	metrics *metrics.CheckoutMetrics
}

// Option настраивает Service.
type Option func(*Service)

// WithCache включает read-through кеш корзин.
func WithCache(cache domain.CartCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithLogger подменяет логгер сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает метрики конфликтов версий.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService создаёт сервис корзины.
func NewService(carts domain.CartRepository, prices domain.PriceResolver, opts ...Option) *Service {
	s := &Service{
		carts:  carts,
		prices: prices,
		logger: log.WithField("component", "cart-service"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Get возвращает корзину сессии. Отсутствующая корзина трактуется как пустая:
// для витрины это одно и то же состояние.
func (s *Service) Get(ctx context.Context, sessionID string) (domain.CartSession, error) {
	if sessionID == "" {
		return domain.CartSession{}, domain.ErrSessionIDRequired
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, sessionID)
		if err == nil {
			return *cached, nil
		}
		if !errors.Is(err, domain.ErrCacheMiss) {
			s.logger.WithError(err).WithField("session_id", sessionID).Warn("cart cache read failed")
		}
	}

	cart, err := s.carts.Get(sessionID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return domain.CartSession{SessionID: sessionID}, nil
	}
	if err != nil {
		return domain.CartSession{}, fmt.Errorf("load cart: %w", err)
	}

	s.fillCache(ctx, &cart)
	return cart, nil
}

// AddItem добавляет товар в корзину. Существующая позиция с той же парой
// (product_id, variant_id) сливается: количества складываются, цена остаётся
// зафиксированной при первом добавлении.
func (s *Service) AddItem(ctx context.Context, sessionID, productID, variantID string, quantity int32) (domain.CartSession, error) {
	if sessionID == "" {
		return domain.CartSession{}, domain.ErrSessionIDRequired
	}
	if productID == "" {
		return domain.CartSession{}, domain.ErrProductIDRequired
	}
	if quantity <= 0 {
		return domain.CartSession{}, domain.ErrQuantityInvalid
	}

	return s.mutate(ctx, sessionID, true, func(cart *domain.CartSession) error {
		if idx := cart.FindLine(productID, variantID); idx >= 0 {
			cart.Lines[idx].Quantity += quantity
			return nil
		}

		snap, err := s.prices.Resolve(productID, variantID)
		if err != nil {
			return err
		}

		cart.Lines = append(cart.Lines, domain.CartLine{
			ProductID:      snap.ProductID,
			VariantID:      snap.VariantID,
			ProductName:    snap.ProductName,
			VariantName:    snap.VariantName,
			UnitPriceMinor: snap.UnitPriceMinor,
			Currency:       snap.Currency,
			Quantity:       quantity,
			ImageURL:       snap.ImageURL,
			AddedAt:        time.Now().UTC(),
		})
		return nil
	})
}

// UpdateQuantity выставляет количество позиции. Ноль эквивалентен удалению.
func (s *Service) UpdateQuantity(ctx context.Context, sessionID, productID, variantID string, quantity int32) (domain.CartSession, error) {
	if sessionID == "" {
		return domain.CartSession{}, domain.ErrSessionIDRequired
	}
	if quantity < 0 {
		return domain.CartSession{}, domain.ErrQuantityInvalid
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, sessionID, productID, variantID)
	}

	cart, err := s.mutate(ctx, sessionID, false, func(cart *domain.CartSession) error {
		idx := cart.FindLine(productID, variantID)
		if idx < 0 {
			return domain.ErrProductNotFound
		}
		cart.Lines[idx].Quantity = quantity
		return nil
	})
	if errors.Is(err, domain.ErrCartNotFound) {
		// В несуществующей корзине нет и позиции.
		return domain.CartSession{}, domain.ErrProductNotFound
	}
	return cart, err
}

// RemoveItem удаляет позицию. Отсутствующая позиция — и отсутствующая корзина
// как её вырожденный случай — не являются ошибкой: возвращается корзина как есть.
func (s *Service) RemoveItem(ctx context.Context, sessionID, productID, variantID string) (domain.CartSession, error) {
	if sessionID == "" {
		return domain.CartSession{}, domain.ErrSessionIDRequired
	}

	cart, err := s.mutate(ctx, sessionID, false, func(cart *domain.CartSession) error {
		idx := cart.FindLine(productID, variantID)
		if idx < 0 {
			return nil
		}
		cart.Lines = append(cart.Lines[:idx], cart.Lines[idx+1:]...)
		return nil
	})
	if errors.Is(err, domain.ErrCartNotFound) {
		return domain.CartSession{SessionID: sessionID}, nil
	}
	return cart, err
}

// Clear удаляет корзину целиком. Операция идемпотентна.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return domain.ErrSessionIDRequired
	}

	if err := s.carts.Delete(sessionID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	s.dropCache(ctx, sessionID)
	return nil
}

// mutate применяет fn к свежепрочитанной корзине и сохраняет результат через
// compare-and-swap. При конфликте версий корзина перечитывается и мутация
// применяется заново, с exponential backoff между попытками.
func (s *Service) mutate(ctx context.Context, sessionID string, createMissing bool, fn func(*domain.CartSession) error) (domain.CartSession, error) {
	const maxRetries = 5
	const baseDelay = 10 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		cart, err := s.carts.Get(sessionID)
		created := false
		if errors.Is(err, domain.ErrCartNotFound) {
			if !createMissing {
				return domain.CartSession{}, domain.ErrCartNotFound
			}
			cart = domain.CartSession{SessionID: sessionID}
			created = true
		} else if err != nil {
			return domain.CartSession{}, fmt.Errorf("load cart: %w", err)
		}

		if err := fn(&cart); err != nil {
			return domain.CartSession{}, err
		}

		cart.UpdatedAt = time.Now().UTC()

		if created {
			err = s.carts.Create(cart)
		} else {
			err = s.carts.Save(cart)
		}
		if err != nil {
			if domain.IsCartVersionConflict(err) && attempt < maxRetries-1 {
				if s.metrics != nil {
					s.metrics.RecordCartVersionConflict()
				}
				s.logger.WithFields(log.Fields{
					"session_id": sessionID,
					"attempt":    attempt + 1,
					"version":    cart.Version,
				}).Warn("cart version conflict, retrying")

				time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
				continue
			}
			return domain.CartSession{}, fmt.Errorf("save cart: %w", err)
		}

		if !created {
			cart.Version++
		}

		s.fillCache(ctx, &cart)
		return cart, nil
	}

	return domain.CartSession{}, domain.ErrCartVersionConflict
}

func (s *Service) fillCache(ctx context.Context, cart *domain.CartSession) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, cart); err != nil {
		s.logger.WithError(err).WithField("session_id", cart.SessionID).Warn("cart cache write failed")
	}
}

func (s *Service) dropCache(ctx context.Context, sessionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, sessionID); err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Warn("cart cache invalidation failed")
	}
}
