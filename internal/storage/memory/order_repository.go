package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация ledger заказов.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
	byRef map[string]string
}

// NewOrderRepository возвращает in-memory ledger для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
		byRef: make(map[string]string),
	}
}

// Create сохраняет заказ вместе с позициями, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	if id, exists := r.byRef[order.PaymentReference]; exists && id != order.ID {
		return domain.ErrOrderAlreadyExists
	}
	r.items[order.ID] = cloneOrder(order)
	r.byRef[order.PaymentReference] = order.ID
	return nil
}

// Get возвращает заказ или ErrOrderNotFound.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// GetByPaymentReference ищет заказ по идентификатору транзакции шлюза.
func (r *orderRepositoryInMemory) GetByPaymentReference(ref string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byRef[ref]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(r.items[id]), nil
}

// UpdateFulfillment меняет статус исполнения с проверкой перехода.
func (r *orderRepositoryInMemory) UpdateFulfillment(id string, next domain.FulfillmentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if !order.FulfillmentStatus.CanTransitionTo(next) {
		return domain.ErrFulfillmentTransition
	}
	order.FulfillmentStatus = next
	r.items[id] = order
	return nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = make([]domain.OrderItem, len(src.Items))
	copy(dst.Items, src.Items)
	return dst
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
