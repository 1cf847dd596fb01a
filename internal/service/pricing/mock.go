package pricing

import (
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// MockResolver — конфигурируемая заглушка PriceResolver для тестов и
// локальной разработки без каталога в PostgreSQL.
type MockResolver struct {
	mu sync.RWMutex

	ResolveErr error

	ResolveCalls int

	snapshots map[string]domain.PriceSnapshot
}

// NewMockResolver возвращает резолвер с пустым каталогом.
func NewMockResolver() *MockResolver {
	return &MockResolver{
		snapshots: make(map[string]domain.PriceSnapshot),
	}
}

// AddProduct регистрирует товар в каталоге заглушки.
func (m *MockResolver) AddProduct(snap domain.PriceSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[domain.LineKey(snap.ProductID, snap.VariantID)] = snap
}

// Resolve возвращает снапшот из каталога заглушки или ErrProductNotFound.
func (m *MockResolver) Resolve(productID, variantID string) (domain.PriceSnapshot, error) {
	m.mu.Lock()
	m.ResolveCalls++
	m.mu.Unlock()

	if m.ResolveErr != nil {
		return domain.PriceSnapshot{}, m.ResolveErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snapshots[domain.LineKey(productID, variantID)]
	if !ok {
		return domain.PriceSnapshot{}, domain.ErrProductNotFound
	}
	return snap, nil
}

var _ domain.PriceResolver = (*MockResolver)(nil)
