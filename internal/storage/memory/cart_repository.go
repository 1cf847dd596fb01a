package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// cartRepositoryInMemory — in-memory реализация CartRepository с optimistic
// locking по полю Version.
type cartRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.CartSession
}

// NewCartRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewCartRepository() domain.CartRepository {
	return &cartRepositoryInMemory{
		items: make(map[string]domain.CartSession),
	}
}

// Get возвращает копию корзины или ErrCartNotFound.
func (r *cartRepositoryInMemory) Get(sessionID string) (domain.CartSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.items[sessionID]
	if !ok {
		return domain.CartSession{}, domain.ErrCartNotFound
	}
	return cloneCart(cart), nil
}

// Create сохраняет новую корзину, если сессия ещё не занята.
func (r *cartRepositoryInMemory) Create(cart domain.CartSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[cart.SessionID]; exists {
		return domain.ErrCartVersionConflict
	}
	cart.Version = 0
	r.items[cart.SessionID] = cloneCart(cart)
	return nil
}

// Save перезаписывает корзину, проверяя версию (optimistic locking).
func (r *cartRepositoryInMemory) Save(cart domain.CartSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[cart.SessionID]
	if !ok {
		return domain.ErrCartNotFound
	}
	if current.Version != cart.Version {
		return domain.ErrCartVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	cart.Version++
	r.items[cart.SessionID] = cloneCart(cart)
	return nil
}

// Delete удаляет корзину; отсутствующая сессия — не ошибка.
func (r *cartRepositoryInMemory) Delete(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, sessionID)
	return nil
}

// cloneCart копирует корзину вместе с позициями, чтобы избежать
// непредсказуемых мутаций извне.
func cloneCart(src domain.CartSession) domain.CartSession {
	dst := src
	dst.Lines = make([]domain.CartLine, len(src.Lines))
	copy(dst.Lines, src.Lines)
	return dst
}

var _ domain.CartRepository = (*cartRepositoryInMemory)(nil)
