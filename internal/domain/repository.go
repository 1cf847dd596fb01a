package domain

// CartRepository описывает требования к хранилищу корзин.
type CartRepository interface {
	// Get возвращает корзину по идентификатору сессии или ErrCartNotFound.
	Get(sessionID string) (CartSession, error)
	// Create сохраняет новую корзину с Version=0.
	Create(cart CartSession) error
	// Save применяет обновления с учётом optimistic locking: запись проходит
	// только если версия в хранилище совпадает с cart.Version, иначе
	// ErrCartVersionConflict.
	Save(cart CartSession) error
	// Delete удаляет корзину. Отсутствующая корзина не является ошибкой.
	Delete(sessionID string) error
}

// OrderRepository описывает требования к ledger заказов.
type OrderRepository interface {
	// Create атомарно сохраняет заказ вместе с позициями. Возвращает
	// ErrOrderAlreadyExists, если запись с таким ID уже есть.
	Create(order Order) error
	// Get возвращает заказ с позициями или ErrOrderNotFound.
	Get(id string) (Order, error)
	// GetByPaymentReference ищет заказ по идентификатору транзакции шлюза.
	GetByPaymentReference(ref string) (Order, error)
	// UpdateFulfillment меняет статус исполнения с проверкой допустимости
	// перехода. Административный путь, checkout-конвейер его не вызывает.
	UpdateFulfillment(id string, next FulfillmentStatus) error
}
