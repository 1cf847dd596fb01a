package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора сессии.
	ErrSessionIDRequired = errors.New("session_id is required")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product_id is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrQuantityInvalid = errors.New("quantity must be greater than zero")
	// Ошибка, если цена позиции корзины отрицательная.
	ErrLinePriceInvalid = errors.New("line unit price must be non-negative")
	// Ошибка дублирующейся позиции (product_id, variant_id) внутри сессии.
	ErrDuplicateCartLine = errors.New("duplicate cart line for product/variant pair")
	// ErrCartNotFound возвращается, если корзина не найдена в хранилище.
	ErrCartNotFound = errors.New("cart session not found")
	// ErrCartVersionConflict сигнализирует о конфликте версий при записи корзины.
	ErrCartVersionConflict = errors.New("cart session version conflict")

	// ErrProductNotFound — товар не найден или снят с продажи.
	ErrProductNotFound = errors.New("product not found")

	// ErrEmptyCart — попытка checkout на корзине без позиций.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrAmountMismatch — заявленная клиентом сумма расходится с серверной
	// сверх допуска в один цент. Логируется как возможный сигнал подмены.
	ErrAmountMismatch = errors.New("declared amount does not match cart total")
	// ErrPaymentTokenRequired — отсутствует платёжный токен.
	ErrPaymentTokenRequired = errors.New("payment token is required")

	// ErrPaymentDeclined — шлюз отклонил списание (бизнес-ошибка).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrGatewayUnavailable — временная недоступность шлюза; повтор безопасен
	// только с тем же idempotency-ключом.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrTokenizationRejected — шлюз не принял платёжный токен.
	ErrTokenizationRejected = errors.New("payment token rejected")
	// ErrChargeIndeterminate — исход списания неизвестен; требуется сверка
	// по idempotency-ключу перед любым повтором.
	ErrChargeIndeterminate = errors.New("charge outcome indeterminate")
	// ErrChargeNotFound — шлюз не знает списания с данным idempotency-ключом.
	ErrChargeNotFound = errors.New("charge not found")

	// Ошибка отсутствующего gateway-идентификатора транзакции.
	ErrPaymentReferenceRequired = errors.New("payment_reference is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка при некорректном количестве в позиции заказа.
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка отрицательной цены позиции заказа.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrOrderAmountMismatch = errors.New("order amount does not match items sum")
	// ErrOrderNotFound возвращается, если заказ не найден в ledger.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists — заказ с таким ID уже зафиксирован.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrFulfillmentTransition — недопустимый переход статуса исполнения.
	ErrFulfillmentTransition = errors.New("illegal fulfillment status transition")

	// Ошибка отсутствующего idempotency-ключа checkout-попытки.
	ErrAttemptKeyRequired = errors.New("attempt key is required")
	// Ошибка отсутствующего хеша запроса.
	ErrAttemptRequestHashRequired = errors.New("attempt request hash is required")
	// ErrAttemptAlreadyExists — попытка с этим ключом уже зарегистрирована.
	ErrAttemptAlreadyExists = errors.New("checkout attempt already exists")
	// ErrAttemptHashMismatch — тот же ключ пришёл с другим содержимым запроса.
	ErrAttemptHashMismatch = errors.New("checkout attempt request hash mismatch")
	// ErrAttemptNotFound — попытка не найдена.
	ErrAttemptNotFound = errors.New("checkout attempt not found")
	// ErrAttemptInFlight — попытка с этим ключом ещё обрабатывается.
	ErrAttemptInFlight = errors.New("checkout attempt is still processing")

	// ErrCacheMiss — корзины нет в кеше; читающий идёт в репозиторий.
	ErrCacheMiss = errors.New("cache miss")

	// ErrNotificationNotFound — запись уведомления не найдена.
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// AmountToleranceMinor — абсолютный допуск при сверке сумм, один цент.
const AmountToleranceMinor int64 = 1

// IsCartVersionConflict проверяет, является ли ошибка конфликтом версий корзины.
func IsCartVersionConflict(err error) bool {
	return errors.Is(err, ErrCartVersionConflict)
}
