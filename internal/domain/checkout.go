package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// CheckoutIntent — проверенный и неизменяемый снимок корзины, с которым
// конвейер идёт в платёжный шлюз. Снимок берётся из того же чтения корзины,
// что и сверка суммы, поэтому параллельная мутация корзины не может развести
// списанную сумму и зафиксированные позиции.
type CheckoutIntent struct {
	SessionID string
	// AmountMinor — серверная сумма корзины, подтверждённая сверкой.
	AmountMinor int64
	Currency    string
	// CartHash — детерминированный хеш содержимого корзины на момент сверки.
	CartHash        string
	Lines           []CartLine
	CustomerEmail   string
	ShippingAddress string
	BillingAddress  string
	CreatedAt       time.Time
}

// DeriveIdempotencyKey выводит idempotency-ключ checkout-попытки
// детерминированно из (session_id, клиентский nonce попытки). Повтор того же
// логического запроса даёт тот же ключ, поэтому сетевые ретраи не приводят к
// второму списанию. Хеш корзины в ключ не входит намеренно: успешная попытка
// очищает корзину, и ключ, зависящий от её содержимого, не пережил бы ретрай
// потерянного ответа. Содержимое запроса сверяется отдельно, по request hash
// записи попытки.
func DeriveIdempotencyKey(sessionID, attemptNonce string) string {
	sum := sha256.Sum256([]byte(sessionID + "\x1f" + attemptNonce))
	return hex.EncodeToString(sum[:])
}

// AttemptStatus описывает жизненный цикл checkout-попытки.
type AttemptStatus string

const (
	// AttemptStatusProcessing — попытка принята и ещё обрабатывается.
	AttemptStatusProcessing AttemptStatus = "processing"
	// AttemptStatusCapturedUnrecorded — деньги списаны, но запись заказа не
	// удалась. Самое опасное состояние: его разбирает reconcile-воркер,
	// клиенту нельзя предлагать платить повторно.
	AttemptStatusCapturedUnrecorded AttemptStatus = "captured_unrecorded"
	// AttemptStatusDone — попытка завершена, ответ сохранён для replay.
	AttemptStatusDone AttemptStatus = "done"
	// AttemptStatusFailed — попытка завершилась ошибкой до списания;
	// повтор с тем же ключом безопасен.
	AttemptStatusFailed AttemptStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s AttemptStatus) Valid() bool {
	switch s {
	case AttemptStatusProcessing, AttemptStatusCapturedUnrecorded, AttemptStatusDone, AttemptStatusFailed:
		return true
	default:
		return false
	}
}

// CheckoutAttempt хранит состояние обработки логической checkout-попытки по
// её детерминированному idempotency-ключу.
type CheckoutAttempt struct {
	Key         string
	RequestHash string
	// IntentBody — сериализованный CheckoutIntent; по нему reconcile-воркер
	// достраивает заказ после сбоя записи.
	IntentBody []byte
	// ChargeRef — идентификатор транзакции шлюза, если списание состоялось.
	ChargeRef    string
	ResponseBody []byte
	HTTPStatus   int
	Status       AttemptStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
