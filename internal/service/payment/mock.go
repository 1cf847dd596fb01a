package payment

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// MockGateway — конфигурируемая заглушка PaymentGateway для тестов.
// Дедупликация по idempotency-ключу повторяет поведение реального шлюза:
// повторный Charge с известным ключом возвращает сохранённый результат,
// не увеличивая число фактических списаний.
type MockGateway struct {
	mu sync.Mutex

	ChargeResult domain.ChargeResult
	ChargeErr    error
	LookupErr    error

	ChargeCalls int
	LookupCalls int

	charges map[string]domain.ChargeResult
}

// NewMockGateway возвращает mock с успешным списанием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		ChargeResult: domain.ChargeResult{
			Outcome:    domain.ChargeCompleted,
			GatewayRef: "ch_mock_1",
		},
		charges: make(map[string]domain.ChargeResult),
	}
}

func (m *MockGateway) Charge(_ context.Context, intent domain.CheckoutIntent, _, idempotencyKey string) (domain.ChargeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ChargeCalls++

	if stored, ok := m.charges[idempotencyKey]; ok {
		return stored, nil
	}

	if m.ChargeErr != nil {
		return domain.ChargeResult{}, m.ChargeErr
	}

	result := m.ChargeResult
	if result.AmountCapturedMinor == 0 && result.Completed() {
		result.AmountCapturedMinor = intent.AmountMinor
		result.Currency = intent.Currency
	}
	if result.Completed() {
		m.charges[idempotencyKey] = result
	}

	return result, nil
}

func (m *MockGateway) LookupCharge(_ context.Context, idempotencyKey string) (domain.ChargeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LookupCalls++

	if m.LookupErr != nil {
		return domain.ChargeResult{}, m.LookupErr
	}

	stored, ok := m.charges[idempotencyKey]
	if !ok {
		return domain.ChargeResult{}, domain.ErrChargeNotFound
	}
	return stored, nil
}

// SeedCharge регистрирует списание, как будто оно уже состоялось у шлюза.
func (m *MockGateway) SeedCharge(idempotencyKey string, result domain.ChargeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charges[idempotencyKey] = result
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
