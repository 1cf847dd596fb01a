package domain

// ChargeOutcome описывает исход попытки списания в платёжном шлюзе.
type ChargeOutcome string

const (
	// ChargeCompleted — списание подтверждено; только этот исход ведёт к
	// фиксации заказа.
	ChargeCompleted ChargeOutcome = "completed"
	// ChargeDeclined — шлюз отказал по бизнес-причине; состояние не меняется.
	ChargeDeclined ChargeOutcome = "declined"
	// ChargeGatewayUnavailable — временная ошибка; повтор безопасен с тем же
	// idempotency-ключом.
	ChargeGatewayUnavailable ChargeOutcome = "gateway_unavailable"
	// ChargeTokenizationRejected — платёжный токен не принят.
	ChargeTokenizationRejected ChargeOutcome = "tokenization_rejected"
)

// ChargeResult — результат вызова платёжного шлюза.
type ChargeResult struct {
	Outcome ChargeOutcome
	// GatewayRef — идентификатор транзакции у шлюза (только для completed).
	GatewayRef string
	// AmountCapturedMinor — фактически списанная сумма; именно она, а не
	// клиентская, попадает в Order.AmountMinor.
	AmountCapturedMinor int64
	Currency            string
	// DeclineReason — причина отказа, возвращается пользователю как есть.
	DeclineReason string
	ReceiptURL    string
}

// Completed сообщает, подтверждено ли списание.
func (r ChargeResult) Completed() bool {
	return r.Outcome == ChargeCompleted
}
