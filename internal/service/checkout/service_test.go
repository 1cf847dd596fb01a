package checkout

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

type checkoutEnv struct {
	carts         domain.CartRepository
	orders        domain.OrderRepository
	attempts      domain.AttemptRepository
	outbox        *outboxInspector
	notifications domain.NotificationRepository
	gateway       *payment.MockGateway
	service       *Service
}

// outboxInspector оборачивает in-memory outbox ради доступа к AllPending.
type outboxInspector struct {
	domain.OutboxRepository
	inner interface {
		AllPending() []domain.OutboxMessage
	}
}

func newCheckoutEnv(t *testing.T, opts ...Option) *checkoutEnv {
	t.Helper()

	outboxRepo := memory.NewOutboxRepository()
	env := &checkoutEnv{
		carts:         memory.NewCartRepository(),
		orders:        memory.NewOrderRepository(),
		attempts:      memory.NewAttemptRepository(),
		outbox:        &outboxInspector{OutboxRepository: outboxRepo, inner: outboxRepo},
		notifications: memory.NewNotificationRepository(),
		gateway:       payment.NewMockGateway(),
	}
	env.service = NewService(env.carts, env.orders, env.attempts, env.outbox, env.notifications, env.gateway, opts...)
	return env
}

func (e *checkoutEnv) seedCart(t *testing.T, sessionID string) domain.CartSession {
	t.Helper()

	cart := domain.CartSession{
		SessionID: sessionID,
		Lines: []domain.CartLine{
			{ProductID: "prod-a", ProductName: "Чайник", Quantity: 2, UnitPriceMinor: 1500, Currency: "USD", AddedAt: time.Now().UTC()},
			{ProductID: "prod-b", VariantID: "var-1", ProductName: "Чашка", Quantity: 1, UnitPriceMinor: 700, Currency: "USD", AddedAt: time.Now().UTC()},
		},
	}
	if err := e.carts.Create(cart); err != nil {
		t.Fatalf("seed cart: %v", err)
	}
	return cart
}

func validRequest(sessionID string) Request {
	return Request{
		SessionID:           sessionID,
		DeclaredAmountMinor: 3700,
		Currency:            "USD",
		PaymentToken:        "tok_visa",
		AttemptNonce:        "nonce-1",
		CustomerEmail:       "buyer@example.com",
		ShippingAddress:     "Москва, ул. Ленина, 1",
	}
}

func TestCheckout_Success(t *testing.T) {
	env := newCheckoutEnv(t)
	env.seedCart(t, "sess-1")

	result, err := env.service.Checkout(context.Background(), validRequest("sess-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HTTPStatus != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%+v)", result.HTTPStatus, result.Response)
	}
	if result.Response.Status != "completed" || result.Response.OrderID == "" {
		t.Fatalf("unexpected response: %+v", result.Response)
	}
	if result.Response.AmountMinor != 3700 {
		t.Fatalf("expected captured amount 3700, got %d", result.Response.AmountMinor)
	}

	order, err := env.orders.Get(result.Response.OrderID)
	if err != nil {
		t.Fatalf("order not recorded: %v", err)
	}
	if order.PaymentReference != result.Response.PaymentReference {
		t.Fatalf("payment reference mismatch: %s vs %s", order.PaymentReference, result.Response.PaymentReference)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 order items, got %d", len(order.Items))
	}
	if order.FulfillmentStatus != domain.FulfillmentPending {
		t.Fatalf("expected pending fulfillment, got %s", order.FulfillmentStatus)
	}

	pending := env.outbox.inner.AllPending()
	if len(pending) != 1 || pending[0].EventType != "order.created" {
		t.Fatalf("expected one order.created outbox event, got %+v", pending)
	}

	notifications, err := env.notifications.PullPending(10)
	if err != nil {
		t.Fatalf("pull notifications: %v", err)
	}
	if len(notifications) != 1 || notifications[0].Type != domain.NotificationOrderConfirmation {
		t.Fatalf("expected one confirmation notification, got %+v", notifications)
	}

	if _, err := env.carts.Get("sess-1"); !errors.Is(err, domain.ErrCartNotFound) {
		t.Fatalf("expected cart cleared, got err=%v", err)
	}
}

func TestCheckout_ReplaySameNonce(t *testing.T) {
	env := newCheckoutEnv(t)
	env.seedCart(t, "sess-1")
	req := validRequest("sess-1")

	first, err := env.service.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}

	// Корзина уже очищена первой попыткой, но повтор с тем же nonce обязан
	// воспроизвести сохранённый ответ, а не упасть на пустой корзине.
	second, err := env.service.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("replay checkout: %v", err)
	}
	if !second.Replayed {
		t.Fatal("expected replayed result")
	}
	if second.Response.OrderID != first.Response.OrderID {
		t.Fatalf("replay produced different order: %s vs %s", second.Response.OrderID, first.Response.OrderID)
	}
	if env.gateway.ChargeCalls != 1 {
		t.Fatalf("expected exactly one charge, got %d", env.gateway.ChargeCalls)
	}
}

func TestCheckout_AmountMismatch(t *testing.T) {
	env := newCheckoutEnv(t)
	env.seedCart(t, "sess-1")

	req := validRequest("sess-1")
	req.DeclaredAmountMinor = 100

	result, err := env.service.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HTTPStatus != http.StatusConflict || result.Response.ErrorCode != CodeAmountMismatch {
		t.Fatalf("expected amount mismatch, got %d %+v", result.HTTPStatus, result.Response)
	}
	if env.gateway.ChargeCalls != 0 {
		t.Fatalf("gateway must not be called on mismatch, got %d calls", env.gateway.ChargeCalls)
	}
}

func TestCheckout_AmountWithinTolerance(t *testing.T) {
	env := newCheckoutEnv(t)
	env.seedCart(t, "sess-1")

	req := validRequest("sess-1")
	req.DeclaredAmountMinor = 3701 // Расхождение в один цент прощается.

	result, err := env.service.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HTTPStatus != http.StatusCreated {
		t.Fatalf("expected 201, got %d %+v", result.HTTPStatus, result.Response)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	env := newCheckoutEnv(t)

	result, err := env.service.Checkout(context.Background(), validRequest("sess-missing"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HTTPStatus != http.StatusUnprocessableEntity || result.Response.ErrorCode != CodeEmptyCart {
		t.Fatalf("expected empty cart rejection, got %d %+v", result.HTTPStatus, result.Response)
	}
}

func TestCheckout_ValidatesRequest(t *testing.T) {
	env := newCheckoutEnv(t)
	env.seedCart(t, "sess-1")

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing session", func(r *Request) { r.SessionID = "" }},
		{"missing token", func(r *Request) { r.PaymentToken = "" }},
		{"missing nonce", func(r *Request) { r.AttemptNonce = "" }},
		{"missing currency", func(r *Request) { r.Currency = "" }},
		{"non-positive amount", func(r *Request) { r.DeclaredAmountMinor = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest("sess-1")
			tc.mutate(&req)

			result, err := env.service.Checkout(context.Background(), req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.HTTPStatus != http.StatusBadRequest || result.Response.ErrorCode != CodeValidationFailed {
				t.Fatalf("expected validation failure, got %d %+v", result.HTTPStatus, result.Response)
			}
		})
	}
}

func TestCheckout_CurrencyMismatch(t *testing.T) {
	env := newCheckoutEnv(t)
	env.seedCart(t, "sess-1")

	req := validRequest("sess-1")
	req.Currency = "EUR"

	result, err := env.service.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HTTPStatus != http.StatusUnprocessableEntity || result.Response.ErrorCode != CodeValidationFailed {
		t.Fatalf("expected currency rejection, got %d %+v", result.HTTPStatus, result.Response)
	}
}

func TestCheckout_DeclinedIsReplayable(t *testing.T) {
	env := newCheckoutEnv(t)
	env.seedCart(t, "sess-1")
	env.gateway.ChargeResult = domain.ChargeResult{
		Outcome:       domain.ChargeDeclined,
		DeclineReason: "insufficient_funds",
	}

	req := validRequest("sess-1")

	first, err := env.service.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	if first.HTTPStatus != http.StatusPaymentRequired || first.Response.ErrorCode != CodePaymentDeclined {
		t.Fatalf("expected decline, got %d %+v", first.HTTPStatus, first.Response)
	}
	if first.Response.Message != "insufficient_funds" {
		t.Fatalf("decline reason lost: %+v", first.Response)
	}

	second, err := env.service.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("replay checkout: %v", err)
	}
	if !second.Replayed || second.HTTPStatus != http.StatusPaymentRequired {
		t.Fatalf("expected replayed decline, got %+v", second)
	}
	if env.gateway.ChargeCalls != 1 {
		t.Fatalf("expected one charge call, got %d", env.gateway.ChargeCalls)
	}
}

func TestCheckout_TokenRejected(t *testing.T) {
	env := newCheckoutEnv(t)
	env.seedCart(t, "sess-1")
	env.gateway.ChargeResult = domain.ChargeResult{Outcome: domain.ChargeTokenizationRejected}

	result, err := env.service.Checkout(context.Background(), validRequest("sess-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HTTPStatus != http.StatusUnprocessableEntity || result.Response.ErrorCode != CodeTokenRejected {
		t.Fatalf("expected token rejection, got %d %+v", result.HTTPStatus, result.Response)
	}
}

func TestCheckout_GatewayUnavailable(t *testing.T) {
	env := newCheckoutEnv(t)
	env.seedCart(t, "sess-1")
	env.gateway.ChargeErr = domain.ErrGatewayUnavailable

	result, err := env.service.Checkout(context.Background(), validRequest("sess-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HTTPStatus != http.StatusServiceUnavailable || result.Response.ErrorCode != CodeGatewayUnavailable {
		t.Fatalf("expected gateway unavailable, got %d %+v", result.HTTPStatus, result.Response)
	}

	if _, err := env.orders.GetByPaymentReference("ch_mock_1"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("no order must be recorded, got err=%v", err)
	}
}

func TestCheckout_GatewayUnavailableRetrySameNonce(t *testing.T) {
	env := newCheckoutEnv(t)
	env.seedCart(t, "sess-1")
	req := validRequest("sess-1")

	env.gateway.ChargeErr = domain.ErrGatewayUnavailable
	first, err := env.service.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	if first.HTTPStatus != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d %+v", first.HTTPStatus, first.Response)
	}

	// Недоступность шлюза — транзиентный сбой, а не исход попытки: повтор с
	// тем же nonce обязан снова дойти до шлюза, а не воспроизвести 503.
	env.gateway.ChargeErr = nil
	second, err := env.service.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("retry checkout: %v", err)
	}
	if second.Replayed {
		t.Fatalf("retry must reach the gateway, got replayed %+v", second.Response)
	}
	if second.HTTPStatus != http.StatusCreated {
		t.Fatalf("expected 201 on retry, got %d %+v", second.HTTPStatus, second.Response)
	}
	if env.gateway.ChargeCalls != 2 {
		t.Fatalf("expected the retry to charge again, got %d calls", env.gateway.ChargeCalls)
	}
}

func TestCheckout_IndeterminateConfirmedByLookup(t *testing.T) {
	env := newCheckoutEnv(t)
	env.seedCart(t, "sess-1")
	req := validRequest("sess-1")

	key := domain.DeriveIdempotencyKey(req.SessionID, req.AttemptNonce)
	env.gateway.ChargeErr = domain.ErrChargeIndeterminate
	env.gateway.SeedCharge(key, domain.ChargeResult{
		Outcome:             domain.ChargeCompleted,
		GatewayRef:          "ch_timeout_1",
		AmountCapturedMinor: 3700,
		Currency:            "USD",
	})

	result, err := env.service.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HTTPStatus != http.StatusCreated {
		t.Fatalf("expected 201 after lookup confirmation, got %d %+v", result.HTTPStatus, result.Response)
	}

	order, err := env.orders.GetByPaymentReference("ch_timeout_1")
	if err != nil {
		t.Fatalf("order not recorded after lookup: %v", err)
	}
	if order.AmountMinor != 3700 {
		t.Fatalf("expected captured amount, got %d", order.AmountMinor)
	}
}

func TestCheckout_IndeterminateChargeNeverReachedGateway(t *testing.T) {
	env := newCheckoutEnv(t)
	env.seedCart(t, "sess-1")
	env.gateway.ChargeErr = domain.ErrChargeIndeterminate

	result, err := env.service.Checkout(context.Background(), validRequest("sess-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HTTPStatus != http.StatusServiceUnavailable || result.Response.ErrorCode != CodeGatewayUnavailable {
		t.Fatalf("expected gateway unavailable, got %d %+v", result.HTTPStatus, result.Response)
	}
	if env.gateway.LookupCalls != 1 {
		t.Fatalf("expected one lookup, got %d", env.gateway.LookupCalls)
	}

	// Lookup подтвердил, что денег не списано: ключ освобождён и тот же
	// nonce может быть повторён после восстановления шлюза.
	env.gateway.ChargeErr = nil
	retry, err := env.service.Checkout(context.Background(), validRequest("sess-1"))
	if err != nil {
		t.Fatalf("retry checkout: %v", err)
	}
	if retry.Replayed || retry.HTTPStatus != http.StatusCreated {
		t.Fatalf("expected a fresh 201 on retry, got %+v", retry)
	}
}

func TestCheckout_IndeterminateUnresolvedDefersToReconcile(t *testing.T) {
	env := newCheckoutEnv(t)
	env.seedCart(t, "sess-1")
	env.gateway.ChargeErr = domain.ErrChargeIndeterminate
	env.gateway.LookupErr = errors.New("lookup timeout")

	result, err := env.service.Checkout(context.Background(), validRequest("sess-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HTTPStatus != http.StatusAccepted || result.Response.ErrorCode != CodePaymentPending {
		t.Fatalf("expected pending, got %d %+v", result.HTTPStatus, result.Response)
	}

	captured, err := env.attempts.ListCapturedUnrecorded(10)
	if err != nil {
		t.Fatalf("list captured: %v", err)
	}
	if len(captured) != 1 {
		t.Fatalf("expected one attempt deferred to reconcile, got %d", len(captured))
	}
}

// failingOrderRepo имитирует сбой хранилища на записи заказа.
type failingOrderRepo struct {
	domain.OrderRepository
	createErr error
}

func (r *failingOrderRepo) Create(order domain.Order) error {
	if r.createErr != nil {
		return r.createErr
	}
	return r.OrderRepository.Create(order)
}

func TestCheckout_CapturedButOrderWriteFails(t *testing.T) {
	outboxRepo := memory.NewOutboxRepository()
	carts := memory.NewCartRepository()
	attempts := memory.NewAttemptRepository()
	orders := &failingOrderRepo{
		OrderRepository: memory.NewOrderRepository(),
		createErr:       errors.New("connection reset"),
	}
	gateway := payment.NewMockGateway()
	svc := NewService(carts, orders, attempts, outboxRepo, memory.NewNotificationRepository(), gateway)

	cart := domain.CartSession{
		SessionID: "sess-1",
		Lines: []domain.CartLine{
			{ProductID: "prod-a", Quantity: 1, UnitPriceMinor: 3700, Currency: "USD"},
		},
	}
	if err := carts.Create(cart); err != nil {
		t.Fatalf("seed cart: %v", err)
	}

	req := validRequest("sess-1")

	result, err := svc.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HTTPStatus != http.StatusInternalServerError || result.Response.ErrorCode != CodePersistenceFailed {
		t.Fatalf("expected persistence failure, got %d %+v", result.HTTPStatus, result.Response)
	}
	if result.Response.PaymentReference == "" {
		t.Fatal("client must learn the payment reference of the captured charge")
	}

	captured, err := attempts.ListCapturedUnrecorded(10)
	if err != nil {
		t.Fatalf("list captured: %v", err)
	}
	if len(captured) != 1 || captured[0].ChargeRef == "" {
		t.Fatalf("expected captured_unrecorded attempt with charge ref, got %+v", captured)
	}
	if len(captured[0].IntentBody) == 0 {
		t.Fatal("intent body must survive for reconcile")
	}

	// Повтор с тем же nonce не ведёт к второму списанию.
	replay, err := svc.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.Response.ErrorCode != CodePersistenceFailed || !replay.Replayed {
		t.Fatalf("expected replayed persistence failure, got %+v", replay)
	}
	if gateway.ChargeCalls != 1 {
		t.Fatalf("expected one charge call, got %d", gateway.ChargeCalls)
	}
}

func TestCheckout_AttemptInFlight(t *testing.T) {
	env := newCheckoutEnv(t)
	cart := env.seedCart(t, "sess-1")
	req := validRequest("sess-1")

	key := domain.DeriveIdempotencyKey(req.SessionID, req.AttemptNonce)
	hash := requestHash(req, cart.Hash())
	if _, err := env.attempts.CreateProcessing(key, hash, []byte(`{}`), time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("seed processing attempt: %v", err)
	}

	result, err := env.service.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HTTPStatus != http.StatusConflict || result.Response.ErrorCode != CodeAttemptInFlight {
		t.Fatalf("expected in-flight conflict, got %d %+v", result.HTTPStatus, result.Response)
	}
	if env.gateway.ChargeCalls != 0 {
		t.Fatalf("gateway must not be called, got %d calls", env.gateway.ChargeCalls)
	}
}

func TestCheckout_NonceReuseWithDifferentRequest(t *testing.T) {
	env := newCheckoutEnv(t)
	env.seedCart(t, "sess-1")
	req := validRequest("sess-1")

	if _, err := env.service.Checkout(context.Background(), req); err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	env.seedCart(t, "sess-1")

	// Тот же nonce и та же корзина, но другое содержимое запроса.
	req.CustomerEmail = "other@example.com"

	result, err := env.service.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HTTPStatus != http.StatusUnprocessableEntity || result.Response.ErrorCode != CodeAttemptMismatch {
		t.Fatalf("expected attempt mismatch, got %d %+v", result.HTTPStatus, result.Response)
	}
}

func TestCheckout_OrderAmountIsCapturedAmount(t *testing.T) {
	env := newCheckoutEnv(t)
	env.seedCart(t, "sess-1")
	// Шлюз списал на цент меньше заявленного.
	env.gateway.ChargeResult = domain.ChargeResult{
		Outcome:             domain.ChargeCompleted,
		GatewayRef:          "ch_partial_1",
		AmountCapturedMinor: 3699,
		Currency:            "USD",
	}

	result, err := env.service.Checkout(context.Background(), validRequest("sess-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HTTPStatus != http.StatusCreated {
		t.Fatalf("expected 201, got %d %+v", result.HTTPStatus, result.Response)
	}

	order, err := env.orders.GetByPaymentReference("ch_partial_1")
	if err != nil {
		t.Fatalf("order lookup: %v", err)
	}
	if order.AmountMinor != 3699 {
		t.Fatalf("order amount must equal captured amount, got %d", order.AmountMinor)
	}
}
