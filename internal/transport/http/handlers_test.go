package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	cartsvc "github.com/vladislavdragonenkov/checkout/internal/service/cart"
	checkoutsvc "github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
	"github.com/vladislavdragonenkov/checkout/internal/service/pricing"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

type apiEnv struct {
	router  *gin.Engine
	gateway *payment.MockGateway
	orders  domain.OrderRepository
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	prices := pricing.NewMockResolver()
	prices.AddProduct(domain.PriceSnapshot{
		ProductID:      "prod-a",
		ProductName:    "Чайник",
		UnitPriceMinor: 1000,
		Currency:       "USD",
	})
	prices.AddProduct(domain.PriceSnapshot{
		ProductID:      "prod-b",
		ProductName:    "Чашка",
		UnitPriceMinor: 500,
		Currency:       "USD",
	})

	carts := memory.NewCartRepository()
	orders := memory.NewOrderRepository()
	gateway := payment.NewMockGateway()

	cartService := cartsvc.NewService(carts, prices)
	checkoutService := checkoutsvc.NewService(
		carts,
		orders,
		memory.NewAttemptRepository(),
		memory.NewOutboxRepository(),
		memory.NewNotificationRepository(),
		gateway,
	)

	router := NewRouter(
		NewCartHandler(cartService, nil),
		NewCheckoutHandler(checkoutService, nil),
		nil,
	)

	return &apiEnv{router: router, gateway: gateway, orders: orders}
}

func (e *apiEnv) post(t *testing.T, path string, body map[string]interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func (e *apiEnv) addItem(t *testing.T, sessionID, productID string, qty int) cartView {
	t.Helper()

	rec := e.post(t, "/api/cart", map[string]interface{}{
		"action":     actionAddItem,
		"session_id": sessionID,
		"product_id": productID,
		"quantity":   qty,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("add item failed: %d %s", rec.Code, rec.Body.String())
	}

	var view cartView
	decodeJSON(t, rec, &view)
	return view
}

func TestCartAPI_AddAndGet(t *testing.T) {
	env := newAPIEnv(t)

	view := env.addItem(t, "sess-1", "prod-a", 2)
	if view.TotalAmount != "20.00" || view.TotalItems != 2 {
		t.Fatalf("unexpected cart after add: %+v", view)
	}

	env.addItem(t, "sess-1", "prod-b", 1)

	rec := env.post(t, "/api/cart", map[string]interface{}{
		"action":     actionGetCart,
		"session_id": "sess-1",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get cart: %d %s", rec.Code, rec.Body.String())
	}

	var got cartView
	decodeJSON(t, rec, &got)
	if len(got.Items) != 2 || got.TotalAmount != "25.00" || got.TotalItems != 3 {
		t.Fatalf("unexpected cart: %+v", got)
	}
	if got.Items[0].UnitPrice != "10.00" {
		t.Fatalf("unit price must be a two-digit decimal, got %s", got.Items[0].UnitPrice)
	}
}

func TestCartAPI_UpdateQuantityToZeroRemovesLine(t *testing.T) {
	env := newAPIEnv(t)
	env.addItem(t, "sess-1", "prod-a", 2)

	rec := env.post(t, "/api/cart", map[string]interface{}{
		"action":     actionUpdateQuantity,
		"session_id": "sess-1",
		"product_id": "prod-a",
		"quantity":   0,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("update quantity: %d %s", rec.Code, rec.Body.String())
	}

	var got cartView
	decodeJSON(t, rec, &got)
	if len(got.Items) != 0 || got.TotalAmount != "0.00" {
		t.Fatalf("expected empty cart, got %+v", got)
	}
}

func TestCartAPI_RemoveFromMissingCartReturnsEmptyCart(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.post(t, "/api/cart", map[string]interface{}{
		"action":     actionRemoveItem,
		"session_id": "fresh-session",
		"product_id": "prod-a",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove from missing cart: %d %s", rec.Code, rec.Body.String())
	}

	var got cartView
	decodeJSON(t, rec, &got)
	if len(got.Items) != 0 || got.SessionID != "fresh-session" {
		t.Fatalf("expected empty cart view, got %+v", got)
	}
}

func TestCartAPI_ValidationErrors(t *testing.T) {
	env := newAPIEnv(t)

	tests := []struct {
		name     string
		body     map[string]interface{}
		wantCode int
		wantErr  string
	}{
		{
			name: "unknown action",
			body: map[string]interface{}{
				"action": "EXPLODE", "session_id": "sess-1",
			},
			wantCode: http.StatusBadRequest,
			wantErr:  codeValidationFailed,
		},
		{
			name: "missing session",
			body: map[string]interface{}{
				"action": actionGetCart,
			},
			wantCode: http.StatusBadRequest,
			wantErr:  codeValidationFailed,
		},
		{
			name: "unknown product",
			body: map[string]interface{}{
				"action": actionAddItem, "session_id": "sess-1", "product_id": "ghost", "quantity": 1,
			},
			wantCode: http.StatusNotFound,
			wantErr:  codeProductNotFound,
		},
		{
			name: "negative quantity",
			body: map[string]interface{}{
				"action": actionAddItem, "session_id": "sess-1", "product_id": "prod-a", "quantity": -1,
			},
			wantCode: http.StatusBadRequest,
			wantErr:  codeValidationFailed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.post(t, "/api/cart", tc.body, nil)
			if rec.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d: %s", tc.wantCode, rec.Code, rec.Body.String())
			}

			var body errorBody
			decodeJSON(t, rec, &body)
			if body.Error.Code != tc.wantErr {
				t.Fatalf("expected code %s, got %s", tc.wantErr, body.Error.Code)
			}
		})
	}
}

func TestCheckoutAPI_EndToEnd(t *testing.T) {
	env := newAPIEnv(t)
	env.addItem(t, "sess-1", "prod-a", 2)
	env.addItem(t, "sess-1", "prod-b", 1)

	rec := env.post(t, "/api/checkout", map[string]interface{}{
		"amount":       "25.00",
		"sessionId":    "sess-1",
		"paymentToken": "tok_visa",
		"attemptNonce": "nonce-1",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: %d %s", rec.Code, rec.Body.String())
	}

	var success checkoutSuccess
	decodeJSON(t, rec, &success)
	if success.Status != "completed" || success.OrderID == "" || success.Amount != "25.00" {
		t.Fatalf("unexpected success body: %+v", success)
	}

	order, err := env.orders.Get(success.OrderID)
	if err != nil {
		t.Fatalf("order not recorded: %v", err)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(order.Items))
	}

	// Корзина после успешного заказа пуста.
	cartRec := env.post(t, "/api/cart", map[string]interface{}{
		"action":     actionGetCart,
		"session_id": "sess-1",
	}, nil)
	var got cartView
	decodeJSON(t, cartRec, &got)
	if len(got.Items) != 0 {
		t.Fatalf("cart must be empty after checkout, got %+v", got)
	}
}

func TestCheckoutAPI_AmountMismatch(t *testing.T) {
	env := newAPIEnv(t)
	env.addItem(t, "sess-1", "prod-a", 2)
	env.addItem(t, "sess-1", "prod-b", 1)

	rec := env.post(t, "/api/checkout", map[string]interface{}{
		"amount":       "20.00",
		"sessionId":    "sess-1",
		"paymentToken": "tok_visa",
		"attemptNonce": "nonce-1",
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", rec.Code, rec.Body.String())
	}

	var body errorBody
	decodeJSON(t, rec, &body)
	if body.Error.Code != codeAmountMismatch {
		t.Fatalf("expected AMOUNT_MISMATCH, got %s", body.Error.Code)
	}
	if env.gateway.ChargeCalls != 0 {
		t.Fatalf("gateway must not be called, got %d", env.gateway.ChargeCalls)
	}

	// Корзина не тронута.
	cartRec := env.post(t, "/api/cart", map[string]interface{}{
		"action":     actionGetCart,
		"session_id": "sess-1",
	}, nil)
	var got cartView
	decodeJSON(t, cartRec, &got)
	if got.TotalAmount != "25.00" {
		t.Fatalf("cart must be unchanged, got %+v", got)
	}
}

func TestCheckoutAPI_ReplayByIdempotencyHeader(t *testing.T) {
	env := newAPIEnv(t)
	env.addItem(t, "sess-1", "prod-a", 1)

	body := map[string]interface{}{
		"amount":       "10.00",
		"sessionId":    "sess-1",
		"paymentToken": "tok_visa",
	}
	headers := map[string]string{"Idempotency-Key": "attempt-42"}

	first := env.post(t, "/api/checkout", body, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("first checkout: %d %s", first.Code, first.Body.String())
	}

	// Ответ потерялся в сети; клиент повторяет с тем же ключом.
	env.addItem(t, "sess-1", "prod-a", 1)

	second := env.post(t, "/api/checkout", body, headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay checkout: %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatal("replay must be marked with Idempotent-Replayed header")
	}

	var a, b checkoutSuccess
	decodeJSON(t, first, &a)
	decodeJSON(t, second, &b)
	if a.OrderID != b.OrderID {
		t.Fatalf("replay produced a different order: %s vs %s", a.OrderID, b.OrderID)
	}
	if env.gateway.ChargeCalls != 1 {
		t.Fatalf("expected one charge, got %d", env.gateway.ChargeCalls)
	}
}

func TestCheckoutAPI_DeclinedMapsTo402(t *testing.T) {
	env := newAPIEnv(t)
	env.addItem(t, "sess-1", "prod-a", 1)
	env.gateway.ChargeResult = domain.ChargeResult{
		Outcome:       domain.ChargeDeclined,
		DeclineReason: "insufficient_funds",
	}

	rec := env.post(t, "/api/checkout", map[string]interface{}{
		"amount":       "10.00",
		"sessionId":    "sess-1",
		"paymentToken": "tok_visa",
		"attemptNonce": "nonce-1",
	}, nil)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d %s", rec.Code, rec.Body.String())
	}

	var body errorBody
	decodeJSON(t, rec, &body)
	if body.Error.Code != codePaymentDeclined || body.Error.Message != "insufficient_funds" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestCheckoutAPI_EmptyCartMapsToValidationFailed(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.post(t, "/api/checkout", map[string]interface{}{
		"amount":       "10.00",
		"sessionId":    "sess-none",
		"paymentToken": "tok_visa",
		"attemptNonce": "nonce-1",
	}, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", rec.Code, rec.Body.String())
	}

	var body errorBody
	decodeJSON(t, rec, &body)
	if body.Error.Code != codeValidationFailed {
		t.Fatalf("empty cart must map to VALIDATION_FAILED, got %s", body.Error.Code)
	}
}

func TestCheckoutAPI_RejectsFractionalCents(t *testing.T) {
	env := newAPIEnv(t)
	env.addItem(t, "sess-1", "prod-a", 1)

	rec := env.post(t, "/api/checkout", map[string]interface{}{
		"amount":       "10.001",
		"sessionId":    "sess-1",
		"paymentToken": "tok_visa",
		"attemptNonce": "nonce-1",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", rec.Code, rec.Body.String())
	}
}
