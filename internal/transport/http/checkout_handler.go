package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
)

// checkoutRequest — тело POST /api/checkout. Сумма приходит десятичной
// строкой или числом и сверяется с серверной суммой корзины.
type checkoutRequest struct {
	Amount          decimal.Decimal `json:"amount" binding:"required"`
	Currency        string          `json:"currency"`
	SessionID       string          `json:"sessionId" binding:"required"`
	PaymentToken    string          `json:"paymentToken" binding:"required"`
	AttemptNonce    string          `json:"attemptNonce"`
	CustomerEmail   string          `json:"customerEmail"`
	ShippingAddress string          `json:"shippingAddress"`
	BillingAddress  string          `json:"billingAddress"`
}

// checkoutSuccess — успешный ответ checkout.
type checkoutSuccess struct {
	PaymentID  string `json:"paymentId"`
	OrderID    string `json:"orderId"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
	ReceiptURL string `json:"receiptUrl,omitempty"`
}

// CheckoutHandler обслуживает оформление заказа.
type CheckoutHandler struct {
	service *checkout.Service
	logger  *log.Entry
}

// NewCheckoutHandler создаёт обработчик checkout.
func NewCheckoutHandler(service *checkout.Service, logger *log.Entry) *CheckoutHandler {
	if logger == nil {
		logger = log.WithField("component", "checkout-handler")
	}
	return &CheckoutHandler{service: service, logger: logger}
}

// Handle принимает checkout-запрос и транслирует исход конвейера в API-ответ.
// Повтор запроса с тем же attempt nonce воспроизводит сохранённый ответ.
func (h *CheckoutHandler) Handle(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeValidationFailed, "invalid request body: "+err.Error())
		return
	}

	amountMinor, err := decimalToMinor(req.Amount)
	if err != nil {
		writeError(c, http.StatusBadRequest, codeValidationFailed, err.Error())
		return
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}

	nonce := strings.TrimSpace(req.AttemptNonce)
	if nonce == "" {
		nonce = strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	}
	if nonce == "" {
		// Без nonce дедупликация ретраев невозможна; каждая такая попытка
		// считается новой.
		nonce = uuid.NewString()
	}

	result, err := h.service.Checkout(c.Request.Context(), checkout.Request{
		SessionID:           req.SessionID,
		DeclaredAmountMinor: amountMinor,
		Currency:            currency,
		PaymentToken:        req.PaymentToken,
		AttemptNonce:        nonce,
		CustomerEmail:       strings.TrimSpace(req.CustomerEmail),
		ShippingAddress:     strings.TrimSpace(req.ShippingAddress),
		BillingAddress:      strings.TrimSpace(req.BillingAddress),
	})
	if err != nil {
		h.logger.WithError(err).WithField("session_id", req.SessionID).Error("checkout pipeline failed")
		writeError(c, http.StatusInternalServerError, codeInternalError, "checkout failed")
		return
	}

	if result.Replayed {
		c.Header("Idempotent-Replayed", "true")
	}

	if result.Response.Status == "completed" {
		c.JSON(result.HTTPStatus, checkoutSuccess{
			PaymentID:  result.Response.PaymentReference,
			OrderID:    result.Response.OrderID,
			Amount:     minorToDecimal(result.Response.AmountMinor),
			Currency:   result.Response.Currency,
			Status:     result.Response.Status,
			ReceiptURL: result.Response.ReceiptURL,
		})
		return
	}

	writeError(c, result.HTTPStatus, apiErrorCode(result.Response.ErrorCode), result.Response.Message)
}
