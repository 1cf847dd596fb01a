package http

import (
	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
)

// Коды ошибок внешнего API.
const (
	codeValidationFailed   = "VALIDATION_FAILED"
	codeProductNotFound    = "PRODUCT_NOT_FOUND"
	codeAmountMismatch     = "AMOUNT_MISMATCH"
	codePaymentDeclined    = "PAYMENT_DECLINED"
	codeGatewayUnavailable = "GATEWAY_UNAVAILABLE"
	codePersistenceFailed  = "PERSISTENCE_FAILED"
	codePaymentPending     = "PAYMENT_PENDING"
	codeAttemptInFlight    = "ATTEMPT_IN_FLIGHT"
	codeInternalError      = "INTERNAL_ERROR"
)

// errorBody — единый формат ошибки API.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// apiErrorCode сводит коды checkout-конвейера к внешней таксономии API.
func apiErrorCode(code string) string {
	switch code {
	case checkout.CodeEmptyCart, checkout.CodeTokenRejected, checkout.CodeAttemptMismatch, checkout.CodeValidationFailed:
		return codeValidationFailed
	case checkout.CodeAmountMismatch:
		return codeAmountMismatch
	case checkout.CodePaymentDeclined:
		return codePaymentDeclined
	case checkout.CodeGatewayUnavailable:
		return codeGatewayUnavailable
	case checkout.CodePersistenceFailed:
		return codePersistenceFailed
	case checkout.CodePaymentPending:
		return codePaymentPending
	case checkout.CodeAttemptInFlight:
		return codeAttemptInFlight
	default:
		return codeInternalError
	}
}
