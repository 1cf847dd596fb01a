package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/cart"
)

// Действия над корзиной, принимаемые POST /api/cart.
const (
	actionGetCart        = "GET_CART"
	actionAddItem        = "ADD_ITEM"
	actionRemoveItem     = "REMOVE_ITEM"
	actionUpdateQuantity = "UPDATE_QUANTITY"
	actionClearCart      = "CLEAR_CART"
)

// cartRequest — тело запроса к корзине.
type cartRequest struct {
	Action    string `json:"action" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int32  `json:"quantity"`
}

// cartLineView — позиция корзины в ответе API.
type cartLineView struct {
	ProductID   string `json:"productId"`
	VariantID   string `json:"variantId,omitempty"`
	ProductName string `json:"productName"`
	VariantName string `json:"variantName,omitempty"`
	UnitPrice   string `json:"unitPrice"`
	Currency    string `json:"currency"`
	Quantity    int32  `json:"quantity"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// cartView — ответ API на любую операцию с корзиной.
type cartView struct {
	SessionID   string         `json:"sessionId"`
	Items       []cartLineView `json:"items"`
	TotalItems  int32          `json:"totalItems"`
	TotalAmount string         `json:"totalAmount"`
}

// CartHandler обслуживает операции с корзиной.
type CartHandler struct {
	service *cart.Service
	logger  *log.Entry
}

// NewCartHandler создаёт обработчик корзины.
func NewCartHandler(service *cart.Service, logger *log.Entry) *CartHandler {
	if logger == nil {
		logger = log.WithField("component", "cart-handler")
	}
	return &CartHandler{service: service, logger: logger}
}

// Handle разбирает действие и применяет его к корзине сессии.
func (h *CartHandler) Handle(c *gin.Context) {
	var req cartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeValidationFailed, "invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()

	var (
		result domain.CartSession
		err    error
	)

	switch req.Action {
	case actionGetCart:
		result, err = h.service.Get(ctx, req.SessionID)
	case actionAddItem:
		result, err = h.service.AddItem(ctx, req.SessionID, req.ProductID, req.VariantID, req.Quantity)
	case actionRemoveItem:
		result, err = h.service.RemoveItem(ctx, req.SessionID, req.ProductID, req.VariantID)
	case actionUpdateQuantity:
		result, err = h.service.UpdateQuantity(ctx, req.SessionID, req.ProductID, req.VariantID, req.Quantity)
	case actionClearCart:
		if err = h.service.Clear(ctx, req.SessionID); err == nil {
			result = domain.CartSession{SessionID: req.SessionID}
		}
	default:
		writeError(c, http.StatusBadRequest, codeValidationFailed, "unknown action: "+req.Action)
		return
	}

	if err != nil {
		h.writeCartError(c, req, err)
		return
	}

	c.JSON(http.StatusOK, cartViewFrom(result))
}

func (h *CartHandler) writeCartError(c *gin.Context, req cartRequest, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionIDRequired),
		errors.Is(err, domain.ErrProductIDRequired),
		errors.Is(err, domain.ErrQuantityInvalid):
		writeError(c, http.StatusBadRequest, codeValidationFailed, err.Error())
	case errors.Is(err, domain.ErrProductNotFound):
		writeError(c, http.StatusNotFound, codeProductNotFound, err.Error())
	default:
		h.logger.WithError(err).WithFields(log.Fields{
			"session_id": req.SessionID,
			"action":     req.Action,
		}).Error("cart operation failed")
		writeError(c, http.StatusInternalServerError, codeInternalError, "cart operation failed")
	}
}

func cartViewFrom(cart domain.CartSession) cartView {
	items := make([]cartLineView, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		items = append(items, cartLineView{
			ProductID:   line.ProductID,
			VariantID:   line.VariantID,
			ProductName: line.ProductName,
			VariantName: line.VariantName,
			UnitPrice:   minorToDecimal(line.UnitPriceMinor),
			Currency:    line.Currency,
			Quantity:    line.Quantity,
			ImageURL:    line.ImageURL,
		})
	}

	return cartView{
		SessionID:   cart.SessionID,
		Items:       items,
		TotalItems:  cart.TotalItems(),
		TotalAmount: minorToDecimal(cart.TotalMinor()),
	}
}
