package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

// Машиночитаемые коды ошибок checkout-ответа.
const (
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeEmptyCart          = "EMPTY_CART"
	CodeAmountMismatch     = "AMOUNT_MISMATCH"
	CodePaymentDeclined    = "PAYMENT_DECLINED"
	CodeTokenRejected      = "PAYMENT_TOKEN_REJECTED"
	CodeGatewayUnavailable = "GATEWAY_UNAVAILABLE"
	CodePaymentPending     = "PAYMENT_PENDING"
	CodePersistenceFailed  = "PERSISTENCE_FAILED"
	CodeAttemptInFlight    = "ATTEMPT_IN_FLIGHT"
	CodeAttemptMismatch    = "ATTEMPT_MISMATCH"
)

const defaultAttemptTTL = 24 * time.Hour

// Request — входные данные checkout-попытки.
type Request struct {
	SessionID string
	// DeclaredAmountMinor — сумма, которую клиент видел на экране. Сверяется
	// с серверной суммой корзины; расхождение сверх допуска отклоняется.
	DeclaredAmountMinor int64
	Currency            string
	// PaymentToken — токен платёжного метода; сырые карточные данные в
	// сервис не попадают.
	PaymentToken string
	// AttemptNonce — клиентский идентификатор логической попытки. Сетевые
	// ретраи одной попытки несут тот же nonce и дедуплицируются.
	AttemptNonce    string
	CustomerEmail   string
	ShippingAddress string
	BillingAddress  string
}

// Response — результат checkout в сериализуемом виде. Тело сохраняется в
// записи попытки и воспроизводится при повторах.
type Response struct {
	Status           string `json:"status"`
	OrderID          string `json:"order_id,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
	AmountMinor      int64  `json:"amount_minor,omitempty"`
	Currency         string `json:"currency,omitempty"`
	ReceiptURL       string `json:"receipt_url,omitempty"`
	ErrorCode        string `json:"error_code,omitempty"`
	Message          string `json:"message,omitempty"`
}

// Result — ответ сервиса транспортному слою.
type Result struct {
	HTTPStatus int
	Response   Response
	// Replayed выставлен, если ответ воспроизведён из записи попытки.
	Replayed bool
}

// Service реализует checkout-конвейер: validate → charge → commit → notify.
type Service struct {
	carts         domain.CartRepository
	cache         domain.CartCache
	orders        domain.OrderRepository
	attempts      domain.AttemptRepository
	outbox        domain.OutboxRepository
	notifications domain.NotificationRepository
	gateway       domain.PaymentGateway

	attemptTTL time.Duration
	logger     *log.Entry
	metrics    *metrics.CheckoutMetrics
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger подменяет логгер сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает метрики конвейера.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCartCache включает инвалидацию кеша корзин после успешного заказа.
func WithCartCache(cache domain.CartCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithAttemptTTL настраивает время жизни записей попыток.
func WithAttemptTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.attemptTTL = ttl
		}
	}
}

// NewService создаёт checkout-сервис.
func NewService(
	carts domain.CartRepository,
	orders domain.OrderRepository,
	attempts domain.AttemptRepository,
	outbox domain.OutboxRepository,
	notifications domain.NotificationRepository,
	gateway domain.PaymentGateway,
	opts ...Option,
) *Service {
	s := &Service{
		carts:         carts,
		orders:        orders,
		attempts:      attempts,
		outbox:        outbox,
		notifications: notifications,
		gateway:       gateway,
		attemptTTL:    defaultAttemptTTL,
		logger:        log.WithField("component", "checkout-service"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Checkout обрабатывает попытку оформления заказа. Повтор запроса с тем же
// (session_id, содержимое корзины, nonce) воспроизводит сохранённый ответ и
// не ведёт к второму списанию.
func (s *Service) Checkout(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.RecordCheckoutStarted()
	}
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordCheckoutFinished()
			s.metrics.RecordCheckoutDuration(time.Since(start))
		}
	}()

	if result, ok := s.validateRequest(req); !ok {
		return result, nil
	}

	key := domain.DeriveIdempotencyKey(req.SessionID, req.AttemptNonce)

	// Одно чтение корзины служит и сверке суммы, и снимку позиций:
	// параллельная мутация корзины не может развести их между собой.
	cart, err := s.carts.Get(req.SessionID)
	if errors.Is(err, domain.ErrCartNotFound) || (err == nil && cart.IsEmpty()) {
		// Пустая корзина может означать и ретрай успешной попытки, ответ
		// которой потерялся: сама попытка корзину уже очистила.
		if replay, ok, replayErr := s.replayFinished(key); replayErr != nil {
			return Result{}, replayErr
		} else if ok {
			return replay, nil
		}
		return s.failFast(http.StatusUnprocessableEntity, CodeEmptyCart, "cart is empty"), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load cart for checkout: %w", err)
	}

	serverTotal := cart.TotalMinor()
	if diff := serverTotal - req.DeclaredAmountMinor; diff > domain.AmountToleranceMinor || diff < -domain.AmountToleranceMinor {
		// Возможная подмена суммы на клиенте; сверх одного цента не прощаем.
		s.logger.WithFields(log.Fields{
			"session_id":      req.SessionID,
			"declared_amount": req.DeclaredAmountMinor,
			"server_amount":   serverTotal,
		}).Warn("declared amount does not match cart total")
		if s.metrics != nil {
			s.metrics.RecordCheckoutFailed("amount_mismatch")
		}
		return s.failFast(http.StatusConflict, CodeAmountMismatch,
			fmt.Sprintf("cart total is %d, not %d", serverTotal, req.DeclaredAmountMinor)), nil
	}

	if currency := cartCurrency(cart); currency != "" && currency != req.Currency {
		return s.failFast(http.StatusUnprocessableEntity, CodeValidationFailed,
			"currency does not match cart"), nil
	}

	intent := domain.CheckoutIntent{
		SessionID:       req.SessionID,
		AmountMinor:     serverTotal,
		Currency:        req.Currency,
		CartHash:        cart.Hash(),
		Lines:           cart.CloneLines(),
		CustomerEmail:   req.CustomerEmail,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		CreatedAt:       time.Now().UTC(),
	}

	intentBody, err := json.Marshal(intent)
	if err != nil {
		return Result{}, fmt.Errorf("marshal checkout intent: %w", err)
	}

	attempt, err := s.attempts.CreateProcessing(key, requestHash(req, intent.CartHash), intentBody, time.Now().UTC().Add(s.attemptTTL))
	if err != nil {
		return s.resolveExistingAttempt(attempt, err)
	}

	logger := s.logger.WithFields(log.Fields{
		"session_id":      req.SessionID,
		"idempotency_key": key,
	})

	chargeResult, result, captured := s.charge(ctx, logger, intent, req.PaymentToken, key)
	if !captured {
		// Списания не было либо его исход зафиксирован в result.
		s.storeAttemptResult(key, result)
		return result, nil
	}

	return s.commit(ctx, logger, key, intent, chargeResult), nil
}

func (s *Service) validateRequest(req Request) (Result, bool) {
	var msg string
	switch {
	case strings.TrimSpace(req.SessionID) == "":
		msg = "session_id is required"
	case strings.TrimSpace(req.PaymentToken) == "":
		msg = "payment_token is required"
	case strings.TrimSpace(req.AttemptNonce) == "":
		msg = "attempt_nonce is required"
	case strings.TrimSpace(req.Currency) == "":
		msg = "currency is required"
	case req.DeclaredAmountMinor <= 0:
		msg = "amount must be positive"
	default:
		return Result{}, true
	}

	if s.metrics != nil {
		s.metrics.RecordCheckoutFailed("validation")
	}
	return s.failFast(http.StatusBadRequest, CodeValidationFailed, msg), false
}

// charge выполняет списание. Если списание подтверждено, возвращает
// captured=true и результат шлюза; иначе — готовый Result с исходом.
func (s *Service) charge(ctx context.Context, logger *log.Entry, intent domain.CheckoutIntent, token, key string) (domain.ChargeResult, Result, bool) {
	gatewayStart := time.Now()
	chargeResult, err := s.gateway.Charge(ctx, intent, token, key)
	if s.metrics != nil {
		s.metrics.RecordGatewayDuration(time.Since(gatewayStart))
	}

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrChargeIndeterminate):
		return s.resolveIndeterminate(ctx, logger, key)
	case errors.Is(err, domain.ErrGatewayUnavailable):
		logger.WithError(err).Warn("payment gateway unavailable")
		if s.metrics != nil {
			s.metrics.RecordCheckoutFailed("gateway_unavailable")
		}
		return domain.ChargeResult{}, Result{
			HTTPStatus: http.StatusServiceUnavailable,
			Response: Response{
				Status:    "failed",
				ErrorCode: CodeGatewayUnavailable,
				Message:   "payment gateway is unavailable, no charge was made; safe to retry with the same attempt_nonce",
			},
		}, false
	default:
		logger.WithError(err).Error("charge call failed")
		if s.metrics != nil {
			s.metrics.RecordCheckoutFailed("gateway_error")
		}
		return domain.ChargeResult{}, Result{
			HTTPStatus: http.StatusBadGateway,
			Response: Response{
				Status:    "failed",
				ErrorCode: CodeGatewayUnavailable,
				Message:   "payment gateway error",
			},
		}, false
	}

	switch chargeResult.Outcome {
	case domain.ChargeCompleted:
		return chargeResult, Result{}, true
	case domain.ChargeDeclined:
		logger.WithField("decline_reason", chargeResult.DeclineReason).Info("charge declined")
		if s.metrics != nil {
			s.metrics.RecordCheckoutDeclined()
		}
		return domain.ChargeResult{}, Result{
			HTTPStatus: http.StatusPaymentRequired,
			Response: Response{
				Status:    "declined",
				ErrorCode: CodePaymentDeclined,
				Message:   chargeResult.DeclineReason,
			},
		}, false
	case domain.ChargeTokenizationRejected:
		if s.metrics != nil {
			s.metrics.RecordCheckoutFailed("token_rejected")
		}
		return domain.ChargeResult{}, Result{
			HTTPStatus: http.StatusUnprocessableEntity,
			Response: Response{
				Status:    "failed",
				ErrorCode: CodeTokenRejected,
				Message:   "payment token was rejected",
			},
		}, false
	default:
		logger.WithField("outcome", chargeResult.Outcome).Error("unexpected charge outcome")
		return domain.ChargeResult{}, Result{
			HTTPStatus: http.StatusBadGateway,
			Response: Response{
				Status:    "failed",
				ErrorCode: CodeGatewayUnavailable,
				Message:   "unexpected gateway response",
			},
		}, false
	}
}

// resolveIndeterminate разбирает таймаут списания: шлюз мог и списать, и не
// списать. Единственный безопасный путь — сверка по idempotency-ключу.
func (s *Service) resolveIndeterminate(ctx context.Context, logger *log.Entry, key string) (domain.ChargeResult, Result, bool) {
	lookup, err := s.gateway.LookupCharge(ctx, key)
	switch {
	case err == nil && lookup.Completed():
		logger.Info("indeterminate charge confirmed by lookup")
		return lookup, Result{}, true
	case err == nil:
		// Списание известно шлюзу, но не подтверждено: трактуем как отказ.
		if s.metrics != nil {
			s.metrics.RecordCheckoutDeclined()
		}
		return domain.ChargeResult{}, Result{
			HTTPStatus: http.StatusPaymentRequired,
			Response: Response{
				Status:    "declined",
				ErrorCode: CodePaymentDeclined,
				Message:   lookup.DeclineReason,
			},
		}, false
	case errors.Is(err, domain.ErrChargeNotFound):
		// До шлюза запрос не дошёл; списания не было.
		if s.metrics != nil {
			s.metrics.RecordCheckoutFailed("gateway_unavailable")
		}
		return domain.ChargeResult{}, Result{
			HTTPStatus: http.StatusServiceUnavailable,
			Response: Response{
				Status:    "failed",
				ErrorCode: CodeGatewayUnavailable,
				Message:   "charge did not reach the gateway, no charge was made; safe to retry with the same attempt_nonce",
			},
		}, false
	default:
		// Исход так и не известен. Фиксируем попытку для reconcile-воркера;
		// клиенту нельзя предлагать платить заново.
		logger.WithError(err).Error("charge outcome unresolved, deferring to reconcile")
		if markErr := s.attempts.MarkCapturedUnrecorded(key, ""); markErr != nil {
			logger.WithError(markErr).Error("failed to mark attempt for reconcile")
		}
		if s.metrics != nil {
			s.metrics.RecordCheckoutFailed("indeterminate")
		}
		return domain.ChargeResult{}, Result{
			HTTPStatus: http.StatusAccepted,
			Response: Response{
				Status:    "pending",
				ErrorCode: CodePaymentPending,
				Message:   "payment outcome is being verified, do not retry with a new attempt_nonce",
			},
		}, false
	}
}

// commit фиксирует заказ после подтверждённого списания. Сбой записи не
// откатывает списание: попытка помечается captured_unrecorded и достраивается
// reconcile-воркером.
func (s *Service) commit(ctx context.Context, logger *log.Entry, key string, intent domain.CheckoutIntent, charge domain.ChargeResult) Result {
	chargeRef := charge.GatewayRef
	if chargeRef == "" {
		// Шлюз дедуплицирует по idempotency-ключу, поэтому ключ годится как
		// уникальная ссылка, если явного идентификатора транзакции нет.
		chargeRef = key
	}
	order := OrderFromIntent(intent, charge, chargeRef)

	if err := s.orders.Create(order); err != nil {
		if errors.Is(err, domain.ErrOrderAlreadyExists) {
			// Заказ уже записан (например, reconcile успел раньше).
			if existing, getErr := s.orders.GetByPaymentReference(chargeRef); getErr == nil {
				order = existing
			} else {
				logger.WithError(getErr).Error("order exists but lookup failed")
			}
		} else {
			logger.WithError(err).WithField("charge_ref", chargeRef).
				Error("charge captured but order write failed")
			if markErr := s.attempts.MarkCapturedUnrecorded(key, chargeRef); markErr != nil {
				logger.WithError(markErr).Error("failed to mark captured_unrecorded")
			}
			if s.metrics != nil {
				s.metrics.RecordCheckoutFailed("persistence")
			}
			return Result{
				HTTPStatus: http.StatusInternalServerError,
				Response: Response{
					Status:           "pending",
					PaymentReference: chargeRef,
					ErrorCode:        CodePersistenceFailed,
					Message:          "payment captured, order recording is pending; do not pay again",
				},
			}
		}
	}

	result := Result{
		HTTPStatus: http.StatusCreated,
		Response: Response{
			Status:           "completed",
			OrderID:          order.ID,
			PaymentReference: order.PaymentReference,
			AmountMinor:      order.AmountMinor,
			Currency:         order.Currency,
			ReceiptURL:       charge.ReceiptURL,
		},
	}
	s.storeAttemptResult(key, result)

	if s.metrics != nil {
		s.metrics.RecordCheckoutSucceeded()
	}
	logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"charge_ref": chargeRef,
	}).Info("checkout completed")

	s.afterCommit(ctx, intent.SessionID, order)
	return result
}

// afterCommit выполняет best-effort шаги после фиксации заказа: событие в
// outbox, постановку уведомления и очистку корзины. Их сбои логируются, но
// не меняют исход checkout.
func (s *Service) afterCommit(ctx context.Context, sessionID string, order domain.Order) {
	payload, err := json.Marshal(map[string]interface{}{
		"order_id":          order.ID,
		"payment_reference": order.PaymentReference,
		"amount_minor":      order.AmountMinor,
		"currency":          order.Currency,
		"created_at":        order.CreatedAt,
	})
	if err == nil {
		if _, err := s.outbox.Enqueue(domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     "order.created",
			Payload:       payload,
		}); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Error("outbox enqueue failed")
		} else if s.metrics != nil {
			s.metrics.RecordOutboxEvent()
		}
	}

	if order.CustomerEmail != "" {
		if _, err := s.notifications.Enqueue(domain.Notification{
			OrderID:   order.ID,
			Type:      domain.NotificationOrderConfirmation,
			Recipient: order.CustomerEmail,
			Payload:   payload,
		}); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Error("confirmation enqueue failed")
		}
	}

	if sessionID != "" {
		if err := s.carts.Delete(sessionID); err != nil {
			s.logger.WithError(err).WithField("session_id", sessionID).Warn("cart cleanup failed")
		}
		if s.cache != nil {
			if err := s.cache.Delete(ctx, sessionID); err != nil {
				s.logger.WithError(err).WithField("session_id", sessionID).Warn("cart cache cleanup failed")
			}
		}
	}
}

// replayFinished воспроизводит ответ уже завершённой попытки, если она есть.
// Хеш запроса здесь не сверяется: вызов используется только когда корзина
// пуста, а без корзины исходный хеш невоспроизводим.
func (s *Service) replayFinished(key string) (Result, bool, error) {
	attempt, err := s.attempts.Get(key)
	if errors.Is(err, domain.ErrAttemptNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("lookup checkout attempt: %w", err)
	}
	if attempt.Status == domain.AttemptStatusProcessing {
		return Result{}, false, nil
	}

	result, resolveErr := s.resolveExistingAttempt(attempt, domain.ErrAttemptAlreadyExists)
	if resolveErr != nil {
		return Result{}, false, resolveErr
	}
	return result, true, nil
}

// resolveExistingAttempt обслуживает повтор запроса по занятому ключу.
func (s *Service) resolveExistingAttempt(attempt domain.CheckoutAttempt, err error) (Result, error) {
	if errors.Is(err, domain.ErrAttemptHashMismatch) {
		return Result{
			HTTPStatus: http.StatusUnprocessableEntity,
			Response: Response{
				Status:    "failed",
				ErrorCode: CodeAttemptMismatch,
				Message:   "attempt_nonce was already used with a different request",
			},
		}, nil
	}
	if !errors.Is(err, domain.ErrAttemptAlreadyExists) {
		return Result{}, fmt.Errorf("register checkout attempt: %w", err)
	}

	switch attempt.Status {
	case domain.AttemptStatusDone, domain.AttemptStatusFailed:
		var stored Response
		if unmarshalErr := json.Unmarshal(attempt.ResponseBody, &stored); unmarshalErr != nil {
			return Result{}, fmt.Errorf("decode stored attempt response: %w", unmarshalErr)
		}
		if s.metrics != nil {
			s.metrics.RecordCheckoutReplayed()
		}
		return Result{
			HTTPStatus: attempt.HTTPStatus,
			Response:   stored,
			Replayed:   true,
		}, nil
	case domain.AttemptStatusCapturedUnrecorded:
		return Result{
			HTTPStatus: http.StatusInternalServerError,
			Response: Response{
				Status:           "pending",
				PaymentReference: attempt.ChargeRef,
				ErrorCode:        CodePersistenceFailed,
				Message:          "payment captured, order recording is pending; do not pay again",
			},
			Replayed: true,
		}, nil
	default:
		return Result{
			HTTPStatus: http.StatusConflict,
			Response: Response{
				Status:    "processing",
				ErrorCode: CodeAttemptInFlight,
				Message:   "this attempt is still being processed",
			},
		}, nil
	}
}

// storeAttemptResult закрывает запись попытки сохранённым ответом.
func (s *Service) storeAttemptResult(key string, result Result) {
	body, err := json.Marshal(result.Response)
	if err != nil {
		s.logger.WithError(err).Error("marshal attempt response")
		return
	}

	switch {
	case result.Response.Status == "completed":
		err = s.attempts.MarkDone(key, body, result.HTTPStatus)
	case result.Response.ErrorCode == CodePaymentPending:
		// Попытка уже помечена captured_unrecorded, запись не трогаем.
		return
	case result.Response.ErrorCode == CodeGatewayUnavailable:
		// Недоступность шлюза — не исход попытки: ключ освобождается, и
		// повтор с тем же nonce снова дойдёт до шлюза. Повторное списание
		// исключено дедупликацией шлюза по тому же idempotency-ключу.
		err = s.attempts.Release(key)
	default:
		err = s.attempts.MarkFailed(key, body, result.HTTPStatus)
	}
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Error("store attempt result failed")
	}
}

func (s *Service) failFast(status int, code, msg string) Result {
	return Result{
		HTTPStatus: status,
		Response: Response{
			Status:    "failed",
			ErrorCode: code,
			Message:   msg,
		},
	}
}

// OrderFromIntent строит заказ по снимку checkout и данным списания.
// Используется и конвейером, и reconcile-воркером, чтобы оба пути давали
// одинаковые заказы. В сумму заказа идёт фактически списанное значение.
func OrderFromIntent(intent domain.CheckoutIntent, charge domain.ChargeResult, chargeRef string) domain.Order {
	now := time.Now().UTC()
	orderID := uuid.NewString()

	amount := charge.AmountCapturedMinor
	if amount == 0 {
		amount = intent.AmountMinor
	}

	items := make([]domain.OrderItem, 0, len(intent.Lines))
	for _, line := range intent.Lines {
		items = append(items, domain.OrderItem{
			ID:          uuid.NewString(),
			OrderID:     orderID,
			ProductID:   line.ProductID,
			VariantID:   line.VariantID,
			Quantity:    line.Quantity,
			PriceMinor:  line.UnitPriceMinor,
			ProductName: line.ProductName,
			ImageURL:    line.ImageURL,
			CreatedAt:   now,
		})
	}

	return domain.Order{
		ID:                orderID,
		PaymentReference:  chargeRef,
		Status:            domain.OrderStatusCompleted,
		FulfillmentStatus: domain.FulfillmentPending,
		AmountMinor:       amount,
		Currency:          intent.Currency,
		CustomerEmail:     intent.CustomerEmail,
		ShippingAddress:   intent.ShippingAddress,
		BillingAddress:    intent.BillingAddress,
		Items:             items,
		CreatedAt:         now,
	}
}

func cartCurrency(cart domain.CartSession) string {
	for _, line := range cart.Lines {
		if line.Currency != "" {
			return line.Currency
		}
	}
	return ""
}

func requestHash(req Request, cartHash string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		req.SessionID,
		fmt.Sprintf("%d", req.DeclaredAmountMinor),
		req.Currency,
		cartHash,
		req.PaymentToken,
		req.CustomerEmail,
	}, "\x1f")))
	return hex.EncodeToString(sum[:])
}
