package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

const defaultGatewayTimeout = 10 * time.Second

// GatewayClient — HTTP-клиент внешнего платёжного процессора. Сырые карточные
// данные через него не проходят: клиент оперирует только платёжным токеном.
// Каждый запрос списания несёт Idempotency-Key, по которому процессор
// дедуплицирует повторы.
type GatewayClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *log.Entry
}

// GatewayOption настраивает GatewayClient.
type GatewayOption func(*GatewayClient)

// WithHTTPClient подменяет HTTP-клиент (для тестов и тонкой настройки).
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *GatewayClient) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// WithGatewayLogger подменяет логгер клиента.
func WithGatewayLogger(logger *log.Entry) GatewayOption {
	return func(g *GatewayClient) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGatewayClient создаёт клиента платёжного шлюза.
func NewGatewayClient(baseURL, apiKey string, opts ...GatewayOption) *GatewayClient {
	g := &GatewayClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: defaultGatewayTimeout,
		},
		logger: log.WithField("component", "payment-gateway"),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

type chargeRequest struct {
	AmountMinor  int64  `json:"amount_minor"`
	Currency     string `json:"currency"`
	PaymentToken string `json:"payment_token"`
	Description  string `json:"description,omitempty"`
}

type chargeResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
	DeclineReason string `json:"decline_reason,omitempty"`
	ReceiptURL    string `json:"receipt_url,omitempty"`
}

func (g *GatewayClient) Charge(ctx context.Context, intent domain.CheckoutIntent, paymentToken, idempotencyKey string) (domain.ChargeResult, error) {
	body, err := json.Marshal(chargeRequest{
		AmountMinor:  intent.AmountMinor,
		Currency:     intent.Currency,
		PaymentToken: paymentToken,
		Description:  "checkout session " + intent.SessionID,
	})
	if err != nil {
		return domain.ChargeResult{}, fmt.Errorf("marshal charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return domain.ChargeResult{}, fmt.Errorf("build charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		// Запрос мог дойти до шлюза: исход неизвестен, повтор допустим
		// только после сверки LookupCharge с тем же ключом.
		g.logger.WithError(err).WithField("idempotency_key", idempotencyKey).
			Warn("charge call failed in transit")
		return domain.ChargeResult{}, fmt.Errorf("%w: %v", domain.ErrChargeIndeterminate, err)
	}
	defer resp.Body.Close()

	if serverSide(resp.StatusCode) {
		// 5xx и 429 не говорят, что списания не было: шлюз мог упасть уже
		// после capture. Судьбу выясняет LookupCharge с тем же ключом.
		g.logger.WithFields(log.Fields{
			"idempotency_key": idempotencyKey,
			"http_status":     resp.StatusCode,
		}).Warn("gateway returned server error on charge")
		return domain.ChargeResult{}, fmt.Errorf("%w: gateway http %d", domain.ErrChargeIndeterminate, resp.StatusCode)
	}

	return g.decodeChargeResponse(resp, idempotencyKey)
}

func (g *GatewayClient) LookupCharge(ctx context.Context, idempotencyKey string) (domain.ChargeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.baseURL+"/v1/charges/by-idempotency-key/"+idempotencyKey, nil)
	if err != nil {
		return domain.ChargeResult{}, fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return domain.ChargeResult{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ChargeResult{}, domain.ErrChargeNotFound
	}
	if serverSide(resp.StatusCode) {
		// У lookup нет побочных эффектов: сбой сверки — это просто
		// недоступность, попытка остаётся неразрешённой.
		return domain.ChargeResult{}, fmt.Errorf("%w: gateway http %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}

	return g.decodeChargeResponse(resp, idempotencyKey)
}

// serverSide сообщает, что ответ означает проблему на стороне шлюза.
func serverSide(statusCode int) bool {
	return statusCode >= http.StatusInternalServerError || statusCode == http.StatusTooManyRequests
}

func (g *GatewayClient) decodeChargeResponse(resp *http.Response, idempotencyKey string) (domain.ChargeResult, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.ChargeResult{}, fmt.Errorf("read gateway response: %w", err)
	}

	var payload chargeResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.ChargeResult{}, fmt.Errorf("decode gateway response: %w", err)
	}

	result := domain.ChargeResult{
		GatewayRef:          payload.ID,
		AmountCapturedMinor: payload.AmountMinor,
		Currency:            payload.Currency,
		DeclineReason:       payload.DeclineReason,
		ReceiptURL:          payload.ReceiptURL,
	}

	switch payload.Status {
	case "succeeded":
		result.Outcome = domain.ChargeCompleted
	case "declined":
		result.Outcome = domain.ChargeDeclined
	case "token_rejected":
		result.Outcome = domain.ChargeTokenizationRejected
	default:
		return domain.ChargeResult{}, fmt.Errorf("unknown gateway charge status %q", payload.Status)
	}

	return result, nil
}

var _ domain.PaymentGateway = (*GatewayClient)(nil)
