package domain

import "time"

// OrderStatus описывает платёжный статус заказа. Заказ создаётся только после
// подтверждённого списания, поэтому единственное легальное значение — completed.
type OrderStatus string

const (
	// OrderStatusCompleted — списание подтверждено шлюзом, заказ зафиксирован.
	OrderStatusCompleted OrderStatus = "completed"
)

// FulfillmentStatus описывает жизненный цикл исполнения заказа. Он отделён от
// платёжного статуса и меняется административным путём, вне checkout-конвейера.
type FulfillmentStatus string

const (
	// FulfillmentPending — заказ оплачен и ожидает обработки.
	FulfillmentPending FulfillmentStatus = "pending"
	// FulfillmentProcessing — заказ взят в работу.
	FulfillmentProcessing FulfillmentStatus = "processing"
	// FulfillmentCompleted — заказ исполнен.
	FulfillmentCompleted FulfillmentStatus = "completed"
	// FulfillmentCancelled — исполнение отменено.
	FulfillmentCancelled FulfillmentStatus = "cancelled"
	// FulfillmentRefunded — средства возвращены клиенту.
	FulfillmentRefunded FulfillmentStatus = "refunded"
)

// fulfillmentTransitions задаёт допустимые переходы статуса исполнения.
var fulfillmentTransitions = map[FulfillmentStatus][]FulfillmentStatus{
	FulfillmentPending:    {FulfillmentProcessing, FulfillmentCancelled},
	FulfillmentProcessing: {FulfillmentCompleted, FulfillmentCancelled, FulfillmentRefunded},
	FulfillmentCompleted:  {FulfillmentRefunded},
}

// CanTransitionTo проверяет, допустим ли переход статуса исполнения.
func (s FulfillmentStatus) CanTransitionTo(next FulfillmentStatus) bool {
	for _, allowed := range fulfillmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OrderItem представляет одну позицию зафиксированного заказа. Цена копируется
// из снапшота корзины и никогда не пересчитывается.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	VariantID   string
	Quantity    int32
	PriceMinor  int64
	ProductName string
	ImageURL    string
	CreatedAt   time.Time
}

// Order — неизменяемая запись завершённой финансовой транзакции.
type Order struct {
	ID string
	// PaymentReference — идентификатор транзакции в платёжном шлюзе.
	PaymentReference  string
	Status            OrderStatus
	FulfillmentStatus FulfillmentStatus
	// AmountMinor равен сумме, фактически списанной шлюзом, а не значению,
	// присланному клиентом.
	AmountMinor     int64
	Currency        string
	CustomerEmail   string
	ShippingAddress string
	BillingAddress  string
	Items           []OrderItem
	CreatedAt       time.Time
}

// ValidateInvariants проверяет инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.PaymentReference == "" {
		errs = append(errs, ErrPaymentReferenceRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price, допуск — один цент.
	var calc int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Quantity) * item.PriceMinor
	}
	if diff := calc - o.AmountMinor; diff > AmountToleranceMinor || diff < -AmountToleranceMinor {
		errs = append(errs, ErrOrderAmountMismatch)
	}

	return errs
}
