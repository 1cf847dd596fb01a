package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, payment_reference, status, fulfillment_status, total_amount,
			currency, customer_email, shipping_address, billing_address, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		order.ID, order.PaymentReference, string(order.Status), string(order.FulfillmentStatus),
		order.AmountMinor, order.Currency, order.CustomerEmail,
		order.ShippingAddress, order.BillingAddress, order.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, variant_id, quantity,
				price_at_time, product_name, image_url, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			item.ID, order.ID, item.ProductID, item.VariantID, item.Quantity,
			item.PriceMinor, item.ProductName, item.ImageURL, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}

	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getByField(ctx, "id", id)
}

func (r *orderRepository) GetByPaymentReference(ref string) (domain.Order, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Order{}, domain.ErrPaymentReferenceRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getByField(ctx, "payment_reference", ref)
}

func (r *orderRepository) UpdateFulfillment(id string, next domain.FulfillmentStatus) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var currentRaw string
	err = tx.QueryRowContext(ctx, `
		SELECT fulfillment_status
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&currentRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrOrderNotFound
		}
		return fmt.Errorf("select fulfillment status: %w", err)
	}

	current := domain.FulfillmentStatus(currentRaw)
	if !current.CanTransitionTo(next) {
		err = domain.ErrFulfillmentTransition
		return err
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET fulfillment_status = $1
		WHERE id = $2
	`, string(next), id); err != nil {
		return fmt.Errorf("update fulfillment status: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit fulfillment update: %w", err)
	}

	return nil
}

func (r *orderRepository) getByField(ctx context.Context, field, value string) (domain.Order, error) {
	var (
		order       domain.Order
		status      string
		fulfillment string
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, payment_reference, status, fulfillment_status, total_amount,
		       currency, customer_email, shipping_address, billing_address, created_at
		FROM orders
		WHERE `+field+` = $1
	`, value).Scan(
		&order.ID, &order.PaymentReference, &status, &fulfillment, &order.AmountMinor,
		&order.Currency, &order.CustomerEmail, &order.ShippingAddress, &order.BillingAddress, &order.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	order.FulfillmentStatus = domain.FulfillmentStatus(fulfillment)

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, variant_id, quantity,
		       price_at_time, product_name, image_url, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &item.VariantID, &item.Quantity,
			&item.PriceMinor, &item.ProductName, &item.ImageURL, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
