package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type priceResolver struct {
	db *sql.DB
}

// NewPriceResolver создаёт PriceResolver поверх таблицы products.
// Резолв выполняется ровно один раз, при добавлении позиции в корзину;
// дальше позиция живёт со снапшотом цены.
func NewPriceResolver(store *Store) domain.PriceResolver {
	return &priceResolver{db: store.DB()}
}

func (r *priceResolver) Resolve(productID, variantID string) (domain.PriceSnapshot, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.PriceSnapshot{}, domain.ErrProductNotFound
	}
	variantID = strings.TrimSpace(variantID)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var snap domain.PriceSnapshot

	err := r.db.QueryRowContext(ctx, `
		SELECT product_id, variant_id, product_name, variant_name,
		       price_minor, currency, image_url
		FROM products
		WHERE product_id = $1
		  AND variant_id = $2
		  AND active
	`, productID, variantID).Scan(
		&snap.ProductID, &snap.VariantID, &snap.ProductName, &snap.VariantName,
		&snap.UnitPriceMinor, &snap.Currency, &snap.ImageURL,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PriceSnapshot{}, domain.ErrProductNotFound
		}
		return domain.PriceSnapshot{}, fmt.Errorf("resolve price for product %s: %w", productID, err)
	}

	return snap, nil
}

var _ domain.PriceResolver = (*priceResolver)(nil)
