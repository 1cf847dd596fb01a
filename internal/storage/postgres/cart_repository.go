package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
// Позиции корзины хранятся одним JSONB-документом: корзина читается и
// пишется целиком, а конкурентные записи разводятся по колонке version.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{db: store.DB()}
}

func (r *cartRepository) Get(sessionID string) (domain.CartSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.CartSession{}, domain.ErrSessionIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		cart     domain.CartSession
		cartData []byte
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT session_id, cart_data, version, updated_at
		FROM cart_sessions
		WHERE session_id = $1
	`, sessionID).Scan(&cart.SessionID, &cartData, &cart.Version, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CartSession{}, domain.ErrCartNotFound
		}
		return domain.CartSession{}, fmt.Errorf("select cart session: %w", err)
	}

	if err := json.Unmarshal(cartData, &cart.Lines); err != nil {
		return domain.CartSession{}, fmt.Errorf("decode cart lines for session %s: %w", sessionID, err)
	}

	return cart, nil
}

func (r *cartRepository) Create(cart domain.CartSession) error {
	if strings.TrimSpace(cart.SessionID) == "" {
		return domain.ErrSessionIDRequired
	}

	cartData, err := json.Marshal(cart.Lines)
	if err != nil {
		return fmt.Errorf("encode cart lines: %w", err)
	}

	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cart_sessions (session_id, cart_data, version, updated_at)
		VALUES ($1, $2, 0, $3)
	`, cart.SessionID, cartData, cart.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrCartVersionConflict
		}
		return fmt.Errorf("insert cart session: %w", err)
	}

	return nil
}

func (r *cartRepository) Save(cart domain.CartSession) error {
	if strings.TrimSpace(cart.SessionID) == "" {
		return domain.ErrSessionIDRequired
	}

	cartData, err := json.Marshal(cart.Lines)
	if err != nil {
		return fmt.Errorf("encode cart lines: %w", err)
	}

	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Compare-and-swap по version: запись проходит только если с момента
	// чтения корзину никто не переписал.
	res, err := r.db.ExecContext(ctx, `
		UPDATE cart_sessions
		SET cart_data = $1,
		    version = version + 1,
		    updated_at = $2
		WHERE session_id = $3
		  AND version = $4
	`, cartData, cart.UpdatedAt, cart.SessionID, cart.Version)
	if err != nil {
		return fmt.Errorf("update cart session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cart rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.cartExists(ctx, cart.SessionID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrCartNotFound
		}
		return domain.ErrCartVersionConflict
	}

	return nil
}

func (r *cartRepository) Delete(sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.ErrSessionIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Отсутствующая корзина не является ошибкой: удаление идемпотентно.
	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM cart_sessions
		WHERE session_id = $1
	`, sessionID); err != nil {
		return fmt.Errorf("delete cart session: %w", err)
	}

	return nil
}

func (r *cartRepository) cartExists(ctx context.Context, sessionID string) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT session_id FROM cart_sessions WHERE session_id = $1`, sessionID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check cart exists: %w", err)
}

var _ domain.CartRepository = (*cartRepository)(nil)
