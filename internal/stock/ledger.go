// Package stock owns on-hand quantities. All mutations go through the
// Ledger so non-negativity is enforced in one place.
package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vasiliy-maslov/fulfillment-service/internal/db"
	"github.com/vasiliy-maslov/fulfillment-service/internal/order"
)

var ErrVariantNotFound = errors.New("stock variant not found")

// InsufficientStockError reports a per-variant shortfall. This is a
// business condition, not a bug: callers surface it with remediation
// hints.
type InsufficientStockError struct {
	VariantID uuid.UUID
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %s: available %d, requested %d", e.VariantID, e.Available, e.Requested)
}

// Ledger exposes atomic deduct/restore over the order's line items. Both
// run against the caller's Querier, so a failed transition rolls the
// quantity changes back together with the state writes.
type Ledger interface {
	// Deduct subtracts every line item quantity, or nothing at all: the
	// first shortfall aborts with *InsufficientStockError and the
	// enclosing transaction discards any deductions already applied.
	Deduct(ctx context.Context, q db.Querier, items []order.OrderItem) error
	// Restore adds the quantities back after a reversed approval. A
	// missing variant is fatal for the operation.
	Restore(ctx context.Context, q db.Querier, items []order.OrderItem) error
	GetVariantByID(ctx context.Context, q db.Querier, id uuid.UUID) (*StockVariant, error)
}

type postgresLedger struct{}

func NewLedger() Ledger {
	return &postgresLedger{}
}

func (l *postgresLedger) Deduct(ctx context.Context, q db.Querier, items []order.OrderItem) error {
	query := `
		UPDATE fulfillment.stock_variants
		SET quantity = quantity - $1, updated_at = $2
		WHERE id = $3 AND quantity >= $1
	`

	for _, item := range items {
		cmdTag, err := q.Exec(ctx, query, item.Quantity, time.Now().UTC(), item.VariantID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
				// The conditional update already guards against going
				// negative; the check constraint is the backstop. The
				// transaction is aborted at this point, so no lookup.
				return &InsufficientStockError{VariantID: item.VariantID, Requested: item.Quantity}
			}
			return fmt.Errorf("ledger: failed to deduct stock for variant %s: %w", item.VariantID, err)
		}

		if cmdTag.RowsAffected() == 0 {
			return l.shortfall(ctx, q, item)
		}
	}

	return nil
}

// shortfall distinguishes "not enough stock" from "no such variant" and
// builds the caller-facing error with the quantity actually available.
func (l *postgresLedger) shortfall(ctx context.Context, q db.Querier, item order.OrderItem) error {
	variant, err := l.GetVariantByID(ctx, q, item.VariantID)
	if err != nil {
		if errors.Is(err, ErrVariantNotFound) {
			return fmt.Errorf("ledger: variant %s in order line item: %w", item.VariantID, ErrVariantNotFound)
		}
		return err
	}

	return &InsufficientStockError{
		VariantID: item.VariantID,
		Available: variant.Quantity,
		Requested: item.Quantity,
	}
}

func (l *postgresLedger) Restore(ctx context.Context, q db.Querier, items []order.OrderItem) error {
	query := `
		UPDATE fulfillment.stock_variants
		SET quantity = quantity + $1, updated_at = $2
		WHERE id = $3
	`

	for _, item := range items {
		cmdTag, err := q.Exec(ctx, query, item.Quantity, time.Now().UTC(), item.VariantID)
		if err != nil {
			return fmt.Errorf("ledger: failed to restore stock for variant %s: %w", item.VariantID, err)
		}

		if cmdTag.RowsAffected() == 0 {
			return fmt.Errorf("ledger: restore for variant %s: %w", item.VariantID, ErrVariantNotFound)
		}
	}

	return nil
}

func (l *postgresLedger) GetVariantByID(ctx context.Context, q db.Querier, id uuid.UUID) (*StockVariant, error) {
	query := `
		SELECT id, size, color, quantity, created_at, updated_at
		FROM fulfillment.stock_variants
		WHERE id = $1
	`

	var v StockVariant
	err := q.QueryRow(ctx, query, id).Scan(
		&v.ID,
		&v.Size,
		&v.Color,
		&v.Quantity,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVariantNotFound
		}

		return nil, fmt.Errorf("ledger: failed to select variant by id %s: %w", id, err)
	}

	return &v, nil
}
