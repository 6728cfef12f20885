package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/fulfillment-service/internal/db"
	"github.com/vasiliy-maslov/fulfillment-service/internal/state"
)

var ErrOrderNotFound = errors.New("order not found")

// Repository reads and writes orders. Every method takes a db.Querier so
// the caller decides the transaction boundary: the fulfillment service
// runs lookups and status writes of one operation inside one transaction.
type Repository interface {
	GetByID(ctx context.Context, q db.Querier, id uuid.UUID) (*Order, error)
	// GetByIDForUpdate locks the order row, serializing concurrent
	// transitions for the same order id.
	GetByIDForUpdate(ctx context.Context, q db.Querier, id uuid.UUID) (*Order, error)
	UpdateStatus(ctx context.Context, q db.Querier, id uuid.UUID, newStatus state.OrderState) error
}

type postgresRepository struct{}

func NewRepository() Repository {
	return &postgresRepository{}
}

func (r *postgresRepository) GetByID(ctx context.Context, q db.Querier, id uuid.UUID) (*Order, error) {
	return r.getByID(ctx, q, id, false)
}

func (r *postgresRepository) GetByIDForUpdate(ctx context.Context, q db.Querier, id uuid.UUID) (*Order, error) {
	return r.getByID(ctx, q, id, true)
}

func (r *postgresRepository) getByID(ctx context.Context, q db.Querier, orderID uuid.UUID, forUpdate bool) (*Order, error) {
	queryOrder := `
		SELECT id, user_id, status, total_amount, created_at, updated_at
		FROM fulfillment.orders
		WHERE id = $1
	`
	if forUpdate {
		queryOrder += " FOR UPDATE"
	}

	var ord Order
	err := q.QueryRow(ctx, queryOrder, orderID).Scan(
		&ord.ID,
		&ord.UserID,
		&ord.Status,
		&ord.TotalAmount,
		&ord.CreatedAt,
		&ord.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}

		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", orderID, err)
	}

	queryItems := `
		SELECT id, order_id, variant_id, quantity, price_per_unit, created_at, updated_at
		FROM fulfillment.order_items
		WHERE order_id = $1
	`

	rows, err := q.Query(ctx, queryItems, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for order id %s: %w", orderID, err)
	}
	defer rows.Close()

	items := make([]OrderItem, 0)
	for rows.Next() {
		var item OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.VariantID,
			&item.Quantity,
			&item.PricePerUnit,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item for order id %s: %w", orderID, err)
		}
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items for order id %s: %w", orderID, err)
	}

	ord.Items = items

	return &ord, nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, q db.Querier, orderID uuid.UUID, newStatus state.OrderState) error {
	query := `
		UPDATE fulfillment.orders
		SET status = $1, updated_at = $2
		WHERE id = $3
	`

	cmdTag, err := q.Exec(ctx, query,
		newStatus.String(),
		time.Now().UTC(),
		orderID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update order status %s: %w", orderID, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	return nil
}
