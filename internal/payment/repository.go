package payment

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

var ErrPaymentNotFound = errors.New("payment not found")

type Repository interface {
	// GetByOrderID returns ErrPaymentNotFound when no payment row exists
	// for the order.
	GetByOrderID(ctx context.Context, q db.Querier, orderID uuid.UUID) (*Payment, error)
	// UpdateStatus writes the new state. rejectionReason is persisted
	// only for REJECTED; approvedAt is set when moving to APPROVED.
	UpdateStatus(ctx context.Context, q db.Querier, id uuid.UUID, newStatus state.PaymentState, rejectionReason string) error
}

type postgresRepository struct{}

func NewRepository() Repository {
	return &postgresRepository{}
}

func (r *postgresRepository) GetByOrderID(ctx context.Context, q db.Querier, orderID uuid.UUID) (*Payment, error) {
	query := `
		SELECT id, order_id, status, amount, transaction_ref, rejection_reason, approved_at, created_at, updated_at
		FROM fulfillment.payments
		WHERE order_id = $1
	`

	var p Payment
	err := q.QueryRow(ctx, query, orderID).Scan(
		&p.ID,
		&p.OrderID,
		&p.Status,
		&p.Amount,
		&p.TransactionRef,
		&p.RejectionReason,
		&p.ApprovedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}

		return nil, fmt.Errorf("repository: failed to select payment by order id %s: %w", orderID, err)
	}

	return &p, nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, q db.Querier, paymentID uuid.UUID, newStatus state.PaymentState, rejectionReason string) error {
	now := time.Now().UTC()

	query := `
		UPDATE fulfillment.payments
		SET status = $1,
		    rejection_reason = CASE WHEN $2 = 'REJECTED' THEN $3 ELSE rejection_reason END,
		    approved_at = CASE WHEN $2 = 'APPROVED' THEN $4 ELSE approved_at END,
		    updated_at = $4
		WHERE id = $5
	`

	cmdTag, err := q.Exec(ctx, query,
		newStatus.String(),
		newStatus.String(),
		rejectionReason,
		now,
		paymentID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update payment status %s: %w", paymentID, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}

	return nil
}
