package payment

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/fulfillment-service/internal/state"
)

// Payment is the single payment associated with an order (1:1).
type Payment struct {
	ID              uuid.UUID          `json:"id" db:"id"`
	OrderID         uuid.UUID          `json:"order_id" db:"order_id"`
	Status          state.PaymentState `json:"status" db:"status"`
	Amount          float64            `json:"amount" db:"amount"`
	TransactionRef  string             `json:"transaction_ref,omitempty" db:"transaction_ref"`
	RejectionReason string             `json:"rejection_reason,omitempty" db:"rejection_reason"`
	ApprovedAt      *time.Time         `json:"approved_at,omitempty" db:"approved_at"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at" db:"updated_at"`
}
