package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/fulfillment-service/internal/state"
)

type OrderItem struct {
	ID           uuid.UUID `json:"id" db:"id"`
	OrderID      uuid.UUID `json:"order_id" db:"order_id"`
	VariantID    uuid.UUID `json:"variant_id" db:"variant_id"`
	Quantity     int       `json:"quantity" db:"quantity"`
	PricePerUnit float64   `json:"price_per_unit" db:"price_per_unit"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

type Order struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	UserID      uuid.UUID        `json:"user_id" db:"user_id"`
	Status      state.OrderState `json:"status" db:"status"`
	Items       []OrderItem      `json:"items" db:"-"`
	TotalAmount float64          `json:"total_amount" db:"total_amount"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}
