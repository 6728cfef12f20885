package stock

import (
	"time"

	"github.com/gofrs/uuid"
)

// StockVariant is a sellable variant with an authoritative on-hand
// quantity. Quantity is mutated only through the Ledger.
type StockVariant struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Size      string    `json:"size" db:"size"`
	Color     string    `json:"color" db:"color"`
	Quantity  int       `json:"quantity" db:"quantity"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
