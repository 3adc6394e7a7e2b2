package domain

import "time"

type ReplenishmentStatus string

const (
	ReplenishmentPending   ReplenishmentStatus = "Pending"
	ReplenishmentConfirmed ReplenishmentStatus = "Confirmed"
)

func (s ReplenishmentStatus) Valid() bool {
	return s == ReplenishmentPending || s == ReplenishmentConfirmed
}

// ReplenishmentOrder is a supplier reorder request. At most one Pending order
// exists per isbn.
type ReplenishmentOrder struct {
	ID          int64               `json:"id"`
	ISBN        string              `json:"isbn"`
	PublisherID string              `json:"publisher_id"`
	OrderQty    int                 `json:"order_qty"`
	Status      ReplenishmentStatus `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	ConfirmedAt *time.Time          `json:"confirmed_at,omitempty"`
}
