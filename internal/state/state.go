package state

import "fmt"

// Kind identifies which of the two state machines a value belongs to.
type Kind string

const (
	KindOrder   Kind = "order"
	KindPayment Kind = "payment"
)

type OrderState string

const (
	OrderPending     OrderState = "PENDING"
	OrderPreparation OrderState = "PREPARATION"
	OrderShipped     OrderState = "SHIPPED"
	OrderCompleted   OrderState = "COMPLETED"
	OrderReturned    OrderState = "RETURNED"
	OrderCancelled   OrderState = "CANCELLED"
)

func (s OrderState) String() string {
	return string(s)
}

type PaymentState string

const (
	PaymentPending         PaymentState = "PENDING"
	PaymentPendingApproval PaymentState = "PENDING_APPROVAL"
	PaymentApproved        PaymentState = "APPROVED"
	PaymentRejected        PaymentState = "REJECTED"
	PaymentCancelled       PaymentState = "CANCELLED"
)

func (s PaymentState) String() string {
	return string(s)
}

// IsTerminal reports whether the order state has no outgoing transitions.
func (s OrderState) IsTerminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

func (s PaymentState) IsTerminal() bool {
	return s == PaymentRejected || s == PaymentCancelled
}

// IsActiveJourney reports whether work on the order has already begun.
// Active-journey states may not be cancelled through the normal path.
func (s OrderState) IsActiveJourney() bool {
	switch s {
	case OrderPreparation, OrderShipped, OrderCompleted, OrderReturned:
		return true
	}
	return false
}

func (s PaymentState) IsActiveJourney() bool {
	return s == PaymentPendingApproval || s == PaymentApproved
}

// CanCancel reports whether the state may be cancelled directly: only
// not-yet-started work (the initial state) qualifies. Reaching CANCELLED
// from an active-journey state requires the corrective path in the
// fulfillment service, not the general-purpose cancel.
func (s OrderState) CanCancel() bool {
	return s == OrderPending && !s.IsActiveJourney()
}

func (s PaymentState) CanCancel() bool {
	return s == PaymentPending && !s.IsActiveJourney()
}

// ParseOrderState converts a raw string into an OrderState. Raw input is
// parsed exactly once at the system boundary; state logic only ever sees
// the typed values.
func ParseOrderState(raw string) (OrderState, error) {
	s := OrderState(raw)
	if _, ok := orderTransitions[s]; !ok {
		return "", fmt.Errorf("unknown order state %q", raw)
	}
	return s, nil
}

func ParsePaymentState(raw string) (PaymentState, error) {
	s := PaymentState(raw)
	if _, ok := paymentTransitions[s]; !ok {
		return "", fmt.Errorf("unknown payment state %q", raw)
	}
	return s, nil
}
