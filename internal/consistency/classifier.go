// Package consistency classifies (order state, payment state) pairs for
// operational review. The verdict is advisory only: it never blocks a
// transition and has no side effects.
package consistency

import (
	"fmt"

	"github.com/vasiliy-maslov/fulfillment-service/internal/state"
)

type Severity string

const (
	SeverityValid   Severity = "VALID"
	SeverityWarning Severity = "WARNING"
	SeverityDanger  Severity = "DANGER"
)

type Classification struct {
	Severity Severity `json:"severity"`
	Reason   string   `json:"reason,omitempty"`
	Action   string   `json:"action,omitempty"`
}

// Classify applies the consistency rules in priority order, first match
// wins. paymentState is nil when no payment row exists for the order.
func Classify(orderState state.OrderState, paymentState *state.PaymentState) Classification {
	orderAdvanced := orderState == state.OrderPreparation ||
		orderState == state.OrderShipped ||
		orderState == state.OrderCompleted ||
		orderState == state.OrderReturned

	if paymentState == nil {
		if orderAdvanced {
			return Classification{
				Severity: SeverityWarning,
				Reason:   "advanced order state without an approved payment",
				Action:   "create/approve a payment or cancel the order",
			}
		}
		return Classification{Severity: SeverityValid}
	}

	ps := *paymentState
	paymentDead := ps == state.PaymentRejected || ps == state.PaymentCancelled

	if (orderState == state.OrderShipped || orderState == state.OrderCompleted) && paymentDead {
		return Classification{
			Severity: SeverityDanger,
			Reason:   "advanced order state with a rejected/cancelled payment",
			Action:   "investigate immediately, contact customer, verify stock",
		}
	}

	if orderAdvanced && (ps == state.PaymentPending || ps == state.PaymentPendingApproval) {
		return Classification{
			Severity: SeverityWarning,
			Reason:   "order state advanced without approved payment",
			Action:   "approve the payment or roll the order back",
		}
	}

	if orderState == state.OrderPreparation && paymentDead {
		return Classification{
			Severity: SeverityWarning,
			Reason:   "order in preparation with a rejected/cancelled payment, should be cancelled",
			Action:   "cancel the order",
		}
	}

	if orderState == state.OrderReturned && paymentDead {
		return Classification{
			Severity: SeverityWarning,
			Reason:   "returned order with a rejected/cancelled payment is an inconsistent combination",
			Action:   "review the return and the payment history",
		}
	}

	if orderState == state.OrderCancelled && ps == state.PaymentApproved {
		return Classification{
			Severity: SeverityWarning,
			Reason:   "cancelled order with approved payment",
			Action:   "verify stock was restored",
		}
	}

	return Classification{Severity: SeverityValid}
}

// Delta renders the transition delta for the audit trail, e.g.
// "order: PENDING -> PREPARATION, payment: PENDING -> APPROVED".
func Delta(priorOrder, newOrder state.OrderState, priorPayment, newPayment *state.PaymentState) string {
	msg := fmt.Sprintf("order: %s -> %s", priorOrder, newOrder)
	if priorPayment != nil && newPayment != nil {
		msg += fmt.Sprintf(", payment: %s -> %s", *priorPayment, *newPayment)
	}
	return msg
}
