package state

// orderTransitions defines the valid order state transitions. The key is
// the current state, the value is the set of states reachable from it.
var orderTransitions = map[OrderState]map[OrderState]bool{
	OrderPending: {
		OrderPreparation: true,
		OrderCancelled:   true,
	},
	OrderPreparation: {
		OrderShipped:   true,
		OrderCompleted: true,
		OrderCancelled: true,
	},
	OrderShipped: {
		OrderCompleted: true,
	},
	OrderCompleted: {},
	OrderReturned: {
		OrderCancelled: true,
	},
	OrderCancelled: {},
}

var paymentTransitions = map[PaymentState]map[PaymentState]bool{
	PaymentPending: {
		PaymentPendingApproval: true,
		PaymentApproved:        true,
		PaymentRejected:        true,
		PaymentCancelled:       true,
	},
	PaymentPendingApproval: {
		PaymentApproved: true,
		PaymentRejected: true,
	},
	PaymentApproved: {
		PaymentRejected: true,
	},
	PaymentRejected:  {},
	PaymentCancelled: {},
}

// CanTransitionOrder checks transition legality for the order machine.
// The identity transition is always a legal no-op. An unknown `from`
// state fails closed.
func CanTransitionOrder(from, to OrderState) error {
	if from == to {
		return nil
	}

	allowed, ok := orderTransitions[from]
	if !ok {
		return &UnknownStateError{Kind: KindOrder, State: from.String()}
	}

	if !allowed[to] {
		return &TransitionError{
			Kind:    KindOrder,
			From:    from.String(),
			To:      to.String(),
			Allowed: orderAllowedList(from),
		}
	}

	return nil
}

func CanTransitionPayment(from, to PaymentState) error {
	if from == to {
		return nil
	}

	allowed, ok := paymentTransitions[from]
	if !ok {
		return &UnknownStateError{Kind: KindPayment, State: from.String()}
	}

	if !allowed[to] {
		return &TransitionError{
			Kind:    KindPayment,
			From:    from.String(),
			To:      to.String(),
			Allowed: paymentAllowedList(from),
		}
	}

	return nil
}

// orderAllowedList returns the allowed targets in a fixed declaration
// order, so caller-facing messages are deterministic.
func orderAllowedList(from OrderState) []string {
	all := []OrderState{OrderPending, OrderPreparation, OrderShipped, OrderCompleted, OrderReturned, OrderCancelled}
	targets := make([]string, 0, len(all))
	for _, s := range all {
		if orderTransitions[from][s] {
			targets = append(targets, s.String())
		}
	}
	return targets
}

func paymentAllowedList(from PaymentState) []string {
	all := []PaymentState{PaymentPending, PaymentPendingApproval, PaymentApproved, PaymentRejected, PaymentCancelled}
	targets := make([]string, 0, len(all))
	for _, s := range all {
		if paymentTransitions[from][s] {
			targets = append(targets, s.String())
		}
	}
	return targets
}
