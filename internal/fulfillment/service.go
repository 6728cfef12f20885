// Package fulfillment orchestrates order and payment state transitions
// and reconciles stock against them. It is the only component with side
// effects: every operation runs as one database transaction per order,
// with the order row locked, and either commits completely or leaves all
// state unchanged.
package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/fulfillment-service/internal/audit"
	"github.com/vasiliy-maslov/fulfillment-service/internal/consistency"
	"github.com/vasiliy-maslov/fulfillment-service/internal/db"
	"github.com/vasiliy-maslov/fulfillment-service/internal/order"
	"github.com/vasiliy-maslov/fulfillment-service/internal/payment"
	"github.com/vasiliy-maslov/fulfillment-service/internal/state"
	"github.com/vasiliy-maslov/fulfillment-service/internal/stock"
)

// Outcome reports the state pair before and after a transition, with the
// advisory consistency verdict for the final pair.
type Outcome struct {
	PriorOrderState   state.OrderState           `json:"prior_order_state"`
	NewOrderState     state.OrderState           `json:"new_order_state"`
	PriorPaymentState *state.PaymentState        `json:"prior_payment_state,omitempty"`
	NewPaymentState   *state.PaymentState        `json:"new_payment_state,omitempty"`
	Consistency       consistency.Classification `json:"consistency"`
}

// OrderView is the read model for one order: current states plus the
// consistency verdict for the pair.
type OrderView struct {
	Order       *order.Order               `json:"order"`
	Payment     *payment.Payment           `json:"payment,omitempty"`
	Consistency consistency.Classification `json:"consistency"`
}

type Service interface {
	ApplyPaymentTransition(ctx context.Context, orderID uuid.UUID, target state.PaymentState, actor, reason string) (*Outcome, error)
	ApplyOrderTransition(ctx context.Context, orderID uuid.UUID, target state.OrderState, actor string) (*Outcome, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*OrderView, error)
	GetHistory(ctx context.Context, orderID uuid.UUID) ([]audit.TransitionRecord, error)
}

type service struct {
	beginner db.Beginner
	reader   db.Querier
	orders   order.Repository
	payments payment.Repository
	ledger   stock.Ledger
	audits   audit.Repository
}

func NewService(beginner db.Beginner, reader db.Querier, orders order.Repository, payments payment.Repository, ledger stock.Ledger, audits audit.Repository) Service {
	return &service{
		beginner: beginner,
		reader:   reader,
		orders:   orders,
		payments: payments,
		ledger:   ledger,
		audits:   audits,
	}
}

func (s *service) ApplyPaymentTransition(ctx context.Context, orderID uuid.UUID, target state.PaymentState, actor, reason string) (*Outcome, error) {
	tx, err := s.beginner.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to begin transaction: %w", err)
	}
	defer rollback(ctx, tx, orderID)

	// The row lock serializes concurrent transitions per order id; state
	// is read under the lock, never from a stale snapshot.
	ord, err := s.orders.GetByIDForUpdate(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			log.Warn().Stringer("order_id", orderID).Msg("service: order not found for payment transition")
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to load order for payment transition: %w", err)
	}

	pay, err := s.payments.GetByOrderID(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			log.Warn().Stringer("order_id", orderID).Msg("service: no payment for order, cannot apply payment transition")
			return nil, payment.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("service: failed to load payment for order: %w", err)
	}

	priorOrder := ord.Status
	priorPayment := pay.Status

	if priorPayment == target {
		log.Info().Stringer("order_id", orderID).Stringer("status", target).Msg("service: payment status is already the same, no update needed")
		cls := consistency.Classify(priorOrder, &priorPayment)
		return outcome(priorOrder, priorOrder, &priorPayment, &priorPayment, cls), nil
	}

	if err := state.CanTransitionPayment(priorPayment, target); err != nil {
		log.Warn().
			Stringer("order_id", orderID).
			Stringer("current_status", priorPayment).
			Stringer("new_status", target).
			Msg("service: invalid payment status transition attempt")
		return nil, err
	}

	switch {
	case target == state.PaymentApproved:
		// Stock is either fully deducted for every line item or not
		// deducted at all: the first shortfall rolls everything back.
		if err := s.ledger.Deduct(ctx, tx, ord.Items); err != nil {
			var insufficient *stock.InsufficientStockError
			if errors.As(err, &insufficient) {
				log.Warn().
					Stringer("order_id", orderID).
					Stringer("variant_id", insufficient.VariantID).
					Int("available", insufficient.Available).
					Int("requested", insufficient.Requested).
					Msg("service: insufficient stock, payment approval aborted")
				return nil, err
			}
			return nil, fmt.Errorf("service: failed to deduct stock for order %s: %w", orderID, err)
		}
	case priorPayment == state.PaymentApproved:
		// Reversing a prior approval puts the deducted quantities back.
		if err := s.ledger.Restore(ctx, tx, ord.Items); err != nil {
			log.Error().Err(err).Stringer("order_id", orderID).Msg("service: stock restore failed, payment transition aborted")
			return nil, fmt.Errorf("%w for order %s: %v", ErrRestoreFailed, orderID, err)
		}
	}

	if err := s.payments.UpdateStatus(ctx, tx, pay.ID, target, reason); err != nil {
		return nil, fmt.Errorf("service: failed to update payment status: %w", err)
	}

	newOrder, corrective := deriveOrderState(priorOrder, target)
	if newOrder != priorOrder {
		if corrective {
			// Documented carve-out: a shipped order normally cannot be
			// cancelled, but a dead payment on a shipped order is a
			// danger combination and is resolved here.
			preCls := consistency.Classify(priorOrder, &target)
			log.Warn().
				Stringer("order_id", orderID).
				Stringer("order_status", priorOrder).
				Stringer("payment_status", target).
				Str("pre_correction_severity", string(preCls.Severity)).
				Msg("service: corrective cancellation of shipped order after payment reversal")
		} else if err := state.CanTransitionOrder(priorOrder, newOrder); err != nil {
			return nil, err
		}

		if err := s.orders.UpdateStatus(ctx, tx, ord.ID, newOrder); err != nil {
			return nil, fmt.Errorf("service: failed to update order status: %w", err)
		}

		note := consistency.Delta(priorOrder, newOrder, &priorPayment, &target)
		if corrective {
			note = "corrective cancellation: " + note
		}
		if err := s.audits.Record(ctx, tx, &audit.TransitionRecord{
			EntityKind: state.KindOrder,
			EntityID:   ord.ID,
			FromState:  priorOrder.String(),
			ToState:    newOrder.String(),
			Actor:      actor,
			Note:       note,
		}); err != nil {
			return nil, fmt.Errorf("service: failed to record order transition: %w", err)
		}
	}

	if err := s.audits.Record(ctx, tx, &audit.TransitionRecord{
		EntityKind: state.KindPayment,
		EntityID:   pay.ID,
		FromState:  priorPayment.String(),
		ToState:    target.String(),
		Actor:      actor,
		Note:       consistency.Delta(priorOrder, newOrder, &priorPayment, &target),
	}); err != nil {
		return nil, fmt.Errorf("service: failed to record payment transition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("service: failed to commit payment transition: %w", err)
	}

	cls := consistency.Classify(newOrder, &target)
	log.Info().
		Stringer("order_id", orderID).
		Stringer("old_payment_status", priorPayment).
		Stringer("new_payment_status", target).
		Stringer("old_order_status", priorOrder).
		Stringer("new_order_status", newOrder).
		Str("consistency", string(cls.Severity)).
		Msg("service: payment transition applied")

	return outcome(priorOrder, newOrder, &priorPayment, &target, cls), nil
}

// deriveOrderState cascades a payment transition onto the order machine.
// A rejected or cancelled payment forces the order toward CANCELLED
// unless the order is already terminal; from SHIPPED that takes the
// corrective carve-out around the transition table.
func deriveOrderState(current state.OrderState, target state.PaymentState) (next state.OrderState, corrective bool) {
	if target != state.PaymentRejected && target != state.PaymentCancelled {
		return current, false
	}
	if current.IsTerminal() {
		return current, false
	}
	if current == state.OrderShipped {
		return state.OrderCancelled, true
	}
	return state.OrderCancelled, false
}

func (s *service) ApplyOrderTransition(ctx context.Context, orderID uuid.UUID, target state.OrderState, actor string) (*Outcome, error) {
	tx, err := s.beginner.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to begin transaction: %w", err)
	}
	defer rollback(ctx, tx, orderID)

	ord, err := s.orders.GetByIDForUpdate(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			log.Warn().Stringer("order_id", orderID).Msg("service: order not found for order transition")
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to load order for order transition: %w", err)
	}

	pay, err := s.payments.GetByOrderID(ctx, tx, orderID)
	if err != nil && !errors.Is(err, payment.ErrPaymentNotFound) {
		return nil, fmt.Errorf("service: failed to load payment for order: %w", err)
	}

	priorOrder := ord.Status
	var payState *state.PaymentState
	if pay != nil {
		payState = &pay.Status
	}

	if priorOrder == target {
		log.Info().Stringer("order_id", orderID).Stringer("status", target).Msg("service: order status is already the same, no update needed")
		cls := consistency.Classify(priorOrder, payState)
		return outcome(priorOrder, priorOrder, payState, payState, cls), nil
	}

	if err := state.CanTransitionOrder(priorOrder, target); err != nil {
		log.Warn().
			Stringer("order_id", orderID).
			Stringer("current_status", priorOrder).
			Stringer("new_status", target).
			Msg("service: invalid order status transition attempt")
		return nil, err
	}

	// Policy above pure legality: an order does not advance into an
	// active-journey state until its payment is approved.
	if target.IsActiveJourney() && target != state.OrderReturned {
		if pay == nil || pay.Status != state.PaymentApproved {
			log.Warn().
				Stringer("order_id", orderID).
				Stringer("current_status", priorOrder).
				Stringer("new_status", target).
				Msg("service: order cannot advance without an approved payment")
			return nil, &state.TransitionError{
				Kind:   state.KindOrder,
				From:   priorOrder.String(),
				To:     target.String(),
				Reason: "order cannot advance without an approved payment",
			}
		}
	}

	newPayState := payState
	if target == state.OrderCancelled && pay != nil {
		// Stock was deducted only if the payment reached APPROVED;
		// otherwise cancellation has no ledger effect.
		if pay.Status == state.PaymentApproved {
			if err := s.ledger.Restore(ctx, tx, ord.Items); err != nil {
				log.Error().Err(err).Stringer("order_id", orderID).Msg("service: stock restore failed, order cancellation aborted")
				return nil, fmt.Errorf("%w for order %s: %v", ErrRestoreFailed, orderID, err)
			}
		}

		// A payment still sitting in its initial state is cancelled
		// together with the order.
		if pay.Status.CanCancel() {
			if err := s.payments.UpdateStatus(ctx, tx, pay.ID, state.PaymentCancelled, ""); err != nil {
				return nil, fmt.Errorf("service: failed to cancel payment with order: %w", err)
			}
			cancelled := state.PaymentCancelled
			newPayState = &cancelled

			if err := s.audits.Record(ctx, tx, &audit.TransitionRecord{
				EntityKind: state.KindPayment,
				EntityID:   pay.ID,
				FromState:  pay.Status.String(),
				ToState:    state.PaymentCancelled.String(),
				Actor:      actor,
				Note:       "payment cancelled with order",
			}); err != nil {
				return nil, fmt.Errorf("service: failed to record payment transition: %w", err)
			}
		}
	}

	if err := s.orders.UpdateStatus(ctx, tx, ord.ID, target); err != nil {
		return nil, fmt.Errorf("service: failed to update order status: %w", err)
	}

	if err := s.audits.Record(ctx, tx, &audit.TransitionRecord{
		EntityKind: state.KindOrder,
		EntityID:   ord.ID,
		FromState:  priorOrder.String(),
		ToState:    target.String(),
		Actor:      actor,
		Note:       consistency.Delta(priorOrder, target, payState, newPayState),
	}); err != nil {
		return nil, fmt.Errorf("service: failed to record order transition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("service: failed to commit order transition: %w", err)
	}

	cls := consistency.Classify(target, newPayState)
	log.Info().
		Stringer("order_id", orderID).
		Stringer("old_status", priorOrder).
		Stringer("new_status", target).
		Str("consistency", string(cls.Severity)).
		Msg("service: order transition applied")

	return outcome(priorOrder, target, payState, newPayState, cls), nil
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID) (*OrderView, error) {
	ord, err := s.orders.GetByID(ctx, s.reader, orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}

	pay, err := s.payments.GetByOrderID(ctx, s.reader, orderID)
	if err != nil && !errors.Is(err, payment.ErrPaymentNotFound) {
		return nil, fmt.Errorf("service: failed to fetch payment for order: %w", err)
	}

	var payState *state.PaymentState
	if pay != nil {
		payState = &pay.Status
	}

	return &OrderView{
		Order:       ord,
		Payment:     pay,
		Consistency: consistency.Classify(ord.Status, payState),
	}, nil
}

func (s *service) GetHistory(ctx context.Context, orderID uuid.UUID) ([]audit.TransitionRecord, error) {
	entityIDs := []uuid.UUID{orderID}

	pay, err := s.payments.GetByOrderID(ctx, s.reader, orderID)
	if err != nil && !errors.Is(err, payment.ErrPaymentNotFound) {
		return nil, fmt.Errorf("service: failed to fetch payment for order: %w", err)
	}
	if pay != nil {
		entityIDs = append(entityIDs, pay.ID)
	}

	records, err := s.audits.ListByEntityIDs(ctx, s.reader, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch transition history: %w", err)
	}
	return records, nil
}

func outcome(priorOrder, newOrder state.OrderState, priorPayment, newPayment *state.PaymentState, cls consistency.Classification) *Outcome {
	return &Outcome{
		PriorOrderState:   priorOrder,
		NewOrderState:     newOrder,
		PriorPaymentState: priorPayment,
		NewPaymentState:   newPayment,
		Consistency:       cls,
	}
}

// rollback discards the transaction. After a successful commit it is a
// no-op returning pgx.ErrTxClosed, which is not worth logging.
func rollback(ctx context.Context, tx db.Tx, orderID uuid.UUID) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to rollback transaction")
	}
}
