package fulfillment_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/vasiliy-maslov/fulfillment-service/internal/audit"
	"github.com/vasiliy-maslov/fulfillment-service/internal/consistency"
	"github.com/vasiliy-maslov/fulfillment-service/internal/db"
	"github.com/vasiliy-maslov/fulfillment-service/internal/fulfillment"
	"github.com/vasiliy-maslov/fulfillment-service/internal/order"
	"github.com/vasiliy-maslov/fulfillment-service/internal/payment"
	"github.com/vasiliy-maslov/fulfillment-service/internal/state"
	"github.com/vasiliy-maslov/fulfillment-service/internal/stock"
)

type mockTx struct {
	committed  bool
	rolledBack bool
}

func (m *mockTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (m *mockTx) Commit(ctx context.Context) error {
	m.committed = true
	return nil
}

func (m *mockTx) Rollback(ctx context.Context) error {
	if m.committed {
		return pgx.ErrTxClosed
	}
	m.rolledBack = true
	return nil
}

type mockBeginner struct {
	tx *mockTx
}

func (m *mockBeginner) Begin(ctx context.Context) (db.Tx, error) {
	return m.tx, nil
}

type mockOrderRepo struct {
	getByIDFunc          func(ctx context.Context, q db.Querier, id uuid.UUID) (*order.Order, error)
	getByIDForUpdateFunc func(ctx context.Context, q db.Querier, id uuid.UUID) (*order.Order, error)
	updateStatusFunc     func(ctx context.Context, q db.Querier, id uuid.UUID, newStatus state.OrderState) error
}

func (m *mockOrderRepo) GetByID(ctx context.Context, q db.Querier, id uuid.UUID) (*order.Order, error) {
	return m.getByIDFunc(ctx, q, id)
}

func (m *mockOrderRepo) GetByIDForUpdate(ctx context.Context, q db.Querier, id uuid.UUID) (*order.Order, error) {
	return m.getByIDForUpdateFunc(ctx, q, id)
}

func (m *mockOrderRepo) UpdateStatus(ctx context.Context, q db.Querier, id uuid.UUID, newStatus state.OrderState) error {
	return m.updateStatusFunc(ctx, q, id, newStatus)
}

type mockPaymentRepo struct {
	getByOrderIDFunc func(ctx context.Context, q db.Querier, orderID uuid.UUID) (*payment.Payment, error)
	updateStatusFunc func(ctx context.Context, q db.Querier, id uuid.UUID, newStatus state.PaymentState, rejectionReason string) error
}

func (m *mockPaymentRepo) GetByOrderID(ctx context.Context, q db.Querier, orderID uuid.UUID) (*payment.Payment, error) {
	return m.getByOrderIDFunc(ctx, q, orderID)
}

func (m *mockPaymentRepo) UpdateStatus(ctx context.Context, q db.Querier, id uuid.UUID, newStatus state.PaymentState, rejectionReason string) error {
	return m.updateStatusFunc(ctx, q, id, newStatus, rejectionReason)
}

type mockLedger struct {
	deductFunc  func(ctx context.Context, q db.Querier, items []order.OrderItem) error
	restoreFunc func(ctx context.Context, q db.Querier, items []order.OrderItem) error
}

func (m *mockLedger) Deduct(ctx context.Context, q db.Querier, items []order.OrderItem) error {
	return m.deductFunc(ctx, q, items)
}

func (m *mockLedger) Restore(ctx context.Context, q db.Querier, items []order.OrderItem) error {
	return m.restoreFunc(ctx, q, items)
}

func (m *mockLedger) GetVariantByID(ctx context.Context, q db.Querier, id uuid.UUID) (*stock.StockVariant, error) {
	return nil, stock.ErrVariantNotFound
}

type mockAuditRepo struct {
	records []audit.TransitionRecord
}

func (m *mockAuditRepo) Record(ctx context.Context, q db.Querier, rec *audit.TransitionRecord) error {
	m.records = append(m.records, *rec)
	return nil
}

func (m *mockAuditRepo) ListByEntityIDs(ctx context.Context, q db.Querier, entityIDs []uuid.UUID) ([]audit.TransitionRecord, error) {
	return m.records, nil
}

// fixture wires a service around one order/payment pair and counts the
// side effects each collaborator saw.
type fixture struct {
	orderID uuid.UUID
	ord     *order.Order
	pay     *payment.Payment

	tx     *mockTx
	audits *mockAuditRepo

	deductCalls    int
	restoreCalls   int
	orderUpdates   []state.OrderState
	paymentUpdates []state.PaymentState
	rejectReasons  []string

	svc fulfillment.Service
}

func newFixture(t *testing.T, orderStatus state.OrderState, paymentStatus state.PaymentState) *fixture {
	t.Helper()

	orderID := uuid.Must(uuid.NewV4())
	paymentID := uuid.Must(uuid.NewV4())
	variantID := uuid.Must(uuid.NewV4())

	f := &fixture{
		orderID: orderID,
		ord: &order.Order{
			ID:     orderID,
			UserID: uuid.Must(uuid.NewV4()),
			Status: orderStatus,
			Items: []order.OrderItem{
				{ID: uuid.Must(uuid.NewV4()), OrderID: orderID, VariantID: variantID, Quantity: 2, PricePerUnit: 49.90},
			},
			TotalAmount: 99.80,
		},
		pay: &payment.Payment{
			ID:      paymentID,
			OrderID: orderID,
			Status:  paymentStatus,
			Amount:  99.80,
		},
		tx:     &mockTx{},
		audits: &mockAuditRepo{},
	}

	orders := &mockOrderRepo{
		getByIDFunc: func(ctx context.Context, q db.Querier, id uuid.UUID) (*order.Order, error) {
			if id != orderID {
				return nil, order.ErrOrderNotFound
			}
			return f.ord, nil
		},
		getByIDForUpdateFunc: func(ctx context.Context, q db.Querier, id uuid.UUID) (*order.Order, error) {
			if id != orderID {
				return nil, order.ErrOrderNotFound
			}
			return f.ord, nil
		},
		updateStatusFunc: func(ctx context.Context, q db.Querier, id uuid.UUID, newStatus state.OrderState) error {
			f.orderUpdates = append(f.orderUpdates, newStatus)
			return nil
		},
	}

	payments := &mockPaymentRepo{
		getByOrderIDFunc: func(ctx context.Context, q db.Querier, id uuid.UUID) (*payment.Payment, error) {
			return f.pay, nil
		},
		updateStatusFunc: func(ctx context.Context, q db.Querier, id uuid.UUID, newStatus state.PaymentState, rejectionReason string) error {
			f.paymentUpdates = append(f.paymentUpdates, newStatus)
			f.rejectReasons = append(f.rejectReasons, rejectionReason)
			return nil
		},
	}

	ledger := &mockLedger{
		deductFunc: func(ctx context.Context, q db.Querier, items []order.OrderItem) error {
			f.deductCalls++
			return nil
		},
		restoreFunc: func(ctx context.Context, q db.Querier, items []order.OrderItem) error {
			f.restoreCalls++
			return nil
		},
	}

	f.svc = fulfillment.NewService(&mockBeginner{tx: f.tx}, f.tx, orders, payments, ledger, f.audits)

	return f
}

func TestApplyPaymentTransition_Approval(t *testing.T) {
	f := newFixture(t, state.OrderPending, state.PaymentPending)

	outcome, err := f.svc.ApplyPaymentTransition(context.Background(), f.orderID, state.PaymentApproved, "admin", "")

	assert.NoError(t, err)
	assert.Equal(t, 1, f.deductCalls, "stock must be deducted exactly once")
	assert.Equal(t, 0, f.restoreCalls)
	assert.Equal(t, []state.PaymentState{state.PaymentApproved}, f.paymentUpdates)
	assert.Empty(t, f.orderUpdates, "approval by itself must not advance the order")
	assert.True(t, f.tx.committed)

	assert.Equal(t, state.OrderPending, outcome.PriorOrderState)
	assert.Equal(t, state.OrderPending, outcome.NewOrderState)
	assert.Equal(t, state.PaymentPending, *outcome.PriorPaymentState)
	assert.Equal(t, state.PaymentApproved, *outcome.NewPaymentState)
	assert.Equal(t, consistency.SeverityValid, outcome.Consistency.Severity)

	// One audit record, for the payment machine.
	if assert.Len(t, f.audits.records, 1) {
		assert.Equal(t, state.KindPayment, f.audits.records[0].EntityKind)
		assert.Equal(t, "PENDING", f.audits.records[0].FromState)
		assert.Equal(t, "APPROVED", f.audits.records[0].ToState)
		assert.Equal(t, "admin", f.audits.records[0].Actor)
	}
}

func TestApplyPaymentTransition_Idempotent(t *testing.T) {
	f := newFixture(t, state.OrderPending, state.PaymentApproved)

	first, err := f.svc.ApplyPaymentTransition(context.Background(), f.orderID, state.PaymentApproved, "admin", "")
	assert.NoError(t, err)
	second, err := f.svc.ApplyPaymentTransition(context.Background(), f.orderID, state.PaymentApproved, "admin", "")
	assert.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 0, f.deductCalls, "a no-op transition must not touch stock")
	assert.Empty(t, f.paymentUpdates)
	assert.Empty(t, f.orderUpdates)
	assert.False(t, f.tx.committed)
}

func TestApplyPaymentTransition_InsufficientStock(t *testing.T) {
	f := newFixture(t, state.OrderPending, state.PaymentPending)
	variantID := f.ord.Items[0].VariantID

	shortfall := &stock.InsufficientStockError{VariantID: variantID, Available: 1, Requested: 2}
	f.svc = fulfillment.NewService(&mockBeginner{tx: f.tx}, f.tx,
		&mockOrderRepo{
			getByIDForUpdateFunc: func(ctx context.Context, q db.Querier, id uuid.UUID) (*order.Order, error) {
				return f.ord, nil
			},
			updateStatusFunc: func(ctx context.Context, q db.Querier, id uuid.UUID, newStatus state.OrderState) error {
				t.Fatal("order status must not be written after a stock shortfall")
				return nil
			},
		},
		&mockPaymentRepo{
			getByOrderIDFunc: func(ctx context.Context, q db.Querier, id uuid.UUID) (*payment.Payment, error) {
				return f.pay, nil
			},
			updateStatusFunc: func(ctx context.Context, q db.Querier, id uuid.UUID, newStatus state.PaymentState, rejectionReason string) error {
				t.Fatal("payment status must not be written after a stock shortfall")
				return nil
			},
		},
		&mockLedger{
			deductFunc: func(ctx context.Context, q db.Querier, items []order.OrderItem) error {
				return shortfall
			},
			restoreFunc: func(ctx context.Context, q db.Querier, items []order.OrderItem) error {
				t.Fatal("restore must not be called")
				return nil
			},
		},
		f.audits,
	)

	outcome, err := f.svc.ApplyPaymentTransition(context.Background(), f.orderID, state.PaymentApproved, "admin", "")

	assert.Nil(t, outcome)

	var insufficientErr *stock.InsufficientStockError
	if assert.ErrorAs(t, err, &insufficientErr) {
		assert.Equal(t, variantID, insufficientErr.VariantID)
		assert.Equal(t, 1, insufficientErr.Available)
		assert.Equal(t, 2, insufficientErr.Requested)
	}

	assert.False(t, f.tx.committed)
	assert.True(t, f.tx.rolledBack, "the whole operation must roll back")
	assert.Empty(t, f.audits.records)
}

func TestApplyPaymentTransition_RejectionRestoresStockAndCancelsOrder(t *testing.T) {
	f := newFixture(t, state.OrderPreparation, state.PaymentApproved)

	outcome, err := f.svc.ApplyPaymentTransition(context.Background(), f.orderID, state.PaymentRejected, "admin", "card declined on settlement")

	assert.NoError(t, err)
	assert.Equal(t, 1, f.restoreCalls, "rejecting an approved payment must restore stock")
	assert.Equal(t, 0, f.deductCalls)
	assert.Equal(t, []state.PaymentState{state.PaymentRejected}, f.paymentUpdates)
	assert.Equal(t, []string{"card declined on settlement"}, f.rejectReasons)
	assert.Equal(t, []state.OrderState{state.OrderCancelled}, f.orderUpdates, "rejection must force the order toward CANCELLED")
	assert.True(t, f.tx.committed)

	assert.Equal(t, state.OrderCancelled, outcome.NewOrderState)
	assert.Equal(t, state.PaymentRejected, *outcome.NewPaymentState)
	assert.Equal(t, consistency.SeverityValid, outcome.Consistency.Severity)
}

func TestApplyPaymentTransition_CorrectiveCancellation(t *testing.T) {
	f := newFixture(t, state.OrderShipped, state.PaymentApproved)

	// SHIPPED -> CANCELLED is illegal in the transition table; the
	// payment reversal takes the corrective carve-out instead.
	assert.Error(t, state.CanTransitionOrder(state.OrderShipped, state.OrderCancelled))

	outcome, err := f.svc.ApplyPaymentTransition(context.Background(), f.orderID, state.PaymentRejected, "admin", "chargeback")

	assert.NoError(t, err)
	assert.Equal(t, 1, f.restoreCalls)
	assert.Equal(t, []state.OrderState{state.OrderCancelled}, f.orderUpdates)
	assert.Equal(t, state.OrderCancelled, outcome.NewOrderState)
	assert.Equal(t, state.PaymentRejected, *outcome.NewPaymentState)
	assert.True(t, f.tx.committed)

	// The order record must be marked as corrective, distinct from an
	// ordinary cancellation.
	var orderRec *audit.TransitionRecord
	for i := range f.audits.records {
		if f.audits.records[i].EntityKind == state.KindOrder {
			orderRec = &f.audits.records[i]
		}
	}
	if assert.NotNil(t, orderRec) {
		assert.Contains(t, orderRec.Note, "corrective cancellation")
	}
}

func TestApplyPaymentTransition_CompletedOrderLeftUnchanged(t *testing.T) {
	f := newFixture(t, state.OrderCompleted, state.PaymentApproved)

	outcome, err := f.svc.ApplyPaymentTransition(context.Background(), f.orderID, state.PaymentRejected, "admin", "fraud review")

	assert.NoError(t, err)
	assert.Equal(t, 1, f.restoreCalls)
	assert.Empty(t, f.orderUpdates, "a terminal order is left unchanged")
	assert.Equal(t, state.OrderCompleted, outcome.NewOrderState)
	assert.Equal(t, consistency.SeverityDanger, outcome.Consistency.Severity, "the anomaly surfaces as a danger classification instead")
}

func TestApplyPaymentTransition_IllegalTransition(t *testing.T) {
	f := newFixture(t, state.OrderPending, state.PaymentRejected)

	outcome, err := f.svc.ApplyPaymentTransition(context.Background(), f.orderID, state.PaymentApproved, "admin", "")

	assert.Nil(t, outcome)

	var transitionErr *state.TransitionError
	if assert.ErrorAs(t, err, &transitionErr) {
		assert.Equal(t, "REJECTED", transitionErr.From)
		assert.Equal(t, "APPROVED", transitionErr.To)
	}

	assert.Equal(t, 0, f.deductCalls)
	assert.Empty(t, f.paymentUpdates)
	assert.False(t, f.tx.committed)
	assert.True(t, f.tx.rolledBack)
}

func TestApplyPaymentTransition_RestoreFailed(t *testing.T) {
	f := newFixture(t, state.OrderPreparation, state.PaymentApproved)

	f.svc = fulfillment.NewService(&mockBeginner{tx: f.tx}, f.tx,
		&mockOrderRepo{
			getByIDForUpdateFunc: func(ctx context.Context, q db.Querier, id uuid.UUID) (*order.Order, error) {
				return f.ord, nil
			},
			updateStatusFunc: func(ctx context.Context, q db.Querier, id uuid.UUID, newStatus state.OrderState) error {
				t.Fatal("order status must not be written after a failed restore")
				return nil
			},
		},
		&mockPaymentRepo{
			getByOrderIDFunc: func(ctx context.Context, q db.Querier, id uuid.UUID) (*payment.Payment, error) {
				return f.pay, nil
			},
			updateStatusFunc: func(ctx context.Context, q db.Querier, id uuid.UUID, newStatus state.PaymentState, rejectionReason string) error {
				t.Fatal("payment status must not be written after a failed restore")
				return nil
			},
		},
		&mockLedger{
			deductFunc: func(ctx context.Context, q db.Querier, items []order.OrderItem) error { return nil },
			restoreFunc: func(ctx context.Context, q db.Querier, items []order.OrderItem) error {
				return errors.New("variant row missing")
			},
		},
		f.audits,
	)

	outcome, err := f.svc.ApplyPaymentTransition(context.Background(), f.orderID, state.PaymentRejected, "admin", "")

	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, fulfillment.ErrRestoreFailed)
	assert.False(t, f.tx.committed)
}

func TestApplyPaymentTransition_OrderNotFound(t *testing.T) {
	f := newFixture(t, state.OrderPending, state.PaymentPending)

	outcome, err := f.svc.ApplyPaymentTransition(context.Background(), uuid.Must(uuid.NewV4()), state.PaymentApproved, "admin", "")

	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
	assert.Equal(t, 0, f.deductCalls)
}

func TestApplyOrderTransition_AdvanceRequiresApprovedPayment(t *testing.T) {
	f := newFixture(t, state.OrderPreparation, state.PaymentPending)

	outcome, err := f.svc.ApplyOrderTransition(context.Background(), f.orderID, state.OrderShipped, "admin")

	assert.Nil(t, outcome)

	var transitionErr *state.TransitionError
	if assert.ErrorAs(t, err, &transitionErr) {
		assert.Equal(t, "PREPARATION", transitionErr.From)
		assert.Equal(t, "SHIPPED", transitionErr.To)
		assert.NotEmpty(t, transitionErr.Reason)
	}

	assert.Equal(t, 0, f.deductCalls)
	assert.Equal(t, 0, f.restoreCalls)
	assert.Empty(t, f.orderUpdates)
	assert.False(t, f.tx.committed)
}

func TestApplyOrderTransition_AdvanceWithApprovedPayment(t *testing.T) {
	f := newFixture(t, state.OrderPreparation, state.PaymentApproved)

	outcome, err := f.svc.ApplyOrderTransition(context.Background(), f.orderID, state.OrderShipped, "admin")

	assert.NoError(t, err)
	assert.Equal(t, []state.OrderState{state.OrderShipped}, f.orderUpdates)
	assert.Empty(t, f.paymentUpdates)
	assert.Equal(t, 0, f.restoreCalls)
	assert.True(t, f.tx.committed)
	assert.Equal(t, consistency.SeverityValid, outcome.Consistency.Severity)
}

func TestApplyOrderTransition_IllegalTransition(t *testing.T) {
	f := newFixture(t, state.OrderShipped, state.PaymentApproved)

	outcome, err := f.svc.ApplyOrderTransition(context.Background(), f.orderID, state.OrderCancelled, "admin")

	assert.Nil(t, outcome)

	var transitionErr *state.TransitionError
	assert.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, 0, f.restoreCalls, "an illegal cancel must not touch stock")
	assert.False(t, f.tx.committed)
}

func TestApplyOrderTransition_CancelRestoresStockWhenApproved(t *testing.T) {
	f := newFixture(t, state.OrderPending, state.PaymentApproved)

	outcome, err := f.svc.ApplyOrderTransition(context.Background(), f.orderID, state.OrderCancelled, "admin")

	assert.NoError(t, err)
	assert.Equal(t, 1, f.restoreCalls, "cancelling an order with an approved payment must restore stock")
	assert.Equal(t, []state.OrderState{state.OrderCancelled}, f.orderUpdates)
	assert.Empty(t, f.paymentUpdates, "an approved payment is not silently cancelled")
	assert.True(t, f.tx.committed)

	assert.Equal(t, state.OrderCancelled, outcome.NewOrderState)
	assert.Equal(t, consistency.SeverityWarning, outcome.Consistency.Severity, "cancelled order with approved payment surfaces for review")
}

func TestApplyOrderTransition_CancelCancelsPendingPayment(t *testing.T) {
	f := newFixture(t, state.OrderPending, state.PaymentPending)

	outcome, err := f.svc.ApplyOrderTransition(context.Background(), f.orderID, state.OrderCancelled, "admin")

	assert.NoError(t, err)
	assert.Equal(t, 0, f.restoreCalls, "no deduction ever happened, nothing to restore")
	assert.Equal(t, []state.OrderState{state.OrderCancelled}, f.orderUpdates)
	assert.Equal(t, []state.PaymentState{state.PaymentCancelled}, f.paymentUpdates)
	assert.Equal(t, state.PaymentCancelled, *outcome.NewPaymentState)
	assert.Equal(t, consistency.SeverityValid, outcome.Consistency.Severity)
}

func TestApplyOrderTransition_Idempotent(t *testing.T) {
	f := newFixture(t, state.OrderPreparation, state.PaymentApproved)

	outcome, err := f.svc.ApplyOrderTransition(context.Background(), f.orderID, state.OrderPreparation, "admin")

	assert.NoError(t, err)
	assert.Empty(t, f.orderUpdates)
	assert.Equal(t, 0, f.restoreCalls)
	assert.Equal(t, state.OrderPreparation, outcome.PriorOrderState)
	assert.Equal(t, state.OrderPreparation, outcome.NewOrderState)
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t, state.OrderCancelled, state.PaymentApproved)

	view, err := f.svc.GetOrder(context.Background(), f.orderID)

	assert.NoError(t, err)
	assert.Equal(t, f.ord, view.Order)
	assert.Equal(t, f.pay, view.Payment)
	assert.Equal(t, consistency.SeverityWarning, view.Consistency.Severity)
}

func TestGetOrder_NotFound(t *testing.T) {
	f := newFixture(t, state.OrderPending, state.PaymentPending)

	view, err := f.svc.GetOrder(context.Background(), uuid.Must(uuid.NewV4()))

	assert.Nil(t, view)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}
