package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/code2deploy/payments/app/models"
	"github.com/code2deploy/payments/internal/pkg/gateway"
	"github.com/code2deploy/payments/internal/pkg/outbox"
)

// memStore mimics the durable store's transactional guarantees in memory:
// Transact serializes like row locks would, and an error rolls the unit of
// work back to its pre-transaction snapshot.
type memStore struct {
	mu       sync.Mutex
	orders   map[uint]*models.Order
	plans    map[uint]*models.PricingPlan
	users    map[uint]*models.User
	payments map[uint]*models.Payment
	subs     []*models.Subscription
	outbox   []*models.OutboxMessage
	nextID   uint
}

func newMemStore() *memStore {
	return &memStore{
		orders:   map[uint]*models.Order{},
		plans:    map[uint]*models.PricingPlan{},
		users:    map[uint]*models.User{},
		payments: map[uint]*models.Payment{},
	}
}

func (m *memStore) Transact(fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	savedOrders := map[uint]models.Order{}
	for id, o := range m.orders {
		savedOrders[id] = *o
	}
	savedPayments := map[uint]models.Payment{}
	for id, p := range m.payments {
		savedPayments[id] = *p
	}
	savedSubs := len(m.subs)
	savedOutbox := len(m.outbox)

	if err := fn((*memStoreTx)(m)); err != nil {
		m.orders = map[uint]*models.Order{}
		for id, o := range savedOrders {
			o := o
			m.orders[id] = &o
		}
		m.payments = map[uint]*models.Payment{}
		for id, p := range savedPayments {
			p := p
			m.payments[id] = &p
		}
		m.subs = m.subs[:savedSubs]
		m.outbox = m.outbox[:savedOutbox]
		return err
	}
	return nil
}

// Autocommit reads outside a transaction still take the lock.
func (m *memStore) GetOrderForUser(orderID string, userID uint) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memStoreTx)(m).GetOrderForUser(orderID, userID)
}

func (m *memStore) GetOrderByOrderID(orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memStoreTx)(m).GetOrderByOrderID(orderID)
}

func (m *memStore) GetOrderByID(id uint) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memStoreTx)(m).GetOrderByID(id)
}

func (m *memStore) GetPlanByID(id uint) (*models.PricingPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memStoreTx)(m).GetPlanByID(id)
}

func (m *memStore) GetUserByID(id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memStoreTx)(m).GetUserByID(id)
}

func (m *memStore) CreatePayment(p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memStoreTx)(m).CreatePayment(p)
}

func (m *memStore) GetPaymentByProviderPaymentID(id string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memStoreTx)(m).GetPaymentByProviderPaymentID(id)
}

func (m *memStore) GetCompletedPaymentByOrderID(orderID uint) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memStoreTx)(m).GetCompletedPaymentByOrderID(orderID)
}

func (m *memStore) ListStalePendingPayments(olderThan time.Time, limit int) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memStoreTx)(m).ListStalePendingPayments(olderThan, limit)
}

func (m *memStore) VoidPendingPayments(orderID uint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memStoreTx)(m).VoidPendingPayments(orderID)
}

func (m *memStore) CompletePayment(id uint, payerID, captureID, raw string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memStoreTx)(m).CompletePayment(id, payerID, captureID, raw, now)
}

func (m *memStore) FailPayment(id uint, raw string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memStoreTx)(m).FailPayment(id, raw)
}

func (m *memStore) RefundPayment(id uint, raw string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memStoreTx)(m).RefundPayment(id, raw)
}

func (m *memStore) MarkOrderPaid(id uint, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memStoreTx)(m).MarkOrderPaid(id, now)
}

func (m *memStore) MarkOrderFailed(id uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memStoreTx)(m).MarkOrderFailed(id)
}

func (m *memStore) MarkOrderRefunded(id uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memStoreTx)(m).MarkOrderRefunded(id)
}

func (m *memStore) TransitionOrder(id uint, from []string, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memStoreTx)(m).TransitionOrder(id, from, to)
}

func (m *memStore) UpsertSubscription(sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memStoreTx)(m).UpsertSubscription(sub)
}

func (m *memStore) EnqueueOutbox(msg *models.OutboxMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memStoreTx)(m).EnqueueOutbox(msg)
}

// memStoreTx is the in-transaction view; it shares state with memStore but
// never re-locks.
type memStoreTx memStore

func (m *memStoreTx) Transact(fn func(Store) error) error { panic("nested transaction") }

func (m *memStoreTx) GetOrderForUser(orderID string, userID uint) (*models.Order, error) {
	for _, o := range m.orders {
		if o.OrderID == orderID && o.UserID == userID {
			copied := *o
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memStoreTx) GetOrderByOrderID(orderID string) (*models.Order, error) {
	for _, o := range m.orders {
		if o.OrderID == orderID {
			copied := *o
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memStoreTx) GetOrderByID(id uint) (*models.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *o
	return &copied, nil
}

func (m *memStoreTx) GetPlanByID(id uint) (*models.PricingPlan, error) {
	p, ok := m.plans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

func (m *memStoreTx) GetUserByID(id uint) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func (m *memStoreTx) CreatePayment(p *models.Payment) error {
	for _, existing := range m.payments {
		if existing.ProviderPaymentID == p.ProviderPaymentID {
			return gorm.ErrDuplicatedKey
		}
	}
	m.nextID++
	p.ID = m.nextID
	copied := *p
	m.payments[p.ID] = &copied
	return nil
}

func (m *memStoreTx) GetPaymentByProviderPaymentID(id string) (*models.Payment, error) {
	for _, p := range m.payments {
		if p.ProviderPaymentID == id {
			copied := *p
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memStoreTx) GetCompletedPaymentByOrderID(orderID uint) (*models.Payment, error) {
	for _, p := range m.payments {
		if p.OrderID == orderID && p.Status == models.PaymentStatusCompleted {
			copied := *p
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memStoreTx) ListStalePendingPayments(olderThan time.Time, limit int) ([]models.Payment, error) {
	var stale []models.Payment
	for id := uint(1); id <= m.nextID && len(stale) < limit; id++ {
		p, ok := m.payments[id]
		if ok && p.Status == models.PaymentStatusPending && p.CreatedAt.Before(olderThan) {
			stale = append(stale, *p)
		}
	}
	return stale, nil
}

func (m *memStoreTx) VoidPendingPayments(orderID uint) (int64, error) {
	var voided int64
	for _, p := range m.payments {
		if p.OrderID == orderID && p.Status == models.PaymentStatusPending {
			p.Status = models.PaymentStatusFailed
			voided++
		}
	}
	return voided, nil
}

func (m *memStoreTx) CompletePayment(id uint, payerID, captureID, raw string, now time.Time) (bool, error) {
	p, ok := m.payments[id]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = models.PaymentStatusCompleted
	p.CompletedAt = &now
	p.ProviderPayerID = payerID
	p.ProviderCaptureID = captureID
	p.ProviderResponse = raw
	return true, nil
}

func (m *memStoreTx) FailPayment(id uint, raw string) (bool, error) {
	p, ok := m.payments[id]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = models.PaymentStatusFailed
	p.ProviderResponse = raw
	return true, nil
}

func (m *memStoreTx) RefundPayment(id uint, raw string) (bool, error) {
	p, ok := m.payments[id]
	if !ok || p.Status != models.PaymentStatusCompleted {
		return false, nil
	}
	p.Status = models.PaymentStatusRefunded
	p.ProviderResponse = raw
	return true, nil
}

func (m *memStoreTx) MarkOrderPaid(id uint, now time.Time) (bool, error) {
	o, ok := m.orders[id]
	if !ok || o.Status != models.OrderStatusProcessing {
		return false, nil
	}
	o.Status = models.OrderStatusPaid
	if o.PaidAt == nil {
		o.PaidAt = &now
	}
	return true, nil
}

func (m *memStoreTx) MarkOrderFailed(id uint) (bool, error) {
	return m.TransitionOrder(id, []string{models.OrderStatusProcessing}, models.OrderStatusFailed)
}

func (m *memStoreTx) MarkOrderRefunded(id uint) (bool, error) {
	return m.TransitionOrder(id, []string{models.OrderStatusPaid}, models.OrderStatusRefunded)
}

func (m *memStoreTx) TransitionOrder(id uint, from []string, to string) (bool, error) {
	o, ok := m.orders[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if o.Status == f {
			o.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *memStoreTx) UpsertSubscription(sub *models.Subscription) error {
	for _, existing := range m.subs {
		if existing.UserID == sub.UserID && ptrEq(existing.PricingPlanID, sub.PricingPlanID) {
			existing.Status = sub.Status
			existing.CurrentPeriodStart = sub.CurrentPeriodStart
			existing.CurrentPeriodEnd = sub.CurrentPeriodEnd
			return nil
		}
	}
	copied := *sub
	m.subs = append(m.subs, &copied)
	return nil
}

func (m *memStoreTx) EnqueueOutbox(msg *models.OutboxMessage) error {
	copied := *msg
	m.outbox = append(m.outbox, &copied)
	return nil
}

func ptrEq(a, b *uint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// fakeGateway scripts provider answers per remote transaction id.
type fakeGateway struct {
	mu         sync.Mutex
	openErr    error
	captures   map[string]*gateway.CaptureResult
	captureErr error
	refundErr  error
	opened     int
	refunds    int
}

func (f *fakeGateway) Provider() string { return "paypal" }

func (f *fakeGateway) OpenTransaction(ctx context.Context, params gateway.OpenParams) (*gateway.OpenResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened++
	id := fmt.Sprintf("PP-%d", f.opened)
	return &gateway.OpenResult{
		RemoteTxnID: id,
		Status:      "CREATED",
		ApprovalURL: "https://sandbox.paypal.test/approve/" + id,
		Raw:         `{"status":"CREATED"}`,
	}, nil
}

func (f *fakeGateway) CaptureTransaction(ctx context.Context, remoteTxnID string) (*gateway.CaptureResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	if res, ok := f.captures[remoteTxnID]; ok {
		return res, nil
	}
	return &gateway.CaptureResult{
		RemoteTxnID: remoteTxnID,
		Status:      gateway.TxnStatusCompleted,
		PayerID:     "PAYER-1",
		CaptureID:   "CAP-" + remoteTxnID,
		Raw:         `{"status":"COMPLETED"}`,
	}, nil
}

func (f *fakeGateway) GetTransactionStatus(ctx context.Context, remoteTxnID string) (string, error) {
	res, err := f.CaptureTransaction(ctx, remoteTxnID)
	if err != nil {
		return "", err
	}
	return res.Status, nil
}

func (f *fakeGateway) Refund(ctx context.Context, captureID string, amount *decimal.Decimal, currency, note string) (*gateway.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	f.refunds++
	return &gateway.RefundResult{RefundID: "REF-1", Status: gateway.TxnStatusCompleted, Raw: `{"status":"COMPLETED"}`}, nil
}

func (f *fakeGateway) VerifyWebhookSignature(ctx context.Context, headers map[string]string, body []byte) (bool, error) {
	return true, nil
}

func uintPtr(v uint) *uint { return &v }

type fixture struct {
	store *memStore
	gw    *fakeGateway
	coord *Coordinator
	order *models.Order
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	store.users[7] = &models.User{ID: 7, Name: "Dana", Email: "dana@example.com"}
	store.plans[1] = &models.PricingPlan{
		ID:           1,
		Name:         "Cloud Bootcamp",
		Price:        decimal.RequireFromString("100.00"),
		Currency:     "USD",
		BillingCycle: models.BillingCycleOneTime,
		ProgramID:    uintPtr(42),
		IsActive:     true,
	}
	order := &models.Order{
		ID:            1,
		OrderID:       models.NewOrderID(),
		UserID:        7,
		PricingPlanID: uintPtr(1),
		Amount:        decimal.RequireFromString("100.00"),
		Currency:      "USD",
		Status:        models.OrderStatusPending,
		BillingEmail:  "dana@example.com",
		BillingName:   "Dana",
	}
	store.orders[order.ID] = order
	store.nextID = 1

	gw := &fakeGateway{captures: map[string]*gateway.CaptureResult{}}
	coord := NewCoordinator(store, gw)
	return &fixture{store: store, gw: gw, coord: coord, order: order}
}

func (fx *fixture) outboxCount(kind string) int {
	fx.store.mu.Lock()
	defer fx.store.mu.Unlock()
	n := 0
	for _, msg := range fx.store.outbox {
		if msg.Kind == kind {
			n++
		}
	}
	return n
}

func (fx *fixture) completedPayments() int {
	fx.store.mu.Lock()
	defer fx.store.mu.Unlock()
	n := 0
	for _, p := range fx.store.payments {
		if p.Status == models.PaymentStatusCompleted {
			n++
		}
	}
	return n
}

func (fx *fixture) open(t *testing.T) *models.Payment {
	t.Helper()
	payment, approvalURL, err := fx.coord.OpenPayment(context.Background(), 7, fx.order.OrderID, "https://app.test/return", "https://app.test/cancel")
	require.NoError(t, err)
	require.NotEmpty(t, approvalURL)
	return payment
}

func TestOpenPaymentMovesOrderToProcessing(t *testing.T) {
	fx := newFixture(t)

	payment := fx.open(t)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Equal(t, "PP-1", payment.ProviderPaymentID)
	assert.True(t, payment.Amount.Equal(decimal.RequireFromString("100.00")))

	order, err := fx.store.GetOrderByID(fx.order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, order.Status)
}

func TestOpenPaymentRejectsSettledOrder(t *testing.T) {
	fx := newFixture(t)
	fx.store.orders[fx.order.ID].Status = models.OrderStatusPaid

	_, _, err := fx.coord.OpenPayment(context.Background(), 7, fx.order.OrderID, "", "")
	assert.ErrorIs(t, err, ErrOrderNotPayable)
}

func TestOpenPaymentAllowsRetryWhileProcessing(t *testing.T) {
	fx := newFixture(t)

	first := fx.open(t)
	second := fx.open(t)
	assert.NotEqual(t, first.ProviderPaymentID, second.ProviderPaymentID)

	// The replaced attempt is voided so only one attempt stays live.
	stored, err := fx.store.GetPaymentByProviderPaymentID(first.ProviderPaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, stored.Status)

	order, err := fx.store.GetOrderByID(fx.order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, order.Status)
}

func TestRivalAttemptsSettleOrderOnce(t *testing.T) {
	fx := newFixture(t)
	first := fx.open(t)
	second := fx.open(t)

	outcome, err := fx.coord.Reconcile(context.Background(), Signal{
		ProviderPaymentID: second.ProviderPaymentID,
		Status:            gateway.TxnStatusCompleted,
		CaptureID:         "CAP-B",
		Raw:               `{"status":"COMPLETED"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	// The first attempt was voided at the second open, but the buyer's stale
	// approval page still produced a capture. The money comes back.
	outcome, err = fx.coord.Reconcile(context.Background(), Signal{
		ProviderPaymentID: first.ProviderPaymentID,
		Status:            gateway.TxnStatusCompleted,
		CaptureID:         "CAP-A",
		Raw:               `{"status":"COMPLETED"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSurplus, outcome)
	assert.Equal(t, 1, fx.gw.refunds)

	assert.Equal(t, 1, fx.completedPayments())
	order, err := fx.store.GetOrderByID(fx.order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, 1, fx.outboxCount(models.OutboxKindPaymentReceipt))
}

func TestCompletedVerdictLosingOrderIsVoidedAndRefunded(t *testing.T) {
	fx := newFixture(t)
	fx.store.orders[fx.order.ID].Status = models.OrderStatusProcessing
	for i, txn := range []string{"PP-A", "PP-B"} {
		fx.store.payments[uint(i+1)] = &models.Payment{
			ID:                uint(i + 1),
			OrderID:           fx.order.ID,
			ProviderPaymentID: txn,
			Amount:            decimal.RequireFromString("100.00"),
			Currency:          "USD",
			Status:            models.PaymentStatusPending,
		}
	}
	fx.store.nextID = 2

	outcome, err := fx.coord.Reconcile(context.Background(), Signal{
		ProviderPaymentID: "PP-A",
		Status:            gateway.TxnStatusCompleted,
		CaptureID:         "CAP-A",
		Raw:               `{"status":"COMPLETED"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	outcome, err = fx.coord.Reconcile(context.Background(), Signal{
		ProviderPaymentID: "PP-B",
		Status:            gateway.TxnStatusCompleted,
		CaptureID:         "CAP-B",
		Raw:               `{"status":"COMPLETED"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSurplus, outcome)
	assert.Equal(t, 1, fx.gw.refunds)

	assert.Equal(t, 1, fx.completedPayments())
	loser, err := fx.store.GetPaymentByProviderPaymentID("PP-B")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, loser.Status)
	assert.Equal(t, 1, fx.outboxCount(models.OutboxKindPaymentReceipt))
}

func TestOpenPaymentGatewayDownLeavesOrderUntouched(t *testing.T) {
	fx := newFixture(t)
	fx.gw.openErr = gateway.ErrUnavailable

	_, _, err := fx.coord.OpenPayment(context.Background(), 7, fx.order.OrderID, "", "")
	assert.ErrorIs(t, err, gateway.ErrUnavailable)

	order, err := fx.store.GetOrderByID(fx.order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Empty(t, fx.store.payments)
}

func TestCaptureSettlesOrderOnce(t *testing.T) {
	fx := newFixture(t)
	payment := fx.open(t)

	outcome, order, err := fx.coord.Capture(context.Background(), 7, fx.order.OrderID, payment.ProviderPaymentID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	require.NotNil(t, order.PaidAt)
	firstPaidAt := *order.PaidAt

	// Same verdict again, e.g. a double-clicked return page.
	outcome, order, err = fx.coord.Capture(context.Background(), 7, fx.order.OrderID, payment.ProviderPaymentID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, firstPaidAt, *order.PaidAt)

	assert.Equal(t, 1, fx.outboxCount(models.OutboxKindEnrollment))

	receipts := 0
	for _, msg := range fx.store.outbox {
		if msg.Kind == models.OutboxKindPaymentReceipt {
			receipts++
			assert.Equal(t, "dana@example.com", msg.Recipient)
		}
	}
	assert.Equal(t, 1, receipts)
}

func TestCaptureThenWebhookCommute(t *testing.T) {
	run := func(t *testing.T, captureFirst bool) {
		fx := newFixture(t)
		payment := fx.open(t)

		webhook := func() {
			outcome, err := fx.coord.Reconcile(context.Background(), Signal{
				ProviderPaymentID: payment.ProviderPaymentID,
				Status:            gateway.TxnStatusCompleted,
				PayerID:           "PAYER-1",
				CaptureID:         "CAP-WH",
				Raw:               `{"via":"webhook"}`,
			})
			require.NoError(t, err)
			assert.Contains(t, []Outcome{OutcomeCompleted, OutcomeDuplicate}, outcome)
		}
		capture := func() {
			_, _, err := fx.coord.Capture(context.Background(), 7, fx.order.OrderID, payment.ProviderPaymentID)
			require.NoError(t, err)
		}

		if captureFirst {
			capture()
			webhook()
		} else {
			webhook()
			capture()
		}

		order, err := fx.store.GetOrderByID(fx.order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPaid, order.Status)
		assert.Equal(t, 1, fx.outboxCount(models.OutboxKindPaymentReceipt))
		assert.Equal(t, 1, fx.outboxCount(models.OutboxKindEnrollment))
	}

	t.Run("capture then webhook", func(t *testing.T) { run(t, true) })
	t.Run("webhook then capture", func(t *testing.T) { run(t, false) })
}

func TestDeclinedCaptureFailsOrder(t *testing.T) {
	fx := newFixture(t)
	payment := fx.open(t)
	fx.gw.captures[payment.ProviderPaymentID] = &gateway.CaptureResult{
		RemoteTxnID: payment.ProviderPaymentID,
		Status:      gateway.TxnStatusDeclined,
		Raw:         `{"status":"DECLINED"}`,
	}

	outcome, order, err := fx.coord.Capture(context.Background(), 7, fx.order.OrderID, payment.ProviderPaymentID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, models.OrderStatusFailed, order.Status)
	assert.Nil(t, order.PaidAt)
	assert.Equal(t, 0, fx.outboxCount(models.OutboxKindEnrollment))

	require.Len(t, fx.store.outbox, 1)
	assert.Equal(t, models.OutboxKindPaymentFailed, fx.store.outbox[0].Kind)
}

func TestCaptureTransportFailureChangesNothing(t *testing.T) {
	fx := newFixture(t)
	payment := fx.open(t)
	fx.gw.captureErr = gateway.ErrUnavailable

	_, _, err := fx.coord.Capture(context.Background(), 7, fx.order.OrderID, payment.ProviderPaymentID)
	assert.ErrorIs(t, err, gateway.ErrUnavailable)

	stored, err := fx.store.GetPaymentByProviderPaymentID(payment.ProviderPaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, stored.Status)

	order, err := fx.store.GetOrderByID(fx.order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, order.Status)
}

func TestReconcileUnknownTransactionDropped(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.coord.Reconcile(context.Background(), Signal{
		ProviderPaymentID: "PP-NEVER-OPENED",
		Status:            gateway.TxnStatusCompleted,
	})
	assert.ErrorIs(t, err, ErrUnknownTransaction)
	assert.Empty(t, fx.store.outbox)
}

func TestReconcilePendingSignalIgnored(t *testing.T) {
	fx := newFixture(t)
	payment := fx.open(t)

	outcome, err := fx.coord.Reconcile(context.Background(), Signal{
		ProviderPaymentID: payment.ProviderPaymentID,
		Status:            gateway.TxnStatusPending,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	stored, err := fx.store.GetPaymentByProviderPaymentID(payment.ProviderPaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, stored.Status)
}

func TestConcurrentReconcileSettlesOnce(t *testing.T) {
	fx := newFixture(t)
	payment := fx.open(t)

	const workers = 16
	outcomes := make(chan Outcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := fx.coord.Reconcile(context.Background(), Signal{
				ProviderPaymentID: payment.ProviderPaymentID,
				Status:            gateway.TxnStatusCompleted,
				PayerID:           "PAYER-1",
				CaptureID:         "CAP-1",
				Raw:               `{"status":"COMPLETED"}`,
			})
			require.NoError(t, err)
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	completed := 0
	for outcome := range outcomes {
		if outcome == OutcomeCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed, "exactly one reconciler wins the completed transition")
	assert.Equal(t, 1, fx.outboxCount(models.OutboxKindEnrollment))
	assert.Equal(t, 1, fx.outboxCount(models.OutboxKindPaymentReceipt))
}

func TestSettlementEnqueuesEnrollmentJobOnce(t *testing.T) {
	fx := newFixture(t)
	payment := fx.open(t)

	outcome, _, err := fx.coord.Capture(context.Background(), 7, fx.order.OrderID, payment.ProviderPaymentID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	// The job row lands in the settling transaction, so it survives any
	// programs-service outage; a redelivered verdict does not add a second.
	require.Equal(t, 1, fx.outboxCount(models.OutboxKindEnrollment))
	_, err = fx.coord.Reconcile(context.Background(), Signal{
		ProviderPaymentID: payment.ProviderPaymentID,
		Status:            gateway.TxnStatusCompleted,
		Raw:               `{"via":"webhook"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fx.outboxCount(models.OutboxKindEnrollment))

	var job outbox.EnrollmentJob
	for _, msg := range fx.store.outbox {
		if msg.Kind == models.OutboxKindEnrollment {
			require.NoError(t, json.Unmarshal([]byte(msg.Body), &job))
		}
	}
	assert.Equal(t, uint(7), job.UserID)
	assert.Equal(t, uint(42), job.ProgramID)
}

func TestRecurringPlanCreatesSubscription(t *testing.T) {
	fx := newFixture(t)
	fx.store.plans[1].BillingCycle = models.BillingCycleMonthly
	payment := fx.open(t)

	_, _, err := fx.coord.Capture(context.Background(), 7, fx.order.OrderID, payment.ProviderPaymentID)
	require.NoError(t, err)

	require.Len(t, fx.store.subs, 1)
	sub := fx.store.subs[0]
	assert.Equal(t, uint(7), sub.UserID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.True(t, sub.CurrentPeriodEnd.After(sub.CurrentPeriodStart))

	// A second paid cycle refreshes the row instead of duplicating it.
	order2 := &models.Order{
		ID:            2,
		OrderID:       models.NewOrderID(),
		UserID:        7,
		PricingPlanID: uintPtr(1),
		Amount:        decimal.RequireFromString("100.00"),
		Currency:      "USD",
		Status:        models.OrderStatusPending,
		BillingEmail:  "dana@example.com",
	}
	fx.store.orders[order2.ID] = order2
	payment2, _, err := fx.coord.OpenPayment(context.Background(), 7, order2.OrderID, "", "")
	require.NoError(t, err)
	_, _, err = fx.coord.Capture(context.Background(), 7, order2.OrderID, payment2.ProviderPaymentID)
	require.NoError(t, err)
	assert.Len(t, fx.store.subs, 1)
}

func TestRefundMovesPaidOrderToRefunded(t *testing.T) {
	fx := newFixture(t)
	payment := fx.open(t)
	_, _, err := fx.coord.Capture(context.Background(), 7, fx.order.OrderID, payment.ProviderPaymentID)
	require.NoError(t, err)

	order, err := fx.coord.Refund(context.Background(), fx.order.OrderID, nil, "customer request")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunded, order.Status)
	assert.Equal(t, 1, fx.gw.refunds)

	stored, err := fx.store.GetPaymentByProviderPaymentID(payment.ProviderPaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, stored.Status)

	// Second refund is rejected before the gateway is called again.
	_, err = fx.coord.Refund(context.Background(), fx.order.OrderID, nil, "again")
	assert.ErrorIs(t, err, ErrNotRefundable)
	assert.Equal(t, 1, fx.gw.refunds)
}

func TestRefundRejectsUnpaidOrder(t *testing.T) {
	fx := newFixture(t)
	fx.open(t)

	_, err := fx.coord.Refund(context.Background(), fx.order.OrderID, nil, "")
	assert.ErrorIs(t, err, ErrNotRefundable)
	assert.Equal(t, 0, fx.gw.refunds)
}

func TestReconcileRefundFromWebhook(t *testing.T) {
	fx := newFixture(t)
	payment := fx.open(t)
	_, _, err := fx.coord.Capture(context.Background(), 7, fx.order.OrderID, payment.ProviderPaymentID)
	require.NoError(t, err)

	outcome, err := fx.coord.ReconcileRefund(context.Background(), payment.ProviderPaymentID, `{"via":"dashboard"}`)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefunded, outcome)

	order, err := fx.store.GetOrderByID(fx.order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunded, order.Status)

	// Re-delivered notification is a no-op.
	outcome, err = fx.coord.ReconcileRefund(context.Background(), payment.ProviderPaymentID, `{"via":"dashboard"}`)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestSyncStatusReconcilesPolledVerdict(t *testing.T) {
	fx := newFixture(t)
	payment := fx.open(t)

	outcome, err := fx.coord.SyncStatus(context.Background(), payment.ProviderPaymentID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	order, err := fx.store.GetOrderByID(fx.order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
}

func TestReconcileStaleSettlesForgottenPayment(t *testing.T) {
	fx := newFixture(t)
	payment := fx.open(t)
	fx.store.payments[payment.ID].CreatedAt = time.Now().Add(-time.Hour)

	// Neither the return redirect nor the webhook arrived; the sweep polls
	// the provider and applies the verdict it finds.
	err := fx.coord.ReconcileStale(context.Background(), time.Now().Add(-15*time.Minute), 10)
	require.NoError(t, err)

	order, err := fx.store.GetOrderByID(fx.order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, 1, fx.completedPayments())

	// A second sweep finds nothing pending and changes nothing.
	require.NoError(t, fx.coord.ReconcileStale(context.Background(), time.Now(), 10))
	assert.Equal(t, 1, fx.outboxCount(models.OutboxKindPaymentReceipt))
}
