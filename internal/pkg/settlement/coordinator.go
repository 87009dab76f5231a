// Package settlement applies external payment verdicts to local orders. Every
// signal source (synchronous capture, status poll, webhook) funnels into one
// Reconcile path, so the same verdict delivered twice, or over two channels,
// settles the order exactly once.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/code2deploy/payments/app/models"
	"github.com/code2deploy/payments/internal/pkg/gateway"
	"github.com/code2deploy/payments/internal/pkg/outbox"
)

var (
	// ErrUnknownTransaction is returned when a settlement signal references
	// a provider transaction we never opened. The signal is dropped.
	ErrUnknownTransaction = errors.New("settlement: unknown provider transaction")

	// ErrOrderNotPayable is returned when a payment is opened against an
	// order that already left the pending/processing states.
	ErrOrderNotPayable = errors.New("settlement: order is not payable")

	// ErrNotRefundable is returned for refund attempts on orders that were
	// never paid.
	ErrNotRefundable = errors.New("settlement: order is not refundable")

	// ErrAlreadyRefunded is returned when the completed payment was already
	// moved to refunded by an earlier request or webhook.
	ErrAlreadyRefunded = errors.New("settlement: payment already refunded")
)

// Outcome classifies what a reconciliation did.
type Outcome string

const (
	// OutcomeCompleted means this call won the completed transition.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means this call won the failed transition.
	OutcomeFailed Outcome = "failed"
	// OutcomeRefunded means this call won the refunded transition.
	OutcomeRefunded Outcome = "refunded"
	// OutcomeDuplicate means the payment was already terminal; nothing changed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeSurplus means the provider captured money for an attempt that can
	// no longer settle its order, because a rival attempt already did or the
	// attempt was voided. The surplus capture is refunded.
	OutcomeSurplus Outcome = "surplus"
	// OutcomeIgnored means the signal carried no actionable verdict.
	OutcomeIgnored Outcome = "ignored"
)

// Signal is a normalized settlement fact about one provider transaction,
// regardless of which channel delivered it.
type Signal struct {
	ProviderPaymentID string
	Status            string
	PayerID           string
	CaptureID         string
	Raw               string
}

// Coordinator drives payment opening, capture and reconciliation. Gateway
// calls happen outside database transactions; only the resulting facts are
// applied transactionally.
type Coordinator struct {
	store  Store
	client gateway.Client
	now    func() time.Time
}

// NewCoordinator wires a coordinator over its collaborators.
func NewCoordinator(store Store, client gateway.Client) *Coordinator {
	return &Coordinator{store: store, client: client, now: time.Now}
}

// OpenPayment creates a provider transaction for a payable order and records
// the pending payment attempt. A processing order may open a fresh attempt,
// covering users who abandoned an earlier approval page; older pending
// attempts are voided in the same transaction so only one attempt stays live.
func (c *Coordinator) OpenPayment(ctx context.Context, userID uint, orderID, returnURL, cancelURL string) (*models.Payment, string, error) {
	order, err := c.store.GetOrderForUser(orderID, userID)
	if err != nil {
		return nil, "", err
	}
	if order.IsTerminal() || order.Status == models.OrderStatusPaid {
		return nil, "", ErrOrderNotPayable
	}

	description := fmt.Sprintf("Order %s", order.OrderID)
	if order.PricingPlanID != nil {
		if plan, perr := c.store.GetPlanByID(*order.PricingPlanID); perr == nil {
			description = plan.Name
		}
	}

	opened, err := c.client.OpenTransaction(ctx, gateway.OpenParams{
		Amount:        order.Amount,
		Currency:      order.Currency,
		Description:   description,
		LocalOrderRef: order.OrderID,
		ReturnURL:     returnURL,
		CancelURL:     cancelURL,
	})
	if err != nil {
		return nil, "", err
	}

	payment := &models.Payment{
		PaymentID:         models.NewPaymentID(),
		OrderID:           order.ID,
		Provider:          c.client.Provider(),
		ProviderPaymentID: opened.RemoteTxnID,
		Amount:            order.Amount,
		Currency:          order.Currency,
		Status:            models.PaymentStatusPending,
		ProviderResponse:  opened.Raw,
	}
	err = c.store.Transact(func(tx Store) error {
		if _, err := tx.VoidPendingPayments(order.ID); err != nil {
			return err
		}
		if err := tx.CreatePayment(payment); err != nil {
			return err
		}
		// Already-processing orders keep their status; the conditional
		// update simply matches zero rows.
		_, err := tx.TransitionOrder(order.ID, []string{models.OrderStatusPending}, models.OrderStatusProcessing)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return payment, opened.ApprovalURL, nil
}

// Capture completes an approved provider transaction and reconciles the
// verdict. Transport failures surface unchanged so the caller can retry; the
// provider guarantees a repeated capture does not double-charge.
func (c *Coordinator) Capture(ctx context.Context, userID uint, orderID, providerPaymentID string) (Outcome, *models.Order, error) {
	order, err := c.store.GetOrderForUser(orderID, userID)
	if err != nil {
		return OutcomeIgnored, nil, err
	}

	captured, err := c.client.CaptureTransaction(ctx, providerPaymentID)
	if err != nil {
		return OutcomeIgnored, nil, err
	}

	status := captured.Status
	if status != gateway.TxnStatusCompleted && status != gateway.TxnStatusPending {
		status = gateway.TxnStatusDeclined
	}
	outcome, err := c.Reconcile(ctx, Signal{
		ProviderPaymentID: captured.RemoteTxnID,
		Status:            status,
		PayerID:           captured.PayerID,
		CaptureID:         captured.CaptureID,
		Raw:               captured.Raw,
	})
	if err != nil {
		return outcome, nil, err
	}

	refreshed, err := c.store.GetOrderByID(order.ID)
	if err != nil {
		return outcome, nil, err
	}
	return outcome, refreshed, nil
}

// CaptureApproved captures a provider transaction the buyer approved, but only
// while its local attempt is still live. An approval on a voided or already
// settled attempt is skipped, so a stale approval page cannot trigger a second
// charge.
func (c *Coordinator) CaptureApproved(ctx context.Context, providerPaymentID string) (Outcome, error) {
	payment, err := c.store.GetPaymentByProviderPaymentID(providerPaymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return OutcomeIgnored, ErrUnknownTransaction
		}
		return OutcomeIgnored, err
	}
	if payment.IsTerminal() {
		return OutcomeDuplicate, nil
	}

	captured, err := c.client.CaptureTransaction(ctx, providerPaymentID)
	if err != nil {
		return OutcomeIgnored, err
	}
	status := captured.Status
	if status != gateway.TxnStatusCompleted && status != gateway.TxnStatusPending {
		status = gateway.TxnStatusDeclined
	}
	return c.Reconcile(ctx, Signal{
		ProviderPaymentID: captured.RemoteTxnID,
		Status:            status,
		PayerID:           captured.PayerID,
		CaptureID:         captured.CaptureID,
		Raw:               captured.Raw,
	})
}

// Reconcile applies one settlement signal. The order is the settlement gate:
// a completed verdict must first win the processing-to-paid transition before
// its payment may complete, so one order can never carry two completed
// payments. Conditional updates inside a single transaction serialize racing
// reconcilers; losers see OutcomeDuplicate, and a capture that lost the order
// to a rival attempt is voided and refunded as OutcomeSurplus.
func (c *Coordinator) Reconcile(ctx context.Context, sig Signal) (Outcome, error) {
	var (
		outcome         = OutcomeIgnored
		surplusCapture  string
		surplusCurrency string
	)
	err := c.store.Transact(func(tx Store) error {
		payment, err := tx.GetPaymentByProviderPaymentID(sig.ProviderPaymentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownTransaction
			}
			return err
		}

		switch sig.Status {
		case gateway.TxnStatusCompleted:
			if payment.IsTerminal() {
				if payment.Status == models.PaymentStatusFailed {
					// A voided or declined attempt was captured anyway.
					// Money moved with no live attempt to settle.
					outcome = OutcomeSurplus
					surplusCapture, surplusCurrency = sig.CaptureID, payment.Currency
					return nil
				}
				outcome = OutcomeDuplicate
				return nil
			}
			orderWon, err := tx.MarkOrderPaid(payment.OrderID, c.now())
			if err != nil {
				return err
			}
			if !orderWon {
				// A rival attempt settled the order first, or the order left
				// the payable states. Void this attempt; the capture money is
				// returned after commit.
				voided, err := tx.FailPayment(payment.ID, sig.Raw)
				if err != nil {
					return err
				}
				if !voided {
					outcome = OutcomeDuplicate
					return nil
				}
				outcome = OutcomeSurplus
				surplusCapture, surplusCurrency = sig.CaptureID, payment.Currency
				return nil
			}
			won, err := tx.CompletePayment(payment.ID, sig.PayerID, sig.CaptureID, sig.Raw, c.now())
			if err != nil {
				return err
			}
			if !won {
				// The order transition was won against a pending payment, so
				// this cannot match zero rows; roll everything back if it does.
				return fmt.Errorf("settlement: payment %d changed state mid-reconcile", payment.ID)
			}
			outcome = OutcomeCompleted
			return c.settleFulfillment(tx, payment)

		case gateway.TxnStatusDeclined:
			won, err := tx.FailPayment(payment.ID, sig.Raw)
			if err != nil {
				return err
			}
			if !won {
				outcome = OutcomeDuplicate
				return nil
			}
			outcome = OutcomeFailed
			if _, err := tx.MarkOrderFailed(payment.OrderID); err != nil {
				return err
			}
			return c.enqueueNotice(tx, payment, models.OutboxKindPaymentFailed)

		default:
			// PENDING and anything unrecognized carry no verdict yet.
			outcome = OutcomeIgnored
			return nil
		}
	})
	if err != nil {
		return OutcomeIgnored, err
	}

	// A surplus capture took real money. Return it at the provider; the local
	// state already committed, so a failed refund call only costs a retry by
	// the next delivery of the same signal.
	if outcome == OutcomeSurplus && surplusCapture != "" {
		if _, err := c.client.Refund(ctx, surplusCapture, nil, surplusCurrency, "duplicate capture"); err != nil {
			log.Printf("[Settlement] refund of surplus capture %s failed: %v", surplusCapture, err)
		}
	}
	return outcome, nil
}

// settleFulfillment records the side effects of a won completed transition:
// the receipt notification, the subscription row for recurring plans and the
// enrollment job. All three land in the settling transaction; the outbox
// dispatcher delivers them with retries, so a programs-service outage delays
// enrollment but cannot lose it.
func (c *Coordinator) settleFulfillment(tx Store, payment *models.Payment) error {
	order, err := tx.GetOrderByID(payment.OrderID)
	if err != nil {
		return err
	}
	if err := c.enqueueNotice(tx, payment, models.OutboxKindPaymentReceipt); err != nil {
		return err
	}
	if order.PricingPlanID == nil {
		return nil
	}
	plan, err := tx.GetPlanByID(*order.PricingPlanID)
	if err != nil {
		return err
	}
	if plan.IsRecurring() {
		start := c.now()
		sub := &models.Subscription{
			SubscriptionID:         models.NewSubscriptionID(),
			UserID:                 order.UserID,
			PricingPlanID:          order.PricingPlanID,
			Provider:               payment.Provider,
			ProviderSubscriptionID: payment.ProviderPaymentID,
			Status:                 models.SubscriptionStatusActive,
			CurrentPeriodStart:     start,
			CurrentPeriodEnd:       plan.PeriodEnd(start),
		}
		if err := tx.UpsertSubscription(sub); err != nil {
			return err
		}
	}
	if plan.ProgramID != nil {
		msg, err := outbox.NewEnrollmentMessage(order.UserID, *plan.ProgramID)
		if err != nil {
			return err
		}
		return tx.EnqueueOutbox(msg)
	}
	return nil
}

// Refund refunds a paid order at the provider, fully or partially, and moves
// payment and order to refunded. The provider call happens first; only its
// success is persisted.
func (c *Coordinator) Refund(ctx context.Context, orderID string, amount *decimal.Decimal, note string) (*models.Order, error) {
	order, err := c.store.GetOrderByOrderID(orderID)
	if err != nil {
		return nil, err
	}
	if !models.OrderCanTransition(order.Status, models.OrderStatusRefunded) {
		return nil, ErrNotRefundable
	}
	payment, err := c.store.GetCompletedPaymentByOrderID(order.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotRefundable
		}
		return nil, err
	}

	refunded, err := c.client.Refund(ctx, payment.ProviderCaptureID, amount, order.Currency, note)
	if err != nil {
		return nil, err
	}

	err = c.store.Transact(func(tx Store) error {
		won, err := tx.RefundPayment(payment.ID, refunded.Raw)
		if err != nil {
			return err
		}
		if !won {
			return ErrAlreadyRefunded
		}
		if _, err := tx.MarkOrderRefunded(order.ID); err != nil {
			return err
		}
		return c.enqueueNotice(tx, payment, models.OutboxKindRefundNotice)
	})
	if err != nil {
		return nil, err
	}
	return c.store.GetOrderByID(order.ID)
}

// ReconcileRefund applies a provider-initiated refund notification, e.g. a
// refund issued from the provider dashboard. Re-delivery is a no-op.
func (c *Coordinator) ReconcileRefund(ctx context.Context, providerPaymentID, raw string) (Outcome, error) {
	outcome := OutcomeIgnored
	err := c.store.Transact(func(tx Store) error {
		payment, err := tx.GetPaymentByProviderPaymentID(providerPaymentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownTransaction
			}
			return err
		}
		won, err := tx.RefundPayment(payment.ID, raw)
		if err != nil {
			return err
		}
		if !won {
			outcome = OutcomeDuplicate
			return nil
		}
		outcome = OutcomeRefunded
		if _, err := tx.MarkOrderRefunded(payment.OrderID); err != nil {
			return err
		}
		return c.enqueueNotice(tx, payment, models.OutboxKindRefundNotice)
	})
	if err != nil {
		return OutcomeIgnored, err
	}
	return outcome, nil
}

// SyncStatus polls the provider for a transaction's current status and
// reconciles it. Used when neither the return redirect nor the webhook
// arrived.
func (c *Coordinator) SyncStatus(ctx context.Context, providerPaymentID string) (Outcome, error) {
	status, err := c.client.GetTransactionStatus(ctx, providerPaymentID)
	if err != nil {
		return OutcomeIgnored, err
	}
	return c.Reconcile(ctx, Signal{ProviderPaymentID: providerPaymentID, Status: status})
}

// ReconcileStale polls the provider for pending attempts older than the given
// cutoff and reconciles whatever verdict it finds. Attempts the provider still
// reports as unapproved are left alone.
func (c *Coordinator) ReconcileStale(ctx context.Context, olderThan time.Time, limit int) error {
	stale, err := c.store.ListStalePendingPayments(olderThan, limit)
	if err != nil {
		return err
	}
	for i := range stale {
		if _, err := c.SyncStatus(ctx, stale[i].ProviderPaymentID); err != nil {
			log.Printf("[Settlement] status sync for %s failed: %v", stale[i].ProviderPaymentID, err)
		}
	}
	return nil
}

// enqueueNotice writes the notification row in the same transaction as the
// state change it announces.
func (c *Coordinator) enqueueNotice(tx Store, payment *models.Payment, kind string) error {
	order, err := tx.GetOrderByID(payment.OrderID)
	if err != nil {
		return err
	}
	recipient := order.BillingEmail
	name := order.BillingName
	if recipient == "" {
		user, err := tx.GetUserByID(order.UserID)
		if err != nil {
			return err
		}
		recipient = user.Email
		if name == "" {
			name = user.Name
		}
	}

	var subject, body string
	amount := fmt.Sprintf("%s %s", payment.Amount.StringFixed(2), payment.Currency)
	switch kind {
	case models.OutboxKindPaymentReceipt:
		subject = fmt.Sprintf("Payment received for order %s", order.OrderID)
		body = fmt.Sprintf("Hi %s,\n\nwe received your payment of %s for order %s. Thank you!\n", name, amount, order.OrderID)
	case models.OutboxKindPaymentFailed:
		subject = fmt.Sprintf("Payment failed for order %s", order.OrderID)
		body = fmt.Sprintf("Hi %s,\n\nyour payment of %s for order %s was declined. No charge was made. You can retry the payment at any time.\n", name, amount, order.OrderID)
	case models.OutboxKindRefundNotice:
		subject = fmt.Sprintf("Refund issued for order %s", order.OrderID)
		body = fmt.Sprintf("Hi %s,\n\nyour payment of %s for order %s has been refunded. Depending on your bank it can take a few days to show up.\n", name, amount, order.OrderID)
	}

	return tx.EnqueueOutbox(&models.OutboxMessage{
		Kind:      kind,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		Status:    models.OutboxStatusPending,
	})
}
