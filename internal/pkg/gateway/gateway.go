// Package gateway abstracts the external settlement provider. The Client
// interface is provider-agnostic; settlement never branches on a concrete
// provider, so a second backend can be added without touching it.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable marks transient transport failures: network errors,
	// timeouts and provider 5xx. Callers may retry; local state is unchanged.
	ErrUnavailable = errors.New("gateway unavailable")

	// ErrRejected marks provider 4xx responses (bad amount, bad currency,
	// unknown transaction). Retrying the identical request will not help.
	ErrRejected = errors.New("gateway rejected request")
)

// Normalized transaction statuses as reported by the provider.
const (
	TxnStatusCompleted = "COMPLETED"
	TxnStatusDeclined  = "DECLINED"
	TxnStatusPending   = "PENDING"
)

// OpenParams describes the remote transaction to create.
type OpenParams struct {
	Amount        decimal.Decimal
	Currency      string
	Description   string
	LocalOrderRef string
	ReturnURL     string
	CancelURL     string
}

// OpenResult is the provider's answer to a transaction creation.
type OpenResult struct {
	RemoteTxnID string
	Status      string
	ApprovalURL string
	Raw         string
}

// CaptureResult is the provider's answer to a capture attempt. A CaptureResult
// with a non-completed Status is a provider verdict, not a transport failure.
type CaptureResult struct {
	RemoteTxnID string
	Status      string
	PayerID     string
	CaptureID   string
	Raw         string
}

// RefundResult is the provider's answer to a refund request.
type RefundResult struct {
	RefundID string
	Status   string
	Raw      string
}

// Client is the capability interface over one external payment provider.
// Implementations never mutate local state; they only translate provider
// facts.
type Client interface {
	// Provider names the backend, e.g. "paypal".
	Provider() string

	// OpenTransaction creates a remote transaction the user can approve.
	OpenTransaction(ctx context.Context, params OpenParams) (*OpenResult, error)

	// CaptureTransaction completes an approved transaction. The provider
	// guarantees a second capture of an already-captured transaction does
	// not double-charge; local idempotency is still the settlement layer's
	// job.
	CaptureTransaction(ctx context.Context, remoteTxnID string) (*CaptureResult, error)

	// GetTransactionStatus fetches the provider-side status.
	GetTransactionStatus(ctx context.Context, remoteTxnID string) (string, error)

	// Refund refunds a capture, partially if amount is non-nil.
	Refund(ctx context.Context, captureID string, amount *decimal.Decimal, currency, note string) (*RefundResult, error)

	// VerifyWebhookSignature checks an inbound notification's authenticity.
	// It must be called before any webhook payload is trusted.
	VerifyWebhookSignature(ctx context.Context, headers map[string]string, body []byte) (bool, error)
}
