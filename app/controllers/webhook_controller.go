package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/code2deploy/payments/app/models"
	"github.com/code2deploy/payments/app/repository"
	"github.com/code2deploy/payments/internal/pkg/gateway"
	"github.com/code2deploy/payments/internal/pkg/settlement"
)

// Provider webhook event types we act on. Everything else is acknowledged and
// ignored.
const (
	eventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	eventCaptureDenied    = "PAYMENT.CAPTURE.DENIED"
	eventCaptureRefunded  = "PAYMENT.CAPTURE.REFUNDED"
	eventOrderApproved    = "CHECKOUT.ORDER.APPROVED"
)

type paypalWebhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type paypalCaptureResource struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

// HandleGatewayWebhook ingests provider notifications. The signature is
// verified before anything in the payload is trusted; valid events are
// persisted for deduplication and then reconciled. The response is always a
// fast 200 for verified events, including duplicates and unknown
// transactions, so the provider stops redelivering.
func HandleGatewayWebhook(c *fiber.Ctx) error {
	body := make([]byte, len(c.Body()))
	copy(body, c.Body())

	headers := map[string]string{}
	for _, name := range []string{
		"Paypal-Transmission-Id",
		"Paypal-Transmission-Time",
		"Paypal-Transmission-Sig",
		"Paypal-Cert-Url",
		"Paypal-Auth-Algo",
	} {
		headers[name] = c.Get(name)
	}

	ctx, cancel := context.WithTimeout(c.Context(), 20*time.Second)
	defer cancel()

	client := getGatewayClient()
	valid, err := client.VerifyWebhookSignature(ctx, headers, body)
	if err != nil {
		log.Printf("webhook signature verification failed: %v", err)
		// Verification unavailable is not proof of forgery; a non-2xx makes
		// the provider redeliver once the verification endpoint recovers.
		return errorJSON(c, fiber.StatusServiceUnavailable, "verification_unavailable", "Signature verification unavailable")
	}
	if !valid {
		return errorJSON(c, fiber.StatusUnauthorized, "invalid_signature", "Webhook signature invalid")
	}

	var event paypalWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil || event.ID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Malformed webhook payload")
	}

	repo := repository.GetGlobalFactory().GetWebhookEventRepository()
	created, stored, err := repo.CreateIfNotExists(&models.WebhookEvent{
		Provider:        client.Provider(),
		ProviderEventID: event.ID,
		EventType:       event.EventType,
		PayloadJSON:     string(body),
		SignatureValid:  true,
	})
	if err != nil {
		log.Printf("webhook event persist failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to record event")
	}
	if !created {
		return c.JSON(fiber.Map{"status": "duplicate"})
	}

	processingError := ""
	if err := processGatewayEvent(ctx, &event); err != nil {
		processingError = err.Error()
		log.Printf("webhook event %s (%s) processing failed: %v", event.ID, event.EventType, err)
	}
	if err := repo.MarkProcessed(stored.ID, processingError); err != nil {
		log.Printf("webhook event %s mark processed failed: %v", event.ID, err)
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

// processGatewayEvent maps a verified provider event onto a settlement
// action. Unknown transactions and duplicates are recorded, not retried.
func processGatewayEvent(ctx context.Context, event *paypalWebhookEvent) error {
	coord := getSettlementCoordinator()

	switch event.EventType {
	case eventCaptureCompleted, eventCaptureDenied, eventCaptureRefunded:
		var resource paypalCaptureResource
		if err := json.Unmarshal(event.Resource, &resource); err != nil {
			return fmt.Errorf("malformed capture resource: %w", err)
		}
		providerPaymentID := resource.SupplementaryData.RelatedIDs.OrderID
		if providerPaymentID == "" {
			return fmt.Errorf("capture event %s without related order id", event.ID)
		}

		var err error
		switch event.EventType {
		case eventCaptureCompleted:
			_, err = coord.Reconcile(ctx, settlement.Signal{
				ProviderPaymentID: providerPaymentID,
				Status:            gateway.TxnStatusCompleted,
				CaptureID:         resource.ID,
				Raw:               string(event.Resource),
			})
		case eventCaptureDenied:
			_, err = coord.Reconcile(ctx, settlement.Signal{
				ProviderPaymentID: providerPaymentID,
				Status:            gateway.TxnStatusDeclined,
				CaptureID:         resource.ID,
				Raw:               string(event.Resource),
			})
		case eventCaptureRefunded:
			_, err = coord.ReconcileRefund(ctx, providerPaymentID, string(event.Resource))
		}
		if errors.Is(err, settlement.ErrUnknownTransaction) {
			return fmt.Errorf("dropped event for unknown transaction %s", providerPaymentID)
		}
		return err

	case eventOrderApproved:
		var resource paypalCaptureResource
		if err := json.Unmarshal(event.Resource, &resource); err != nil {
			return fmt.Errorf("malformed order resource: %w", err)
		}
		if resource.ID == "" {
			return fmt.Errorf("approved event %s without order id", event.ID)
		}
		// The user approved but the client never called capture, e.g. a
		// closed browser tab. Capture server-side, unless the local attempt
		// was already settled or voided.
		_, err := coord.CaptureApproved(ctx, resource.ID)
		if errors.Is(err, settlement.ErrUnknownTransaction) {
			return fmt.Errorf("dropped event for unknown transaction %s", resource.ID)
		}
		return err

	default:
		// Acknowledged, no local meaning.
		return nil
	}
}
