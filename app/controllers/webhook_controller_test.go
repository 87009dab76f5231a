package controllers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaypalCaptureEventParsing(t *testing.T) {
	payload := []byte(`{
		"id": "WH-58D329510W468432D-8HN650336L201105X",
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {
			"id": "0JF852973C016714D",
			"status": "COMPLETED",
			"amount": {"currency_code": "USD", "value": "80.00"},
			"supplementary_data": {
				"related_ids": {
					"order_id": "5O190127TN364715T"
				}
			}
		}
	}`)

	var event paypalWebhookEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, "WH-58D329510W468432D-8HN650336L201105X", event.ID)
	assert.Equal(t, eventCaptureCompleted, event.EventType)

	var resource paypalCaptureResource
	require.NoError(t, json.Unmarshal(event.Resource, &resource))
	assert.Equal(t, "0JF852973C016714D", resource.ID)
	assert.Equal(t, "COMPLETED", resource.Status)
	assert.Equal(t, "5O190127TN364715T", resource.SupplementaryData.RelatedIDs.OrderID)
}

func TestPaypalOrderApprovedEventParsing(t *testing.T) {
	payload := []byte(`{
		"id": "WH-COC11055RA711503B-4YM959094A144403T",
		"event_type": "CHECKOUT.ORDER.APPROVED",
		"resource": {
			"id": "5O190127TN364715T",
			"status": "APPROVED"
		}
	}`)

	var event paypalWebhookEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, eventOrderApproved, event.EventType)

	var resource paypalCaptureResource
	require.NoError(t, json.Unmarshal(event.Resource, &resource))
	assert.Equal(t, "5O190127TN364715T", resource.ID)
	assert.Empty(t, resource.SupplementaryData.RelatedIDs.OrderID)
}

func TestPaypalEventMissingIDRejected(t *testing.T) {
	var event paypalWebhookEvent
	require.NoError(t, json.Unmarshal([]byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED"}`), &event))
	assert.Empty(t, event.ID)
}
