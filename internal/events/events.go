package events

import (
	"context"
	"time"

	chargedomain "github.com/alphagov/pay-connector-sub019/internal/charge/domain"
	refunddomain "github.com/alphagov/pay-connector-sub019/internal/refund/domain"
)

// Resource types published to the ledger.
const (
	ResourcePayment = "payment"
	ResourceRefund  = "refund"
)

// Ledger event types per charge status.
const (
	EventPaymentCreated         = "payment_created"
	EventPaymentStarted         = "payment_started"
	EventAuthorisationSubmitted = "authorisation_submitted"
	EventAuthorisationSucceeded = "authorisation_succeeded"
	EventAuthorisationRejected  = "authorisation_rejected"
	EventAuthorisationErrored   = "authorisation_errored"
	EventCaptureApproved        = "capture_approved"
	EventCaptureRetryScheduled  = "capture_retry_scheduled"
	EventCaptureReady           = "capture_ready"
	EventCaptureSubmitted       = "capture_submitted"
	EventCaptureConfirmed       = "capture_confirmed"
	EventCaptureErrored         = "capture_errored"
	EventPaymentExpired         = "payment_expired"
	EventCancelledByUser        = "cancelled_by_user"
	EventCancelledBySystem      = "cancelled_by_system"
	EventCancelErrored          = "cancel_errored"

	EventRefundSubmitted = "refund_submitted"
	EventRefundSucceeded = "refund_succeeded"
	EventRefundErrored   = "refund_errored"
)

var chargeEventTypes = map[chargedomain.ChargeStatus]string{
	chargedomain.StatusCreated:                EventPaymentCreated,
	chargedomain.StatusEnteringDetails:        EventPaymentStarted,
	chargedomain.StatusAuthorisationSubmitted: EventAuthorisationSubmitted,
	chargedomain.StatusAuthorisationSuccess:   EventAuthorisationSucceeded,
	chargedomain.StatusAuthorisationRejected:  EventAuthorisationRejected,
	chargedomain.StatusAuthorisationError:     EventAuthorisationErrored,
	chargedomain.StatusCaptureApproved:        EventCaptureApproved,
	chargedomain.StatusCaptureApprovedRetry:   EventCaptureRetryScheduled,
	chargedomain.StatusCaptureReady:           EventCaptureReady,
	chargedomain.StatusCaptureSubmitted:       EventCaptureSubmitted,
	chargedomain.StatusCaptured:               EventCaptureConfirmed,
	chargedomain.StatusCaptureError:           EventCaptureErrored,
	chargedomain.StatusExpired:                EventPaymentExpired,
	chargedomain.StatusUserCancelled:          EventCancelledByUser,
	chargedomain.StatusSystemCancelled:        EventCancelledBySystem,
	chargedomain.StatusCancelError:            EventCancelErrored,
}

var refundEventTypes = map[refunddomain.RefundStatus]string{
	refunddomain.StatusRefundSubmitted: EventRefundSubmitted,
	refunddomain.StatusRefunded:        EventRefundSucceeded,
	refunddomain.StatusRefundError:     EventRefundErrored,
}

// TypeForChargeStatus returns the ledger event type for a charge status.
func TypeForChargeStatus(status chargedomain.ChargeStatus) string {
	if eventType, ok := chargeEventTypes[status]; ok {
		return eventType
	}
	return "payment_status_changed"
}

// TypeForRefundStatus returns the ledger event type for a refund status.
func TypeForRefundStatus(status refunddomain.RefundStatus) string {
	if eventType, ok := refundEventTypes[status]; ok {
		return eventType
	}
	return "refund_status_changed"
}

// Event is the wire representation published to the ledger sink.
type Event struct {
	ResourceType       string         `json:"resource_type"`
	ResourceExternalID string         `json:"resource_external_id"`
	EventType          string         `json:"event_type"`
	EventDate          time.Time      `json:"event_date"`
	Payload            map[string]any `json:"payload,omitempty"`
}

// Sink is the downstream ledger endpoint. Publish must be idempotent from
// the receiver's perspective given duplicate delivery.
type Sink interface {
	Publish(ctx context.Context, batch []Event) error
}
