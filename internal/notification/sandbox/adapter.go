// Package sandbox decodes notifications from the sandbox gateway, which
// posts a small JSON body per event.
package sandbox

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	chargedomain "github.com/alphagov/pay-connector-sub019/internal/charge/domain"
	"github.com/alphagov/pay-connector-sub019/internal/notification"
	refunddomain "github.com/alphagov/pay-connector-sub019/internal/refund/domain"
)

const ProviderName = "sandbox"

type payload struct {
	TransactionReference string     `json:"transaction_reference"`
	Status               string     `json:"status"`
	EventDate            *time.Time `json:"event_date"`
}

type Decoder struct{}

func (Decoder) Decode(raw []byte) (notification.Notification, error) {
	var body payload
	if err := json.Unmarshal(raw, &body); err != nil {
		return notification.Notification{}, err
	}
	if strings.TrimSpace(body.TransactionReference) == "" {
		return notification.Notification{}, errors.New("missing transaction_reference")
	}
	return notification.Notification{
		TransactionReference: body.TransactionReference,
		Status:               body.Status,
		GatewayEventDate:     body.EventDate,
	}, nil
}

type Mapper struct{}

func (Mapper) Map(providerStatus string) notification.InterpretedStatus {
	switch strings.ToUpper(strings.TrimSpace(providerStatus)) {
	case "AUTHORISED":
		return notification.InterpretedStatus{Kind: notification.InterpretationCharge, ChargeStatus: chargedomain.StatusAuthorisationSuccess}
	case "REFUSED":
		return notification.InterpretedStatus{Kind: notification.InterpretationCharge, ChargeStatus: chargedomain.StatusAuthorisationRejected}
	case "ERROR":
		return notification.InterpretedStatus{Kind: notification.InterpretationCharge, ChargeStatus: chargedomain.StatusAuthorisationError}
	case "CAPTURED":
		return notification.InterpretedStatus{Kind: notification.InterpretationCharge, ChargeStatus: chargedomain.StatusCaptured}
	case "REFUNDED":
		return notification.InterpretedStatus{Kind: notification.InterpretationRefund, RefundStatus: refunddomain.StatusRefunded}
	case "REFUND_FAILED":
		return notification.InterpretedStatus{Kind: notification.InterpretationRefund, RefundStatus: refunddomain.StatusRefundError}
	case "SENT_FOR_AUTHORISATION", "PENDING":
		return notification.InterpretedStatus{Kind: notification.InterpretationIgnored}
	default:
		return notification.InterpretedStatus{Kind: notification.InterpretationUnknown}
	}
}

// Provider returns the sandbox notification strategy. The sandbox never
// requires sender verification.
func Provider() notification.Provider {
	return notification.Provider{
		Name:    ProviderName,
		Decoder: Decoder{},
		Mapper:  Mapper{},
	}
}
