package notification

import (
	"time"

	chargedomain "github.com/alphagov/pay-connector-sub019/internal/charge/domain"
	refunddomain "github.com/alphagov/pay-connector-sub019/internal/refund/domain"
)

// Notification is the provider-agnostic view of one inbound webhook.
type Notification struct {
	TransactionReference string
	Status               string
	GatewayEventDate     *time.Time
}

// InterpretationKind classifies what a provider status means for us.
type InterpretationKind int

const (
	// InterpretationCharge targets a charge status.
	InterpretationCharge InterpretationKind = iota
	// InterpretationRefund targets a refund status.
	InterpretationRefund
	// InterpretationIgnored is a status we know and deliberately do not act
	// on, e.g. "still pending".
	InterpretationIgnored
	// InterpretationUnknown is a status we have never seen. Logged loudly
	// for operator attention, never a hard failure.
	InterpretationUnknown
)

// InterpretedStatus is the result of mapping a provider-reported status.
type InterpretedStatus struct {
	Kind         InterpretationKind
	ChargeStatus chargedomain.ChargeStatus
	RefundStatus refunddomain.RefundStatus
}

// Decoder parses a provider-specific payload.
type Decoder interface {
	Decode(payload []byte) (Notification, error)
}

// StatusMapper maps a provider-reported status to an interpreted status.
type StatusMapper interface {
	Map(providerStatus string) InterpretedStatus
}

// Provider bundles the decode and mapping strategy for one gateway plus its
// sender-verification policy.
type Provider struct {
	Name          string
	Decoder       Decoder
	Mapper        StatusMapper
	VerifySender  bool
	TrustedDomain string
}

// OutcomeKind is the processor's answer about one notification.
type OutcomeKind int

const (
	OutcomeAccepted OutcomeKind = iota
	OutcomeRejected
	OutcomeIgnored
)

// Outcome reports how a notification was handled.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

func accepted() Outcome                 { return Outcome{Kind: OutcomeAccepted} }
func rejected(reason string) Outcome    { return Outcome{Kind: OutcomeRejected, Reason: reason} }
func ignoredWith(reason string) Outcome { return Outcome{Kind: OutcomeIgnored, Reason: reason} }
