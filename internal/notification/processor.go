package notification

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	chargedomain "github.com/alphagov/pay-connector-sub019/internal/charge/domain"
	chargeservice "github.com/alphagov/pay-connector-sub019/internal/charge/service"
	"github.com/alphagov/pay-connector-sub019/internal/clock"
	"github.com/alphagov/pay-connector-sub019/internal/events"
	"github.com/alphagov/pay-connector-sub019/internal/observability/metrics"
	refunddomain "github.com/alphagov/pay-connector-sub019/internal/refund/domain"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Registry   *Registry
	Verifier   SenderVerifier
	ChargeRepo chargedomain.Repository
	RefundRepo refunddomain.Repository
	Transition *chargeservice.TransitionService
	Outbox     *events.Outbox
}

// Processor consumes inbound gateway notifications. It never panics out of
// the delivery path: anything unusable is logged and acknowledged so the
// gateway does not retry an unparseable payload forever.
type Processor struct {
	db         *gorm.DB
	log        *zap.Logger
	clk        clock.Clock
	registry   *Registry
	verifier   SenderVerifier
	chargeRepo chargedomain.Repository
	refundRepo refunddomain.Repository
	transition *chargeservice.TransitionService
	outbox     *events.Outbox
	metrics    *metrics.ConnectorMetrics
}

func NewProcessor(p Params) *Processor {
	return &Processor{
		db:         p.DB,
		log:        p.Log.Named("notification.processor"),
		clk:        p.Clock,
		registry:   p.Registry,
		verifier:   p.Verifier,
		chargeRepo: p.ChargeRepo,
		refundRepo: p.RefundRepo,
		transition: p.Transition,
		outbox:     p.Outbox,
		metrics:    metrics.Connector(),
	}
}

// Handle processes one raw notification from the given sender.
func (p *Processor) Handle(ctx context.Context, providerName, senderAddress string, payload []byte) Outcome {
	outcome := p.handle(ctx, providerName, senderAddress, payload)
	p.metrics.IncNotification(providerName, outcomeLabel(outcome.Kind))
	return outcome
}

func (p *Processor) handle(ctx context.Context, providerName, senderAddress string, payload []byte) Outcome {
	provider, ok := p.registry.Provider(providerName)
	if !ok {
		p.log.Warn("notification for unknown provider", zap.String("provider", providerName))
		return ignoredWith("unknown_provider")
	}

	if provider.VerifySender {
		if !p.verifier.MatchesTrustedDomain(ctx, senderAddress, provider.TrustedDomain) {
			p.log.Warn("notification sender failed domain verification",
				zap.String("provider", provider.Name),
				zap.String("sender", senderAddress))
			return rejected("untrusted_sender")
		}
	}

	parsed, err := provider.Decoder.Decode(payload)
	if err != nil {
		p.log.Warn("notification payload undecodable",
			zap.String("provider", provider.Name),
			zap.Error(err))
		return ignoredWith("decode_failure")
	}

	interpreted := provider.Mapper.Map(parsed.Status)
	switch interpreted.Kind {
	case InterpretationIgnored:
		return ignoredWith("status_not_actionable")
	case InterpretationUnknown:
		p.log.Error("provider reported a status we have no mapping for",
			zap.String("provider", provider.Name),
			zap.String("provider_status", parsed.Status),
			zap.String("reference", parsed.TransactionReference))
		return ignoredWith("unknown_status")
	case InterpretationRefund:
		return p.applyRefund(ctx, provider.Name, parsed, interpreted.RefundStatus)
	default:
		return p.applyCharge(ctx, provider.Name, parsed, interpreted.ChargeStatus)
	}
}

func (p *Processor) applyCharge(ctx context.Context, providerName string, parsed Notification, target chargedomain.ChargeStatus) Outcome {
	charge, err := p.chargeRepo.FindByGatewayTransaction(ctx, p.db, providerName, parsed.TransactionReference)
	if errors.Is(err, chargedomain.ErrChargeNotFound) {
		// Legitimate for test traffic or provider retries after a purge.
		p.log.Info("notification for unknown transaction",
			zap.String("provider", providerName),
			zap.String("reference", parsed.TransactionReference))
		return ignoredWith("no_matching_charge")
	}
	if err != nil {
		p.log.Error("charge lookup failed", zap.Error(err))
		return ignoredWith("lookup_failure")
	}

	_, err = p.transition.Apply(ctx, charge.ID, target, chargedomain.TriggerNotification, parsed.GatewayEventDate)
	if errors.Is(err, chargedomain.ErrInvalidTransition) {
		// The gateway reporting a status that does not fit our model is not
		// fatal, merely unhandled.
		p.log.Info("notification transition not applicable",
			zap.String("charge_external_id", charge.ExternalID),
			zap.String("from", string(charge.Status)),
			zap.String("to", string(target)))
		return ignoredWith("invalid_transition")
	}
	if err != nil {
		p.log.Error("notification transition failed",
			zap.String("charge_external_id", charge.ExternalID),
			zap.Error(err))
		return ignoredWith("transition_failure")
	}
	return accepted()
}

func (p *Processor) applyRefund(ctx context.Context, providerName string, parsed Notification, target refunddomain.RefundStatus) Outcome {
	refund, err := p.refundRepo.FindByProviderReference(ctx, p.db, providerName, parsed.TransactionReference)
	if errors.Is(err, refunddomain.ErrRefundNotFound) {
		p.log.Info("notification for unknown refund",
			zap.String("provider", providerName),
			zap.String("reference", parsed.TransactionReference))
		return ignoredWith("no_matching_refund")
	}
	if err != nil {
		p.log.Error("refund lookup failed", zap.Error(err))
		return ignoredWith("lookup_failure")
	}

	if refund.Status == target {
		return accepted()
	}
	if !refunddomain.CanTransition(refund.Status, target) {
		return ignoredWith("invalid_transition")
	}

	now := p.clk.Now()
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := p.refundRepo.UpdateStatus(ctx, tx, refund, target, now); err != nil {
			return err
		}
		return p.outbox.RecordPendingTx(ctx, tx, events.PendingEvent{
			ResourceType:       events.ResourceRefund,
			ResourceExternalID: refund.ExternalID,
			EventType:          events.TypeForRefundStatus(target),
			EventDate:          now,
			Payload: map[string]any{
				"amount":   refund.Amount,
				"provider": refund.Provider,
				"status":   string(target),
			},
		})
	})
	if err != nil {
		p.log.Error("refund transition failed",
			zap.String("refund_external_id", refund.ExternalID),
			zap.Error(err))
		return ignoredWith("transition_failure")
	}
	return accepted()
}

func outcomeLabel(kind OutcomeKind) string {
	switch kind {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	default:
		return "ignored"
	}
}
