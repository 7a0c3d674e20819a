package parity

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	chargedomain "github.com/alphagov/pay-connector-sub019/internal/charge/domain"
	"github.com/alphagov/pay-connector-sub019/internal/clock"
	"github.com/alphagov/pay-connector-sub019/internal/events"
	"github.com/alphagov/pay-connector-sub019/internal/ledger"
	"github.com/alphagov/pay-connector-sub019/internal/observability/metrics"
	refunddomain "github.com/alphagov/pay-connector-sub019/internal/refund/domain"
)

// Parity outcomes recorded on the charge row.
const (
	OutcomeMatch           = "MATCH"
	OutcomeMismatch        = "DATA_MISMATCH"
	OutcomeMissingInLedger = "MISSING_IN_LEDGER"
)

const checkBatchSize = 100

// Summary reports what one parity run did.
type Summary struct {
	Checked    int
	Matched    int
	Mismatched int
	Missing    int
	Skipped    int
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    chargedomain.Repository
	Refunds refunddomain.Repository
	Ledger  ledger.ReadClient
	Outbox  *events.Outbox
	Sink    events.Sink
}

// Checker compares local charge and refund state against the downstream
// ledger's copy and forces re-emission where the ledger is stale.
type Checker struct {
	db      *gorm.DB
	log     *zap.Logger
	clk     clock.Clock
	repo    chargedomain.Repository
	refunds refunddomain.Repository
	ledger  ledger.ReadClient
	outbox  *events.Outbox
	sink    events.Sink
	metrics *metrics.ConnectorMetrics
}

func NewChecker(p Params) *Checker {
	return &Checker{
		db:      p.DB,
		log:     p.Log.Named("parity.checker"),
		clk:     p.Clock,
		repo:    p.Repo,
		refunds: p.Refunds,
		ledger:  p.Ledger,
		outbox:  p.Outbox,
		sink:    p.Sink,
		metrics: metrics.Connector(),
	}
}

// Check walks charges and refunds in [startID, maxID]. With
// skipPreviouslyValid set, rows already recorded as MATCH are not
// re-fetched, bounding the cost of re-runs over large historical backfills.
func (c *Checker) Check(ctx context.Context, startID, maxID snowflake.ID, skipPreviouslyValid bool) (Summary, error) {
	var summary Summary
	if err := c.checkCharges(ctx, startID, maxID, skipPreviouslyValid, &summary); err != nil {
		return summary, err
	}
	if err := c.checkRefunds(ctx, startID, maxID, skipPreviouslyValid, &summary); err != nil {
		return summary, err
	}
	return summary, nil
}

func (c *Checker) checkCharges(ctx context.Context, startID, maxID snowflake.ID, skipPreviouslyValid bool, summary *Summary) error {
	cursor := startID
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		charges, err := c.repo.FindInIDRange(ctx, c.db, cursor, maxID, checkBatchSize)
		if err != nil {
			return err
		}
		if len(charges) == 0 {
			return nil
		}

		for _, charge := range charges {
			if skipPreviouslyValid && charge.ParityCheckStatus != nil && *charge.ParityCheckStatus == OutcomeMatch {
				summary.Skipped++
				c.metrics.IncParityCheck("skipped")
				continue
			}
			if err := c.checkOne(ctx, charge, summary); err != nil {
				return err
			}
			summary.Checked++
		}
		cursor = charges[len(charges)-1].ID + 1
	}
}

func (c *Checker) checkRefunds(ctx context.Context, startID, maxID snowflake.ID, skipPreviouslyValid bool, summary *Summary) error {
	cursor := startID
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		refunds, err := c.refunds.FindInIDRange(ctx, c.db, cursor, maxID, checkBatchSize)
		if err != nil {
			return err
		}
		if len(refunds) == 0 {
			return nil
		}

		for _, refund := range refunds {
			if skipPreviouslyValid && refund.ParityCheckStatus != nil && *refund.ParityCheckStatus == OutcomeMatch {
				summary.Skipped++
				c.metrics.IncParityCheck("skipped")
				continue
			}
			if err := c.checkOneRefund(ctx, refund, summary); err != nil {
				return err
			}
			summary.Checked++
		}
		cursor = refunds[len(refunds)-1].ID + 1
	}
}

func (c *Checker) checkOne(ctx context.Context, charge chargedomain.Charge, summary *Summary) error {
	now := c.clk.Now()

	view, err := c.ledger.GetTransaction(ctx, charge.ExternalID)
	if errors.Is(err, ledger.ErrTransactionNotFound) {
		summary.Missing++
		c.metrics.IncParityCheck("missing")
		c.log.Warn("charge missing in ledger", zap.String("charge_external_id", charge.ExternalID))
		return c.recordAndReemit(ctx, charge, OutcomeMissingInLedger, now)
	}
	if err != nil {
		return err
	}

	if c.matches(charge, view) {
		summary.Matched++
		c.metrics.IncParityCheck("match")
		return c.repo.SetParityCheckStatus(ctx, c.db, charge.ID, OutcomeMatch, now)
	}

	summary.Mismatched++
	c.metrics.IncParityCheck("mismatch")
	c.log.Warn("ledger view diverges from local charge",
		zap.String("charge_external_id", charge.ExternalID),
		zap.String("local_status", string(charge.Status.External())),
		zap.String("ledger_status", view.Status))
	return c.recordAndReemit(ctx, charge, OutcomeMismatch, now)
}

func (c *Checker) matches(charge chargedomain.Charge, view *ledger.TransactionView) bool {
	if view.Status != string(charge.Status.External()) {
		return false
	}
	if view.Amount != charge.Amount {
		return false
	}
	// Ledger serialises dates at second precision.
	return view.CreatedDate.Truncate(time.Second).Equal(charge.CreatedAt.Truncate(time.Second))
}

// recordAndReemit records the outcome and forces the charge's events back
// into the unemitted set. The downstream copy is known stale, so prior
// emission history does not count.
func (c *Checker) recordAndReemit(ctx context.Context, charge chargedomain.Charge, outcome string, now time.Time) error {
	if err := c.repo.SetParityCheckStatus(ctx, c.db, charge.ID, outcome, now); err != nil {
		return err
	}

	current := events.PendingEvent{
		ResourceType:       events.ResourcePayment,
		ResourceExternalID: charge.ExternalID,
		EventType:          events.TypeForChargeStatus(charge.Status),
		EventDate:          now,
		Payload: map[string]any{
			"amount":   charge.Amount,
			"provider": charge.Provider,
			"status":   string(charge.Status.External()),
		},
	}
	if err := c.outbox.RecordPending(ctx, current); err != nil {
		return err
	}
	if err := c.outbox.ForceReemit(ctx, events.ResourcePayment, charge.ExternalID); err != nil {
		return err
	}

	// Best effort immediate publish; the sweep covers any failure here.
	event := events.Event{
		ResourceType:       current.ResourceType,
		ResourceExternalID: current.ResourceExternalID,
		EventType:          current.EventType,
		EventDate:          current.EventDate,
		Payload:            current.Payload,
	}
	if err := c.sink.Publish(ctx, []events.Event{event}); err != nil {
		c.log.Warn("immediate re-emission failed, leaving to sweep",
			zap.String("charge_external_id", charge.ExternalID),
			zap.Error(err))
		return nil
	}
	return c.outbox.MarkEmitted(ctx, current.ResourceType, current.ResourceExternalID, current.EventType, now)
}

func (c *Checker) checkOneRefund(ctx context.Context, refund refunddomain.Refund, summary *Summary) error {
	now := c.clk.Now()

	view, err := c.ledger.GetTransaction(ctx, refund.ExternalID)
	if errors.Is(err, ledger.ErrTransactionNotFound) {
		summary.Missing++
		c.metrics.IncParityCheck("missing")
		c.log.Warn("refund missing in ledger", zap.String("refund_external_id", refund.ExternalID))
		return c.recordAndReemitRefund(ctx, refund, OutcomeMissingInLedger, now)
	}
	if err != nil {
		return err
	}

	if c.matchesRefund(refund, view) {
		summary.Matched++
		c.metrics.IncParityCheck("match")
		return c.refunds.SetParityCheckStatus(ctx, c.db, refund.ID, OutcomeMatch, now)
	}

	summary.Mismatched++
	c.metrics.IncParityCheck("mismatch")
	c.log.Warn("ledger view diverges from local refund",
		zap.String("refund_external_id", refund.ExternalID),
		zap.String("local_status", string(refund.Status)),
		zap.String("ledger_status", view.Status))
	return c.recordAndReemitRefund(ctx, refund, OutcomeMismatch, now)
}

// Refund events carry the internal status verbatim, so the ledger holds it
// unprojected.
func (c *Checker) matchesRefund(refund refunddomain.Refund, view *ledger.TransactionView) bool {
	if view.Status != string(refund.Status) {
		return false
	}
	if view.Amount != refund.Amount {
		return false
	}
	return view.CreatedDate.Truncate(time.Second).Equal(refund.CreatedAt.Truncate(time.Second))
}

func (c *Checker) recordAndReemitRefund(ctx context.Context, refund refunddomain.Refund, outcome string, now time.Time) error {
	if err := c.refunds.SetParityCheckStatus(ctx, c.db, refund.ID, outcome, now); err != nil {
		return err
	}

	current := events.PendingEvent{
		ResourceType:       events.ResourceRefund,
		ResourceExternalID: refund.ExternalID,
		EventType:          events.TypeForRefundStatus(refund.Status),
		EventDate:          now,
		Payload: map[string]any{
			"amount":   refund.Amount,
			"provider": refund.Provider,
			"status":   string(refund.Status),
		},
	}
	if err := c.outbox.RecordPending(ctx, current); err != nil {
		return err
	}
	if err := c.outbox.ForceReemit(ctx, events.ResourceRefund, refund.ExternalID); err != nil {
		return err
	}

	event := events.Event{
		ResourceType:       current.ResourceType,
		ResourceExternalID: current.ResourceExternalID,
		EventType:          current.EventType,
		EventDate:          current.EventDate,
		Payload:            current.Payload,
	}
	if err := c.sink.Publish(ctx, []events.Event{event}); err != nil {
		c.log.Warn("immediate re-emission failed, leaving to sweep",
			zap.String("refund_external_id", refund.ExternalID),
			zap.Error(err))
		return nil
	}
	return c.outbox.MarkEmitted(ctx, current.ResourceType, current.ResourceExternalID, current.EventType, now)
}
