package capture

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	chargedomain "github.com/alphagov/pay-connector-sub019/internal/charge/domain"
	"github.com/alphagov/pay-connector-sub019/internal/clock"
	"github.com/alphagov/pay-connector-sub019/internal/events"
	"github.com/alphagov/pay-connector-sub019/internal/gateway"
	"github.com/alphagov/pay-connector-sub019/internal/notification"
	"github.com/alphagov/pay-connector-sub019/internal/notification/sandbox"
	refundrepository "github.com/alphagov/pay-connector-sub019/internal/refund/repository"
)

type allowAllVerifier struct{}

func (allowAllVerifier) MatchesTrustedDomain(ctx context.Context, senderAddress, trustedDomain string) bool {
	return true
}

// Full lifecycle: a charge is created, the gateway reports authorisation by
// webhook (twice, the second a duplicate), capture is approved, and the
// worker rides out an ambiguous gateway answer before settling.
func TestChargeLifecycleWithNotificationAndCapture(t *testing.T) {
	f := setupCaptureFixture(t,
		gateway.CaptureOutcome{Result: gateway.CaptureOutcomeAmbiguous, Reason: "gateway timeout"},
		gateway.CaptureOutcome{Result: gateway.CaptureOutcomeCaptured},
	)
	ctx := context.Background()

	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	processor := notification.NewProcessor(notification.Params{
		DB:         f.db,
		Log:        zap.NewNop(),
		Clock:      clock.SystemClock{},
		Registry:   notification.NewRegistry(sandbox.Provider()),
		Verifier:   allowAllVerifier{},
		ChargeRepo: f.repo,
		RefundRepo: refundrepository.New(),
		Transition: f.transition,
		Outbox:     events.NewOutbox(f.db, node, clock.SystemClock{}),
	})

	charge, err := f.transition.Create(ctx, f.account.ID, 1500)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.transition.AssignGatewayTransaction(ctx, charge.ID, "txn-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	payload := []byte(`{"transaction_reference": "txn-1", "status": "AUTHORISED"}`)
	for i := 0; i < 2; i++ {
		outcome := processor.Handle(ctx, "sandbox", "203.0.113.7", payload)
		if outcome.Kind != notification.OutcomeAccepted {
			t.Fatalf("delivery %d: expected accepted, got %+v", i+1, outcome)
		}
	}
	if got := f.chargeStatus(t, charge.ID); got != chargedomain.StatusAuthorisationSuccess {
		t.Fatalf("expected AUTHORISATION_SUCCESS, got %s", got)
	}

	if _, err := f.transition.Apply(ctx, charge.ID, chargedomain.StatusCaptureApproved, chargedomain.TriggerAPI, nil); err != nil {
		t.Fatalf("approve capture: %v", err)
	}

	worker := f.newWorker(t, Config{Workers: 1, BatchSize: 10, MaxAttempts: 5, RetryDelay: time.Nanosecond})
	if err := worker.ProcessBatch(ctx); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if got := f.chargeStatus(t, charge.ID); got != chargedomain.StatusCaptureApprovedRetry {
		t.Fatalf("expected retry after ambiguous outcome, got %s", got)
	}

	if err := worker.ProcessBatch(ctx); err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if got := f.chargeStatus(t, charge.ID); got != chargedomain.StatusCaptured {
		t.Fatalf("expected CAPTURED, got %s", got)
	}

	// The history carries every state the charge passed through, exactly
	// once each for the duplicate-notification step.
	var authEvents int64
	if err := f.db.Model(&chargedomain.ChargeEvent{}).
		Where("charge_id = ? AND status = ?", charge.ID, chargedomain.StatusAuthorisationSuccess).
		Count(&authEvents).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if authEvents != 1 {
		t.Fatalf("expected 1 authorisation history row, got %d", authEvents)
	}
}
