package capture

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/alphagov/pay-connector-sub019/internal/charge/domain"
	"github.com/alphagov/pay-connector-sub019/internal/clock"
	"github.com/alphagov/pay-connector-sub019/internal/gateway"
)

func TestClaimSweepReleasesStaleClaim(t *testing.T) {
	f := setupCaptureFixture(t, gateway.CaptureOutcome{Result: gateway.CaptureOutcomeCaptured})
	charge := f.approvedCharge(t)

	ctx := context.Background()
	if _, err := f.transition.Apply(ctx, charge.ID, domain.StatusCaptureReady, domain.TriggerCapture, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := f.transition.Apply(ctx, charge.ID, domain.StatusCaptureSubmitted, domain.TriggerCapture, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The worker that claimed this charge died ten minutes ago.
	stale := time.Now().UTC().Add(-10 * time.Minute)
	if err := f.db.Exec(`UPDATE charges SET updated_at = ? WHERE id = ?`, stale, charge.ID).Error; err != nil {
		t.Fatalf("backdate claim: %v", err)
	}

	sweeper := NewClaimSweeper(f.db, zap.NewNop(), f.repo, f.transition, clock.SystemClock{}, Config{
		ClaimTimeout: 5 * time.Minute,
	})
	released, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 released claim, got %d", released)
	}
	if got := f.chargeStatus(t, charge.ID); got != domain.StatusCaptureApprovedRetry {
		t.Fatalf("expected CAPTURE_APPROVED_RETRY, got %s", got)
	}
}

func TestClaimSweepLeavesFreshClaimsAlone(t *testing.T) {
	f := setupCaptureFixture(t, gateway.CaptureOutcome{Result: gateway.CaptureOutcomeCaptured})
	charge := f.approvedCharge(t)

	ctx := context.Background()
	if _, err := f.transition.Apply(ctx, charge.ID, domain.StatusCaptureReady, domain.TriggerCapture, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}

	sweeper := NewClaimSweeper(f.db, zap.NewNop(), f.repo, f.transition, clock.SystemClock{}, Config{
		ClaimTimeout: 5 * time.Minute,
	})
	released, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if released != 0 {
		t.Fatalf("expected no releases for a fresh claim, got %d", released)
	}
	if got := f.chargeStatus(t, charge.ID); got != domain.StatusCaptureReady {
		t.Fatalf("expected claim kept, got %s", got)
	}
}
