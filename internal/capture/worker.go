package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/alphagov/pay-connector-sub019/internal/charge/domain"
	"github.com/alphagov/pay-connector-sub019/internal/charge/service"
	"github.com/alphagov/pay-connector-sub019/internal/clock"
	"github.com/alphagov/pay-connector-sub019/internal/gateway"
	"github.com/alphagov/pay-connector-sub019/internal/observability/metrics"
	"github.com/alphagov/pay-connector-sub019/internal/observability/tracing"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       domain.Repository
	Transition *service.TransitionService
	Gateways   *gateway.Registry
	Clock      clock.Clock
	Config     Config `optional:"true"`
}

// Worker asks the gateway to settle funds for charges approved for capture.
// Each tick pulls one bounded batch and spreads it across a fixed pool of
// goroutines; the claim transition makes double-submission a losable race.
type Worker struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       domain.Repository
	transition *service.TransitionService
	gateways   *gateway.Registry
	clk        clock.Clock
	cfg        Config
	metrics    *metrics.ConnectorMetrics
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:         p.DB,
		log:        p.Log.Named("capture.worker"),
		repo:       p.Repo,
		transition: p.Transition,
		gateways:   p.Gateways,
		clk:        p.Clock,
		cfg:        p.Config.withDefaults(),
		metrics:    metrics.Connector(),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := w.ProcessBatch(ctx); err != nil {
			w.log.Warn("capture batch failed", zap.Error(err))
		}
	}
}

// ProcessBatch pulls the oldest capture candidates and attempts each one.
func (w *Worker) ProcessBatch(ctx context.Context) error {
	retryReadyBefore := w.clk.Now().Add(-w.cfg.RetryDelay)
	candidates, err := w.repo.FindCaptureCandidates(ctx, w.db, retryReadyBefore, w.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	work := make(chan domain.Charge)
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for charge := range work {
				w.captureOne(ctx, charge)
			}
		}()
	}

	for _, charge := range candidates {
		select {
		case <-ctx.Done():
			// Cooperative shutdown: unclaimed candidates stay eligible for
			// the next tick; claimed ones fall to the stale-claim sweep.
			close(work)
			wg.Wait()
			return ctx.Err()
		case work <- charge:
		}
	}
	close(work)
	wg.Wait()
	return nil
}

func (w *Worker) captureOne(ctx context.Context, charge domain.Charge) {
	// Claim first so a concurrent tick, possibly in another process, cannot
	// double-submit. Claim is a single compare-and-set: a rival that already
	// holds the charge, at any claim stage, makes it lose rather than no-op.
	if _, err := w.transition.Claim(ctx, charge.ID, domain.StatusCaptureReady, domain.TriggerCapture); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrVersionConflict) {
			w.metrics.IncCaptureAttempt("skipped")
			return
		}
		w.log.Error("capture claim failed",
			zap.String("charge_external_id", charge.ExternalID),
			zap.Error(err))
		return
	}
	if _, err := w.transition.Claim(ctx, charge.ID, domain.StatusCaptureSubmitted, domain.TriggerCapture); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrVersionConflict) {
			w.metrics.IncCaptureAttempt("skipped")
			return
		}
		w.log.Error("capture submit transition failed",
			zap.String("charge_external_id", charge.ExternalID),
			zap.Error(err))
		return
	}

	client, err := w.gateways.Client(charge.Provider)
	if err != nil {
		w.log.Error("no gateway client for provider",
			zap.String("provider", charge.Provider),
			zap.String("charge_external_id", charge.ExternalID))
		w.retryOrGiveUp(ctx, charge, "provider_unavailable")
		return
	}

	var gatewayTxn string
	if charge.GatewayTransactionID != nil {
		gatewayTxn = *charge.GatewayTransactionID
	}

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.GatewayTimeout)
	callCtx, span := tracing.Start(callCtx, "gateway.Capture",
		attribute.String("provider", charge.Provider),
		attribute.String("charge.external_id", charge.ExternalID))
	start := time.Now()
	outcome := client.Capture(callCtx, gateway.ChargeView{
		ChargeID:             charge.ID,
		ExternalID:           charge.ExternalID,
		GatewayTransactionID: gatewayTxn,
		Amount:               charge.Amount,
	})
	span.End()
	cancel()
	elapsed := time.Since(start)
	w.metrics.ObserveCaptureDuration(elapsed)

	attempt := w.attemptNumber(ctx, charge.ID)
	fields := []zap.Field{
		zap.String("charge_external_id", charge.ExternalID),
		zap.String("provider", charge.Provider),
		zap.Int("attempt", attempt),
		zap.Duration("elapsed", elapsed),
	}

	switch outcome.Result {
	case gateway.CaptureOutcomeCaptured:
		if _, err := w.transition.Apply(ctx, charge.ID, domain.StatusCaptured, domain.TriggerCapture, nil); err != nil {
			w.log.Error("failed to record capture success", append(fields, zap.Error(err))...)
			return
		}
		w.metrics.IncCaptureAttempt("captured")
		w.log.Info("capture confirmed", fields...)

	case gateway.CaptureOutcomeRejected:
		if _, err := w.transition.Apply(ctx, charge.ID, domain.StatusCaptureError, domain.TriggerCapture, nil); err != nil {
			w.log.Error("failed to record capture rejection", append(fields, zap.Error(err))...)
			return
		}
		w.metrics.IncCaptureAttempt("rejected")
		w.log.Warn("capture rejected by gateway", append(fields, zap.String("reason", outcome.Reason))...)

	case gateway.CaptureOutcomeAmbiguous:
		w.metrics.IncCaptureAttempt("ambiguous")
		w.log.Warn("capture outcome ambiguous", append(fields, zap.String("reason", outcome.Reason))...)
		w.retryOrGiveUp(ctx, charge, outcome.Reason)
	}
}

// retryOrGiveUp schedules another attempt unless the retry ceiling is
// reached, in which case the charge lands in CAPTURE_ERROR for an operator.
func (w *Worker) retryOrGiveUp(ctx context.Context, charge domain.Charge, reason string) {
	retries, err := w.repo.CountStatusEvents(ctx, w.db, charge.ID, domain.StatusCaptureApprovedRetry)
	if err != nil {
		// Guessing zero here could reschedule a charge already at the
		// ceiling. Leave it claimed; the stale-claim sweep releases it.
		w.log.Error("failed to count capture retries",
			zap.String("charge_external_id", charge.ExternalID),
			zap.Error(err))
		return
	}

	target := domain.StatusCaptureApprovedRetry
	if retries+1 >= w.cfg.MaxAttempts {
		target = domain.StatusCaptureError
	}
	if _, err := w.transition.Apply(ctx, charge.ID, target, domain.TriggerCapture, nil); err != nil {
		w.log.Error("failed to record capture retry",
			zap.String("charge_external_id", charge.ExternalID),
			zap.Error(err))
		return
	}
	if target == domain.StatusCaptureError {
		w.log.Error("capture retries exhausted",
			zap.String("charge_external_id", charge.ExternalID),
			zap.String("provider", charge.Provider),
			zap.Int("attempts", retries+1),
			zap.String("reason", reason))
	}
}

func (w *Worker) attemptNumber(ctx context.Context, chargeID snowflake.ID) int {
	retries, err := w.repo.CountStatusEvents(ctx, w.db, chargeID, domain.StatusCaptureApprovedRetry)
	if err != nil {
		return 1
	}
	return retries + 1
}
