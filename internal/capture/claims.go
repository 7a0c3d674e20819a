package capture

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/alphagov/pay-connector-sub019/internal/charge/domain"
	"github.com/alphagov/pay-connector-sub019/internal/charge/service"
	"github.com/alphagov/pay-connector-sub019/internal/clock"
)

// ClaimSweeper releases charges whose capture claim went stale because a
// worker died between claiming and recording the outcome. The claim write
// commits before the gateway call, so a crash leaves the charge visibly
// stuck in a claimed state with an old update timestamp.
type ClaimSweeper struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       domain.Repository
	transition *service.TransitionService
	clk        clock.Clock
	cfg        Config
}

func NewClaimSweeper(db *gorm.DB, log *zap.Logger, repo domain.Repository, transition *service.TransitionService, clk clock.Clock, cfg Config) *ClaimSweeper {
	return &ClaimSweeper{
		db:         db,
		log:        log.Named("capture.claims"),
		repo:       repo,
		transition: transition,
		clk:        clk,
		cfg:        cfg.withDefaults(),
	}
}

func (s *ClaimSweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ClaimTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := s.SweepOnce(ctx); err != nil {
			s.log.Warn("stale claim sweep failed", zap.Error(err))
		}
	}
}

func (s *ClaimSweeper) SweepOnce(ctx context.Context) (int, error) {
	olderThan := s.clk.Now().Add(-s.cfg.ClaimTimeout)
	charges, err := s.repo.FindStaleSubmitted(ctx, s.db, olderThan, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, charge := range charges {
		_, err := s.transition.Apply(ctx, charge.ID, domain.StatusCaptureApprovedRetry, domain.TriggerCapture, nil)
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return released, err
		}
		released++
		s.log.Warn("released stale capture claim",
			zap.String("charge_external_id", charge.ExternalID),
			zap.String("claimed_status", string(charge.Status)))
	}
	return released, nil
}
