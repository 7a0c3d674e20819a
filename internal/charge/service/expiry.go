package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/alphagov/pay-connector-sub019/internal/charge/domain"
	"github.com/alphagov/pay-connector-sub019/internal/clock"
	"github.com/alphagov/pay-connector-sub019/internal/observability/metrics"
)

// ExpiryConfig controls the charge expiry sweep.
type ExpiryConfig struct {
	SweepInterval time.Duration
	Threshold     time.Duration
	BatchSize     int
}

func DefaultExpiryConfig() ExpiryConfig {
	return ExpiryConfig{
		SweepInterval: 5 * time.Minute,
		Threshold:     90 * time.Minute,
		BatchSize:     100,
	}
}

func (c ExpiryConfig) withDefaults() ExpiryConfig {
	defaults := DefaultExpiryConfig()
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaults.SweepInterval
	}
	if c.Threshold <= 0 {
		c.Threshold = defaults.Threshold
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	return c
}

// ExpirySweeper moves charges abandoned before capture approval to EXPIRED.
type ExpirySweeper struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       domain.Repository
	transition *TransitionService
	clk        clock.Clock
	cfg        ExpiryConfig
	metrics    *metrics.ConnectorMetrics
}

func NewExpirySweeper(db *gorm.DB, log *zap.Logger, repo domain.Repository, transition *TransitionService, clk clock.Clock, cfg ExpiryConfig) *ExpirySweeper {
	return &ExpirySweeper{
		db:         db,
		log:        log.Named("charge.expiry"),
		repo:       repo,
		transition: transition,
		clk:        clk,
		cfg:        cfg.withDefaults(),
		metrics:    metrics.Connector(),
	}
}

func (s *ExpirySweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := s.SweepOnce(ctx); err != nil {
			s.log.Warn("expiry sweep failed", zap.Error(err))
		}
	}
}

func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	createdBefore := s.clk.Now().Add(-s.cfg.Threshold)
	charges, err := s.repo.FindExpirable(ctx, s.db, createdBefore, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, charge := range charges {
		_, err := s.transition.Apply(ctx, charge.ID, domain.StatusExpired, domain.TriggerExpiry, nil)
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrVersionConflict) {
			// The charge moved on between fetch and apply. Leave it alone.
			continue
		}
		if err != nil {
			return expired, err
		}
		expired++
	}
	if expired > 0 {
		s.metrics.IncExpiredCharges(expired)
		s.log.Info("expired abandoned charges", zap.Int("count", expired))
	}
	return expired, nil
}
