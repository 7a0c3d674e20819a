package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/alphagov/pay-connector-sub019/internal/clock"
	"github.com/alphagov/pay-connector-sub019/internal/observability/metrics"
)

// SweeperConfig controls the emission sweep loop.
type SweeperConfig struct {
	SweepInterval time.Duration
	Cutoff        time.Duration
	BatchSize     int
	RetryBackoff  time.Duration
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		SweepInterval: time.Minute,
		Cutoff:        30 * time.Minute,
		BatchSize:     100,
		RetryBackoff:  10 * time.Minute,
	}
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	defaults := DefaultSweeperConfig()
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaults.SweepInterval
	}
	if c.Cutoff <= 0 {
		c.Cutoff = defaults.Cutoff
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
	return c
}

// Sweeper re-submits events that were recorded but never confirmed emitted.
// The cutoff keeps it clear of events still in flight on the primary path.
type Sweeper struct {
	db      *gorm.DB
	log     *zap.Logger
	outbox  *Outbox
	sink    Sink
	clk     clock.Clock
	cfg     SweeperConfig
	metrics *metrics.ConnectorMetrics
}

func NewSweeper(db *gorm.DB, log *zap.Logger, outbox *Outbox, sink Sink, clk clock.Clock, cfg SweeperConfig) *Sweeper {
	return &Sweeper{
		db:      db,
		log:     log.Named("events.sweeper"),
		outbox:  outbox,
		sink:    sink,
		clk:     clk,
		cfg:     cfg.withDefaults(),
		metrics: metrics.Connector(),
	}
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.SweepOnce(ctx); err != nil {
			s.log.Warn("emission sweep failed", zap.Error(err))
		}
	}
}

// SweepOnce walks unconfirmed events older than the cutoff in ascending id
// order, bounded by the (lastProcessedID, maxID) window captured at start so
// inserts arriving mid-sweep are left for the next run.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	now := s.clk.Now()
	cutoff := now.Add(-s.cfg.Cutoff)

	var maxID int64
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(id), 0) FROM emitted_events`,
	).Scan(&maxID).Error; err != nil {
		return err
	}
	if maxID == 0 {
		return nil
	}

	var backlog int64
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM emitted_events
		 WHERE emitted_date IS NULL AND created_at < ?`,
		cutoff,
	).Scan(&backlog).Error; err == nil {
		s.metrics.SetEmissionBacklog(int(backlog))
	}

	var lastProcessedID int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := s.fetchBatch(ctx, lastProcessedID, maxID, cutoff, now)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		lastProcessedID = batch[len(batch)-1].ID.Int64()

		if err := s.publishBatch(ctx, batch, now); err != nil {
			// Sink unavailable. Rows stay unconfirmed with a backoff marker;
			// the next sweep picks them up.
			return err
		}
	}
}

func (s *Sweeper) fetchBatch(ctx context.Context, lastProcessedID, maxID int64, cutoff, now time.Time) ([]EmittedEvent, error) {
	var rows []EmittedEvent
	err := s.db.WithContext(ctx).Raw(
		`SELECT *
		 FROM emitted_events
		 WHERE id > ? AND id <= ?
		   AND emitted_date IS NULL
		   AND created_at < ?
		   AND (do_not_retry_until IS NULL OR do_not_retry_until <= ?)
		 ORDER BY id ASC
		 LIMIT ?`,
		lastProcessedID,
		maxID,
		cutoff,
		now,
		s.cfg.BatchSize,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Sweeper) publishBatch(ctx context.Context, rows []EmittedEvent, now time.Time) error {
	batch := make([]Event, 0, len(rows))
	for _, row := range rows {
		event := Event{
			ResourceType:       row.ResourceType,
			ResourceExternalID: row.ResourceExternalID,
			EventType:          row.EventType,
			EventDate:          row.EventDate,
		}
		if len(row.Payload) > 0 {
			var payload map[string]any
			if err := json.Unmarshal(row.Payload, &payload); err == nil {
				event.Payload = payload
			}
		}
		batch = append(batch, event)
	}

	if err := s.sink.Publish(ctx, batch); err != nil {
		s.metrics.IncEventsSwept("failed", len(rows))
		s.deferBatch(ctx, rows, now.Add(s.cfg.RetryBackoff))
		return err
	}

	for _, row := range rows {
		if err := s.db.WithContext(ctx).Exec(
			`UPDATE emitted_events
			 SET emitted_date = ?
			 WHERE id = ? AND emitted_date IS NULL`,
			now,
			row.ID,
		).Error; err != nil {
			s.log.Warn("failed to confirm emitted event",
				zap.Int64("event_id", row.ID.Int64()),
				zap.Error(err))
		}
	}
	s.metrics.IncEventsSwept("emitted", len(rows))
	s.log.Info("emission sweep batch published", zap.Int("count", len(rows)))
	return nil
}

func (s *Sweeper) deferBatch(ctx context.Context, rows []EmittedEvent, until time.Time) {
	for _, row := range rows {
		if err := s.db.WithContext(ctx).Exec(
			`UPDATE emitted_events
			 SET do_not_retry_until = ?
			 WHERE id = ? AND emitted_date IS NULL`,
			until,
			row.ID,
		).Error; err != nil {
			s.log.Warn("failed to defer emitted event",
				zap.Int64("event_id", row.ID.Int64()),
				zap.Error(err))
		}
	}
}
