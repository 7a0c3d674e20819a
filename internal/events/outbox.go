package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/alphagov/pay-connector-sub019/internal/clock"
)

// PendingEvent describes a state-change event to record for emission.
type PendingEvent struct {
	ResourceType       string
	ResourceExternalID string
	EventType          string
	EventDate          time.Time
	Payload            map[string]any
}

// Outbox records which state-change events must reach the ledger.
type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
	clk   clock.Clock
}

func NewOutbox(db *gorm.DB, genID *snowflake.Node, clk clock.Clock) *Outbox {
	return &Outbox{db: db, genID: genID, clk: clk}
}

// RecordPending stores a pending event using the default connection.
func (o *Outbox) RecordPending(ctx context.Context, event PendingEvent) error {
	return o.record(ctx, o.db, event)
}

// RecordPendingTx stores a pending event inside an existing transaction so
// the event row commits or rolls back with the status change that caused it.
func (o *Outbox) RecordPendingTx(ctx context.Context, tx *gorm.DB, event PendingEvent) error {
	if tx == nil {
		return errors.New("missing_transaction")
	}
	return o.record(ctx, tx, event)
}

func (o *Outbox) record(ctx context.Context, db *gorm.DB, event PendingEvent) error {
	if o == nil || db == nil || o.genID == nil || o.clk == nil {
		return errors.New("outbox_unavailable")
	}
	resourceType := strings.TrimSpace(event.ResourceType)
	externalID := strings.TrimSpace(event.ResourceExternalID)
	eventType := strings.TrimSpace(event.EventType)
	if resourceType == "" || externalID == "" || eventType == "" {
		return errors.New("invalid_event")
	}
	if event.EventDate.IsZero() {
		return errors.New("missing_event_date")
	}

	var payload any
	if len(event.Payload) > 0 {
		raw, err := json.Marshal(event.Payload)
		if err != nil {
			return err
		}
		payload = raw
	}

	return db.WithContext(ctx).Exec(
		`INSERT INTO emitted_events (id, resource_type, resource_external_id, event_type, event_date, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (resource_type, resource_external_id, event_type, event_date) DO NOTHING`,
		o.genID.Generate(),
		resourceType,
		externalID,
		eventType,
		event.EventDate,
		payload,
		o.clk.Now(),
	).Error
}

// MarkEmitted sets the confirmation timestamp on unconfirmed rows matching
// the tuple. Already confirmed rows are left untouched.
func (o *Outbox) MarkEmitted(ctx context.Context, resourceType, externalID, eventType string, now time.Time) error {
	return o.db.WithContext(ctx).Exec(
		`UPDATE emitted_events
		 SET emitted_date = ?
		 WHERE resource_type = ? AND resource_external_id = ? AND event_type = ?
		   AND emitted_date IS NULL`,
		now,
		resourceType,
		externalID,
		eventType,
	).Error
}

// ForceReemit clears the confirmation on every event for a resource so the
// next sweep re-publishes them. Used when parity checking finds the
// downstream copy stale.
func (o *Outbox) ForceReemit(ctx context.Context, resourceType, externalID string) error {
	return o.db.WithContext(ctx).Exec(
		`UPDATE emitted_events
		 SET emitted_date = NULL, do_not_retry_until = NULL
		 WHERE resource_type = ? AND resource_external_id = ?`,
		resourceType,
		externalID,
	).Error
}
