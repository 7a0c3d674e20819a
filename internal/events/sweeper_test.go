package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/alphagov/pay-connector-sub019/internal/clock"
)

type recordingSink struct {
	batches [][]Event
	fail    bool
}

func (s *recordingSink) Publish(ctx context.Context, batch []Event) error {
	if s.fail {
		return errors.New("sink_unavailable")
	}
	s.batches = append(s.batches, batch)
	return nil
}

func (s *recordingSink) published() int {
	total := 0
	for _, batch := range s.batches {
		total += len(batch)
	}
	return total
}

func setupEventsTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&EmittedEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestOutbox(t *testing.T, db *gorm.DB) *Outbox {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return NewOutbox(db, node, clock.SystemClock{})
}

func testPendingEvent(externalID string, eventDate time.Time) PendingEvent {
	return PendingEvent{
		ResourceType:       ResourcePayment,
		ResourceExternalID: externalID,
		EventType:          EventPaymentCreated,
		EventDate:          eventDate,
		Payload:            map[string]any{"amount": int64(1500)},
	}
}

// backdate makes every recorded event old enough for the sweep cutoff.
func backdate(t *testing.T, db *gorm.DB, age time.Duration) {
	t.Helper()
	old := time.Now().UTC().Add(-age)
	if err := db.Exec(`UPDATE emitted_events SET created_at = ?`, old).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}
}

func TestRecordPendingIsIdempotent(t *testing.T) {
	db := setupEventsTestDB(t)
	outbox := newTestOutbox(t, db)
	eventDate := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		if err := outbox.RecordPending(context.Background(), testPendingEvent("ch-1", eventDate)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	var count int64
	if err := db.Model(&EmittedEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row for a duplicate tuple, got %d", count)
	}
}

func TestSweepOncePublishesAndConfirms(t *testing.T) {
	db := setupEventsTestDB(t)
	outbox := newTestOutbox(t, db)
	sink := &recordingSink{}

	eventDate := time.Now().UTC()
	if err := outbox.RecordPending(context.Background(), testPendingEvent("ch-1", eventDate)); err != nil {
		t.Fatalf("record: %v", err)
	}
	backdate(t, db, time.Hour)

	sweeper := NewSweeper(db, zap.NewNop(), outbox, sink, clock.SystemClock{}, SweeperConfig{
		Cutoff: 30 * time.Minute,
	})
	if err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if sink.published() != 1 {
		t.Fatalf("expected 1 published event, got %d", sink.published())
	}
	if sink.batches[0][0].Payload["amount"] == nil {
		t.Fatal("expected payload to survive the round trip")
	}

	var unconfirmed int64
	if err := db.Model(&EmittedEvent{}).Where("emitted_date IS NULL").Count(&unconfirmed).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if unconfirmed != 0 {
		t.Fatalf("expected all rows confirmed, got %d unconfirmed", unconfirmed)
	}
}

func TestSweepOnceRespectsCutoff(t *testing.T) {
	db := setupEventsTestDB(t)
	outbox := newTestOutbox(t, db)
	sink := &recordingSink{}

	// Freshly recorded: still inside the cutoff, the primary emission path
	// owns it.
	if err := outbox.RecordPending(context.Background(), testPendingEvent("ch-1", time.Now().UTC())); err != nil {
		t.Fatalf("record: %v", err)
	}

	sweeper := NewSweeper(db, zap.NewNop(), outbox, sink, clock.SystemClock{}, SweeperConfig{
		Cutoff: 30 * time.Minute,
	})
	if err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if sink.published() != 0 {
		t.Fatalf("expected no events swept inside cutoff, got %d", sink.published())
	}
}

func TestSweepOnceDefersOnSinkFailure(t *testing.T) {
	db := setupEventsTestDB(t)
	outbox := newTestOutbox(t, db)
	sink := &recordingSink{fail: true}

	if err := outbox.RecordPending(context.Background(), testPendingEvent("ch-1", time.Now().UTC())); err != nil {
		t.Fatalf("record: %v", err)
	}
	backdate(t, db, time.Hour)

	sweeper := NewSweeper(db, zap.NewNop(), outbox, sink, clock.SystemClock{}, SweeperConfig{
		Cutoff:       30 * time.Minute,
		RetryBackoff: 10 * time.Minute,
	})
	if err := sweeper.SweepOnce(context.Background()); err == nil {
		t.Fatal("expected sweep to surface the sink failure")
	}

	var row EmittedEvent
	if err := db.First(&row).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if row.EmittedDate != nil {
		t.Fatal("failed event must stay unconfirmed")
	}
	if row.DoNotRetryUntil == nil {
		t.Fatal("failed event must carry a retry backoff marker")
	}

	// Within the backoff window the row is left alone even by a healthy
	// sweep.
	sink.fail = false
	if err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if sink.published() != 0 {
		t.Fatalf("expected backoff to suppress retry, got %d published", sink.published())
	}
}

func TestForceReemitClearsConfirmation(t *testing.T) {
	db := setupEventsTestDB(t)
	outbox := newTestOutbox(t, db)
	sink := &recordingSink{}

	event := testPendingEvent("ch-1", time.Now().UTC())
	if err := outbox.RecordPending(context.Background(), event); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := outbox.MarkEmitted(context.Background(), event.ResourceType, event.ResourceExternalID, event.EventType, time.Now().UTC()); err != nil {
		t.Fatalf("mark emitted: %v", err)
	}
	backdate(t, db, time.Hour)

	if err := outbox.ForceReemit(context.Background(), event.ResourceType, event.ResourceExternalID); err != nil {
		t.Fatalf("force reemit: %v", err)
	}

	sweeper := NewSweeper(db, zap.NewNop(), outbox, sink, clock.SystemClock{}, SweeperConfig{
		Cutoff: 30 * time.Minute,
	})
	if err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if sink.published() != 1 {
		t.Fatalf("expected forced event re-published, got %d", sink.published())
	}
}

func TestRecordPendingStampsInjectedClock(t *testing.T) {
	db := setupEventsTestDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	instant := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second)
	outbox := NewOutbox(db, node, clock.FixedClock{Instant: instant})
	sink := &recordingSink{}

	if err := outbox.RecordPending(context.Background(), testPendingEvent("ch-1", instant)); err != nil {
		t.Fatalf("record: %v", err)
	}

	var row EmittedEvent
	if err := db.First(&row).Error; err != nil {
		t.Fatalf("load row: %v", err)
	}
	if !row.CreatedAt.Equal(instant) {
		t.Fatalf("expected created_at %v from the injected clock, got %v", instant, row.CreatedAt)
	}

	// An old injected clock is enough to pass the sweep cutoff; no raw
	// created_at rewrite needed.
	sweeper := NewSweeper(db, zap.NewNop(), outbox, sink, clock.SystemClock{}, SweeperConfig{
		Cutoff: 30 * time.Minute,
	})
	if err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sink.published() != 1 {
		t.Fatalf("expected 1 published event, got %d", sink.published())
	}
}
