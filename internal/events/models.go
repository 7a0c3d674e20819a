package events

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EmittedEvent tracks the outbound delivery of one state-change event. The
// tuple (resource_type, resource_external_id, event_type, event_date) is
// unique; re-recording it is a no-op.
type EmittedEvent struct {
	ID                 snowflake.ID `gorm:"primaryKey"`
	ResourceType       string       `gorm:"type:text;not null;uniqueIndex:ux_emitted_events_tuple,priority:1"`
	ResourceExternalID string       `gorm:"type:text;not null;uniqueIndex:ux_emitted_events_tuple,priority:2"`
	EventType          string       `gorm:"type:text;not null;uniqueIndex:ux_emitted_events_tuple,priority:3"`
	EventDate          time.Time    `gorm:"not null;uniqueIndex:ux_emitted_events_tuple,priority:4"`
	Payload            datatypes.JSON
	EmittedDate        *time.Time
	DoNotRetryUntil    *time.Time
	CreatedAt          time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (EmittedEvent) TableName() string { return "emitted_events" }
