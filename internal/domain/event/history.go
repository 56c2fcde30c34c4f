package event

import (
	"time"

	"github.com/google/uuid"
)

// ChangeType classifies a history entry.
type ChangeType string

const (
	ChangeCreated       ChangeType = "created"
	ChangeUpdated       ChangeType = "updated"
	ChangeStatusChanged ChangeType = "status_changed"
	ChangeAmended       ChangeType = "amended"
	ChangeDeleted       ChangeType = "deleted"
	ChangeFeedback      ChangeType = "feedback"
)

// HistoryEntry is one row of the append-only change log for an event.
// Entries are never mutated after insert.
type HistoryEntry struct {
	ID            int64      `json:"id"`
	EventID       uuid.UUID  `json:"event_id"`
	ChangedAt     time.Time  `json:"changed_at"`
	ChangedBy     string     `json:"changed_by"`
	ChangeType    ChangeType `json:"change_type"`
	FieldName     string     `json:"field_name"`
	PreviousValue string     `json:"previous_value"`
	NewValue      string     `json:"new_value"`
}

// Feedback is an analyst note attached to an event.
type Feedback struct {
	ID        int64     `json:"id"`
	EventID   uuid.UUID `json:"event_id"`
	Author    string    `json:"author"`
	Comment   string    `json:"comment"`
	Rating    *int      `json:"rating,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
