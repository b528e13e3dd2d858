package models

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Event represents a domain event row in the ledger. Rows are append-only:
// created once, never updated except for the outbox bookkeeping columns
// (processed, error), never deleted.
type Event struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	EventID       string    `gorm:"uniqueIndex" json:"event_id"`
	AggregateID   string    `gorm:"uniqueIndex:idx_aggregate_version" json:"aggregate_id"`
	AggregateType string    `json:"aggregate_type"`
	EventType     string    `gorm:"index" json:"event_type"`
	Version       int       `gorm:"uniqueIndex:idx_aggregate_version" json:"version"`
	Data          []byte    `gorm:"type:jsonb" json:"data"`
	Metadata      []byte    `gorm:"type:jsonb" json:"metadata"`
	Timestamp     time.Time `gorm:"index" json:"timestamp"`
	UserID        string    `gorm:"index" json:"user_id"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Error         *string   `json:"error"`
	Processed     bool      `gorm:"index" json:"processed"`
}

// Snapshot represents a materialized aggregate state row. Snapshots may be
// replaced for the same (aggregate_id, version) key; events may not.
type Snapshot struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AggregateID string    `gorm:"uniqueIndex:idx_snapshot_aggregate_version" json:"aggregate_id"`
	Version     int       `gorm:"uniqueIndex:idx_snapshot_aggregate_version" json:"version"`
	State       []byte    `gorm:"type:jsonb" json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Event{},
		&Snapshot{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
