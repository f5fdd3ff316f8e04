package storage

import (
	"time"

	"offset-rewards/internal/offset"
)

// StoredRecord is a persisted offset aggregation keyed by
// (user, period kind, bucket). A later aggregation for the same key
// supersedes the stored row.
type StoredRecord struct {
	offset.Record
	Bucket    time.Time
	CreatedAt time.Time
}
