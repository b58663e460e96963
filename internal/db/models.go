package db

import (
	"time"
)

// TrackedRecord represents a tracked record snapshot in the database
type TrackedRecord struct {
	EntryID     string
	RecordKey   string
	Kind        string
	AccountCode string
	Name        string
	State       []byte
	Attributes  []byte
	Available   bool
	UpdatedAt   time.Time
}
