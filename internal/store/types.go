// Package store keeps local lessonsync state in SQLite: user preferences
// and a history of autosave attempts.
package store

import "time"

// Outcome classifies a save attempt.
type Outcome string

const (
	// OutcomeSaved indicates the service accepted the content.
	OutcomeSaved Outcome = "saved"
	// OutcomeFailed indicates the save was rejected or never arrived.
	OutcomeFailed Outcome = "failed"
	// OutcomeStale indicates the editor had moved to another document
	// before the save finished.
	OutcomeStale Outcome = "stale"
)

// SaveRecord is one autosave attempt.
type SaveRecord struct {
	ID          int64
	Path        string
	AttemptedAt time.Time
	// SavedAt is zero unless Outcome is OutcomeSaved.
	SavedAt time.Time
	Outcome Outcome
	// Bytes is the size of the serialized content.
	Bytes int
	// Patch is the JSON merge patch from the previous document.
	Patch []byte
	Error string
}

// Preference is a stored key/value setting.
type Preference struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
