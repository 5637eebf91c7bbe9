package session

import (
	"time"

	"lessonsync/internal/status"
)

// State is the set of signals a session exposes to the UI.
type State struct {
	// Path is the resource being edited, empty when none is selected.
	Path string
	// Loading is true while a load for Path is in progress.
	Loading bool
	// Saving is true while a save request is in flight.
	Saving bool
	// HasPendingChanges is true when the model differs from the last
	// persisted snapshot.
	HasPendingChanges bool
	LoadError         string
	SaveError         string
	SuccessMessage    string
	// SavedAt is the time of the last successful save.
	SavedAt time.Time
}

// Signals returns the inputs of the status projection.
func (s State) Signals() status.Signals {
	return status.Signals{
		Saving:            s.Saving,
		HasPendingChanges: s.HasPendingChanges,
		SaveError:         s.SaveError,
	}
}

// SaveResult reports one save attempt.
type SaveResult struct {
	Path string
	// Previous is the snapshot the edit was made against.
	Previous any
	// Content is the raw document that was sent.
	Content     any
	Serialized  string
	AttemptedAt time.Time
	// SavedAt is set on success, from the service when it reports one.
	SavedAt time.Time
	Err     error
	// Stale is true when the path changed while the request was in flight.
	Stale bool
}
