// Package history records session save attempts in the local store.
package history

import (
	"lessonsync/internal/logging"
	"lessonsync/internal/session"
	"lessonsync/internal/snapshot"
	"lessonsync/internal/store"
)

// Recorder writes save attempts to a store. Its Record method fits
// session.Options.OnSave.
type Recorder struct {
	store  *store.Store
	keep   int
	logger *logging.Logger
}

// NewRecorder creates a Recorder that keeps at most keep attempts per path.
// keep <= 0 disables pruning.
func NewRecorder(s *store.Store, keep int, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Recorder{store: s, keep: keep, logger: logger.WithComponent("history")}
}

// Record stores one save attempt. Failures are logged, not returned, so a
// broken history never blocks saving.
func (r *Recorder) Record(res session.SaveResult) {
	rec := Entry(res)
	if _, err := r.store.RecordSave(&rec); err != nil {
		r.logger.Warn("record save", "path", res.Path, "error", err)
		return
	}
	if r.keep > 0 {
		if _, err := r.store.PruneSaves(res.Path, r.keep); err != nil {
			r.logger.Warn("prune history", "path", res.Path, "error", err)
		}
	}
}

// Entry converts a save result into a store record. Successful saves carry
// the merge patch from the previous document.
func Entry(res session.SaveResult) store.SaveRecord {
	rec := store.SaveRecord{
		Path:        res.Path,
		AttemptedAt: res.AttemptedAt,
		Bytes:       len(res.Serialized),
	}
	switch {
	case res.Stale:
		rec.Outcome = store.OutcomeStale
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
	case res.Err != nil:
		rec.Outcome = store.OutcomeFailed
		rec.Error = res.Err.Error()
	default:
		rec.Outcome = store.OutcomeSaved
		rec.SavedAt = res.SavedAt
		if patch, err := snapshot.MergePatch(res.Previous, res.Content); err == nil {
			rec.Patch = patch
		}
	}
	return rec
}
