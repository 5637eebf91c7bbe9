// Package status projects save signals into a user-facing status.
package status

import (
	"fmt"
	"sync"
	"time"
)

// Status is the user-facing save state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSaving  Status = "saving"
	StatusSaved   Status = "saved"
	StatusError   Status = "error"
)

// Tone is a display hint for a status.
type Tone string

const (
	ToneNeutral Tone = "neutral"
	ToneWarning Tone = "warning"
	ToneError   Tone = "error"
	ToneSuccess Tone = "success"
)

// Labels.
const (
	LabelIdle          = "Sem alterações pendentes"
	LabelPending       = "Alterações pendentes"
	LabelSaving        = "Salvando alterações…"
	LabelErrorFallback = "Não foi possível salvar as alterações."
	labelSavedFormat   = "Alterações salvas às %s"
	timeLayout         = "15:04:05"
)

// Signals are the inputs observed from an editor session.
type Signals struct {
	Saving            bool
	HasPendingChanges bool
	SaveError         string
}

// active reports whether a save is underway or outstanding.
func (s Signals) active() bool {
	return s.Saving || s.HasPendingChanges
}

// View is the projected status.
type View struct {
	Status Status
	Label  string
	Tone   Tone
}

// Project maps signals to a view. The checks are ordered: an error always
// wins, then saving, then pending, then saved, then idle.
func Project(sig Signals, lastSavedAt time.Time) View {
	var v View
	switch {
	case sig.SaveError != "":
		v.Status, v.Label = StatusError, sig.SaveError
	case sig.Saving:
		v.Status, v.Label = StatusSaving, LabelSaving
	case sig.HasPendingChanges:
		v.Status, v.Label = StatusPending, LabelPending
	case !lastSavedAt.IsZero():
		v.Status = StatusSaved
		v.Label = fmt.Sprintf(labelSavedFormat, lastSavedAt.Local().Format(timeLayout))
	default:
		v.Status, v.Label = StatusIdle, LabelIdle
	}
	v.Tone = ToneFor(v.Status)
	return v
}

// ErrorLabel returns msg, or the generic fallback when msg is empty.
func ErrorLabel(msg string) string {
	if msg == "" {
		return LabelErrorFallback
	}
	return msg
}

// ToneFor returns the display tone of a status.
func ToneFor(s Status) Tone {
	switch s {
	case StatusPending, StatusSaving:
		return ToneWarning
	case StatusError:
		return ToneError
	case StatusSaved:
		return ToneSuccess
	default:
		return ToneNeutral
	}
}

// Tracker remembers when the last error-free save completed.
type Tracker struct {
	mu          sync.Mutex
	prev        Signals
	lastSavedAt time.Time
	now         func() time.Time
}

// NewTracker creates a Tracker. A nil now uses time.Now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// Observe records a new set of signals and updates the saved timestamp:
// it is cleared when pending changes appear and set when a save or pending
// state settles with no error.
//
// The timestamp is also set when pending changes clear without a save, as
// when an edit is undone back to the persisted content. The view then reads
// "saved" with the time the document matched the server again.
func (t *Tracker) Observe(sig Signals) View {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sig.HasPendingChanges && !t.prev.HasPendingChanges {
		t.lastSavedAt = time.Time{}
	}
	if t.prev.active() && !sig.active() && sig.SaveError == "" {
		t.lastSavedAt = t.now()
	}
	t.prev = sig
	return Project(sig, t.lastSavedAt)
}

// ResetTarget forgets the saved timestamp, used when the observed model is
// replaced.
func (t *Tracker) ResetTarget() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSavedAt = time.Time{}
	t.prev = Signals{}
}

// LastSavedAt returns the saved timestamp, zero when none is recorded.
func (t *Tracker) LastSavedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSavedAt
}

// View projects the most recently observed signals.
func (t *Tracker) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Project(t.prev, t.lastSavedAt)
}
