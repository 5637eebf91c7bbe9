package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProjectPriority(t *testing.T) {
	saved := time.Date(2026, 3, 1, 14, 5, 9, 0, time.Local)

	tests := []struct {
		name   string
		sig    Signals
		last   time.Time
		status Status
		label  string
		tone   Tone
	}{
		{"error beats everything", Signals{Saving: true, HasPendingChanges: true, SaveError: "boom"}, saved, StatusError, "boom", ToneError},
		{"saving beats pending", Signals{Saving: true, HasPendingChanges: true}, saved, StatusSaving, LabelSaving, ToneWarning},
		{"pending beats saved", Signals{HasPendingChanges: true}, saved, StatusPending, LabelPending, ToneWarning},
		{"saved", Signals{}, saved, StatusSaved, "Alterações salvas às 14:05:09", ToneSuccess},
		{"idle", Signals{}, time.Time{}, StatusIdle, LabelIdle, ToneNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Project(tt.sig, tt.last)
			assert.Equal(t, tt.status, v.Status)
			assert.Equal(t, tt.label, v.Label)
			assert.Equal(t, tt.tone, v.Tone)
		})
	}
}

func TestErrorLabel(t *testing.T) {
	assert.Equal(t, LabelErrorFallback, ErrorLabel(""))
	assert.Equal(t, "x", ErrorLabel("x"))
}

func TestTrackerSaveCycle(t *testing.T) {
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)
	tr := NewTracker(func() time.Time { return clock })

	assert.Equal(t, StatusIdle, tr.Observe(Signals{}).Status)
	assert.Equal(t, StatusPending, tr.Observe(Signals{HasPendingChanges: true}).Status)
	assert.Equal(t, StatusSaving, tr.Observe(Signals{Saving: true}).Status)

	v := tr.Observe(Signals{})
	assert.Equal(t, StatusSaved, v.Status)
	assert.Equal(t, clock, tr.LastSavedAt())
	assert.Equal(t, v, tr.View())
}

func TestTrackerClearsOnNewPending(t *testing.T) {
	tr := NewTracker(nil)
	tr.Observe(Signals{HasPendingChanges: true})
	tr.Observe(Signals{})
	assert.False(t, tr.LastSavedAt().IsZero())

	v := tr.Observe(Signals{HasPendingChanges: true})
	assert.Equal(t, StatusPending, v.Status)
	assert.True(t, tr.LastSavedAt().IsZero())
}

func TestTrackerFailedSaveIsNotSaved(t *testing.T) {
	tr := NewTracker(nil)
	tr.Observe(Signals{Saving: true})
	v := tr.Observe(Signals{HasPendingChanges: true, SaveError: "falhou"})
	assert.Equal(t, StatusError, v.Status)
	assert.True(t, tr.LastSavedAt().IsZero())

	// Error stays visible even once nothing is pending.
	v = tr.Observe(Signals{SaveError: "falhou"})
	assert.Equal(t, StatusError, v.Status)
	assert.True(t, tr.LastSavedAt().IsZero())
}

func TestTrackerResetTarget(t *testing.T) {
	tr := NewTracker(nil)
	tr.Observe(Signals{Saving: true})
	tr.Observe(Signals{})
	assert.Equal(t, StatusSaved, tr.View().Status)

	tr.ResetTarget()
	assert.Equal(t, StatusIdle, tr.View().Status)
}

func TestTrackerUndoneEditReadsSaved(t *testing.T) {
	clock := time.Date(2026, 3, 1, 9, 30, 0, 0, time.Local)
	tr := NewTracker(func() time.Time { return clock })

	tr.Observe(Signals{HasPendingChanges: true})
	v := tr.Observe(Signals{})
	assert.Equal(t, StatusSaved, v.Status)
	assert.Equal(t, clock, tr.LastSavedAt())
}
