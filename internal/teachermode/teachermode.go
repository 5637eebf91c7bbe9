// Package teachermode holds the process-wide teacher mode flag.
//
// Teacher mode gates every operation that writes authored content. The flag
// is shared by all consumers in the process: call Init once at startup with
// the preference store, then reach the same instance through Default. The
// stored value is read lazily on first use.
package teachermode

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"lessonsync/internal/observable"
)

// PreferenceKey is the preference under which the flag is persisted.
const PreferenceKey = "teacherMode"

// ErrDisabled is returned by Require when teacher mode is off.
var ErrDisabled = errors.New("modo professor desativado")

// Prefs persists string preferences. *store.Store implements it.
type Prefs interface {
	GetPreference(key string) (string, bool, error)
	SetPreference(key, value string) error
}

// Mode is the teacher mode flag backed by a preference store.
type Mode struct {
	prefs Prefs

	once    sync.Once
	loadErr error
	value   *observable.Value[bool]

	mu sync.Mutex
}

// New returns a Mode backed by prefs. A nil prefs keeps the flag in memory.
func New(prefs Prefs) *Mode {
	return &Mode{prefs: prefs, value: observable.NewValue(false)}
}

func (m *Mode) load() {
	m.once.Do(func() {
		if m.prefs == nil {
			return
		}
		raw, ok, err := m.prefs.GetPreference(PreferenceKey)
		if err != nil {
			m.loadErr = fmt.Errorf("teachermode: read preference: %w", err)
			return
		}
		if !ok {
			return
		}
		on, err := strconv.ParseBool(raw)
		if err != nil {
			m.loadErr = fmt.Errorf("teachermode: bad stored value %q: %w", raw, err)
			return
		}
		m.value.Set(on)
	})
}

// Enabled reports whether teacher mode is on. An unreadable stored value
// counts as off.
func (m *Mode) Enabled() bool {
	m.load()
	return m.value.Get()
}

// Err returns the error hit while reading the stored value, if any.
func (m *Mode) Err() error {
	m.load()
	return m.loadErr
}

// SetEnabled persists and publishes a new value.
func (m *Mode) SetEnabled(on bool) error {
	m.load()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.prefs != nil {
		if err := m.prefs.SetPreference(PreferenceKey, strconv.FormatBool(on)); err != nil {
			return fmt.Errorf("teachermode: save preference: %w", err)
		}
	}
	m.value.Set(on)
	return nil
}

// Toggle flips the flag and returns the new value.
func (m *Mode) Toggle() (bool, error) {
	on := !m.Enabled()
	if err := m.SetEnabled(on); err != nil {
		return !on, err
	}
	return on, nil
}

// Require returns ErrDisabled unless teacher mode is on.
func (m *Mode) Require() error {
	if !m.Enabled() {
		return ErrDisabled
	}
	return nil
}

// Subscribe calls fn whenever the flag changes.
func (m *Mode) Subscribe(fn func(on bool)) (cancel func()) {
	m.load()
	return m.value.Subscribe(func(c observable.Change[bool]) {
		if c.Old != c.New {
			fn(c.New)
		}
	})
}

var (
	std     *Mode
	stdOnce sync.Once
	stdMu   sync.RWMutex
)

// Init installs the process-wide Mode backed by prefs. Only the first call
// has an effect; later calls return the existing instance.
func Init(prefs Prefs) *Mode {
	stdOnce.Do(func() {
		stdMu.Lock()
		std = New(prefs)
		stdMu.Unlock()
	})
	return Default()
}

// Default returns the process-wide Mode. Without a prior Init the flag
// lives in memory only.
func Default() *Mode {
	stdOnce.Do(func() {
		stdMu.Lock()
		std = New(nil)
		stdMu.Unlock()
	})
	stdMu.RLock()
	defer stdMu.RUnlock()
	return std
}
