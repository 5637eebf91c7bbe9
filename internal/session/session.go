// Package session keeps an editable model in sync with a remote JSON
// document.
//
// A Session loads the document at the current path, watches the model for
// edits, debounces persistence and never has more than one save in flight.
// Edits made while a save is running land in a single pending slot that is
// flushed once the running save finishes. Failed saves keep their content
// pending so nothing is lost.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lessonsync/internal/contentapi"
	"lessonsync/internal/logging"
	"lessonsync/internal/observable"
	"lessonsync/internal/snapshot"
	"lessonsync/internal/status"
)

// DefaultDebounce is the quiet period used when Options.Debounce is zero.
const DefaultDebounce = 800 * time.Millisecond

// Messages shown to editors.
const (
	msgSaved        = "Alterações salvas com sucesso."
	msgSavedAt      = "Alterações salvas às %s."
	msgPrepareError = "Não foi possível preparar o conteúdo para salvar."
	msgLoadError    = "Não foi possível carregar o conteúdo."
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// ErrNoSnapshot is returned when an operation needs a loaded document.
var ErrNoSnapshot = errors.New("no document loaded")

// Options configures a Session.
type Options[M any] struct {
	// Client reaches the automation service.
	Client contentapi.Store
	// Path selects the document. The empty string means no document.
	Path *observable.Value[string]
	// Model is the editable model. Its zero value means no model.
	Model *observable.Value[M]
	// FromRaw maps a raw document into a model.
	FromRaw func(raw any) (M, error)
	// ToRaw flattens a model back into a raw document. base is a copy of
	// the last persisted document.
	ToRaw func(model M, base any) (any, error)
	// Debounce is the quiet period before saving. Zero means DefaultDebounce.
	Debounce time.Duration
	// OnSave, when set, is called after every save attempt.
	OnSave func(SaveResult)
	Logger *logging.Logger
	// Now overrides time.Now.
	Now func() time.Time
}

// Session synchronizes one model with one remote document at a time.
//
// Subscribers of Model and Signals run synchronously and must not call
// RevertChanges, Refresh or Flush from within the callback.
type Session[M any] struct {
	client   contentapi.Store
	path     *observable.Value[string]
	model    *observable.Value[M]
	fromRaw  func(any) (M, error)
	toRaw    func(M, any) (any, error)
	debounce time.Duration
	onSave   func(SaveResult)
	logger   *logging.Logger
	now      func() time.Time

	origin observable.Origin
	state  *observable.Value[State]

	mu       sync.Mutex
	gen      uint64
	curPath  string
	ctx      context.Context
	cancel   context.CancelFunc
	snap     *snapshot.Snapshot
	pending  *snapshot.PendingEdit
	inflight *snapshot.PendingEdit
	saving   bool
	saveDone chan struct{}
	timer    *time.Timer
	closed   bool
	st       State

	// writeMu orders the session's own writes to the model.
	writeMu sync.Mutex
	// pubMu orders state publications.
	pubMu sync.Mutex

	unsubscribe []func()
	wg          sync.WaitGroup
}

// New creates a session and starts loading the current path.
func New[M any](opts Options[M]) (*Session[M], error) {
	switch {
	case opts.Client == nil:
		return nil, errors.New("session: client is required")
	case opts.Path == nil:
		return nil, errors.New("session: path is required")
	case opts.Model == nil:
		return nil, errors.New("session: model is required")
	case opts.FromRaw == nil || opts.ToRaw == nil:
		return nil, errors.New("session: FromRaw and ToRaw are required")
	}

	s := &Session[M]{
		client:   opts.Client,
		path:     opts.Path,
		model:    opts.Model,
		fromRaw:  opts.FromRaw,
		toRaw:    opts.ToRaw,
		debounce: opts.Debounce,
		onSave:   opts.OnSave,
		logger:   opts.Logger,
		now:      opts.Now,
		origin:   observable.NewOrigin("session"),
		state:    observable.NewValue(State{}),
	}
	if s.debounce <= 0 {
		s.debounce = DefaultDebounce
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	s.logger = s.logger.WithComponent("session")
	if s.now == nil {
		s.now = time.Now
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.unsubscribe = append(s.unsubscribe,
		s.path.Subscribe(func(c observable.Change[string]) {
			if c.New == c.Old {
				return
			}
			s.startLoad(c.New)
		}),
		s.model.Subscribe(func(c observable.Change[M]) {
			if c.Origin == s.origin {
				return
			}
			s.evaluate()
		}),
	)

	s.startLoad(s.path.Get())
	return s, nil
}

// Signals returns the observable session state.
func (s *Session[M]) Signals() *observable.Value[State] {
	return s.state
}

// State returns the current session state.
func (s *Session[M]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// Snapshot returns the last persisted document, if any.
func (s *Session[M]) Snapshot() (snapshot.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return snapshot.Snapshot{}, false
	}
	return *s.snap, true
}

// Origin returns the tag the session attaches to its own model writes.
func (s *Session[M]) Origin() observable.Origin {
	return s.origin
}

// TrackStatus feeds the session's signals into tr. Replacing the model
// (load, revert, path change) resets the saved timestamp.
func (s *Session[M]) TrackStatus(tr *status.Tracker) (cancel func()) {
	tr.Observe(s.State().Signals())
	stopState := s.state.Subscribe(func(c observable.Change[State]) {
		tr.Observe(c.New.Signals())
	})
	stopModel := s.model.Subscribe(func(c observable.Change[M]) {
		if c.Origin == s.origin {
			tr.ResetTarget()
		}
	})
	return func() {
		stopState()
		stopModel()
	}
}

// Close detaches the session from its observables, cancels in-flight
// requests and waits for background work to finish. Pending edits that were
// not flushed are dropped.
func (s *Session[M]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopTimerLocked()
	s.cancel()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	for _, fn := range unsub {
		fn()
	}
	s.wg.Wait()
	return nil
}

// publish pushes the current state to subscribers.
func (s *Session[M]) publish() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.mu.Lock()
	st := s.st
	s.mu.Unlock()
	s.state.SetFrom(s.origin, st)
}

// installModel writes m as the session's own change, unless the path
// generation moved on. It returns the model generation of the write.
func (s *Session[M]) installModel(gen uint64, m M) (uint64, bool) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	ok := gen == s.gen && !s.closed
	s.mu.Unlock()
	if !ok {
		return 0, false
	}
	return s.model.SetFrom(s.origin, m), true
}

// startLoad begins a new path lifetime and loads it in the background.
func (s *Session[M]) startLoad(path string) {
	gen, ctx, load := s.resetPath(path)
	if !load {
		return
	}
	go func() {
		defer s.wg.Done()
		_ = s.load(ctx, gen, path)
	}()
}

// resetPath cancels everything tied to the previous path, discards pending
// edits and the snapshot, and reports whether path should be loaded.
func (s *Session[M]) resetPath(path string) (uint64, context.Context, bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, nil, false
	}
	s.stopTimerLocked()
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.gen++
	gen, ctx := s.gen, s.ctx

	s.curPath = path
	s.snap = nil
	s.pending = nil
	s.st = State{Path: path, Saving: s.saving}

	load := true
	switch {
	case path == "":
		load = false
	case !s.client.Available():
		s.st.LoadError = contentapi.MsgNotConfigured
		load = false
	default:
		s.st.Loading = true
		// Done is called by whoever runs the load.
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if !load {
		var zero M
		s.installModel(gen, zero)
	}
	s.publish()
	return gen, ctx, load
}

// load fetches path and installs it as both snapshot and model.
func (s *Session[M]) load(ctx context.Context, gen uint64, path string) error {
	log := s.logger.With("path", path)

	snap, model, err := s.fetch(ctx, path)
	if err != nil {
		s.mu.Lock()
		if gen != s.gen || s.closed {
			s.mu.Unlock()
			return err
		}
		s.st.Loading = false
		s.st.LoadError = loadMessage(err)
		s.mu.Unlock()

		log.Warn("load failed", "error", err)
		var zero M
		s.installModel(gen, zero)
		s.publish()
		return err
	}

	wrote, ok := s.installModel(gen, model)
	if !ok {
		return context.Canceled
	}

	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return context.Canceled
	}
	s.snap = &snap
	s.pending = nil
	s.st.Loading = false
	s.st.LoadError = ""
	s.st.HasPendingChanges = false
	s.mu.Unlock()

	log.Debug("document loaded", "bytes", len(snap.Serialized))
	s.publish()

	if s.model.Gen() != wrote {
		s.evaluate()
	}
	return nil
}

func (s *Session[M]) fetch(ctx context.Context, path string) (snapshot.Snapshot, M, error) {
	var zero M
	doc, err := s.client.Fetch(ctx, path)
	if err != nil {
		return snapshot.Snapshot{}, zero, err
	}
	snap, err := snapshot.New(doc.Content)
	if err != nil {
		return snapshot.Snapshot{}, zero, fmt.Errorf("snapshot %s: %w", path, err)
	}
	raw, err := snapshot.Clone(snap.Raw)
	if err != nil {
		return snapshot.Snapshot{}, zero, fmt.Errorf("clone %s: %w", path, err)
	}
	model, err := s.fromRaw(raw)
	if err != nil {
		return snapshot.Snapshot{}, zero, fmt.Errorf("map %s: %w", path, err)
	}
	return snap, model, nil
}

func loadMessage(err error) string {
	var apiErr *contentapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	return msgLoadError
}

// evaluate compares the current model with what is, or is about to be,
// persisted and schedules a save when they differ. The model is read under
// s.mu so a late notification for an older write cannot win over a newer one.
func (s *Session[M]) evaluate() {
	s.mu.Lock()
	if s.closed || s.curPath == "" || s.snap == nil {
		s.mu.Unlock()
		return
	}
	model := s.model.Get()

	path := s.curPath
	edit, err := s.materializeLocked(model)
	if err != nil {
		s.st.SaveError = msgPrepareError
		s.mu.Unlock()
		s.logger.Error("prepare content", "path", path, "error", err)
		s.publish()
		return
	}

	// While a save is in flight its content is what the snapshot becomes.
	reference := s.snap.Serialized
	if s.inflight != nil {
		reference = s.inflight.Serialized
	}

	if snapshot.Equal(edit.Serialized, reference) {
		s.stopTimerLocked()
		s.pending = nil
		s.st.HasPendingChanges = s.inflight != nil
	} else {
		s.st.HasPendingChanges = true
		s.st.SuccessMessage = ""
		s.st.SaveError = ""
		s.pending = &edit
		s.armLocked()
	}
	s.mu.Unlock()
	s.publish()
}

// materializeLocked flattens model against a copy of the snapshot.
func (s *Session[M]) materializeLocked(model M) (snapshot.PendingEdit, error) {
	base, err := snapshot.Clone(s.snap.Raw)
	if err != nil {
		return snapshot.PendingEdit{}, err
	}
	raw, err := s.toRaw(model, base)
	if err != nil {
		return snapshot.PendingEdit{}, err
	}
	// Detach the edit from anything the model still references.
	sn, err := snapshot.New(raw)
	if err != nil {
		return snapshot.PendingEdit{}, err
	}
	return snapshot.PendingEdit{Raw: sn.Raw, Serialized: sn.Serialized}, nil
}

// armLocked (re)starts the debounce timer.
func (s *Session[M]) armLocked() {
	s.stopTimerLocked()
	gen := s.gen
	s.wg.Add(1)
	s.timer = time.AfterFunc(s.debounce, func() {
		defer s.wg.Done()
		_ = s.persist(gen)
	})
}

func (s *Session[M]) stopTimerLocked() {
	if s.timer == nil {
		return
	}
	if s.timer.Stop() {
		s.wg.Done()
	}
	s.timer = nil
}

// PersistPending makes one save attempt for the pending edit. It does
// nothing when there is no path, no pending edit, or a save in flight.
func (s *Session[M]) PersistPending() error {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	return s.persist(gen)
}

func (s *Session[M]) persist(gen uint64) error {
	s.mu.Lock()
	if s.closed || gen != s.gen || s.curPath == "" || s.pending == nil || s.saving {
		s.mu.Unlock()
		return nil
	}
	s.stopTimerLocked()
	edit := *s.pending
	s.pending = nil
	s.inflight = &edit
	s.saving = true
	s.saveDone = make(chan struct{})
	s.st.Saving = true
	path, ctx := s.curPath, s.ctx
	previous := s.snap.Raw
	s.mu.Unlock()
	s.publish()

	attempted := s.now()
	resp, err := s.client.Save(ctx, path, edit.Raw)

	result := SaveResult{
		Path:        path,
		Previous:    previous,
		Content:     edit.Raw,
		Serialized:  edit.Serialized,
		AttemptedAt: attempted,
		Err:         err,
	}

	s.mu.Lock()
	s.saving = false
	s.inflight = nil
	s.st.Saving = false
	close(s.saveDone)

	if gen != s.gen {
		// The path moved on; the result belongs to a discarded lifetime.
		result.Stale = true
		if s.pending != nil && !s.closed {
			s.armLocked()
		}
		s.mu.Unlock()
		s.publish()
		s.report(result)
		return err
	}

	newer := s.pending != nil
	if err == nil {
		savedAt := resp.SavedAt
		msg := msgSaved
		if !savedAt.IsZero() {
			msg = fmt.Sprintf(msgSavedAt, savedAt.Local().Format("15:04:05"))
		} else {
			savedAt = s.now()
		}
		result.SavedAt = savedAt
		s.snap = &snapshot.Snapshot{Raw: edit.Raw, Serialized: edit.Serialized}
		s.st.SaveError = ""
		s.st.SuccessMessage = msg
		s.st.SavedAt = savedAt
		s.logger.Info("content saved", "path", path, "bytes", len(edit.Serialized))
	} else {
		s.st.SaveError = status.ErrorLabel(err.Error())
		s.st.SuccessMessage = ""
		if !newer {
			s.pending = &edit
		}
		s.logger.Warn("save failed", "path", path, "error", err)
	}

	if s.pending != nil && snapshot.Equal(s.pending.Serialized, s.snap.Serialized) {
		s.pending = nil
		newer = false
	}
	s.st.HasPendingChanges = s.pending != nil
	if newer && !s.closed {
		s.armLocked()
	}
	s.mu.Unlock()

	s.publish()
	s.report(result)
	return err
}

func (s *Session[M]) report(r SaveResult) {
	if s.onSave != nil {
		s.onSave(r)
	}
}

// Flush saves the pending edit now, waiting for any save in flight first.
// It returns the error of a failed attempt.
func (s *Session[M]) Flush(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		if s.saving {
			done := s.saveDone
			s.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if s.pending == nil {
			s.mu.Unlock()
			return nil
		}
		gen := s.gen
		s.mu.Unlock()

		if err := s.persist(gen); err != nil {
			return err
		}
	}
}

// RevertChanges restores the model from the last persisted snapshot and
// discards unsaved edits.
func (s *Session[M]) RevertChanges() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.snap == nil {
		s.mu.Unlock()
		return ErrNoSnapshot
	}
	gen := s.gen
	raw, err := snapshot.Clone(s.snap.Raw)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("revert: %w", err)
	}

	model, err := s.fromRaw(raw)
	if err != nil {
		return fmt.Errorf("revert: %w", err)
	}

	wrote, ok := s.installModel(gen, model)
	if !ok {
		return context.Canceled
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return context.Canceled
	}
	s.st.SaveError = ""
	s.st.SuccessMessage = ""
	inflight := s.inflight != nil
	if !inflight {
		s.stopTimerLocked()
		s.pending = nil
		s.st.HasPendingChanges = false
	}
	s.mu.Unlock()
	s.publish()

	// A save in flight will replace the snapshot, so compare against it.
	if inflight || s.model.Gen() != wrote {
		s.evaluate()
	}
	return nil
}

// Refresh reloads the current path, discarding unsaved edits.
func (s *Session[M]) Refresh(ctx context.Context) error {
	path := s.path.Get()
	gen, pathCtx, load := s.resetPath(path)
	if !load {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrClosed
		}
		if s.st.LoadError != "" {
			return contentapi.ErrNotConfigured
		}
		return nil
	}
	defer s.wg.Done()

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		if s.gen == gen {
			s.cancel()
		}
		s.mu.Unlock()
	})
	defer stop()

	return s.load(pathCtx, gen, path)
}
