package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonsync/internal/contentapi"
	"lessonsync/internal/logging"
	"lessonsync/internal/observable"
	"lessonsync/internal/status"
)

const (
	testDebounce = 40 * time.Millisecond
	waitFor      = 2 * time.Second
	tick         = 5 * time.Millisecond
)

type harness struct {
	store *fakeStore
	path  *observable.Value[string]
	model *observable.Value[*doc]
	sess  *Session[*doc]

	mu      sync.Mutex
	results []SaveResult
}

func newHarness(t *testing.T, store *fakeStore, path string) *harness {
	t.Helper()
	return newHarnessWithModel(t, store, path, observable.NewValue[*doc](nil))
}

func newHarnessWithModel(t *testing.T, store *fakeStore, path string, model *observable.Value[*doc]) *harness {
	t.Helper()
	h := &harness{
		store: store,
		path:  observable.NewValue(path),
		model: model,
	}
	sess, err := New(Options[*doc]{
		Client:   store,
		Path:     h.path,
		Model:    h.model,
		FromRaw:  docFromRaw,
		ToRaw:    docToRaw,
		Debounce: testDebounce,
		Logger:   logging.Discard(),
		OnSave: func(r SaveResult) {
			h.mu.Lock()
			h.results = append(h.results, r)
			h.mu.Unlock()
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	h.sess = sess
	return h
}

func (h *harness) waitLoaded(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := h.sess.State()
		_, ok := h.sess.Snapshot()
		return !st.Loading && ok
	}, waitFor, tick)
}

func (h *harness) setTitle(title string) {
	cur := h.model.Get()
	next := &doc{Title: title, Blocks: append([]any{}, cur.Blocks...)}
	h.model.Set(next)
}

func (h *harness) Results() []SaveResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]SaveResult{}, h.results...)
}

func introStore() *fakeStore {
	return newFakeStore(map[string]any{
		"p1": map[string]any{"title": "Intro", "blocks": []any{}},
		"p2": map[string]any{"title": "Second", "blocks": []any{}},
	})
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options[*doc]{})
	assert.Error(t, err)
}

func TestLoadHasNoPendingChanges(t *testing.T) {
	h := newHarness(t, introStore(), "p1")
	h.waitLoaded(t)

	st := h.sess.State()
	assert.False(t, st.HasPendingChanges)
	assert.Empty(t, st.LoadError)
	require.NotNil(t, h.model.Get())
	assert.Equal(t, "Intro", h.model.Get().Title)

	snap, _ := h.sess.Snapshot()
	raw, err := docToRaw(h.model.Get(), snap.Raw)
	require.NoError(t, err)
	assert.Equal(t, snap.Serialized, serialized(t, raw))

	// The session's own write must not turn into a save.
	time.Sleep(3 * testDebounce)
	assert.Empty(t, h.store.Saves())
}

func TestEditMarksPendingImmediately(t *testing.T) {
	h := newHarness(t, introStore(), "p1")
	h.waitLoaded(t)

	h.setTitle("Intro 2")
	assert.True(t, h.sess.State().HasPendingChanges)
}

func TestEditBackToSnapshotClearsPending(t *testing.T) {
	h := newHarness(t, introStore(), "p1")
	h.waitLoaded(t)

	h.setTitle("Intro 2")
	h.setTitle("Intro")
	assert.False(t, h.sess.State().HasPendingChanges)

	time.Sleep(3 * testDebounce)
	assert.Empty(t, h.store.Saves())
}

func TestDebounceCoalescesEdits(t *testing.T) {
	h := newHarness(t, introStore(), "p1")
	h.waitLoaded(t)

	for _, title := range []string{"a", "ab", "abc", "abcd", "abcde"} {
		h.setTitle(title)
	}

	require.Eventually(t, func() bool { return len(h.store.Saves()) == 1 }, waitFor, tick)
	time.Sleep(3 * testDebounce)

	saves := h.store.Saves()
	require.Len(t, saves, 1)
	assert.Equal(t, "p1", saves[0].Path)
	assert.Equal(t, "abcde", saves[0].Content.(map[string]any)["title"])

	require.Eventually(t, func() bool { return !h.sess.State().HasPendingChanges }, waitFor, tick)
	assert.Equal(t, msgSaved, h.sess.State().SuccessMessage)
}

func TestEditDuringSaveIsSerialized(t *testing.T) {
	store := introStore()
	store.gate = make(chan struct{})
	h := newHarness(t, store, "p1")
	h.waitLoaded(t)

	h.setTitle("first")
	select {
	case <-store.started:
	case <-time.After(waitFor):
		t.Fatal("first save did not start")
	}
	assert.True(t, h.sess.State().Saving)

	h.setTitle("second")
	// Give the debounce several chances to fire a concurrent save.
	time.Sleep(4 * testDebounce)
	assert.Equal(t, 1, store.MaxInflight())
	assert.True(t, h.sess.State().HasPendingChanges)

	store.gate <- struct{}{}
	select {
	case <-store.started:
	case <-time.After(waitFor):
		t.Fatal("follow-up save did not start")
	}
	store.gate <- struct{}{}

	require.Eventually(t, func() bool { return len(store.Saves()) == 2 }, waitFor, tick)
	saves := store.Saves()
	assert.Equal(t, "first", saves[0].Content.(map[string]any)["title"])
	assert.Equal(t, "second", saves[1].Content.(map[string]any)["title"])
	assert.Equal(t, 1, store.MaxInflight())

	require.Eventually(t, func() bool {
		st := h.sess.State()
		return !st.Saving && !st.HasPendingChanges
	}, waitFor, tick)
}

func TestOutOfOrderNotificationKeepsNewestEdit(t *testing.T) {
	store := introStore()
	model := observable.NewValue[*doc](nil)

	// A subscriber ahead of the session stalls delivery of the first edit
	// until a second edit has been written and delivered.
	entered := make(chan struct{})
	release := make(chan struct{})
	var stall sync.Once
	cancel := model.Subscribe(func(c observable.Change[*doc]) {
		if c.New != nil && c.New.Title == "A" {
			stall.Do(func() {
				close(entered)
				<-release
			})
		}
	})
	defer cancel()

	h := newHarnessWithModel(t, store, "p1", model)
	h.waitLoaded(t)

	first := make(chan struct{})
	go func() {
		defer close(first)
		h.setTitle("A")
	}()
	<-entered
	h.setTitle("B")
	close(release)
	<-first

	require.NoError(t, h.sess.Flush(context.Background()))
	require.Eventually(t, func() bool {
		st := h.sess.State()
		return !st.Saving && !st.HasPendingChanges
	}, waitFor, tick)

	saves := store.Saves()
	require.NotEmpty(t, saves)
	assert.Equal(t, "B", saves[len(saves)-1].Content.(map[string]any)["title"])
	snap, ok := h.sess.Snapshot()
	require.True(t, ok)
	assert.Contains(t, snap.Serialized, `"title": "B"`)
	assert.Equal(t, "B", h.model.Get().Title)
}

func TestRevertWhileSavingComparesAgainstInFlight(t *testing.T) {
	store := introStore()
	store.gate = make(chan struct{})
	h := newHarness(t, store, "p1")
	h.waitLoaded(t)

	h.setTitle("edited")
	<-store.started

	// Revert to "Intro" while "edited" is being saved: once that save lands,
	// "Intro" must be saved again.
	require.NoError(t, h.sess.RevertChanges())
	assert.Equal(t, "Intro", h.model.Get().Title)
	assert.True(t, h.sess.State().HasPendingChanges)

	store.gate <- struct{}{}
	<-store.started
	store.gate <- struct{}{}

	require.Eventually(t, func() bool { return len(store.Saves()) == 2 }, waitFor, tick)
	assert.Equal(t, "Intro", store.Saves()[1].Content.(map[string]any)["title"])
}

func TestRevertRestoresSnapshot(t *testing.T) {
	h := newHarness(t, introStore(), "p1")
	h.waitLoaded(t)

	h.setTitle("x")
	h.setTitle("xy")
	require.NoError(t, h.sess.RevertChanges())

	st := h.sess.State()
	assert.False(t, st.HasPendingChanges)
	assert.Empty(t, st.SaveError)

	snap, _ := h.sess.Snapshot()
	raw, err := docToRaw(h.model.Get(), snap.Raw)
	require.NoError(t, err)
	assert.Equal(t, snap.Serialized, serialized(t, raw))

	time.Sleep(3 * testDebounce)
	assert.Empty(t, h.store.Saves())
}

func TestRevertWithoutSnapshot(t *testing.T) {
	h := newHarness(t, introStore(), "")
	assert.ErrorIs(t, h.sess.RevertChanges(), ErrNoSnapshot)
}

func TestFailedSaveKeepsEdit(t *testing.T) {
	store := introStore()
	store.saveErr = &contentapi.Error{Kind: contentapi.KindHTTP, Status: 500,
		Message: "Falha ao acessar o serviço de automação (500). disco cheio", Cause: errors.New("500")}
	h := newHarness(t, store, "p1")
	h.waitLoaded(t)

	h.setTitle("keep me")
	require.Eventually(t, func() bool { return h.sess.State().SaveError != "" }, waitFor, tick)

	st := h.sess.State()
	assert.True(t, st.HasPendingChanges)
	assert.Equal(t, "Falha ao acessar o serviço de automação (500). disco cheio", st.SaveError)
	assert.False(t, st.Saving)

	// No automatic retry without a new edit or an explicit flush.
	time.Sleep(3 * testDebounce)
	assert.Len(t, store.Saves(), 1)

	store.setSaveErr(nil)
	require.NoError(t, h.sess.Flush(context.Background()))

	saves := store.Saves()
	require.Len(t, saves, 2)
	assert.Equal(t, saves[0].Content, saves[1].Content)
	st = h.sess.State()
	assert.False(t, st.HasPendingChanges)
	assert.Empty(t, st.SaveError)
}

func TestFailedSaveRetriedByNextEdit(t *testing.T) {
	store := introStore()
	store.saveErr = errors.New("boom")
	h := newHarness(t, store, "p1")
	h.waitLoaded(t)

	h.setTitle("one")
	require.Eventually(t, func() bool { return h.sess.State().SaveError != "" }, waitFor, tick)
	assert.Equal(t, "boom", h.sess.State().SaveError)

	store.setSaveErr(nil)
	h.setTitle("two")
	assert.Empty(t, h.sess.State().SaveError, "a new edit clears the error")

	require.Eventually(t, func() bool { return len(store.Saves()) == 2 }, waitFor, tick)
	assert.Equal(t, "two", store.Saves()[1].Content.(map[string]any)["title"])
}

func TestFlushReturnsSaveError(t *testing.T) {
	store := introStore()
	store.saveErr = errors.New("boom")
	h := newHarness(t, store, "p1")
	h.waitLoaded(t)

	h.setTitle("x")
	err := h.sess.Flush(context.Background())
	require.Error(t, err)
	assert.True(t, h.sess.State().HasPendingChanges)
}

func TestPathChangeCancelsPendingSave(t *testing.T) {
	h := newHarness(t, introStore(), "p1")
	h.waitLoaded(t)

	h.setTitle("Intro 2")
	h.path.Set("p2")

	require.Eventually(t, func() bool {
		m := h.model.Get()
		return m != nil && m.Title == "Second" && !h.sess.State().Loading
	}, waitFor, tick)

	time.Sleep(3 * testDebounce)
	assert.Empty(t, h.store.Saves())
	assert.False(t, h.sess.State().HasPendingChanges)
	assert.Equal(t, "p2", h.sess.State().Path)
}

func TestEmptyPathResetsModel(t *testing.T) {
	h := newHarness(t, introStore(), "p1")
	h.waitLoaded(t)

	h.path.Set("")
	assert.Nil(t, h.model.Get())
	_, ok := h.sess.Snapshot()
	assert.False(t, ok)

	// Edits without a path are ignored.
	h.model.Set(&doc{Title: "orphan"})
	assert.False(t, h.sess.State().HasPendingChanges)
}

func TestUnavailableService(t *testing.T) {
	store := introStore()
	store.unavailable = true
	h := newHarness(t, store, "p1")

	st := h.sess.State()
	assert.Equal(t, contentapi.MsgNotConfigured, st.LoadError)
	assert.False(t, st.Loading)
	assert.Nil(t, h.model.Get())

	assert.ErrorIs(t, h.sess.Refresh(context.Background()), contentapi.ErrNotConfigured)
}

func TestLoadFailure(t *testing.T) {
	h := newHarness(t, introStore(), "missing")

	require.Eventually(t, func() bool { return h.sess.State().LoadError != "" }, waitFor, tick)
	assert.Contains(t, h.sess.State().LoadError, "(404)")
	assert.Nil(t, h.model.Get())
}

func TestLoadMapperFailure(t *testing.T) {
	store := newFakeStore(map[string]any{"bad": map[string]any{"title": 42}})
	h := newHarness(t, store, "bad")

	require.Eventually(t, func() bool { return h.sess.State().LoadError != "" }, waitFor, tick)
	assert.Equal(t, msgLoadError, h.sess.State().LoadError)
}

func TestRefreshPullsRemoteState(t *testing.T) {
	store := introStore()
	h := newHarness(t, store, "p1")
	h.waitLoaded(t)

	h.setTitle("local edit")
	store.setDoc("p1", map[string]any{"title": "Remote", "blocks": []any{}})

	require.NoError(t, h.sess.Refresh(context.Background()))
	assert.Equal(t, "Remote", h.model.Get().Title)
	assert.False(t, h.sess.State().HasPendingChanges)

	time.Sleep(3 * testDebounce)
	assert.Empty(t, store.Saves())
}

func TestPreservesFieldsOutsideModel(t *testing.T) {
	store := newFakeStore(map[string]any{
		"p1": map[string]any{"title": "Intro", "blocks": []any{}, "meta": map[string]any{"level": 2}},
	})
	h := newHarness(t, store, "p1")
	h.waitLoaded(t)

	h.setTitle("Intro 2")
	require.NoError(t, h.sess.Flush(context.Background()))

	saved := store.Saves()[0].Content.(map[string]any)
	assert.Contains(t, saved, "meta")
}

func TestSavedAtFromServer(t *testing.T) {
	store := introStore()
	store.savedAt = time.Date(2026, 1, 2, 15, 4, 5, 0, time.Local)
	h := newHarness(t, store, "p1")
	h.waitLoaded(t)

	h.setTitle("x")
	require.NoError(t, h.sess.Flush(context.Background()))

	st := h.sess.State()
	assert.Equal(t, "Alterações salvas às 15:04:05.", st.SuccessMessage)
	assert.True(t, store.savedAt.Equal(st.SavedAt))

	results := h.Results()
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "Intro", results[0].Previous.(map[string]any)["title"])
	assert.False(t, results[0].Stale)
}

func TestStaleSaveDoesNotTouchNewPath(t *testing.T) {
	store := introStore()
	store.gate = make(chan struct{})
	h := newHarness(t, store, "p1")
	h.waitLoaded(t)

	h.setTitle("for p1")
	<-store.started

	h.path.Set("p2")
	require.Eventually(t, func() bool {
		m := h.model.Get()
		return m != nil && m.Title == "Second"
	}, waitFor, tick)

	require.Eventually(t, func() bool { return len(h.Results()) == 1 }, waitFor, tick)
	r := h.Results()[0]
	assert.True(t, r.Stale)

	require.Eventually(t, func() bool {
		snap, ok := h.sess.Snapshot()
		return ok && strings.Contains(snap.Serialized, "Second")
	}, waitFor, tick)
	assert.False(t, h.sess.State().Saving)
	assert.Empty(t, h.store.Saves())
}

func TestStatusScenario(t *testing.T) {
	h := newHarness(t, introStore(), "p1")
	tr := status.NewTracker(nil)
	stop := h.sess.TrackStatus(tr)
	defer stop()
	h.waitLoaded(t)

	assert.Equal(t, status.StatusIdle, tr.View().Status)

	h.setTitle("Intro 2")
	assert.Equal(t, status.StatusPending, tr.View().Status)

	require.Eventually(t, func() bool { return tr.View().Status == status.StatusSaved }, waitFor, tick)
	assert.Contains(t, tr.View().Label, "Alterações salvas às")
	assert.Equal(t, map[string]any{"title": "Intro 2", "blocks": []any{}}, h.store.Saves()[0].Content)

	// Replacing the model forgets the saved time.
	require.NoError(t, h.sess.RevertChanges())
	assert.Equal(t, status.StatusIdle, tr.View().Status)
}

func TestStatusShowsError(t *testing.T) {
	store := introStore()
	store.saveErr = errors.New("")
	h := newHarness(t, store, "p1")
	tr := status.NewTracker(nil)
	defer h.sess.TrackStatus(tr)()
	h.waitLoaded(t)

	h.setTitle("x")
	require.Eventually(t, func() bool { return tr.View().Status == status.StatusError }, waitFor, tick)
	assert.Equal(t, status.LabelErrorFallback, tr.View().Label)
	assert.Equal(t, status.ToneError, tr.View().Tone)
}

func TestCloseStopsEverything(t *testing.T) {
	h := newHarness(t, introStore(), "p1")
	h.waitLoaded(t)

	h.setTitle("unsaved")
	require.NoError(t, h.sess.Close())
	require.NoError(t, h.sess.Close())

	time.Sleep(3 * testDebounce)
	assert.Empty(t, h.store.Saves())
	assert.ErrorIs(t, h.sess.Flush(context.Background()), ErrClosed)
	assert.ErrorIs(t, h.sess.RevertChanges(), ErrClosed)
}
