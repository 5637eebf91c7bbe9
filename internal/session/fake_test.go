package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"lessonsync/internal/contentapi"
	"lessonsync/internal/snapshot"
)

type savedCall struct {
	Path    string
	Content any
}

// fakeStore is an in-memory automation service.
type fakeStore struct {
	mu          sync.Mutex
	unavailable bool
	docs        map[string]any
	fetchErr    error
	saveErr     error
	saves       []savedCall
	savedAt     time.Time

	// gate, when set, holds every Save until it receives a value.
	gate        chan struct{}
	started     chan string
	inflight    int
	maxInflight int
}

func newFakeStore(docs map[string]any) *fakeStore {
	return &fakeStore{docs: docs, started: make(chan string, 16)}
}

func (f *fakeStore) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.unavailable
}

func (f *fakeStore) Fetch(ctx context.Context, path string) (contentapi.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return contentapi.Document{}, f.fetchErr
	}
	doc, ok := f.docs[path]
	if !ok {
		return contentapi.Document{}, &contentapi.Error{Op: "fetch", Kind: contentapi.KindHTTP, Status: 404,
			Message: "Falha ao acessar o serviço de automação (404). not found", Cause: errors.New("not found")}
	}
	c, err := snapshot.Clone(doc)
	if err != nil {
		return contentapi.Document{}, err
	}
	return contentapi.Document{Path: path, Content: c}, nil
}

func (f *fakeStore) Save(ctx context.Context, path string, content any) (contentapi.SaveResponse, error) {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	gate := f.gate
	f.mu.Unlock()

	select {
	case f.started <- path:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			f.mu.Lock()
			f.inflight--
			f.mu.Unlock()
			return contentapi.SaveResponse{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
	c, _ := snapshot.Clone(content)
	f.saves = append(f.saves, savedCall{Path: path, Content: c})
	if f.saveErr != nil {
		return contentapi.SaveResponse{}, f.saveErr
	}
	f.docs[path] = c
	return contentapi.SaveResponse{Path: path, Content: c, SavedAt: f.savedAt}, nil
}

func (f *fakeStore) Saves() []savedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]savedCall{}, f.saves...)
}

func (f *fakeStore) MaxInflight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInflight
}

func (f *fakeStore) setSaveErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveErr = err
}

func (f *fakeStore) setDoc(path string, doc any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[path] = doc
}

// doc is the model used by session tests.
type doc struct {
	Title  string `json:"title"`
	Blocks []any  `json:"blocks"`
}

func docFromRaw(raw any) (*doc, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var d doc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	if d.Blocks == nil {
		d.Blocks = []any{}
	}
	return &d, nil
}

func docToRaw(d *doc, base any) (any, error) {
	if d == nil {
		return base, nil
	}
	out := map[string]any{}
	if m, ok := base.(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	out["title"] = d.Title
	out["blocks"] = d.Blocks
	return out, nil
}

func serialized(t interface{ Fatalf(string, ...any) }, v any) string {
	s, err := snapshot.Serialize(v)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return s
}
