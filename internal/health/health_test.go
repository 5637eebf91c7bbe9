package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy(ctx context.Context) Result { return Result{Status: StatusHealthy, Message: "ok"} }

func TestRunSummarizes(t *testing.T) {
	c := NewChecker()
	c.Add("root", true, healthy)
	assert.Equal(t, StatusHealthy, c.Run(context.Background()).Status)

	c.Add("schema", false, Ping(func(context.Context) error { return errors.New("missing") }))
	assert.Equal(t, StatusDegraded, c.Run(context.Background()).Status)

	c.Add("db", true, Ping(func(context.Context) error { return errors.New("locked") }))
	report := c.Run(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Len(t, report.Checks, 3)
	assert.Equal(t, "locked", report.Checks["db"].Error)

	c.Add("db", true, healthy)
	assert.Equal(t, StatusDegraded, c.Run(context.Background()).Status, "check replaced by name")
}

func TestRunRecoversPanicsAndTimeouts(t *testing.T) {
	c := NewChecker()
	c.Timeout = 10 * time.Millisecond
	c.Add("panics", false, func(ctx context.Context) Result { panic("boom") })
	c.Add("slow", false, func(ctx context.Context) Result {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return Result{Status: StatusHealthy}
	})

	report := c.Run(context.Background())
	assert.Equal(t, "check panicked", report.Checks["panics"].Message)
	assert.Equal(t, "boom", report.Checks["panics"].Error)
	assert.Equal(t, "check timed out", report.Checks["slow"].Message)
}

func TestContentRoot(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, StatusHealthy, ContentRoot(dir)(context.Background()).Status)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file is removed")

	assert.Equal(t, StatusUnhealthy, ContentRoot(filepath.Join(dir, "missing"))(context.Background()).Status)

	file := filepath.Join(dir, "a.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))
	assert.Equal(t, StatusUnhealthy, ContentRoot(file)(context.Background()).Status)
}

func TestSchemaFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "lesson.schema.json")
	bad := filepath.Join(dir, "broken.schema.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"type":"object"}`), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte(`{"type":`), 0o644))

	assert.Equal(t, StatusHealthy, SchemaFile(good)(context.Background()).Status)
	assert.Equal(t, "schema is not valid JSON", SchemaFile(bad)(context.Background()).Message)
	assert.Equal(t, "schema missing", SchemaFile(filepath.Join(dir, "nope"))(context.Background()).Message)
}

func TestHandler(t *testing.T) {
	c := NewChecker()
	c.Add("root", true, healthy)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "not ready yet")

	c.SetReady(true)
	rec = httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "checks")

	rec = httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?full=true", nil))
	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusHealthy, report.Status)
	assert.True(t, report.Ready)
	assert.Equal(t, "ok", report.Checks["root"].Message)

	c.Add("db", true, Ping(func(context.Context) error { return errors.New("down") }))
	rec = httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LiveHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
}
