package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/iwbot/internal/backlog"
	"github.com/MimeLyc/iwbot/internal/config"
	"github.com/MimeLyc/iwbot/internal/ledger"
	"github.com/MimeLyc/iwbot/internal/resolver"
)

type fakeDriver struct {
	snap   backlog.Snapshot
	ledger *ledger.Ledger
}

func (f *fakeDriver) Snapshot() backlog.Snapshot { return f.snap }
func (f *fakeDriver) Ledger() *ledger.Ledger     { return f.ledger }

type fakeHistory struct {
	passes []backlog.PassRecord
	err    error
}

func (f *fakeHistory) ListPasses(context.Context, int) ([]backlog.PassRecord, error) {
	return f.passes, f.err
}

type fakeSettingsStore struct {
	current   config.RuntimeSettings
	updateErr error
}

func (f *fakeSettingsStore) GetRuntimeSettings() (config.RuntimeSettings, error) {
	return f.current, nil
}

func (f *fakeSettingsStore) UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error) {
	if f.updateErr != nil {
		return config.RuntimeSettings{}, f.updateErr
	}
	f.current = next
	return f.current, nil
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDriver() *fakeDriver {
	l := ledger.New([]ledger.Project{{Name: "Хімія", Prefixes: []string{"Хім"}}})
	l.Record("Хімічний елемент", "Сторінка [[:en:X]] перекладена як [[Y]], хоча хотіли [[Z]]")
	l.Assign("Хімічний елемент", nil)
	l.Record("Київ", "Мовний код \"xx\" не підтримується")
	l.Assign("Київ", nil)
	return &fakeDriver{
		snap: backlog.Snapshot{
			Status: backlog.StatusRunning,
			Pass:   backlog.PassBulk,
			Cursor: 3,
			Total:  10,
		},
		ledger: l,
	}
}

func serve(srv *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Problems(t *testing.T) {
	srv := NewServer(newTestDriver())

	rec := serve(srv, http.MethodGet, "/api/problems", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all problemsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, 2, all.Total)

	rec = serve(srv, http.MethodGet, "/api/problems?project=%D0%A5%D1%96%D0%BC%D1%96%D1%8F", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var chem problemsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chem))
	require.Len(t, chem.Entries, 1)
	assert.Equal(t, "Хімічний елемент", chem.Entries[0].Page)

	rec = serve(srv, http.MethodGet, "/api/problems?project=nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(srv, http.MethodPost, "/api/problems", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_ProblemReport(t *testing.T) {
	drv := newTestDriver()
	srv := NewServer(drv, WithClock(func() time.Time { return fixedNow }))

	rec := serve(srv, http.MethodGet, "/api/problems/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, drv.ledger.Render("", fixedNow), rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Всього таких статей 2.")
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
}

func TestServer_Backlog(t *testing.T) {
	history := &fakeHistory{passes: []backlog.PassRecord{{ID: "p1", Kind: backlog.PassBulk, Status: backlog.StatusCompleted}}}
	srv := NewServer(newTestDriver(), WithHistory(history))

	rec := serve(srv, http.MethodGet, "/api/backlog", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp backlogResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Snapshot.Cursor)
	assert.Equal(t, 10, resp.Snapshot.Total)
	require.Len(t, resp.Passes, 1)
	assert.Equal(t, "p1", resp.Passes[0].ID)

	history.err = errors.New("db locked")
	rec = serve(srv, http.MethodGet, "/api/backlog", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Stats(t *testing.T) {
	counter := resolver.NewCounter()
	counter.Record("en", "A")
	counter.Record("en", "A")
	counter.Record("de", "B")

	srv := NewServer(newTestDriver(), WithStats(counter))
	rec := serve(srv, http.MethodGet, "/api/stats?top=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []resolver.Count
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Equal(t, []resolver.Count{{Lang: "en", Title: "A", N: 2}}, rows)

	rec = serve(srv, http.MethodGet, "/api/stats?top=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(NewServer(newTestDriver()), http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestServer_Passes(t *testing.T) {
	var started []string
	busy := false
	srv := NewServer(newTestDriver(), WithTrigger(func(kind string) bool {
		if busy {
			return false
		}
		started = append(started, kind)
		return true
	}))

	rec := serve(srv, http.MethodPost, "/api/passes", []byte(`{"kind":"recheck"}`))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = serve(srv, http.MethodPost, "/api/passes", []byte(`{}`))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{backlog.PassRecheck, backlog.PassBulk}, started)

	rec = serve(srv, http.MethodPost, "/api/passes", []byte(`{"kind":"other"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	busy = true
	rec = serve(srv, http.MethodPost, "/api/passes", []byte(`{"kind":"bulk"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_Settings(t *testing.T) {
	store := &fakeSettingsStore{current: config.RuntimeSettings{PassCron: "@daily"}}
	var applied config.RuntimeSettings
	srv := NewServer(newTestDriver(),
		WithRuntimeSettingsStore(store),
		WithRuntimeSettingsApplier(func(next config.RuntimeSettings) error {
			applied = next
			return nil
		}),
	)

	rec := serve(srv, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pass_cron":"@daily","recheck_cron":""}`, rec.Body.String())

	rec = serve(srv, http.MethodPut, "/api/settings", []byte(`{"pass_cron":"bad"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(srv, http.MethodPut, "/api/settings", []byte(`{"pass_cron":"0 2 * * *","recheck_cron":"@weekly"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0 2 * * *", applied.PassCron)
	assert.Equal(t, "@weekly", store.current.RecheckCron)

	store.updateErr = errors.New("disk full")
	rec = serve(srv, http.MethodPut, "/api/settings", []byte(`{"pass_cron":"@hourly"}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = serve(NewServer(newTestDriver()), http.MethodGet, "/api/settings", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	srv := NewServer(newTestDriver())

	rec := serve(srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running"`)

	rec = serve(srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "iwbot_")
}

func TestServer_BacklogStream(t *testing.T) {
	srv := NewServer(newTestDriver(), WithStreamInterval(10*time.Millisecond))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/backlog/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))
	var snap backlog.Snapshot
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &snap))
	assert.Equal(t, backlog.PassBulk, snap.Pass)
}
