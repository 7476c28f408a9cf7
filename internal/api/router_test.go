package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/heatrank/backend/internal/api/handlers"
	"github.com/wonny/heatrank/backend/internal/concepts"
	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/internal/memstore"
	"github.com/wonny/heatrank/backend/internal/profile"
	"github.com/wonny/heatrank/backend/internal/s1_import"
	"github.com/wonny/heatrank/backend/internal/s2_rank"
	"github.com/wonny/heatrank/backend/internal/s3_newhigh"
	"github.com/wonny/heatrank/backend/internal/scheduler"
	"github.com/wonny/heatrank/backend/internal/tasks"
	"github.com/wonny/heatrank/backend/pkg/logger"
)

type testServer struct {
	store  *memstore.Store
	locks  *s1_import.MemoryLocks
	router http.Handler
}

func newTestServer(t *testing.T, maxUpload int64) *testServer {
	t.Helper()
	log := logger.Nop()
	prof := profile.Default()

	store := memstore.New()
	members := concepts.NewService(store, nil, log)
	detector := s3_newhigh.NewDetector(store, prof.Ranking.NewHighWindowDays, s3_newhigh.NotNewHigh)
	locks := s1_import.NewMemoryLocks()

	coord := s1_import.NewCoordinator(s1_import.Deps{
		Store:   store,
		Deriver: s2_rank.NewEngine(store, members, store, detector, log),
		Tracker: tasks.NewTracker(store, log),
		Locks:   locks,
		Learner: members,
	}, prof, t.TempDir(), log)

	router := NewRouter(Handlers{
		Imports:  handlers.NewImportHandler(coord, maxUpload, log),
		Rankings: handlers.NewRankingHandler(coord, store, log),
		Concepts: handlers.NewConceptHandler(members, log),
	}, log)

	return &testServer{store: store, locks: locks, router: router}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, fields map[string]string, fileName, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 0)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestImport_SubmitAndPoll(t *testing.T) {
	s := newTestServer(t, 1<<20)
	_, err := s.store.AddMembers(context.Background(), []contracts.ConceptMembership{
		{Code: "600000", Concept: "Banks"}, {Code: "000001", Concept: "Banks"},
	})
	require.NoError(t, err)

	rec := s.do(uploadRequest(t, map[string]string{"import_type": "volume", "uploaded_by": "ops"},
		"volume.txt", "SH600000\t2025-09-06\t100\nSZ000001\t2025-09-06\t50\n"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary contracts.ImportSummary
	decode(t, rec, &summary)
	assert.True(t, summary.Success)
	assert.Equal(t, 2, summary.ImportedRecords)
	require.Len(t, summary.TaskIDs, 1)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/imports/tasks/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var task contracts.ImportTask
	decode(t, rec, &task)
	assert.Equal(t, contracts.TaskCompleted, task.Status)
	assert.Equal(t, "ops", task.UploadedBy)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/imports/batches/"+summary.BatchID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/rankings/summaries?type=volume&date=2025-09-06", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Summaries []contracts.ConceptDailySummary `json:"summaries"`
		State     *contracts.DerivedState         `json:"state"`
	}
	decode(t, rec, &body)
	require.Len(t, body.Summaries, 1)
	assert.Equal(t, "Banks", body.Summaries[0].Concept)
	assert.Equal(t, 2, body.Summaries[0].StockCount)
	require.NotNil(t, body.State)
	assert.Equal(t, contracts.DerivedFresh, body.State.Status)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/rankings/stocks?type=volume&date=2025-09-06&concept=Banks", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":2`)
}

func TestImport_BadRequests(t *testing.T) {
	s := newTestServer(t, 1<<20)

	tests := []struct {
		name string
		req  *http.Request
		code int
	}{
		{"unknown type", uploadRequest(t, map[string]string{"import_type": "nope"}, "a.txt", "x"), http.StatusBadRequest},
		{"bad mode", uploadRequest(t, map[string]string{"import_type": "volume", "mode": "merge"}, "a.txt", "x"), http.StatusBadRequest},
		{"missing file", uploadRequest(t, map[string]string{"import_type": "volume"}, "", ""), http.StatusBadRequest},
		{"not multipart", httptest.NewRequest(http.MethodPost, "/api/imports", strings.NewReader("{}")), http.StatusBadRequest},
		{"unknown task", httptest.NewRequest(http.MethodGet, "/api/imports/tasks/42", nil), http.StatusNotFound},
		{"non numeric task", httptest.NewRequest(http.MethodGet, "/api/imports/tasks/abc", nil), http.StatusNotFound},
		{"bad batch id", httptest.NewRequest(http.MethodGet, "/api/imports/batches/xyz", nil), http.StatusBadRequest},
		{"unknown batch", httptest.NewRequest(http.MethodGet, "/api/imports/batches/0b7f3a4e-8f5c-4a63-9a57-2d5f1c3b9e10", nil), http.StatusNotFound},
		{"summaries without date", httptest.NewRequest(http.MethodGet, "/api/rankings/summaries?type=volume", nil), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.req)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestImport_UploadTooLarge(t *testing.T) {
	s := newTestServer(t, 64)
	rec := s.do(uploadRequest(t, map[string]string{"import_type": "volume"}, "a.txt", strings.Repeat("600000\t2025-09-06\t1\n", 20)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRecompute(t *testing.T) {
	s := newTestServer(t, 0)
	body := `{"import_type":"volume","trading_date":"2025-09-06"}`

	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/rankings/recompute", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	release, err := s.locks.TryLock(context.Background(), contracts.ImportTypeVolume, time.Date(2025, 9, 6, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	defer release()

	rec = s.do(httptest.NewRequest(http.MethodPost, "/api/rankings/recompute", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodPost, "/api/rankings/recompute", strings.NewReader(`{"import_type":"volume","trading_date":"06/09/2025"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodPost, "/api/rankings/recompute", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConcepts(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/concepts/refresh", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodPost, "/api/concepts/aliases", strings.NewReader(`{"alias":"AI","canonical":"AI"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodPost, "/api/concepts/aliases", strings.NewReader(`{"alias":"人工智能AI","canonical":"人工智能"}`)))
	assert.Equal(t, http.StatusCreated, rec.Code)

	_, err := s.store.AddMembers(context.Background(), []contracts.ConceptMembership{{Code: "600000", Concept: "芯片"}})
	require.NoError(t, err)
	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/concepts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "芯片")
}

type stubJob struct {
	name string
	fail bool
}

func (j *stubJob) Name() string     { return j.name }
func (j *stubJob) Schedule() string { return "@daily" }
func (j *stubJob) Run(ctx context.Context) error {
	if j.fail {
		return errors.New("inbox unreadable")
	}
	return nil
}

func TestSchedulerJobs(t *testing.T) {
	log := logger.Nop()
	sched := scheduler.New(log).WithRetry(0, time.Millisecond)
	require.NoError(t, sched.AddJob(&stubJob{name: "table_maintenance"}))
	require.NoError(t, sched.AddJob(&stubJob{name: "inbox_import", fail: true}))

	router := NewRouter(Handlers{
		Imports:   handlers.NewImportHandler(nil, 0, log),
		Rankings:  handlers.NewRankingHandler(nil, nil, log),
		Scheduler: handlers.NewSchedulerHandler(sched, log),
	}, log)
	do := func(method, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		return rec
	}

	rec := do(http.MethodPost, "/api/scheduler/jobs/table_maintenance/run")
	require.Equal(t, http.StatusOK, rec.Code)
	var res scheduler.JobResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)

	rec = do(http.MethodPost, "/api/scheduler/jobs/inbox_import/run")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "inbox unreadable")

	rec = do(http.MethodPost, "/api/scheduler/jobs/missing/run")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(http.MethodGet, "/api/scheduler/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Jobs  []scheduler.JobStats `json:"jobs"`
		Count int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 2, list.Count)
	assert.Equal(t, "inbox_import", list.Jobs[0].JobName)
	assert.Equal(t, 1, list.Jobs[0].FailureCount)
	assert.Equal(t, 1, list.Jobs[1].SuccessCount)

	rec = do(http.MethodGet, "/api/scheduler/jobs/inbox_import/history?failed=true")
	require.Equal(t, http.StatusOK, rec.Code)
	var hist struct {
		Results     []scheduler.JobResult `json:"results"`
		SuccessRate float64               `json:"success_rate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist.Results, 1)
	assert.Equal(t, "inbox unreadable", hist.Results[0].Error)
	assert.Zero(t, hist.SuccessRate)

	rec = do(http.MethodGet, "/api/scheduler/jobs/table_maintenance/history?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodGet, "/api/scheduler/jobs/missing/history")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
