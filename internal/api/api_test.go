package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/dispatch"
	"github.com/BTreeMap/OutreachPipe/internal/models"
	"github.com/BTreeMap/OutreachPipe/internal/testutil"
)

type fakeEngine struct {
	tasks    []dispatch.TaskInfo
	stages   map[string]models.Stage
	awaiting map[string]bool
}

func (f *fakeEngine) PendingTasks() []dispatch.TaskInfo { return f.tasks }

func (f *fakeEngine) Stage(userID string) models.Stage {
	if s, ok := f.stages[userID]; ok {
		return s
	}
	return models.StageActive
}

func (f *fakeEngine) IsAwaitingReply(userID string) bool { return f.awaiting[userID] }

type fakeSaver struct {
	calls int
	err   error
}

func (f *fakeSaver) Save(ctx context.Context) error {
	f.calls++
	return f.err
}

func newFakeEngine() *fakeEngine {
	now := time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC)
	return &fakeEngine{
		tasks: []dispatch.TaskInfo{
			{ID: "idle_timeout:111", Family: models.FamilyIdleTimeout, UserID: "111", IssuedAt: now, FireAt: now.Add(time.Minute), State: dispatch.StatePending},
			{ID: "morning:222", Family: models.FamilyMorning, UserID: "222", IssuedAt: now, FireAt: now.Add(time.Minute), State: dispatch.StateFiring},
		},
		stages:   map[string]models.Stage{"111": models.StageEscalating},
		awaiting: map[string]bool{"111": true},
	}
}

func do(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthHandler(t *testing.T) {
	s := NewServer(newFakeEngine())
	rec := do(s.Handler(), http.MethodGet, "/health")
	testutil.AssertHTTPStatus(t, http.StatusOK, rec.Code, "GET /health")
	body := testutil.AssertJSONResponse(t, rec, models.APIStatusOK)
	var result map[string]any
	testutil.MustUnmarshalJSON(t, body.Result, &result)
	if result["pending_tasks"] != float64(2) {
		t.Errorf("expected 2 pending tasks, got %v", result["pending_tasks"])
	}

	rec = do(s.Handler(), http.MethodPost, "/health")
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rec.Code, "POST /health")
}

func TestTasksHandler(t *testing.T) {
	s := NewServer(newFakeEngine())
	tests := []struct {
		path string
		want int
	}{
		{"/tasks", 2},
		{"/tasks?family=morning", 1},
		{"/tasks?family=lunch", 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(s.Handler(), http.MethodGet, tt.path)
			testutil.AssertHTTPStatus(t, http.StatusOK, rec.Code, tt.path)
			body := testutil.AssertJSONResponse(t, rec, models.APIStatusOK)
			var tasks []dispatch.TaskInfo
			testutil.MustUnmarshalJSON(t, body.Result, &tasks)
			if len(tasks) != tt.want {
				t.Errorf("expected %d tasks, got %d", tt.want, len(tasks))
			}
		})
	}
}

func TestUserHandler(t *testing.T) {
	s := NewServer(newFakeEngine())
	tests := []struct {
		id        string
		stage     models.Stage
		awaiting  bool
		wantTasks int
	}{
		{"111", models.StageEscalating, true, 1},
		{"999", models.StageActive, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			rec := do(s.Handler(), http.MethodGet, "/users/"+tt.id)
			testutil.AssertHTTPStatus(t, http.StatusOK, rec.Code, "GET /users/"+tt.id)
			body := testutil.AssertJSONResponse(t, rec, models.APIStatusOK)
			var status UserStatus
			testutil.MustUnmarshalJSON(t, body.Result, &status)
			if status.Stage != tt.stage || status.AwaitingReply != tt.awaiting || len(status.Pending) != tt.wantTasks {
				t.Errorf("unexpected status %+v", status)
			}
		})
	}
}

func TestSnapshotHandler(t *testing.T) {
	rec := do(NewServer(newFakeEngine()).Handler(), http.MethodPost, "/snapshot")
	testutil.AssertHTTPStatus(t, http.StatusNotImplemented, rec.Code, "snapshot without saver")
	testutil.AssertJSONResponse(t, rec, models.APIStatusError)

	saver := &fakeSaver{}
	s := NewServer(newFakeEngine(), WithSaver(saver))
	rec = do(s.Handler(), http.MethodPost, "/snapshot")
	testutil.AssertHTTPStatus(t, http.StatusOK, rec.Code, "snapshot")
	if saver.calls != 1 {
		t.Errorf("expected one save, got %d", saver.calls)
	}

	saver.err = errors.New("disk full")
	rec = do(s.Handler(), http.MethodPost, "/snapshot")
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rec.Code, "snapshot save failure")
}

func TestWebhookMounting(t *testing.T) {
	var hits int
	hook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	})

	s := NewServer(newFakeEngine(), WithWebhook("", hook))
	rec := do(s.Handler(), http.MethodPost, DefaultWebhookPath)
	testutil.AssertHTTPStatus(t, http.StatusOK, rec.Code, "webhook")
	if hits != 1 {
		t.Errorf("webhook not reached, hits %d", hits)
	}

	rec = do(NewServer(newFakeEngine()).Handler(), http.MethodPost, DefaultWebhookPath)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rec.Code, "webhook not configured")
}

func TestStartAndShutdown(t *testing.T) {
	s := NewServer(newFakeEngine(), WithAddr("127.0.0.1:0"))
	errs, err := s.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err, ok := <-errs; ok && err != nil {
		t.Errorf("unexpected serve error: %v", err)
	}
}
