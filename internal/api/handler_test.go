package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/schedq/internal/domain"
	"github.com/shaiso/schedq/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeSchedules struct {
	items     map[uuid.UUID]*domain.Schedule
	err       error
	lastIn    repo.CreateScheduleInput
	lastUpd   repo.UpdateScheduleInput
	filter    repo.ScheduleFilter
	ownerDels int64
}

func newFakeSchedules() *fakeSchedules {
	return &fakeSchedules{items: map[uuid.UUID]*domain.Schedule{}}
}

func (f *fakeSchedules) add(s *domain.Schedule) {
	f.items[s.ID] = s
}

func (f *fakeSchedules) Create(ctx context.Context, in repo.CreateScheduleInput) (*domain.Schedule, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastIn = in
	now := time.Date(2024, 12, 5, 0, 0, 0, 0, time.UTC)
	s := &domain.Schedule{ID: uuid.New(), OwnerID: in.OwnerID, UpdateInterval: in.UpdateInterval, Metadata: in.Metadata, CreatedAt: now, UpdatedAt: now}
	f.add(s)
	return s, nil
}

func (f *fakeSchedules) GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.items[id]
	if !ok {
		return nil, &repo.OpError{Op: "get schedule", ID: id, Kind: repo.ErrNotFound}
	}
	return s, nil
}

func (f *fakeSchedules) ListByOwner(ctx context.Context, filter repo.ScheduleFilter) ([]domain.Schedule, error) {
	f.filter = filter
	var out []domain.Schedule
	for _, s := range f.items {
		if s.OwnerID == filter.OwnerID {
			out = append(out, *s)
		}
	}
	return out, f.err
}

func (f *fakeSchedules) Update(ctx context.Context, id uuid.UUID, in repo.UpdateScheduleInput) error {
	if f.err != nil {
		return f.err
	}
	s, ok := f.items[id]
	if !ok {
		return &repo.OpError{Op: "update schedule", ID: id, Kind: repo.ErrNotFound}
	}
	f.lastUpd = in
	if in.UpdateInterval != nil {
		s.UpdateInterval = *in.UpdateInterval
	}
	if in.Metadata != nil {
		s.Metadata = in.Metadata
	}
	return nil
}

func (f *fakeSchedules) Delete(ctx context.Context, id uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	delete(f.items, id)
	return nil
}

func (f *fakeSchedules) DeleteByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	return f.ownerDels, f.err
}

type fakeWorkflows struct {
	items    map[uuid.UUID]*domain.Workflow
	links    map[uuid.UUID][]uuid.UUID
	replaced []uuid.UUID
	err      error
}

func newFakeWorkflows() *fakeWorkflows {
	return &fakeWorkflows{items: map[uuid.UUID]*domain.Workflow{}, links: map[uuid.UUID][]uuid.UUID{}}
}

func (f *fakeWorkflows) Create(ctx context.Context, displayName string) (*domain.Workflow, error) {
	wf := &domain.Workflow{ID: uuid.New(), DisplayName: displayName}
	f.items[wf.ID] = wf
	return wf, nil
}

func (f *fakeWorkflows) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	wf, ok := f.items[id]
	if !ok {
		return nil, &repo.OpError{Op: "get workflow", ID: id, Kind: repo.ErrNotFound}
	}
	return wf, nil
}

func (f *fakeWorkflows) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := f.items[id]; !ok {
		return &repo.OpError{Op: "delete workflow", ID: id, Kind: repo.ErrNotFound}
	}
	return nil
}

func (f *fakeWorkflows) ReplaceSchedules(ctx context.Context, workflowID uuid.UUID, scheduleIDs []uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.items[workflowID]; !ok {
		return &repo.OpError{Op: "replace workflow schedules", ID: workflowID, Kind: repo.ErrNotFound}
	}
	f.replaced = scheduleIDs
	f.links[workflowID] = scheduleIDs
	return nil
}

func (f *fakeWorkflows) ListSchedules(ctx context.Context, workflowID uuid.UUID) ([]domain.Schedule, error) {
	out := make([]domain.Schedule, 0, len(f.links[workflowID]))
	for _, id := range f.links[workflowID] {
		out = append(out, domain.Schedule{ID: id, UpdateInterval: time.Minute})
	}
	return out, nil
}

// --- helpers ---

func newTestServer(t *testing.T, schedules *fakeSchedules, workflows *fakeWorkflows, health func(context.Context) error) *httptest.Server {
	t.Helper()
	h := NewHandler(Config{
		Schedules: schedules,
		Workflows: workflows,
		Health:    health,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

// --- tests ---

func TestCreateSchedule(t *testing.T) {
	schedules := newFakeSchedules()
	srv := newTestServer(t, schedules, newFakeWorkflows(), nil)
	owner := uuid.New()

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/schedules",
		`{"owner_id":"`+owner.String()+`","update_interval":"@hourly","metadata":{"k":"v"}}`)

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, owner, schedules.lastIn.OwnerID)
	assert.Equal(t, time.Hour, schedules.lastIn.UpdateInterval)
	assert.JSONEq(t, `{"k":"v"}`, string(schedules.lastIn.Metadata))

	data := body["data"].(map[string]any)
	assert.Equal(t, "@hourly", data["update_interval"])
	assert.Equal(t, float64(3600), data["update_interval_seconds"])
	assert.Equal(t, "2024-12-05T01:00:00Z", data["due_at"])
}

func TestCreateSchedule_Validation(t *testing.T) {
	srv := newTestServer(t, newFakeSchedules(), newFakeWorkflows(), nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", ``, "empty"},
		{"bad owner", `{"owner_id":"nope","update_interval":"60"}`, "owner_id must be a UUID"},
		{"missing interval", `{"owner_id":"` + uuid.NewString() + `"}`, "update_interval is required"},
		{"bad interval", `{"owner_id":"` + uuid.NewString() + `","update_interval":"@monthly"}`, "update_interval must be"},
		{"unknown field", `{"owner_id":"` + uuid.NewString() + `","update_interval":"60","cron":"x"}`, "unknown field"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/schedules", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "BAD_REQUEST", errorCode(body))
			msg := body["error"].(map[string]any)["message"].(string)
			assert.Contains(t, msg, tt.want)
		})
	}
}

func TestCreateSchedule_RepoInvalidArgument(t *testing.T) {
	schedules := newFakeSchedules()
	schedules.err = &repo.OpError{Op: "create schedule", Kind: repo.ErrInvalidArgument, Err: errors.New("metadata must be a JSON object")}
	srv := newTestServer(t, schedules, newFakeWorkflows(), nil)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/schedules",
		`{"owner_id":"`+uuid.NewString()+`","update_interval":"60","metadata":[1]}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "BAD_REQUEST", errorCode(body))
}

func TestGetSchedule(t *testing.T) {
	schedules := newFakeSchedules()
	s := &domain.Schedule{ID: uuid.New(), OwnerID: uuid.New(), UpdateInterval: 90 * time.Second, Metadata: json.RawMessage(`{}`)}
	schedules.add(s)
	srv := newTestServer(t, schedules, newFakeWorkflows(), nil)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/schedules/"+s.ID.String(), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, s.ID.String(), body["data"].(map[string]any)["id"])

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/schedules/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(body))

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/schedules/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListSchedules(t *testing.T) {
	schedules := newFakeSchedules()
	owner := uuid.New()
	schedules.add(&domain.Schedule{ID: uuid.New(), OwnerID: owner, UpdateInterval: time.Minute})
	schedules.add(&domain.Schedule{ID: uuid.New(), OwnerID: uuid.New(), UpdateInterval: time.Minute})
	srv := newTestServer(t, schedules, newFakeWorkflows(), nil)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/schedules?owner_id="+owner.String()+"&limit=10000&offset=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"], 1)
	assert.Equal(t, 500, schedules.filter.Limit)
	assert.Equal(t, 2, schedules.filter.Offset)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/schedules", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateSchedule(t *testing.T) {
	schedules := newFakeSchedules()
	s := &domain.Schedule{ID: uuid.New(), UpdateInterval: time.Minute, Metadata: json.RawMessage(`{}`)}
	schedules.add(s)
	srv := newTestServer(t, schedules, newFakeWorkflows(), nil)

	resp, body := do(t, http.MethodPatch, srv.URL+"/api/v1/schedules/"+s.ID.String(), `{"update_interval":"90s"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, schedules.lastUpd.UpdateInterval)
	assert.Equal(t, 90*time.Second, *schedules.lastUpd.UpdateInterval)
	assert.Nil(t, schedules.lastUpd.Metadata)
	assert.Equal(t, float64(90), body["data"].(map[string]any)["update_interval_seconds"])

	resp, _ = do(t, http.MethodPatch, srv.URL+"/api/v1/schedules/"+s.ID.String(), `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPatch, srv.URL+"/api/v1/schedules/"+uuid.NewString(), `{"metadata":{"a":1}}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteSchedule(t *testing.T) {
	schedules := newFakeSchedules()
	s := &domain.Schedule{ID: uuid.New()}
	schedules.add(s)
	srv := newTestServer(t, schedules, newFakeWorkflows(), nil)

	resp, _ := do(t, http.MethodDelete, srv.URL+"/api/v1/schedules/"+s.ID.String(), "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestDeleteOwnerSchedules(t *testing.T) {
	schedules := newFakeSchedules()
	schedules.ownerDels = 4
	srv := newTestServer(t, schedules, newFakeWorkflows(), nil)

	resp, body := do(t, http.MethodDelete, srv.URL+"/api/v1/owners/"+uuid.NewString()+"/schedules", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(4), body["data"].(map[string]any)["deleted"])
}

func TestRepoErrorStatuses(t *testing.T) {
	tests := []struct {
		kind   error
		status int
		code   string
	}{
		{repo.ErrTimeout, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{repo.ErrConnection, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{repo.ErrAlreadyExists, http.StatusConflict, "CONFLICT"},
		{repo.ErrQuery, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.kind.Error(), func(t *testing.T) {
			schedules := newFakeSchedules()
			schedules.err = &repo.OpError{Op: "get schedule", Kind: tt.kind}
			srv := newTestServer(t, schedules, newFakeWorkflows(), nil)

			resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/schedules/"+uuid.NewString(), "")
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, errorCode(body))
		})
	}
}

func TestWorkflowLifecycle(t *testing.T) {
	workflows := newFakeWorkflows()
	srv := newTestServer(t, newFakeSchedules(), workflows, nil)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/workflows", `{"display_name":"nightly report"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["data"].(map[string]any)["id"].(string)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/workflows/"+id, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s1, s2 := uuid.New(), uuid.New()
	resp, body = do(t, http.MethodPut, srv.URL+"/api/v1/workflows/"+id+"/schedules",
		`{"schedule_ids":["`+s1.String()+`","`+s2.String()+`"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []uuid.UUID{s1, s2}, workflows.replaced)
	assert.Len(t, body["data"], 2)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/workflows/"+id+"/schedules", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"], 2)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/v1/workflows/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestCreateWorkflow_Validation(t *testing.T) {
	srv := newTestServer(t, newFakeSchedules(), newFakeWorkflows(), nil)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/workflows", `{"display_name":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"].(map[string]any)["message"], "display_name is required")
}

func TestReplaceWorkflowSchedules_Errors(t *testing.T) {
	workflows := newFakeWorkflows()
	wf, _ := workflows.Create(context.Background(), "wf")
	srv := newTestServer(t, newFakeSchedules(), workflows, nil)

	resp, body := do(t, http.MethodPut, srv.URL+"/api/v1/workflows/"+wf.ID.String()+"/schedules", `{"schedule_ids":["bad"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"].(map[string]any)["message"], "schedule_ids[0] must be a UUID")

	missing := uuid.New()
	workflows.err = &repo.OpError{Op: "replace workflow schedules", ID: missing, Kind: repo.ErrNotFound}
	resp, body = do(t, http.MethodPut, srv.URL+"/api/v1/workflows/"+wf.ID.String()+"/schedules", `{"schedule_ids":["`+missing.String()+`"]}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"].(map[string]any)["message"], missing.String())
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, newFakeSchedules(), newFakeWorkflows(), func(context.Context) error { return nil })
	resp, _ := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down := newTestServer(t, newFakeSchedules(), newFakeWorkflows(), func(context.Context) error { return errors.New("down") })
	resp, _ = do(t, http.MethodGet, down.URL+"/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
