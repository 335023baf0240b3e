package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

// newTestServer отвечает status/body на любой запрос и запоминает последний.
func newTestServer(t *testing.T, status int, body string) (*Client, *recordedRequest) {
	t.Helper()

	rec := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		*rec = recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: b}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	return NewClient(srv.URL + "/"), rec
}

const scheduleJSON = `{
	"id": "11111111-1111-1111-1111-111111111111",
	"owner_id": "22222222-2222-2222-2222-222222222222",
	"update_interval": "5m0s",
	"update_interval_seconds": 300,
	"metadata": {"action": "log"},
	"due_at": "2026-01-01T00:05:00Z",
	"created_at": "2026-01-01T00:00:00Z",
	"updated_at": "2026-01-01T00:00:00Z"
}`

func TestClient_CreateSchedule(t *testing.T) {
	client, rec := newTestServer(t, http.StatusCreated, `{"data":`+scheduleJSON+`}`)

	s, err := client.CreateSchedule(CreateScheduleRequest{
		OwnerID:        "22222222-2222-2222-2222-222222222222",
		UpdateInterval: "5m",
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, rec.Method)
	assert.Equal(t, "/api/v1/schedules", rec.Path)
	assert.JSONEq(t, `{"owner_id":"22222222-2222-2222-2222-222222222222","update_interval":"5m"}`, string(rec.Body))

	assert.Equal(t, "11111111-1111-1111-1111-111111111111", s.ID)
	assert.Equal(t, 300, s.UpdateIntervalSeconds)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC), s.DueAt.UTC())
	assert.JSONEq(t, `{"action":"log"}`, string(s.Metadata))
}

func TestClient_ListSchedules(t *testing.T) {
	client, rec := newTestServer(t, http.StatusOK, `{"data":[`+scheduleJSON+`],"total":1}`)

	list, err := client.ListSchedules("22222222-2222-2222-2222-222222222222", 10, 20)
	require.NoError(t, err)
	require.Len(t, list, 1)

	assert.Equal(t, http.MethodGet, rec.Method)
	assert.Equal(t, "limit=10&offset=20&owner_id=22222222-2222-2222-2222-222222222222", rec.Query)
}

func TestClient_UpdateScheduleUsesPatch(t *testing.T) {
	client, rec := newTestServer(t, http.StatusOK, `{"data":`+scheduleJSON+`}`)

	interval := "@hourly"
	_, err := client.UpdateSchedule("11111111-1111-1111-1111-111111111111", UpdateScheduleRequest{UpdateInterval: &interval})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPatch, rec.Method)
	assert.Equal(t, "/api/v1/schedules/11111111-1111-1111-1111-111111111111", rec.Path)
	assert.JSONEq(t, `{"update_interval":"@hourly"}`, string(rec.Body))
}

func TestClient_DeleteSchedule_NoContent(t *testing.T) {
	client, rec := newTestServer(t, http.StatusNoContent, "")

	require.NoError(t, client.DeleteSchedule("abc"))
	assert.Equal(t, http.MethodDelete, rec.Method)
	assert.Equal(t, "/api/v1/schedules/abc", rec.Path)
}

func TestClient_DeleteOwnerSchedules(t *testing.T) {
	client, rec := newTestServer(t, http.StatusOK, `{"data":{"deleted":3}}`)

	n, err := client.DeleteOwnerSchedules("owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, "/api/v1/owners/owner-1/schedules", rec.Path)
}

func TestClient_ReplaceWorkflowSchedules(t *testing.T) {
	client, rec := newTestServer(t, http.StatusOK, `{"data":[`+scheduleJSON+`],"total":1}`)

	list, err := client.ReplaceWorkflowSchedules("wf-1", nil)
	require.NoError(t, err)
	require.Len(t, list, 1)

	assert.Equal(t, http.MethodPut, rec.Method)
	assert.Equal(t, "/api/v1/workflows/wf-1/schedules", rec.Path)
	// nil превращается в пустой массив: сервер трактует его как "отвязать всё".
	assert.JSONEq(t, `{"schedule_ids":[]}`, string(rec.Body))
}

func TestClient_APIError(t *testing.T) {
	client, _ := newTestServer(t, http.StatusNotFound, `{"error":{"code":"NOT_FOUND","message":"schedule not found"}}`)

	_, err := client.GetSchedule("missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.EqualError(t, err, "NOT_FOUND: schedule not found")
}

func TestClient_APIError_NonJSONBody(t *testing.T) {
	client, _ := newTestServer(t, http.StatusBadGateway, "bad gateway")

	_, err := client.GetWorkflow("x")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.EqualError(t, err, "API error: HTTP 502")
	assert.False(t, IsNotFound(err))
}

func TestBuildMetadata(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		meta, err := buildMetadata("", nil)
		require.NoError(t, err)
		assert.Nil(t, meta)
	})

	t.Run("set overrides json", func(t *testing.T) {
		meta, err := buildMetadata(`{"action":"log","n":1}`, []string{"action=http", "url=http://x/y?a=b"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"action":"http","n":1,"url":"http://x/y?a=b"}`, string(meta))
	})

	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "meta.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"k":"v"}`), 0o600))

		meta, err := buildMetadata("@"+path, nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"k":"v"}`, string(meta))
	})

	t.Run("not an object", func(t *testing.T) {
		_, err := buildMetadata(`[1,2]`, nil)
		assert.Error(t, err)
	})

	t.Run("bad set", func(t *testing.T) {
		_, err := buildMetadata("", []string{"novalue"})
		assert.Error(t, err)
	})
}

func TestOutput_Print(t *testing.T) {
	var stdout, stderr bytes.Buffer

	out := NewOutputTo(false, &stdout, &stderr)
	require.NoError(t, out.Print([]string{"ID", "NAME"}, [][]string{{"1", "alpha"}}, nil))
	assert.Contains(t, stdout.String(), "ID  NAME")
	assert.Contains(t, stdout.String(), "--  ----")
	assert.Contains(t, stdout.String(), "1   alpha")

	stdout.Reset()
	out = NewOutputTo(true, &stdout, &stderr)
	require.NoError(t, out.Print(nil, nil, map[string]int{"n": 1}))

	var decoded map[string]int
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &decoded))
	assert.Equal(t, 1, decoded["n"])

	out.Success("done")
	assert.Equal(t, "done\n", stderr.String())
}

func TestScheduleCmd_CreateEndToEnd(t *testing.T) {
	client, rec := newTestServer(t, http.StatusCreated, `{"data":`+scheduleJSON+`}`)

	var stdout, stderr bytes.Buffer
	cmd := NewScheduleCmd(
		func() *Client { return client },
		func() *Output { return NewOutputTo(true, &stdout, &stderr) },
	)
	cmd.SetArgs([]string{"create", "--owner", "22222222-2222-2222-2222-222222222222", "--interval", "300", "--set", "action=log"})
	cmd.SetOut(io.Discard)

	require.NoError(t, cmd.Execute())
	assert.JSONEq(t,
		`{"owner_id":"22222222-2222-2222-2222-222222222222","update_interval":"300","metadata":{"action":"log"}}`,
		string(rec.Body),
	)

	var got ScheduleResponse
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", got.ID)
}

func TestWorkflowLinkCmd_Args(t *testing.T) {
	client, _ := newTestServer(t, http.StatusOK, `{"data":[],"total":0}`)

	newCmd := func(args ...string) error {
		cmd := NewWorkflowCmd(
			func() *Client { return client },
			func() *Output { return NewOutputTo(false, io.Discard, io.Discard) },
		)
		cmd.SetArgs(args)
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		return cmd.Execute()
	}

	assert.Error(t, newCmd("link", "wf-1"))
	assert.Error(t, newCmd("link", "wf-1", "s-1", "--clear"))
	assert.NoError(t, newCmd("link", "wf-1", "--clear"))
	assert.NoError(t, newCmd("link", "wf-1", "s-1", "s-2"))
}
