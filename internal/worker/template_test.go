package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJob(metadata string) Job {
	return Job{
		WorkflowID: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		ScheduleID: uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		OwnerID:    uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		Metadata:   json.RawMessage(metadata),
		DueAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		ClaimedAt:  time.Date(2026, 3, 1, 10, 0, 2, 0, time.UTC),
	}
}

func TestRender(t *testing.T) {
	data := newTemplateData(testJob(`{"name":"Report","empty":""}`))

	tests := []struct {
		tmpl string
		want string
	}{
		{"plain", "plain"},
		{"/hooks/{{ .ScheduleID }}", "/hooks/22222222-2222-2222-2222-222222222222"},
		{"{{ .Metadata.name | lower }}", "report"},
		{`{{ default "x" .Metadata.empty }}`, "x"},
		{"{{ rfc3339 .DueAt }}", "2026-03-01T10:00:00Z"},
		{"{{ unix .ClaimedAt }}", "1772359202"},
		{`{{ json .Metadata.name }}`, `"Report"`},
	}
	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			got, err := render(tt.tmpl, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_Errors(t *testing.T) {
	data := newTemplateData(testJob(`{}`))

	_, err := render("{{ .Nope", data)
	assert.ErrorIs(t, err, ErrTemplate)

	_, err = render("{{ .Unknown }}", data)
	assert.ErrorIs(t, err, ErrTemplate)
}

func TestRenderConfig_KeepsActionAndNested(t *testing.T) {
	job := testJob(`{"action":"{{ literal }}","body":{"ids":["{{ .WorkflowID }}"],"n":3}}`)

	cfg, err := renderConfig(job.config(), newTemplateData(job))
	require.NoError(t, err)

	assert.Equal(t, "{{ literal }}", cfg["action"])
	body := cfg["body"].(map[string]any)
	assert.Equal(t, []any{"11111111-1111-1111-1111-111111111111"}, body["ids"])
	assert.Equal(t, float64(3), body["n"])
}

func TestHTTPExecutor_TemplatedRequest(t *testing.T) {
	var gotPath, gotHeader string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("X-Owner")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	job := testJob(`{
		"action": "http",
		"url": "` + server.URL + `/run/{{ .ScheduleID }}",
		"headers": {"X-Owner": "{{ .OwnerID }}"},
		"body": {"due": "{{ rfc3339 .DueAt }}"}
	}`)

	require.NoError(t, NewHTTPExecutor().Execute(context.Background(), job))
	assert.Equal(t, "/run/22222222-2222-2222-2222-222222222222", gotPath)
	assert.Equal(t, "33333333-3333-3333-3333-333333333333", gotHeader)
	assert.JSONEq(t, `{"due":"2026-03-01T10:00:00Z"}`, string(gotBody))
}

func TestHTTPExecutor_BadTemplateIsPermanent(t *testing.T) {
	job := testJob(`{"action":"http","url":"http://localhost/{{ .Broken"}`)

	err := NewHTTPExecutor().Execute(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermanent)
	assert.ErrorIs(t, err, ErrTemplate)
}
