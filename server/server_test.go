package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/trellis/action"
	"github.com/teranos/trellis/config"
	"github.com/teranos/trellis/cron"
	"github.com/teranos/trellis/dedup"
	"github.com/teranos/trellis/delay"
	"github.com/teranos/trellis/engine"
	"github.com/teranos/trellis/event"
	trellistesting "github.com/teranos/trellis/internal/testing"
	"github.com/teranos/trellis/rules"
	"github.com/teranos/trellis/source"
)

type captureDeliverer struct {
	intents []action.Intent
}

func (d *captureDeliverer) Deliver(ctx context.Context, intent action.Intent) error {
	d.intents = append(d.intents, intent)
	return nil
}

type fixture struct {
	server    *httptest.Server
	fake      *source.Fake
	deliverer *captureDeliverer
	tasks     *delay.Store
	jobs      *cron.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := trellistesting.CreateTestDB(t)
	fake := source.NewFake()
	deliverer := &captureDeliverer{}

	runLog := action.NewRunLogStore(db)
	deadLetters := action.NewDeadLetterStore(db)
	tasks := delay.NewStore(db)
	jobs := cron.NewStore(db)

	executor := action.NewExecutor(deliverer, fake, tasks, runLog, deadLetters, nil, zap.NewNop().Sugar())
	matcher := rules.NewMatcher(rules.StaticProvider{
		{
			ID:      "notify-on-done",
			TableID: "tasks",
			Trigger: event.TypeFieldChanged,
			Conditions: []rules.Condition{
				{Field: "status", Op: rules.OpEq, Value: "done"},
			},
			Action: action.Spec{Type: action.SpecNotify, Params: map[string]string{"channel": "ops"}},
		},
	})
	guard := dedup.NewSQLiteGuard(db, 5*time.Minute)
	eng := engine.New(engine.Config{DedupWindow: 5 * time.Minute, MaxAttempts: 1}, guard, fake, matcher, executor, nil, zap.NewNop().Sugar())

	srv := New(
		config.ServerConfig{Port: 0, VerificationToken: "hook-token", APIKey: "secret-key"},
		eng, tasks, jobs, runLog, deadLetters, false, zap.NewNop().Sugar(),
	)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &fixture{server: ts, fake: fake, deliverer: deliverer, tasks: tasks, jobs: jobs}
}

func (f *fixture) do(t *testing.T, method, path string, body any, apiKey bool) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if apiKey {
		req.Header.Set("X-API-Key", "secret-key")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestWebhookURLVerification(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/webhook/table-events",
		map[string]string{"type": "url_verification", "challenge": "echo-me"}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]string](t, resp)
	assert.Equal(t, "echo-me", body["challenge"])
}

func TestWebhookRejectsBadToken(t *testing.T) {
	f := newFixture(t)

	envelope := map[string]any{
		"type":  "event_callback",
		"token": "wrong",
		"event": map[string]any{
			"kind": "field.changed", "table_id": "tasks", "record_id": "rec1",
		},
	}
	resp := f.do(t, http.MethodPost, "/webhook/table-events", envelope, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhookProcessesEvent(t *testing.T) {
	f := newFixture(t)
	f.fake.SetRecord("tasks", "rec1", map[string]string{"status": "done"}, time.Now())

	envelope := map[string]any{
		"type":  "event_callback",
		"token": "hook-token",
		"event": map[string]any{
			"kind": "field.changed", "table_id": "tasks", "record_id": "rec1",
			"fields": []string{"status"},
		},
	}
	resp := f.do(t, http.MethodPost, "/webhook/table-events", envelope, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, f.deliverer.intents, 1)
	assert.Equal(t, "notify-on-done", f.deliverer.intents[0].RuleID)
}

func TestWebhookAcknowledgesUnknownKind(t *testing.T) {
	f := newFixture(t)

	envelope := map[string]any{
		"type":  "event_callback",
		"token": "hook-token",
		"event": map[string]any{
			"kind": "table.renamed", "table_id": "tasks", "record_id": "rec1",
		},
	}
	resp := f.do(t, http.MethodPost, "/webhook/table-events", envelope, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, f.deliverer.intents)
}

func TestWebhookStatusCodes(t *testing.T) {
	f := newFixture(t)

	// Malformed JSON.
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/webhook/table-events",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Missing record_id.
	envelope := map[string]any{
		"type":  "event_callback",
		"token": "hook-token",
		"event": map[string]any{"kind": "field.changed", "table_id": "tasks"},
	}
	resp = f.do(t, http.MethodPost, "/webhook/table-events", envelope, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Upstream down while fetching current fields.
	f.fake.FailTable("tasks", fmt.Errorf("connection refused"))
	envelope["event"] = map[string]any{
		"kind": "field.changed", "table_id": "tasks", "record_id": "rec1",
	}
	resp = f.do(t, http.MethodPost, "/webhook/table-events", envelope, false)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestAPIRequiresKey(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/tasks", nil, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/tasks", nil, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTaskEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.tasks.Create(ctx, time.Now().AddDate(0, 0, 1), 1, "rec1",
		action.Spec{Type: action.SpecNotify})
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/api/v1/tasks?status=scheduled", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[map[string][]delay.Task](t, resp)
	require.Len(t, list["tasks"], 1)

	resp = f.do(t, http.MethodGet, "/api/v1/tasks/"+id, nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	task := decode[delay.Task](t, resp)
	assert.Equal(t, "rec1", task.Target)

	resp = f.do(t, http.MethodDelete, "/api/v1/tasks/"+id, nil, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Cancelling twice reports not found.
	resp = f.do(t, http.MethodDelete, "/api/v1/tasks/"+id, nil, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobEndpoints(t *testing.T) {
	f := newFixture(t)

	// Free-text schedule resolves to a cron expression at creation.
	resp := f.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{
		"schedule_text": "every day at 9am",
		"action":        map[string]any{"type": "notify", "params": map[string]string{"channel": "ops"}},
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	job := decode[cron.Job](t, resp)
	assert.Equal(t, "0 9 * * *", job.CronExpr)

	resp = f.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{
		"schedule_text": "whenever convenient",
		"action":        map[string]any{"type": "notify"},
	}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{
		"cron_expr": "not cron",
		"action":    map[string]any{"type": "notify"},
	}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPatch, "/api/v1/jobs/"+job.ID,
		map[string]string{"status": "paused"}, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/v1/jobs/"+job.ID, nil, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Deleted is terminal, so a second delete is a 404.
	resp = f.do(t, http.MethodDelete, "/api/v1/jobs/"+job.ID, nil, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunLogAndDeadLetterEndpoints(t *testing.T) {
	f := newFixture(t)
	f.fake.SetRecord("tasks", "rec1", map[string]string{"status": "done"}, time.Now())

	envelope := map[string]any{
		"type":  "event_callback",
		"token": "hook-token",
		"event": map[string]any{
			"kind": "field.changed", "table_id": "tasks", "record_id": "rec1",
			"fields": []string{"status"},
		},
	}
	resp := f.do(t, http.MethodPost, "/webhook/table-events", envelope, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/runlog", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[map[string][]action.LogEntry](t, resp)
	assert.Len(t, entries["entries"], 1)

	resp = f.do(t, http.MethodGet, "/api/v1/deadletters", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	letters := decode[map[string][]action.LogEntry](t, resp)
	assert.Empty(t, letters["entries"])
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
