package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/taskmirror/taskmirror/internal/analytics"
	"github.com/taskmirror/taskmirror/internal/syncengine"
	"github.com/taskmirror/taskmirror/internal/taskstore"
)

type scriptedSource struct {
	columns []taskstore.Column
	rows    []taskstore.Row
}

func (s *scriptedSource) ListSchema(ctx context.Context) ([]taskstore.Column, error) {
	return s.columns, nil
}

func (s *scriptedSource) ListRecords(ctx context.Context, since time.Time, cursor string) (syncengine.SourcePage, error) {
	return syncengine.SourcePage{Rows: s.rows}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *syncengine.Engine, *taskstore.Store) {
	t.Helper()
	store := taskstore.NewStore()
	source := &scriptedSource{
		columns: []taskstore.Column{
			{Key: "name", Label: "Name", Type: taskstore.TypeTitle},
			{Key: "status", Label: "Status", Type: taskstore.TypeString},
			{Key: "due_date", Label: "Due Date", Type: taskstore.TypeDate},
		},
		rows: []taskstore.Row{
			{
				ExternalID:     "a",
				Workspace:      "Personal",
				Title:          "Write report",
				CreatedTime:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
				LastEditedTime: time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC),
				Properties: map[string]taskstore.Value{
					"status":   {Type: taskstore.TypeString, Text: "In Progress"},
					"due_date": {Type: taskstore.TypeDate, Text: "2024-03-10"},
				},
			},
			{
				ExternalID:     "b",
				Workspace:      "Personal",
				Title:          "Buy groceries",
				Completed:      true,
				CreatedTime:    time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC),
				LastEditedTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
				Properties: map[string]taskstore.Value{
					"status": {Type: taskstore.TypeString, Text: "Done"},
				},
			},
		},
	}
	engine, err := syncengine.NewEngine(syncengine.Options{Store: store, Source: source})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	server := NewServerWithConfig(store, engine, analytics.NewEngine(store), ServerConfig{
		StreamInterval: 10 * time.Millisecond,
	})
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return ts, engine, store
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func syncAndWait(t *testing.T, ts *httptest.Server, engine *syncengine.Engine) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/sync", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST /v1/sync failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("sync trigger status = %d", resp.StatusCode)
	}
	engine.Wait()
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t)
	var body map[string]string
	if status := getJSON(t, ts.URL+"/health", &body); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	ts, _, _ := newTestServer(t)
	var body map[string]any
	if status := getJSON(t, ts.URL+"/v1/nope", &body); status != http.StatusNotFound {
		t.Fatalf("status = %d", status)
	}
	if body["code"] != "not_found" {
		t.Fatalf("body = %v", body)
	}
}

func TestSyncStatusLifecycle(t *testing.T) {
	ts, engine, store := newTestServer(t)

	var idle syncengine.Run
	getJSON(t, ts.URL+"/v1/sync/status", &idle)
	if idle.Status != syncengine.StatusIdle {
		t.Fatalf("initial status = %+v", idle)
	}

	syncAndWait(t, ts, engine)

	var done syncengine.Run
	getJSON(t, ts.URL+"/v1/sync/status", &done)
	if done.Status != syncengine.StatusCompleted || done.Result == nil || !done.Result.OK {
		t.Fatalf("final status = %+v", done)
	}
	if done.Mode != syncengine.ModeFull {
		t.Fatalf("first sync mode = %q", done.Mode)
	}
	if store.Count() != 2 {
		t.Fatalf("store has %d rows", store.Count())
	}
}

func TestColumnsAfterSync(t *testing.T) {
	ts, engine, _ := newTestServer(t)
	syncAndWait(t, ts, engine)

	var body struct {
		Columns []taskstore.Column `json:"columns"`
	}
	getJSON(t, ts.URL+"/v1/columns", &body)
	if len(body.Columns) != 3 || body.Columns[0].Key != "name" {
		t.Fatalf("columns = %+v", body.Columns)
	}
}

func TestRowsEndpoint(t *testing.T) {
	ts, engine, _ := newTestServer(t)
	syncAndWait(t, ts, engine)

	var result taskstore.QueryResult
	filters := url.QueryEscape(`{"status":"done"}`)
	status := getJSON(t, ts.URL+"/v1/rows?filters="+filters, &result)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if result.Total != 1 || len(result.Items) != 1 || result.Items[0].ExternalID != "b" {
		t.Fatalf("result = %+v", result)
	}
}

func TestRowsRejectsBadPaginationAndFilters(t *testing.T) {
	ts, _, _ := newTestServer(t)
	cases := []string{
		"/v1/rows?limit=0",
		"/v1/rows?limit=-5",
		"/v1/rows?limit=abc",
		"/v1/rows?offset=-1",
		"/v1/rows?sort=status:sideways",
		"/v1/rows?filters=" + url.QueryEscape(`{broken`),
		"/v1/rows?filters=" + url.QueryEscape(`["not","an","object"]`),
		"/v1/rows?filters=" + url.QueryEscape(`{"due":{"between":["a","b"]}}`),
	}
	for _, path := range cases {
		var body map[string]any
		if status := getJSON(t, ts.URL+path, &body); status != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", path, status)
		}
		if body["code"] != "bad_request" {
			t.Fatalf("%s: body = %v", path, body)
		}
	}
}

func TestRowsLimitIsCapped(t *testing.T) {
	ts, _, _ := newTestServer(t)
	var result taskstore.QueryResult
	if status := getJSON(t, ts.URL+"/v1/rows?limit=99999", &result); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if result.Limit != taskstore.MaxLimit {
		t.Fatalf("limit = %d, want %d", result.Limit, taskstore.MaxLimit)
	}
}

func TestTodosAndFiltersEndpoints(t *testing.T) {
	ts, engine, _ := newTestServer(t)
	syncAndWait(t, ts, engine)

	var todos struct {
		Items []taskstore.Todo `json:"items"`
		Total int              `json:"total"`
	}
	getJSON(t, ts.URL+"/v1/todos?status=in+progress", &todos)
	if todos.Total != 1 || todos.Items[0].ID != "a" {
		t.Fatalf("todos = %+v", todos)
	}

	var values taskstore.FilterValues
	getJSON(t, ts.URL+"/v1/filters", &values)
	if len(values.Statuses) != 2 {
		t.Fatalf("filter values = %+v", values)
	}
}

func TestDashboardStatsEndpoint(t *testing.T) {
	ts, engine, _ := newTestServer(t)
	syncAndWait(t, ts, engine)

	var stats analytics.Stats
	getJSON(t, ts.URL+"/v1/dashboard-stats", &stats)
	if stats.Summary.Open != 1 || stats.Summary.Completed != 1 {
		t.Fatalf("summary = %+v", stats.Summary)
	}
	if stats.DailyFlow["2024-03-01"].Created != 2 {
		t.Fatalf("daily flow = %+v", stats.DailyFlow)
	}
}

func TestDashboardServesHTML(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type = %q", ct)
	}
}

func TestSyncStatusStream(t *testing.T) {
	ts, engine, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sync/status/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var first syncengine.Run
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if first.Status != syncengine.StatusIdle {
		t.Fatalf("initial snapshot = %+v", first)
	}

	engine.Trigger(false)

	sawTerminal := false
	for !sawTerminal {
		var run syncengine.Run
		if err := wsjson.Read(ctx, conn, &run); err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
		if run.Terminal() {
			if run.Status != syncengine.StatusCompleted {
				t.Fatalf("terminal snapshot = %+v", run)
			}
			sawTerminal = true
		}
	}
}
