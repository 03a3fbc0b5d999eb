package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/taskmirror/taskmirror/internal/analytics"
	"github.com/taskmirror/taskmirror/internal/syncengine"
	"github.com/taskmirror/taskmirror/internal/taskstore"
)

type ServerConfig struct {
	MaxBodyBytes int64
	// StreamInterval is the push cadence of the status websocket.
	StreamInterval time.Duration
}

type Server struct {
	store  *taskstore.Store
	engine *syncengine.Engine
	stats  *analytics.Engine
	cfg    ServerConfig
}

// filtersSchemaJSON constrains the filters query parameter: a flat object
// whose values are scalars, scalar lists, or {"from","to"} range objects.
const filtersSchemaJSON = `{
	"type": "object",
	"additionalProperties": {
		"anyOf": [
			{"type": "string"},
			{"type": "number"},
			{"type": "boolean"},
			{
				"type": "array",
				"items": {"type": ["string", "number", "boolean"]}
			},
			{
				"type": "object",
				"properties": {
					"from": {"type": ["string", "number"]},
					"to": {"type": ["string", "number"]}
				},
				"additionalProperties": false
			}
		]
	}
}`

var filtersSchema = mustCompileFiltersSchema()

func mustCompileFiltersSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(filtersSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid filters schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("filters.json", doc); err != nil {
		panic(fmt.Sprintf("invalid filters schema: %v", err))
	}
	schema, err := compiler.Compile("filters.json")
	if err != nil {
		panic(fmt.Sprintf("invalid filters schema: %v", err))
	}
	return schema
}

func NewServer(store *taskstore.Store, engine *syncengine.Engine, stats *analytics.Engine) *Server {
	return NewServerWithConfig(store, engine, stats, ServerConfig{})
}

func NewServerWithConfig(store *taskstore.Store, engine *syncengine.Engine, stats *analytics.Engine, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = 500 * time.Millisecond
	}
	return &Server{store: store, engine: engine, stats: stats, cfg: cfg}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/" && r.Method == http.MethodGet:
		s.handleDashboard(w, r)
	case r.URL.Path == "/v1/columns" && r.Method == http.MethodGet:
		s.handleColumns(w, r)
	case r.URL.Path == "/v1/rows" && r.Method == http.MethodGet:
		s.handleRows(w, r)
	case r.URL.Path == "/v1/sync" && r.Method == http.MethodPost:
		s.handleSyncTrigger(w, r)
	case r.URL.Path == "/v1/sync/status" && r.Method == http.MethodGet:
		s.handleSyncStatus(w, r)
	case r.URL.Path == "/v1/sync/status/stream" && r.Method == http.MethodGet:
		s.handleSyncStatusStream(w, r)
	case r.URL.Path == "/v1/dashboard-stats" && r.Method == http.MethodGet:
		s.handleDashboardStats(w, r)
	case r.URL.Path == "/v1/todos" && r.Method == http.MethodGet:
		s.handleTodos(w, r)
	case r.URL.Path == "/v1/filters" && r.Method == http.MethodGet:
		s.handleFilters(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"columns": s.store.ListColumns()})
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, ok := parseLimit(w, query.Get("limit"))
	if !ok {
		return
	}
	offset, ok := parseOffset(w, query.Get("offset"))
	if !ok {
		return
	}
	filters, ok := parseFilters(w, query.Get("filters"))
	if !ok {
		return
	}

	result, err := s.store.Query(taskstore.QueryRequest{
		Text:    query.Get("q"),
		Filters: filters,
		Sort:    query.Get("sort"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		if errors.Is(err, taskstore.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ForceFull bool `json:"force_full"`
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
			return
		}
	}
	run := s.engine.Trigger(req.ForceFull)
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Register().Get())
}

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.ComputeStats())
}

func (s *Server) handleTodos(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, ok := parseLimit(w, query.Get("limit"))
	if !ok {
		return
	}
	offset, ok := parseOffset(w, query.Get("offset"))
	if !ok {
		return
	}
	var statuses []string
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		statuses = strings.Split(raw, ",")
	}
	items, total, err := s.store.QueryTodos(taskstore.TodoQuery{
		Text:     query.Get("q"),
		Statuses: statuses,
		Project:  query.Get("project"),
		Area:     query.Get("area"),
		DueFrom:  query.Get("due_from"),
		DueTo:    query.Get("due_to"),
		Archived: query.Get("archived") == "1",
		Sort:     query.Get("sort"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		if errors.Is(err, taskstore.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ListFilterValues())
}

func parseLimit(w http.ResponseWriter, raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return taskstore.DefaultLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
		return 0, false
	}
	if limit > taskstore.MaxLimit {
		limit = taskstore.MaxLimit
	}
	return limit, true
}

func parseOffset(w http.ResponseWriter, raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	offset, err := strconv.Atoi(raw)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "offset must be a non-negative integer")
		return 0, false
	}
	return offset, true
}

func parseFilters(w http.ResponseWriter, raw string) (map[string]any, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "filters must be a json object")
		return nil, false
	}
	if err := filtersSchema.Validate(decoded); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid filters: %v", err))
		return nil, false
	}
	filters, ok := decoded.(map[string]any)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "filters must be a json object")
		return nil, false
	}
	return filters, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
