package taskstore

import (
	"errors"
	"testing"
	"time"
)

func seedQueryStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := []Row{
		{
			ExternalID:     "a",
			Workspace:      "Personal",
			Title:          "Write report",
			CreatedTime:    base,
			LastEditedTime: base.Add(3 * time.Hour),
			Properties: map[string]Value{
				"status":   {Type: TypeString, Text: "In Progress"},
				"priority": {Type: TypeNumber, Number: 2},
				"due_date": {Type: TypeDate, Text: "2024-03-10"},
				"tags":     {Type: TypeList, List: []string{"work", "writing"}},
			},
		},
		{
			ExternalID:     "b",
			Workspace:      "Personal",
			Title:          "Buy groceries",
			CreatedTime:    base,
			LastEditedTime: base.Add(time.Hour),
			Properties: map[string]Value{
				"status":   {Type: TypeString, Text: "Done"},
				"priority": {Type: TypeNumber, Number: 1},
				"due_date": {Type: TypeDate, Text: "2024-03-02"},
			},
		},
		{
			ExternalID:     "c",
			Workspace:      "Work",
			Title:          "Plan sprint",
			CreatedTime:    base,
			LastEditedTime: base.Add(2 * time.Hour),
			Properties: map[string]Value{
				"status": {Type: TypeString, Text: "todo"},
				"tags":   {Type: TypeList, List: []string{"work"}},
			},
		},
	}
	if _, err := s.Upsert(rows); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}
	return s
}

func queryIDs(t *testing.T, s *Store, req QueryRequest) []string {
	t.Helper()
	if req.Limit == 0 {
		req.Limit = DefaultLimit
	}
	result, err := s.Query(req)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	ids := make([]string, 0, len(result.Items))
	for _, row := range result.Items {
		ids = append(ids, row.ExternalID)
	}
	return ids
}

func TestQueryDefaultSortIsNewestEditFirst(t *testing.T) {
	s := seedQueryStore(t)
	ids := queryIDs(t, s, QueryRequest{})
	want := []string{"a", "c", "b"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}

func TestQueryTextSearchSpansTitleAndProperties(t *testing.T) {
	s := seedQueryStore(t)

	if ids := queryIDs(t, s, QueryRequest{Text: "groceries"}); len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("title search = %v", ids)
	}
	// "writing" lives only in a's list property.
	if ids := queryIDs(t, s, QueryRequest{Text: "WRITING"}); len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("property search = %v", ids)
	}
}

func TestQueryScalarFilterIsCaseInsensitive(t *testing.T) {
	s := seedQueryStore(t)
	ids := queryIDs(t, s, QueryRequest{Filters: map[string]any{"status": "done"}})
	if len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("filter = %v", ids)
	}
}

func TestQueryListFilterMatchesMembership(t *testing.T) {
	s := seedQueryStore(t)
	ids := queryIDs(t, s, QueryRequest{Filters: map[string]any{"tags": "work"}, Sort: "external_id:asc"})
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Fatalf("list filter = %v", ids)
	}
}

func TestQueryInFilter(t *testing.T) {
	s := seedQueryStore(t)
	ids := queryIDs(t, s, QueryRequest{
		Filters: map[string]any{"status": []any{"Done", "todo"}},
		Sort:    "external_id:asc",
	})
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "c" {
		t.Fatalf("in filter = %v", ids)
	}
}

func TestQueryRangeFilter(t *testing.T) {
	s := seedQueryStore(t)
	ids := queryIDs(t, s, QueryRequest{
		Filters: map[string]any{"due_date": map[string]any{"from": "2024-03-05"}},
	})
	if len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("range filter = %v", ids)
	}

	ids = queryIDs(t, s, QueryRequest{
		Filters: map[string]any{"priority": map[string]any{"from": float64(1), "to": float64(1)}},
	})
	if len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("numeric range filter = %v", ids)
	}
}

func TestQueryUnknownFilterKeyMatchesNothing(t *testing.T) {
	s := seedQueryStore(t)
	if ids := queryIDs(t, s, QueryRequest{Filters: map[string]any{"nope": "x"}}); len(ids) != 0 {
		t.Fatalf("unknown key matched rows: %v", ids)
	}
}

func TestQueryMissingSortValuesOrderLast(t *testing.T) {
	s := seedQueryStore(t)
	ids := queryIDs(t, s, QueryRequest{Sort: "due_date:asc"})
	if len(ids) != 3 || ids[0] != "b" || ids[1] != "a" || ids[2] != "c" {
		t.Fatalf("sort = %v", ids)
	}
}

func TestQueryPagination(t *testing.T) {
	s := seedQueryStore(t)
	result, err := s.Query(QueryRequest{Sort: "external_id:asc", Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if result.Total != 3 {
		t.Fatalf("total = %d, want 3", result.Total)
	}
	if len(result.Items) != 1 || result.Items[0].ExternalID != "c" {
		t.Fatalf("page = %+v", result.Items)
	}

	// Offset past the end yields an empty page, not an error.
	result, err = s.Query(QueryRequest{Limit: 2, Offset: 99})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(result.Items) != 0 || result.Total != 3 {
		t.Fatalf("overrun page = %+v", result)
	}
}

func TestQueryRejectsBadInput(t *testing.T) {
	s := seedQueryStore(t)
	cases := []QueryRequest{
		{Limit: 0},
		{Limit: -1},
		{Limit: 10, Offset: -1},
		{Limit: 10, Sort: "status:sideways"},
		{Limit: 10, Sort: ":asc"},
	}
	for _, req := range cases {
		if _, err := s.Query(req); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("req %+v: expected ErrInvalidInput, got %v", req, err)
		}
	}
}
