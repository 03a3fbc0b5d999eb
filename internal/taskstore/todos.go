package taskstore

import (
	"fmt"
	"sort"
	"strings"
)

// Todo is the legacy fixed-schema read shape kept for older widgets. It is a
// projection over the canonical dynamic rows, not a second dataset.
type Todo struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Status         string   `json:"status,omitempty"`
	DueDate        string   `json:"due_date,omitempty"`
	Project        string   `json:"project,omitempty"`
	Area           string   `json:"area,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	URL            string   `json:"url,omitempty"`
	Archived       bool     `json:"archived"`
	CreatedTime    string   `json:"created_time,omitempty"`
	LastEditedTime string   `json:"last_edited_time,omitempty"`
}

type TodoQuery struct {
	Text     string
	Statuses []string
	Project  string
	Area     string
	DueFrom  string
	DueTo    string
	Archived bool
	Sort     string
	Limit    int
	Offset   int
}

// FilterValues lists the distinct values the legacy filter widgets offer.
type FilterValues struct {
	Statuses []string `json:"statuses"`
	Projects []string `json:"projects"`
	Areas    []string `json:"areas"`
}

// Property-name conventions the typed projection recognizes, checked in
// order against the normalized column keys.
var (
	statusKeys  = []string{"status", "state"}
	dueKeys     = []string{"due", "due_date", "faellig"}
	projectKeys = []string{"project", "projekt"}
	areaKeys    = []string{"area", "team"}
	tagKeys     = []string{"tags", "labels"}
)

func projectTodo(row Row) Todo {
	todo := Todo{
		ID:       row.ExternalID,
		Title:    row.Title,
		URL:      row.URL,
		Archived: row.Archived,
	}
	if !row.CreatedTime.IsZero() {
		todo.CreatedTime = formatTimeRFC3339(row.CreatedTime)
	}
	if !row.LastEditedTime.IsZero() {
		todo.LastEditedTime = formatTimeRFC3339(row.LastEditedTime)
	}
	todo.Status = pickText(row, statusKeys, TypeString)
	todo.DueDate = pickText(row, dueKeys, TypeDate)
	todo.Project = pickText(row, projectKeys, TypeString)
	todo.Area = pickText(row, areaKeys, TypeString)
	todo.Tags = pickList(row, tagKeys)
	return todo
}

// pickText resolves a typed field: conventional keys first, then the first
// property of the wanted type, so unconventional layouts still surface a
// value instead of dropping the field.
func pickText(row Row, keys []string, wantType string) string {
	for _, key := range keys {
		if value, ok := row.Properties[key]; ok && value.Type == wantType && value.Text != "" {
			return value.Text
		}
	}
	for _, key := range sortedPropertyKeys(row) {
		value := row.Properties[key]
		if value.Type == wantType && value.Text != "" {
			return value.Text
		}
	}
	return ""
}

func pickList(row Row, keys []string) []string {
	for _, key := range keys {
		if value, ok := row.Properties[key]; ok && value.Type == TypeList && len(value.List) > 0 {
			out := make([]string, len(value.List))
			copy(out, value.List)
			return out
		}
	}
	for _, key := range sortedPropertyKeys(row) {
		value := row.Properties[key]
		if value.Type == TypeList && len(value.List) > 0 {
			out := make([]string, len(value.List))
			copy(out, value.List)
			return out
		}
	}
	return nil
}

func sortedPropertyKeys(row Row) []string {
	keys := make([]string, 0, len(row.Properties))
	for key := range row.Properties {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// QueryTodos serves the legacy todos listing over the canonical rows.
func (s *Store) QueryTodos(req TodoQuery) ([]Todo, int, error) {
	if req.Limit <= 0 {
		return nil, 0, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	if req.Offset < 0 {
		return nil, 0, fmt.Errorf("%w: offset must not be negative", ErrInvalidInput)
	}

	rows := s.Rows()
	todos := make([]Todo, 0, len(rows))
	for _, row := range rows {
		todo := projectTodo(row)
		if todo.Archived != req.Archived {
			continue
		}
		if !matchTodo(todo, req) {
			continue
		}
		todos = append(todos, todo)
	}
	sortTodos(todos, req.Sort)

	total := len(todos)
	start := req.Offset
	if start > total {
		start = total
	}
	end := start + req.Limit
	if end > total {
		end = total
	}
	return todos[start:end], total, nil
}

func matchTodo(todo Todo, req TodoQuery) bool {
	if text := strings.TrimSpace(req.Text); text != "" {
		needle := strings.ToLower(text)
		haystack := strings.ToLower(todo.Title + " " + todo.Project + " " + todo.Area + " " + strings.Join(todo.Tags, " "))
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	if len(req.Statuses) > 0 {
		found := false
		for _, status := range req.Statuses {
			if strings.EqualFold(todo.Status, strings.TrimSpace(status)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if req.Project != "" && !strings.EqualFold(todo.Project, req.Project) {
		return false
	}
	if req.Area != "" && !strings.EqualFold(todo.Area, req.Area) {
		return false
	}
	if req.DueFrom != "" && (todo.DueDate == "" || todo.DueDate < req.DueFrom) {
		return false
	}
	if req.DueTo != "" && (todo.DueDate == "" || todo.DueDate > req.DueTo) {
		return false
	}
	return true
}

func sortTodos(todos []Todo, sortKey string) {
	key := strings.ToLower(strings.TrimSpace(sortKey))
	if key == "" {
		key = "due_date_asc"
	}
	less := func(a, b Todo) bool {
		// Empty due dates order last, mirroring NULL handling of the
		// earlier SQL-backed listing.
		if a.DueDate == "" || b.DueDate == "" {
			return a.DueDate != ""
		}
		return a.DueDate < b.DueDate
	}
	switch key {
	case "due_date_asc", "due_date":
	case "due_date_desc":
		asc := less
		less = func(a, b Todo) bool {
			if a.DueDate == "" || b.DueDate == "" {
				return a.DueDate != ""
			}
			return asc(b, a)
		}
	case "last_edited_desc", "last_edited_time_desc":
		less = func(a, b Todo) bool { return a.LastEditedTime > b.LastEditedTime }
	case "last_edited_asc", "last_edited_time_asc":
		less = func(a, b Todo) bool { return a.LastEditedTime < b.LastEditedTime }
	case "title_asc", "title":
		less = func(a, b Todo) bool { return strings.ToLower(a.Title) < strings.ToLower(b.Title) }
	case "title_desc":
		less = func(a, b Todo) bool { return strings.ToLower(a.Title) > strings.ToLower(b.Title) }
	}
	sort.SliceStable(todos, func(i, j int) bool {
		if less(todos[i], todos[j]) {
			return true
		}
		if less(todos[j], todos[i]) {
			return false
		}
		return todos[i].ID < todos[j].ID
	})
}

// ListFilterValues collects the distinct statuses, projects, and areas across
// non-archived rows, sorted case-insensitively.
func (s *Store) ListFilterValues() FilterValues {
	statuses := map[string]string{}
	projects := map[string]string{}
	areas := map[string]string{}
	for _, row := range s.Rows() {
		if row.Archived {
			continue
		}
		todo := projectTodo(row)
		collectDistinct(statuses, todo.Status)
		collectDistinct(projects, todo.Project)
		collectDistinct(areas, todo.Area)
	}
	return FilterValues{
		Statuses: sortedDistinct(statuses),
		Projects: sortedDistinct(projects),
		Areas:    sortedDistinct(areas),
	}
}

func collectDistinct(seen map[string]string, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	key := strings.ToLower(value)
	if _, ok := seen[key]; !ok {
		seen[key] = value
	}
}

func sortedDistinct(seen map[string]string) []string {
	out := make([]string, 0, len(seen))
	for _, value := range seen {
		out = append(out, value)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}
