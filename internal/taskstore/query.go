package taskstore

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultSort  = "last_edited_time:desc"
	DefaultLimit = 50
	MaxLimit     = 500
)

// QueryRequest describes one paged read over the dynamic schema. Filters map
// a column key to an exact value, a list of accepted values, or a
// {"from","to"} range object (decoded JSON shapes, see ParseSort for sort).
type QueryRequest struct {
	Text    string
	Filters map[string]any
	Sort    string
	Limit   int
	Offset  int
}

type QueryResult struct {
	Items  []Row `json:"items"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

type sortSpec struct {
	key        string
	descending bool
}

// ParseSort validates a "column:direction" sort expression. An empty
// expression yields the default ordering.
func ParseSort(raw string) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = DefaultSort
	}
	parts := strings.SplitN(raw, ":", 2)
	key := strings.TrimSpace(parts[0])
	if key == "" {
		return "", false, fmt.Errorf("%w: empty sort column", ErrInvalidInput)
	}
	direction := "asc"
	if len(parts) == 2 {
		direction = strings.ToLower(strings.TrimSpace(parts[1]))
	}
	switch direction {
	case "asc", "ascending":
		return key, false, nil
	case "desc", "descending":
		return key, true, nil
	default:
		return "", false, fmt.Errorf("%w: sort direction %q", ErrInvalidInput, direction)
	}
}

// Query runs a filtered, sorted, offset-paged read. Filter or sort keys that
// match no known column are not errors: unmatched filters yield no matches
// and rows without the sort value order last.
func (s *Store) Query(req QueryRequest) (QueryResult, error) {
	if req.Limit <= 0 {
		return QueryResult{}, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	if req.Offset < 0 {
		return QueryResult{}, fmt.Errorf("%w: offset must not be negative", ErrInvalidInput)
	}
	sortKey, descending, err := ParseSort(req.Sort)
	if err != nil {
		return QueryResult{}, err
	}
	spec := sortSpec{key: sortKey, descending: descending}

	s.mu.RLock()
	matched := make([]*Row, 0, len(s.rows))
	for _, row := range s.rows {
		if !matchRow(row, req) {
			continue
		}
		matched = append(matched, row)
	}
	sortRows(matched, spec)

	total := len(matched)
	start := req.Offset
	if start > total {
		start = total
	}
	end := start + req.Limit
	if end > total {
		end = total
	}
	items := make([]Row, 0, end-start)
	for _, row := range matched[start:end] {
		items = append(items, cloneRow(*row))
	}
	s.mu.RUnlock()

	return QueryResult{Items: items, Total: total, Limit: req.Limit, Offset: req.Offset}, nil
}

func matchRow(row *Row, req QueryRequest) bool {
	if text := strings.TrimSpace(req.Text); text != "" && !matchText(row, text) {
		return false
	}
	for key, filter := range req.Filters {
		if !matchFilter(row, key, filter) {
			return false
		}
	}
	return true
}

func matchText(row *Row, text string) bool {
	needle := strings.ToLower(text)
	if strings.Contains(strings.ToLower(row.Title), needle) {
		return true
	}
	for _, value := range row.Properties {
		switch value.Type {
		case TypeString, TypeTitle:
			if strings.Contains(strings.ToLower(value.Text), needle) {
				return true
			}
		case TypeList, TypeRelation:
			for _, item := range value.List {
				if strings.Contains(strings.ToLower(item), needle) {
					return true
				}
			}
		}
	}
	return false
}

func matchFilter(row *Row, key string, filter any) bool {
	value, ok := lookupValue(row, key)
	switch typed := filter.(type) {
	case map[string]any:
		// Range object {"from": x, "to": y}; either bound may be absent.
		if !ok {
			return false
		}
		if from, has := typed["from"]; has && from != nil {
			if compareScalar(value, from) < 0 {
				return false
			}
		}
		if to, has := typed["to"]; has && to != nil {
			if compareScalar(value, to) > 0 {
				return false
			}
		}
		return true
	case []any:
		if !ok {
			return false
		}
		for _, candidate := range typed {
			if scalarEqual(value, candidate) {
				return true
			}
		}
		return false
	default:
		if !ok {
			return false
		}
		return scalarEqual(value, filter)
	}
}

// lookupValue resolves a filter/sort key against the fixed row fields first,
// then the dynamic properties.
func lookupValue(row *Row, key string) (Value, bool) {
	switch key {
	case "external_id", "id":
		return Value{Type: TypeString, Text: row.ExternalID}, true
	case "workspace":
		return Value{Type: TypeString, Text: row.Workspace}, true
	case "title":
		return Value{Type: TypeTitle, Text: row.Title}, true
	case "url":
		return Value{Type: TypeString, Text: row.URL}, true
	case "archived":
		return Value{Type: TypeBoolean, Bool: row.Archived}, true
	case "completed":
		return Value{Type: TypeBoolean, Bool: row.Completed}, true
	case "created_time":
		return Value{Type: TypeDate, Text: row.CreatedTime.UTC().Format(time.RFC3339)}, true
	case "last_edited_time":
		return Value{Type: TypeDate, Text: row.LastEditedTime.UTC().Format(time.RFC3339)}, true
	}
	value, ok := row.Properties[key]
	if !ok {
		return Value{}, false
	}
	return value, true
}

func scalarEqual(value Value, filter any) bool {
	switch typed := filter.(type) {
	case string:
		switch value.Type {
		case TypeList, TypeRelation:
			for _, item := range value.List {
				if strings.EqualFold(item, typed) {
					return true
				}
			}
			return false
		case TypeNumber:
			parsed, err := strconv.ParseFloat(typed, 64)
			return err == nil && parsed == value.Number
		case TypeBoolean:
			parsed, err := strconv.ParseBool(typed)
			return err == nil && parsed == value.Bool
		default:
			return strings.EqualFold(value.Text, typed)
		}
	case float64:
		return value.Type == TypeNumber && value.Number == typed
	case bool:
		return value.Type == TypeBoolean && value.Bool == typed
	case nil:
		return false
	default:
		return false
	}
}

func compareScalar(value Value, bound any) int {
	switch typed := bound.(type) {
	case float64:
		switch {
		case value.Number < typed:
			return -1
		case value.Number > typed:
			return 1
		default:
			return 0
		}
	case string:
		if value.Type == TypeNumber {
			if parsed, err := strconv.ParseFloat(typed, 64); err == nil {
				switch {
				case value.Number < parsed:
					return -1
				case value.Number > parsed:
					return 1
				default:
					return 0
				}
			}
		}
		return strings.Compare(value.Text, typed)
	default:
		return 0
	}
}

func sortRows(rows []*Row, spec sortSpec) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, aok := lookupValue(rows[i], spec.key)
		b, bok := lookupValue(rows[j], spec.key)
		if aok != bok {
			// Rows missing the sort value order last regardless of direction.
			return aok
		}
		if !aok {
			return rows[i].ExternalID < rows[j].ExternalID
		}
		cmp := compareValues(a, b)
		if cmp == 0 {
			return rows[i].ExternalID < rows[j].ExternalID
		}
		if spec.descending {
			return cmp > 0
		}
		return cmp < 0
	})
}

func compareValues(a, b Value) int {
	if a.Type == TypeNumber && b.Type == TypeNumber {
		switch {
		case a.Number < b.Number:
			return -1
		case a.Number > b.Number:
			return 1
		default:
			return 0
		}
	}
	if a.Type == TypeBoolean && b.Type == TypeBoolean {
		switch {
		case !a.Bool && b.Bool:
			return -1
		case a.Bool && !b.Bool:
			return 1
		default:
			return 0
		}
	}
	at := a.Text
	bt := b.Text
	if a.Type == TypeList || a.Type == TypeRelation {
		at = strings.Join(a.List, ",")
	}
	if b.Type == TypeList || b.Type == TypeRelation {
		bt = strings.Join(b.List, ",")
	}
	return strings.Compare(strings.ToLower(at), strings.ToLower(bt))
}
