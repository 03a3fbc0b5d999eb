package taskstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Value types a dynamic property can carry.
const (
	TypeString   = "string"
	TypeNumber   = "number"
	TypeBoolean  = "boolean"
	TypeDate     = "date"
	TypeList     = "list"
	TypeRelation = "relation"
	TypeTitle    = "title"
)

// Value is one typed property slot. Exactly one payload field is meaningful,
// selected by Type; dates are carried as RFC 3339 text.
type Value struct {
	Type   string   `json:"type"`
	Text   string   `json:"text,omitempty"`
	Number float64  `json:"number,omitempty"`
	Bool   bool     `json:"bool,omitempty"`
	List   []string `json:"list,omitempty"`
}

type Column struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

// Row is one synchronized record from the remote source.
type Row struct {
	ExternalID     string           `json:"external_id"`
	Workspace      string           `json:"workspace"`
	Title          string           `json:"title"`
	URL            string           `json:"url,omitempty"`
	Archived       bool             `json:"archived"`
	Completed      bool             `json:"completed"`
	CreatedTime    time.Time        `json:"created_time"`
	LastEditedTime time.Time        `json:"last_edited_time"`
	Properties     map[string]Value `json:"properties"`
}

type UpsertStats struct {
	Processed int `json:"processed"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

type Logger interface {
	Printf(format string, args ...any)
}

type StoreOptions struct {
	StateBackend StateBackend
	Logger       Logger
}

// Store holds the canonical dynamic-schema dataset. The sync engine is the
// only writer; readers take snapshots and never block a running upsert for
// longer than the batch commit itself.
type Store struct {
	mu         sync.RWMutex
	rows       map[string]*Row
	columns    []Column
	columnIdx  map[string]int
	meta       map[string]string
	generation uint64
	backend    StateBackend
	logger     Logger
}

func NewStore() *Store {
	return NewStoreWithOptions(StoreOptions{})
}

func NewStoreWithOptions(opts StoreOptions) *Store {
	s := &Store{
		rows:      map[string]*Row{},
		columnIdx: map[string]int{},
		meta:      map[string]string{},
		backend:   opts.StateBackend,
		logger:    opts.Logger,
	}
	if s.backend != nil {
		snapshot, err := s.backend.Load()
		if err != nil {
			s.logf("failed to load persisted state: %v", err)
		} else if snapshot != nil {
			s.restore(snapshot)
		}
	}
	return s
}

func (s *Store) restore(snapshot *persistedState) {
	for i := range snapshot.Rows {
		row := snapshot.Rows[i]
		s.rows[row.ExternalID] = &row
	}
	for _, col := range snapshot.Columns {
		if _, seen := s.columnIdx[col.Key]; seen {
			continue
		}
		s.columnIdx[col.Key] = len(s.columns)
		s.columns = append(s.columns, col)
	}
	for key, value := range snapshot.Meta {
		s.meta[key] = value
	}
	s.generation = snapshot.Generation
}

// Upsert applies one batch atomically: inserts unseen external ids, merges
// properties and last_edited_time onto existing rows. created_time is kept
// from first insertion and last_edited_time never goes backward, so
// re-applying an identical batch is a no-op.
func (s *Store) Upsert(rows []Row) (UpsertStats, error) {
	stats := UpsertStats{}
	if len(rows) == 0 {
		return stats, nil
	}
	for i := range rows {
		if strings.TrimSpace(rows[i].ExternalID) == "" {
			return UpsertStats{}, fmt.Errorf("%w: row %d has no external id", ErrInvalidInput, i)
		}
	}

	s.mu.Lock()
	for i := range rows {
		incoming := rows[i]
		stats.Processed++
		existing, ok := s.rows[incoming.ExternalID]
		if !ok {
			clone := cloneRow(incoming)
			s.rows[incoming.ExternalID] = &clone
			stats.Inserted++
			continue
		}
		if rowEqual(existing, &incoming) {
			stats.Unchanged++
			continue
		}
		merged := cloneRow(incoming)
		merged.CreatedTime = existing.CreatedTime
		if existing.Workspace != "" {
			merged.Workspace = existing.Workspace
		}
		if merged.LastEditedTime.Before(existing.LastEditedTime) {
			merged.LastEditedTime = existing.LastEditedTime
		}
		s.rows[incoming.ExternalID] = &merged
		stats.Updated++
	}
	changed := stats.Inserted+stats.Updated > 0
	if changed {
		s.generation++
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		s.persist(snapshot)
	}
	return stats, nil
}

// AddColumns grows the discovered column set. Additive only: a key seen once
// is never dropped, and insertion order is stable.
func (s *Store) AddColumns(columns []Column) {
	if len(columns) == 0 {
		return
	}
	s.mu.Lock()
	changed := false
	for _, col := range columns {
		key := strings.TrimSpace(col.Key)
		if key == "" {
			continue
		}
		if idx, seen := s.columnIdx[key]; seen {
			if col.Label != "" && s.columns[idx].Label != col.Label {
				s.columns[idx].Label = col.Label
				changed = true
			}
			continue
		}
		col.Key = key
		s.columnIdx[key] = len(s.columns)
		s.columns = append(s.columns, col)
		changed = true
	}
	var snapshot *persistedState
	if changed {
		snapshot = s.snapshotLocked()
	}
	s.mu.Unlock()
	if snapshot != nil {
		s.persist(snapshot)
	}
}

// ListColumns returns the cumulative column set in stable insertion order.
func (s *Store) ListColumns() []Column {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

// Rows returns a point-in-time copy of every row, unordered.
func (s *Store) Rows() []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Row, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, cloneRow(*row))
	}
	return out
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Generation is a counter bumped on every committed mutation; analytics
// caches key off it.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Watermark is the largest last_edited_time across all stored rows, used as
// the incremental-sync boundary. Zero when the store is empty.
func (s *Store) Watermark() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max time.Time
	for _, row := range s.rows {
		if row.LastEditedTime.After(max) {
			max = row.LastEditedTime
		}
	}
	return max
}

func (s *Store) GetMeta(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta[key]
}

func (s *Store) SetMeta(key, value string) {
	s.mu.Lock()
	if s.meta[key] == value {
		s.mu.Unlock()
		return
	}
	s.meta[key] = value
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.persist(snapshot)
}

func (s *Store) snapshotLocked() *persistedState {
	snapshot := &persistedState{
		Rows:       make([]Row, 0, len(s.rows)),
		Columns:    make([]Column, len(s.columns)),
		Meta:       make(map[string]string, len(s.meta)),
		Generation: s.generation,
	}
	ids := make([]string, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		snapshot.Rows = append(snapshot.Rows, cloneRow(*s.rows[id]))
	}
	copy(snapshot.Columns, s.columns)
	for key, value := range s.meta {
		snapshot.Meta[key] = value
	}
	return snapshot
}

func (s *Store) persist(snapshot *persistedState) {
	if s.backend == nil || snapshot == nil {
		return
	}
	if err := s.backend.Save(snapshot); err != nil {
		s.logf("failed to persist state: %v", err)
	}
}

func (s *Store) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

func formatTimeRFC3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func cloneRow(row Row) Row {
	out := row
	if row.Properties != nil {
		out.Properties = make(map[string]Value, len(row.Properties))
		for key, value := range row.Properties {
			out.Properties[key] = cloneValue(value)
		}
	}
	return out
}

func cloneValue(value Value) Value {
	out := value
	if value.List != nil {
		out.List = make([]string, len(value.List))
		copy(out.List, value.List)
	}
	return out
}

func rowEqual(a, b *Row) bool {
	if a.Workspace != b.Workspace ||
		a.Title != b.Title ||
		a.URL != b.URL ||
		a.Archived != b.Archived ||
		a.Completed != b.Completed ||
		!a.LastEditedTime.Equal(b.LastEditedTime) {
		return false
	}
	if len(a.Properties) != len(b.Properties) {
		return false
	}
	for key, av := range a.Properties {
		bv, ok := b.Properties[key]
		if !ok || !valueEqual(av, bv) {
			return false
		}
	}
	return true
}

func valueEqual(a, b Value) bool {
	if a.Type != b.Type || a.Text != b.Text || a.Number != b.Number || a.Bool != b.Bool {
		return false
	}
	if len(a.List) != len(b.List) {
		return false
	}
	for i := range a.List {
		if a.List[i] != b.List[i] {
			return false
		}
	}
	return true
}
