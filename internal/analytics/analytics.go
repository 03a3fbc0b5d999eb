// Package analytics derives dashboard statistics from the row store. All
// time bucketing uses UTC; heatmap rows are weekdays with Monday at index 0.
package analytics

import (
	"fmt"
	"sync"
	"time"

	"github.com/taskmirror/taskmirror/internal/taskstore"
)

type FlowPoint struct {
	Created   int `json:"created"`
	Completed int `json:"completed"`
}

type WeekFlow struct {
	Incoming  int `json:"incoming"`
	Completed int `json:"completed"`
	Net       int `json:"net"`
}

// Heatmap is a weekday-by-hour count matrix: [7][24], Monday first, UTC.
type Heatmap [7][24]int

type Summary struct {
	Open            int `json:"open"`
	Completed       int `json:"completed"`
	IncomingLast7d  int `json:"incoming_last_7d"`
	CompletedLast7d int `json:"completed_last_7d"`
}

type Stats struct {
	DailyFlow         map[string]FlowPoint `json:"daily_flow"`
	WeeklyFlow        map[string]WeekFlow  `json:"weekly_flow"`
	OpenByWorkspace   map[string]int       `json:"open_by_workspace"`
	CreationHeatmap   Heatmap              `json:"creation_heatmap"`
	CompletionHeatmap Heatmap              `json:"completion_heatmap"`
	Summary           Summary              `json:"summary"`
}

// Engine recomputes stats on demand, cached against the store's write
// generation: a hit never serves data older than the last committed upsert.
type Engine struct {
	store *taskstore.Store
	now   func() time.Time

	mu        sync.Mutex
	cachedGen uint64
	cached    *Stats
}

func NewEngine(store *taskstore.Store) *Engine {
	return NewEngineWithClock(store, time.Now)
}

func NewEngineWithClock(store *taskstore.Store, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, now: now}
}

func (e *Engine) ComputeStats() Stats {
	generation := e.store.Generation()

	e.mu.Lock()
	if e.cached != nil && e.cachedGen == generation {
		cached := *e.cached
		e.mu.Unlock()
		return cached
	}
	e.mu.Unlock()

	stats := e.compute()

	e.mu.Lock()
	// Guard against an upsert that landed while computing: only cache if the
	// generation we scanned is still current.
	if e.store.Generation() == generation {
		e.cachedGen = generation
		e.cached = &stats
	}
	e.mu.Unlock()
	return stats
}

func (e *Engine) compute() Stats {
	stats := Stats{
		DailyFlow:       map[string]FlowPoint{},
		WeeklyFlow:      map[string]WeekFlow{},
		OpenByWorkspace: map[string]int{},
	}
	cutoff7d := e.now().UTC().AddDate(0, 0, -7)

	for _, row := range e.store.Rows() {
		if row.Archived {
			continue
		}

		created := row.CreatedTime.UTC()
		if !created.IsZero() {
			day := created.Format("2006-01-02")
			point := stats.DailyFlow[day]
			point.Created++
			stats.DailyFlow[day] = point

			week := isoWeekKey(created)
			flow := stats.WeeklyFlow[week]
			flow.Incoming++
			flow.Net = flow.Incoming - flow.Completed
			stats.WeeklyFlow[week] = flow

			stats.CreationHeatmap[weekdayIndex(created)][created.Hour()]++

			if created.After(cutoff7d) {
				stats.Summary.IncomingLast7d++
			}
		}

		if row.Completed {
			stats.Summary.Completed++
			// The completion timestamp is the last edit that marked the row
			// done; the store has no finer-grained signal.
			done := row.LastEditedTime.UTC()
			if !done.IsZero() {
				day := done.Format("2006-01-02")
				point := stats.DailyFlow[day]
				point.Completed++
				stats.DailyFlow[day] = point

				week := isoWeekKey(done)
				flow := stats.WeeklyFlow[week]
				flow.Completed++
				flow.Net = flow.Incoming - flow.Completed
				stats.WeeklyFlow[week] = flow

				stats.CompletionHeatmap[weekdayIndex(done)][done.Hour()]++

				if done.After(cutoff7d) {
					stats.Summary.CompletedLast7d++
				}
			}
		} else {
			stats.Summary.Open++
			workspace := row.Workspace
			if workspace == "" {
				workspace = "unknown"
			}
			stats.OpenByWorkspace[workspace]++
		}
	}
	return stats
}

func isoWeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// weekdayIndex maps time.Weekday (Sunday=0) onto Monday-first rows.
func weekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
