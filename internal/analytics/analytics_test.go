package analytics

import (
	"testing"
	"time"

	"github.com/taskmirror/taskmirror/internal/taskstore"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func seedStatsStore(t *testing.T) *taskstore.Store {
	t.Helper()
	s := taskstore.NewStore()
	// Monday 2024-01-01; one task completed on Wednesday, one still open.
	rows := []taskstore.Row{
		{
			ExternalID:     "a",
			Workspace:      "Personal",
			Title:          "open task",
			CreatedTime:    time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
			LastEditedTime: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		},
		{
			ExternalID:     "b",
			Workspace:      "Personal",
			Title:          "done task",
			Completed:      true,
			CreatedTime:    time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC),
			LastEditedTime: time.Date(2024, 1, 3, 18, 0, 0, 0, time.UTC),
		},
		{
			ExternalID:     "c",
			Workspace:      "Personal",
			Title:          "archived task",
			Archived:       true,
			CreatedTime:    time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
			LastEditedTime: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		},
	}
	if _, err := s.Upsert(rows); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}
	return s
}

func TestComputeStatsFlowAndSummary(t *testing.T) {
	s := seedStatsStore(t)
	now := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	engine := NewEngineWithClock(s, fixedClock(now))

	stats := engine.ComputeStats()

	if got := stats.DailyFlow["2024-01-01"]; got.Created != 2 || got.Completed != 0 {
		t.Fatalf("daily 2024-01-01 = %+v", got)
	}
	if got := stats.DailyFlow["2024-01-03"]; got.Created != 0 || got.Completed != 1 {
		t.Fatalf("daily 2024-01-03 = %+v", got)
	}

	week := stats.WeeklyFlow["2024-W01"]
	if week.Incoming != 2 || week.Completed != 1 || week.Net != 1 {
		t.Fatalf("week = %+v", week)
	}

	if stats.Summary.Open != 1 || stats.Summary.Completed != 1 {
		t.Fatalf("summary = %+v", stats.Summary)
	}
	if stats.Summary.IncomingLast7d != 2 || stats.Summary.CompletedLast7d != 1 {
		t.Fatalf("7d summary = %+v", stats.Summary)
	}
	if stats.OpenByWorkspace["Personal"] != 1 {
		t.Fatalf("open by workspace = %v", stats.OpenByWorkspace)
	}
}

func TestComputeStatsHeatmapsAreMondayFirstUTC(t *testing.T) {
	s := seedStatsStore(t)
	engine := NewEngineWithClock(s, fixedClock(time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)))

	stats := engine.ComputeStats()

	// 2024-01-01 was a Monday: creations at 09:00 and 14:00 land in row 0.
	if stats.CreationHeatmap[0][9] != 1 || stats.CreationHeatmap[0][14] != 1 {
		t.Fatalf("creation heatmap row 0 = %v", stats.CreationHeatmap[0])
	}
	// 2024-01-03 was a Wednesday: the completion lands in row 2 at 18:00.
	if stats.CompletionHeatmap[2][18] != 1 {
		t.Fatalf("completion heatmap row 2 = %v", stats.CompletionHeatmap[2])
	}
}

func TestComputeStatsSkipsArchivedRows(t *testing.T) {
	s := seedStatsStore(t)
	engine := NewEngineWithClock(s, fixedClock(time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)))

	stats := engine.ComputeStats()
	total := 0
	for _, point := range stats.DailyFlow {
		total += point.Created
	}
	if total != 2 {
		t.Fatalf("archived row counted: %d creations", total)
	}
}

func TestComputeStatsCacheInvalidatesOnWrite(t *testing.T) {
	s := seedStatsStore(t)
	engine := NewEngineWithClock(s, fixedClock(time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)))

	before := engine.ComputeStats()
	if before.Summary.Open != 1 {
		t.Fatalf("open = %d", before.Summary.Open)
	}

	if _, err := s.Upsert([]taskstore.Row{{
		ExternalID:     "d",
		Workspace:      "Personal",
		Title:          "another open task",
		CreatedTime:    time.Date(2024, 1, 4, 10, 0, 0, 0, time.UTC),
		LastEditedTime: time.Date(2024, 1, 4, 10, 0, 0, 0, time.UTC),
	}}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	after := engine.ComputeStats()
	if after.Summary.Open != 2 {
		t.Fatalf("stale stats served after write: %+v", after.Summary)
	}
}
