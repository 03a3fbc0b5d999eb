package syncengine

import (
	"sync/atomic"
	"time"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

const (
	ModeFull    = "full"
	ModeRefresh = "refresh"
)

// Result summarizes one finished run.
type Result struct {
	OK            bool   `json:"ok"`
	Mode          string `json:"mode"`
	FetchedCount  int    `json:"fetched_count"`
	UpsertedCount int    `json:"upserted_count"`
	DurationMS    int64  `json:"duration_ms"`
	Error         string `json:"error,omitempty"`
}

// Run is one sync execution's observable state. Snapshots handed out by the
// register are value copies; nothing mutates a snapshot after publication.
type Run struct {
	ID         string     `json:"id,omitempty"`
	Status     Status     `json:"status"`
	Mode       string     `json:"mode"`
	Processed  int        `json:"processed"`
	Total      int        `json:"total"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Result     *Result    `json:"result,omitempty"`
}

func (r Run) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusError
}

// StatusRegister is the process-wide single-slot record of the current or
// last run. Writers swap an immutable snapshot; readers never block and a
// terminal snapshot stays visible until the next trigger replaces it.
type StatusRegister struct {
	current atomic.Pointer[Run]
}

func NewStatusRegister() *StatusRegister {
	r := &StatusRegister{}
	r.current.Store(&Run{Status: StatusIdle, Mode: ModeRefresh})
	return r
}

func (r *StatusRegister) Get() Run {
	snapshot := r.current.Load()
	if snapshot == nil {
		return Run{Status: StatusIdle, Mode: ModeRefresh}
	}
	return cloneRun(*snapshot)
}

func (r *StatusRegister) set(run Run) {
	clone := cloneRun(run)
	r.current.Store(&clone)
}

func cloneRun(run Run) Run {
	out := run
	if run.StartedAt != nil {
		started := *run.StartedAt
		out.StartedAt = &started
	}
	if run.FinishedAt != nil {
		finished := *run.FinishedAt
		out.FinishedAt = &finished
	}
	if run.Result != nil {
		result := *run.Result
		out.Result = &result
	}
	return out
}
