package syncengine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskmirror/taskmirror/internal/taskstore"
)

const (
	metaLastCompletedAt = "last_completed_at"
	metaWatermark       = "watermark"

	defaultRunTimeout = 10 * time.Minute
)

// SourcePage is one page of normalized records from the remote source.
type SourcePage struct {
	Rows       []taskstore.Row
	NextCursor string
	HasMore    bool
}

// Source is the remote workspace the engine mirrors. ListRecords pages
// through records edited on or after since (zero since means everything),
// already normalized into the Row domain shape.
type Source interface {
	ListSchema(ctx context.Context) ([]taskstore.Column, error)
	ListRecords(ctx context.Context, since time.Time, cursor string) (SourcePage, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	Store    *taskstore.Store
	Source   Source
	Register *StatusRegister
	Logger   Logger
	// RunTimeout bounds one whole run so a stuck source call cannot leave
	// the register running forever.
	RunTimeout time.Duration
	Now        func() time.Time
}

// Engine drives sync runs: at most one running at a time, each on its own
// goroutine, progress published through the status register after every
// committed page.
type Engine struct {
	mu         sync.Mutex
	store      *taskstore.Store
	source     Source
	register   *StatusRegister
	logger     Logger
	runTimeout time.Duration
	now        func() time.Time
	runDone    chan struct{}
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	register := opts.Register
	if register == nil {
		register = NewStatusRegister()
	}
	timeout := opts.RunTimeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:      opts.Store,
		source:     opts.Source,
		register:   register,
		logger:     opts.Logger,
		runTimeout: timeout,
		now:        now,
	}, nil
}

func (e *Engine) Register() *StatusRegister {
	return e.register
}

// Trigger starts a run unless one is already running, in which case the
// in-progress run's snapshot is returned so concurrent callers converge on
// the same status. Excess triggers are deduplicated, never queued.
func (e *Engine) Trigger(forceFull bool) Run {
	e.mu.Lock()
	defer e.mu.Unlock()

	if current := e.register.Get(); current.Status == StatusRunning {
		return current
	}

	mode := ModeRefresh
	since := e.watermark()
	if forceFull || e.store.GetMeta(metaLastCompletedAt) == "" || since.IsZero() {
		mode = ModeFull
		since = time.Time{}
	}

	started := e.now().UTC()
	run := Run{
		ID:        uuid.NewString(),
		Status:    StatusRunning,
		Mode:      mode,
		StartedAt: &started,
	}
	e.register.set(run)
	e.runDone = make(chan struct{})
	go e.runSync(run, since, e.runDone)
	return cloneRun(run)
}

// Wait blocks until the most recently triggered run has reached a terminal
// state. Test helper; polling the register is the production path.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.runDone
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// watermark prefers the recorded high-water mark of the last successful run
// and falls back to the newest stored row.
func (e *Engine) watermark() time.Time {
	if raw := e.store.GetMeta(metaWatermark); raw != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return parsed
		}
	}
	return e.store.Watermark()
}

func (e *Engine) runSync(run Run, since time.Time, done chan struct{}) {
	defer close(done)
	ctx, cancel := context.WithTimeout(context.Background(), e.runTimeout)
	defer cancel()

	fetched := 0
	upserted := 0

	fail := func(err error) {
		finished := e.now().UTC()
		run.Status = StatusError
		run.Error = err.Error()
		run.FinishedAt = &finished
		run.Result = &Result{
			OK:            false,
			Mode:          run.Mode,
			FetchedCount:  fetched,
			UpsertedCount: upserted,
			DurationMS:    finished.Sub(*run.StartedAt).Milliseconds(),
			Error:         err.Error(),
		}
		e.register.set(run)
		e.logf("sync %s failed after %d rows: %v", run.ID, upserted, err)
	}

	columns, err := e.source.ListSchema(ctx)
	if err != nil {
		fail(err)
		return
	}
	e.store.AddColumns(columns)

	seen := map[string]struct{}{}
	cursor := ""
	var maxEdited time.Time
	for {
		page, err := e.source.ListRecords(ctx, since, cursor)
		if err != nil {
			// Partial progress stays committed; the run is re-triggerable
			// and upserts are idempotent.
			fail(err)
			return
		}
		fetched += len(page.Rows)

		batch := make([]taskstore.Row, 0, len(page.Rows))
		for _, row := range page.Rows {
			id := strings.TrimSpace(row.ExternalID)
			if id == "" {
				continue
			}
			if _, duplicate := seen[id]; duplicate {
				continue
			}
			seen[id] = struct{}{}
			batch = append(batch, row)
			if row.LastEditedTime.After(maxEdited) {
				maxEdited = row.LastEditedTime
			}
		}
		if _, err := e.store.Upsert(batch); err != nil {
			fail(err)
			return
		}
		upserted += len(batch)

		// Processed counts committed rows only; duplicates and id-less rows
		// the batch filter skipped never reach the store.
		run.Processed += len(batch)
		// Total tracks committed progress and is only ever revised upward;
		// the source reports no global count.
		if run.Processed > run.Total {
			run.Total = run.Processed
		}
		e.register.set(run)

		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if !maxEdited.IsZero() {
		e.store.SetMeta(metaWatermark, maxEdited.UTC().Format(time.RFC3339Nano))
	}
	finished := e.now().UTC()
	e.store.SetMeta(metaLastCompletedAt, finished.Format(time.RFC3339Nano))

	run.Status = StatusCompleted
	run.FinishedAt = &finished
	run.Result = &Result{
		OK:            true,
		Mode:          run.Mode,
		FetchedCount:  fetched,
		UpsertedCount: upserted,
		DurationMS:    finished.Sub(*run.StartedAt).Milliseconds(),
	}
	e.register.set(run)
	e.logf("sync %s %s: fetched=%d upserted=%d in %dms", run.ID, run.Mode, fetched, upserted, run.Result.DurationMS)
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Printf(format, args...)
}
