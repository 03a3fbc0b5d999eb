package notion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/taskmirror/taskmirror/internal/settings"
	"github.com/taskmirror/taskmirror/internal/syncengine"
	"github.com/taskmirror/taskmirror/internal/taskstore"
)

const defaultPageSize = 100

// Adapter exposes one Notion database as a sync source: schema discovery
// plus paged, watermark-filtered record listing, normalized into rows.
type Adapter struct {
	client   *Client
	provider *settings.Provider
	pageSize int

	mu             sync.Mutex
	keyByLabel     map[string]string
	workspace      string
	relationTitles map[string]string
}

type AdapterOptions struct {
	Client   *Client
	Provider *settings.Provider
	PageSize int
}

func NewAdapter(opts AdapterOptions) (*Adapter, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("notion client is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("settings provider is required")
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Adapter{
		client:   opts.Client,
		provider: opts.Provider,
		pageSize: pageSize,
	}, nil
}

func (a *Adapter) ListSchema(ctx context.Context) ([]taskstore.Column, error) {
	cfg := a.provider.Get()
	databaseID := strings.TrimSpace(cfg.NotionDatabaseID)
	if databaseID == "" {
		return nil, fmt.Errorf("notion database id is not configured")
	}
	db, err := a.client.retrieveDatabase(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	columns, keyByLabel := columnsFromSchema(db)

	workspace := strings.TrimSpace(cfg.WorkspaceLabel)
	if workspace == "" {
		workspace = plainText(db.Title)
	}
	if workspace == "" {
		workspace = databaseID
	}

	a.mu.Lock()
	a.keyByLabel = keyByLabel
	a.workspace = workspace
	a.mu.Unlock()
	return columns, nil
}

func (a *Adapter) ListRecords(ctx context.Context, since time.Time, cursor string) (syncengine.SourcePage, error) {
	cfg := a.provider.Get()
	databaseID := strings.TrimSpace(cfg.NotionDatabaseID)
	if databaseID == "" {
		return syncengine.SourcePage{}, fmt.Errorf("notion database id is not configured")
	}

	a.mu.Lock()
	keyByLabel := a.keyByLabel
	workspace := a.workspace
	a.mu.Unlock()
	if keyByLabel == nil {
		// ListSchema is normally called first; recover rather than fail.
		if _, err := a.ListSchema(ctx); err != nil {
			return syncengine.SourcePage{}, err
		}
		a.mu.Lock()
		keyByLabel = a.keyByLabel
		workspace = a.workspace
		a.mu.Unlock()
	}

	resp, err := a.client.queryDatabase(ctx, databaseID, since, cursor, a.pageSize)
	if err != nil {
		return syncengine.SourcePage{}, err
	}

	completed := completedSet(cfg.CompletedStatuses)
	rows := make([]taskstore.Row, 0, len(resp.Results))
	for _, p := range resp.Results {
		row := rowFromPage(p, keyByLabel, completed, workspace)
		a.resolveRelations(ctx, row)
		rows = append(rows, row)
	}
	return syncengine.SourcePage{
		Rows:       rows,
		NextCursor: resp.NextCursor,
		HasMore:    resp.HasMore,
	}, nil
}

// resolveRelations replaces relation page IDs with the titles of the linked
// pages. Lookups are cached per adapter; a page that cannot be fetched keeps
// its raw ID so a partial permission grant does not fail the sync.
func (a *Adapter) resolveRelations(ctx context.Context, row taskstore.Row) {
	for key, value := range row.Properties {
		if value.Type != taskstore.TypeRelation || len(value.List) == 0 {
			continue
		}
		resolved := make([]string, len(value.List))
		for i, id := range value.List {
			resolved[i] = a.relationTitle(ctx, id)
		}
		value.List = resolved
		row.Properties[key] = value
	}
}

func (a *Adapter) relationTitle(ctx context.Context, pageID string) string {
	a.mu.Lock()
	title, ok := a.relationTitles[pageID]
	a.mu.Unlock()
	if ok {
		return title
	}

	title = pageID
	if p, err := a.client.retrievePage(ctx, pageID); err == nil {
		if resolved := pageTitle(p); resolved != "" {
			title = resolved
		}
	}
	a.mu.Lock()
	if a.relationTitles == nil {
		a.relationTitles = make(map[string]string)
	}
	a.relationTitles[pageID] = title
	a.mu.Unlock()
	return title
}

func completedSet(statuses []string) map[string]struct{} {
	out := make(map[string]struct{}, len(statuses))
	for _, status := range statuses {
		status = strings.ToLower(strings.TrimSpace(status))
		if status != "" {
			out[status] = struct{}{}
		}
	}
	return out
}
