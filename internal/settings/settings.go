// Package settings loads the module settings file and keeps it fresh: the
// file is watched with fsnotify so a token or database change takes effect
// on the next sync without a restart.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Settings is the on-disk configuration for the Notion mirror.
type Settings struct {
	NotionAPIKey      string   `json:"notion_api_key"`
	NotionDatabaseID  string   `json:"notion_database_id"`
	NotionAPIBaseURL  string   `json:"notion_api_base_url,omitempty"`
	NotionAPIVersion  string   `json:"notion_api_version,omitempty"`
	WorkspaceLabel    string   `json:"workspace_label,omitempty"`
	CompletedStatuses []string `json:"completed_statuses,omitempty"`
}

var defaultCompletedStatuses = []string{"done", "completed", "erledigt"}

func (s Settings) withDefaults() Settings {
	if strings.TrimSpace(s.NotionAPIBaseURL) == "" {
		s.NotionAPIBaseURL = "https://api.notion.com/v1"
	}
	if strings.TrimSpace(s.NotionAPIVersion) == "" {
		s.NotionAPIVersion = "2022-06-28"
	}
	if len(s.CompletedStatuses) == 0 {
		s.CompletedStatuses = append([]string{}, defaultCompletedStatuses...)
	}
	return s
}

type Logger interface {
	Printf(format string, args ...any)
}

// Provider serves the current settings snapshot. Get never blocks on a
// reload; readers see either the previous or the freshly loaded value.
type Provider struct {
	path   string
	logger Logger

	mu      sync.RWMutex
	current Settings
}

func NewProvider(path string, logger Logger) (*Provider, error) {
	p := &Provider{
		path:   filepath.Clean(strings.TrimSpace(path)),
		logger: logger,
	}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewStaticProvider wraps fixed settings with no backing file; used by tests
// and by env-only deployments.
func NewStaticProvider(s Settings) *Provider {
	return &Provider{current: s.withDefaults()}
}

func (p *Provider) Get() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := p.current
	out.CompletedStatuses = append([]string{}, p.current.CompletedStatuses...)
	return out
}

func (p *Provider) Set(s Settings) {
	p.mu.Lock()
	p.current = s.withDefaults()
	p.mu.Unlock()
}

func (p *Provider) reload() error {
	if p.path == "" || p.path == "." {
		p.Set(Settings{})
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			p.Set(Settings{})
			return nil
		}
		return err
	}
	var loaded Settings
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	p.Set(loaded)
	return nil
}

// Watch reloads the settings file whenever it changes, until ctx is done.
// Editors that replace the file (rename over it) retrigger the watch by
// re-adding the parent directory path.
func (p *Provider) Watch(ctx context.Context) error {
	if p.path == "" || p.path == "." {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		// Coalesce bursts of events from a single save.
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != p.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pending = time.After(100 * time.Millisecond)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logf("settings watcher error: %v", err)
			case <-pending:
				pending = nil
				if err := p.reload(); err != nil {
					p.logf("failed to reload settings from %s: %v", p.path, err)
					continue
				}
				p.logf("settings reloaded from %s", p.path)
			}
		}
	}()
	return nil
}

func (p *Provider) logf(format string, args ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}
