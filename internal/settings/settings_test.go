package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStaticProviderAppliesDefaults(t *testing.T) {
	p := NewStaticProvider(Settings{NotionAPIKey: "secret"})
	got := p.Get()
	if got.NotionAPIBaseURL != "https://api.notion.com/v1" {
		t.Fatalf("base url = %q", got.NotionAPIBaseURL)
	}
	if got.NotionAPIVersion != "2022-06-28" {
		t.Fatalf("api version = %q", got.NotionAPIVersion)
	}
	if len(got.CompletedStatuses) != 3 {
		t.Fatalf("completed statuses = %v", got.CompletedStatuses)
	}
}

func TestProviderLoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	content := `{"notion_api_key":"secret","notion_database_id":"db-1","completed_statuses":["fertig"]}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	p, err := NewProvider(path, nil)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	got := p.Get()
	if got.NotionAPIKey != "secret" || got.NotionDatabaseID != "db-1" {
		t.Fatalf("settings = %+v", got)
	}
	if len(got.CompletedStatuses) != 1 || got.CompletedStatuses[0] != "fertig" {
		t.Fatalf("completed statuses = %v", got.CompletedStatuses)
	}
}

func TestProviderMissingFileYieldsDefaults(t *testing.T) {
	p, err := NewProvider(filepath.Join(t.TempDir(), "absent.json"), nil)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	if got := p.Get(); got.NotionAPIBaseURL == "" {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

func TestProviderRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	if _, err := NewProvider(path, nil); err == nil {
		t.Fatalf("malformed settings file must fail")
	}
}

func TestProviderGetReturnsCopies(t *testing.T) {
	p := NewStaticProvider(Settings{CompletedStatuses: []string{"done"}})
	got := p.Get()
	got.CompletedStatuses[0] = "mutated"
	if p.Get().CompletedStatuses[0] != "done" {
		t.Fatalf("caller mutation leaked into provider")
	}
}

func TestWatchPicksUpFileReplacement(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	if err := os.WriteFile(path, []byte(`{"notion_database_id":"db-1"}`), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	p, err := NewProvider(path, nil)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Watch(ctx); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	// Atomic replace, the way editors save.
	tmp := filepath.Join(dir, "settings.json.new")
	if err := os.WriteFile(tmp, []byte(`{"notion_database_id":"db-2"}`), 0o600); err != nil {
		t.Fatalf("write replacement: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if p.Get().NotionDatabaseID == "db-2" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("reload not observed, still %q", p.Get().NotionDatabaseID)
}
