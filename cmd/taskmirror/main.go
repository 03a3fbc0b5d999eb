package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/taskmirror/taskmirror/internal/analytics"
	"github.com/taskmirror/taskmirror/internal/httpapi"
	"github.com/taskmirror/taskmirror/internal/notion"
	"github.com/taskmirror/taskmirror/internal/settings"
	"github.com/taskmirror/taskmirror/internal/syncengine"
	"github.com/taskmirror/taskmirror/internal/taskstore"
)

func main() {
	addr := os.Getenv("TASKMIRROR_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	provider, err := buildSettingsProviderFromEnv()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}
	if err := provider.Watch(context.Background()); err != nil {
		log.Printf("settings watch disabled: %v", err)
	}

	backend, err := buildStateBackendFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize state backend: %v", err)
	}
	store := taskstore.NewStoreWithOptions(taskstore.StoreOptions{
		StateBackend: backend,
		Logger:       log.Default(),
	})

	cfg := provider.Get()
	client := notion.NewClient(notion.ClientOptions{
		BaseURL:    cfg.NotionAPIBaseURL,
		APIVersion: cfg.NotionAPIVersion,
		TokenProvider: func(ctx context.Context) (string, error) {
			return provider.Get().NotionAPIKey, nil
		},
		RequestsPerSecond: floatEnv("TASKMIRROR_NOTION_RPS", 0),
	})
	source, err := notion.NewAdapter(notion.AdapterOptions{
		Client:   client,
		Provider: provider,
		PageSize: intEnv("TASKMIRROR_NOTION_PAGE_SIZE", 0),
	})
	if err != nil {
		log.Fatalf("failed to build notion adapter: %v", err)
	}

	engine, err := syncengine.NewEngine(syncengine.Options{
		Store:      store,
		Source:     source,
		Logger:     log.Default(),
		RunTimeout: durationEnv("TASKMIRROR_SYNC_TIMEOUT", 0),
	})
	if err != nil {
		log.Fatalf("failed to build sync engine: %v", err)
	}

	server := httpapi.NewServerWithConfig(store, engine, analytics.NewEngine(store), httpapi.ServerConfig{
		MaxBodyBytes:   int64Env("TASKMIRROR_MAX_BODY_BYTES", 0),
		StreamInterval: durationEnv("TASKMIRROR_STREAM_INTERVAL", 0),
	})

	log.Printf("taskmirror listening on %s (%d rows restored)", addr, store.Count())
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// buildSettingsProviderFromEnv prefers the settings file; without one the
// Notion credentials come straight from the environment.
func buildSettingsProviderFromEnv() (*settings.Provider, error) {
	if path := strings.TrimSpace(os.Getenv("TASKMIRROR_SETTINGS_FILE")); path != "" {
		return settings.NewProvider(path, log.Default())
	}
	return settings.NewStaticProvider(settings.Settings{
		NotionAPIKey:     os.Getenv("TASKMIRROR_NOTION_API_KEY"),
		NotionDatabaseID: os.Getenv("TASKMIRROR_NOTION_DATABASE_ID"),
		NotionAPIBaseURL: os.Getenv("TASKMIRROR_NOTION_API_BASE_URL"),
		WorkspaceLabel:   os.Getenv("TASKMIRROR_WORKSPACE_LABEL"),
	}), nil
}

func buildStateBackendFromEnv() (taskstore.StateBackend, error) {
	dsn := strings.TrimSpace(os.Getenv("TASKMIRROR_STATE_DSN"))
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("TASKMIRROR_STATE_FILE"))
	}
	if dsn == "" {
		return nil, nil
	}
	return taskstore.BuildStateBackendFromDSN(dsn)
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %g", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
