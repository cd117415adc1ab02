package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"playlistsync/internal/app"
)

func configuredSettings(t *testing.T) *app.SettingsManager {
	t.Helper()
	manager, err := app.LoadSettingsManager(filepath.Join(t.TempDir(), "settings.conf"))
	if err != nil {
		t.Fatalf("load settings manager: %v", err)
	}
	next := manager.Get()
	next.BaseDownloadPath = t.TempDir()
	if err := manager.Update(next); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	return manager
}

func TestHealthzOK(t *testing.T) {
	server := NewServer(&fakePlaylistService{},
		WithJobs(&fakeJobService{active: 2}),
		WithSettings(configuredSettings(t)),
		WithDatabasePinger(func(ctx context.Context) error { return nil }),
	)

	w := doJSON(t, server, http.MethodGet, "/healthz", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got healthResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "ok" {
		t.Fatalf("status = %q issues=%v", got.Status, got.Issues)
	}
	if got.Database != "up" || got.ActiveJobs != 2 || got.NeedsSetup {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestHealthzDatabaseDown(t *testing.T) {
	server := NewServer(&fakePlaylistService{},
		WithJobs(&fakeJobService{}),
		WithSettings(configuredSettings(t)),
		WithDatabasePinger(func(ctx context.Context) error { return errors.New("no reachable servers") }),
	)

	w := doJSON(t, server, http.MethodGet, "/healthz", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got healthResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "degraded" || got.Database != "down" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if len(got.Issues) == 0 {
		t.Fatal("expected issues to be reported")
	}
}

func TestHealthzReportsNeedsSetup(t *testing.T) {
	manager, err := app.LoadSettingsManager(filepath.Join(t.TempDir(), "settings.conf"))
	if err != nil {
		t.Fatalf("load settings manager: %v", err)
	}
	server := NewServer(&fakePlaylistService{},
		WithJobs(&fakeJobService{}),
		WithSettings(manager),
	)

	w := doJSON(t, server, http.MethodGet, "/healthz", nil)

	var got healthResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.NeedsSetup || got.Status != "degraded" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestHealthzMethodNotAllowed(t *testing.T) {
	server := NewServer(&fakePlaylistService{})

	w := doJSON(t, server, http.MethodPost, "/healthz", nil)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", w.Code)
	}
}
