package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"atelier/internal/config"
	"atelier/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newNtfyServer(t *testing.T, status int) (*httptest.Server, func() []captured) {
	t.Helper()
	var mu sync.Mutex
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), got...)
	}
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if svc.Enabled() {
		t.Fatal("expected notifications disabled without a topic")
	}
	if err := svc.NotifyGenerationFailed(context.Background(), "gen-1", "boom"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if svc := notifications.NewService(nil); svc.Enabled() {
		t.Fatal("nil config should produce a noop service")
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	srv, requests := newNtfyServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL + "/atelier"
	svc := notifications.NewService(&cfg)
	ctx := context.Background()

	if err := svc.NotifyGenerationFailed(ctx, "gen-1", "content policy rejected the prompt"); err != nil {
		t.Fatalf("NotifyGenerationFailed: %v", err)
	}
	if err := svc.NotifyQueueDrained(ctx, 3, 0, 95*time.Second); err != nil {
		t.Fatalf("NotifyQueueDrained: %v", err)
	}
	if err := svc.NotifyQueueDrained(ctx, 2, 1, time.Second); err != nil {
		t.Fatalf("NotifyQueueDrained with failures: %v", err)
	}
	if err := svc.TestNotification(ctx); err != nil {
		t.Fatalf("TestNotification: %v", err)
	}

	got := requests()
	if len(got) != 4 {
		t.Fatalf("expected 4 requests, got %d", len(got))
	}
	tests := []struct {
		title    string
		body     string
		tags     string
		priority string
	}{
		{"Atelier - Generation Failed", "Generation gen-1 failed: content policy rejected the prompt", "atelier,generation,failed", "high"},
		{"Atelier - Queue Complete", "Queue drained: 3 image(s) generated in 1m35s", "atelier,queue,completed", ""},
		{"Atelier - Queue Complete (with errors)", "Queue drained: 2 succeeded, 1 failed in 1s", "atelier,queue,completed", ""},
		{"Atelier - Test", "Notification system test", "atelier,test", "low"},
	}
	for i, want := range tests {
		if got[i].title != want.title || got[i].body != want.body || got[i].tags != want.tags || got[i].priority != want.priority {
			t.Fatalf("request %d = %+v, want %+v", i, got[i], want)
		}
	}
}

func TestNtfyServiceHonoursEventToggles(t *testing.T) {
	srv, requests := newNtfyServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.NotifyFailures = false
	cfg.Notifications.NotifyDrained = false
	svc := notifications.NewService(&cfg)
	ctx := context.Background()

	_ = svc.NotifyGenerationFailed(ctx, "gen-1", "boom")
	_ = svc.NotifyQueueDrained(ctx, 1, 0, time.Second)
	if n := len(requests()); n != 0 {
		t.Fatalf("expected disabled events to be skipped, got %d requests", n)
	}

	cfg.Notifications.NotifyDrained = true
	svc = notifications.NewService(&cfg)
	_ = svc.NotifyQueueDrained(ctx, 0, 0, time.Second)
	if n := len(requests()); n != 0 {
		t.Fatalf("an empty drain should not notify, got %d requests", n)
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv, _ := newNtfyServer(t, http.StatusForbidden)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)

	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
