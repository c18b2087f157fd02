package api_test

import (
	"encoding/json"
	"testing"
	"time"

	"atelier/internal/api"
	"atelier/internal/generation"
	"atelier/internal/jobs"
	"atelier/internal/preflight"
	"atelier/internal/queue"
	"atelier/internal/workflow"
)

func TestFromGenerationPassesPromptThrough(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &generation.Record{
		ID:         "gen-1",
		PromptJSON: `{"prompt":"a cat"}`,
		Status:     generation.StatusCompleted,
		ImagePath:  "q_1.png",
		ParentID:   "gen-0",
		IsFavorite: true,
		CreatedAt:  created,
	}
	dto := api.FromGeneration(rec)
	if dto.Status != "completed" || dto.ParentID != "gen-0" || !dto.IsFavorite {
		t.Fatalf("unexpected dto %+v", dto)
	}
	if dto.CreatedAt != "2026-03-01T12:00:00.000Z" {
		t.Fatalf("unexpected created_at %q", dto.CreatedAt)
	}
	if dto.UpdatedAt != "" {
		t.Fatalf("zero time should be omitted, got %q", dto.UpdatedAt)
	}

	raw, err := json.Marshal(dto)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	prompt, ok := decoded["prompt_json"].(map[string]any)
	if !ok || prompt["prompt"] != "a cat" {
		t.Fatalf("prompt should be embedded as an object, got %v", decoded["prompt_json"])
	}
}

func TestFromGenerationStatusBoundary(t *testing.T) {
	tests := []struct {
		name      string
		status    jobs.GenerationStatus
		wantImage string
		wantError string
		wantPos   int
	}{
		{
			name: "queued",
			status: jobs.GenerationStatus{
				Generation: &generation.Record{ID: "g", Status: generation.StatusPending},
				QueueItem:  &queue.Item{ID: "q_1", Status: queue.StatusQueued, Position: 3},
				Position:   3,
			},
			wantPos: 3,
		},
		{
			name: "completed",
			status: jobs.GenerationStatus{
				Generation: &generation.Record{ID: "g", Status: generation.StatusCompleted, ImagePath: "a.png"},
			},
			wantImage: "a.png",
		},
		{
			name: "failed",
			status: jobs.GenerationStatus{
				Generation: &generation.Record{ID: "g", Status: generation.StatusFailed, ErrorMessage: "blocked", ImagePath: "stale.png"},
			},
			wantError: "blocked",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := api.FromGenerationStatus(tt.status)
			if got.ImagePath != tt.wantImage || got.Error != tt.wantError || got.Position != tt.wantPos {
				t.Fatalf("unexpected response %+v", got)
			}
			if got.Status != string(tt.status.Generation.Status) {
				t.Fatalf("status = %q", got.Status)
			}
		})
	}
}

func TestSubmitRequestPromptText(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"prompt_json":{"prompt":"x"},"count":1}`, `{"prompt":"x"}`},
		{`{"prompt_json":"{\"prompt\":\"x\"}","count":1}`, `{"prompt":"x"}`},
		{`{"count":1}`, ``},
	}
	for _, tt := range tests {
		var req api.SubmitRequest
		if err := json.Unmarshal([]byte(tt.body), &req); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.body, err)
		}
		if got := req.PromptText(); got != tt.want {
			t.Fatalf("PromptText(%s) = %q, want %q", tt.body, got, tt.want)
		}
		if got := api.ToSubmitRequest(req).PromptJSON; got != tt.want {
			t.Fatalf("ToSubmitRequest prompt = %q", got)
		}
	}
}

func TestFromStatusSummary(t *testing.T) {
	summary := workflow.StatusSummary{
		Running:        true,
		QueueStats:     map[queue.Status]int{queue.StatusQueued: 2, queue.StatusFailed: 1},
		LastItem:       &queue.Item{ID: "q_last", Status: queue.StatusCompleted},
		Provider:       "fake",
		StorageBackend: "local",
		StorageHealthy: true,
	}
	got := api.FromStatusSummary(summary)
	if !got.Running || got.QueueStats["queued"] != 2 || got.QueueStats["failed"] != 1 {
		t.Fatalf("unexpected workflow status %+v", got)
	}
	if got.LastItem == nil || got.LastItem.ID != "q_last" {
		t.Fatalf("expected last item, got %+v", got.LastItem)
	}
}

func TestFromQueueViews(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	view := jobs.ActiveView{
		Items: []queue.Item{
			{ID: "q_a", Status: queue.StatusProcessing, StartedAt: &started, Attempts: 1},
			{ID: "q_b", Status: queue.StatusQueued, Position: 1, Options: queue.Options{RemixMode: queue.RemixFork, RemixSourceID: "g0"}},
		},
		Metrics: queue.Metrics{QueuedCount: 1, ProcessingCount: 1, AvgWait: 1500 * time.Millisecond},
	}
	got := api.FromActiveView(view)
	if len(got.Items) != 2 || got.Items[0].StartedAt == "" || got.Items[1].RemixMode != "fork" {
		t.Fatalf("unexpected items %+v", got.Items)
	}
	if got.Metrics.AvgWaitSeconds != 1.5 {
		t.Fatalf("avg wait = %v", got.Metrics.AvgWaitSeconds)
	}

	page := api.FromHistoryPage(queue.HistoryPage{Total: 0, Page: 1, Limit: 20})
	if page.Items == nil {
		t.Fatal("empty history should encode as an empty list")
	}
}

func TestFromCheckResultsSorted(t *testing.T) {
	got := api.FromCheckResults([]preflight.Result{
		{Name: "Upload directory", Passed: true},
		{Name: "Data directory", Passed: false, Detail: "missing"},
	})
	if len(got) != 2 || got[0].Name != "Data directory" || got[0].Detail != "missing" {
		t.Fatalf("unexpected checks %+v", got)
	}
}
