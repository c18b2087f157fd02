package workflow_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"atelier/internal/generation"
	"atelier/internal/jobs"
	"atelier/internal/queue"
	"atelier/internal/services"
	"atelier/internal/testsupport"
)

func TestProcessQueueCompletesBatchInOrder(t *testing.T) {
	h := newHarness(t, okProvider(t))
	res := h.submit(t, 3)

	h.drain(t)

	requests := h.provider.Requests()
	if len(requests) != 3 {
		t.Fatalf("expected 3 provider calls, got %d", len(requests))
	}
	for i, item := range res.Items {
		if requests[i].QueueItemID != item.QueueID {
			t.Fatalf("call %d went to %s, want FIFO order %s", i, requests[i].QueueItemID, item.QueueID)
		}
		q := h.item(t, item.QueueID)
		if q.Status != queue.StatusCompleted || q.Attempts != 1 || q.CompletedAt == nil {
			t.Fatalf("item %d: %+v", i, q)
		}
		rec := h.generation(t, item.GenerationID)
		if rec.Status != generation.StatusCompleted || rec.ImagePath != item.QueueID+".png" {
			t.Fatalf("generation %d: status=%s path=%q", i, rec.Status, rec.ImagePath)
		}
		if _, err := os.Stat(filepath.Join(h.images.Root(), rec.ImagePath)); err != nil {
			t.Fatalf("expected image on disk: %v", err)
		}
	}
	if got := testutil.ToFloat64(h.metrics.ItemsProcessed.WithLabelValues("completed", "")); got != 3 {
		t.Fatalf("completed metric = %v, want 3", got)
	}
}

func TestOneFailureDoesNotBlockNext(t *testing.T) {
	prov := okProvider(t, testsupport.FakeResponse{
		Err: services.Wrap(services.ErrProvider, "provider", "generate", "status 503: overloaded", nil),
	})
	h := newHarness(t, prov)
	res := h.submit(t, 2)

	h.drain(t)

	failed := h.generation(t, res.Items[0].GenerationID)
	if failed.Status != generation.StatusFailed || failed.ErrorMessage != "status 503: overloaded" || failed.ImagePath != "" {
		t.Fatalf("unexpected failed generation %+v", failed)
	}
	if q := h.item(t, res.Items[0].QueueID); q.Status != queue.StatusFailed || q.Error != "status 503: overloaded" {
		t.Fatalf("unexpected failed item %+v", q)
	}
	if next := h.generation(t, res.Items[1].GenerationID); next.Status != generation.StatusCompleted {
		t.Fatalf("second item should complete, got %s", next.Status)
	}
	if len(prov.Requests()) != 2 {
		t.Fatalf("failed items must not be retried, got %d calls", len(prov.Requests()))
	}
}

func TestFailureKinds(t *testing.T) {
	tests := []struct {
		name    string
		resp    testsupport.FakeResponse
		kind    string
		message string
	}{
		{
			name:    "safety",
			resp:    testsupport.FakeResponse{Err: services.Wrap(services.ErrSafety, "provider", "generate", "blocked by safety filter", nil)},
			kind:    "safety",
			message: "blocked by safety filter",
		},
		{
			name:    "invalid image",
			resp:    testsupport.FakeResponse{Data: []byte("definitely not an image")},
			kind:    "invalid_image",
			message: "unsupported mime type",
		},
		{
			name:    "timeout",
			resp:    testsupport.FakeResponse{Err: services.Wrap(services.ErrTimeout, "provider", "generate", "request timed out", context.DeadlineExceeded)},
			kind:    "timeout",
			message: "request timed out",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, okProvider(t, tc.resp))
			res := h.submit(t, 1)
			h.drain(t)

			rec := h.generation(t, res.Items[0].GenerationID)
			if rec.Status != generation.StatusFailed || !strings.Contains(rec.ErrorMessage, tc.message) {
				t.Fatalf("unexpected record status=%s message=%q", rec.Status, rec.ErrorMessage)
			}
			if got := testutil.ToFloat64(h.metrics.ItemsProcessed.WithLabelValues("failed", tc.kind)); got != 1 {
				t.Fatalf("failed metric for %s = %v", tc.kind, got)
			}
		})
	}
}

func TestConcurrentProcessQueueKeepsOneInFlight(t *testing.T) {
	prov := okProvider(t)
	prov.Block = make(chan struct{})
	h := newHarness(t, prov)
	res := h.submit(t, 3)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.workflow.ProcessQueue(context.Background())
		}()
	}
	waitFor(t, "first provider call", func() bool { return prov.InFlight.Load() == 1 })

	stats, err := h.queue.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[queue.StatusProcessing] != 1 || stats[queue.StatusQueued] != 2 {
		t.Fatalf("expected exactly one processing item, got %+v", stats)
	}
	if !h.workflow.Draining() {
		t.Fatal("expected drain guard held")
	}

	close(prov.Block)
	wg.Wait()

	if peak := prov.MaxInFlight.Load(); peak != 1 {
		t.Fatalf("provider saw %d concurrent calls", peak)
	}
	for _, item := range res.Items {
		if q := h.item(t, item.QueueID); q.Status != queue.StatusCompleted {
			t.Fatalf("item %s left %s", item.QueueID, q.Status)
		}
	}
	if h.workflow.Draining() {
		t.Fatal("drain guard should be released")
	}
}

func TestTerminalItemsNeverReprocessed(t *testing.T) {
	h := newHarness(t, okProvider(t))
	res := h.submit(t, 1)
	h.drain(t)
	h.drain(t)

	if calls := len(h.provider.Requests()); calls != 1 {
		t.Fatalf("expected single provider call, got %d", calls)
	}
	ctx := context.Background()
	if err := h.queue.MarkFailed(ctx, res.Items[0].QueueID, "late"); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected terminal item immutable, got %v", err)
	}
	if err := h.gens.UpdateStatus(ctx, res.Items[0].GenerationID, generation.StatusFailed, "late"); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected completed generation immutable, got %v", err)
	}
}

func TestForkRemixSendsSourceAndKeepsLineage(t *testing.T) {
	sourceImage := testsupport.PNG(t, 11)
	forkImage := testsupport.PNG(t, 12)
	prov := okProvider(t,
		testsupport.FakeResponse{Data: sourceImage},
		testsupport.FakeResponse{Data: forkImage},
	)
	h := newHarness(t, prov)
	ctx := context.Background()
	source := h.submit(t, 1).Items[0]
	h.drain(t)

	fork, err := h.jobs.Remix(ctx, jobs.RemixRequest{SourceID: source.GenerationID, EditInstructions: "add fog", Mode: "fork"})
	if err != nil {
		t.Fatalf("Remix: %v", err)
	}
	h.drain(t)

	req := prov.Requests()[1]
	if req.Source == nil || !bytes.Equal(req.Source.Data, sourceImage) || req.EditInstructions != "add fog" {
		t.Fatalf("fork request missing source image or edit: %+v", req.Source)
	}
	child := h.generation(t, fork.Items[0].GenerationID)
	if child.Status != generation.StatusCompleted || child.ParentID != source.GenerationID {
		t.Fatalf("unexpected child %+v", child)
	}
	original := h.generation(t, source.GenerationID)
	if original.ImagePath != source.QueueID+".png" {
		t.Fatalf("fork must not touch its source, got %q", original.ImagePath)
	}
	lineage, err := h.jobs.Lineage(ctx, child.ID)
	if err != nil || len(lineage) != 2 {
		t.Fatalf("expected two-node lineage, got %d err=%v", len(lineage), err)
	}
}

func TestReplaceRemixOverwritesSource(t *testing.T) {
	oldImage := testsupport.PNG(t, 21)
	newImage := testsupport.PNG(t, 22)
	prov := okProvider(t,
		testsupport.FakeResponse{Data: oldImage},
		testsupport.FakeResponse{Data: newImage},
	)
	h := newHarness(t, prov)
	ctx := context.Background()
	source := h.submit(t, 1).Items[0]
	h.drain(t)
	oldPath := h.generation(t, source.GenerationID).ImagePath

	replace, err := h.jobs.Remix(ctx, jobs.RemixRequest{SourceID: source.GenerationID, EditInstructions: "make it winter", Mode: "replace"})
	if err != nil {
		t.Fatalf("Remix: %v", err)
	}
	h.drain(t)

	updated := h.generation(t, source.GenerationID)
	if updated.ImagePath != replace.Items[0].QueueID+".png" || updated.EditInstructions != "make it winter" {
		t.Fatalf("source not replaced: %+v", updated)
	}
	data, err := h.images.Read(ctx, updated.ImagePath)
	if err != nil || !bytes.Equal(data, newImage) {
		t.Fatalf("expected new image bytes at %s: %v", updated.ImagePath, err)
	}
	if _, err := os.Stat(filepath.Join(h.images.Root(), oldPath)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected previous image removed, stat err=%v", err)
	}

	intermediate := h.generation(t, replace.Items[0].GenerationID)
	if intermediate.Status != generation.StatusCompleted || intermediate.ImagePath != "" || !intermediate.IsHidden {
		t.Fatalf("unexpected intermediate %+v", intermediate)
	}
	lineage, err := h.jobs.Lineage(ctx, source.GenerationID)
	if err != nil || len(lineage) != 1 {
		t.Fatalf("replace must not add lineage nodes, got %d err=%v", len(lineage), err)
	}
}

func TestReplaceFailsWhenSourceDeleted(t *testing.T) {
	h := newHarness(t, okProvider(t))
	ctx := context.Background()
	source := h.submit(t, 1).Items[0]
	h.drain(t)
	replace, err := h.jobs.Remix(ctx, jobs.RemixRequest{SourceID: source.GenerationID, EditInstructions: "x", Mode: "replace"})
	if err != nil {
		t.Fatalf("Remix: %v", err)
	}
	if err := h.jobs.DeleteGeneration(ctx, source.GenerationID); err != nil {
		t.Fatalf("DeleteGeneration: %v", err)
	}
	h.drain(t)

	rec := h.generation(t, replace.Items[0].GenerationID)
	if rec.Status != generation.StatusFailed || !strings.Contains(rec.ErrorMessage, "no longer has an image") {
		t.Fatalf("unexpected intermediate %+v", rec)
	}
}

func TestReferencesForwardedToProvider(t *testing.T) {
	h := newHarness(t, okProvider(t))
	testsupport.WriteFile(t, filepath.Join(h.cfg.Paths.ReferenceDir, "face.png"), testsupport.PNG(t, 5))
	testsupport.WriteFile(t, filepath.Join(h.cfg.Paths.UploadDir, "sketch.png"), testsupport.PNG(t, 6))
	_, err := h.jobs.Submit(context.Background(), jobs.SubmitRequest{
		PromptJSON:           `{"prompt":"portrait"}`,
		ReferencePhotoIDs:    []string{"face"},
		InlineReferencePaths: []string{"sketch.png"},
		SafetyOverride:       true,
		GoogleSearch:         true,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.drain(t)

	req := h.provider.Requests()[0]
	if len(req.References) != 2 || req.References[0].Name != "face" || req.References[1].Name != "sketch.png" {
		t.Fatalf("unexpected references %+v", req.References)
	}
	if !req.SafetyOverride || !req.GoogleSearch {
		t.Fatalf("flags not forwarded: %+v", req)
	}
}

func TestDeletedQueueItemIsNeverProcessed(t *testing.T) {
	h := newHarness(t, okProvider(t))
	res := h.submit(t, 2)
	if err := h.jobs.DeleteQueueItem(context.Background(), res.Items[0].QueueID); err != nil {
		t.Fatalf("DeleteQueueItem: %v", err)
	}
	h.drain(t)

	if rec := h.generation(t, res.Items[0].GenerationID); rec.Status != generation.StatusPending {
		t.Fatalf("cancelled generation should stay pending, got %s", rec.Status)
	}
	requests := h.provider.Requests()
	if len(requests) != 1 || requests[0].QueueItemID != res.Items[1].QueueID {
		t.Fatalf("expected only the remaining item processed, got %d calls", len(requests))
	}
}
