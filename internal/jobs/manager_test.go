package jobs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"atelier/internal/generation"
	"atelier/internal/imagestore"
	"atelier/internal/jobs"
	"atelier/internal/queue"
	"atelier/internal/references"
	"atelier/internal/services"
	"atelier/internal/store"
	"atelier/internal/testsupport"
)

type fixture struct {
	db      *store.DB
	images  *imagestore.Local
	trigger *testsupport.CountingTrigger
	manager *jobs.Manager
	queue   *queue.Store
	gens    *generation.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	images, err := imagestore.NewLocal(cfg.Paths.ImageDir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	trigger := &testsupport.CountingTrigger{}
	manager := jobs.NewManager(cfg, db, images, nil,
		jobs.WithTrigger(trigger),
		jobs.WithReferences(references.NewResolver(cfg.Paths.ReferenceDir, cfg.Paths.UploadDir)),
	)
	return fixture{
		db:      db,
		images:  images,
		trigger: trigger,
		manager: manager,
		queue:   queue.NewStore(db.SQL()),
		gens:    generation.NewStore(db.SQL(), nil),
	}
}

// complete drives one submitted generation through processing by hand.
func (f fixture) complete(t *testing.T, item jobs.SubmittedItem, imageKey string) {
	t.Helper()
	ctx := context.Background()
	claimed, err := f.queue.ClaimNext(ctx)
	if err != nil || claimed == nil || claimed.ID != item.QueueID {
		t.Fatalf("ClaimNext = %+v, %v; want %s", claimed, err, item.QueueID)
	}
	if err := f.gens.UpdateStatus(ctx, item.GenerationID, generation.StatusGenerating, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	path, err := f.images.Save(ctx, imageKey, testsupport.PNG(t, 1), "image/png")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := f.gens.MarkCompleted(ctx, item.GenerationID, path); err != nil {
		t.Fatalf("MarkCompleted generation: %v", err)
	}
	if err := f.queue.MarkCompleted(ctx, item.QueueID); err != nil {
		t.Fatalf("MarkCompleted queue: %v", err)
	}
}

func (f fixture) submitOne(t *testing.T) jobs.SubmittedItem {
	t.Helper()
	res, err := f.manager.Submit(context.Background(), jobs.SubmitRequest{PromptJSON: `{"prompt":"fox"}`, Count: 1})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return res.Items[0]
}

func countRows(t *testing.T, db *store.DB, table string) int {
	t.Helper()
	var n int
	if err := db.SQL().QueryRow(`SELECT COUNT(1) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestSubmitBatchOfThree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.manager.Submit(ctx, jobs.SubmitRequest{
		PromptJSON:     `{"prompt":"a lighthouse","style":"ink"}`,
		ComponentsUsed: []string{"c1", " "},
		GoogleSearch:   true,
		Count:          3,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(res.Items) != 3 || res.Position != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.trigger.Calls() != 1 {
		t.Fatalf("expected one trigger, got %d", f.trigger.Calls())
	}
	seenGen := map[string]bool{}
	for i, item := range res.Items {
		if item.Status != queue.StatusQueued || item.QueueID == item.GenerationID || seenGen[item.GenerationID] {
			t.Fatalf("unexpected item %d: %+v", i, item)
		}
		seenGen[item.GenerationID] = true
		status, err := f.manager.QueueStatus(ctx, item.QueueID)
		if err != nil {
			t.Fatalf("QueueStatus: %v", err)
		}
		if status.Item.Position != i+1 || !status.Item.Options.GoogleSearch {
			t.Fatalf("item %d: position %d options %+v", i, status.Item.Position, status.Item.Options)
		}
		rec, err := f.manager.Generation(ctx, item.GenerationID)
		if err != nil {
			t.Fatalf("Generation: %v", err)
		}
		if rec.Status != generation.StatusPending || len(rec.ComponentsUsed) != 1 {
			t.Fatalf("unexpected record %+v", rec)
		}
	}

	summary, err := f.manager.QueueStatus(ctx, "")
	if err != nil {
		t.Fatalf("QueueStatus aggregate: %v", err)
	}
	if summary.Item != nil || summary.Queued != 3 || summary.Processing != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, prompt := range []string{"", "null", " null ", "[]", `"text"`, "{broken"} {
		if _, err := f.manager.Submit(ctx, jobs.SubmitRequest{PromptJSON: prompt, Count: 1}); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("prompt %q: expected validation error, got %v", prompt, err)
		}
	}
	if _, err := f.manager.Submit(ctx, jobs.SubmitRequest{PromptJSON: `{}`, ReferencePhotoIDs: []string{"ghost"}}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected missing reference rejected, got %v", err)
	}
	if got := countRows(t, f.db, "generations"); got != 0 {
		t.Fatalf("expected no rows after rejected submissions, got %d", got)
	}
	if f.trigger.Calls() != 0 {
		t.Fatalf("rejected submissions must not trigger, got %d", f.trigger.Calls())
	}
}

func TestSubmitClampsCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.manager.Submit(ctx, jobs.SubmitRequest{PromptJSON: `{}`, Count: 0})
	if err != nil || len(res.Items) != 1 {
		t.Fatalf("count 0: items=%d err=%v", len(res.Items), err)
	}
	res, err = f.manager.Submit(ctx, jobs.SubmitRequest{PromptJSON: `{}`, Count: 9})
	if err != nil || len(res.Items) != 4 {
		t.Fatalf("count 9: items=%d err=%v", len(res.Items), err)
	}
	if res.Position != 2 {
		t.Fatalf("second batch should start behind the first, got %d", res.Position)
	}
}

func TestDeleteQueueItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.submitOne(t)
	second := f.submitOne(t)

	if err := f.manager.DeleteQueueItem(ctx, second.QueueID); err != nil {
		t.Fatalf("DeleteQueueItem: %v", err)
	}
	status, err := f.manager.GenerationStatus(ctx, second.GenerationID)
	if err != nil {
		t.Fatalf("GenerationStatus: %v", err)
	}
	if status.Generation.Status != generation.StatusPending || status.QueueItem != nil {
		t.Fatalf("expected orphaned pending generation, got %+v", status)
	}
	if _, err := f.manager.QueueStatus(ctx, second.QueueID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected removed item not found, got %v", err)
	}

	if _, err := f.queue.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := f.manager.DeleteQueueItem(ctx, first.QueueID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for processing item, got %v", err)
	}
	if err := f.manager.DeleteQueueItem(ctx, queue.NewID()); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for unknown item, got %v", err)
	}
	if _, err := f.manager.QueueStatus(ctx, "bogus"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected malformed id rejected, got %v", err)
	}
}

func TestRemixValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := f.submitOne(t)

	tests := []struct {
		name string
		req  jobs.RemixRequest
		want error
	}{
		{"missing edit", jobs.RemixRequest{SourceID: pending.GenerationID, Mode: "fork"}, services.ErrValidation},
		{"unknown mode", jobs.RemixRequest{SourceID: pending.GenerationID, EditInstructions: "x", Mode: "merge"}, services.ErrValidation},
		{"unknown source", jobs.RemixRequest{SourceID: "nope", EditInstructions: "x"}, services.ErrNotFound},
		{"source not completed", jobs.RemixRequest{SourceID: pending.GenerationID, EditInstructions: "x"}, services.ErrValidation},
	}
	for _, tc := range tests {
		if _, err := f.manager.Remix(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestRemixForkAndReplace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.submitOne(t)
	f.complete(t, source, "source.png")

	fork, err := f.manager.Remix(ctx, jobs.RemixRequest{SourceID: source.GenerationID, EditInstructions: "add snow", Mode: "fork"})
	if err != nil {
		t.Fatalf("fork remix: %v", err)
	}
	child, err := f.manager.Generation(ctx, fork.Items[0].GenerationID)
	if err != nil {
		t.Fatalf("Generation: %v", err)
	}
	if child.ParentID != source.GenerationID || child.EditInstructions != "add snow" || child.IsHidden {
		t.Fatalf("unexpected fork child %+v", child)
	}
	lineage, err := f.manager.Lineage(ctx, child.ID)
	if err != nil || len(lineage) != 2 || lineage[1].ID != source.GenerationID {
		t.Fatalf("unexpected lineage %+v err=%v", lineage, err)
	}

	replace, err := f.manager.Remix(ctx, jobs.RemixRequest{SourceID: source.GenerationID, EditInstructions: "night", Mode: "replace", SafetyOverride: true})
	if err != nil {
		t.Fatalf("replace remix: %v", err)
	}
	if replace.Position != 2 {
		t.Fatalf("replace should queue behind fork, got position %d", replace.Position)
	}
	intermediate, err := f.manager.Generation(ctx, replace.Items[0].GenerationID)
	if err != nil {
		t.Fatalf("Generation: %v", err)
	}
	if intermediate.ParentID != "" || !intermediate.IsHidden {
		t.Fatalf("replace intermediate must be hidden without parent: %+v", intermediate)
	}
	status, err := f.manager.QueueStatus(ctx, replace.Items[0].QueueID)
	if err != nil {
		t.Fatalf("QueueStatus: %v", err)
	}
	opts := status.Item.Options
	if !opts.IsReplace() || opts.RemixSourceID != source.GenerationID || !opts.SafetyOverride || opts.EditInstructions != "night" {
		t.Fatalf("unexpected replace options %+v", opts)
	}
	if f.trigger.Calls() != 3 {
		t.Fatalf("expected trigger per commit, got %d", f.trigger.Calls())
	}
}

func TestDeleteGeneration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	done := f.submitOne(t)
	f.complete(t, done, "done.png")
	busy := f.submitOne(t)
	if _, err := f.queue.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	if err := f.manager.DeleteGeneration(ctx, busy.GenerationID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict while processing, got %v", err)
	}
	if err := f.manager.DeleteGeneration(ctx, done.GenerationID); err != nil {
		t.Fatalf("DeleteGeneration: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.images.Root(), "done.png")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected image removed, stat err=%v", err)
	}
	if _, err := f.manager.Generation(ctx, done.GenerationID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected deleted generation not found, got %v", err)
	}
	if err := f.manager.DeleteGeneration(ctx, done.GenerationID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected second delete not found, got %v", err)
	}
}

func TestHistoryAndActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.submitOne(t)
	f.submitOne(t)
	f.complete(t, first, "first.png")

	active, err := f.manager.Active(ctx)
	if err != nil || len(active.Items) != 1 || active.Metrics.QueuedCount != 1 {
		t.Fatalf("unexpected active view %+v err=%v", active, err)
	}
	page, err := f.manager.History(ctx, 1, 0, "completed")
	if err != nil || page.Total != 1 || page.Items[0].ID != first.QueueID || page.Limit != 20 {
		t.Fatalf("unexpected history %+v err=%v", page, err)
	}
	if _, err := f.manager.History(ctx, 1, 10, "running"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected unknown filter rejected, got %v", err)
	}
	health, err := f.manager.Health(ctx)
	if err != nil || health.Total != 2 || health.Completed != 1 {
		t.Fatalf("unexpected health %+v err=%v", health, err)
	}
}

func TestToggleFlagsAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.submitOne(t)
	b := f.submitOne(t)

	if fav, err := f.manager.ToggleFavorite(ctx, a.GenerationID); err != nil || !fav {
		t.Fatalf("ToggleFavorite = %v, %v", fav, err)
	}
	if hidden, err := f.manager.ToggleHidden(ctx, b.GenerationID); err != nil || !hidden {
		t.Fatalf("ToggleHidden = %v, %v", hidden, err)
	}
	visible, err := f.manager.ListGenerations(ctx, generation.ListFilter{})
	if err != nil || len(visible) != 1 || visible[0].ID != a.GenerationID {
		t.Fatalf("unexpected visible list %+v err=%v", visible, err)
	}
	if _, err := f.manager.ToggleFavorite(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
