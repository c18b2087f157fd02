package workflow_test

import (
	"context"
	"testing"
	"time"

	"atelier/internal/config"
	"atelier/internal/generation"
	"atelier/internal/imagestore"
	"atelier/internal/jobs"
	"atelier/internal/metrics"
	"atelier/internal/queue"
	"atelier/internal/references"
	"atelier/internal/store"
	"atelier/internal/testsupport"
	"atelier/internal/workflow"
)

type harness struct {
	cfg      *config.Config
	db       *store.DB
	images   *imagestore.Local
	provider *testsupport.FakeProvider
	jobs     *jobs.Manager
	workflow *workflow.Manager
	metrics  *metrics.Registry
	queue    *queue.Store
	gens     *generation.Store
}

func newHarness(t *testing.T, prov *testsupport.FakeProvider, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	db := testsupport.MustOpenDB(t, cfg)
	images, err := imagestore.NewLocal(cfg.Paths.ImageDir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	refs := references.NewResolver(cfg.Paths.ReferenceDir, cfg.Paths.UploadDir)
	reg := metrics.New()
	wf := workflow.NewManager(cfg, db, prov, images, nil, workflow.WithReferences(refs), workflow.WithMetrics(reg))
	jm := jobs.NewManager(cfg, db, images, nil, jobs.WithTrigger(wf), jobs.WithReferences(refs))
	t.Cleanup(wf.Stop)
	return &harness{
		cfg:      cfg,
		db:       db,
		images:   images,
		provider: prov,
		jobs:     jm,
		workflow: wf,
		metrics:  reg,
		queue:    queue.NewStore(db.SQL()),
		gens:     generation.NewStore(db.SQL(), nil),
	}
}

func okProvider(t *testing.T, script ...testsupport.FakeResponse) *testsupport.FakeProvider {
	t.Helper()
	return testsupport.NewFakeProvider(testsupport.FakeResponse{Data: testsupport.PNG(t, 200), MIME: "image/png"}, script...)
}

func (h *harness) submit(t *testing.T, count int) jobs.SubmitResult {
	t.Helper()
	res, err := h.jobs.Submit(context.Background(), jobs.SubmitRequest{PromptJSON: `{"prompt":"harbour at dusk"}`, Count: count})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return res
}

func (h *harness) generation(t *testing.T, id string) *generation.Record {
	t.Helper()
	rec, err := h.gens.GetByID(context.Background(), id)
	if err != nil || rec == nil {
		t.Fatalf("GetByID(%s) = %v, %v", id, rec, err)
	}
	return rec
}

func (h *harness) item(t *testing.T, id string) *queue.Item {
	t.Helper()
	item, err := h.queue.GetByID(context.Background(), id)
	if err != nil || item == nil {
		t.Fatalf("queue GetByID(%s) = %v, %v", id, item, err)
	}
	return item
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	if err := h.workflow.ProcessQueue(context.Background()); err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
